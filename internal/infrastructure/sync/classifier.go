package sync

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/brickfolio/brickfolio-sync-go/internal/domain"
	"github.com/brickfolio/brickfolio-sync-go/internal/infrastructure/providers"
)

// Class is the outcome category driving what happens to a message after a
// failed provider call.
type Class int

const (
	// ClassTransient retries with backoff, bounded by the attempt budget.
	ClassTransient Class = iota
	// ClassPermanent is terminal; only a new local change or operator action
	// re-enqueues.
	ClassPermanent
	// ClassConflict is terminal for automation and records a conflict for
	// manual reconciliation.
	ClassConflict
	// ClassPrecondition is permanent-at-once: retrying cannot succeed without
	// an out-of-band fix (e.g. a missing catalog mapping).
	ClassPrecondition
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	case ClassConflict:
		return "conflict"
	case ClassPrecondition:
		return "precondition"
	}
	return "unknown"
}

// Classify maps a provider call error to its class. Rate limits, 5xx and
// network trouble are transient; 409 and version/etag mismatches are
// conflicts; the client-error statuses are permanent. Unknown errors default
// to transient so a novel failure mode gets the benefit of bounded retries.
func Classify(err error) Class {
	if err == nil {
		return ClassTransient
	}

	if errors.Is(err, domain.ErrNoCatalogMapping) {
		return ClassPrecondition
	}
	if errors.Is(err, providers.ErrRateLimited) {
		return ClassTransient
	}

	var apiErr *providers.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429 || apiErr.StatusCode >= 500:
			return ClassTransient
		case apiErr.StatusCode == 409 || isVersionMismatch(apiErr.Message):
			return ClassConflict
		case apiErr.StatusCode == 400 || apiErr.StatusCode == 401 ||
			apiErr.StatusCode == 403 || apiErr.StatusCode == 404:
			return ClassPermanent
		default:
			return ClassPermanent
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTransient
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return ClassTransient
	}

	return ClassTransient
}

// ClassifyPayloadErr handles failures raised before any network call. Local
// validation never gets retried: it is either a missing precondition or a
// permanent payload problem.
func ClassifyPayloadErr(err error) Class {
	if errors.Is(err, domain.ErrNoCatalogMapping) {
		return ClassPrecondition
	}
	return ClassPermanent
}

func isVersionMismatch(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "version mismatch") ||
		strings.Contains(m, "etag") ||
		strings.Contains(m, "stale version")
}
