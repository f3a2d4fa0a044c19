package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ProviderSyncResult is one provider's dispatch outcome for an item, applied
// to the item's sync state by the projector.
type ProviderSyncResult struct {
	Provider            Provider
	Success             bool
	LotID               string
	Deleted             bool
	LastSyncedSeq       int64
	LastSyncedAvailable int
	Error               string
}

// ItemRepository owns the item aggregate. Every quantity mutation appends the
// next ledger entry and creates or widens the per-provider outbox messages in
// the same transaction; no partial visibility is possible.
type ItemRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*InventoryItem, error)

	// Insert stores a new item, writes ledger seq 1 with the initial quantity
	// and enqueues a create message per provider.
	Insert(ctx context.Context, item *InventoryItem, providers []Provider) (*QuantityLedgerEntry, error)

	// ApplyDelta shifts quantityAvailable by delta.
	ApplyDelta(ctx context.Context, itemID uuid.UUID, delta int, reason ChangeReason, providers []Provider) (*QuantityLedgerEntry, error)

	// SetAvailable moves quantityAvailable to an absolute target, computing
	// the delta under the same row lock that assigns the ledger seq.
	SetAvailable(ctx context.Context, itemID uuid.UUID, target int, reason ChangeReason, providers []Provider) (*QuantityLedgerEntry, error)

	// MarkDeleted soft-deletes the item, zeroes its quantity in the ledger and
	// enqueues delete messages.
	MarkDeleted(ctx context.Context, itemID uuid.UUID, providers []Provider) (*QuantityLedgerEntry, error)

	// ApplySyncResults projects dispatch outcomes into the per-provider sync
	// states. LastSyncedSeq never moves backwards.
	ApplySyncResults(ctx context.Context, itemID uuid.UUID, results []ProviderSyncResult) error
}

type LedgerRepository interface {
	// GetEntryAt returns the entry at exactly seq, or nil when absent.
	GetEntryAt(ctx context.Context, itemID uuid.UUID, seq int64) (*QuantityLedgerEntry, error)
	HeadSeq(ctx context.Context, itemID uuid.UUID) (int64, error)
	ListByItem(ctx context.Context, itemID uuid.UUID, limit int) ([]QuantityLedgerEntry, error)
}

type OutboxRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*OutboxMessage, error)

	// GetReady returns pending messages due at or before now, ordered by
	// next_attempt_at ascending.
	GetReady(ctx context.Context, now time.Time, limit int) ([]OutboxMessage, error)

	// Claim is the pending->inflight CAS. It succeeds only when the stored
	// message is pending at exactly expectedAttempt, returning the message as
	// stored at claim time (the window may have widened since it was read).
	// Any other state yields ErrMessageStateChanged.
	Claim(ctx context.Context, id uuid.UUID, expectedAttempt int) (*OutboxMessage, error)

	// Complete terminates an inflight message whose window was delivered up
	// to deliveredToSeq. If the window widened while inflight the row is
	// re-opened as pending with fromSeqExclusive advanced instead. A message
	// that is no longer inflight (reclaimed and finished by another worker)
	// yields ErrMessageStateChanged.
	Complete(ctx context.Context, id uuid.UUID, deliveredToSeq int64) error

	// Retry releases an inflight message for a future attempt.
	Retry(ctx context.Context, id uuid.UUID, newAttempt int, nextAttemptAt time.Time, lastError string) error

	// FailPermanently terminates an inflight message; only an operator
	// requeue or a new local change produces a fresh one. A message no longer
	// inflight yields ErrMessageStateChanged.
	FailPermanently(ctx context.Context, id uuid.UUID, lastError string) error

	// Reopen resets a failed message to pending (conflict resolution path).
	// It is a no-op when a newer non-terminal message already covers the pair.
	Reopen(ctx context.Context, id uuid.UUID) (bool, error)

	// Enqueue creates or widens the pair's non-terminal message outside a
	// quantity mutation (operator-triggered resync).
	Enqueue(ctx context.Context, itemID uuid.UUID, provider Provider, kind OutboxKind, fromSeq, toSeq int64) (*OutboxMessage, error)

	// RequeueStale resets inflight messages claimed before the cutoff back to
	// pending (crash recovery; the idempotency key makes redelivery safe).
	RequeueStale(ctx context.Context, claimedBefore time.Time) (int, error)

	// PruneSucceeded drops succeeded messages processed before the cutoff.
	PruneSucceeded(ctx context.Context, processedBefore time.Time) (int, error)
}

type ConflictRepository interface {
	Insert(ctx context.Context, c *SyncConflict) error
	GetByID(ctx context.Context, id uuid.UUID) (*SyncConflict, error)
	ListUnresolved(ctx context.Context, limit int) ([]SyncConflict, error)
	MarkResolved(ctx context.Context, id uuid.UUID) error
}

// CatalogResolver maps a local part to a provider-native catalog identifier.
// A missing mapping surfaces as ErrNoCatalogMapping.
type CatalogResolver interface {
	CatalogID(ctx context.Context, provider Provider, partNo string, colorID int) (string, error)
}

// ListingPayload is the provider-neutral input to a listing call. PrevQuantity
// carries a trusted previous-quantity baseline when one is known, letting
// delta-capable providers express the change relatively.
type ListingPayload struct {
	CatalogID    string
	ColorID      int
	Condition    Condition
	Quantity     int
	PrevQuantity *int
}

// AdapterResult is the closed outcome variant of a provider call. Err nil
// means success; ExternalID is set when a create produced a new listing.
type AdapterResult struct {
	ExternalID string
	Err        error
}

// ListingAdapter is the uniform surface over one marketplace. BuildPayload
// resolves provider prerequisites (catalog mapping, baselines) before any
// network call; Create/Update/Delete accept an idempotency key so a duplicate
// downstream call after a crash or reclaim is safe.
type ListingAdapter interface {
	Provider() Provider
	BuildPayload(ctx context.Context, item *InventoryItem, quantity int, state ProviderSyncState) (ListingPayload, error)
	Create(ctx context.Context, payload ListingPayload, idempotencyKey string) AdapterResult
	Update(ctx context.Context, lotID string, payload ListingPayload, idempotencyKey string) AdapterResult
	Delete(ctx context.Context, lotID string, idempotencyKey string) AdapterResult
}
