package domain

import "errors"

var (
	ErrItemNotFound = errors.New("inventory item not found")

	ErrInsufficientQuantity = errors.New("quantity change would drop available below zero")

	// ErrNoCatalogMapping means the local part has no mapping to the target
	// provider's catalog identifier. Retrying cannot succeed without an
	// out-of-band catalog fix, so it is terminal at payload-construction time.
	ErrNoCatalogMapping = errors.New("no catalog mapping for provider")

	// ErrMessageStateChanged means a conditional outbox transition found the
	// message in a different state than expected: the claim CAS lost, or an
	// inflight completion raced a reclaim.
	ErrMessageStateChanged = errors.New("Message state changed")
)
