package domain

import (
	"time"

	"github.com/google/uuid"
)

type ChangeReason string

const (
	ReasonCreated        ChangeReason = "CREATED"
	ReasonManualAdjust   ChangeReason = "MANUAL_ADJUST"
	ReasonOrderFulfilled ChangeReason = "ORDER_FULFILLED"
	ReasonUndo           ChangeReason = "UNDO"
	ReasonDeleted        ChangeReason = "DELETED"
)

// QuantityLedgerEntry is one row of the append-only quantity log. Seq is
// assigned atomically at write time and is strictly increasing per item.
// Entries are never updated or deleted.
type QuantityLedgerEntry struct {
	ID            uuid.UUID
	ItemID        uuid.UUID
	Seq           int64
	Delta         int
	PostAvailable int
	Reason        ChangeReason
	CreatedAtUtc  time.Time
}
