package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/rodolfodevapp/eventshop-messaging-go/core/primitives"
)

// Integration events published after sync outcomes are projected, so other
// services (catalog, search) can track remote listing freshness.

type ItemSyncedEvent struct {
	primitives.BaseEvent
	ItemID      uuid.UUID `json:"itemId"`
	Provider    Provider  `json:"provider"`
	LotID       string    `json:"lotId"`
	Available   int       `json:"available"`
	SyncedSeq   int64     `json:"syncedSeq"`
	SyncedAtUtc time.Time `json:"syncedAtUtc"`
}

func NewItemSyncedEvent(itemID uuid.UUID, provider Provider, lotID string, available int, syncedSeq int64) *ItemSyncedEvent {
	ev := &ItemSyncedEvent{
		BaseEvent:   primitives.NewBaseEvent(),
		ItemID:      itemID,
		Provider:    provider,
		LotID:       lotID,
		Available:   available,
		SyncedSeq:   syncedSeq,
		SyncedAtUtc: time.Now().UTC(),
	}
	ev.SetRoutingKey("ItemSynced")
	return ev
}

type ItemSyncFailedEvent struct {
	primitives.BaseEvent
	ItemID      uuid.UUID `json:"itemId"`
	Provider    Provider  `json:"provider"`
	Reason      string    `json:"reason"`
	FailedAtUtc time.Time `json:"failedAtUtc"`
}

func NewItemSyncFailedEvent(itemID uuid.UUID, provider Provider, reason string) *ItemSyncFailedEvent {
	ev := &ItemSyncFailedEvent{
		BaseEvent:   primitives.NewBaseEvent(),
		ItemID:      itemID,
		Provider:    provider,
		Reason:      reason,
		FailedAtUtc: time.Now().UTC(),
	}
	ev.SetRoutingKey("ItemSyncFailed")
	return ev
}
