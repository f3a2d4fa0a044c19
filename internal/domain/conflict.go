package domain

import (
	"time"

	"github.com/google/uuid"
)

// SyncConflict records a provider-reported state mismatch (version/etag style)
// that needs human reconciliation before the message may run again.
type SyncConflict struct {
	ID            uuid.UUID
	MessageID     uuid.UUID
	ItemID        uuid.UUID
	Provider      Provider
	Detail        string
	CreatedAtUtc  time.Time
	ResolvedAtUtc *time.Time
}

func NewSyncConflict(msg *OutboxMessage, detail string) *SyncConflict {
	return &SyncConflict{
		ID:           uuid.New(),
		MessageID:    msg.ID,
		ItemID:       msg.ItemID,
		Provider:     msg.Provider,
		Detail:       detail,
		CreatedAtUtc: time.Now().UTC(),
	}
}

func (c *SyncConflict) Resolved() bool {
	return c.ResolvedAtUtc != nil
}

func (c *SyncConflict) MarkResolved() {
	if c.ResolvedAtUtc != nil {
		return
	}
	now := time.Now().UTC()
	c.ResolvedAtUtc = &now
}
