package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "pending"
	OutboxInflight  OutboxStatus = "inflight"
	OutboxSucceeded OutboxStatus = "succeeded"
	OutboxFailed    OutboxStatus = "failed"
)

type OutboxKind string

const (
	OutboxKindCreate OutboxKind = "create"
	OutboxKindUpdate OutboxKind = "update"
	OutboxKindDelete OutboxKind = "delete"
)

// OutboxMessage is a durable sync intent for one (item, provider) pair. At
// most one non-terminal message exists per pair; new local changes widen the
// ledger window of the existing message instead of creating a second row.
type OutboxMessage struct {
	ID               uuid.UUID
	ItemID           uuid.UUID
	Provider         Provider
	Kind             OutboxKind
	Status           OutboxStatus
	Attempt          int
	NextAttemptAtUtc time.Time
	FromSeqExclusive int64
	ToSeqInclusive   int64
	CreatedAtUtc     time.Time
	ClaimedAtUtc     *time.Time
	ProcessedAtUtc   *time.Time
	LastError        string
}

func (m *OutboxMessage) Terminal() bool {
	return m.Status == OutboxSucceeded || m.Status == OutboxFailed
}

// Widen extends the ledger window to cover newSeq. The window never shrinks,
// and a delete supersedes whatever kind the message carried before.
func (m *OutboxMessage) Widen(newSeq int64, kind OutboxKind) {
	if newSeq > m.ToSeqInclusive {
		m.ToSeqInclusive = newSeq
	}
	if kind == OutboxKindDelete {
		m.Kind = OutboxKindDelete
	}
}

// IdempotencyKey is stable across retries of the same window and changes when
// the window widens, since a widened window is a different request body.
func (m *OutboxMessage) IdempotencyKey() string {
	return fmt.Sprintf("%s:%d", m.ID, m.ToSeqInclusive)
}
