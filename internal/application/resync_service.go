package application

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/brickfolio/brickfolio-sync-go/internal/domain"
)

var ErrNothingToSync = errors.New("provider is already up to date")

var ErrConflictNotFound = errors.New("sync conflict not found")

// ResyncService covers the operator paths: re-enqueueing a failed
// (item, provider) pair and resolving recorded conflicts.
type ResyncService struct {
	items     domain.ItemRepository
	ledger    domain.LedgerRepository
	outbox    domain.OutboxRepository
	conflicts domain.ConflictRepository
}

func NewResyncService(
	items domain.ItemRepository,
	ledger domain.LedgerRepository,
	outbox domain.OutboxRepository,
	conflicts domain.ConflictRepository,
) *ResyncService {
	return &ResyncService{items: items, ledger: ledger, outbox: outbox, conflicts: conflicts}
}

// Requeue enqueues a fresh sync intent covering everything not yet reflected
// remotely. The create-or-widen upsert keeps the one-non-terminal invariant
// if a pending message already exists for the pair.
func (s *ResyncService) Requeue(
	ctx context.Context,
	itemID uuid.UUID,
	provider domain.Provider,
) (*domain.OutboxMessage, error) {
	item, err := s.items.GetByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrItemNotFound
	}

	head, err := s.ledger.HeadSeq(ctx, itemID)
	if err != nil {
		return nil, err
	}

	state := item.SyncFor(provider)
	if state.LastSyncedSeq >= head && !item.Deleted() {
		return nil, ErrNothingToSync
	}

	kind := domain.OutboxKindUpdate
	switch {
	case item.Deleted():
		kind = domain.OutboxKindDelete
	case state.LotID == "":
		kind = domain.OutboxKindCreate
	}

	msg, err := s.outbox.Enqueue(ctx, itemID, provider, kind, state.LastSyncedSeq, head)
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("itemId", itemID.String()).
		Str("provider", string(provider)).
		Str("messageId", msg.ID.String()).
		Int64("fromSeq", msg.FromSeqExclusive).
		Int64("toSeq", msg.ToSeqInclusive).
		Msg("sync requeued")
	return msg, nil
}

// ResolveConflict marks the conflict resolved and reopens its message for
// dispatch. The message stays terminal if a newer non-terminal message
// already covers the pair.
func (s *ResyncService) ResolveConflict(ctx context.Context, conflictID uuid.UUID) error {
	c, err := s.conflicts.GetByID(ctx, conflictID)
	if err != nil {
		return err
	}
	if c == nil {
		return ErrConflictNotFound
	}
	if c.Resolved() {
		return nil
	}

	if err := s.conflicts.MarkResolved(ctx, conflictID); err != nil {
		return err
	}
	reopened, err := s.outbox.Reopen(ctx, c.MessageID)
	if err != nil {
		return err
	}
	log.Info().
		Str("conflictId", conflictID.String()).
		Str("messageId", c.MessageID.String()).
		Bool("reopened", reopened).
		Msg("sync conflict resolved")
	return nil
}

func (s *ResyncService) ListConflicts(ctx context.Context, limit int) ([]domain.SyncConflict, error) {
	return s.conflicts.ListUnresolved(ctx, limit)
}
