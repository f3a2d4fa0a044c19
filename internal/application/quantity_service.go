package application

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/brickfolio/brickfolio-sync-go/internal/domain"
)

// QuantityService fronts every operation that changes quantityAvailable.
// Each mutation goes through the item repository as one atomic unit: item
// update, ledger append and per-provider outbox create-or-widen.
type QuantityService struct {
	items     domain.ItemRepository
	providers []domain.Provider
}

func NewQuantityService(items domain.ItemRepository, providers []domain.Provider) *QuantityService {
	return &QuantityService{items: items, providers: providers}
}

func (s *QuantityService) CreateItem(
	ctx context.Context,
	tenantID uuid.UUID,
	partNo string,
	colorID int,
	cond domain.Condition,
	available int,
) (*domain.InventoryItem, error) {
	if tenantID == uuid.Nil {
		return nil, errors.New("missing tenantId")
	}
	if partNo == "" {
		return nil, errors.New("missing partNo")
	}
	if available < 0 {
		return nil, errors.New("initial quantity must not be negative")
	}
	if cond != domain.ConditionNew && cond != domain.ConditionUsed {
		return nil, errors.New("condition must be N or U")
	}

	item := domain.NewInventoryItem(tenantID, partNo, colorID, cond, available)
	entry, err := s.items.Insert(ctx, item, s.providers)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("itemId", item.ID.String()).
		Str("partNo", partNo).
		Int64("seq", entry.Seq).
		Int("available", available).
		Msg("inventory item created")
	return item, nil
}

// Adjust shifts the available quantity by delta (order fulfillment,
// compensating undo). Sync failures never roll this back; the ledger entry is
// authoritative history.
func (s *QuantityService) Adjust(
	ctx context.Context,
	itemID uuid.UUID,
	delta int,
	reason domain.ChangeReason,
) (*domain.QuantityLedgerEntry, error) {
	if delta == 0 {
		return nil, errors.New("delta must not be zero")
	}
	entry, err := s.items.ApplyDelta(ctx, itemID, delta, reason, s.providers)
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("itemId", itemID.String()).
		Int64("seq", entry.Seq).
		Int("delta", delta).
		Int("postAvailable", entry.PostAvailable).
		Str("reason", string(reason)).
		Msg("quantity adjusted")
	return entry, nil
}

// SetQuantity moves the available quantity to an absolute target (manual
// edit); the delta is computed under the mutation's row lock.
func (s *QuantityService) SetQuantity(
	ctx context.Context,
	itemID uuid.UUID,
	target int,
) (*domain.QuantityLedgerEntry, error) {
	if target < 0 {
		return nil, errors.New("target quantity must not be negative")
	}
	entry, err := s.items.SetAvailable(ctx, itemID, target, domain.ReasonManualAdjust, s.providers)
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("itemId", itemID.String()).
		Int64("seq", entry.Seq).
		Int("postAvailable", entry.PostAvailable).
		Msg("quantity set")
	return entry, nil
}

// DeleteItem soft-deletes the item and enqueues provider delete messages.
func (s *QuantityService) DeleteItem(ctx context.Context, itemID uuid.UUID) error {
	entry, err := s.items.MarkDeleted(ctx, itemID, s.providers)
	if err != nil {
		return err
	}
	log.Info().
		Str("itemId", itemID.String()).
		Int64("seq", entry.Seq).
		Msg("inventory item deleted")
	return nil
}

func (s *QuantityService) GetItem(ctx context.Context, itemID uuid.UUID) (*domain.InventoryItem, error) {
	item, err := s.items.GetByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrItemNotFound
	}
	return item, nil
}
