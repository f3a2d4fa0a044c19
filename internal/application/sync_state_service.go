package application

import (
	"context"

	"github.com/google/uuid"
	"github.com/rodolfodevapp/eventshop-messaging-go/core/primitives"
	"github.com/rs/zerolog/log"

	"github.com/brickfolio/brickfolio-sync-go/internal/domain"
)

// EventPublisher is the outbound bus for sync outcome notifications.
type EventPublisher interface {
	Publish(ctx context.Context, ev primitives.Event) error
}

// NoopPublisher is used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, primitives.Event) error { return nil }

// SyncStateService is the sync-state projector: it applies per-provider
// dispatch outcomes to the item's ProviderSyncState and publishes outcome
// events. Publishing is best effort; the projection is the source of truth.
type SyncStateService struct {
	items     domain.ItemRepository
	publisher EventPublisher
}

func NewSyncStateService(items domain.ItemRepository, publisher EventPublisher) *SyncStateService {
	if publisher == nil {
		publisher = NoopPublisher{}
	}
	return &SyncStateService{items: items, publisher: publisher}
}

func (s *SyncStateService) Apply(
	ctx context.Context,
	itemID uuid.UUID,
	results []domain.ProviderSyncResult,
) error {
	if len(results) == 0 {
		return nil
	}
	if err := s.items.ApplySyncResults(ctx, itemID, results); err != nil {
		return err
	}

	for _, r := range results {
		var ev primitives.Event
		if r.Success {
			ev = domain.NewItemSyncedEvent(itemID, r.Provider, r.LotID, r.LastSyncedAvailable, r.LastSyncedSeq)
		} else {
			ev = domain.NewItemSyncFailedEvent(itemID, r.Provider, r.Error)
		}
		if err := s.publisher.Publish(ctx, ev); err != nil {
			log.Warn().
				Err(err).
				Str("itemId", itemID.String()).
				Str("provider", string(r.Provider)).
				Msg("failed to publish sync outcome event")
		}
	}
	return nil
}
