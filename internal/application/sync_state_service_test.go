package application

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rodolfodevapp/eventshop-messaging-go/core/primitives"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brickfolio/brickfolio-sync-go/internal/domain"
)

type mockPublisher struct {
	events []primitives.Event
	err    error
}

func (p *mockPublisher) Publish(_ context.Context, ev primitives.Event) error {
	p.events = append(p.events, ev)
	return p.err
}

func TestApply_ProjectsAndPublishes(t *testing.T) {
	repo := &mockItemRepo{}
	pub := &mockPublisher{}
	svc := NewSyncStateService(repo, pub)

	itemID := uuid.New()
	results := []domain.ProviderSyncResult{
		{Provider: domain.ProviderBrickLink, Success: true, LotID: "bl-1", LastSyncedSeq: 3, LastSyncedAvailable: 9},
		{Provider: domain.ProviderBrickOwl, Success: false, Error: "no such boid"},
	}

	require.NoError(t, svc.Apply(context.Background(), itemID, results))
	assert.Equal(t, results, repo.appliedResults)

	require.Len(t, pub.events, 2)
	synced, ok := pub.events[0].(*domain.ItemSyncedEvent)
	require.True(t, ok)
	assert.Equal(t, itemID, synced.ItemID)
	assert.Equal(t, "bl-1", synced.LotID)
	assert.Equal(t, int64(3), synced.SyncedSeq)
	assert.Equal(t, 9, synced.Available)

	failed, ok := pub.events[1].(*domain.ItemSyncFailedEvent)
	require.True(t, ok)
	assert.Equal(t, domain.ProviderBrickOwl, failed.Provider)
	assert.Equal(t, "no such boid", failed.Reason)
}

func TestApply_PublishFailureIsBestEffort(t *testing.T) {
	repo := &mockItemRepo{}
	pub := &mockPublisher{err: errors.New("broker down")}
	svc := NewSyncStateService(repo, pub)

	results := []domain.ProviderSyncResult{{Provider: domain.ProviderBrickLink, Success: true, LastSyncedSeq: 1}}
	assert.NoError(t, svc.Apply(context.Background(), uuid.New(), results))
	assert.NotNil(t, repo.appliedResults, "projection happens even when publishing fails")
}

func TestApply_ProjectionErrorStopsPublishing(t *testing.T) {
	repo := &mockItemRepo{err: errors.New("db down")}
	pub := &mockPublisher{}
	svc := NewSyncStateService(repo, pub)

	results := []domain.ProviderSyncResult{{Provider: domain.ProviderBrickLink, Success: true}}
	err := svc.Apply(context.Background(), uuid.New(), results)
	assert.Error(t, err)
	assert.Empty(t, pub.events)
}

func TestApply_EmptyResultsIsNoop(t *testing.T) {
	repo := &mockItemRepo{}
	pub := &mockPublisher{}
	svc := NewSyncStateService(repo, pub)

	require.NoError(t, svc.Apply(context.Background(), uuid.New(), nil))
	assert.Nil(t, repo.appliedResults)
	assert.Empty(t, pub.events)
}

func TestNewSyncStateService_NilPublisherDefaultsToNoop(t *testing.T) {
	svc := NewSyncStateService(&mockItemRepo{}, nil)
	results := []domain.ProviderSyncResult{{Provider: domain.ProviderBrickLink, Success: true}}
	assert.NoError(t, svc.Apply(context.Background(), uuid.New(), results))
}
