package sync

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/brickfolio/brickfolio-sync-go/internal/domain"
)

func TestRunOnce_ReclaimsStaleInflightAndDispatches(t *testing.T) {
	item := domain.NewInventoryItem(uuid.New(), "3001", 5, domain.ConditionNew, 10)
	adapter := &fakeAdapter{provider: domain.ProviderBrickLink, createRes: domain.AdapterResult{ExternalID: "lot-1"}}
	d, f := newFixture([]domain.ListingAdapter{adapter}, item)
	f.ledger.append(item.ID, 1, 10, 10)

	// A crash left this message inflight well past the reclaim cutoff.
	msg := pendingMessage(item.ID, domain.ProviderBrickLink, domain.OutboxKindCreate, 0, 1)
	stale := time.Now().UTC().Add(-time.Hour)
	msg.Status = domain.OutboxInflight
	msg.ClaimedAtUtc = &stale
	f.outbox.put(msg)

	s := NewScheduler(d, f.outbox, time.Second, testConfig())
	s.runOnce(context.Background())

	stored := f.outbox.get(msg.ID)
	assert.Equal(t, domain.OutboxSucceeded, stored.Status)
	assert.Equal(t, 1, adapter.creates)
}

func TestRunOnce_PrunesOldSucceededOnly(t *testing.T) {
	item := domain.NewInventoryItem(uuid.New(), "3001", 5, domain.ConditionNew, 10)
	d, f := newFixture(nil, item)

	old := pendingMessage(item.ID, domain.ProviderBrickLink, domain.OutboxKindUpdate, 0, 1)
	oldDone := time.Now().UTC().Add(-100 * time.Hour)
	old.Status = domain.OutboxSucceeded
	old.ProcessedAtUtc = &oldDone
	f.outbox.put(old)

	fresh := pendingMessage(item.ID, domain.ProviderBrickOwl, domain.OutboxKindUpdate, 0, 1)
	freshDone := time.Now().UTC().Add(-time.Hour)
	fresh.Status = domain.OutboxSucceeded
	fresh.ProcessedAtUtc = &freshDone
	f.outbox.put(fresh)

	failed := pendingMessage(item.ID, domain.ProviderBrickLink, domain.OutboxKindCreate, 0, 2)
	failed.Status = domain.OutboxFailed
	failedDone := oldDone
	failed.ProcessedAtUtc = &failedDone
	f.outbox.put(failed)

	s := NewScheduler(d, f.outbox, time.Second, testConfig())
	s.runOnce(context.Background())

	f.outbox.mu.Lock()
	_, oldExists := f.outbox.msgs[old.ID]
	_, freshExists := f.outbox.msgs[fresh.ID]
	_, failedExists := f.outbox.msgs[failed.ID]
	f.outbox.mu.Unlock()

	assert.False(t, oldExists, "succeeded message past retention is pruned")
	assert.True(t, freshExists, "recent succeeded message is kept")
	assert.True(t, failedExists, "failed messages are kept for the operator")
}

func TestStart_StopsOnContextCancel(t *testing.T) {
	item := domain.NewInventoryItem(uuid.New(), "3001", 5, domain.ConditionNew, 10)
	d, f := newFixture(nil, item)
	s := NewScheduler(d, f.outbox, 5*time.Millisecond, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	time.Sleep(20 * time.Millisecond)
	cancel()
	time.Sleep(10 * time.Millisecond)
}
