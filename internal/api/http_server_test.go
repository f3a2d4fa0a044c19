package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brickfolio/brickfolio-sync-go/internal/application"
	"github.com/brickfolio/brickfolio-sync-go/internal/config"
	"github.com/brickfolio/brickfolio-sync-go/internal/domain"
	syncinfra "github.com/brickfolio/brickfolio-sync-go/internal/infrastructure/sync"
)

// Minimal in-memory item repository backing the real application services.
type fakeItems struct {
	items map[uuid.UUID]*domain.InventoryItem
	seqs  map[uuid.UUID]int64
}

func newFakeItems() *fakeItems {
	return &fakeItems{items: map[uuid.UUID]*domain.InventoryItem{}, seqs: map[uuid.UUID]int64{}}
}

func (f *fakeItems) nextSeq(itemID uuid.UUID) int64 {
	f.seqs[itemID]++
	return f.seqs[itemID]
}

func (f *fakeItems) GetByID(_ context.Context, id uuid.UUID) (*domain.InventoryItem, error) {
	return f.items[id], nil
}

func (f *fakeItems) Insert(_ context.Context, item *domain.InventoryItem, _ []domain.Provider) (*domain.QuantityLedgerEntry, error) {
	f.items[item.ID] = item
	return &domain.QuantityLedgerEntry{ItemID: item.ID, Seq: f.nextSeq(item.ID), Delta: item.Available, PostAvailable: item.Available}, nil
}

func (f *fakeItems) ApplyDelta(_ context.Context, itemID uuid.UUID, delta int, _ domain.ChangeReason, _ []domain.Provider) (*domain.QuantityLedgerEntry, error) {
	item, ok := f.items[itemID]
	if !ok {
		return nil, domain.ErrItemNotFound
	}
	if item.Available+delta < 0 {
		return nil, domain.ErrInsufficientQuantity
	}
	item.Available += delta
	return &domain.QuantityLedgerEntry{ItemID: itemID, Seq: f.nextSeq(itemID), Delta: delta, PostAvailable: item.Available}, nil
}

func (f *fakeItems) SetAvailable(_ context.Context, itemID uuid.UUID, target int, _ domain.ChangeReason, _ []domain.Provider) (*domain.QuantityLedgerEntry, error) {
	item, ok := f.items[itemID]
	if !ok {
		return nil, domain.ErrItemNotFound
	}
	delta := target - item.Available
	item.Available = target
	return &domain.QuantityLedgerEntry{ItemID: itemID, Seq: f.nextSeq(itemID), Delta: delta, PostAvailable: target}, nil
}

func (f *fakeItems) MarkDeleted(_ context.Context, itemID uuid.UUID, _ []domain.Provider) (*domain.QuantityLedgerEntry, error) {
	item, ok := f.items[itemID]
	if !ok {
		return nil, domain.ErrItemNotFound
	}
	now := time.Now().UTC()
	item.DeletedAtUtc = &now
	item.Available = 0
	return &domain.QuantityLedgerEntry{ItemID: itemID, Seq: f.nextSeq(itemID), PostAvailable: 0}, nil
}

func (f *fakeItems) ApplySyncResults(context.Context, uuid.UUID, []domain.ProviderSyncResult) error {
	return nil
}

type fakeLedger struct {
	entries []domain.QuantityLedgerEntry
}

func (f *fakeLedger) GetEntryAt(context.Context, uuid.UUID, int64) (*domain.QuantityLedgerEntry, error) {
	return nil, nil
}

func (f *fakeLedger) HeadSeq(context.Context, uuid.UUID) (int64, error) {
	var head int64
	for _, e := range f.entries {
		if e.Seq > head {
			head = e.Seq
		}
	}
	return head, nil
}

func (f *fakeLedger) ListByItem(context.Context, uuid.UUID, int) ([]domain.QuantityLedgerEntry, error) {
	return f.entries, nil
}

type fakeOutbox struct {
	domain.OutboxRepository
}

func (fakeOutbox) GetReady(context.Context, time.Time, int) ([]domain.OutboxMessage, error) {
	return nil, nil
}

func (fakeOutbox) Enqueue(_ context.Context, itemID uuid.UUID, provider domain.Provider, kind domain.OutboxKind, fromSeq, toSeq int64) (*domain.OutboxMessage, error) {
	return &domain.OutboxMessage{
		ID: uuid.New(), ItemID: itemID, Provider: provider, Kind: kind,
		Status: domain.OutboxPending, FromSeqExclusive: fromSeq, ToSeqInclusive: toSeq,
	}, nil
}

type fakeConflicts struct {
	domain.ConflictRepository
}

func (fakeConflicts) ListUnresolved(context.Context, int) ([]domain.SyncConflict, error) {
	return nil, nil
}

func (fakeConflicts) GetByID(context.Context, uuid.UUID) (*domain.SyncConflict, error) {
	return nil, nil
}

func newTestServer(items *fakeItems, ledger *fakeLedger) *httptest.Server {
	providers := []domain.Provider{domain.ProviderBrickLink, domain.ProviderBrickOwl}
	quantitySvc := application.NewQuantityService(items, providers)
	resyncSvc := application.NewResyncService(items, ledger, fakeOutbox{}, fakeConflicts{})
	dispatcher := syncinfra.NewDispatcher(
		fakeOutbox{}, items, ledger, fakeConflicts{}, application.NewSyncStateService(items, nil),
		nil, syncinfra.Config{ExternalCallsEnabled: true, BatchSize: 10, MaxAttempts: 3},
	)

	mux := http.NewServeMux()
	NewServer(config.Config{}, quantitySvc, resyncSvc, ledger, dispatcher).RegisterRoutes(mux)
	return httptest.NewServer(mux)
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func TestHealth(t *testing.T) {
	srv := newTestServer(newFakeItems(), &fakeLedger{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestSwaggerJson(t *testing.T) {
	srv := newTestServer(newFakeItems(), &fakeLedger{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/swagger.json")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var doc map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	assert.Equal(t, "3.0.0", doc["openapi"])
	paths, ok := doc["paths"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, paths, "/api/items/{id}/adjust")
	assert.Contains(t, paths, "/api/sync/run")
}

func TestCreateAndGetItem(t *testing.T) {
	srv := newTestServer(newFakeItems(), &fakeLedger{})
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/items", map[string]any{
		"tenantId":  uuid.New(),
		"partNo":    "3001",
		"colorId":   5,
		"condition": "N",
		"available": 10,
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created itemResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, "3001", created.PartNo)
	assert.Equal(t, 10, created.Available)

	getResp, err := http.Get(srv.URL + "/api/items/" + created.ID.String())
	require.NoError(t, err)
	defer getResp.Body.Close()
	assert.Equal(t, http.StatusOK, getResp.StatusCode)
}

func TestCreateItem_BadRequest(t *testing.T) {
	srv := newTestServer(newFakeItems(), &fakeLedger{})
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/items", map[string]any{"partNo": ""})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetItem_NotFound(t *testing.T) {
	srv := newTestServer(newFakeItems(), &fakeLedger{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/items/" + uuid.NewString())
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdjust_DeltaAndQuantityAreExclusive(t *testing.T) {
	items := newFakeItems()
	srv := newTestServer(items, &fakeLedger{})
	defer srv.Close()

	item := domain.NewInventoryItem(uuid.New(), "3001", 5, domain.ConditionNew, 10)
	items.items[item.ID] = item

	// Both set.
	resp := postJSON(t, srv.URL+"/api/items/"+item.ID.String()+"/adjust", map[string]any{"delta": 1, "quantity": 5})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Neither set.
	resp = postJSON(t, srv.URL+"/api/items/"+item.ID.String()+"/adjust", map[string]any{})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Delta alone works.
	resp = postJSON(t, srv.URL+"/api/items/"+item.ID.String()+"/adjust", map[string]any{"delta": -3})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var adj adjustResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&adj))
	assert.Equal(t, 7, adj.PostAvailable)
}

func TestAdjust_BelowZeroIsConflict(t *testing.T) {
	items := newFakeItems()
	srv := newTestServer(items, &fakeLedger{})
	defer srv.Close()

	item := domain.NewInventoryItem(uuid.New(), "3001", 5, domain.ConditionNew, 2)
	items.items[item.ID] = item

	resp := postJSON(t, srv.URL+"/api/items/"+item.ID.String()+"/adjust", map[string]any{"delta": -5})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestDeleteItem(t *testing.T) {
	items := newFakeItems()
	srv := newTestServer(items, &fakeLedger{})
	defer srv.Close()

	item := domain.NewInventoryItem(uuid.New(), "3001", 5, domain.ConditionNew, 2)
	items.items[item.ID] = item

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/items/"+item.ID.String(), nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.True(t, item.Deleted())
}

func TestSyncRun_EmptyBacklog(t *testing.T) {
	srv := newTestServer(newFakeItems(), &fakeLedger{})
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/sync/run", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Zero(t, out["processed"])
}

func TestSyncRequeue(t *testing.T) {
	items := newFakeItems()
	ledger := &fakeLedger{entries: []domain.QuantityLedgerEntry{{Seq: 3, PostAvailable: 7}}}
	srv := newTestServer(items, ledger)
	defer srv.Close()

	item := domain.NewInventoryItem(uuid.New(), "3001", 5, domain.ConditionNew, 7)
	item.Sync[domain.ProviderBrickLink] = domain.ProviderSyncState{Status: domain.SyncFailed, LotID: "lot-1", LastSyncedSeq: 1}
	items.items[item.ID] = item

	resp := postJSON(t, srv.URL+"/api/sync/requeue", map[string]any{"itemId": item.ID, "provider": "bricklink"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	bad := postJSON(t, srv.URL+"/api/sync/requeue", map[string]any{"itemId": item.ID, "provider": "ebay"})
	bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestResolveConflict_InvalidID(t *testing.T) {
	srv := newTestServer(newFakeItems(), &fakeLedger{})
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/sync/conflicts/not-a-uuid/resolve", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
