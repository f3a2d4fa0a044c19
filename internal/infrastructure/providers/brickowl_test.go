package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brickfolio/brickfolio-sync-go/internal/domain"
)

type staticCatalog struct {
	boid string
	err  error
}

func (c staticCatalog) CatalogID(context.Context, domain.Provider, string, int) (string, error) {
	return c.boid, c.err
}

func newOwlServer(t *testing.T, catalog domain.CatalogResolver, handler http.HandlerFunc) *BrickOwlAdapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewBrickOwlAdapter(srv.URL, "owl-key", 5*time.Second, nil, catalog)
}

func TestBrickOwlBuildPayload_BaselineOnlyWhenSynced(t *testing.T) {
	adapter := NewBrickOwlAdapter("http://unused", "k", time.Second, nil, staticCatalog{boid: "owl-3001"})
	item := domain.NewInventoryItem(uuid.New(), "3001", 5, domain.ConditionNew, 12)

	// Last dispatch synced with a known lot: the baseline is trusted.
	synced := domain.ProviderSyncState{Status: domain.SyncSynced, LotID: "lot-1", LastSyncedAvailable: 12}
	p, err := adapter.BuildPayload(context.Background(), item, 9, synced)
	require.NoError(t, err)
	assert.Equal(t, "owl-3001", p.CatalogID)
	require.NotNil(t, p.PrevQuantity)
	assert.Equal(t, 12, *p.PrevQuantity)

	// Failed or never-synced providers get no baseline.
	failed := domain.ProviderSyncState{Status: domain.SyncFailed, LotID: "lot-1", LastSyncedAvailable: 12}
	p, err = adapter.BuildPayload(context.Background(), item, 9, failed)
	require.NoError(t, err)
	assert.Nil(t, p.PrevQuantity)

	p, err = adapter.BuildPayload(context.Background(), item, 9, domain.ProviderSyncState{Status: domain.SyncPending})
	require.NoError(t, err)
	assert.Nil(t, p.PrevQuantity)
}

func TestBrickOwlBuildPayload_MissingMapping(t *testing.T) {
	mappingErr := errors.Wrap(domain.ErrNoCatalogMapping, "brickowl boid for 3001/5")
	adapter := NewBrickOwlAdapter("http://unused", "k", time.Second, nil, staticCatalog{err: mappingErr})
	item := domain.NewInventoryItem(uuid.New(), "3001", 5, domain.ConditionNew, 12)

	_, err := adapter.BuildPayload(context.Background(), item, 12, domain.ProviderSyncState{})
	assert.ErrorIs(t, err, domain.ErrNoCatalogMapping)
}

func TestBrickOwlCreate(t *testing.T) {
	var gotBody owlCreateRequest
	var gotKey, gotIdem string
	adapter := newOwlServer(t, staticCatalog{boid: "owl-3001"}, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/inventory/create", r.URL.Path)
		gotKey = r.Header.Get("X-Api-Key")
		gotIdem = r.Header.Get("X-Idempotency-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(`{"lot_id":"owl-lot-55"}`))
	})

	payload := domain.ListingPayload{CatalogID: "owl-3001", Condition: domain.ConditionUsed, Quantity: 7}
	res := adapter.Create(context.Background(), payload, "msg:2")

	require.NoError(t, res.Err)
	assert.Equal(t, "owl-lot-55", res.ExternalID)
	assert.Equal(t, "owl-key", gotKey)
	assert.Equal(t, "msg:2", gotIdem)
	assert.Equal(t, "owl-3001", gotBody.Boid)
	assert.Equal(t, 7, gotBody.Quantity)
	assert.Equal(t, "usedg", gotBody.Condition)
}

func TestBrickOwlUpdate_RelativeDeltaAgainstBaseline(t *testing.T) {
	var gotBody owlUpdateRequest
	adapter := newOwlServer(t, staticCatalog{boid: "owl-3001"}, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/inventory/update", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	})

	// 12 -> 9 expressed as a relative change of -3.
	prev := 12
	payload := domain.ListingPayload{CatalogID: "owl-3001", Quantity: 9, PrevQuantity: &prev}
	res := adapter.Update(context.Background(), "owl-lot-55", payload, "k")

	require.NoError(t, res.Err)
	assert.Equal(t, "owl-lot-55", gotBody.LotID)
	require.NotNil(t, gotBody.RelativeQuantity)
	assert.Equal(t, -3, *gotBody.RelativeQuantity)
	assert.Nil(t, gotBody.AbsoluteQuantity)
}

func TestBrickOwlUpdate_AbsoluteWithoutBaseline(t *testing.T) {
	var gotBody owlUpdateRequest
	adapter := newOwlServer(t, staticCatalog{boid: "owl-3001"}, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	})

	payload := domain.ListingPayload{CatalogID: "owl-3001", Quantity: 9}
	res := adapter.Update(context.Background(), "owl-lot-55", payload, "k")

	require.NoError(t, res.Err)
	assert.Nil(t, gotBody.RelativeQuantity)
	require.NotNil(t, gotBody.AbsoluteQuantity)
	assert.Equal(t, 9, *gotBody.AbsoluteQuantity)
}

func TestBrickOwlDelete(t *testing.T) {
	var gotBody map[string]string
	adapter := newOwlServer(t, staticCatalog{boid: "owl-3001"}, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/inventory/delete", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	})

	res := adapter.Delete(context.Background(), "owl-lot-55", "k")
	require.NoError(t, res.Err)
	assert.Equal(t, "owl-lot-55", gotBody["lot_id"])
}

func TestBrickOwl_ErrorFieldParsed(t *testing.T) {
	adapter := newOwlServer(t, staticCatalog{boid: "owl-3001"}, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"lot version mismatch"}`))
	})

	res := adapter.Update(context.Background(), "owl-lot-55", domain.ListingPayload{Quantity: 1}, "k")
	require.Error(t, res.Err)

	var apiErr *APIError
	require.True(t, errors.As(res.Err, &apiErr))
	assert.Equal(t, 409, apiErr.StatusCode)
	assert.Equal(t, "lot version mismatch", apiErr.Message)
	assert.Equal(t, "brickowl", apiErr.Provider)
}
