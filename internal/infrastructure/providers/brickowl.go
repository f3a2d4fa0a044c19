package providers

import (
	"context"
	"net/http"
	"time"

	"github.com/brickfolio/brickfolio-sync-go/internal/domain"
)

// BrickOwlAdapter talks to the BrickOwl inventory API. BrickOwl addresses
// parts by its own BOID, resolved through the catalog mapping table, and
// supports relative quantity updates when a trusted baseline is known.
type BrickOwlAdapter struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter RateLimiter
	catalog domain.CatalogResolver
}

func NewBrickOwlAdapter(
	baseURL, apiKey string,
	timeout time.Duration,
	limiter RateLimiter,
	catalog domain.CatalogResolver,
) *BrickOwlAdapter {
	if limiter == nil {
		limiter = Unlimited()
	}
	return &BrickOwlAdapter{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
		catalog: catalog,
	}
}

func (a *BrickOwlAdapter) Provider() domain.Provider {
	return domain.ProviderBrickOwl
}

// BuildPayload resolves the BOID before any network call; a missing mapping
// fails the message permanently right here. The previous-quantity baseline is
// only trusted when the last dispatch for this provider actually synced.
func (a *BrickOwlAdapter) BuildPayload(
	ctx context.Context,
	item *domain.InventoryItem,
	quantity int,
	state domain.ProviderSyncState,
) (domain.ListingPayload, error) {
	boid, err := a.catalog.CatalogID(ctx, domain.ProviderBrickOwl, item.PartNo, item.ColorID)
	if err != nil {
		return domain.ListingPayload{}, err
	}
	p := domain.ListingPayload{
		CatalogID: boid,
		ColorID:   item.ColorID,
		Condition: item.Condition,
		Quantity:  quantity,
	}
	if state.Status == domain.SyncSynced && state.LotID != "" {
		prev := state.LastSyncedAvailable
		p.PrevQuantity = &prev
	}
	return p, nil
}

type owlCreateRequest struct {
	Boid      string `json:"boid"`
	Quantity  int    `json:"quantity"`
	Condition string `json:"condition"`
}

type owlUpdateRequest struct {
	LotID            string `json:"lot_id"`
	RelativeQuantity *int   `json:"relative_quantity,omitempty"`
	AbsoluteQuantity *int   `json:"absolute_quantity,omitempty"`
}

type owlResponse struct {
	LotID string `json:"lot_id"`
}

func owlCondition(c domain.Condition) string {
	if c == domain.ConditionUsed {
		return "usedg"
	}
	return "new"
}

func (a *BrickOwlAdapter) headers(idempotencyKey string) map[string]string {
	return map[string]string{
		"X-Api-Key":         a.apiKey,
		"X-Idempotency-Key": idempotencyKey,
	}
}

func (a *BrickOwlAdapter) Create(
	ctx context.Context,
	p domain.ListingPayload,
	idempotencyKey string,
) domain.AdapterResult {
	if err := a.limiter.Allow(ctx, string(domain.ProviderBrickOwl)); err != nil {
		return domain.AdapterResult{Err: err}
	}
	body := owlCreateRequest{
		Boid:      p.CatalogID,
		Quantity:  p.Quantity,
		Condition: owlCondition(p.Condition),
	}
	var resp owlResponse
	err := doJSON(ctx, a.client, "brickowl", http.MethodPost,
		a.baseURL+"/inventory/create", a.headers(idempotencyKey), body, &resp)
	if err != nil {
		return domain.AdapterResult{Err: err}
	}
	return domain.AdapterResult{ExternalID: resp.LotID}
}

// Update prefers a relative delta against the synced baseline, falling back
// to an absolute write when no reliable baseline exists.
func (a *BrickOwlAdapter) Update(
	ctx context.Context,
	lotID string,
	p domain.ListingPayload,
	idempotencyKey string,
) domain.AdapterResult {
	if err := a.limiter.Allow(ctx, string(domain.ProviderBrickOwl)); err != nil {
		return domain.AdapterResult{Err: err}
	}
	body := owlUpdateRequest{LotID: lotID}
	if p.PrevQuantity != nil {
		rel := p.Quantity - *p.PrevQuantity
		body.RelativeQuantity = &rel
	} else {
		abs := p.Quantity
		body.AbsoluteQuantity = &abs
	}
	err := doJSON(ctx, a.client, "brickowl", http.MethodPost,
		a.baseURL+"/inventory/update", a.headers(idempotencyKey), body, nil)
	if err != nil {
		return domain.AdapterResult{Err: err}
	}
	return domain.AdapterResult{ExternalID: lotID}
}

func (a *BrickOwlAdapter) Delete(
	ctx context.Context,
	lotID string,
	idempotencyKey string,
) domain.AdapterResult {
	if err := a.limiter.Allow(ctx, string(domain.ProviderBrickOwl)); err != nil {
		return domain.AdapterResult{Err: err}
	}
	body := map[string]string{"lot_id": lotID}
	err := doJSON(ctx, a.client, "brickowl", http.MethodPost,
		a.baseURL+"/inventory/delete", a.headers(idempotencyKey), body, nil)
	if err != nil {
		return domain.AdapterResult{Err: err}
	}
	return domain.AdapterResult{}
}
