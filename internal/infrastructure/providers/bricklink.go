package providers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/brickfolio/brickfolio-sync-go/internal/domain"
)

// BrickLinkAdapter talks to the BrickLink store inventory API. BrickLink only
// accepts absolute quantities, so updates always carry the ledger snapshot
// value regardless of any known baseline.
type BrickLinkAdapter struct {
	baseURL string
	token   string
	client  *http.Client
	limiter RateLimiter
}

func NewBrickLinkAdapter(baseURL, token string, timeout time.Duration, limiter RateLimiter) *BrickLinkAdapter {
	if limiter == nil {
		limiter = Unlimited()
	}
	return &BrickLinkAdapter{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
	}
}

func (a *BrickLinkAdapter) Provider() domain.Provider {
	return domain.ProviderBrickLink
}

// BuildPayload uses the local part number directly; BrickLink is the native
// catalog, so the only precondition is that the part number exists at all.
func (a *BrickLinkAdapter) BuildPayload(
	_ context.Context,
	item *domain.InventoryItem,
	quantity int,
	_ domain.ProviderSyncState,
) (domain.ListingPayload, error) {
	if item.PartNo == "" {
		return domain.ListingPayload{}, errors.Wrap(domain.ErrNoCatalogMapping, "item has no part number")
	}
	return domain.ListingPayload{
		CatalogID: item.PartNo,
		ColorID:   item.ColorID,
		Condition: item.Condition,
		Quantity:  quantity,
	}, nil
}

type blItem struct {
	No   string `json:"no"`
	Type string `json:"type"`
}

type blInventoryRequest struct {
	Item      blItem `json:"item"`
	ColorID   int    `json:"color_id"`
	Quantity  int    `json:"quantity"`
	NewOrUsed string `json:"new_or_used"`
}

type blInventoryResponse struct {
	Data struct {
		InventoryID int64 `json:"inventory_id"`
	} `json:"data"`
}

func (a *BrickLinkAdapter) headers(idempotencyKey string) map[string]string {
	return map[string]string{
		"Authorization":   "Bearer " + a.token,
		"Idempotency-Key": idempotencyKey,
	}
}

func (a *BrickLinkAdapter) Create(
	ctx context.Context,
	p domain.ListingPayload,
	idempotencyKey string,
) domain.AdapterResult {
	if err := a.limiter.Allow(ctx, string(domain.ProviderBrickLink)); err != nil {
		return domain.AdapterResult{Err: err}
	}
	body := blInventoryRequest{
		Item:      blItem{No: p.CatalogID, Type: "PART"},
		ColorID:   p.ColorID,
		Quantity:  p.Quantity,
		NewOrUsed: string(p.Condition),
	}
	var resp blInventoryResponse
	err := doJSON(ctx, a.client, "bricklink", http.MethodPost,
		a.baseURL+"/inventories", a.headers(idempotencyKey), body, &resp)
	if err != nil {
		return domain.AdapterResult{Err: err}
	}
	return domain.AdapterResult{ExternalID: fmt.Sprintf("%d", resp.Data.InventoryID)}
}

func (a *BrickLinkAdapter) Update(
	ctx context.Context,
	lotID string,
	p domain.ListingPayload,
	idempotencyKey string,
) domain.AdapterResult {
	if err := a.limiter.Allow(ctx, string(domain.ProviderBrickLink)); err != nil {
		return domain.AdapterResult{Err: err}
	}
	body := map[string]int{"quantity": p.Quantity}
	err := doJSON(ctx, a.client, "bricklink", http.MethodPut,
		a.baseURL+"/inventories/"+lotID, a.headers(idempotencyKey), body, nil)
	if err != nil {
		return domain.AdapterResult{Err: err}
	}
	return domain.AdapterResult{ExternalID: lotID}
}

func (a *BrickLinkAdapter) Delete(
	ctx context.Context,
	lotID string,
	idempotencyKey string,
) domain.AdapterResult {
	if err := a.limiter.Allow(ctx, string(domain.ProviderBrickLink)); err != nil {
		return domain.AdapterResult{Err: err}
	}
	err := doJSON(ctx, a.client, "bricklink", http.MethodDelete,
		a.baseURL+"/inventories/"+lotID, a.headers(idempotencyKey), nil, nil)
	if err != nil {
		return domain.AdapterResult{Err: err}
	}
	return domain.AdapterResult{}
}
