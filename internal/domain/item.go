package domain

import (
	"time"

	"github.com/google/uuid"
)

// Provider identifies one of the external marketplaces an item can be listed on.
type Provider string

const (
	ProviderBrickLink Provider = "bricklink"
	ProviderBrickOwl  Provider = "brickowl"
)

func ParseProvider(s string) (Provider, bool) {
	switch Provider(s) {
	case ProviderBrickLink, ProviderBrickOwl:
		return Provider(s), true
	}
	return "", false
}

type Condition string

const (
	ConditionNew  Condition = "N"
	ConditionUsed Condition = "U"
)

type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
	SyncFailed  SyncStatus = "failed"
)

// ProviderSyncState is the per-provider mirror freshness for one item.
// LastSyncedSeq is the high-water ledger mark already reflected remotely.
type ProviderSyncState struct {
	Status              SyncStatus
	LotID               string
	LastSyncAttemptUtc  *time.Time
	LastSyncedSeq       int64
	LastSyncedAvailable int
	LastError           string
}

// InventoryItem is the locally-authoritative inventory record. Local state is
// never rolled back by sync failures; only the remote mirrors lag.
type InventoryItem struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	PartNo       string
	ColorID      int
	Condition    Condition
	Available    int
	Reserved     int
	Sync         map[Provider]ProviderSyncState
	CreatedAtUtc time.Time
	UpdatedAtUtc time.Time
	DeletedAtUtc *time.Time
}

func NewInventoryItem(tenantID uuid.UUID, partNo string, colorID int, cond Condition, available int) *InventoryItem {
	now := time.Now().UTC()
	return &InventoryItem{
		ID:           uuid.New(),
		TenantID:     tenantID,
		PartNo:       partNo,
		ColorID:      colorID,
		Condition:    cond,
		Available:    available,
		Reserved:     0,
		Sync:         map[Provider]ProviderSyncState{},
		CreatedAtUtc: now,
		UpdatedAtUtc: now,
	}
}

// SyncFor returns the provider's sync state, zero-valued (status pending,
// seq 0, no lot) when the provider has never been projected for this item.
func (i *InventoryItem) SyncFor(p Provider) ProviderSyncState {
	if s, ok := i.Sync[p]; ok {
		return s
	}
	return ProviderSyncState{Status: SyncPending}
}

func (i *InventoryItem) Deleted() bool {
	return i.DeletedAtUtc != nil
}
