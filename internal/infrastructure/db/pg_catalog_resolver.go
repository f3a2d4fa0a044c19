package db

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/brickfolio/brickfolio-sync-go/internal/domain"
)

// PgCatalogResolver reads the cross-catalog identifier table maintained by
// the catalog reference pipeline. A missing row is a permanent precondition
// failure for the requesting provider, not a retryable error.
type PgCatalogResolver struct {
	db *sql.DB
}

func NewPgCatalogResolver(db *sql.DB) *PgCatalogResolver {
	return &PgCatalogResolver{db: db}
}

func (r *PgCatalogResolver) CatalogID(
	ctx context.Context,
	provider domain.Provider,
	partNo string,
	colorID int,
) (string, error) {
	q := `
        select catalog_id
        from provider_catalog_map
        where provider = $1 and part_no = $2 and color_id = $3
    `
	var catalogID string
	err := r.db.QueryRowContext(ctx, q, string(provider), partNo, colorID).Scan(&catalogID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errors.Wrapf(domain.ErrNoCatalogMapping, "%s %s color %d", provider, partNo, colorID)
	}
	if err != nil {
		return "", errors.Wrap(err, "query catalog mapping")
	}
	return catalogID, nil
}
