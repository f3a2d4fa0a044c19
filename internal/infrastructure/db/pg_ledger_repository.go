package db

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/brickfolio/brickfolio-sync-go/internal/domain"
)

type PgLedgerRepository struct {
	db *sql.DB
}

func NewPgLedgerRepository(db *sql.DB) *PgLedgerRepository {
	return &PgLedgerRepository{db: db}
}

func (r *PgLedgerRepository) GetEntryAt(
	ctx context.Context,
	itemID uuid.UUID,
	seq int64,
) (*domain.QuantityLedgerEntry, error) {
	q := `
        select id, item_id, seq, delta, post_available, reason, created_at_utc
        from quantity_ledger
        where item_id = $1 and seq = $2
    `
	row := r.db.QueryRowContext(ctx, q, itemID, seq)
	var e domain.QuantityLedgerEntry
	var reason string
	if err := row.Scan(&e.ID, &e.ItemID, &e.Seq, &e.Delta, &e.PostAvailable, &reason, &e.CreatedAtUtc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "query ledger entry")
	}
	e.Reason = domain.ChangeReason(reason)
	return &e, nil
}

func (r *PgLedgerRepository) HeadSeq(ctx context.Context, itemID uuid.UUID) (int64, error) {
	var head int64
	q := `select coalesce(max(seq), 0) from quantity_ledger where item_id = $1`
	if err := r.db.QueryRowContext(ctx, q, itemID).Scan(&head); err != nil {
		return 0, errors.Wrap(err, "query ledger head")
	}
	return head, nil
}

func (r *PgLedgerRepository) ListByItem(
	ctx context.Context,
	itemID uuid.UUID,
	limit int,
) ([]domain.QuantityLedgerEntry, error) {
	q := `
        select id, item_id, seq, delta, post_available, reason, created_at_utc
        from quantity_ledger
        where item_id = $1
        order by seq desc
        limit $2
    `
	rows, err := r.db.QueryContext(ctx, q, itemID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query ledger entries")
	}
	defer rows.Close()

	var result []domain.QuantityLedgerEntry
	for rows.Next() {
		var e domain.QuantityLedgerEntry
		var reason string
		if err := rows.Scan(&e.ID, &e.ItemID, &e.Seq, &e.Delta, &e.PostAvailable, &reason, &e.CreatedAtUtc); err != nil {
			return nil, errors.Wrap(err, "scan ledger entry")
		}
		e.Reason = domain.ChangeReason(reason)
		result = append(result, e)
	}
	return result, rows.Err()
}
