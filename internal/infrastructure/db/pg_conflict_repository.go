package db

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/brickfolio/brickfolio-sync-go/internal/domain"
)

type PgConflictRepository struct {
	db *sql.DB
}

func NewPgConflictRepository(db *sql.DB) *PgConflictRepository {
	return &PgConflictRepository{db: db}
}

func (r *PgConflictRepository) Insert(ctx context.Context, c *domain.SyncConflict) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	q := `
        insert into sync_conflicts (id, message_id, item_id, provider, detail, created_at_utc)
        values ($1, $2, $3, $4, $5, now())
    `
	_, err := r.db.ExecContext(ctx, q, c.ID, c.MessageID, c.ItemID, string(c.Provider), c.Detail)
	return errors.Wrap(err, "insert sync conflict")
}

func (r *PgConflictRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.SyncConflict, error) {
	q := `
        select id, message_id, item_id, provider, detail, created_at_utc, resolved_at_utc
        from sync_conflicts
        where id = $1
    `
	row := r.db.QueryRowContext(ctx, q, id)
	c, err := scanConflict(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "query sync conflict")
	}
	return c, nil
}

func (r *PgConflictRepository) ListUnresolved(
	ctx context.Context,
	limit int,
) ([]domain.SyncConflict, error) {
	q := `
        select id, message_id, item_id, provider, detail, created_at_utc, resolved_at_utc
        from sync_conflicts
        where resolved_at_utc is null
        order by created_at_utc asc
        limit $1
    `
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query sync conflicts")
	}
	defer rows.Close()

	var result []domain.SyncConflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan sync conflict")
		}
		result = append(result, *c)
	}
	return result, rows.Err()
}

func (r *PgConflictRepository) MarkResolved(ctx context.Context, id uuid.UUID) error {
	q := `
        update sync_conflicts
        set resolved_at_utc = now()
        where id = $1 and resolved_at_utc is null
    `
	_, err := r.db.ExecContext(ctx, q, id)
	return errors.Wrap(err, "resolve sync conflict")
}

func scanConflict(row interface{ Scan(...any) error }) (*domain.SyncConflict, error) {
	var c domain.SyncConflict
	var provider string
	var resolvedAt sql.NullTime
	if err := row.Scan(&c.ID, &c.MessageID, &c.ItemID, &provider, &c.Detail, &c.CreatedAtUtc, &resolvedAt); err != nil {
		return nil, err
	}
	c.Provider = domain.Provider(provider)
	if resolvedAt.Valid {
		t := resolvedAt.Time
		c.ResolvedAtUtc = &t
	}
	return &c, nil
}
