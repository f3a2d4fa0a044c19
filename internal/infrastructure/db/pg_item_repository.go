package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/brickfolio/brickfolio-sync-go/internal/domain"
)

type PgItemRepository struct {
	db *sql.DB
}

func NewPgItemRepository(db *sql.DB) *PgItemRepository {
	return &PgItemRepository{db: db}
}

func (r *PgItemRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.InventoryItem, error) {
	q := `
        select id, tenant_id, part_no, color_id, condition,
               quantity_available, quantity_reserved,
               created_at_utc, updated_at_utc, deleted_at_utc
        from inventory_items
        where id = $1
    `
	row := r.db.QueryRowContext(ctx, q, id)

	var item domain.InventoryItem
	var cond string
	var deletedAt sql.NullTime
	if err := row.Scan(
		&item.ID,
		&item.TenantID,
		&item.PartNo,
		&item.ColorID,
		&cond,
		&item.Available,
		&item.Reserved,
		&item.CreatedAtUtc,
		&item.UpdatedAtUtc,
		&deletedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "query inventory item")
	}
	item.Condition = domain.Condition(cond)
	if deletedAt.Valid {
		t := deletedAt.Time
		item.DeletedAtUtc = &t
	}

	sq := `
        select provider, status, coalesce(lot_id, ''),
               last_sync_attempt_utc, last_synced_seq, last_synced_available,
               last_error
        from item_provider_sync
        where item_id = $1
    `
	rows, err := r.db.QueryContext(ctx, sq, id)
	if err != nil {
		return nil, errors.Wrap(err, "query provider sync states")
	}
	defer rows.Close()

	item.Sync = map[domain.Provider]domain.ProviderSyncState{}
	for rows.Next() {
		var provider, status string
		var state domain.ProviderSyncState
		var attemptAt sql.NullTime
		if err := rows.Scan(
			&provider,
			&status,
			&state.LotID,
			&attemptAt,
			&state.LastSyncedSeq,
			&state.LastSyncedAvailable,
			&state.LastError,
		); err != nil {
			return nil, errors.Wrap(err, "scan provider sync state")
		}
		state.Status = domain.SyncStatus(status)
		if attemptAt.Valid {
			t := attemptAt.Time
			state.LastSyncAttemptUtc = &t
		}
		item.Sync[domain.Provider(provider)] = state
	}
	return &item, rows.Err()
}

func (r *PgItemRepository) Insert(
	ctx context.Context,
	item *domain.InventoryItem,
	providers []domain.Provider,
) (*domain.QuantityLedgerEntry, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin insert item")
	}
	defer tx.Rollback()

	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}

	q := `
        insert into inventory_items
        (id, tenant_id, part_no, color_id, condition,
         quantity_available, quantity_reserved, created_at_utc, updated_at_utc)
        values ($1,$2,$3,$4,$5,$6,$7,now(),now())
    `
	if _, err := tx.ExecContext(
		ctx, q,
		item.ID,
		item.TenantID,
		item.PartNo,
		item.ColorID,
		string(item.Condition),
		item.Available,
		item.Reserved,
	); err != nil {
		return nil, errors.Wrap(err, "insert inventory item")
	}

	entry, err := appendLedgerEntry(ctx, tx, item.ID, item.Available, item.Available, domain.ReasonCreated)
	if err != nil {
		return nil, err
	}

	for _, p := range providers {
		if err := enqueueForProvider(ctx, tx, item.ID, p, entry.Seq, false); err != nil {
			return nil, err
		}
	}

	return entry, tx.Commit()
}

func (r *PgItemRepository) ApplyDelta(
	ctx context.Context,
	itemID uuid.UUID,
	delta int,
	reason domain.ChangeReason,
	providers []domain.Provider,
) (*domain.QuantityLedgerEntry, error) {
	return r.applyChange(ctx, itemID, reason, providers, func(available int) (int, bool) {
		return available + delta, false
	})
}

func (r *PgItemRepository) SetAvailable(
	ctx context.Context,
	itemID uuid.UUID,
	target int,
	reason domain.ChangeReason,
	providers []domain.Provider,
) (*domain.QuantityLedgerEntry, error) {
	return r.applyChange(ctx, itemID, reason, providers, func(int) (int, bool) {
		return target, false
	})
}

func (r *PgItemRepository) MarkDeleted(
	ctx context.Context,
	itemID uuid.UUID,
	providers []domain.Provider,
) (*domain.QuantityLedgerEntry, error) {
	return r.applyChange(ctx, itemID, domain.ReasonDeleted, providers, func(int) (int, bool) {
		return 0, true
	})
}

// applyChange is the single atomic unit behind every quantity mutation: item
// row lock, quantity update, ledger append with the next seq, and
// create-or-widen of the per-provider outbox messages.
func (r *PgItemRepository) applyChange(
	ctx context.Context,
	itemID uuid.UUID,
	reason domain.ChangeReason,
	providers []domain.Provider,
	next func(available int) (post int, deleting bool),
) (*domain.QuantityLedgerEntry, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin quantity change")
	}
	defer tx.Rollback()

	var available int
	var deletedAt sql.NullTime
	lockQ := `
        select quantity_available, deleted_at_utc
        from inventory_items
        where id = $1
        for update
    `
	if err := tx.QueryRowContext(ctx, lockQ, itemID).Scan(&available, &deletedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrItemNotFound
		}
		return nil, errors.Wrap(err, "lock inventory item")
	}
	if deletedAt.Valid {
		return nil, domain.ErrItemNotFound
	}

	post, deleting := next(available)
	if post < 0 {
		return nil, domain.ErrInsufficientQuantity
	}

	var updErr error
	if deleting {
		_, updErr = tx.ExecContext(ctx, `
            update inventory_items
            set quantity_available = $2, updated_at_utc = now(), deleted_at_utc = now()
            where id = $1
        `, itemID, post)
	} else {
		_, updErr = tx.ExecContext(ctx, `
            update inventory_items
            set quantity_available = $2, updated_at_utc = now()
            where id = $1
        `, itemID, post)
	}
	if updErr != nil {
		return nil, errors.Wrap(updErr, "update inventory item")
	}

	entry, err := appendLedgerEntry(ctx, tx, itemID, post-available, post, reason)
	if err != nil {
		return nil, err
	}

	for _, p := range providers {
		if err := enqueueForProvider(ctx, tx, itemID, p, entry.Seq, deleting); err != nil {
			return nil, err
		}
	}

	return entry, tx.Commit()
}

func appendLedgerEntry(
	ctx context.Context,
	tx *sql.Tx,
	itemID uuid.UUID,
	delta, post int,
	reason domain.ChangeReason,
) (*domain.QuantityLedgerEntry, error) {
	entry := &domain.QuantityLedgerEntry{
		ID:            uuid.New(),
		ItemID:        itemID,
		Delta:         delta,
		PostAvailable: post,
		Reason:        reason,
		CreatedAtUtc:  time.Now().UTC(),
	}
	q := `
        insert into quantity_ledger (id, item_id, seq, delta, post_available, reason, created_at_utc)
        values ($1, $2,
                (select coalesce(max(seq), 0) + 1 from quantity_ledger where item_id = $2),
                $3, $4, $5, now())
        returning seq
    `
	if err := tx.QueryRowContext(
		ctx, q,
		entry.ID,
		itemID,
		delta,
		post,
		string(reason),
	).Scan(&entry.Seq); err != nil {
		return nil, errors.Wrap(err, "append ledger entry")
	}
	return entry, nil
}

// enqueueForProvider creates the pair's sync intent or widens the existing
// non-terminal one, and flags the provider state pending. fromSeqExclusive of
// a fresh message is the provider's current lastSyncedSeq.
func enqueueForProvider(
	ctx context.Context,
	tx *sql.Tx,
	itemID uuid.UUID,
	provider domain.Provider,
	newSeq int64,
	deleting bool,
) error {
	var lotID string
	var lastSyncedSeq int64
	stateQ := `
        select coalesce(lot_id, ''), last_synced_seq
        from item_provider_sync
        where item_id = $1 and provider = $2
    `
	err := tx.QueryRowContext(ctx, stateQ, itemID, string(provider)).Scan(&lotID, &lastSyncedSeq)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return errors.Wrap(err, "read provider sync state")
	}

	if _, err := tx.ExecContext(ctx, `
        insert into item_provider_sync (item_id, provider, status, last_synced_seq, last_synced_available, last_error)
        values ($1, $2, 'pending', 0, 0, '')
        on conflict (item_id, provider) do update set status = 'pending'
    `, itemID, string(provider)); err != nil {
		return errors.Wrap(err, "mark provider pending")
	}

	kind := domain.OutboxKindUpdate
	switch {
	case deleting:
		kind = domain.OutboxKindDelete
	case lotID == "":
		kind = domain.OutboxKindCreate
	}

	if _, err := tx.ExecContext(ctx, upsertOutboxSQL,
		uuid.New(),
		itemID,
		string(provider),
		string(kind),
		lastSyncedSeq,
		newSeq,
	); err != nil {
		return errors.Wrapf(err, "enqueue outbox message for %s", provider)
	}
	return nil
}

func (r *PgItemRepository) ApplySyncResults(
	ctx context.Context,
	itemID uuid.UUID,
	results []domain.ProviderSyncResult,
) error {
	if len(results) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin sync projection")
	}
	defer tx.Rollback()

	// Success rows carry the seq they delivered; a stale projection (delivered
	// seq behind the stored one) must not drag status or the snapshot
	// backwards, so every column except the attempt timestamp is guarded by
	// the same seq comparison greatest() answers for last_synced_seq.
	for _, res := range results {
		switch {
		case res.Success && res.Deleted:
			_, err = tx.ExecContext(ctx, `
                insert into item_provider_sync
                (item_id, provider, status, lot_id, last_sync_attempt_utc, last_synced_seq, last_synced_available, last_error)
                values ($1, $2, 'synced', null, now(), $3, 0, '')
                on conflict (item_id, provider) do update set
                    status = case when excluded.last_synced_seq >= item_provider_sync.last_synced_seq
                        then 'synced' else item_provider_sync.status end,
                    lot_id = case when excluded.last_synced_seq >= item_provider_sync.last_synced_seq
                        then null else item_provider_sync.lot_id end,
                    last_sync_attempt_utc = now(),
                    last_synced_seq = greatest(item_provider_sync.last_synced_seq, excluded.last_synced_seq),
                    last_synced_available = case when excluded.last_synced_seq >= item_provider_sync.last_synced_seq
                        then 0 else item_provider_sync.last_synced_available end,
                    last_error = case when excluded.last_synced_seq >= item_provider_sync.last_synced_seq
                        then '' else item_provider_sync.last_error end
            `, itemID, string(res.Provider), res.LastSyncedSeq)
		case res.Success:
			_, err = tx.ExecContext(ctx, `
                insert into item_provider_sync
                (item_id, provider, status, lot_id, last_sync_attempt_utc, last_synced_seq, last_synced_available, last_error)
                values ($1, $2, 'synced', nullif($3, ''), now(), $4, $5, '')
                on conflict (item_id, provider) do update set
                    status = case when excluded.last_synced_seq >= item_provider_sync.last_synced_seq
                        then 'synced' else item_provider_sync.status end,
                    lot_id = coalesce(nullif($3, ''), item_provider_sync.lot_id),
                    last_sync_attempt_utc = now(),
                    last_synced_seq = greatest(item_provider_sync.last_synced_seq, excluded.last_synced_seq),
                    last_synced_available = case when excluded.last_synced_seq >= item_provider_sync.last_synced_seq
                        then excluded.last_synced_available else item_provider_sync.last_synced_available end,
                    last_error = case when excluded.last_synced_seq >= item_provider_sync.last_synced_seq
                        then '' else item_provider_sync.last_error end
            `, itemID, string(res.Provider), res.LotID, res.LastSyncedSeq, res.LastSyncedAvailable)
		default:
			_, err = tx.ExecContext(ctx, `
                insert into item_provider_sync
                (item_id, provider, status, last_sync_attempt_utc, last_synced_seq, last_synced_available, last_error)
                values ($1, $2, 'failed', now(), 0, 0, $3)
                on conflict (item_id, provider) do update set
                    status = 'failed',
                    last_sync_attempt_utc = now(),
                    last_error = $3
            `, itemID, string(res.Provider), res.Error)
		}
		if err != nil {
			return errors.Wrapf(err, "project sync result for %s", res.Provider)
		}
	}

	return tx.Commit()
}
