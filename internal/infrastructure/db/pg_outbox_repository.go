package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/brickfolio/brickfolio-sync-go/internal/domain"
)

// upsertOutboxSQL enforces the one-non-terminal-message-per-pair invariant:
// the partial unique index on (item_id, provider) over pending/inflight rows
// turns a second enqueue into a widen of the existing window. A delete
// supersedes the stored kind; the window never shrinks.
const upsertOutboxSQL = `
    insert into outbox_messages
    (id, item_id, provider, kind, status, attempt, next_attempt_at_utc,
     from_seq_exclusive, to_seq_inclusive, created_at_utc, last_error)
    values ($1, $2, $3, $4, 'pending', 0, now(), $5, $6, now(), '')
    on conflict (item_id, provider) where status in ('pending', 'inflight')
    do update set
        to_seq_inclusive = greatest(outbox_messages.to_seq_inclusive, excluded.to_seq_inclusive),
        kind = case when excluded.kind = 'delete' then 'delete' else outbox_messages.kind end
`

const selectOutboxColumns = `
    select id, item_id, provider, kind, status, attempt, next_attempt_at_utc,
           from_seq_exclusive, to_seq_inclusive, created_at_utc,
           claimed_at_utc, processed_at_utc, last_error
    from outbox_messages
`

type PgOutboxRepository struct {
	db *sql.DB
}

func NewPgOutboxRepository(db *sql.DB) *PgOutboxRepository {
	return &PgOutboxRepository{db: db}
}

func scanOutboxMessage(row interface{ Scan(...any) error }) (*domain.OutboxMessage, error) {
	var msg domain.OutboxMessage
	var provider, kind, status string
	var claimedAt, processedAt sql.NullTime
	if err := row.Scan(
		&msg.ID,
		&msg.ItemID,
		&provider,
		&kind,
		&status,
		&msg.Attempt,
		&msg.NextAttemptAtUtc,
		&msg.FromSeqExclusive,
		&msg.ToSeqInclusive,
		&msg.CreatedAtUtc,
		&claimedAt,
		&processedAt,
		&msg.LastError,
	); err != nil {
		return nil, err
	}
	msg.Provider = domain.Provider(provider)
	msg.Kind = domain.OutboxKind(kind)
	msg.Status = domain.OutboxStatus(status)
	if claimedAt.Valid {
		t := claimedAt.Time
		msg.ClaimedAtUtc = &t
	}
	if processedAt.Valid {
		t := processedAt.Time
		msg.ProcessedAtUtc = &t
	}
	return &msg, nil
}

func (r *PgOutboxRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.OutboxMessage, error) {
	row := r.db.QueryRowContext(ctx, selectOutboxColumns+` where id = $1`, id)
	msg, err := scanOutboxMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "query outbox message")
	}
	return msg, nil
}

func (r *PgOutboxRepository) GetReady(
	ctx context.Context,
	now time.Time,
	limit int,
) ([]domain.OutboxMessage, error) {
	q := selectOutboxColumns + `
        where status = 'pending' and next_attempt_at_utc <= $1
        order by next_attempt_at_utc asc
        limit $2
    `
	rows, err := r.db.QueryContext(ctx, q, now, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query ready outbox messages")
	}
	defer rows.Close()

	var result []domain.OutboxMessage
	for rows.Next() {
		msg, err := scanOutboxMessage(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan outbox message")
		}
		result = append(result, *msg)
	}
	return result, rows.Err()
}

// Claim is the sole guard against two dispatcher runs acting on the same
// message: a conditional transition that only fires on pending rows at
// exactly the presented attempt. Attempt is not bumped here; it bumps on
// transient failure.
func (r *PgOutboxRepository) Claim(
	ctx context.Context,
	id uuid.UUID,
	expectedAttempt int,
) (*domain.OutboxMessage, error) {
	q := `
        update outbox_messages
        set status = 'inflight', claimed_at_utc = now()
        where id = $1 and status = 'pending' and attempt = $2
        returning id, item_id, provider, kind, status, attempt, next_attempt_at_utc,
                  from_seq_exclusive, to_seq_inclusive, created_at_utc,
                  claimed_at_utc, processed_at_utc, last_error
    `
	row := r.db.QueryRowContext(ctx, q, id, expectedAttempt)
	msg, err := scanOutboxMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrMessageStateChanged
	}
	if err != nil {
		return nil, errors.Wrap(err, "claim outbox message")
	}
	return msg, nil
}

func (r *PgOutboxRepository) Complete(
	ctx context.Context,
	id uuid.UUID,
	deliveredToSeq int64,
) error {
	// A window widened while inflight re-opens the same row as pending with
	// fromSeqExclusive advanced past the delivered part, so the tail is
	// dispatched by a later pass instead of being lost.
	q := `
        update outbox_messages
        set status = case when to_seq_inclusive > $2 then 'pending' else 'succeeded' end,
            from_seq_exclusive = greatest(from_seq_exclusive, $2),
            processed_at_utc = case when to_seq_inclusive > $2 then null else now() end,
            next_attempt_at_utc = now(),
            claimed_at_utc = null,
            last_error = ''
        where id = $1 and status = 'inflight'
    `
	res, err := r.db.ExecContext(ctx, q, id, deliveredToSeq)
	if err != nil {
		return errors.Wrap(err, "complete outbox message")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "complete outbox message")
	}
	// Zero rows means the message is no longer inflight under this claim: a
	// stale worker was reclaimed while its call ran and lost the race.
	if n == 0 {
		return domain.ErrMessageStateChanged
	}
	return nil
}

func (r *PgOutboxRepository) Retry(
	ctx context.Context,
	id uuid.UUID,
	newAttempt int,
	nextAttemptAt time.Time,
	lastError string,
) error {
	q := `
        update outbox_messages
        set status = 'pending', attempt = $2, next_attempt_at_utc = $3,
            claimed_at_utc = null, last_error = $4
        where id = $1 and status = 'inflight'
    `
	_, err := r.db.ExecContext(ctx, q, id, newAttempt, nextAttemptAt, lastError)
	return errors.Wrap(err, "retry outbox message")
}

func (r *PgOutboxRepository) FailPermanently(
	ctx context.Context,
	id uuid.UUID,
	lastError string,
) error {
	q := `
        update outbox_messages
        set status = 'failed', processed_at_utc = now(),
            claimed_at_utc = null, last_error = $2
        where id = $1 and status = 'inflight'
    `
	res, err := r.db.ExecContext(ctx, q, id, lastError)
	if err != nil {
		return errors.Wrap(err, "fail outbox message")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "fail outbox message")
	}
	if n == 0 {
		return domain.ErrMessageStateChanged
	}
	return nil
}

func (r *PgOutboxRepository) Reopen(ctx context.Context, id uuid.UUID) (bool, error) {
	q := `
        update outbox_messages m
        set status = 'pending', next_attempt_at_utc = now(),
            processed_at_utc = null, last_error = ''
        where m.id = $1 and m.status = 'failed'
          and not exists (
              select 1 from outbox_messages o
              where o.item_id = m.item_id and o.provider = m.provider
                and o.status in ('pending', 'inflight')
          )
    `
	res, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return false, errors.Wrap(err, "reopen outbox message")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "reopen outbox message")
	}
	return n == 1, nil
}

func (r *PgOutboxRepository) Enqueue(
	ctx context.Context,
	itemID uuid.UUID,
	provider domain.Provider,
	kind domain.OutboxKind,
	fromSeq, toSeq int64,
) (*domain.OutboxMessage, error) {
	q := upsertOutboxSQL + `
        returning id, item_id, provider, kind, status, attempt, next_attempt_at_utc,
                  from_seq_exclusive, to_seq_inclusive, created_at_utc,
                  claimed_at_utc, processed_at_utc, last_error
    `
	row := r.db.QueryRowContext(ctx, q, uuid.New(), itemID, string(provider), string(kind), fromSeq, toSeq)
	msg, err := scanOutboxMessage(row)
	if err != nil {
		return nil, errors.Wrap(err, "enqueue outbox message")
	}
	return msg, nil
}

func (r *PgOutboxRepository) RequeueStale(
	ctx context.Context,
	claimedBefore time.Time,
) (int, error) {
	q := `
        update outbox_messages
        set status = 'pending', claimed_at_utc = null, next_attempt_at_utc = now()
        where status = 'inflight' and claimed_at_utc < $1
    `
	res, err := r.db.ExecContext(ctx, q, claimedBefore)
	if err != nil {
		return 0, errors.Wrap(err, "requeue stale outbox messages")
	}
	n, err := res.RowsAffected()
	return int(n), errors.Wrap(err, "requeue stale outbox messages")
}

func (r *PgOutboxRepository) PruneSucceeded(
	ctx context.Context,
	processedBefore time.Time,
) (int, error) {
	q := `
        delete from outbox_messages
        where status = 'succeeded' and processed_at_utc < $1
    `
	res, err := r.db.ExecContext(ctx, q, processedBefore)
	if err != nil {
		return 0, errors.Wrap(err, "prune succeeded outbox messages")
	}
	n, err := res.RowsAffected()
	return int(n), errors.Wrap(err, "prune succeeded outbox messages")
}
