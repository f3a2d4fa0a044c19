package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/brickfolio/brickfolio-sync-go/internal/domain"
)

// Config carries the dispatcher knobs explicitly instead of reading
// process-wide state; ExternalCallsEnabled lets test environments run the
// whole stack without touching real marketplaces.
type Config struct {
	ExternalCallsEnabled bool
	BatchSize            int
	MaxAttempts          int
	BackoffBase          time.Duration
	BackoffCap           time.Duration
	ReclaimAfter         time.Duration
	Retention            time.Duration
}

// Projector applies per-provider dispatch outcomes to the item's sync state.
type Projector interface {
	Apply(ctx context.Context, itemID uuid.UUID, results []domain.ProviderSyncResult) error
}

// Dispatcher drains ready outbox messages. It may run concurrently with
// itself (overlapping scheduler ticks, manual triggers); the claim CAS is the
// only exclusion mechanism, so a lost claim just means another run owns the
// message.
type Dispatcher struct {
	outbox    domain.OutboxRepository
	items     domain.ItemRepository
	ledger    domain.LedgerRepository
	conflicts domain.ConflictRepository
	projector Projector
	adapters  map[domain.Provider]domain.ListingAdapter
	cfg       Config
	now       func() time.Time
}

func NewDispatcher(
	outbox domain.OutboxRepository,
	items domain.ItemRepository,
	ledger domain.LedgerRepository,
	conflicts domain.ConflictRepository,
	projector Projector,
	adapters []domain.ListingAdapter,
	cfg Config,
) *Dispatcher {
	byProvider := make(map[domain.Provider]domain.ListingAdapter, len(adapters))
	for _, a := range adapters {
		byProvider[a.Provider()] = a
	}
	return &Dispatcher{
		outbox:    outbox,
		items:     items,
		ledger:    ledger,
		conflicts: conflicts,
		projector: projector,
		adapters:  byProvider,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// DispatchOnce runs one drain pass and returns how many messages succeeded.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	if !d.cfg.ExternalCallsEnabled {
		log.Debug().Msg("sync dispatch skipped: external calls disabled")
		return 0, nil
	}

	msgs, err := d.outbox.GetReady(ctx, d.now(), d.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	readyBacklog.Set(float64(len(msgs)))
	if len(msgs) == 0 {
		return 0, nil
	}

	// One dispatch task per provider of the same item, with an explicit join
	// before the item's sync state is updated, so one provider succeeding
	// while another fails projects both outcomes.
	itemOrder := make([]uuid.UUID, 0, len(msgs))
	byItem := make(map[uuid.UUID][]domain.OutboxMessage)
	for _, m := range msgs {
		if _, ok := byItem[m.ItemID]; !ok {
			itemOrder = append(itemOrder, m.ItemID)
		}
		byItem[m.ItemID] = append(byItem[m.ItemID], m)
	}

	processed := 0
	for _, itemID := range itemOrder {
		itemMsgs := byItem[itemID]
		outcomes := make([]*domain.ProviderSyncResult, len(itemMsgs))

		g, gctx := errgroup.WithContext(ctx)
		for i := range itemMsgs {
			i, msg := i, itemMsgs[i]
			g.Go(func() error {
				outcomes[i] = d.dispatchMessage(gctx, msg)
				return nil
			})
		}
		_ = g.Wait()

		results := make([]domain.ProviderSyncResult, 0, len(outcomes))
		for _, o := range outcomes {
			if o == nil {
				continue
			}
			results = append(results, *o)
			if o.Success {
				processed++
			}
		}
		if len(results) == 0 {
			continue
		}
		if err := d.projector.Apply(ctx, itemID, results); err != nil {
			log.Error().Err(err).Str("itemId", itemID.String()).Msg("failed to project sync results")
		}
	}

	return processed, nil
}

// dispatchMessage claims and executes a single message. A nil return means no
// outcome should be projected: the claim was lost, or the failure was
// transient and the message was rescheduled.
func (d *Dispatcher) dispatchMessage(ctx context.Context, msg domain.OutboxMessage) *domain.ProviderSyncResult {
	claimed, err := d.outbox.Claim(ctx, msg.ID, msg.Attempt)
	if err != nil {
		if errors.Is(err, domain.ErrMessageStateChanged) {
			dispatchTotal.WithLabelValues(string(msg.Provider), "skipped").Inc()
			return nil
		}
		log.Error().Err(err).Str("messageId", msg.ID.String()).Msg("outbox claim failed")
		return nil
	}

	adapter, ok := d.adapters[claimed.Provider]
	if !ok {
		return d.failTerminally(ctx, claimed, ClassPermanent, fmt.Sprintf("no adapter configured for provider %s", claimed.Provider))
	}

	item, err := d.items.GetByID(ctx, claimed.ItemID)
	if err != nil {
		return d.releaseTransient(ctx, claimed, "load item: "+err.Error())
	}
	if item == nil {
		return d.failTerminally(ctx, claimed, ClassPermanent, "item no longer exists")
	}

	// The quantity to report is the ledger snapshot at the window's end, not
	// the item's live quantity, which may have moved on already.
	entry, err := d.ledger.GetEntryAt(ctx, claimed.ItemID, claimed.ToSeqInclusive)
	if err != nil {
		return d.releaseTransient(ctx, claimed, "read ledger: "+err.Error())
	}
	if entry == nil {
		return d.failTerminally(ctx, claimed, ClassPermanent,
			fmt.Sprintf("ledger entry %d missing", claimed.ToSeqInclusive))
	}

	state := item.SyncFor(claimed.Provider)
	op := effectiveKind(claimed.Kind, state.LotID)

	if op == domain.OutboxKindDelete && state.LotID == "" {
		// Nothing was ever created remotely; completing without a call keeps
		// the ledger window accounted for.
		if !d.complete(ctx, claimed) {
			return nil
		}
		dispatchTotal.WithLabelValues(string(claimed.Provider), "succeeded").Inc()
		return &domain.ProviderSyncResult{
			Provider:      claimed.Provider,
			Success:       true,
			Deleted:       true,
			LastSyncedSeq: claimed.ToSeqInclusive,
		}
	}

	payload, err := adapter.BuildPayload(ctx, item, entry.PostAvailable, state)
	if err != nil {
		return d.failTerminally(ctx, claimed, ClassifyPayloadErr(err), err.Error())
	}

	key := claimed.IdempotencyKey()
	start := d.now()
	var res domain.AdapterResult
	switch op {
	case domain.OutboxKindCreate:
		res = adapter.Create(ctx, payload, key)
	case domain.OutboxKindUpdate:
		res = adapter.Update(ctx, state.LotID, payload, key)
	case domain.OutboxKindDelete:
		res = adapter.Delete(ctx, state.LotID, key)
	}
	dispatchDuration.WithLabelValues(string(claimed.Provider)).Observe(d.now().Sub(start).Seconds())

	if res.Err == nil {
		if !d.complete(ctx, claimed) {
			return nil
		}
		dispatchTotal.WithLabelValues(string(claimed.Provider), "succeeded").Inc()
		log.Info().
			Str("itemId", claimed.ItemID.String()).
			Str("provider", string(claimed.Provider)).
			Str("op", string(op)).
			Int64("toSeq", claimed.ToSeqInclusive).
			Int("available", entry.PostAvailable).
			Msg("sync dispatched")

		result := &domain.ProviderSyncResult{
			Provider:            claimed.Provider,
			Success:             true,
			LastSyncedSeq:       claimed.ToSeqInclusive,
			LastSyncedAvailable: entry.PostAvailable,
		}
		switch op {
		case domain.OutboxKindDelete:
			result.Deleted = true
			result.LastSyncedAvailable = 0
		case domain.OutboxKindCreate:
			result.LotID = res.ExternalID
		default:
			result.LotID = state.LotID
		}
		return result
	}

	switch class := Classify(res.Err); class {
	case ClassTransient:
		return d.releaseTransient(ctx, claimed, res.Err.Error())
	case ClassConflict:
		conflict := domain.NewSyncConflict(claimed, res.Err.Error())
		if err := d.conflicts.Insert(ctx, conflict); err != nil {
			log.Error().Err(err).Str("messageId", claimed.ID.String()).Msg("record conflict failed")
		}
		return d.failTerminally(ctx, claimed, ClassConflict, "conflict: "+res.Err.Error())
	default:
		return d.failTerminally(ctx, claimed, class, res.Err.Error())
	}
}

// complete marks the claimed window delivered. A false return means the claim
// was lost mid-flight (the message was reclaimed and finished by another
// worker), so the caller must not project an outcome for it.
func (d *Dispatcher) complete(ctx context.Context, claimed *domain.OutboxMessage) bool {
	err := d.outbox.Complete(ctx, claimed.ID, claimed.ToSeqInclusive)
	if err == nil {
		return true
	}
	if errors.Is(err, domain.ErrMessageStateChanged) {
		dispatchTotal.WithLabelValues(string(claimed.Provider), "skipped").Inc()
		log.Warn().Str("messageId", claimed.ID.String()).Msg("claim lost before completion")
	} else {
		log.Error().Err(err).Str("messageId", claimed.ID.String()).Msg("complete failed")
	}
	return false
}

// releaseTransient reschedules the claimed message with exponential backoff,
// converting it into a permanent failure once the attempt budget is spent. On
// the ordinary retry path nothing is projected, so the return is nil.
func (d *Dispatcher) releaseTransient(ctx context.Context, claimed *domain.OutboxMessage, errMsg string) *domain.ProviderSyncResult {
	next := claimed.Attempt + 1
	if next >= d.cfg.MaxAttempts {
		return d.failTerminally(ctx, claimed, ClassPermanent, "retry budget exhausted: "+errMsg)
	}
	nextAt := d.now().Add(Backoff(next, d.cfg.BackoffBase, d.cfg.BackoffCap))
	if err := d.outbox.Retry(ctx, claimed.ID, next, nextAt, errMsg); err != nil {
		log.Error().Err(err).Str("messageId", claimed.ID.String()).Msg("retry release failed")
		return nil
	}
	dispatchTotal.WithLabelValues(string(claimed.Provider), "transient").Inc()
	log.Warn().
		Str("messageId", claimed.ID.String()).
		Str("provider", string(claimed.Provider)).
		Int("attempt", next).
		Time("nextAttemptAt", nextAt).
		Str("error", errMsg).
		Msg("sync attempt failed, rescheduled")
	return nil
}

func (d *Dispatcher) failTerminally(
	ctx context.Context,
	claimed *domain.OutboxMessage,
	class Class,
	errMsg string,
) *domain.ProviderSyncResult {
	if err := d.outbox.FailPermanently(ctx, claimed.ID, errMsg); err != nil {
		if errors.Is(err, domain.ErrMessageStateChanged) {
			dispatchTotal.WithLabelValues(string(claimed.Provider), "skipped").Inc()
			log.Warn().Str("messageId", claimed.ID.String()).Msg("claim lost before terminal fail")
		} else {
			log.Error().Err(err).Str("messageId", claimed.ID.String()).Msg("terminal fail write failed")
		}
		return nil
	}
	dispatchTotal.WithLabelValues(string(claimed.Provider), class.String()).Inc()
	log.Error().
		Str("messageId", claimed.ID.String()).
		Str("itemId", claimed.ItemID.String()).
		Str("provider", string(claimed.Provider)).
		Str("class", class.String()).
		Str("error", errMsg).
		Msg("sync failed terminally")
	return &domain.ProviderSyncResult{
		Provider: claimed.Provider,
		Success:  false,
		Error:    errMsg,
	}
}

// effectiveKind resolves the stored kind against the current lot state: an
// update with no lot yet falls back to create, and a create whose lot already
// exists (a widened create that partially delivered) becomes an update.
func effectiveKind(kind domain.OutboxKind, lotID string) domain.OutboxKind {
	switch kind {
	case domain.OutboxKindDelete:
		return domain.OutboxKindDelete
	default:
		if lotID == "" {
			return domain.OutboxKindCreate
		}
		return domain.OutboxKindUpdate
	}
}
