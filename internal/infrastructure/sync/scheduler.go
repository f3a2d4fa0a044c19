package sync

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/brickfolio/brickfolio-sync-go/internal/domain"
)

// Scheduler runs the drain loop periodically and handles the housekeeping
// around it: reclaiming stale inflight claims after a crash and pruning old
// succeeded messages. Ticks may overlap a manual dispatch trigger; the claim
// CAS keeps that safe.
type Scheduler struct {
	dispatcher *Dispatcher
	outbox     domain.OutboxRepository
	interval   time.Duration
	cfg        Config
}

func NewScheduler(d *Dispatcher, outbox domain.OutboxRepository, interval time.Duration, cfg Config) *Scheduler {
	return &Scheduler{
		dispatcher: d,
		outbox:     outbox,
		interval:   interval,
		cfg:        cfg,
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("sync scheduler stopped")
				return
			case <-ticker.C:
				s.runOnce(ctx)
			}
		}
	}()
}

func (s *Scheduler) runOnce(ctx context.Context) {
	now := time.Now().UTC()

	if s.cfg.ReclaimAfter > 0 {
		n, err := s.outbox.RequeueStale(ctx, now.Add(-s.cfg.ReclaimAfter))
		if err != nil {
			log.Error().Err(err).Msg("stale claim reclaim failed")
		} else if n > 0 {
			log.Warn().Int("count", n).Msg("reclaimed stale inflight messages")
		}
	}

	if s.cfg.Retention > 0 {
		if n, err := s.outbox.PruneSucceeded(ctx, now.Add(-s.cfg.Retention)); err != nil {
			log.Error().Err(err).Msg("outbox prune failed")
		} else if n > 0 {
			log.Debug().Int("count", n).Msg("pruned succeeded messages")
		}
	}

	n, err := s.dispatcher.DispatchOnce(ctx)
	if err != nil {
		log.Error().Err(err).Msg("sync dispatch error")
	} else if n > 0 {
		log.Info().Int("processed", n).Msg("sync dispatch pass finished")
	}
}
