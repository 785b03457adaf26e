package keeper

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"blockshield/internal/core"
	"blockshield/internal/event"
	"blockshield/internal/observability"
	"blockshield/internal/settlement"
)

// Keeper polls every registered policy for due-date upkeep and submits
// PerformUpkeep commands into the core. The keeper is intentionally
// dumb: all authoritative validation happens inside the state machine,
// so a duplicate or stale tick is rejected there, not here.
type Keeper struct {
	settlements *settlement.Manager
	subs        chan<- core.Submission
	cron        *cron.Cron
	metrics     *observability.Metrics
	log         zerolog.Logger
}

func New(settlements *settlement.Manager, subs chan<- core.Submission, metrics *observability.Metrics) *Keeper {
	return &Keeper{
		settlements: settlements,
		subs:        subs,
		cron:        cron.New(),
		metrics:     metrics,
		log:         observability.NewLogger("keeper"),
	}
}

// Start schedules the poll at the given cron spec (e.g. "@every 30s")
// and begins ticking.
func (k *Keeper) Start(ctx context.Context, spec string) error {
	_, err := k.cron.AddFunc(spec, func() {
		k.Tick(ctx, time.Now())
	})
	if err != nil {
		return err
	}
	k.cron.Start()
	k.log.Info().Str("schedule", spec).Msg("keeper started")
	return nil
}

// Tick checks all policies once and submits upkeep for the due ones.
func (k *Keeper) Tick(ctx context.Context, now time.Time) {
	if k.metrics != nil {
		k.metrics.UpkeepChecks.Inc()
	}

	for _, policy := range k.settlements.Policies() {
		if !k.settlements.CheckUpkeep(policy, now) {
			continue
		}

		cmd := &event.PerformUpkeep{
			RequestID: uuid.New(),
			Policy:    policy,
			Now:       now,
		}

		reply := make(chan error, 1)
		select {
		case k.subs <- core.Submission{Evt: cmd, Reply: reply}:
		case <-ctx.Done():
			return
		}

		select {
		case err := <-reply:
			if err != nil {
				// Lost the race to another keeper or a transient
				// dispatch failure; the next tick retries.
				k.log.Debug().Err(err).Str("policy", policy).Msg("upkeep not performed")
			}
		case <-ctx.Done():
			return
		}
	}
}

// Stop halts the cron scheduler and waits for running jobs.
func (k *Keeper) Stop() {
	<-k.cron.Stop().Done()
	k.log.Info().Msg("keeper stopped")
}
