package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"blockshield/internal/event"
	"blockshield/internal/ledger"
	"blockshield/internal/observability"
)

// Output is one applied event's worth of persistence work: the event
// row, its journal rows, and any projection upserts derived from it.
type Output struct {
	Event    EventRow
	Journals []JournalRow
	Records  []RecordRow
	Statuses []StatusRow
}

// BuildOutput converts a core envelope plus its journal batch into
// rows. Projections are derived from the event type so the read side
// never re-implements settlement logic.
func BuildOutput(env *event.Envelope, batch *ledger.Batch, payload interface{}) Output {
	out := Output{
		Event: EventRow{
			Sequence:       env.Sequence,
			EventType:      env.EventType.String(),
			IdempotencyKey: env.IdempotencyKey,
			PolicySymbol:   env.PolicySymbol,
			Payload:        env.Payload,
			Timestamp:      env.Timestamp,
		},
	}

	if batch != nil {
		out.Journals = make([]JournalRow, 0, len(batch.Journals))
		for _, j := range batch.Journals {
			out.Journals = append(out.Journals, JournalRow{
				JournalID:     j.JournalID.String(),
				BatchID:       j.BatchID.String(),
				EventRef:      j.EventRef,
				Sequence:      j.Sequence,
				DebitAccount:  j.DebitAccount.AccountPath(),
				CreditAccount: j.CreditAccount.AccountPath(),
				AssetID:       uint16(j.AssetID),
				Amount:        j.Amount,
				JournalType:   int32(j.JournalType),
				Timestamp:     j.Timestamp,
			})
		}
	}

	switch env.EventType {
	case event.EventTypeInsuranceHired:
		if h, ok := payload.(*event.InsuranceHired); ok {
			out.Records = append(out.Records, RecordRow{
				AssetID:       h.AssetID.String(),
				PolicySymbol:  h.Policy,
				Buyer:         h.Buyer,
				QuantityDelta: h.Quantity,
				SecuredDelta:  h.Paid,
			})
		}

	case event.EventTypePerformUpkeep:
		if env.PolicySymbol != nil {
			out.Statuses = append(out.Statuses, StatusRow{
				PolicySymbol: *env.PolicySymbol,
				Phase:        "awaiting_oracle",
			})
		}

	case event.EventTypeLiquidationResult:
		// Only reopen outcomes reach the log with this type.
		if env.PolicySymbol != nil {
			out.Statuses = append(out.Statuses, StatusRow{
				PolicySymbol: *env.PolicySymbol,
				Phase:        "open",
			})
		}

	case event.EventTypeUpkeepPerformed:
		if u, ok := payload.(*event.UpkeepPerformed); ok {
			defaulted := u.Defaulted
			out.Statuses = append(out.Statuses, StatusRow{
				PolicySymbol: u.Policy,
				Phase:        "settled",
				Defaulted:    &defaulted,
			})
			out.Records = append(out.Records, RecordRow{
				PolicySymbol: u.Policy,
				Settled:      true,
			})
		}
	}

	return out
}

// Worker drains outputs from the core and writes them to Postgres in
// batches. Flushes happen on size or on a timer, whichever first, and
// failed flushes retry with exponential backoff rather than dropping
// data.
type Worker struct {
	writer    *EventLogWriter
	inputChan <-chan Output
	batchSize int
	interval  time.Duration
	metrics   *observability.Metrics
	log       zerolog.Logger
}

type WorkerConfig struct {
	Writer    *EventLogWriter
	InputChan <-chan Output
	BatchSize int           // default 100
	Interval  time.Duration // default 100ms
	Metrics   *observability.Metrics
}

func NewWorker(cfg WorkerConfig) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 100 * time.Millisecond
	}
	return &Worker{
		writer:    cfg.Writer,
		inputChan: cfg.InputChan,
		batchSize: cfg.BatchSize,
		interval:  cfg.Interval,
		metrics:   cfg.Metrics,
		log:       observability.NewLogger("persistence"),
	}
}

// Run processes outputs until ctx is cancelled, then drains and flushes
// whatever remains with a background context so shutdown never loses
// acknowledged events.
func (w *Worker) Run(ctx context.Context) error {
	batch := make([]Output, 0, w.batchSize)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case out := <-w.inputChan:
					batch = append(batch, out)
				default:
					w.flushWithRetry(context.Background(), batch)
					w.log.Info().Msg("persistence worker stopped")
					return ctx.Err()
				}
			}

		case out, ok := <-w.inputChan:
			if !ok {
				w.flushWithRetry(context.Background(), batch)
				return nil
			}
			batch = append(batch, out)
			if len(batch) >= w.batchSize {
				w.flushWithRetry(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.flushWithRetry(ctx, batch)
				batch = batch[:0]
			}
		}
	}
}

// flushWithRetry retries forever with capped exponential backoff. The
// core blocks on a full channel behind us, which is the intended
// backpressure when Postgres is down.
func (w *Worker) flushWithRetry(ctx context.Context, batch []Output) {
	if len(batch) == 0 {
		return
	}

	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for {
		err := w.flush(ctx, batch)
		if err == nil {
			return
		}

		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("flush").Inc()
		}
		w.log.Error().Err(err).Int("batch_size", len(batch)).Dur("backoff", backoff).Msg("flush failed, retrying")

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			// Shutdown path: one last attempt with a fresh context.
			if err := w.flush(context.Background(), batch); err != nil {
				w.log.Error().Err(err).Int("batch_size", len(batch)).Msg("final flush failed, events lost from projections")
			}
			return
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// flush writes the whole batch in one transaction so the event log,
// journal, and projections never diverge.
func (w *Worker) flush(ctx context.Context, batch []Output) error {
	start := time.Now()

	events := make([]EventRow, 0, len(batch))
	var journals []JournalRow
	var records []RecordRow
	var statuses []StatusRow
	for _, out := range batch {
		events = append(events, out.Event)
		journals = append(journals, out.Journals...)
		records = append(records, out.Records...)
		statuses = append(statuses, out.Statuses...)
	}

	tx, err := w.writer.DB().BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := w.writer.WriteEventBatch(ctx, tx, events); err != nil {
		return err
	}
	if err := w.writer.WriteJournalBatch(ctx, tx, journals); err != nil {
		return err
	}
	if err := w.writer.ApplyRecordRows(ctx, tx, records); err != nil {
		return err
	}
	if err := w.writer.ApplyStatusRows(ctx, tx, statuses); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistEventsWritten.Add(float64(len(events)))
		w.metrics.PersistJournalsWritten.Add(float64(len(journals)))
		w.metrics.PersistBatchSize.Observe(float64(len(events)))
		w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		w.metrics.PersistLastSequence.Set(float64(events[len(events)-1].Sequence))
	}

	return nil
}
