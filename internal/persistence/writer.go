package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EventLogWriter writes events, journals, and read-model projections
// to Postgres using multi-row INSERTs inside one transaction per batch.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow represents a row in event_log.events
type EventRow struct {
	Sequence       int64
	EventType      string
	IdempotencyKey string
	PolicySymbol   *string
	Payload        []byte // JSON-encoded event payload
	Timestamp      time.Time
}

// JournalRow represents a row in event_log.journal
type JournalRow struct {
	JournalID     string
	BatchID       string
	EventRef      string
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	AssetID       uint16
	Amount        int64
	JournalType   int32
	Timestamp     int64
}

// RecordRow is the hired-insurance projection upsert.
type RecordRow struct {
	AssetID       string
	PolicySymbol  string
	Buyer         string
	QuantityDelta int64
	SecuredDelta  int64
	Settled       bool
}

// StatusRow is the settlement-status projection upsert.
type StatusRow struct {
	PolicySymbol string
	Phase        string
	Defaulted    *bool
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// WriteEventBatch writes a batch of events using a multi-row INSERT.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, tx *sql.Tx, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.events
		(sequence, event_type, idempotency_key, policy_symbol, payload, timestamp)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*6)

	for i, e := range events {
		base := i * 6
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6,
		))
		// The payload column is JSONB; lib/pq sends []byte as bytea.
		payload := "null"
		if len(e.Payload) > 0 {
			payload = string(e.Payload)
		}
		args = append(args,
			e.Sequence, e.EventType, e.IdempotencyKey, e.PolicySymbol,
			payload, e.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING" // Idempotent writes

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteJournalBatch writes a batch of journal entries.
func (w *EventLogWriter) WriteJournalBatch(ctx context.Context, tx *sql.Tx, journals []JournalRow) error {
	if len(journals) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.journal
		(journal_id, batch_id, event_ref, sequence, debit_account, credit_account, asset_id, amount, journal_type, timestamp)
		VALUES `

	values := make([]string, 0, len(journals))
	args := make([]interface{}, 0, len(journals)*10)

	for i, j := range journals {
		base := i * 10
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10,
		))
		args = append(args,
			j.JournalID, j.BatchID, j.EventRef, j.Sequence,
			j.DebitAccount, j.CreditAccount, j.AssetID, j.Amount,
			j.JournalType, j.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (journal_id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// ApplyRecordRows upserts the hired-insurance projection. Deltas
// accumulate on repeat purchases; Settled zeroes the row.
func (w *EventLogWriter) ApplyRecordRows(ctx context.Context, tx *sql.Tx, rows []RecordRow) error {
	for _, r := range rows {
		if r.Settled {
			_, err := tx.ExecContext(ctx, `
				UPDATE projections.insurance_records
				SET quantity = 0, secured_amount = 0, settled = TRUE, updated_at = NOW()
				WHERE policy_symbol = $1`, r.PolicySymbol)
			if err != nil {
				return fmt.Errorf("settle records for %s: %w", r.PolicySymbol, err)
			}
			continue
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.insurance_records
				(asset_id, policy_symbol, buyer, quantity, secured_amount, settled, updated_at)
			VALUES ($1, $2, $3, $4, $5, FALSE, NOW())
			ON CONFLICT (policy_symbol, buyer) DO UPDATE SET
				quantity       = projections.insurance_records.quantity + EXCLUDED.quantity,
				secured_amount = projections.insurance_records.secured_amount + EXCLUDED.secured_amount,
				updated_at     = NOW()`,
			r.AssetID, r.PolicySymbol, r.Buyer, r.QuantityDelta, r.SecuredDelta,
		)
		if err != nil {
			return fmt.Errorf("upsert record %s/%s: %w", r.PolicySymbol, r.Buyer, err)
		}
	}
	return nil
}

// ApplyStatusRows upserts the settlement-status projection.
func (w *EventLogWriter) ApplyStatusRows(ctx context.Context, tx *sql.Tx, rows []StatusRow) error {
	for _, r := range rows {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.settlement_status (policy_symbol, phase, defaulted, updated_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (policy_symbol) DO UPDATE SET
				phase      = EXCLUDED.phase,
				defaulted  = COALESCE(EXCLUDED.defaulted, projections.settlement_status.defaulted),
				updated_at = NOW()`,
			r.PolicySymbol, r.Phase, r.Defaulted,
		)
		if err != nil {
			return fmt.Errorf("upsert status %s: %w", r.PolicySymbol, err)
		}
	}
	return nil
}

// DB exposes the handle for transaction management by the worker.
func (w *EventLogWriter) DB() *sql.DB {
	return w.db
}

// MarshalEventPayload serializes an event payload to JSON for storage.
func MarshalEventPayload(payload interface{}) ([]byte, error) {
	return json.Marshal(payload)
}
