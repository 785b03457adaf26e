package query

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Service answers read-side questions from the Postgres projections.
// It never touches in-memory core state, so results trail the core by
// the persistence worker's flush interval.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// InsuranceRecord is one buyer's position under a policy.
type InsuranceRecord struct {
	AssetID       string    `json:"asset_id"`
	PolicySymbol  string    `json:"policy"`
	Buyer         string    `json:"buyer"`
	Quantity      int64     `json:"quantity"`
	SecuredAmount int64     `json:"secured_amount"`
	Settled       bool      `json:"settled"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// PolicyTotals aggregates outstanding coverage under a policy.
type PolicyTotals struct {
	PolicySymbol string `json:"policy"`
	Buyers       int64  `json:"buyers"`
	Quantity     int64  `json:"quantity"`
	SecuredTotal int64  `json:"secured_total"`
}

// SettlementStatus is the last known phase of a policy's settlement.
type SettlementStatus struct {
	PolicySymbol string    `json:"policy"`
	Phase        string    `json:"phase"`
	Defaulted    *bool     `json:"defaulted,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// EventLogEntry is one row of the append-only event log.
type EventLogEntry struct {
	Sequence       int64           `json:"sequence"`
	EventType      string          `json:"event_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	PolicySymbol   *string         `json:"policy,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	Timestamp      time.Time       `json:"timestamp"`
}

// RecordsForPolicy returns buyer positions under a policy, largest
// secured amount first.
func (s *Service) RecordsForPolicy(ctx context.Context, policy string) ([]InsuranceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT asset_id, policy_symbol, buyer, quantity, secured_amount, settled, updated_at
		FROM projections.insurance_records
		WHERE policy_symbol = $1
		ORDER BY secured_amount DESC, buyer ASC`,
		policy,
	)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []InsuranceRecord
	for rows.Next() {
		var r InsuranceRecord
		if err := rows.Scan(&r.AssetID, &r.PolicySymbol, &r.Buyer, &r.Quantity, &r.SecuredAmount, &r.Settled, &r.UpdatedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// RecordForBuyer returns one buyer's position, or sql.ErrNoRows.
func (s *Service) RecordForBuyer(ctx context.Context, policy, buyer string) (*InsuranceRecord, error) {
	var r InsuranceRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT asset_id, policy_symbol, buyer, quantity, secured_amount, settled, updated_at
		FROM projections.insurance_records
		WHERE policy_symbol = $1 AND buyer = $2`,
		policy, buyer,
	).Scan(&r.AssetID, &r.PolicySymbol, &r.Buyer, &r.Quantity, &r.SecuredAmount, &r.Settled, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// TotalsForPolicy aggregates the unsettled positions of a policy.
func (s *Service) TotalsForPolicy(ctx context.Context, policy string) (*PolicyTotals, error) {
	t := PolicyTotals{PolicySymbol: policy}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FILTER (WHERE secured_amount > 0),
		       COALESCE(SUM(quantity), 0),
		       COALESCE(SUM(secured_amount), 0)
		FROM projections.insurance_records
		WHERE policy_symbol = $1 AND NOT settled`,
		policy,
	).Scan(&t.Buyers, &t.Quantity, &t.SecuredTotal)
	if err != nil {
		return nil, fmt.Errorf("query totals: %w", err)
	}
	return &t, nil
}

// StatusForPolicy returns the settlement phase, or sql.ErrNoRows if the
// policy never progressed past creation.
func (s *Service) StatusForPolicy(ctx context.Context, policy string) (*SettlementStatus, error) {
	var st SettlementStatus
	err := s.db.QueryRowContext(ctx, `
		SELECT policy_symbol, phase, defaulted, updated_at
		FROM projections.settlement_status
		WHERE policy_symbol = $1`,
		policy,
	).Scan(&st.PolicySymbol, &st.Phase, &st.Defaulted, &st.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// RecentEvents pages the event log backwards from the newest entry.
func (s *Service) RecentEvents(ctx context.Context, policy string, limit int) ([]EventLogEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var rows *sql.Rows
	var err error
	if policy == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT sequence, event_type, idempotency_key, policy_symbol, payload, timestamp
			FROM event_log.events
			ORDER BY sequence DESC
			LIMIT $1`,
			limit,
		)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT sequence, event_type, idempotency_key, policy_symbol, payload, timestamp
			FROM event_log.events
			WHERE policy_symbol = $1
			ORDER BY sequence DESC
			LIMIT $2`,
			policy, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var entries []EventLogEntry
	for rows.Next() {
		var e EventLogEntry
		if err := rows.Scan(&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.PolicySymbol, &e.Payload, &e.Timestamp); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
