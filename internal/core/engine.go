package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"blockshield/internal/asset"
	"blockshield/internal/book"
	"blockshield/internal/bridge"
	"blockshield/internal/event"
	"blockshield/internal/ledger"
	"blockshield/internal/observability"
	"blockshield/internal/oracle"
	"blockshield/internal/sale"
	"blockshield/internal/settlement"
	"blockshield/internal/token"
)

// CoreOutput is what the engine emits per applied event: the envelope
// for the log, the journal batch (may be nil), and the decoded payload
// for outbound publishing.
type CoreOutput struct {
	Envelope *event.Envelope
	Batch    *ledger.Batch
	Payload  interface{}
}

// Submission carries a command into the engine loop. Reply receives
// the processing result exactly once.
type Submission struct {
	Evt   event.Event
	Reply chan error
}

// Engine is the single-threaded deterministic processor. All state
// mutation is serialized through ProcessEvent, which is only called
// from the Run loop.
type Engine struct {
	sequence int64

	registry     *asset.Registry
	book         *book.Book
	bank         *token.Bank
	tracker      *ledger.BalanceTracker
	validator    *ledger.InvariantValidator
	desk         *sale.Desk
	settlements  *settlement.Manager
	oracleClient oracle.Client
	dispatcher   bridge.Dispatcher
	idempotency  *IdempotencyChecker
	metrics      *observability.Metrics
	log          zerolog.Logger

	custody      string
	oracleSource string

	persistChan chan<- CoreOutput
	publishChan chan<- CoreOutput
}

// Config wires the engine's collaborators.
type Config struct {
	StartSequence       int64
	Registry            *asset.Registry
	Book                *book.Book
	Bank                *token.Bank
	Settlements         *settlement.Manager
	OracleClient        oracle.Client
	Dispatcher          bridge.Dispatcher
	DBChecker           DBIdempotencyChecker
	Metrics             *observability.Metrics
	CustodyAddress      string
	OracleSource        string
	IdempotencyCapacity int
	PersistChan         chan<- CoreOutput
	PublishChan         chan<- CoreOutput
}

func NewEngine(cfg Config) *Engine {
	tracker := ledger.NewBalanceTracker()

	capacity := cfg.IdempotencyCapacity
	if capacity == 0 {
		capacity = 1_000_000
	}

	return &Engine{
		sequence:     cfg.StartSequence,
		registry:     cfg.Registry,
		book:         cfg.Book,
		bank:         cfg.Bank,
		tracker:      tracker,
		validator:    ledger.NewInvariantValidator(tracker),
		desk:         sale.NewDesk(cfg.Registry, cfg.Book, cfg.Bank, cfg.CustodyAddress),
		settlements:  cfg.Settlements,
		oracleClient: cfg.OracleClient,
		dispatcher:   cfg.Dispatcher,
		idempotency:  NewIdempotencyChecker(capacity, cfg.DBChecker, cfg.Metrics),
		metrics:      cfg.Metrics,
		log:          observability.NewLogger("core"),
		custody:      cfg.CustodyAddress,
		oracleSource: cfg.OracleSource,
		persistChan:  cfg.PersistChan,
		publishChan:  cfg.PublishChan,
	}
}

// Run drains submissions until ctx is cancelled.
func (e *Engine) Run(ctx context.Context, subs <-chan Submission) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sub, ok := <-subs:
			if !ok {
				return nil
			}
			err := e.ProcessEvent(ctx, sub.Evt)
			if sub.Reply != nil {
				sub.Reply <- err
			}
		}
	}
}

// emission is one envelope-worth of output from a handler.
type emission struct {
	evtType event.EventType
	policy  *string
	batch   *ledger.Batch
	payload interface{}
	key     string // envelope idempotency key; command key when empty
}

// ProcessEvent is the main processing pipeline.
func (e *Engine) ProcessEvent(ctx context.Context, evt event.Event) error {
	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	if e.idempotency.IsDuplicate(eventType, idempotencyKey) {
		if e.metrics != nil {
			e.metrics.CoreEventsRejected.WithLabelValues(eventType, "duplicate").Inc()
		}
		return nil
	}

	emissions, err := e.dispatchEvent(ctx, evt)
	if err != nil {
		if e.metrics != nil {
			e.metrics.CoreEventsRejected.WithLabelValues(eventType, "validation").Inc()
		}
		return err
	}

	outputs := make([]CoreOutput, 0, len(emissions))

	for _, em := range emissions {
		if em.batch != nil && len(em.batch.Journals) > 0 {
			if err := e.validator.ValidateBatchBalance(em.batch); err != nil {
				panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
			}
			if err := e.tracker.ApplyBatch(em.batch); err != nil {
				return fmt.Errorf("apply batch failed: %w", err)
			}
		}

		key := em.key
		if key == "" {
			key = idempotencyKey
		}

		envelope := &event.Envelope{
			Sequence:       e.sequence,
			IdempotencyKey: key,
			EventType:      em.evtType,
			PolicySymbol:   em.policy,
			Timestamp:      evt.EventTimestamp(),
			Payload:        marshalPayload(em.payload),
		}

		outputs = append(outputs, CoreOutput{
			Envelope: envelope,
			Batch:    em.batch,
			Payload:  em.payload,
		})
		e.sequence++
	}

	if err := e.postCheckInvariants(); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Persist channel uses a BLOCKING send: the core stalls until the
	// persistence worker drains, so no applied event is ever lost.
	// Publish channel is non-blocking: consumers can replay the log.
	for _, output := range outputs {
		e.persistChan <- output

		select {
		case e.publishChan <- output:
		default:
		}
	}

	e.idempotency.MarkProcessed(eventType, idempotencyKey)

	if e.metrics != nil {
		e.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		e.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		e.metrics.CoreSequence.Set(float64(e.sequence))
	}

	return nil
}

func (e *Engine) dispatchEvent(ctx context.Context, evt event.Event) ([]emission, error) {
	switch cmd := evt.(type) {
	case *event.CreateAsset:
		return e.handleCreateAsset(cmd)
	case *event.CreatePolicy:
		return e.handleCreatePolicy(cmd)
	case *event.SetSettlementToken:
		return e.handleSetSettlementToken(cmd)
	case *event.SetCrossChainRoute:
		return e.handleSetCrossChainRoute(cmd)
	case *event.HireInsurance:
		return e.handleHireInsurance(cmd)
	case *event.PerformUpkeep:
		return e.handlePerformUpkeep(ctx, cmd)
	case *event.LiquidationResult:
		return e.handleLiquidationResult(ctx, cmd)
	default:
		return nil, fmt.Errorf("unknown event type: %T", evt)
	}
}

func (e *Engine) handleCreateAsset(cmd *event.CreateAsset) ([]emission, error) {
	a, err := e.registry.CreateAsset(cmd.Name, cmd.Symbol, cmd.TotalSupply, cmd.TotalValue, cmd.DueDate, cmd.Yield, cmd.Timestamp)
	if err != nil {
		return nil, err
	}

	e.log.Info().Str("symbol", a.Symbol).Str("asset_id", a.ID.String()).Msg("asset created")

	return []emission{{
		evtType: event.EventTypeCreateAsset,
		payload: map[string]interface{}{
			"asset_id":     a.ID,
			"name":         a.Name,
			"symbol":       a.Symbol,
			"total_supply": a.TotalSupply,
			"total_value":  a.TotalValue.String(),
			"due_date":     a.DueDate,
			"yield":        a.Yield,
		},
	}}, nil
}

func (e *Engine) handleCreatePolicy(cmd *event.CreatePolicy) ([]emission, error) {
	p, err := e.registry.CreatePolicy(cmd.AssetSymbol, cmd.Name, cmd.Prime, cmd.Timestamp)
	if err != nil {
		return nil, err
	}

	a, _ := e.registry.Asset(p.AssetID)
	e.settlements.Register(p.Symbol, a.DueDate)

	e.log.Info().Str("policy", p.Symbol).Int64("prime", p.Prime).Msg("policy created")

	return []emission{{
		evtType: event.EventTypeCreatePolicy,
		policy:  &p.Symbol,
		payload: map[string]interface{}{
			"asset_id": p.AssetID,
			"name":     p.Name,
			"policy":   p.Symbol,
			"prime":    p.Prime,
		},
	}}, nil
}

func (e *Engine) handleSetSettlementToken(cmd *event.SetSettlementToken) ([]emission, error) {
	if _, ok := ledger.GetAssetID(cmd.Token); !ok {
		return nil, fmt.Errorf("%s: %w", cmd.Token, token.ErrUnknownToken)
	}
	if err := e.registry.SetSettlementToken(cmd.Policy, cmd.Token); err != nil {
		return nil, err
	}

	return []emission{{
		evtType: event.EventTypeSetSettlementToken,
		policy:  &cmd.Policy,
		payload: map[string]interface{}{"policy": cmd.Policy, "token": cmd.Token},
	}}, nil
}

func (e *Engine) handleSetCrossChainRoute(cmd *event.SetCrossChainRoute) ([]emission, error) {
	err := e.registry.SetRoute(cmd.Policy, asset.Route{
		ChainSelector:    cmd.ChainSelector,
		DestinationToken: cmd.DestinationToken,
		FeeToken:         cmd.FeeToken,
	})
	if err != nil {
		return nil, err
	}

	return []emission{{
		evtType: event.EventTypeSetCrossChainRoute,
		policy:  &cmd.Policy,
		payload: map[string]interface{}{
			"policy":            cmd.Policy,
			"chain_selector":    cmd.ChainSelector,
			"destination_token": cmd.DestinationToken,
			"fee_token":         cmd.FeeToken,
		},
	}}, nil
}

func (e *Engine) handleHireInsurance(cmd *event.HireInsurance) ([]emission, error) {
	res, err := e.desk.Hire(cmd, e.sequence)
	if err != nil {
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.InsuranceHired.WithLabelValues(cmd.Policy).Inc()
		e.metrics.PremiumVolume.WithLabelValues(cmd.Policy).Add(float64(res.Hired.Paid))
		e.metrics.SecuredTotal.WithLabelValues(cmd.Policy).Set(float64(e.book.TotalSecured(res.Hired.AssetID)))
	}

	e.log.Info().
		Str("policy", cmd.Policy).
		Str("buyer", cmd.Buyer).
		Int64("quantity", cmd.Quantity).
		Int64("paid", res.Hired.Paid).
		Msg("insurance hired")

	return []emission{{
		evtType: event.EventTypeInsuranceHired,
		policy:  &cmd.Policy,
		batch:   res.Batch,
		payload: res.Hired,
	}}, nil
}

func (e *Engine) handlePerformUpkeep(ctx context.Context, cmd *event.PerformUpkeep) ([]emission, error) {
	pol, ok := e.registry.Policy(cmd.Policy)
	if !ok {
		return nil, fmt.Errorf("%s: %w", cmd.Policy, asset.ErrUnknownPolicy)
	}
	a, _ := e.registry.Asset(pol.AssetID)

	requestID, err := e.settlements.BeginUpkeep(cmd.Policy, cmd.Now)
	if err != nil {
		return nil, err
	}

	req := oracle.Request{
		ID:             requestID,
		Policy:         cmd.Policy,
		AssetSymbol:    a.Symbol,
		FunctionSource: e.oracleSource,
		Args:           []string{a.Symbol},
	}
	if err := e.oracleClient.Send(ctx, req); err != nil {
		// Roll the transition back so a later tick can retry.
		if reopenErr := e.settlements.Reopen(requestID); reopenErr != nil {
			panic(fmt.Sprintf("FATAL: cannot reopen %s after dispatch failure: %v", cmd.Policy, reopenErr))
		}
		return nil, fmt.Errorf("oracle dispatch: %w", err)
	}

	if e.metrics != nil {
		e.metrics.UpkeepDispatched.WithLabelValues(cmd.Policy).Inc()
	}
	e.log.Info().Str("policy", cmd.Policy).Str("request_id", requestID.String()).Msg("upkeep dispatched")

	return []emission{{
		evtType: event.EventTypePerformUpkeep,
		policy:  &cmd.Policy,
		payload: map[string]interface{}{"policy": cmd.Policy, "request_id": requestID},
	}}, nil
}

func (e *Engine) handleLiquidationResult(ctx context.Context, cmd *event.LiquidationResult) ([]emission, error) {
	policySymbol, err := e.settlements.Resolve(cmd.OracleRequestID)
	if err != nil {
		return nil, err
	}

	if e.metrics != nil {
		if since, ok := e.settlements.PendingSince(cmd.OracleRequestID); ok {
			e.metrics.OracleLatency.Observe(cmd.Timestamp.Sub(since).Seconds())
		}
	}

	pol, ok := e.registry.Policy(policySymbol)
	if !ok {
		return nil, fmt.Errorf("%s: %w", policySymbol, asset.ErrUnknownPolicy)
	}
	a, _ := e.registry.Asset(pol.AssetID)

	// Oracle-reported failure carries no verdict: clear the pending
	// request so the next keeper tick re-issues the query.
	if cmd.ErrMsg != "" {
		return e.reopenAfterOracleFault(cmd, policySymbol, fmt.Sprintf("oracle error: %s", cmd.ErrMsg))
	}

	defaulted, err := oracle.DecodeSettled(cmd.Payload)
	if err != nil {
		return e.reopenAfterOracleFault(cmd, policySymbol, fmt.Sprintf("bad oracle payload: %v", err))
	}

	hasClients := e.book.HasClients(pol.AssetID)

	// Route preflight happens before any mutation: a broken route or
	// unfunded fee wallet leaves the policy retryable.
	if hasClients {
		if err := e.dispatcher.VerifyRoute(ctx, bridge.Route(*pol.Route)); err != nil {
			if reopenErr := e.settlements.Reopen(cmd.OracleRequestID); reopenErr != nil {
				return nil, reopenErr
			}
			if e.metrics != nil {
				e.metrics.BridgeFailures.WithLabelValues(policySymbol).Inc()
			}
			return nil, fmt.Errorf("bridge preflight for %s: %w", policySymbol, err)
		}
	}

	if err := e.settlements.MarkSettled(cmd.OracleRequestID); err != nil {
		return nil, err
	}

	outcome := "repaid"
	if defaulted {
		outcome = "defaulted"
	}
	if e.metrics != nil {
		e.metrics.SettlementsCompleted.WithLabelValues(policySymbol, outcome).Inc()
	}

	var emissions []emission

	if !hasClients {
		e.log.Info().Str("policy", policySymbol).Msg("settlement with no clients")
		emissions = append(emissions, emission{
			evtType: event.EventTypeInsuranceWithoutClients,
			policy:  &policySymbol,
			payload: &event.InsuranceWithoutClients{AssetID: pol.AssetID, Policy: policySymbol},
			key:     cmd.IdempotencyKey() + ":no_clients",
		})
	} else {
		payoutEmissions, err := e.settleClients(ctx, cmd, pol, a, defaulted)
		if err != nil {
			return nil, err
		}
		emissions = append(emissions, payoutEmissions...)
	}

	emissions = append(emissions, emission{
		evtType: event.EventTypeUpkeepPerformed,
		policy:  &policySymbol,
		payload: &event.UpkeepPerformed{AssetID: pol.AssetID, Policy: policySymbol, Defaulted: defaulted},
	})

	if e.metrics != nil {
		e.metrics.SecuredTotal.WithLabelValues(policySymbol).Set(0)
	}

	return emissions, nil
}

func (e *Engine) reopenAfterOracleFault(cmd *event.LiquidationResult, policySymbol, reason string) ([]emission, error) {
	if err := e.settlements.Reopen(cmd.OracleRequestID); err != nil {
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.OracleErrors.WithLabelValues(policySymbol).Inc()
	}
	e.log.Warn().Str("policy", policySymbol).Str("reason", reason).Msg("settlement reopened")

	return []emission{{
		evtType: event.EventTypeLiquidationResult,
		policy:  &policySymbol,
		payload: map[string]interface{}{"policy": policySymbol, "error": reason, "reopened": true},
	}}, nil
}

// settleClients runs the payout loop: buyers in ascending registration
// order, one journal batch and one bridge dispatch per buyer.
func (e *Engine) settleClients(ctx context.Context, cmd *event.LiquidationResult, pol *asset.Policy, a *asset.Asset, defaulted bool) ([]emission, error) {
	settlementToken, err := e.bank.Token(pol.SettlementToken)
	if err != nil {
		return nil, err
	}
	receipt, err := e.bank.Token(pol.Symbol)
	if err != nil {
		return nil, err
	}
	settlementAssetID, ok := ledger.GetAssetID(pol.SettlementToken)
	if !ok {
		panic(fmt.Sprintf("FATAL: settlement token %s has no ledger asset id", pol.SettlementToken))
	}

	records := e.book.Drain(pol.AssetID)
	ts := cmd.Timestamp.UnixMicro()

	var emissions []emission

	for _, rec := range records {
		cost, payout := settlement.PayoutFor(rec.SecuredAmount, pol.Prime, a.Yield, defaulted)

		if err := receipt.Burn(rec.Buyer, rec.Quantity); err != nil {
			panic(fmt.Sprintf("FATAL: receipt burn for %s failed: %v", rec.Buyer, err))
		}

		// The issuer repays yield into custody on the no-default
		// branch; modeled as a mint since the repayment originates
		// off-ledger.
		if !defaulted {
			yieldPortion := payout + cost - rec.SecuredAmount
			if yieldPortion > 0 {
				if err := settlementToken.Mint(e.custody, yieldPortion); err != nil {
					panic(fmt.Sprintf("FATAL: yield funding mint failed: %v", err))
				}
			}
		}
		// Payout leaves this chain through the bridge.
		if payout > 0 {
			if err := settlementToken.Burn(e.custody, payout); err != nil {
				panic(fmt.Sprintf("FATAL: custody burn for payout failed: %v", err))
			}
		}

		batch := e.payoutBatch(cmd.IdempotencyKey(), settlementAssetID, rec.SecuredAmount, cost, payout, defaulted, ts)

		perBuyerType := event.EventTypeInsurancePaid
		var perBuyerPayload interface{} = &event.InsurancePaid{
			AssetID: pol.AssetID, Policy: pol.Symbol, Buyer: rec.Buyer,
			Secured: rec.SecuredAmount, Payout: payout,
		}
		if !defaulted {
			perBuyerType = event.EventTypeRWAYieldPaid
			perBuyerPayload = &event.RWAYieldPaid{
				AssetID: pol.AssetID, Policy: pol.Symbol, Buyer: rec.Buyer,
				Secured: rec.SecuredAmount, Payout: payout,
			}
		}

		emissions = append(emissions, emission{
			evtType: perBuyerType,
			policy:  &pol.Symbol,
			batch:   batch,
			payload: perBuyerPayload,
			key:     fmt.Sprintf("%s:%s:paid", cmd.IdempotencyKey(), rec.Buyer),
		})

		emissions = append(emissions, emission{
			evtType: event.EventTypeInsuranceTotalPayment,
			policy:  &pol.Symbol,
			payload: &event.InsuranceTotalPayment{
				AssetID: pol.AssetID, Policy: pol.Symbol, Buyer: rec.Buyer,
				Secured: rec.SecuredAmount, Cost: cost, Payout: payout,
			},
			key: fmt.Sprintf("%s:%s:total", cmd.IdempotencyKey(), rec.Buyer),
		})

		if e.metrics != nil {
			e.metrics.PayoutVolume.WithLabelValues(pol.Symbol).Add(float64(payout))
		}

		// Dispatch is optimistic after the ledger is settled: transport
		// retry is the relayer's concern, failures are only logged.
		if payout > 0 {
			msgID, err := e.dispatcher.DispatchPayment(ctx, bridge.Route(*pol.Route), rec.Buyer, pol.SettlementToken, payout)
			if err != nil {
				if e.metrics != nil {
					e.metrics.BridgeFailures.WithLabelValues(pol.Symbol).Inc()
				}
				e.log.Error().Err(err).Str("buyer", rec.Buyer).Int64("amount", payout).Msg("bridge dispatch failed")
				continue
			}

			if e.metrics != nil {
				e.metrics.BridgeDispatches.WithLabelValues(pol.Symbol).Inc()
			}
			emissions = append(emissions, emission{
				evtType: event.EventTypePayoutDispatched,
				policy:  &pol.Symbol,
				payload: &event.PayoutDispatched{
					AssetID: pol.AssetID, Policy: pol.Symbol, Buyer: rec.Buyer,
					Amount: payout, MessageID: msgID,
				},
				key: fmt.Sprintf("%s:%s:dispatched", cmd.IdempotencyKey(), rec.Buyer),
			})
		}
	}

	return emissions, nil
}

// payoutBatch builds the per-buyer settlement journals. Custody ends
// at zero for the buyer's share: the retained prime moves to premium
// revenue, the payout moves to the bridge boundary, and on the
// no-default branch the issuer funds the yield portion first.
// secured = payout + cost - yieldPortion, so the custody delta is
// exactly -secured, cancelling the sale-time credit.
func (e *Engine) payoutBatch(eventRef string, assetID ledger.AssetID, secured, cost, payout int64, defaulted bool, ts int64) *ledger.Batch {
	batchID := uuid.New()
	batch := &ledger.Batch{
		BatchID:   batchID,
		EventRef:  eventRef,
		Sequence:  e.sequence,
		Timestamp: ts,
		Journals:  make([]ledger.Journal, 0, 3),
	}

	custody := ledger.NewSystemAccountKey(ledger.SubTypeCustody, assetID)

	appendJournal := func(debit, credit ledger.AccountKey, amount int64, jt ledger.JournalType) {
		if amount <= 0 {
			return
		}
		batch.Journals = append(batch.Journals, ledger.Journal{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			EventRef:      eventRef,
			Sequence:      e.sequence,
			DebitAccount:  debit,
			CreditAccount: credit,
			AssetID:       assetID,
			Amount:        amount,
			JournalType:   jt,
			Timestamp:     ts,
		})
	}

	if !defaulted {
		yieldPortion := payout + cost - secured
		appendJournal(custody, ledger.NewExternalAccountKey(ledger.SubTypeIssuerRepayment, assetID), yieldPortion, ledger.JournalTypeIssuerFunding)
	}
	appendJournal(ledger.NewSystemAccountKey(ledger.SubTypePremiumRevenue, assetID), custody, cost, ledger.JournalTypePremiumRetain)
	appendJournal(ledger.NewExternalAccountKey(ledger.SubTypeBridgeOut, assetID), custody, payout, ledger.JournalTypePayout)

	return batch
}

func (e *Engine) postCheckInvariants() error {
	if err := e.validator.ValidateGlobalBalance(); err != nil {
		return err
	}
	return e.validator.ValidateAllCustodyNonNegative()
}

// Sequence returns the current global sequence number.
func (e *Engine) Sequence() int64 {
	return e.sequence
}

// Tracker exposes the balance tracker for read-side checks.
func (e *Engine) Tracker() *ledger.BalanceTracker {
	return e.tracker
}

// WarmLRU loads recent idempotency keys on restart.
func (e *Engine) WarmLRU(keys []string) {
	e.idempotency.WarmFromKeys(keys)
}

func marshalPayload(v interface{}) []byte {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
