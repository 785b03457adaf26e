package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"blockshield/internal/token"
)

// SubjectPayments is where cross-chain payment messages are published
// for the bridge relayer.
const SubjectPayments = "shield.bridge.payments"

var (
	ErrInvalidRoute    = errors.New("invalid cross-chain route")
	ErrInsufficientFee = errors.New("insufficient fee-token balance")
)

// Route identifies the destination chain and tokens for a payout.
type Route struct {
	ChainSelector    uint64 `json:"chain_selector"`
	DestinationToken string `json:"destination_token"`
	FeeToken         string `json:"fee_token"`
}

// Payment is the wire message handed to the bridge relayer.
type Payment struct {
	MessageID        uuid.UUID `json:"message_id"`
	ChainSelector    uint64    `json:"chain_selector"`
	DestinationToken string    `json:"destination_token"`
	Recipient        string    `json:"recipient"`
	Token            string    `json:"token"`
	Amount           int64     `json:"amount"`
}

// Dispatcher moves settlement payouts across chains.
//
// VerifyRoute is the preflight: it must be called before any ledger
// mutation so a misconfigured route or an unfunded fee wallet fails
// the settlement while it is still retryable.
type Dispatcher interface {
	VerifyRoute(ctx context.Context, route Route) error
	DispatchPayment(ctx context.Context, route Route, recipient, tokenSymbol string, amount int64) (uuid.UUID, error)
}

// NATSDispatcher publishes payment messages over JetStream. Fees are
// checked against the fee payer's fee-token balance.
type NATSDispatcher struct {
	js       jetstream.JetStream
	bank     *token.Bank
	feePayer string
	fee      int64 // flat fee per message, fee-token decimals
}

func NewNATSDispatcher(js jetstream.JetStream, bank *token.Bank, feePayer string, fee int64) *NATSDispatcher {
	return &NATSDispatcher{js: js, bank: bank, feePayer: feePayer, fee: fee}
}

func (d *NATSDispatcher) VerifyRoute(ctx context.Context, route Route) error {
	if route.ChainSelector == 0 || route.DestinationToken == "" {
		return ErrInvalidRoute
	}
	if route.FeeToken == "" {
		return ErrInvalidRoute
	}

	feeToken, err := d.bank.Token(route.FeeToken)
	if err != nil {
		return fmt.Errorf("fee token: %w", err)
	}
	if feeToken.BalanceOf(d.feePayer) < d.fee {
		return fmt.Errorf("fee payer %s holds %d %s, need %d: %w",
			d.feePayer, feeToken.BalanceOf(d.feePayer), route.FeeToken, d.fee, ErrInsufficientFee)
	}
	return nil
}

func (d *NATSDispatcher) DispatchPayment(ctx context.Context, route Route, recipient, tokenSymbol string, amount int64) (uuid.UUID, error) {
	if err := d.VerifyRoute(ctx, route); err != nil {
		return uuid.Nil, err
	}

	feeToken, err := d.bank.Token(route.FeeToken)
	if err != nil {
		return uuid.Nil, err
	}
	if d.fee > 0 {
		if err := feeToken.Burn(d.feePayer, d.fee); err != nil {
			return uuid.Nil, fmt.Errorf("collect bridge fee: %w", err)
		}
	}

	msg := Payment{
		MessageID:        uuid.New(),
		ChainSelector:    route.ChainSelector,
		DestinationToken: route.DestinationToken,
		Recipient:        recipient,
		Token:            tokenSymbol,
		Amount:           amount,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal payment: %w", err)
	}
	if _, err := d.js.Publish(ctx, SubjectPayments, data); err != nil {
		return uuid.Nil, fmt.Errorf("publish payment: %w", err)
	}
	return msg.MessageID, nil
}

// MemoryDispatcher records payments for tests.
type MemoryDispatcher struct {
	mu        sync.Mutex
	Payments  []Payment
	VerifyErr error
	SendErr   error
}

func (d *MemoryDispatcher) VerifyRoute(_ context.Context, route Route) error {
	if d.VerifyErr != nil {
		return d.VerifyErr
	}
	if route.ChainSelector == 0 || route.DestinationToken == "" {
		return ErrInvalidRoute
	}
	return nil
}

func (d *MemoryDispatcher) DispatchPayment(_ context.Context, route Route, recipient, tokenSymbol string, amount int64) (uuid.UUID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.SendErr != nil {
		return uuid.Nil, d.SendErr
	}
	msg := Payment{
		MessageID:        uuid.New(),
		ChainSelector:    route.ChainSelector,
		DestinationToken: route.DestinationToken,
		Recipient:        recipient,
		Token:            tokenSymbol,
		Amount:           amount,
	}
	d.Payments = append(d.Payments, msg)
	return msg.MessageID, nil
}

// Dispatched returns the number of recorded payments.
func (d *MemoryDispatcher) Dispatched() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Payments)
}
