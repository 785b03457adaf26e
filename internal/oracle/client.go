package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
)

// SubjectRequests is where liquidation queries are published for the
// off-chain oracle runner.
const SubjectRequests = "shield.oracle.requests"

// Request is a one-shot liquidation query: "has this RWA defaulted?"
// The runner executes FunctionSource with Args and replies with a
// big-endian uint256 (zero = not defaulted) on the results subject.
type Request struct {
	ID             uuid.UUID `json:"id"`
	Policy         string    `json:"policy"`
	AssetSymbol    string    `json:"asset_symbol"`
	FunctionSource string    `json:"function_source"`
	Args           []string  `json:"args"`
}

// Client dispatches liquidation queries to the oracle network.
type Client interface {
	Send(ctx context.Context, req Request) error
}

// NATSClient publishes requests over JetStream.
type NATSClient struct {
	js jetstream.JetStream
}

func NewNATSClient(js jetstream.JetStream) *NATSClient {
	return &NATSClient{js: js}
}

func (c *NATSClient) Send(ctx context.Context, req Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal oracle request: %w", err)
	}
	if _, err := c.js.Publish(ctx, SubjectRequests, data); err != nil {
		return fmt.Errorf("publish oracle request: %w", err)
	}
	return nil
}

// MockClient records requests for tests.
type MockClient struct {
	mu       sync.Mutex
	Requests []Request
	Err      error
}

func (c *MockClient) Send(_ context.Context, req Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	c.Requests = append(c.Requests, req)
	return nil
}

// Sent returns the number of recorded requests.
func (c *MockClient) Sent() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Requests)
}

// DecodeSettled interprets an oracle response payload. The payload is
// a big-endian unsigned integer: zero means the asset repaid, any
// nonzero value means it defaulted.
func DecodeSettled(payload []byte) (defaulted bool, err error) {
	if len(payload) == 0 {
		return false, fmt.Errorf("empty oracle payload")
	}
	if len(payload) > 32 {
		return false, fmt.Errorf("oracle payload too long: %d bytes", len(payload))
	}
	v := new(big.Int).SetBytes(payload)
	return v.Sign() != 0, nil
}
