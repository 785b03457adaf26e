package ingestion

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"blockshield/internal/event"
)

// ParseRawEvent converts a RawEvent (JSON bytes + command type string)
// into a typed event.Event. The ingestion shell validates and converts
// before anything reaches the core.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	switch eventType {
	case "CreateAsset":
		return parseCreateAsset(raw.Data)
	case "CreatePolicy":
		return parseCreatePolicy(raw.Data)
	case "SetSettlementToken":
		return parseSetSettlementToken(raw.Data)
	case "SetCrossChainRoute":
		return parseSetCrossChainRoute(raw.Data)
	case "HireInsurance":
		return parseHireInsurance(raw.Data)
	case "PerformUpkeep":
		return parsePerformUpkeep(raw.Data)
	case "LiquidationResult":
		return parseLiquidationResult(raw.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers. Large
// numerics (wad values) travel as decimal strings.

type createAssetJSON struct {
	RequestID   string `json:"request_id"`
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	TotalSupply int64  `json:"total_supply"`
	TotalValue  string `json:"total_value"`
	DueDateUs   int64  `json:"due_date_us"`
	Yield       int64  `json:"yield"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseCreateAsset(data []byte) (*event.CreateAsset, error) {
	var j createAssetJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CreateAsset: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	totalValue, ok := new(big.Int).SetString(j.TotalValue, 10)
	if !ok {
		return nil, fmt.Errorf("parse total_value: %q", j.TotalValue)
	}
	return &event.CreateAsset{
		RequestID:   requestID,
		Name:        j.Name,
		Symbol:      j.Symbol,
		TotalSupply: j.TotalSupply,
		TotalValue:  totalValue,
		DueDate:     time.UnixMicro(j.DueDateUs),
		Yield:       j.Yield,
		Timestamp:   time.UnixMicro(j.TimestampUs),
	}, nil
}

type createPolicyJSON struct {
	RequestID   string `json:"request_id"`
	AssetSymbol string `json:"asset_symbol"`
	Name        string `json:"name"`
	Prime       int64  `json:"prime"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseCreatePolicy(data []byte) (*event.CreatePolicy, error) {
	var j createPolicyJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CreatePolicy: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	return &event.CreatePolicy{
		RequestID:   requestID,
		AssetSymbol: j.AssetSymbol,
		Name:        j.Name,
		Prime:       j.Prime,
		Timestamp:   time.UnixMicro(j.TimestampUs),
	}, nil
}

type setSettlementTokenJSON struct {
	RequestID   string `json:"request_id"`
	Policy      string `json:"policy"`
	Token       string `json:"token"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseSetSettlementToken(data []byte) (*event.SetSettlementToken, error) {
	var j setSettlementTokenJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse SetSettlementToken: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	return &event.SetSettlementToken{
		RequestID: requestID,
		Policy:    j.Policy,
		Token:     j.Token,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type setRouteJSON struct {
	RequestID        string `json:"request_id"`
	Policy           string `json:"policy"`
	ChainSelector    uint64 `json:"chain_selector"`
	DestinationToken string `json:"destination_token"`
	FeeToken         string `json:"fee_token"`
	TimestampUs      int64  `json:"timestamp_us"`
}

func parseSetCrossChainRoute(data []byte) (*event.SetCrossChainRoute, error) {
	var j setRouteJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse SetCrossChainRoute: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	return &event.SetCrossChainRoute{
		RequestID:        requestID,
		Policy:           j.Policy,
		ChainSelector:    j.ChainSelector,
		DestinationToken: j.DestinationToken,
		FeeToken:         j.FeeToken,
		Timestamp:        time.UnixMicro(j.TimestampUs),
	}, nil
}

type hireInsuranceJSON struct {
	RequestID   string `json:"request_id"`
	Policy      string `json:"policy"`
	Buyer       string `json:"buyer"`
	Quantity    int64  `json:"quantity"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseHireInsurance(data []byte) (*event.HireInsurance, error) {
	var j hireInsuranceJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse HireInsurance: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	return &event.HireInsurance{
		RequestID: requestID,
		Policy:    j.Policy,
		Buyer:     j.Buyer,
		Quantity:  j.Quantity,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type performUpkeepJSON struct {
	RequestID   string `json:"request_id"`
	Policy      string `json:"policy"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parsePerformUpkeep(data []byte) (*event.PerformUpkeep, error) {
	var j performUpkeepJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PerformUpkeep: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	return &event.PerformUpkeep{
		RequestID: requestID,
		Policy:    j.Policy,
		Now:       time.UnixMicro(j.TimestampUs),
	}, nil
}

type liquidationResultJSON struct {
	RequestID   string `json:"request_id"`
	Payload     string `json:"payload"` // base64 uint256 big-endian
	Error       string `json:"error,omitempty"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseLiquidationResult(data []byte) (*event.LiquidationResult, error) {
	var j liquidationResultJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse LiquidationResult: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	var payload []byte
	if j.Payload != "" {
		payload, err = base64.StdEncoding.DecodeString(j.Payload)
		if err != nil {
			return nil, fmt.Errorf("parse payload: %w", err)
		}
	}
	return &event.LiquidationResult{
		OracleRequestID: requestID,
		Payload:         payload,
		ErrMsg:          j.Error,
		Timestamp:       time.UnixMicro(j.TimestampUs),
	}, nil
}
