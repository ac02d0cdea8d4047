package protocol

import (
	"encoding/json"
	"fmt"
)

const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

// Outbound event types.
const (
	TypeTradeUpdate = "trade_update"
	TypeBarUpdate   = "bar_update"
	TypeAck         = "ack"
	TypeError       = "error"
)

// WSRequest is a viewer control message. Symbol accepts either a bare
// string ("AAPL") or an object ({"symbol":"AAPL"}).
type WSRequest struct {
	Action string          `json:"action"`
	Symbol json.RawMessage `json:"symbol"`
	ID     string          `json:"id,omitempty"`
}

// ParseSymbol extracts the symbol from either accepted payload shape.
func (r WSRequest) ParseSymbol() (string, error) {
	if len(r.Symbol) == 0 {
		return "", fmt.Errorf("missing symbol")
	}

	var s string
	if err := json.Unmarshal(r.Symbol, &s); err == nil {
		return s, nil
	}

	var obj struct {
		Symbol string `json:"symbol"`
	}
	if err := json.Unmarshal(r.Symbol, &obj); err == nil && obj.Symbol != "" {
		return obj.Symbol, nil
	}

	return "", fmt.Errorf("unrecognized symbol payload")
}

type WSResponse struct {
	Type    string      `json:"type"`             // "ack", "error", "trade_update", "bar_update"
	ID      string      `json:"id,omitempty"`     // Matches request ID
	Status  string      `json:"status,omitempty"` // "success", "error"
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}
