package models

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	TypeTrade = "trade"
	TypeBar   = "bar"
)

// Timeframe identifies the aggregation window of a bar.
type Timeframe string

const (
	Timeframe1Min  Timeframe = "1m"
	Timeframe5Min  Timeframe = "5m"
	Timeframe15Min Timeframe = "15m"
	Timeframe1Hour Timeframe = "1h"
	Timeframe1Day  Timeframe = "1d"
)

func (tf Timeframe) Valid() bool {
	switch tf {
	case Timeframe1Min, Timeframe5Min, Timeframe15Min, Timeframe1Hour, Timeframe1Day:
		return true
	}
	return false
}

// TradeEvent is a single execution reported by the upstream feed.
// Timestamp is the upstream event time in epoch nanoseconds and, together
// with Symbol, forms the storage uniqueness key.
type TradeEvent struct {
	Type       string  `json:"type"`
	Symbol     string  `json:"symbol"`
	Price      float64 `json:"price"`
	Size       float64 `json:"size"`
	Timestamp  int64   `json:"timestamp"`
	IngestedAt int64   `json:"ingested_at,omitempty"`
}

// BarEvent is an OHLCV aggregate. (Symbol, Timeframe, Timestamp) is the
// storage uniqueness key; a later revision for the same key overwrites the
// whole value tuple.
type BarEvent struct {
	Type       string    `json:"type"`
	Symbol     string    `json:"symbol"`
	Timeframe  Timeframe `json:"timeframe"`
	Timestamp  int64     `json:"timestamp"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     float64   `json:"volume"`
	TradeCount int64     `json:"trade_count,omitempty"`
	VWAP       float64   `json:"vwap,omitempty"`
}

// Envelope is the log wire format: the event lives under a single "data"
// field so consumers can peek at the type without committing to a shape.
type Envelope struct {
	Data json.RawMessage `json:"data"`
}

func WrapEvent(event interface{}) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Data: data})
}

// UnwrapEvent decodes an envelope into the event matching its type field.
func UnwrapEvent(payload []byte) (interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(env.Data, &head); err != nil {
		return nil, fmt.Errorf("decode event head: %w", err)
	}

	switch head.Type {
	case TypeTrade:
		var ev TradeEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case TypeBar:
		var ev BarEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", head.Type)
	}
}

// Validate checks domain invariants after decode. Failures here are
// permanent and should be dead-lettered, not retried.
func (e TradeEvent) Validate() error {
	if !ValidSymbol(e.Symbol) {
		return fmt.Errorf("invalid symbol %q", e.Symbol)
	}
	if e.Price <= 0 {
		return fmt.Errorf("non-positive price %v", e.Price)
	}
	if e.Size < 0 {
		return fmt.Errorf("negative size %v", e.Size)
	}
	if e.Timestamp <= 0 {
		return fmt.Errorf("missing event time")
	}
	return nil
}

func (e BarEvent) Validate() error {
	if !ValidSymbol(e.Symbol) {
		return fmt.Errorf("invalid symbol %q", e.Symbol)
	}
	if !e.Timeframe.Valid() {
		return fmt.Errorf("invalid timeframe %q", e.Timeframe)
	}
	if e.Timestamp <= 0 {
		return fmt.Errorf("missing bar time")
	}
	if e.High < e.Low {
		return fmt.Errorf("high %v below low %v", e.High, e.Low)
	}
	return nil
}

func (e TradeEvent) Time() time.Time { return time.Unix(0, e.Timestamp).UTC() }
func (e BarEvent) Time() time.Time   { return time.Unix(0, e.Timestamp).UTC() }
