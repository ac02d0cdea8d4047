package feed

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/mya15oct/stock-backend/pkg/models"
)

// Upstream frame discriminators (the feed's "T" field).
const (
	frameTrade        = "t"
	frameBar          = "b"
	frameSuccess      = "success"
	frameError        = "error"
	frameSubscription = "subscription"
)

// Upstream error codes that mean the credentials were rejected.
var authErrorCodes = map[int]bool{401: true, 402: true, 406: true}

type frameHead struct {
	Type string `json:"T"`
	Msg  string `json:"msg,omitempty"`
	Code int    `json:"code,omitempty"`
}

type tradeFrame struct {
	Symbol    string          `json:"S"`
	Price     float64         `json:"p"`
	Size      float64         `json:"s"`
	Timestamp json.RawMessage `json:"t"`
}

type barFrame struct {
	Symbol     string          `json:"S"`
	Open       float64         `json:"o"`
	High       float64         `json:"h"`
	Low        float64         `json:"l"`
	Close      float64         `json:"c"`
	Volume     float64         `json:"v"`
	Timestamp  json.RawMessage `json:"t"`
	TradeCount int64           `json:"n"`
	VWAP       float64         `json:"vw"`
}

// splitFrames decodes one upstream message, which is always a JSON array of
// heterogeneous frames.
func splitFrames(payload []byte) ([]json.RawMessage, error) {
	var frames []json.RawMessage
	if err := json.Unmarshal(payload, &frames); err != nil {
		return nil, fmt.Errorf("decode frame array: %w", err)
	}
	return frames, nil
}

// NormalizeTrade maps one upstream trade frame to the canonical event.
// Pure; ingestedAt is stamped by the caller's clock.
func NormalizeTrade(raw json.RawMessage, ingestedAt time.Time) (models.TradeEvent, error) {
	var f tradeFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return models.TradeEvent{}, fmt.Errorf("decode trade frame: %w", err)
	}

	ts, err := parseTimestamp(f.Timestamp)
	if err != nil {
		return models.TradeEvent{}, err
	}

	ev := models.TradeEvent{
		Type:       models.TypeTrade,
		Symbol:     f.Symbol,
		Price:      f.Price,
		Size:       f.Size,
		Timestamp:  ts,
		IngestedAt: ingestedAt.UnixNano(),
	}
	if err := ev.Validate(); err != nil {
		return models.TradeEvent{}, err
	}
	return ev, nil
}

// NormalizeBar maps one upstream bar frame to the canonical event. The feed
// only streams minute bars, so the timeframe is fixed at 1m.
func NormalizeBar(raw json.RawMessage, ingestedAt time.Time) (models.BarEvent, error) {
	var f barFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return models.BarEvent{}, fmt.Errorf("decode bar frame: %w", err)
	}

	ts, err := parseTimestamp(f.Timestamp)
	if err != nil {
		return models.BarEvent{}, err
	}

	ev := models.BarEvent{
		Type:       models.TypeBar,
		Symbol:     f.Symbol,
		Timeframe:  models.Timeframe1Min,
		Timestamp:  ts,
		Open:       f.Open,
		High:       f.High,
		Low:        f.Low,
		Close:      f.Close,
		Volume:     f.Volume,
		TradeCount: f.TradeCount,
		VWAP:       f.VWAP,
	}
	if err := ev.Validate(); err != nil {
		return models.BarEvent{}, err
	}
	return ev, nil
}

// parseTimestamp accepts the feed's two timestamp encodings: an RFC3339
// string or an integer epoch in nanoseconds.
func parseTimestamp(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("missing timestamp")
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("decode timestamp string: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return 0, fmt.Errorf("parse timestamp %q: %w", s, err)
		}
		return t.UnixNano(), nil
	}

	ns, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse timestamp %s: %w", raw, err)
	}
	return ns, nil
}
