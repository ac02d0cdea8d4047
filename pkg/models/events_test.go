package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidSymbol(t *testing.T) {
	valid := []string{"A", "AAPL", "BRK.B", "BF-B", "GOOG", "X1234567.9"}
	for _, s := range valid {
		assert.True(t, ValidSymbol(s), s)
	}

	invalid := []string{"", "aapl", "aapl!", "AAPL!", ".AAPL", "-X", "TOOLONGSYMBOL", "AA PL"}
	for _, s := range invalid {
		assert.False(t, ValidSymbol(s), s)
	}
}

func TestUnwrapEvent_Trade(t *testing.T) {
	payload, err := WrapEvent(TradeEvent{
		Type:      TypeTrade,
		Symbol:    "AAPL",
		Price:     150.25,
		Size:      100,
		Timestamp: 1234567890000000000,
	})
	require.NoError(t, err)

	got, err := UnwrapEvent(payload)
	require.NoError(t, err)

	trade, ok := got.(TradeEvent)
	require.True(t, ok, "expected TradeEvent, got %T", got)
	assert.Equal(t, "AAPL", trade.Symbol)
	assert.Equal(t, 150.25, trade.Price)
	assert.Equal(t, int64(1234567890000000000), trade.Timestamp)
}

func TestUnwrapEvent_Bar(t *testing.T) {
	payload, err := WrapEvent(BarEvent{
		Type: TypeBar, Symbol: "MSFT", Timeframe: Timeframe1Min,
		Timestamp: 1700000000000000000,
		Open:      10, High: 12, Low: 9, Close: 11, Volume: 5000,
	})
	require.NoError(t, err)

	got, err := UnwrapEvent(payload)
	require.NoError(t, err)

	bar, ok := got.(BarEvent)
	require.True(t, ok, "expected BarEvent, got %T", got)
	assert.Equal(t, Timeframe1Min, bar.Timeframe)
	assert.Equal(t, 11.0, bar.Close)
}

func TestUnwrapEvent_Malformed(t *testing.T) {
	cases := map[string]string{
		"not json":      `{broken`,
		"no data field": `{"other":{}}`,
		"unknown type":  `{"data":{"type":"quote"}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := UnwrapEvent([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestTradeValidate(t *testing.T) {
	good := TradeEvent{Type: TypeTrade, Symbol: "AAPL", Price: 1.5, Size: 10, Timestamp: 1}
	assert.NoError(t, good.Validate())

	bad := []TradeEvent{
		{Type: TypeTrade, Symbol: "aapl!", Price: 1, Timestamp: 1},
		{Type: TypeTrade, Symbol: "AAPL", Price: 0, Timestamp: 1},
		{Type: TypeTrade, Symbol: "AAPL", Price: 1, Size: -1, Timestamp: 1},
		{Type: TypeTrade, Symbol: "AAPL", Price: 1},
	}
	for _, ev := range bad {
		assert.Error(t, ev.Validate())
	}
}

func TestBarValidate(t *testing.T) {
	good := BarEvent{Type: TypeBar, Symbol: "AAPL", Timeframe: Timeframe1Min, Timestamp: 1, Open: 1, High: 2, Low: 1, Close: 2}
	assert.NoError(t, good.Validate())

	bad := []BarEvent{
		{Type: TypeBar, Symbol: "AAPL", Timeframe: "2m", Timestamp: 1},
		{Type: TypeBar, Symbol: "AAPL", Timeframe: Timeframe1Min},
		{Type: TypeBar, Symbol: "AAPL", Timeframe: Timeframe1Min, Timestamp: 1, High: 1, Low: 2},
	}
	for _, ev := range bad {
		assert.Error(t, ev.Validate())
	}
}
