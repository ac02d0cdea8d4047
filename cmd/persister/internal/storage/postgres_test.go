package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mya15oct/stock-backend/pkg/models"
)

func TestTradeInsertQuery(t *testing.T) {
	q := tradeInsertQuery(1)
	assert.Equal(t,
		"INSERT INTO stock_trades_realtime (stock_id, ts, price, size) VALUES ($1, $2, $3, $4) ON CONFLICT (stock_id, ts) DO NOTHING",
		q)

	q = tradeInsertQuery(3)
	assert.Contains(t, q, "($1, $2, $3, $4), ($5, $6, $7, $8), ($9, $10, $11, $12)")
	assert.Contains(t, q, "ON CONFLICT (stock_id, ts) DO NOTHING")
}

func TestBarUpsertReplacesAllValueColumns(t *testing.T) {
	// The upsert must overwrite the full OHLCV tuple so a replayed older
	// batch followed by the newer revision converges.
	for _, col := range []string{"open_price", "high_price", "low_price", "close_price", "volume", "trade_count", "vwap"} {
		assert.Contains(t, barUpsertQuery, col+" = EXCLUDED."+col)
	}
	assert.Contains(t, barUpsertQuery, "ON CONFLICT (stock_id, timeframe, ts) DO UPDATE")
}

func TestSymbolDeduplication(t *testing.T) {
	trades := []models.TradeEvent{
		{Symbol: "AAPL"}, {Symbol: "MSFT"}, {Symbol: "AAPL"},
	}
	assert.Equal(t, []string{"AAPL", "MSFT"}, tradeSymbols(trades))

	bars := []models.BarEvent{
		{Symbol: "GOOGL"}, {Symbol: "GOOGL"},
	}
	assert.Equal(t, []string{"GOOGL"}, barSymbols(bars))
}
