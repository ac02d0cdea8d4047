package feed

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mya15oct/stock-backend/pkg/models"
)

var ingestedAt = time.Unix(1700000000, 0)

func TestNormalizeTrade_NanosTimestamp(t *testing.T) {
	raw := json.RawMessage(`{"T":"t","S":"AAPL","p":150.25,"s":100,"t":1234567890000000000}`)

	ev, err := NormalizeTrade(raw, ingestedAt)
	require.NoError(t, err)

	assert.Equal(t, models.TypeTrade, ev.Type)
	assert.Equal(t, "AAPL", ev.Symbol)
	assert.Equal(t, 150.25, ev.Price)
	assert.Equal(t, 100.0, ev.Size)
	assert.Equal(t, int64(1234567890000000000), ev.Timestamp)
	assert.Equal(t, ingestedAt.UnixNano(), ev.IngestedAt)
}

func TestNormalizeTrade_ISOTimestamp(t *testing.T) {
	raw := json.RawMessage(`{"T":"t","S":"MSFT","p":300.5,"s":10,"t":"2025-01-27T15:41:00.123456789Z"}`)

	ev, err := NormalizeTrade(raw, ingestedAt)
	require.NoError(t, err)

	want, _ := time.Parse(time.RFC3339Nano, "2025-01-27T15:41:00.123456789Z")
	assert.Equal(t, want.UnixNano(), ev.Timestamp)
}

func TestNormalizeTrade_Invalid(t *testing.T) {
	cases := map[string]string{
		"bad symbol":    `{"T":"t","S":"aapl!","p":1,"s":1,"t":1}`,
		"zero price":    `{"T":"t","S":"AAPL","p":0,"s":1,"t":1}`,
		"negative size": `{"T":"t","S":"AAPL","p":1,"s":-1,"t":1}`,
		"no timestamp":  `{"T":"t","S":"AAPL","p":1,"s":1}`,
		"bad timestamp": `{"T":"t","S":"AAPL","p":1,"s":1,"t":"yesterday"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NormalizeTrade(json.RawMessage(raw), ingestedAt)
			assert.Error(t, err)
		})
	}
}

func TestNormalizeBar(t *testing.T) {
	raw := json.RawMessage(`{"T":"b","S":"GOOGL","o":10,"h":12,"l":9,"c":11,"v":5000,"t":"2025-01-27T15:41:00Z","n":42,"vw":10.5}`)

	ev, err := NormalizeBar(raw, ingestedAt)
	require.NoError(t, err)

	assert.Equal(t, models.TypeBar, ev.Type)
	assert.Equal(t, models.Timeframe1Min, ev.Timeframe)
	assert.Equal(t, 12.0, ev.High)
	assert.Equal(t, int64(42), ev.TradeCount)
	assert.Equal(t, 10.5, ev.VWAP)
}

func TestNormalizeBar_HighBelowLow(t *testing.T) {
	raw := json.RawMessage(`{"T":"b","S":"GOOGL","o":10,"h":9,"l":12,"c":11,"v":1,"t":1}`)
	_, err := NormalizeBar(raw, ingestedAt)
	assert.Error(t, err)
}

func TestSplitFrames(t *testing.T) {
	frames, err := splitFrames([]byte(`[{"T":"success"},{"T":"t"}]`))
	require.NoError(t, err)
	assert.Len(t, frames, 2)

	_, err = splitFrames([]byte(`{"T":"t"}`))
	assert.Error(t, err, "non-array messages are malformed")
}
