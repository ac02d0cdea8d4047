package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/mya15oct/stock-backend/pkg/models"
)

const (
	tradeColumns = 4
	barColumns   = 10
)

// Postgres persists trades and bars. Idempotence comes from the table
// constraints: trades are unique on (stock_id, ts) and conflict-ignored,
// bars are unique on (stock_id, timeframe, ts) and conflict-updated so the
// latest revision wins.
type Postgres struct {
	db *sql.DB

	mu       sync.Mutex
	stockIDs map[string]int64 // ticker -> stock_id, immutable once assigned
}

func New(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Postgres{db: db, stockIDs: make(map[string]int64)}, nil
}

// SaveTrades inserts a batch in one multi-row statement; duplicate
// (stock_id, ts) rows are silently skipped.
func (p *Postgres) SaveTrades(ctx context.Context, trades []models.TradeEvent) error {
	if len(trades) == 0 {
		return nil
	}

	ids, err := p.resolveStockIDs(ctx, tradeSymbols(trades))
	if err != nil {
		return err
	}

	args := make([]interface{}, 0, len(trades)*tradeColumns)
	for _, t := range trades {
		args = append(args, ids[t.Symbol], t.Time(), t.Price, t.Size)
	}

	_, err = p.db.ExecContext(ctx, tradeInsertQuery(len(trades)), args...)
	if err != nil {
		return fmt.Errorf("insert trades: %w", err)
	}
	return nil
}

// UpsertBars applies bar revisions strictly in the given order inside one
// transaction, so a replayed or duplicated batch converges on the latest
// revision per key.
func (p *Postgres) UpsertBars(ctx context.Context, bars []models.BarEvent) error {
	if len(bars) == 0 {
		return nil
	}

	ids, err := p.resolveStockIDs(ctx, barSymbols(bars))
	if err != nil {
		return err
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, barUpsertQuery)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, b := range bars {
		_, err := stmt.ExecContext(ctx,
			ids[b.Symbol], string(b.Timeframe), b.Time(),
			b.Open, b.High, b.Low, b.Close, b.Volume, b.TradeCount, b.VWAP)
		if err != nil {
			return fmt.Errorf("upsert bar %s/%s: %w", b.Symbol, b.Timeframe, err)
		}
	}

	return tx.Commit()
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

// resolveStockIDs maps tickers to stock ids, creating missing rows. IDs are
// cached per process; a ticker's id never changes.
func (p *Postgres) resolveStockIDs(ctx context.Context, symbols []string) (map[string]int64, error) {
	out := make(map[string]int64, len(symbols))
	var missing []string

	p.mu.Lock()
	for _, sym := range symbols {
		if id, ok := p.stockIDs[sym]; ok {
			out[sym] = id
		} else {
			missing = append(missing, sym)
		}
	}
	p.mu.Unlock()

	for _, sym := range missing {
		var id int64
		err := p.db.QueryRowContext(ctx, stockUpsertQuery, sym).Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("resolve stock id for %s: %w", sym, err)
		}
		out[sym] = id

		p.mu.Lock()
		p.stockIDs[sym] = id
		p.mu.Unlock()
	}

	return out, nil
}

const stockUpsertQuery = `
	INSERT INTO stocks (ticker, status)
	VALUES ($1, 'active')
	ON CONFLICT (ticker) DO UPDATE SET ticker = EXCLUDED.ticker
	RETURNING stock_id`

const barUpsertQuery = `
	INSERT INTO stock_bars
	(stock_id, timeframe, ts, open_price, high_price, low_price, close_price, volume, trade_count, vwap)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (stock_id, timeframe, ts) DO UPDATE SET
		open_price = EXCLUDED.open_price,
		high_price = EXCLUDED.high_price,
		low_price = EXCLUDED.low_price,
		close_price = EXCLUDED.close_price,
		volume = EXCLUDED.volume,
		trade_count = EXCLUDED.trade_count,
		vwap = EXCLUDED.vwap`

// tradeInsertQuery builds the multi-row insert for n trades.
func tradeInsertQuery(n int) string {
	var sb strings.Builder
	sb.WriteString("INSERT INTO stock_trades_realtime (stock_id, ts, price, size) VALUES ")
	for i := 0; i < n; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * tradeColumns
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4)
	}
	sb.WriteString(" ON CONFLICT (stock_id, ts) DO NOTHING")
	return sb.String()
}

func tradeSymbols(trades []models.TradeEvent) []string {
	seen := make(map[string]bool, len(trades))
	var out []string
	for _, t := range trades {
		if !seen[t.Symbol] {
			seen[t.Symbol] = true
			out = append(out, t.Symbol)
		}
	}
	return out
}

func barSymbols(bars []models.BarEvent) []string {
	seen := make(map[string]bool, len(bars))
	var out []string
	for _, b := range bars {
		if !seen[b.Symbol] {
			seen[b.Symbol] = true
			out = append(out, b.Symbol)
		}
	}
	return out
}
