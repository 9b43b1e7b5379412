// Package recorder persists the session's market data stream to SQLite for
// offline inspection and replay. It records what flowed, not the live mirror;
// losing samples under pressure is acceptable, stalling the session is not.
package recorder

import (
	"context"
	"database/sql"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"brokersync/internal/broker"
)

const writeTimeout = 3 * time.Second

// QuoteSample is one top-of-book observation.
type QuoteSample struct {
	Time    time.Time
	Symbol  string
	Bid     float64
	BidSize float64
	Ask     float64
	AskSize float64
	Last    float64
}

// BarRow is one closed streaming bar.
type BarRow struct {
	Symbol string
	Bar    broker.Bar
}

type Recorder struct {
	db  *sql.DB
	log *zap.Logger

	quotes chan QuoteSample
	bars   chan BarRow
	fills  chan broker.Fill

	started   atomic.Bool
	dropQuote atomic.Uint64
	dropBar   atomic.Uint64
	dropFill  atomic.Uint64
}

func New(path string, log *zap.Logger) (*Recorder, error) {
	if path == "" {
		return nil, errors.New("recorder path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Recorder{
		db:     db,
		log:    log,
		quotes: make(chan QuoteSample, 256),
		bars:   make(chan BarRow, 256),
		fills:  make(chan broker.Fill, 64),
	}, nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS quotes (
			ts INTEGER NOT NULL,
			symbol TEXT NOT NULL,
			bid REAL NOT NULL,
			bid_size REAL NOT NULL,
			ask REAL NOT NULL,
			ask_size REAL NOT NULL,
			last REAL NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS quotes_symbol_ts ON quotes (symbol, ts)`,
		`CREATE TABLE IF NOT EXISTS bars (
			ts INTEGER NOT NULL,
			symbol TEXT NOT NULL,
			open REAL NOT NULL,
			high REAL NOT NULL,
			low REAL NOT NULL,
			close REAL NOT NULL,
			volume REAL NOT NULL,
			PRIMARY KEY (ts, symbol)
		)`,
		`CREATE TABLE IF NOT EXISTS fills (
			exec_id TEXT PRIMARY KEY,
			ts INTEGER NOT NULL,
			symbol TEXT NOT NULL,
			account TEXT NOT NULL,
			side TEXT NOT NULL,
			shares REAL NOT NULL,
			price REAL NOT NULL,
			commission REAL NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Start launches the writer goroutine. Repeated starts are ignored.
func (r *Recorder) Start(ctx context.Context) {
	if r == nil {
		return
	}
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	go r.run(ctx)
}

func (r *Recorder) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// EnqueueQuote records a quote sample, dropping it when the queue is full.
func (r *Recorder) EnqueueQuote(q QuoteSample) {
	if r == nil {
		return
	}
	select {
	case r.quotes <- q:
	default:
		if r.dropQuote.Add(1) == 1 && r.log != nil {
			r.log.Warn("recorder quote queue full")
		}
	}
}

// EnqueueBar records a closed bar, dropping it when the queue is full.
func (r *Recorder) EnqueueBar(b BarRow) {
	if r == nil {
		return
	}
	select {
	case r.bars <- b:
	default:
		if r.dropBar.Add(1) == 1 && r.log != nil {
			r.log.Warn("recorder bar queue full")
		}
	}
}

// EnqueueFill records a fill, dropping it when the queue is full.
func (r *Recorder) EnqueueFill(f broker.Fill) {
	if r == nil {
		return
	}
	select {
	case r.fills <- f:
	default:
		if r.dropFill.Add(1) == 1 && r.log != nil {
			r.log.Warn("recorder fill queue full")
		}
	}
}

// Dropped returns the counts of samples discarded on full queues.
func (r *Recorder) Dropped() (quotes, bars, fills uint64) {
	return r.dropQuote.Load(), r.dropBar.Load(), r.dropFill.Load()
}

func (r *Recorder) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case q := <-r.quotes:
			r.writeQuote(ctx, q)
		case b := <-r.bars:
			r.writeBar(ctx, b)
		case f := <-r.fills:
			r.writeFill(ctx, f)
		}
	}
}

func (r *Recorder) writeQuote(ctx context.Context, q QuoteSample) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO quotes (ts, symbol, bid, bid_size, ask, ask_size, last) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		q.Time.UnixMilli(), q.Symbol, q.Bid, q.BidSize, q.Ask, q.AskSize, q.Last)
	if err != nil && r.log != nil {
		r.log.Warn("recorder quote write failed", zap.Error(err))
	}
}

func (r *Recorder) writeBar(ctx context.Context, b BarRow) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO bars (ts, symbol, open, high, low, close, volume) VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(ts, symbol) DO UPDATE SET
		 open = excluded.open, high = excluded.high, low = excluded.low,
		 close = excluded.close, volume = excluded.volume`,
		b.Bar.Time.UnixMilli(), b.Symbol, b.Bar.Open, b.Bar.High, b.Bar.Low, b.Bar.Close, b.Bar.Volume)
	if err != nil && r.log != nil {
		r.log.Warn("recorder bar write failed", zap.Error(err))
	}
}

func (r *Recorder) writeFill(ctx context.Context, f broker.Fill) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO fills (exec_id, ts, symbol, account, side, shares, price, commission) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(exec_id) DO UPDATE SET commission = excluded.commission`,
		f.Execution.ExecID, f.Time.UnixMilli(), f.Contract.Symbol, f.Execution.Account,
		f.Execution.Side, f.Execution.Shares, f.Execution.Price, f.Commission.Commission)
	if err != nil && r.log != nil {
		r.log.Warn("recorder fill write failed", zap.Error(err))
	}
}
