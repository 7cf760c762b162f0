// Package sink batches per-symbol trade summaries into ClickHouse. It
// is optional and off by default: the core pipeline never depends on
// durable storage, per the spec's no-durable-queuing non-goal, so this
// package reads raw ticks from its bus subscription but only ever
// writes derived summaries, never raw ticks.
package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/tanayshah11/mercury-stream/internal/bus"
	"github.com/tanayshah11/mercury-stream/internal/ticker"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS trade_summaries (
	window_end   DateTime,
	symbol       String,
	vwap         Float64,
	trade_count  UInt64,
	usd_volume   Float64
) ENGINE = MergeTree()
ORDER BY (symbol, window_end)
`

// Config configures the ClickHouse connection and flush cadence.
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	FlushInterval   time.Duration
	Debug           bool
}

// summary is one flushed row: the running notionals for a symbol as of
// the flush tick.
type summary struct {
	Symbol     string
	SumPV      float64
	SumV       float64
	TradeCount uint64
	USDVolume  float64
}

// Sink consumes from its own Bus subscription and periodically flushes
// per-symbol aggregates to ClickHouse in one batch insert.
type Sink struct {
	log  *zap.SugaredLogger
	sub  *bus.Subscription
	conn driver.Conn
	cfg  Config

	state map[string]*summary
}

// New opens the ClickHouse connection, ensures the table exists, and
// returns a Sink ready to Run.
func New(log *zap.SugaredLogger, sub *bus.Subscription, cfg Config) (*Sink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Protocol: clickhouse.Native,
		Debug:    cfg.Debug,
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to clickhouse: %w", err)
	}
	if err := conn.Exec(context.Background(), createTableSQL); err != nil {
		return nil, fmt.Errorf("create trade_summaries table: %w", err)
	}

	return &Sink{
		log:   log,
		sub:   sub,
		conn:  conn,
		cfg:   cfg,
		state: make(map[string]*summary),
	}, nil
}

// Run drains the subscription, aggregating per symbol, and flushes on
// cfg.FlushInterval until the subscription is closed at shutdown.
func (s *Sink) Run() {
	flush := time.NewTicker(s.cfg.FlushInterval)
	defer flush.Stop()

	events := make(chan *ticker.Ticker)
	go func() {
		defer close(events)
		for {
			e, ok := s.sub.Receive()
			if !ok {
				return
			}
			events <- e
		}
	}()

	for {
		select {
		case e, ok := <-events:
			if !ok {
				s.flush()
				return
			}
			s.accumulate(e)
		case <-flush.C:
			s.flush()
		}
	}
}

func (s *Sink) accumulate(e *ticker.Ticker) {
	st, ok := s.state[e.ProductID]
	if !ok {
		st = &summary{Symbol: e.ProductID}
		s.state[e.ProductID] = st
	}
	price, _ := e.Price.Float64()
	size, _ := e.LastSize.Float64()
	st.SumPV += price * size
	st.SumV += size
	st.TradeCount++
	st.USDVolume += price * size
}

func (s *Sink) flush() {
	if len(s.state) == 0 {
		return
	}
	rows := make([]summary, 0, len(s.state))
	for _, st := range s.state {
		rows = append(rows, *st)
	}
	s.state = make(map[string]*summary)

	if err := s.insertWithRetry(rows); err != nil {
		if s.log != nil {
			s.log.Warnw("sink flush failed, rows dropped", "error", err, "rows", len(rows))
		}
	}
}

func (s *Sink) insertWithRetry(rows []summary) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 5 * time.Minute

	return backoff.Retry(func() error {
		return s.insert(rows)
	}, b)
}

func (s *Sink) insert(rows []summary) error {
	ctx := context.Background()
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO trade_summaries")
	if err != nil {
		return err
	}
	now := time.Now()
	for _, r := range rows {
		vwap := 0.0
		if r.SumV != 0 {
			vwap = r.SumPV / r.SumV
		}
		if err := batch.Append(now, r.Symbol, vwap, r.TradeCount, r.USDVolume); err != nil {
			return err
		}
	}
	return batch.Send()
}

// Close releases the underlying ClickHouse connection.
func (s *Sink) Close() error {
	return s.conn.Close()
}
