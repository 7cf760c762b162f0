// Package consumer holds the reference analytic consumers that
// subscribe to the bus: VWAP, Volatility, Volume, and Health.
package consumer

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tanayshah11/mercury-stream/internal/bus"
	"github.com/tanayshah11/mercury-stream/internal/ticker"
)

type symbolVWAP struct {
	sumPV decimal.Decimal // Σ(price × size)
	sumV  decimal.Decimal // Σ(size)
}

// VWAP computes a running volume-weighted average price per symbol and
// tracks the two pipeline latency histograms the spec names: age
// (recv_ts_ms - ingest_ts_ms) and proc (now_ms - recv_ts_ms).
type VWAP struct {
	log         *zap.SugaredLogger
	sub         *bus.Subscription
	logEvery    int
	symbols     map[string]*symbolVWAP
	age         *LatencyWindow
	proc        *LatencyWindow
	eventsSeen  int
	onPercentile func(age, proc LatencyPercentiles)
}

// LatencyPercentiles is the p50/p95/p99 snapshot exported to telemetry.
type LatencyPercentiles struct {
	P50, P95, P99 int64
}

// NewVWAP builds a VWAP consumer bound to sub. onPercentile, if set, is
// invoked every logEvery events with the current age/proc percentiles
// so the caller can push them to telemetry without this package
// depending on the telemetry package.
func NewVWAP(log *zap.SugaredLogger, sub *bus.Subscription, logEvery int, onPercentile func(age, proc LatencyPercentiles)) *VWAP {
	return &VWAP{
		log:          log,
		sub:          sub,
		logEvery:     logEvery,
		symbols:      make(map[string]*symbolVWAP),
		age:          NewLatencyWindow(3000),
		proc:         NewLatencyWindow(3000),
		onPercentile: onPercentile,
	}
}

// Run drains the subscription until it's closed (process shutdown).
func (v *VWAP) Run() {
	for {
		e, ok := v.sub.Receive()
		if !ok {
			return
		}
		v.handle(e)
	}
}

func (v *VWAP) handle(e *ticker.Ticker) {
	if e.Price.IsNegative() || e.Price.IsZero() || e.LastSize.IsNegative() || e.IngestTsMs <= 0 {
		return
	}

	sym := v.symbols[e.ProductID]
	if sym == nil {
		sym = &symbolVWAP{}
		v.symbols[e.ProductID] = sym
	}
	sym.sumPV = sym.sumPV.Add(e.Price.Mul(e.LastSize))
	sym.sumV = sym.sumV.Add(e.LastSize)

	now := time.Now().UnixMilli()
	if e.IngestTsMs > 0 && e.RecvTsMs > 0 {
		if age := e.RecvTsMs - e.IngestTsMs; age >= 0 {
			v.age.Add(age)
		}
	}
	if e.RecvTsMs > 0 {
		if proc := now - e.RecvTsMs; proc >= 0 {
			v.proc.Add(proc)
		}
	}

	v.eventsSeen++
	if v.logEvery > 0 && v.eventsSeen%v.logEvery == 0 {
		v.logSummary()
	}
}

func (v *VWAP) logSummary() {
	names := make([]string, 0, len(v.symbols))
	for name := range v.symbols {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		s := v.symbols[name]
		vwap := decimal.Zero
		if !s.sumV.IsZero() {
			vwap = s.sumPV.Div(s.sumV)
		}
		parts = append(parts, fmt.Sprintf("%s=%s", name, vwap.StringFixed(2)))
	}

	agePcts := LatencyPercentiles{P50: v.age.Percentile(50), P95: v.age.Percentile(95), P99: v.age.Percentile(99)}
	procPcts := LatencyPercentiles{P50: v.proc.Percentile(50), P95: v.proc.Percentile(95), P99: v.proc.Percentile(99)}

	v.log.Infow("vwap summary",
		"vwap", parts,
		"age_p99_ms", agePcts.P99,
		"proc_p99_ms", procPcts.P99,
	)

	if v.onPercentile != nil {
		v.onPercentile(agePcts, procPcts)
	}
}

// VWAPFor returns the current VWAP for a symbol, used by tests.
func (v *VWAP) VWAPFor(symbol string) decimal.Decimal {
	s, ok := v.symbols[symbol]
	if !ok || s.sumV.IsZero() {
		return decimal.Zero
	}
	return s.sumPV.Div(s.sumV)
}
