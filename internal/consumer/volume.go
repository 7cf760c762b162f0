package consumer

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tanayshah11/mercury-stream/internal/bus"
	"github.com/tanayshah11/mercury-stream/internal/ticker"
)

// Volume tracks per-minute USD notional volume and trade counts per
// symbol.
type Volume struct {
	log         *zap.SugaredLogger
	sub         *bus.Subscription
	logEvery    time.Duration
	volumes     map[string]float64
	trades      map[string]int
	windowStart time.Time
	lastLog     time.Time
	now         func() time.Time
}

// NewVolume builds a Volume consumer that logs a summary every
// logEvery wall-clock interval.
func NewVolume(log *zap.SugaredLogger, sub *bus.Subscription, logEvery time.Duration) *Volume {
	now := time.Now()
	return &Volume{
		log:         log,
		sub:         sub,
		logEvery:    logEvery,
		volumes:     make(map[string]float64),
		trades:      make(map[string]int),
		windowStart: now,
		lastLog:     now,
		now:         time.Now,
	}
}

func (v *Volume) Run() {
	for {
		e, ok := v.sub.Receive()
		if !ok {
			return
		}
		v.handle(e)
	}
}

func (v *Volume) handle(e *ticker.Ticker) {
	price, ok := e.Price.Float64()
	if !ok || price <= 0 {
		return
	}
	size, ok := e.LastSize.Float64()
	if !ok || size <= 0 {
		return
	}

	v.volumes[e.ProductID] += size * price
	v.trades[e.ProductID]++

	now := v.now()
	if now.Sub(v.lastLog) >= v.logEvery {
		v.logSummary(now)
	}
}

func (v *Volume) logSummary(now time.Time) {
	windowSecs := now.Sub(v.windowStart).Seconds()

	names := make([]string, 0, len(v.volumes))
	for name := range v.volumes {
		names = append(names, name)
	}
	sort.Strings(names)

	var parts []string
	for _, name := range names {
		volUSD := v.volumes[name]
		count := v.trades[name]
		perMin := 0.0
		if windowSecs > 0 {
			perMin = (volUSD / windowSecs) * 60
		}
		parts = append(parts, name+"=$"+strconv.FormatFloat(perMin/1000, 'f', 1, 64)+"K/min("+strconv.Itoa(count)+"tx)")
	}
	if len(parts) > 0 {
		v.log.Infow("volume summary", "volume", strings.Join(parts, " | "))
	}

	v.volumes = make(map[string]float64)
	v.trades = make(map[string]int)
	v.windowStart = now
	v.lastLog = now
}

// USDVolume returns the running notional volume for a symbol, used by
// tests.
func (v *Volume) USDVolume(symbol string) float64 { return v.volumes[symbol] }

// TradeCount returns the running trade count for a symbol, used by
// tests.
func (v *Volume) TradeCount(symbol string) int { return v.trades[symbol] }
