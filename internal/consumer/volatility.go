package consumer

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/tanayshah11/mercury-stream/internal/bus"
	"github.com/tanayshah11/mercury-stream/internal/ticker"
)

// Volatility tracks a rolling standard deviation of log-returns per
// symbol, with an optional annualized view carried over from the
// original implementation's reporting.
type Volatility struct {
	log        *zap.SugaredLogger
	sub        *bus.Subscription
	windowN    int
	annualize  bool
	lastPrice  map[string]float64
	returns    map[string][]float64
	logEvery   int
	eventsSeen int
}

// NewVolatility builds a Volatility consumer. windowN bounds the
// rolling log-return window per symbol (default 100 per the spec).
func NewVolatility(log *zap.SugaredLogger, sub *bus.Subscription, windowN int, annualize bool, logEvery int) *Volatility {
	return &Volatility{
		log:       log,
		sub:       sub,
		windowN:   windowN,
		annualize: annualize,
		lastPrice: make(map[string]float64),
		returns:   make(map[string][]float64),
		logEvery:  logEvery,
	}
}

func (v *Volatility) Run() {
	for {
		e, ok := v.sub.Receive()
		if !ok {
			return
		}
		v.handle(e)
	}
}

func (v *Volatility) handle(e *ticker.Ticker) {
	price, ok := e.Price.Float64()
	if !ok || price <= 0 {
		return
	}

	if last, seen := v.lastPrice[e.ProductID]; seen && last > 0 {
		r := math.Log(price / last)
		rs := v.returns[e.ProductID]
		rs = append(rs, r)
		if len(rs) > v.windowN {
			rs = rs[len(rs)-v.windowN:]
		}
		v.returns[e.ProductID] = rs
	}
	v.lastPrice[e.ProductID] = price

	v.eventsSeen++
	if v.logEvery > 0 && v.eventsSeen%v.logEvery == 0 {
		v.logSummary()
	}
}

// StdDev returns the current population standard deviation (sum of
// squared deviations divided by n) of log-returns for a symbol, or 0 if
// fewer than 2 samples are available.
func (v *Volatility) StdDev(symbol string) float64 {
	return stddev(v.returns[symbol])
}

func stddev(r []float64) float64 {
	if len(r) < 2 {
		return 0
	}
	var mean float64
	for _, x := range r {
		mean += x
	}
	mean /= float64(len(r))

	var sumSq float64
	for _, x := range r {
		d := x - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(r)))
}

func (v *Volatility) logSummary() {
	names := make([]string, 0, len(v.returns))
	for name := range v.returns {
		names = append(names, name)
	}
	sort.Strings(names)

	var parts []string
	for _, name := range names {
		rs := v.returns[name]
		if len(rs) < 10 {
			continue
		}
		std := stddev(rs)
		if v.annualize {
			annual := std * math.Sqrt(86400*365) * 100
			parts = append(parts, name+"="+formatPct(annual))
		} else {
			parts = append(parts, name+"="+formatPct(std*100))
		}
	}
	if len(parts) > 0 {
		v.log.Infow("volatility summary", "volatility", strings.Join(parts, " | "))
	}
}

// formatPct matches the original's "%.1f%%" formatting.
func formatPct(f float64) string {
	return strconv.FormatFloat(f, 'f', 1, 64) + "%"
}
