package consumer

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tanayshah11/mercury-stream/internal/bus"
	"github.com/tanayshah11/mercury-stream/internal/ticker"
)

func mkTick(symbol string, price, size float64, ingestTs int64) *ticker.Ticker {
	return &ticker.Ticker{
		ProductID:  symbol,
		Price:      decimal.NewFromFloat(price),
		LastSize:   decimal.NewFromFloat(size),
		IngestTsMs: ingestTs,
		RecvTsMs:   ingestTs,
	}
}

func TestVWAPComputesWeightedAverage(t *testing.T) {
	log := zap.NewNop().Sugar()
	b := bus.New(10)
	sub := b.Subscribe("vwap")
	v := NewVWAP(log, sub, 0, nil)

	now := time.Now().UnixMilli()
	v.handle(mkTick("BTC-USD", 100, 1, now))
	v.handle(mkTick("BTC-USD", 200, 1, now))

	got := v.VWAPFor("BTC-USD")
	want := decimal.NewFromFloat(150)
	require.True(t, want.Equal(got), "got %s want %s", got, want)
}

func TestVolatilityStdDevOfLogReturns(t *testing.T) {
	log := zap.NewNop().Sugar()
	b := bus.New(10)
	sub := b.Subscribe("vol")
	v := NewVolatility(log, sub, 100, false, 0)

	prices := []float64{100, 101, 99, 102, 98}
	for _, p := range prices {
		v.handle(mkTick("BTC-USD", p, 1, 1))
	}

	require.Greater(t, v.StdDev("BTC-USD"), 0.0)
}

func TestVolumeAccumulatesNotional(t *testing.T) {
	log := zap.NewNop().Sugar()
	b := bus.New(10)
	sub := b.Subscribe("volume")
	vol := NewVolume(log, sub, time.Hour)

	vol.handle(mkTick("BTC-USD", 100, 2, 1))
	vol.handle(mkTick("BTC-USD", 50, 1, 1))

	require.Equal(t, 250.0, vol.USDVolume("BTC-USD"))
	require.Equal(t, 2, vol.TradeCount("BTC-USD"))
}

func TestLatencyWindowPercentiles(t *testing.T) {
	w := NewLatencyWindow(1000)
	for i := int64(1); i <= 200; i++ {
		w.Add(i)
	}
	require.Equal(t, int64(200), w.Percentile(100))
	require.Equal(t, int64(1), w.Percentile(0))
}

func TestLatencyWindowEvictsOldest(t *testing.T) {
	w := NewLatencyWindow(3)
	w.Add(1)
	w.Add(2)
	w.Add(3)
	w.Add(4) // evicts 1
	require.Equal(t, 3, w.Len())
	require.Equal(t, int64(2), w.Percentile(0))
}
