package sink

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/tanayshah11/mercury-stream/internal/ticker"
)

func tickWith(symbol, price, size string) *ticker.Ticker {
	return &ticker.Ticker{
		ProductID: symbol,
		Price:     decimal.RequireFromString(price),
		LastSize:  decimal.RequireFromString(size),
	}
}

func TestAccumulateTracksNotionalPerSymbol(t *testing.T) {
	s := &Sink{state: make(map[string]*summary)}

	s.accumulate(tickWith("BTC-USD", "100", "2"))
	s.accumulate(tickWith("BTC-USD", "110", "1"))
	s.accumulate(tickWith("ETH-USD", "50", "4"))

	btc := s.state["BTC-USD"]
	require.NotNil(t, btc)
	require.Equal(t, uint64(2), btc.TradeCount)
	require.InDelta(t, 310.0, btc.SumPV, 1e-9) // 100*2 + 110*1
	require.InDelta(t, 3.0, btc.SumV, 1e-9)
	require.InDelta(t, 310.0, btc.USDVolume, 1e-9)

	eth := s.state["ETH-USD"]
	require.NotNil(t, eth)
	require.Equal(t, uint64(1), eth.TradeCount)
	require.InDelta(t, 200.0, eth.USDVolume, 1e-9)
}
