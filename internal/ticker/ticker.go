// Package ticker decodes raw trade-tick payloads into a fixed record
// with a forward-compatible extra field bag.
package ticker

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the trade direction reported by the exchange.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Ticker is one decoded market trade event. Price and LastSize are
// decimal.Decimal, never float64, so downstream comparisons never rely
// on floating-point equality.
type Ticker struct {
	ProductID  string          `json:"product_id"`
	TradeID    int64           `json:"trade_id"`
	Sequence   int64           `json:"sequence"`
	Price      decimal.Decimal `json:"price"`
	LastSize   decimal.Decimal `json:"last_size"`
	Time       string          `json:"time"`
	Side       Side            `json:"side"`
	IngestTsMs int64           `json:"ingest_ts_ms"`
	RecvTsMs   int64           `json:"recv_ts_ms"`

	// Extra carries any additional fields present on the wire that
	// aren't part of the fixed schema above, preserved verbatim for
	// forward compatibility and for faithful events.jsonl replay.
	Extra map[string]any `json:"-"`

	// raw is the original decoded JSON object, kept so re-emission into
	// events.jsonl can preserve any fields the fixed struct doesn't
	// carry.
	raw map[string]any
}

var knownKeys = map[string]struct{}{
	"product_id": {}, "trade_id": {}, "sequence": {}, "price": {},
	"last_size": {}, "time": {}, "side": {}, "ingest_ts_ms": {}, "recv_ts_ms": {},
}

// Decode parses a single JSON payload into a Ticker. Unknown top-level
// keys are preserved in Extra; the original decoded map is kept for
// lossless re-emission.
func Decode(payload []byte) (*Ticker, error) {
	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, err
	}

	t := &Ticker{Extra: map[string]any{}, raw: raw}

	if v, ok := raw["product_id"].(string); ok {
		t.ProductID = v
	}
	t.TradeID = asInt64(raw["trade_id"])
	t.Sequence = asInt64(raw["sequence"])
	t.Price = asDecimal(raw["price"])
	t.LastSize = asDecimal(raw["last_size"])
	if v, ok := raw["time"].(string); ok {
		t.Time = v
	}
	if v, ok := raw["side"].(string); ok {
		t.Side = Side(v)
	}
	t.IngestTsMs = asInt64(raw["ingest_ts_ms"])
	t.RecvTsMs = asInt64(raw["recv_ts_ms"])

	for k, v := range raw {
		if _, known := knownKeys[k]; !known {
			t.Extra[k] = v
		}
	}

	return t, nil
}

// StampRecv sets RecvTsMs to now if the field wasn't present on the
// wire, matching the ingester/processor boundary in the spec.
func (t *Ticker) StampRecv(now time.Time) {
	if t.RecvTsMs == 0 {
		t.RecvTsMs = now.UnixMilli()
	}
	t.raw["recv_ts_ms"] = t.RecvTsMs
}

// MarshalJSON re-emits the ticker using the original decoded map so
// any fields outside the fixed schema survive a decode-then-reencode
// round trip (used when writing events.jsonl). Keys come out in sorted
// order; the original wire order is not kept.
func (t *Ticker) MarshalJSON() ([]byte, error) {
	m := t.raw
	if m == nil {
		m = map[string]any{}
	}
	return json.Marshal(m)
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case json.Number:
		i, _ := n.Int64()
		return i
	default:
		return 0
	}
}

func asDecimal(v any) decimal.Decimal {
	switch n := v.(type) {
	case string:
		d, err := decimal.NewFromString(n)
		if err == nil {
			return d
		}
	case float64:
		return decimal.NewFromFloat(n)
	}
	return decimal.Zero
}
