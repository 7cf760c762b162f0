package forensics

// fieldType is the expected JSON type of one reference-schema key.
type fieldType int

const (
	typeString fieldType = iota
	typeNumber
	typeInt
)

// referenceSchema is the fixed 17-key Ticker schema D1 validates
// against, modeled on the exchange's own trade-tick wire shape (the
// same fields a Coinbase-style ticker channel message carries, which is
// the BTC-USD example the spec itself uses).
var referenceSchema = map[string]fieldType{
	"type":          typeString,
	"sequence":      typeInt,
	"product_id":    typeString,
	"price":         typeNumber,
	"open_24h":      typeNumber,
	"volume_24h":    typeNumber,
	"low_24h":       typeNumber,
	"high_24h":      typeNumber,
	"volume_30d":    typeNumber,
	"best_bid":      typeNumber,
	"best_ask":      typeNumber,
	"side":          typeString,
	"time":          typeString,
	"trade_id":      typeInt,
	"last_size":     typeNumber,
	"ingest_ts_ms":  typeInt,
	"recv_ts_ms":    typeInt,
}

// optionalKeys are tolerated without being counted against
// unexpectedKeys; processor-added fields land here.
var optionalKeys = map[string]struct{}{
	"recv_ts_ms": {},
}

// DriftResult reports how an event's observed schema diverged from the
// reference.
type DriftResult struct {
	IsDrift          bool
	MissingKeys      []string
	TypeMismatches   map[string]string
	UnexpectedKeys   []string
}

// checkSchemaDrift compares raw's key set and value types against
// referenceSchema. Only keys present in raw are type-checked; missing
// required keys are reported separately.
func checkSchemaDrift(raw map[string]any) DriftResult {
	var missing []string
	for key := range referenceSchema {
		if _, ok := raw[key]; !ok {
			if _, optional := optionalKeys[key]; !optional {
				missing = append(missing, key)
			}
		}
	}

	mismatches := map[string]string{}
	for key, expected := range referenceSchema {
		val, ok := raw[key]
		if !ok {
			continue
		}
		if !matchesType(val, expected) {
			mismatches[key] = typeName(expected)
		}
	}

	var unexpected []string
	for key := range raw {
		if _, known := referenceSchema[key]; known {
			continue
		}
		if _, optional := optionalKeys[key]; optional {
			continue
		}
		unexpected = append(unexpected, key)
	}

	return DriftResult{
		IsDrift:        len(missing) > 0 || len(mismatches) > 0,
		MissingKeys:    missing,
		TypeMismatches: mismatches,
		UnexpectedKeys: unexpected,
	}
}

func matchesType(v any, want fieldType) bool {
	switch want {
	case typeString:
		_, ok := v.(string)
		return ok
	case typeNumber:
		_, ok := v.(float64)
		if ok {
			return true
		}
		_, ok = v.(string) // decimals conveyed as strings are valid per the spec
		return ok
	case typeInt:
		f, ok := v.(float64)
		return ok && f == float64(int64(f))
	default:
		return false
	}
}

func typeName(t fieldType) string {
	switch t {
	case typeString:
		return "string"
	case typeNumber:
		return "number"
	case typeInt:
		return "int"
	default:
		return "unknown"
	}
}
