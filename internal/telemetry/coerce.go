package telemetry

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Coerce converts a raw scalar into a Value. The rules are applied in order:
// numbers keep their kind, booleans become 0 or 1, strings are parsed as a
// Float when they contain a decimal point and as an Int otherwise, and
// anything that does not parse is kept as text. Coerce never fails.
func Coerce(raw any) Value {
	switch v := raw.(type) {
	case Value:
		if v.kind == KindBool {
			return Coerce(v.b)
		}
		return v
	case int:
		return IntValue(int64(v))
	case int8:
		return IntValue(int64(v))
	case int16:
		return IntValue(int64(v))
	case int32:
		return IntValue(int64(v))
	case int64:
		return IntValue(v)
	case uint:
		return coerceUint(uint64(v))
	case uint8:
		return IntValue(int64(v))
	case uint16:
		return IntValue(int64(v))
	case uint32:
		return IntValue(int64(v))
	case uint64:
		return coerceUint(v)
	case float32:
		return FloatValue(float64(v))
	case float64:
		return FloatValue(v)
	case bool:
		if v {
			return IntValue(1)
		}
		return IntValue(0)
	case string:
		return coerceString(v)
	case nil:
		return StringValue("")
	default:
		return StringValue(fmt.Sprint(v))
	}
}

func coerceUint(v uint64) Value {
	if v > math.MaxInt64 {
		return FloatValue(float64(v))
	}
	return IntValue(int64(v))
}

func coerceString(s string) Value {
	if strings.Contains(s, ".") {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return FloatValue(f)
		}
		return StringValue(s)
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return IntValue(n)
	}
	return StringValue(s)
}
