package serializer

import (
	"fmt"
	"github.com/ValentinKolb/comms/lib/csm"
	"math"
)

// maxDepth limits how deep sequences may be nested in binary and json payloads
const maxDepth = 32

// toInt64 widens any Go integer, unsigned values above MaxInt64 are rejected
func toInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint:
		return uintToInt64(uint64(x))
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		return uintToInt64(x)
	default:
		return 0, fmt.Errorf("%w: %T is not an integer", csm.ErrUnsupportedType, v)
	}
}

func uintToInt64(u uint64) (int64, error) {
	if u > math.MaxInt64 {
		return 0, fmt.Errorf("%w: %d overflows int64", csm.ErrUnsupportedType, u)
	}
	return int64(u), nil
}

// toFloat64 widens float32 and float64
func toFloat64(v any) float64 {
	if f, ok := v.(float32); ok {
		return float64(f)
	}
	return v.(float64)
}

// malformed wraps csm.ErrMalformedMessage with the serializer name
func malformed(serializer, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", csm.ErrMalformedMessage, serializer, fmt.Sprintf(format, args...))
}
