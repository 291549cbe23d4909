package csm

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	// Delimiter terminates every record of an encoded message
	Delimiter = "*%*"
)

var (
	// ErrUnsupportedType is returned when a value has no CSM type tag or
	// does not fit the decoded type (e.g. a uint64 above math.MaxInt64)
	ErrUnsupportedType = errors.New("unsupported value type")
	// ErrInvalidRecord is returned when a record would not decode to itself.
	// The format has no escaping, so names can not contain ':' and neither
	// names nor values can contain the delimiter.
	ErrInvalidRecord = errors.New("record can not be encoded")
)

// --------------------------------------------------------------------------
// Encoding
// --------------------------------------------------------------------------

// Encode renders the records of msg in order. Every record has the form
// {name:value<tag>} followed by the delimiter.
func Encode(msg Message) (string, error) {
	var sb strings.Builder
	for _, r := range msg {
		if err := encodeRecord(&sb, r.Name, r.Value); err != nil {
			return "", err
		}
	}
	return sb.String(), nil
}

// EncodeMap encodes a map. Go maps have no order, so the names are sorted.
func EncodeMap(fields map[string]any) (string, error) {
	return Encode(MessageOf(fields))
}

// EncodeVars encodes alternating name/value arguments, e.g. EncodeVars("a", 1, "b", "x")
func EncodeVars(kv ...any) (string, error) {
	if len(kv)%2 != 0 {
		return "", fmt.Errorf("odd number of arguments: %d", len(kv))
	}
	msg := make(Message, 0, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		name, ok := kv[i].(string)
		if !ok {
			return "", fmt.Errorf("argument %d: field name must be a string, got %T", i, kv[i])
		}
		msg = append(msg, Record{Name: name, Value: kv[i+1]})
	}
	return Encode(msg)
}

func encodeRecord(sb *strings.Builder, name string, value any) error {
	if strings.ContainsRune(name, ':') || strings.Contains(name, Delimiter) {
		return fmt.Errorf("field %q: %w: invalid name", name, ErrInvalidRecord)
	}

	kind := KindOf(value)
	if kind == KindInvalid {
		return fmt.Errorf("field %q: %w: %T", name, ErrUnsupportedType, value)
	}

	rendered, err := render(value, false)
	if err != nil {
		return fmt.Errorf("field %q: %w", name, err)
	}
	if strings.Contains(rendered, Delimiter) {
		return fmt.Errorf("field %q: %w: value contains %q", name, ErrInvalidRecord, Delimiter)
	}

	sb.WriteByte('{')
	sb.WriteString(name)
	sb.WriteByte(':')
	sb.WriteString(rendered)
	sb.WriteByte('<')
	sb.WriteString(kind.String())
	sb.WriteString(">}")
	sb.WriteString(Delimiter)
	return nil
}

// render produces the printed form of a value. Inside sequences strings are
// quoted and bytes are written as b'<hex>' so elements can be told apart.
func render(v any, nested bool) (string, error) {
	switch x := v.(type) {
	case nil:
		return "None", nil
	case bool:
		if x {
			return "True", nil
		}
		return "False", nil
	case int:
		return strconv.FormatInt(int64(x), 10), nil
	case int8:
		return strconv.FormatInt(int64(x), 10), nil
	case int16:
		return strconv.FormatInt(int64(x), 10), nil
	case int32:
		return strconv.FormatInt(int64(x), 10), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case uint:
		return formatUint(uint64(x))
	case uint8:
		return strconv.FormatUint(uint64(x), 10), nil
	case uint16:
		return strconv.FormatUint(uint64(x), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(x), 10), nil
	case uint64:
		return formatUint(x)
	case float32:
		return formatFloat(float64(x), 32), nil
	case float64:
		return formatFloat(x, 64), nil
	case string:
		if nested {
			return quote(x), nil
		}
		return x, nil
	case []byte:
		if nested {
			return "b'" + hex.EncodeToString(x) + "'", nil
		}
		return hex.EncodeToString(x), nil
	}

	switch KindOf(v) {
	case KindList:
		return renderSequence(Elements(v), "[", "]", false)
	case KindTuple:
		return renderSequence(Elements(v), "(", ")", true)
	default:
		return "", fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
}

func renderSequence(items []any, open, close string, tuple bool) (string, error) {
	parts := make([]string, len(items))
	for i, item := range items {
		s, err := render(item, true)
		if err != nil {
			return "", err
		}
		parts[i] = s
	}

	// a single element tuple keeps its trailing comma: (1,)
	if tuple && len(parts) == 1 {
		return open + parts[0] + "," + close, nil
	}
	return open + strings.Join(parts, ", ") + close, nil
}

// formatUint renders an unsigned value, which has to fit the int64 it decodes to
func formatUint(u uint64) (string, error) {
	if u > math.MaxInt64 {
		return "", fmt.Errorf("%w: %d overflows int", ErrUnsupportedType, u)
	}
	return strconv.FormatUint(u, 10), nil
}

// formatFloat renders a float like a python float repr: always with a
// decimal point or exponent, exponent notation below 1e-4 and from 1e16 on.
func formatFloat(f float64, bitSize int) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}

	abs := math.Abs(f)
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(f, 'e', -1, bitSize)
	}

	s := strconv.FormatFloat(f, 'f', -1, bitSize)
	if !strings.ContainsRune(s, '.') {
		s += ".0"
	}
	return s
}

// quote wraps a string in single quotes, escaping backslashes and quotes
func quote(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) + 2)
	sb.WriteByte('\'')
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' || s[i] == '\'' {
			sb.WriteByte('\\')
		}
		sb.WriteByte(s[i])
	}
	sb.WriteByte('\'')
	return sb.String()
}
