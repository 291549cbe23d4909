package csm

import (
	"fmt"
	"reflect"
	"sort"
)

// --------------------------------------------------------------------------
// Typed Values
// --------------------------------------------------------------------------

// Kind is the type tag carried by every value on the wire
type Kind uint8

const (
	KindInvalid Kind = iota // Not a supported value
	KindInt                 // int
	KindFloat               // float
	KindStr                 // str
	KindBool                // bool
	KindNull                // NoneType
	KindBytes               // bytes (hex text)
	KindList                // list (mutable sequence)
	KindTuple               // tuple (fixed sequence)
)

// String returns the tag text used on the wire
func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindStr:
		return "str"
	case KindBool:
		return "bool"
	case KindNull:
		return "NoneType"
	case KindBytes:
		return "bytes"
	case KindList:
		return "list"
	case KindTuple:
		return "tuple"
	default:
		return "invalid"
	}
}

// ParseKind converts a wire tag back to a Kind. Unknown tags return KindInvalid.
func ParseKind(tag string) Kind {
	switch tag {
	case "int":
		return KindInt
	case "float":
		return KindFloat
	case "str":
		return KindStr
	case "bool":
		return KindBool
	case "NoneType":
		return KindNull
	case "bytes":
		return KindBytes
	case "list":
		return KindList
	case "tuple":
		return KindTuple
	default:
		return KindInvalid
	}
}

// List is an ordered, mutable sequence of values (tag "list")
type List []any

// Tuple is an ordered, fixed sequence of values (tag "tuple")
type Tuple []any

// KindOf classifies a Go value. Any slice other than []byte is a list,
// any array is a tuple.
func KindOf(v any) Kind {
	switch v.(type) {
	case nil:
		return KindNull
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return KindInt
	case float32, float64:
		return KindFloat
	case string:
		return KindStr
	case bool:
		return KindBool
	case []byte:
		return KindBytes
	case List:
		return KindList
	case Tuple:
		return KindTuple
	}

	switch reflect.ValueOf(v).Kind() {
	case reflect.Slice:
		return KindList
	case reflect.Array:
		return KindTuple
	default:
		return KindInvalid
	}
}

// Elements returns the items of a sequence value (List, Tuple, any slice or array)
func Elements(v any) []any {
	switch s := v.(type) {
	case List:
		return s
	case Tuple:
		return s
	case []any:
		return s
	}

	rv := reflect.ValueOf(v)
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items
}

// --------------------------------------------------------------------------
// Messages
// --------------------------------------------------------------------------

// Record is one named value of a message
type Record struct {
	Name  string
	Value any
}

// Message is an ordered list of records. Encoding does not deduplicate names.
type Message []Record

// Set appends a record and returns the message to allow chaining
func (m Message) Set(name string, value any) Message {
	return append(m, Record{Name: name, Value: value})
}

// MessageOf turns a map into a message with the records sorted by name
func MessageOf(fields map[string]any) Message {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	msg := make(Message, 0, len(names))
	for _, name := range names {
		msg = append(msg, Record{Name: name, Value: fields[name]})
	}
	return msg
}

// Fields is the decoded form of a message
type Fields map[string]any

// String returns a readable representation of the fields with their kinds
func (f Fields) String() string {
	return fmt.Sprintf("%v", map[string]any(f))
}
