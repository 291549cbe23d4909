package serializer

import (
	"encoding/json"
	"fmt"
	"github.com/ValentinKolb/comms/lib/csm"
	"math"
	"strconv"
)

// NewJSONSerializer creates a new serializer using json encoding.
// Every value is wrapped with its kind so tuples, bytes and ints survive:
//
//	[{"name":"a","type":"int","value":1},{"name":"b","type":"tuple","value":[{"type":"str","value":"x"}]}]
//
// Non finite floats are written as the strings "nan", "inf" and "-inf".
func NewJSONSerializer() IRPCSerializer {
	return &jsonSerializerImpl{}
}

// jsonSerializerImpl implements the IRPCSerializer interface using json encoding
type jsonSerializerImpl struct {
}

// jsonValue is a value tagged with its csm kind
type jsonValue struct {
	Name  string          `json:"name,omitempty"`
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (j jsonSerializerImpl) Serialize(msg csm.Message) ([]byte, error) {
	records := make([]jsonValue, len(msg))
	for i, rec := range msg {
		v, err := j.wrap(rec.Value, 0)
		if err != nil {
			return nil, fmt.Errorf("json: field %q: %w", rec.Name, err)
		}
		v.Name = rec.Name
		records[i] = v
	}
	return json.Marshal(records)
}

func (j jsonSerializerImpl) Deserialize(b []byte) (csm.Fields, error) {
	var records []jsonValue
	if err := json.Unmarshal(b, &records); err != nil {
		return nil, malformed("json", "%v", err)
	}

	fields := make(csm.Fields, len(records))
	for _, rec := range records {
		v, err := j.unwrap(rec, 0)
		if err != nil {
			return nil, err
		}
		fields[rec.Name] = v
	}
	return fields, nil
}

func (j jsonSerializerImpl) Name() string {
	return "json"
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (j jsonSerializerImpl) wrap(v any, depth int) (jsonValue, error) {
	if depth > maxDepth {
		return jsonValue{}, fmt.Errorf("sequences nested deeper than %d", maxDepth)
	}

	kind := csm.KindOf(v)
	out := jsonValue{Type: kind.String()}

	var payload any
	switch kind {
	case csm.KindInt:
		i, err := toInt64(v)
		if err != nil {
			return out, err
		}
		payload = i
	case csm.KindFloat:
		f := toFloat64(v)
		switch {
		case math.IsNaN(f):
			payload = "nan"
		case math.IsInf(f, 1):
			payload = "inf"
		case math.IsInf(f, -1):
			payload = "-inf"
		default:
			payload = f
		}
	case csm.KindStr, csm.KindBytes, csm.KindBool:
		payload = v
	case csm.KindNull:
		return out, nil
	case csm.KindList, csm.KindTuple:
		items := csm.Elements(v)
		wrapped := make([]jsonValue, len(items))
		for i, item := range items {
			w, err := j.wrap(item, depth+1)
			if err != nil {
				return out, err
			}
			wrapped[i] = w
		}
		payload = wrapped
	default:
		return out, fmt.Errorf("%w: %T", csm.ErrUnsupportedType, v)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return out, err
	}
	out.Value = raw
	return out, nil
}

func (j jsonSerializerImpl) unwrap(v jsonValue, depth int) (any, error) {
	if depth > maxDepth {
		return nil, malformed("json", "sequences nested deeper than %d", maxDepth)
	}

	kind := csm.ParseKind(v.Type)
	if kind != csm.KindNull && len(v.Value) == 0 {
		return nil, malformed("json", "%q without a value", v.Type)
	}

	var err error
	switch kind {
	case csm.KindInt:
		var i int64
		err = json.Unmarshal(v.Value, &i)
		return i, j.wrapErr(err)
	case csm.KindFloat:
		var f float64
		if err = json.Unmarshal(v.Value, &f); err == nil {
			return f, nil
		}
		var s string
		if json.Unmarshal(v.Value, &s) != nil {
			return nil, j.wrapErr(err)
		}
		f, err = strconv.ParseFloat(s, 64)
		return f, j.wrapErr(err)
	case csm.KindStr:
		var s string
		err = json.Unmarshal(v.Value, &s)
		return s, j.wrapErr(err)
	case csm.KindBytes:
		var p []byte
		err = json.Unmarshal(v.Value, &p)
		if p == nil {
			p = []byte{}
		}
		return p, j.wrapErr(err)
	case csm.KindBool:
		var b bool
		err = json.Unmarshal(v.Value, &b)
		return b, j.wrapErr(err)
	case csm.KindNull:
		return nil, nil
	case csm.KindList, csm.KindTuple:
		var wrapped []jsonValue
		if err = json.Unmarshal(v.Value, &wrapped); err != nil {
			return nil, j.wrapErr(err)
		}
		items := make([]any, len(wrapped))
		for i, w := range wrapped {
			if items[i], err = j.unwrap(w, depth+1); err != nil {
				return nil, err
			}
		}
		if kind == csm.KindTuple {
			return csm.Tuple(items), nil
		}
		return csm.List(items), nil
	default:
		return nil, malformed("json", "unknown type %q", v.Type)
	}
}

func (j jsonSerializerImpl) wrapErr(err error) error {
	if err == nil {
		return nil
	}
	return malformed("json", "%v", err)
}
