package serializer

import (
	"encoding/binary"
	"fmt"
	"github.com/ValentinKolb/comms/lib/csm"
	"math"
)

// NewBinarySerializer creates a new serializer using a compact binary format.
// The format is only understood by peers using this serializer.
//
// Layout (all integers big endian):
//
//	version   uint8
//	records   uint32
//	per record:
//	  name    uint16 length + bytes
//	  value   kind uint8 + payload
//
// Payloads: int int64, float float64 bits, bool uint8, none nothing,
// str and bytes uint32 length + data, list and tuple uint32 count + values.
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format
type binarySerializerImpl struct {
}

const binaryVersion byte = 1

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg csm.Message) ([]byte, error) {
	buf := make([]byte, 0, 64)
	buf = append(buf, binaryVersion)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(msg)))

	var err error
	for _, rec := range msg {
		if len(rec.Name) > math.MaxUint16 {
			return nil, fmt.Errorf("binary: name of %d bytes is too long", len(rec.Name))
		}
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(rec.Name)))
		buf = append(buf, rec.Name...)
		if buf, err = b.appendValue(buf, rec.Value, 0); err != nil {
			return nil, fmt.Errorf("binary: field %q: %w", rec.Name, err)
		}
	}
	return buf, nil
}

func (b binarySerializerImpl) Deserialize(data []byte) (csm.Fields, error) {
	if len(data) < 5 {
		return nil, malformed("binary", "payload of %d bytes is too short", len(data))
	}
	if data[0] != binaryVersion {
		return nil, malformed("binary", "unknown version %d", data[0])
	}

	r := &binaryReader{data: data, pos: 1}
	count, err := r.uint32()
	if err != nil {
		return nil, err
	}

	fields := make(csm.Fields)
	for i := uint32(0); i < count; i++ {
		nameLen, err := r.uint16()
		if err != nil {
			return nil, err
		}
		name, err := r.bytes(int(nameLen))
		if err != nil {
			return nil, err
		}
		value, err := r.value(0)
		if err != nil {
			return nil, err
		}
		fields[string(name)] = value
	}

	if r.pos != len(data) {
		return nil, malformed("binary", "%d trailing bytes", len(data)-r.pos)
	}
	return fields, nil
}

func (b binarySerializerImpl) Name() string {
	return "binary"
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// appendValue writes the kind byte followed by the payload of v
func (b binarySerializerImpl) appendValue(buf []byte, v any, depth int) ([]byte, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("sequences nested deeper than %d", maxDepth)
	}

	kind := csm.KindOf(v)
	buf = append(buf, byte(kind))

	switch kind {
	case csm.KindInt:
		i, err := toInt64(v)
		if err != nil {
			return nil, err
		}
		return binary.BigEndian.AppendUint64(buf, uint64(i)), nil
	case csm.KindFloat:
		return binary.BigEndian.AppendUint64(buf, math.Float64bits(toFloat64(v))), nil
	case csm.KindStr:
		s := v.(string)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(s)))
		return append(buf, s...), nil
	case csm.KindBytes:
		p := v.([]byte)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(p)))
		return append(buf, p...), nil
	case csm.KindBool:
		if v.(bool) {
			return append(buf, 1), nil
		}
		return append(buf, 0), nil
	case csm.KindNull:
		return buf, nil
	case csm.KindList, csm.KindTuple:
		items := csm.Elements(v)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(items)))
		var err error
		for _, item := range items {
			if buf, err = b.appendValue(buf, item, depth+1); err != nil {
				return nil, err
			}
		}
		return buf, nil
	default:
		return nil, fmt.Errorf("%w: %T", csm.ErrUnsupportedType, v)
	}
}

// binaryReader walks a payload and reports truncation as a malformed message
type binaryReader struct {
	data []byte
	pos  int
}

func (r *binaryReader) bytes(n int) ([]byte, error) {
	if n < 0 || len(r.data)-r.pos < n {
		return nil, malformed("binary", "truncated at offset %d", r.pos)
	}
	p := r.data[r.pos : r.pos+n]
	r.pos += n
	return p, nil
}

func (r *binaryReader) readByte() (byte, error) {
	p, err := r.bytes(1)
	if err != nil {
		return 0, err
	}
	return p[0], nil
}

func (r *binaryReader) uint16() (uint16, error) {
	p, err := r.bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(p), nil
}

func (r *binaryReader) uint32() (uint32, error) {
	p, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(p), nil
}

func (r *binaryReader) uint64() (uint64, error) {
	p, err := r.bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(p), nil
}

// value reads one kind byte and its payload
func (r *binaryReader) value(depth int) (any, error) {
	if depth > maxDepth {
		return nil, malformed("binary", "sequences nested deeper than %d", maxDepth)
	}

	k, err := r.readByte()
	if err != nil {
		return nil, err
	}

	switch csm.Kind(k) {
	case csm.KindInt:
		u, err := r.uint64()
		return int64(u), err
	case csm.KindFloat:
		u, err := r.uint64()
		return math.Float64frombits(u), err
	case csm.KindStr:
		n, err := r.uint32()
		if err != nil {
			return nil, err
		}
		p, err := r.bytes(int(n))
		if err != nil {
			return nil, err
		}
		return string(p), nil
	case csm.KindBytes:
		n, err := r.uint32()
		if err != nil {
			return nil, err
		}
		p, err := r.bytes(int(n))
		if err != nil {
			return nil, err
		}
		out := make([]byte, len(p))
		copy(out, p)
		return out, nil
	case csm.KindBool:
		c, err := r.readByte()
		if err != nil {
			return nil, err
		}
		if c > 1 {
			return nil, malformed("binary", "invalid bool byte %d", c)
		}
		return c == 1, nil
	case csm.KindNull:
		return nil, nil
	case csm.KindList, csm.KindTuple:
		n, err := r.uint32()
		if err != nil {
			return nil, err
		}
		// every element needs at least its kind byte
		if int(n) > len(r.data)-r.pos {
			return nil, malformed("binary", "sequence of %d elements exceeds payload", n)
		}
		items := make([]any, n)
		for i := range items {
			if items[i], err = r.value(depth + 1); err != nil {
				return nil, err
			}
		}
		if csm.Kind(k) == csm.KindTuple {
			return csm.Tuple(items), nil
		}
		return csm.List(items), nil
	default:
		return nil, malformed("binary", "unknown kind %d at offset %d", k, r.pos-1)
	}
}
