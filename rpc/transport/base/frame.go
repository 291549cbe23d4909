package base

import (
	"encoding/binary"
	"errors"
	"fmt"
	"github.com/ValentinKolb/comms/rpc/common"
	"net"
	"time"
)

// ErrFrameTooLarge is returned when a length prefix exceeds the configured maximum
var ErrFrameTooLarge = errors.New("frame too large")

const headerSize = 4

// --------------------------------------------------------------------------
// Writing
// --------------------------------------------------------------------------

// writeFrame writes one message to the connection. With length framing the
// format is:
// - 4 bytes: data length (uint32, big endian)
// - N bytes: data payload
//
// With raw framing only the payload is written.
func writeFrame(conn net.Conn, framing common.Framing, msg string, timeout time.Duration) error {
	if timeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
	}

	data := []byte(msg)
	if framing == common.FramingRaw {
		_, err := conn.Write(data)
		return err
	}

	header := make([]byte, headerSize)
	binary.BigEndian.PutUint32(header, uint32(len(data)))

	b := net.Buffers{header, data}
	_, err := b.WriteTo(conn)
	return err
}

// --------------------------------------------------------------------------
// Reading
// --------------------------------------------------------------------------

// frameReader turns the chunks read from a connection into messages.
// It is owned by one worker goroutine and not thread-safe.
type frameReader struct {
	framing common.Framing
	maxSize int
	pending []byte // bytes of an incomplete frame
}

func newFrameReader(conf common.FramingConf) *frameReader {
	return &frameReader{
		framing: conf.Framing,
		maxSize: conf.MaxFrameSize,
	}
}

// feed consumes one chunk and returns every message completed by it. With
// length framing, bytes of an incomplete frame are kept for the next call.
func (r *frameReader) feed(chunk []byte) ([]string, error) {
	if len(chunk) == 0 {
		return nil, nil
	}
	if r.framing == common.FramingRaw {
		return []string{string(chunk)}, nil
	}

	r.pending = append(r.pending, chunk...)

	var msgs []string
	for len(r.pending) >= headerSize {
		size := binary.BigEndian.Uint32(r.pending[:headerSize])
		if r.maxSize > 0 && uint64(size) > uint64(r.maxSize) {
			r.reset()
			return msgs, fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLarge, size, r.maxSize)
		}
		end := headerSize + int(size)
		if len(r.pending) < end {
			break
		}
		msgs = append(msgs, string(r.pending[headerSize:end]))
		r.pending = r.pending[end:]
	}

	// release the backing array once everything was consumed
	if len(r.pending) == 0 {
		r.pending = nil
	}
	return msgs, nil
}

// buffered returns the number of bytes waiting for the rest of their frame
func (r *frameReader) buffered() int {
	return len(r.pending)
}

// reset drops any partial frame, used when a connection is replaced
func (r *frameReader) reset() {
	r.pending = nil
}

// --------------------------------------------------------------------------
// Error classification
// --------------------------------------------------------------------------

// isTimeout reports whether err is a deadline expiry, which means "no data this tick"
func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
