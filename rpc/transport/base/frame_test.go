package base

import (
	"encoding/binary"
	"errors"
	"github.com/ValentinKolb/comms/rpc/common"
	"net"
	"reflect"
	"testing"
	"time"
)

// frame builds a length prefixed frame
func frame(msg string) []byte {
	b := make([]byte, headerSize+len(msg))
	binary.BigEndian.PutUint32(b, uint32(len(msg)))
	copy(b[headerSize:], msg)
	return b
}

func TestFrameReaderLength(t *testing.T) {
	tests := []struct {
		name   string
		chunks [][]byte
		want   []string
	}{
		{
			name:   "single frame",
			chunks: [][]byte{frame("{a:1<int>}*%*")},
			want:   []string{"{a:1<int>}*%*"},
		},
		{
			name:   "two frames in one read",
			chunks: [][]byte{append(frame("one"), frame("two")...)},
			want:   []string{"one", "two"},
		},
		{
			name: "frame split across reads",
			chunks: func() [][]byte {
				f := frame("hello world")
				return [][]byte{f[:2], f[2:7], f[7:]}
			}(),
			want: []string{"hello world"},
		},
		{
			name:   "empty message",
			chunks: [][]byte{frame("")},
			want:   []string{""},
		},
		{
			name: "tail of one frame and head of the next",
			chunks: func() [][]byte {
				all := append(frame("first"), frame("second")...)
				return [][]byte{all[:6], all[6:12], all[12:]}
			}(),
			want: []string{"first", "second"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newFrameReader(common.FramingConf{Framing: common.FramingLength, MaxFrameSize: 1024})
			var got []string
			for _, chunk := range tt.chunks {
				msgs, err := r.feed(chunk)
				if err != nil {
					t.Fatalf("feed() error = %v", err)
				}
				got = append(got, msgs...)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("messages = %q, want %q", got, tt.want)
			}
			if r.buffered() != 0 {
				t.Errorf("%d bytes left in the buffer", r.buffered())
			}
		})
	}
}

func TestFrameReaderTooLarge(t *testing.T) {
	r := newFrameReader(common.FramingConf{Framing: common.FramingLength, MaxFrameSize: 8})

	msgs, err := r.feed(append(frame("ok"), frame("this is too long")...))
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("feed() error = %v, want ErrFrameTooLarge", err)
	}
	if len(msgs) != 1 || msgs[0] != "ok" {
		t.Errorf("frames before the oversized one should be returned, got %q", msgs)
	}
	if r.buffered() != 0 {
		t.Error("the buffer should be dropped after an oversized frame")
	}
}

func TestFrameReaderRaw(t *testing.T) {
	r := newFrameReader(common.FramingConf{Framing: common.FramingRaw})

	msgs, err := r.feed([]byte("{a:1<int>}*%*{b:2<int>}*%*"))
	if err != nil || len(msgs) != 1 || msgs[0] != "{a:1<int>}*%*{b:2<int>}*%*" {
		t.Errorf("raw feed() = %q, %v", msgs, err)
	}
	if msgs, _ := r.feed(nil); len(msgs) != 0 {
		t.Error("an empty read is not a message")
	}
}

func TestWriteFrame(t *testing.T) {
	for _, framing := range []common.Framing{common.FramingLength, common.FramingRaw} {
		t.Run(string(framing), func(t *testing.T) {
			client, server := net.Pipe()
			defer client.Close()
			defer server.Close()

			errCh := make(chan error, 1)
			go func() {
				errCh <- writeFrame(client, framing, "{v:[1, 2, 3]<list>}*%*", time.Second)
			}()

			r := newFrameReader(common.FramingConf{Framing: framing, MaxFrameSize: 1024})
			buf := make([]byte, 64)
			var got []string
			deadline := time.Now().Add(time.Second)
			for len(got) == 0 && time.Now().Before(deadline) {
				_ = server.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
				n, _ := server.Read(buf)
				msgs, err := r.feed(buf[:n])
				if err != nil {
					t.Fatal(err)
				}
				got = append(got, msgs...)
			}

			if err := <-errCh; err != nil {
				t.Fatalf("writeFrame() error = %v", err)
			}
			if len(got) != 1 || got[0] != "{v:[1, 2, 3]<list>}*%*" {
				t.Errorf("read back %q", got)
			}
		})
	}
}

func TestIsTimeout(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	_ = server.SetReadDeadline(time.Now().Add(time.Millisecond))
	_, err := server.Read(make([]byte, 1))
	if !isTimeout(err) {
		t.Errorf("isTimeout(%v) = false", err)
	}
	if isTimeout(errors.New("connection reset by peer")) {
		t.Error("a reset is not a timeout")
	}
}
