package client

import (
	"bytes"
	"errors"
	"github.com/ValentinKolb/comms/lib/csm"
	"github.com/ValentinKolb/comms/rpc/common"
	"github.com/ValentinKolb/comms/rpc/serializer"
	"github.com/ValentinKolb/comms/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeTransport records sent messages and lets the test inject received ones
type fakeTransport struct {
	mu      sync.Mutex
	sent    []string
	cb      transport.Callback
	running bool
	stopped bool
}

func (f *fakeTransport) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running, f.stopped = true, false
	return nil
}

func (f *fakeTransport) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running, f.stopped = false, true
	return nil
}

func (f *fakeTransport) Send(msg string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return false
	}
	f.sent = append(f.sent, msg)
	return true
}

func (f *fakeTransport) LastMessage() (string, bool) { return "", false }

func (f *fakeTransport) SetCallback(cb transport.Callback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *fakeTransport) State() transport.ConnectionState { return transport.StateConnected }

func (f *fakeTransport) Endpoint() string { return "server:37564" }

// receive simulates a message arriving from the server
func (f *fakeTransport) receive(msg string) {
	f.mu.Lock()
	cb := f.cb
	f.mu.Unlock()
	cb(msg, "10.0.0.1:37564")
}

func (f *fakeTransport) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func TestSend(t *testing.T) {
	ft := &fakeTransport{}
	c := NewRPCClient(ft, serializer.NewCSMSerializer(), 0, nil)

	if err := c.Send(csm.Message{}.Set("x", 5).Set("y", "a")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if err := c.SendFields(map[string]any{"b": true, "a": 1.5}); err != nil {
		t.Fatalf("SendFields() error = %v", err)
	}

	want := []string{
		"{x:5<int>}*%*{y:a<str>}*%*",
		"{a:1.5<float>}*%*{b:True<bool>}*%*",
	}
	if got := ft.messages(); !reflect.DeepEqual(got, want) {
		t.Errorf("sent %q, want %q", got, want)
	}
}

func TestSendErrors(t *testing.T) {
	ft := &fakeTransport{}
	c := NewRPCClient(ft, serializer.NewCSMSerializer(), 0, nil)

	err := c.Send(csm.Message{}.Set("bad", struct{}{}))
	if !errors.Is(err, csm.ErrUnsupportedType) {
		t.Errorf("expected ErrUnsupportedType, got %v", err)
	}
	if len(ft.messages()) != 0 {
		t.Error("nothing should be queued for an unencodable message")
	}

	_ = c.Start()
	_ = c.Stop()
	if err := c.Send(csm.Message{}.Set("x", 1)); !errors.Is(err, ErrNotQueued) {
		t.Errorf("expected ErrNotQueued after Stop, got %v", err)
	}
}

func TestReceive(t *testing.T) {
	ft := &fakeTransport{}
	c := NewRPCClient(ft, serializer.NewCSMSerializer(), time.Minute, nil)

	var (
		mu    sync.Mutex
		calls []csm.Fields
		addrs []string
	)
	c.Handle(func(fields csm.Fields, addr string) {
		mu.Lock()
		calls = append(calls, fields)
		addrs = append(addrs, addr)
		mu.Unlock()
	})

	ft.receive("{speed:2.5<float>}*%*{mode:auto<str>}*%*")
	ft.receive("{speed:3.0<float>}*%*")
	ft.receive("this is not csm")

	if len(calls) != 2 {
		t.Fatalf("handler called %d times, want 2", len(calls))
	}
	if !reflect.DeepEqual(calls[0], csm.Fields{"speed": 2.5, "mode": "auto"}) {
		t.Errorf("first message decoded to %v", calls[0])
	}
	if addrs[1] != "10.0.0.1:37564" {
		t.Errorf("handler got address %q", addrs[1])
	}

	state := c.State()
	if v, ok := state.Get("speed"); !ok || v != 3.0 {
		t.Errorf("state speed = %v, %v, want 3.0", v, ok)
	}
	if v, ok := state.Get("mode"); !ok || v != "auto" {
		t.Errorf("state mode = %v, %v, want auto", v, ok)
	}
}

func TestStateIsACopy(t *testing.T) {
	ft := &fakeTransport{}
	c := NewRPCClient(ft, serializer.NewBinarySerializer(), 0, nil)

	payload, _ := serializer.NewBinarySerializer().Serialize(csm.Message{}.Set("x", 1))
	ft.receive(string(payload))

	snapshot := c.State()
	snapshot.Set("x", int64(99))
	snapshot.Set("y", "local")

	if v, _ := c.State().Get("x"); v != int64(1) {
		t.Errorf("mirror changed through a copy: x = %v", v)
	}
	if c.State().Contains("y") {
		t.Error("mirror changed through a copy: y exists")
	}
}

func TestHandleNil(t *testing.T) {
	ft := &fakeTransport{}
	c := NewRPCClient(ft, serializer.NewCSMSerializer(), 0, nil)

	called := false
	c.Handle(func(csm.Fields, string) { called = true })
	c.Handle(nil)
	ft.receive("{x:1<int>}*%*")

	if called {
		t.Error("removed handler was called")
	}
	if !c.State().Contains("x") {
		t.Error("state should be updated without a handler")
	}
}

func TestDroppedMessagesUseGivenLogger(t *testing.T) {
	tests := []struct {
		name    string
		msg     string
		wantLog bool
	}{
		{"undecodable", "this is not csm", true},
		{"valid", "{x:1<int>}*%*", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			ft := &fakeTransport{}
			NewRPCClient(ft, serializer.NewCSMSerializer(), 0, common.NewLogger("rpc-test", logger.WARNING, &buf))

			ft.receive(tt.msg)

			logged := strings.Contains(buf.String(), "dropping message from 10.0.0.1:37564")
			if logged != tt.wantLog {
				t.Errorf("logged = %v, want %v (output %q)", logged, tt.wantLog, buf.String())
			}
		})
	}
}
