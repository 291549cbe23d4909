package server

import (
	"fmt"
	"github.com/ValentinKolb/comms/lib/csm"
	"github.com/ValentinKolb/comms/lib/ttl"
	"github.com/ValentinKolb/comms/rpc/common"
	"github.com/ValentinKolb/comms/rpc/serializer"
	"github.com/ValentinKolb/comms/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"sync"
	"time"
)

// Handler is called with the decoded fields of every received message and the
// address of the peer that sent it
type Handler func(fields csm.Fields, addr string)

// NewRPCServer creates a new RPC server on top of a server transport.
// The server takes over the default and the disconnect callback of the
// transport. Fields in the per peer state expire after stateExpiry (0 = never).
// A nil log uses the "rpc" package logger.
//
// Usage:
//
//	s := server.NewRPCServer(
//		tcp.NewTCPServer(common.DefaultServerConfig()),
//		serializer.NewCSMSerializer(),
//		10*time.Second,
//		nil,
//	)
//	s.Handle(func(fields csm.Fields, addr string) { ... })
//	if err := s.Start(); err != nil {
//		panic(err)
//	}
func NewRPCServer(t transport.IServer, s serializer.IRPCSerializer, stateExpiry time.Duration, log logger.ILogger) *RPCServer {
	srv := &RPCServer{
		transport:   t,
		serializer:  s,
		log:         common.LoggerOrDefault(log, "rpc"),
		stateExpiry: stateExpiry,
		states:      xsync.NewMapOf[string, *ttl.Container](),
	}
	t.SetDefaultCallback(srv.receive)
	t.SetDisconnectCallback(srv.forget)
	return srv
}

// RPCServer exchanges csm messages with every connected peer and keeps one
// state container per peer address. The state of a peer is dropped when its
// connection is closed.
type RPCServer struct {
	transport   transport.IServer
	serializer  serializer.IRPCSerializer
	log         logger.ILogger
	stateExpiry time.Duration

	states *xsync.MapOf[string, *ttl.Container]

	mu      sync.RWMutex
	handler Handler
}

// Start starts the underlying transport
func (s *RPCServer) Start() error {
	return s.transport.Start()
}

// Stop stops the underlying transport and drops all peer state
func (s *RPCServer) Stop() error {
	err := s.transport.Stop()
	s.states.Clear()
	return err
}

// Send serializes the message and queues it for the target (see
// transport.IServer.Send). It returns the number of peers the message was
// queued for.
func (s *RPCServer) Send(msg csm.Message, target string) (int, error) {
	data, err := s.serializer.Serialize(msg)
	if err != nil {
		return 0, fmt.Errorf("failed to serialize message: %w", err)
	}
	return s.transport.Send(string(data), target), nil
}

// SendFields sends a map as message, the fields are ordered by name
func (s *RPCServer) SendFields(fields map[string]any, target string) (int, error) {
	return s.Send(csm.MessageOf(fields), target)
}

// Handle sets the function called for every received message.
// Passing nil removes the handler, the peer state is updated anyway.
func (s *RPCServer) Handle(fn Handler) {
	s.mu.Lock()
	s.handler = fn
	s.mu.Unlock()
}

// State returns a copy of the fields received from the peer with this address
func (s *RPCServer) State(addr string) (*ttl.Container, bool) {
	c, ok := s.states.Load(addr)
	if !ok {
		return nil, false
	}
	return c.Clone(), true
}

// Peers returns the addresses that sent at least one decodable message
func (s *RPCServer) Peers() []string {
	addrs := make([]string, 0, s.states.Size())
	s.states.Range(func(addr string, _ *ttl.Container) bool {
		addrs = append(addrs, addr)
		return true
	})
	return addrs
}

// Transport returns the underlying transport
func (s *RPCServer) Transport() transport.IServer {
	return s.transport
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// receive is the default transport callback. Undecodable messages are logged and dropped.
func (s *RPCServer) receive(msg string, addr string) {
	fields, err := s.serializer.Deserialize([]byte(msg))
	if err != nil {
		s.log.Warningf("dropping message from %s: %v", addr, err)
		return
	}

	state, _ := s.states.LoadOrCompute(addr, func() *ttl.Container {
		return ttl.New(s.stateExpiry)
	})
	state.MergeMap(fields)

	s.mu.RLock()
	fn := s.handler
	s.mu.RUnlock()
	if fn != nil {
		fn(fields, addr)
	}
}

// forget drops the state of a closed connection
func (s *RPCServer) forget(addr string) {
	if _, ok := s.states.LoadAndDelete(addr); ok {
		s.log.Debugf("dropped state of %s", addr)
	}
}
