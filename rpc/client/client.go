package client

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/comms/lib/csm"
	"github.com/ValentinKolb/comms/lib/ttl"
	"github.com/ValentinKolb/comms/rpc/common"
	"github.com/ValentinKolb/comms/rpc/serializer"
	"github.com/ValentinKolb/comms/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"sync"
	"time"
)

// ErrNotQueued is returned by Send when the transport refused the message,
// usually because the client is stopped
var ErrNotQueued = errors.New("message not queued")

// Handler is called with the decoded fields of every received message and the
// address of the server that sent it
type Handler func(fields csm.Fields, addr string)

// RPCClient sends and receives csm messages over a client transport and
// mirrors everything the server sent into a TTL container
type RPCClient struct {
	transport  transport.IClient
	serializer serializer.IRPCSerializer
	log        logger.ILogger

	state *ttl.Container

	mu      sync.RWMutex
	handler Handler
}

// NewRPCClient creates a new RPC client on top of a transport. The client
// takes over the transport callback. Fields in the state mirror expire after
// stateExpiry (0 = never). A nil log uses the "rpc" package logger.
//
// Usage:
//
//	c := client.NewRPCClient(
//		tcp.NewTCPClient(common.DefaultClientConfig("debug")),
//		serializer.NewCSMSerializer(),
//		10*time.Second,
//		nil,
//	)
//	c.Handle(func(fields csm.Fields, addr string) { ... })
//	if err := c.Start(); err != nil {
//		panic(err)
//	}
func NewRPCClient(t transport.IClient, s serializer.IRPCSerializer, stateExpiry time.Duration, log logger.ILogger) *RPCClient {
	c := &RPCClient{
		transport:  t,
		serializer: s,
		log:        common.LoggerOrDefault(log, "rpc"),
		state:      ttl.New(stateExpiry),
	}
	t.SetCallback(c.receive)
	return c
}

// Start starts the underlying transport
func (c *RPCClient) Start() error {
	return c.transport.Start()
}

// Stop stops the underlying transport
func (c *RPCClient) Stop() error {
	return c.transport.Stop()
}

// Send serializes the message and queues it for the server
func (c *RPCClient) Send(msg csm.Message) error {
	data, err := c.serializer.Serialize(msg)
	if err != nil {
		return fmt.Errorf("failed to serialize message: %w", err)
	}
	if !c.transport.Send(string(data)) {
		return ErrNotQueued
	}
	return nil
}

// SendFields sends a map as message, the fields are ordered by name
func (c *RPCClient) SendFields(fields map[string]any) error {
	return c.Send(csm.MessageOf(fields))
}

// Handle sets the function called for every received message.
// Passing nil removes the handler, the state mirror is updated anyway.
func (c *RPCClient) Handle(fn Handler) {
	c.mu.Lock()
	c.handler = fn
	c.mu.Unlock()
}

// State returns a copy of the fields received from the server
func (c *RPCClient) State() *ttl.Container {
	return c.state.Clone()
}

// Transport returns the underlying transport
func (c *RPCClient) Transport() transport.IClient {
	return c.transport
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// receive is the transport callback. Undecodable messages are logged and dropped.
func (c *RPCClient) receive(msg string, addr string) {
	fields, err := c.serializer.Deserialize([]byte(msg))
	if err != nil {
		c.log.Warningf("dropping message from %s: %v", addr, err)
		return
	}

	c.state.MergeMap(fields)

	c.mu.RLock()
	fn := c.handler
	c.mu.RUnlock()
	if fn != nil {
		fn(fields, addr)
	}
}
