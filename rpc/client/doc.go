// Package client implements the application side of a comms client. It sits
// on top of a transport.IClient, serializes outgoing csm messages and decodes
// incoming ones.
//
// The package focuses on:
//   - Sending csm messages and plain maps without touching payload bytes
//   - Decoding every received message once and handing the fields to a Handler
//   - Mirroring the fields received from the server into a ttl.Container
//
// Key Components:
//
//   - NewRPCClient: Factory function that wraps a transport and a serializer.
//     The returned client owns the transport callback.
//
//   - State: Returns a copy of the mirror. Every received message is merged
//     into it with fresh timestamps, so stale fields expire after the
//     configured state expiry.
//
// Usage Example:
//
//	c := client.NewRPCClient(
//		tcp.NewTCPClient(common.DefaultClientConfig("debug")),
//		serializer.NewCSMSerializer(),
//		5*time.Second,
//		nil,
//	)
//	_ = c.Start()
//	defer c.Stop()
//
//	_ = c.Send(csm.Message{}.Set("speed", 1.5).Set("enabled", true))
//	speed, ok := c.State().Get("speed")
//
// Thread Safety:
//
//	All methods are thread-safe. The handler runs on the transport worker
//	goroutine and should return quickly.
package client
