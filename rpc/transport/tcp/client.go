package tcp

import (
	"github.com/ValentinKolb/comms/rpc/common"
	"github.com/ValentinKolb/comms/rpc/transport"
	"github.com/ValentinKolb/comms/rpc/transport/base"
	"net"
	"time"
)

// clientConnector implements the IClientConnector interface for TCP sockets
type clientConnector struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.IClientConnector)
// --------------------------------------------------------------------------

func (c *clientConnector) GetName() string {
	return "tcp"
}

func (c *clientConnector) Connect(endpoint string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("tcp", endpoint, timeout)
}

func (c *clientConnector) UpgradeConnection(conn net.Conn, config common.ClientConfig) error {
	return upgradeConnection(conn, config.Socket, config.TCP)
}

// --------------------------------------------------------------------------
// Client Transport Factory Method
// --------------------------------------------------------------------------

// NewTCPClient creates a new TCP client. The endpoint is resolved with
// common.ResolveEndpoint, so "debug" and a missing port are accepted.
func NewTCPClient(config common.ClientConfig) transport.IClient {
	config.Endpoint = common.ResolveEndpoint(config.Endpoint)
	return base.NewBaseClientTransport(&clientConnector{}, config)
}
