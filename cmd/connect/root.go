package connect

import (
	"context"
	"fmt"
	cmdUtil "github.com/ValentinKolb/comms/cmd/util"
	"github.com/ValentinKolb/comms/lib/csm"
	"github.com/ValentinKolb/comms/rpc/client"
	"github.com/ValentinKolb/comms/rpc/common"
	"github.com/fatih/color"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"os"
	"os/signal"
	"syscall"
)

var (
	Logger = logger.GetLogger("cli")

	ConnectCmd = &cobra.Command{
		Use:   "connect [endpoint]",
		Short: "Connect to a comms server",
		Long: `Connect to a comms server and print every message it sends.

The endpoint defaults to "debug", the local hostname on port 37564. A missing
port is replaced by 37564. With --transport unix the endpoint is a socket path.
The client reconnects on its own until it is stopped.

Lines typed on stdin are sent as messages:
  name=value ...   send a message (e.g. x=5 name='sensor 1' pose=(1.5, 2.0))
  state            print the fields received so far
  status           print the connection state
  quit             disconnect and exit`,
		Args: cobra.MaximumNArgs(1),
		RunE: run,
	}
)

func init() {
	key := "hostname"
	ConnectCmd.Flags().String(key, "", cmdUtil.WrapString("Hostname announced to the server in the handshake (default: the local hostname)"))

	key = "connect-timeout"
	ConnectCmd.Flags().Duration(key, common.DefaultConnectTimeout, cmdUtil.WrapString("Timeout of one connection attempt"))

	key = "reconnect-interval"
	ConnectCmd.Flags().Duration(key, common.DefaultReconnectInterval, cmdUtil.WrapString("Pause after a failed connection attempt"))

	cmdUtil.SetupTransportFlags(ConnectCmd)
}

// run starts the client and processes stdin until quit or a signal
func run(cmd *cobra.Command, args []string) error {
	endpoint := common.LocalHostPlaceholder
	if len(args) == 1 {
		endpoint = args[0]
	}

	config, err := cmdUtil.GetClientConfig(endpoint)
	if err != nil {
		return err
	}
	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}
	t, err := cmdUtil.GetClientTransport(config)
	if err != nil {
		return err
	}

	Logger.Infof("%s", config.String())

	c := client.NewRPCClient(t, s, viper.GetDuration("state-expiry"), nil)
	out := cmd.OutOrStdout()
	c.Handle(func(fields csm.Fields, addr string) {
		cmdUtil.PrintMessage(out, addr, fields)
	})

	if err := c.Start(); err != nil {
		return err
	}
	defer func() {
		if err := c.Stop(); err != nil {
			Logger.Warningf("failed to stop client: %v", err)
		}
	}()
	_, _ = fmt.Fprintf(out, "%s connecting to %s (%s, %s)\n",
		color.GreenString("comms"), t.Endpoint(), viper.GetString("transport"), s.Name())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return cmdUtil.ReadLines(ctx, cmd.InOrStdin(), func(line string) bool {
		return handleLine(cmd, c, line)
	})
}

// handleLine executes one line typed by the user, it returns false to quit
func handleLine(cmd *cobra.Command, c *client.RPCClient, line string) bool {
	out := cmd.OutOrStdout()

	switch line {
	case "quit", "exit":
		return false
	case "state":
		_, _ = fmt.Fprintln(out, c.State().String())
		return true
	case "status":
		_, _ = fmt.Fprintf(out, "%s: %s\n", c.Transport().Endpoint(), c.Transport().State())
		return true
	}

	msg, err := cmdUtil.ParseFields(cmdUtil.SplitLine(line))
	if err != nil {
		_, _ = fmt.Fprintln(out, color.RedString("%v", err))
		return true
	}
	if err := c.Send(msg); err != nil {
		_, _ = fmt.Fprintln(out, color.RedString("%v", err))
	}
	return true
}
