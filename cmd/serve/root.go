package serve

import (
	"context"
	"errors"
	"fmt"
	cmdUtil "github.com/ValentinKolb/comms/cmd/util"
	"github.com/ValentinKolb/comms/lib/csm"
	"github.com/ValentinKolb/comms/rpc/common"
	"github.com/ValentinKolb/comms/rpc/server"
	"github.com/ValentinKolb/comms/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/fatih/color"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

var (
	Logger = logger.GetLogger("cli")

	ServeCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start a comms server",
		Long: `Start a comms server. Every received message is printed together with the address of its sender.

Lines typed on stdin are sent as messages:
  name=value ...            send to --target
  @target name=value ...    send to an address or IP
  peers                     list the open connections
  state <addr>              print the fields a peer sent
  quit                      stop the server`,
		RunE: run,
	}
)

func init() {
	key := "endpoint"
	ServeCmd.Flags().String(key, common.DefaultServerEndpoint, cmdUtil.WrapString("The address on which the server will listen (e.g. 0.0.0.0:37564, /tmp/comms.sock for unix)"))

	key = "target"
	ServeCmd.Flags().String(key, "", cmdUtil.WrapString("Default target of typed messages: an address, an IP or empty for any connected client"))

	key = "metrics-endpoint"
	ServeCmd.Flags().String(key, "", cmdUtil.WrapString("Address of an HTTP listener exposing Prometheus metrics on /metrics (empty = disabled)"))

	cmdUtil.SetupTransportFlags(ServeCmd)
}

// run starts the server and processes stdin until quit or a signal
func run(cmd *cobra.Command, _ []string) error {
	config, err := cmdUtil.GetServerConfig()
	if err != nil {
		return err
	}
	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}
	t, err := cmdUtil.GetServerTransport(config)
	if err != nil {
		return err
	}

	Logger.Infof("%s", config.String())

	srv := server.NewRPCServer(t, s, viper.GetDuration("state-expiry"), nil)
	out := cmd.OutOrStdout()
	srv.Handle(func(fields csm.Fields, addr string) {
		cmdUtil.PrintMessage(out, addr, fields)
	})

	if err := srv.Start(); err != nil {
		return err
	}
	defer func() {
		if err := srv.Stop(); err != nil {
			Logger.Warningf("failed to stop server: %v", err)
		}
	}()
	_, _ = fmt.Fprintf(out, "%s listening on %s (%s, %s)\n",
		color.GreenString("comms"), t.Addr(), viper.GetString("transport"), s.Name())

	if addr := viper.GetString("metrics-endpoint"); addr != "" {
		stop := serveMetrics(addr, t)
		defer stop()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	target := viper.GetString("target")
	return cmdUtil.ReadLines(ctx, cmd.InOrStdin(), func(line string) bool {
		return handleLine(cmd, srv, target, line)
	})
}

// handleLine executes one line typed by the user, it returns false to quit
func handleLine(cmd *cobra.Command, srv *server.RPCServer, target, line string) bool {
	out := cmd.OutOrStdout()
	args := cmdUtil.SplitLine(line)

	switch args[0] {
	case "quit", "exit":
		return false
	case "peers":
		printPeers(cmd, srv.Transport().Peers())
		return true
	case "state":
		if len(args) != 2 {
			_, _ = fmt.Fprintln(out, color.RedString("usage: state <addr>"))
			return true
		}
		state, ok := srv.State(args[1])
		if !ok {
			_, _ = fmt.Fprintln(out, color.RedString("no state for %s", args[1]))
			return true
		}
		_, _ = fmt.Fprintln(out, state.String())
		return true
	}

	if strings.HasPrefix(args[0], "@") {
		target, args = strings.TrimPrefix(args[0], "@"), args[1:]
	}

	msg, err := cmdUtil.ParseFields(args)
	if err != nil {
		_, _ = fmt.Fprintln(out, color.RedString("%v", err))
		return true
	}
	n, err := srv.Send(msg, target)
	switch {
	case err != nil:
		_, _ = fmt.Fprintln(out, color.RedString("%v", err))
	case n == 0:
		_, _ = fmt.Fprintln(out, color.YellowString("no connection matches %q", target))
	}
	return true
}

func printPeers(cmd *cobra.Command, peers []transport.PeerInfo) {
	out := cmd.OutOrStdout()
	if len(peers) == 0 {
		_, _ = fmt.Fprintln(out, color.YellowString("no open connections"))
		return
	}
	_, _ = fmt.Fprintf(out, "%-24s %-16s %-10s %-10s %-10s %s\n", "ADDR", "HOSTNAME", "RECEIVED", "SENT", "MEAN SIZE", "CONNECTED")
	for _, p := range peers {
		_, _ = fmt.Fprintf(out, "%-24s %-16s %-10d %-10d %-10.1f %s\n",
			p.Addr, p.Hostname, p.Received, p.Sent, p.MeanSize, time.Since(p.ConnectedAt).Round(time.Second))
	}
}

// serveMetrics exposes the server metrics and the process metrics over HTTP
func serveMetrics(addr string, t transport.IServer) (stop func()) {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		t.WritePrometheus(w)
		metrics.WritePrometheus(w, true)
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		Logger.Infof("serving metrics on http://%s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			Logger.Errorf("metrics endpoint failed: %v", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
