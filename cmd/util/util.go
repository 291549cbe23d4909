package util

import (
	"bufio"
	"context"
	"fmt"
	"github.com/ValentinKolb/comms/lib/csm"
	"github.com/ValentinKolb/comms/rpc/common"
	"github.com/ValentinKolb/comms/rpc/serializer"
	"github.com/ValentinKolb/comms/rpc/transport"
	"github.com/ValentinKolb/comms/rpc/transport/tcp"
	"github.com/ValentinKolb/comms/rpc/transport/unix"
	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"io"
	"sort"
	"strings"
	"time"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// --------------------------------------------------------------------------
// Flags and configuration
// --------------------------------------------------------------------------

// SetupTransportFlags adds the socket and timing flags shared by serve and connect
func SetupTransportFlags(cmd *cobra.Command) {
	key := "poll-timeout"
	cmd.Flags().Duration(key, common.DefaultPollTimeout, WrapString("How long a worker waits for incoming data per tick"))

	key = "tick-interval"
	cmd.Flags().Duration(key, common.DefaultTickInterval, WrapString("Pause between two iterations of a worker loop"))

	key = "write-timeout"
	cmd.Flags().Duration(key, common.DefaultWriteTimeout, WrapString("Deadline for writing one message, a slow peer is disconnected after it"))

	key = "max-frame-size"
	cmd.Flags().Int(key, common.DefaultMaxFrameSize, WrapString("Largest accepted message in bytes (length framing only)"))

	key = "write-buffer"
	cmd.Flags().Int(key, 0, WrapString("The size of the socket write buffer in KB (0 = os default)"))

	key = "read-buffer"
	cmd.Flags().Int(key, 0, WrapString("The size of the socket read buffer in KB (0 = os default)"))

	key = "tcp-nodelay"
	cmd.Flags().Bool(key, true, WrapString("Whether to enable TCP_NODELAY (tcp transport only)"))

	key = "tcp-keepalive"
	cmd.Flags().Int(key, 0, WrapString("The keepalive interval in seconds (tcp transport only, 0 = os default)"))

	key = "tcp-linger"
	cmd.Flags().Int(key, 0, WrapString("The linger time in seconds (tcp transport only, 0 = os default)"))

	key = "state-expiry"
	cmd.Flags().Duration(key, 0, WrapString("How long received fields stay valid in the peer state (0 = forever)"))
}

// InitConfig loads .env files and prepares viper to read COMMS_* variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("comms")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

func timingConf() common.TimingConf {
	return common.TimingConf{
		PollTimeout:  viper.GetDuration("poll-timeout"),
		TickInterval: viper.GetDuration("tick-interval"),
		StopTimeout:  common.DefaultStopTimeout,
		WriteTimeout: viper.GetDuration("write-timeout"),
	}
}

func framingConf() (common.FramingConf, error) {
	framing, err := common.ParseFraming(viper.GetString("framing"))
	if err != nil {
		return common.FramingConf{}, err
	}
	return common.FramingConf{
		Framing:       framing,
		MaxFrameSize:  viper.GetInt("max-frame-size"),
		ReadChunkSize: common.DefaultReadChunkSize,
	}, nil
}

func socketConf() (common.SocketConf, common.TCPConf) {
	socket := common.SocketConf{
		WriteBufferSize: viper.GetInt("write-buffer") * 1024,
		ReadBufferSize:  viper.GetInt("read-buffer") * 1024,
	}
	tcpConf := common.TCPConf{
		TCPNoDelay:      viper.GetBool("tcp-nodelay"),
		TCPKeepAliveSec: viper.GetInt("tcp-keepalive"),
		TCPLingerSec:    viper.GetInt("tcp-linger"),
	}
	return socket, tcpConf
}

// GetClientConfig reads the client configuration from viper
func GetClientConfig(endpoint string) (common.ClientConfig, error) {
	framing, err := framingConf()
	if err != nil {
		return common.ClientConfig{}, err
	}
	socket, tcpConf := socketConf()

	conf := common.ClientConfig{
		Endpoint:          endpoint,
		Hostname:          viper.GetString("hostname"),
		ConnectTimeout:    viper.GetDuration("connect-timeout"),
		ReconnectInterval: viper.GetDuration("reconnect-interval"),
		Timing:            timingConf(),
		Framing:           framing,
		Socket:            socket,
		TCP:               tcpConf,
		LogLevel:          viper.GetString("log-level"),
	}
	return conf.WithDefaults(), nil
}

// GetServerConfig reads the server configuration from viper
func GetServerConfig() (common.ServerConfig, error) {
	framing, err := framingConf()
	if err != nil {
		return common.ServerConfig{}, err
	}
	socket, tcpConf := socketConf()

	conf := common.ServerConfig{
		Endpoint:      viper.GetString("endpoint"),
		AcceptTimeout: common.DefaultAcceptTimeout,
		Timing:        timingConf(),
		Framing:       framing,
		Socket:        socket,
		TCP:           tcpConf,
		LogLevel:      viper.GetString("log-level"),
	}
	return conf.WithDefaults(), nil
}

// GetSerializer creates a serializer based on configuration
func GetSerializer() (serializer.IRPCSerializer, error) {
	name := viper.GetString("serializer")
	s, ok := serializer.ByName(name)
	if !ok {
		return nil, fmt.Errorf("invalid serializer %s (expected csm, binary or json)", name)
	}
	return s, nil
}

// GetClientTransport creates the client transport based on configuration
func GetClientTransport(config common.ClientConfig) (transport.IClient, error) {
	switch viper.GetString("transport") {
	case "tcp":
		return tcp.NewTCPClient(config), nil
	case "unix":
		return unix.NewUnixClient(config), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// GetServerTransport creates the server transport based on configuration
func GetServerTransport(config common.ServerConfig) (transport.IServer, error) {
	switch viper.GetString("transport") {
	case "tcp":
		return tcp.NewTCPServer(config), nil
	case "unix":
		return unix.NewUnixServer(config), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// --------------------------------------------------------------------------
// Messages on the terminal
// --------------------------------------------------------------------------

// ParseFields parses name=value arguments into a message. Values are
// classified like sequence elements: 5 is an int, 'x' and x are strings,
// [1, 2] is a list and so on.
func ParseFields(args []string) (csm.Message, error) {
	msg := make(csm.Message, 0, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid field %q (expected name=value)", arg)
		}
		msg = msg.Set(name, csm.ParseLiteral(value))
	}
	return msg, nil
}

// SplitLine splits an input line into name=value arguments. Spaces inside
// quotes and brackets do not split.
func SplitLine(line string) []string {
	var (
		args  []string
		cur   strings.Builder
		depth int
		quote rune
	)
	flush := func() {
		if cur.Len() > 0 {
			args = append(args, cur.String())
			cur.Reset()
		}
	}

	for _, r := range line {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == '[' || r == '(':
			depth++
		case r == ']' || r == ')':
			depth--
		case (r == ' ' || r == '\t') && depth <= 0:
			flush()
			continue
		}
		cur.WriteRune(r)
	}
	flush()
	return args
}

// FormatFields renders fields sorted by name as "name=value<kind>"
func FormatFields(fields csm.Fields) string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		v := fields[name]
		text := fmt.Sprintf("%v", v)
		if b, ok := v.([]byte); ok {
			text = fmt.Sprintf("%x", b)
		}
		parts[i] = fmt.Sprintf("%s=%s%s", color.GreenString("%s", name), text, color.YellowString("<%s>", csm.KindOf(v)))
	}
	return strings.Join(parts, " ")
}

// PrintMessage writes one received message to w
func PrintMessage(w io.Writer, addr string, fields csm.Fields) {
	_, _ = fmt.Fprintf(w, "%s %s %s\n",
		color.HiBlackString(time.Now().Format("15:04:05.000")),
		color.CyanString("[%s]", addr),
		FormatFields(fields))
}

// ReadLines calls fn for every non empty line of r until fn returns false,
// r is exhausted or ctx is done
func ReadLines(ctx context.Context, r io.Reader, fn func(line string) bool) error {
	lines := make(chan string)
	errCh := make(chan error, 1)

	go func() {
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errCh <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			return err
		case line := <-lines:
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if !fn(line) {
				return nil
			}
		}
	}
}
