package cmd

import (
	"fmt"
	"github.com/ValentinKolb/comms/cmd/connect"
	csmCmd "github.com/ValentinKolb/comms/cmd/csm"
	"github.com/ValentinKolb/comms/cmd/serve"
	"github.com/ValentinKolb/comms/cmd/util"
	"github.com/ValentinKolb/comms/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"os"
)

const (
	Version = "1.0.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "comms",
		Short: "duplex csm messaging over stream sockets",
		Long: fmt.Sprintf(`comms (v%s)

A server accepting many clients and clients that reconnect on their own,
exchanging typed {name:value<tag>} messages in both directions.

Every flag can also be set as environment variable COMMS_<FLAG>
(e.g. COMMS_LOG_LEVEL=debug), .env and .env.local are read on start.`, Version),
		SilenceUsage:      true,
		PersistentPreRunE: setup,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of comms",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("comms v%s\n", Version)
		},
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(connect.ConnectCmd)
	RootCmd.AddCommand(csmCmd.CSMCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "csm", util.WrapString("serializer to use (csm, binary, json)"))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "tcp", util.WrapString("transport to use (tcp, unix)"))
	key = "framing"
	RootCmd.PersistentFlags().String(key, string(common.FramingLength), util.WrapString("message framing on the socket (length, raw). Both sides must use the same framing"))
	key = "log-level"
	RootCmd.PersistentFlags().String(key, "info", util.WrapString("LogLevel is the level at which logs will be output (debug, info, warning, error)"))
}

// setup binds the flags of the executed command and configures the loggers
func setup(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	return common.InitLoggers(viper.GetString("log-level"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
