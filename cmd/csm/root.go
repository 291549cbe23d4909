package csm

import (
	"fmt"
	"github.com/ValentinKolb/comms/cmd/util"
	"github.com/ValentinKolb/comms/lib/csm"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"strings"
)

var (
	// CSMCommands represents the csm command group
	CSMCommands = &cobra.Command{
		Use:   "csm",
		Short: "Encode and decode csm messages",
	}

	encodeCmd = &cobra.Command{
		Use:   "encode [name=value]...",
		Short: "Encode name=value arguments as csm text",
		Long: `Encode name=value arguments as csm text. Values are classified by their
literal form: 5 is an int, 2.5 a float, True/False a bool, None is none,
[..] a list, (..) a tuple, b'00ff' bytes and anything else a string.`,
		Example: `  comms csm encode x=5 name=sensor pose="(1.5, 2.0)"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := util.ParseFields(args)
			if err != nil {
				return err
			}
			text, err := csm.Encode(msg)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}

	decodeCmd = &cobra.Command{
		Use:     "decode [text]",
		Short:   "Decode csm text and print the typed fields",
		Example: `  comms csm decode '{x:5<int>}*%*{name:sensor<str>}*%*'`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := csm.Decode(strings.Join(args, " "))
			if err != nil {
				return err
			}
			if len(fields) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), color.YellowString("empty message"))
				return nil
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), util.FormatFields(fields))
			return nil
		},
	}
)

func init() {
	CSMCommands.AddCommand(encodeCmd)
	CSMCommands.AddCommand(decodeCmd)
}
