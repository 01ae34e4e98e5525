package main

import (
	"flag"
	"os"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/robotalks/tripcomm/pkg/cli/sh"
	"github.com/robotalks/tripcomm/pkg/config"
)

//go-build: CGO_ENABLED=0

var outputJSON bool

var rootCmd = &cobra.Command{
	Use:   "tucli",
	Short: "Trip unit link client.",
	Long: `Trip unit link client issues requests to a protection processor ` +
		`over a serial device or a websocket link, as the display processor would.`,
	SilenceUsage: true,
	PersistentPreRun: func(*cobra.Command, []string) {
		// glog expects the go flags parsed.
		flag.CommandLine.Parse(nil)
	},
}

// shellCmd forwards a cobra command to the shell command of the same name.
func shellCmd(use, short string, args cobra.PositionalArgs) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			s := sh.New(config.Default())
			s.Interactive = false
			s.OutputJSON = outputJSON
			return s.Run(append([]string{cmd.Name()}, args...)...)
		},
	}
}

func init() {
	config.SetupFlags()
	rootCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", outputJSON, "Print output in JSON")

	rootCmd.AddCommand(
		shellCmd("read TYPE ID", "Read a buffer immediately", cobra.ExactArgs(2)),
		shellCmd("readlater TYPE ID", "Request a delayed read and wait for the data", cobra.ExactArgs(2)),
		shellCmd("write TYPE ID HEX...", "Write a buffer", cobra.MinimumNArgs(2)),
		shellCmd("exec ACTION ID [HEX...]", "Run an action", cobra.MinimumNArgs(2)),
		shellCmd("start ACTION ID [HEX...]", "Start an asynchronous action", cobra.MinimumNArgs(2)),
		shellCmd("check", "Read the status of the asynchronous session", cobra.NoArgs),
		shellCmd("events [DURATION]", "Print unsolicited messages", cobra.MaximumNArgs(1)),
		&cobra.Command{
			Use:   "shell",
			Short: "Interactive shell",
			Args:  cobra.NoArgs,
			RunE: func(*cobra.Command, []string) error {
				s := sh.New(config.Default())
				s.OutputJSON = outputJSON
				return s.Run()
			},
		},
	)
}

func main() {
	defer glog.Flush()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
