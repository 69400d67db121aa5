// Package suite turns registered experiments into a command line tool.
//
//	func main() {
//		reg := suite.NewRegistry()
//		reg.Register("mlp", func() api.Stepper { return &MLP{} })
//		suite.Main(reg)
//	}
package suite

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	version   = "0.3.0"
	commit    = ""
	buildDate = ""
)

type app struct {
	reg *Registry
}

// NewCommand builds the root command around reg.
func NewCommand(reg *Registry) *cobra.Command {
	a := &app{reg: reg}
	cmd := &cobra.Command{
		Use:   "expsuite",
		Short: "Run resumable parameter sweeps of iterative experiments",
		Long: "expsuite expands parameter sweeps into experiment directories and runs every " +
			"repetition in parallel, resuming interrupted work from its logs.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringP("log", "l", "info", "Set log level. Available: trace, debug, info, warn, error, fatal")
	cmd.PersistentFlags().String("config", "", "settings file (default $XDG_CONFIG_HOME/expsuite/config.yaml)")
	cmd.PersistentFlags().StringP("experiment", "e", "", "registered experiment to run")

	cmd.PersistentPreRun = func(c *cobra.Command, args []string) {
		levelStr, _ := c.Flags().GetString("log")
		setLevel(levelStr)
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(a.newRunCmd())
	cmd.AddCommand(a.newRerunCmd())
	cmd.AddCommand(a.newStatusCmd())
	cmd.AddCommand(a.newHistoryCmd())
	cmd.AddCommand(a.newWorkerCmd())
	return cmd
}

func setLevel(levelStr string) {
	switch levelStr {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "fatal":
		zerolog.SetGlobalLevel(zerolog.FatalLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "expsuite %s (%s) %s\n", version, commit, buildDate)
		},
	}
}

// Setup the logger
func setupLogger() {
	level := zerolog.InfoLevel
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(level)
}

// Main runs the command line tool and exits. An interrupt stops every
// repetition after its current iteration; the logs stay resumable.
func Main(reg *Registry) {
	setupLogger()
	root := NewCommand(reg)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	root.SetContext(ctx)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
