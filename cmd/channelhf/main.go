// Command channelhf is the CLI surface over the daily-bar ChannelHF
// backtest/scan engine: a single binary exposing the batch/scan
// orchestration, the portfolio-broker backtest, and the result selector
// as cobra subcommands, each streaming NDJSON (or, for select, quality and
// features list, a single JSON document) to stdout per the documented
// external interface.
//
// Exit codes: 0 success, 1 runtime error, 2 argument error.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// argError marks a subcommand failure caused by bad CLI input (missing or
// malformed flags) rather than a runtime failure during the run itself,
// so main can map it to exit code 2 instead of 1.
type argError struct{ err error }

func (e argError) Error() string { return e.err.Error() }
func (e argError) Unwrap() error { return e.err }

func argErrorf(format string, args ...any) error {
	return argError{err: fmt.Errorf(format, args...)}
}

var (
	flagConfigPath string
	flagLogLevel   string
	flagDataDir    string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "channelhf",
		Short:         "channelhf backtests and scans the ChannelHF mean-reversion strategy over daily bars",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagConfigPath, "config", "", "path to a JSON config file (defaults applied when empty)")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "directory of <symbol>.csv bar files (overrides config data_dir)")

	root.AddCommand(newBacktestCmd())
	root.AddCommand(newScanCmd())
	root.AddCommand(newBatchCmd())
	root.AddCommand(newSelectCmd())
	root.AddCommand(newQualityCmd())
	root.AddCommand(newFeaturesCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		var ae argError
		if errors.As(err, &ae) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
