// Command overtemp protects RF power amplifiers from over-temperature by
// backing off output power, switching PAs off and finally requesting a
// system shutdown.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

type globalOpts struct {
	logLevel  string
	logFormat string
	dbPath    string
}

func newRootCmd() *cobra.Command {
	var g globalOpts

	root := &cobra.Command{
		Use:   "overtemp",
		Short: "PA over-temperature protection daemon",
		Long: `overtemp watches the board temperature sensors of each antenna channel,
backs off PA output power as they heat up, switches the PAs off when
backoff is not enough, and requests a system shutdown as a last resort.

Configuration is read once at startup from a bolt database (seeded with
"overtemp seed") or from a YAML file.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(cmd.ErrOrStderr(), g.logLevel, g.logFormat)
			if err != nil {
				return err
			}
			slog.SetDefault(log)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "text", "log format (text or json)")
	root.PersistentFlags().StringVar(&g.dbPath, "db", "/var/lib/overtemp/overtemp.db", "bolt database holding configuration and the event log")

	root.AddCommand(newRunCmd(&g), newSeedCmd(&g), newEventsCmd(&g))
	return root
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("log format %q: want text or json", format)
}
