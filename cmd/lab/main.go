// Command lab runs the lab terminal offline, without the HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ksred/skyline-api/internal/config"
	"github.com/ksred/skyline-api/internal/logging"
)

// app carries what every subcommand needs
type app struct {
	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "lab",
		Short: "Skyline lab terminal",
		Long: `Runs the skyline lab terminal locally.

Book trades, move quotes and run the end-of-day batch against an in-process
session. Use 'lab repl' for an interactive terminal, 'lab script' to replay a
file of commands, and 'lab eod' for a one-shot random book.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}

			debug, _ := cmd.Flags().GetBool("debug")
			cfg.Log.Console = true
			cfg.Log.Level = "warn"
			if debug {
				cfg.Log.Level = "debug"
			}
			log.Logger = logging.New(cfg.Log, false, os.Stderr)

			a.cfg = cfg
			return nil
		},
	}

	root.PersistentFlags().String("config", "", "config file (default: ./skyline.toml)")
	root.PersistentFlags().Bool("debug", false, "enable debug logging")

	root.AddCommand(a.replCmd(), a.scriptCmd(), a.eodCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
