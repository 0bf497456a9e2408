package main

import (
	"bufio"
	"fmt"
	"io"
	"math/rand"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/ksred/skyline-api/internal/batch"
	"github.com/ksred/skyline-api/internal/database"
	"github.com/ksred/skyline-api/internal/lab"
	"github.com/ksred/skyline-api/internal/market"
	"github.com/ksred/skyline-api/internal/trading"
)

const clearScreen = "\033[H\033[2J"

// options builds session options from the loaded config. A manual scheduler
// makes batch stages fire only when drained.
func (a *app) options(scheduler batch.Scheduler, tick time.Duration, seed int64) lab.Options {
	return lab.Options{
		TickInterval: tick,
		StageDelay:   a.cfg.Lab.StageDelay,
		MaxMove:      a.cfg.Lab.MaxMove,
		MaxNotional:  decimal.NewFromFloat(a.cfg.Risk.MaxNotional),
		Scheduler:    scheduler,
		Seed:         seed,
	}
}

// attachReports persists EOD reports to the configured database when asked
func (a *app) attachReports(cmd *cobra.Command, opts *lab.Options) error {
	persist, _ := cmd.Flags().GetBool("persist")
	if !persist {
		return nil
	}
	db, err := database.NewDatabase(a.cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	opts.Reports = lab.NewDatabase(db)
	return nil
}

func printOutput(w, errW io.Writer, out lab.Output) {
	if out.Clear {
		fmt.Fprint(w, clearScreen)
	}
	target := w
	if out.Error {
		target = errW
	}
	for _, line := range out.Lines {
		fmt.Fprintln(target, line)
	}
}

func (a *app) replCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Interactive lab terminal with a live market ticker",
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, _ := cmd.Flags().GetInt64("seed")
			opts := a.options(batch.RealScheduler{}, a.cfg.Lab.TickInterval, seed)
			if err := a.attachReports(cmd, &opts); err != nil {
				return err
			}

			session := lab.NewSession("local", opts)
			defer session.Close()

			out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
			fmt.Fprintln(out, "skyline lab terminal, type 'help' for commands and 'exit' to quit")

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for {
				fmt.Fprint(out, "skyline> ")
				if !scanner.Scan() {
					fmt.Fprintln(out)
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())
				if line == "exit" || line == "quit" {
					return nil
				}
				printOutput(out, errOut, session.Exec(line))
			}
		},
	}
	cmd.Flags().Int64("seed", 0, "market ticker seed (0 uses the clock)")
	cmd.Flags().Bool("persist", false, "store EOD reports in the configured database")
	return cmd
}

func (a *app) scriptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "script [file]",
		Short: "Replay terminal commands from a file or stdin",
		Long: `Replays one terminal command per line against a fresh session.

The market ticker is off and every batch stage completes before the next line
runs, so a script always produces the same output. Lines starting with # are
skipped.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			strict, _ := cmd.Flags().GetBool("strict")
			scheduler := batch.NewManualScheduler(time.Now())
			opts := a.options(scheduler, -1, 1)
			if err := a.attachReports(cmd, &opts); err != nil {
				return err
			}

			session := lab.NewSession("local", opts)
			defer session.Close()

			out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
			failures := 0
			scanner := bufio.NewScanner(in)
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line == "" || strings.HasPrefix(line, "#") {
					continue
				}
				fmt.Fprintf(out, "> %s\n", line)
				result := session.Exec(line)
				scheduler.RunAll()
				printOutput(out, errOut, result)
				if result.Error {
					failures++
				}
			}
			if err := scanner.Err(); err != nil {
				return err
			}
			if strict && failures > 0 {
				return fmt.Errorf("%d command(s) failed", failures)
			}
			return nil
		},
	}
	cmd.Flags().Bool("strict", false, "exit non-zero when any command fails")
	cmd.Flags().Bool("persist", false, "store EOD reports in the configured database")
	return cmd
}

func (a *app) eodCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eod",
		Short: "Book a random book and run the end-of-day batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			count, _ := cmd.Flags().GetInt("trades")
			seed, _ := cmd.Flags().GetInt64("seed")
			if count < 1 {
				return fmt.Errorf("--trades must be at least 1")
			}
			if seed == 0 {
				seed = time.Now().UnixNano()
			}

			scheduler := batch.NewManualScheduler(time.Now())
			opts := a.options(scheduler, -1, seed)
			if err := a.attachReports(cmd, &opts); err != nil {
				return err
			}

			session := lab.NewSession("local", opts)
			defer session.Close()

			out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
			rng := rand.New(rand.NewSource(seed))
			quotes, err := session.Quotes()
			if err != nil {
				return err
			}

			for i := 0; i < count; i++ {
				req := randomBooking(rng, quotes)
				if _, err := session.Book(req); err != nil {
					return fmt.Errorf("book %s %s: %w", req.ProductType, req.Asset, err)
				}
			}

			for _, line := range []string{"run eod", "status", "pnl"} {
				fmt.Fprintf(out, "> %s\n", line)
				printOutput(out, errOut, session.Exec(line))
				scheduler.RunAll()
			}
			return nil
		},
	}
	cmd.Flags().Int("trades", 10, "number of trades to book")
	cmd.Flags().Int64("seed", 0, "random seed (0 uses the clock)")
	cmd.Flags().Bool("persist", false, "store the EOD report in the configured database")
	return cmd
}

// randomBooking books near the current quote so NPVs stay readable
func randomBooking(rng *rand.Rand, quotes market.QuoteSet) trading.BookingRequest {
	products := trading.Products()
	product := products[rng.Intn(len(products))]
	conv, _ := trading.LookupConvention(product)

	assets := make([]string, 0, len(conv.Assets))
	for asset := range conv.Assets {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	asset := assets[rng.Intn(len(assets))]

	rate := quotes[conv.Assets[asset]]
	// within half a percent of the market
	shift := decimal.NewFromFloat(1 + (rng.Float64()-0.5)*0.01)

	return trading.BookingRequest{
		ProductType: string(product),
		Asset:       asset,
		TradeRate:   rate.Mul(shift).Round(4),
		Notional:    decimal.NewFromInt(int64(rng.Intn(100)+1) * 100_000),
	}
}
