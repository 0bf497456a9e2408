package lab

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ksred/skyline-api/internal/batch"
	"github.com/ksred/skyline-api/internal/market"
	"github.com/ksred/skyline-api/internal/trading"
)

// Desk is the set of session operations reachable from the lab terminal
type Desk interface {
	Book(req trading.BookingRequest) (trading.Trade, error)
	Trades() ([]trading.Trade, error)
	Quotes() (market.QuoteSet, error)
	RefreshQuotes() (market.QuoteSet, error)
	StartBatch() (batch.Run, error)
	Batch() (batch.Run, error)
	Summary() (trading.Summary, error)
}

// Output is what the terminal shows for one input line
type Output struct {
	Lines []string `json:"lines"`
	// Clear asks the terminal to wipe its scrollback before printing Lines
	Clear bool `json:"clear,omitempty"`
	Error bool `json:"error,omitempty"`
}

const bookUsage = "usage: book <product> <asset> <rate> <notional>"

var commandList = []string{"book", "market", "run eod", "ls", "clear", "status", "pnl", "refresh", "help"}

func textOutput(lines ...string) Output {
	return Output{Lines: lines}
}

func errorOutput(format string, args ...any) Output {
	return Output{Lines: []string{fmt.Sprintf(format, args...)}, Error: true}
}

// Exec interprets one terminal line against d. It never panics on user input;
// every failure becomes an error Output and leaves the desk unchanged.
func Exec(d Desk, line string) Output {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Output{}
	}

	verb := strings.ToLower(fields[0])
	args := fields[1:]

	switch verb {
	case "book":
		return execBook(d, args)
	case "market":
		return execMarket(d)
	case "run":
		if len(args) != 1 || strings.ToLower(args[0]) != "eod" {
			return errorOutput("usage: run eod")
		}
		return execRun(d)
	case "ls":
		return execList(d)
	case "clear":
		return Output{Clear: true}
	case "status":
		return execStatus(d)
	case "pnl":
		return execPnL(d)
	case "refresh":
		return execRefresh(d)
	case "help":
		return textOutput(
			bookUsage,
			"market      list current quotes",
			"run eod     start the end-of-day batch",
			"ls          list booked trades",
			"status      show batch progress and log",
			"pnl         show aggregate npv and dv01",
			"refresh     reset quotes to session defaults",
			"clear       clear the terminal",
		)
	default:
		return errorOutput("unknown command %q; valid commands: %s", fields[0], strings.Join(commandList, ", "))
	}
}

func execBook(d Desk, args []string) Output {
	if len(args) != 4 {
		return errorOutput(bookUsage)
	}
	rate, err := trading.ParseAmount("rate", args[2])
	if err != nil {
		return errorOutput("%v; %s", err, bookUsage)
	}
	notional, err := trading.ParseAmount("notional", args[3])
	if err != nil {
		return errorOutput("%v; %s", err, bookUsage)
	}

	t, err := d.Book(trading.BookingRequest{
		ProductType: args[0],
		Asset:       args[1],
		TradeRate:   rate,
		Notional:    notional,
	})
	if err != nil {
		return errorOutput("booking failed: %v", err)
	}
	return textOutput(fmt.Sprintf("booked %s %s %s %s @ %s (npv %s, dv01 %s)",
		t.ID, t.ProductType, t.Asset, t.Notional, t.TradeRate, t.NPV.StringFixed(2), t.DV01.StringFixed(2)))
}

func execMarket(d Desk) Output {
	quotes, err := d.Quotes()
	if err != nil {
		return errorOutput("error: %v", err)
	}
	return textOutput(quoteLines(quotes)...)
}

func execRefresh(d Desk) Output {
	quotes, err := d.RefreshQuotes()
	if err != nil {
		return errorOutput("error: %v", err)
	}
	return textOutput(append([]string{"quotes reset"}, quoteLines(quotes)...)...)
}

func quoteLines(quotes market.QuoteSet) []string {
	lines := make([]string, 0, len(quotes))
	for _, q := range quotes.List() {
		lines = append(lines, fmt.Sprintf("%-12s %s", q.Symbol, q.Rate))
	}
	return lines
}

func execRun(d Desk) Output {
	run, err := d.StartBatch()
	switch {
	case errors.Is(err, batch.ErrNoTrades):
		return errorOutput("error: no trades to process; book a trade first")
	case errors.Is(err, batch.ErrBatchRunning):
		return errorOutput("error: batch already running (%s %d%%)", run.Stage, run.Progress)
	case err != nil:
		return errorOutput("error: %v", err)
	}
	return textOutput(fmt.Sprintf("eod batch %s started", run.ID), run.Log[len(run.Log)-1].String())
}

func execList(d Desk) Output {
	trades, err := d.Trades()
	if err != nil {
		return errorOutput("error: %v", err)
	}
	if len(trades) == 0 {
		return textOutput("no trades booked")
	}

	lines := []string{fmt.Sprintf("%-10s %-8s %-12s %14s %12s %12s %14s %10s %-8s",
		"ID", "PRODUCT", "ASSET", "NOTIONAL", "TRADE", "MARKET", "NPV", "DV01", "STATUS")}
	for _, t := range trades {
		lines = append(lines, fmt.Sprintf("%-10s %-8s %-12s %14s %12s %12s %14s %10s %-8s",
			t.ID, t.ProductType, t.Asset, t.Notional, t.TradeRate, t.MarketRate,
			t.NPV.StringFixed(2), t.DV01.StringFixed(2), t.Status))
	}
	return textOutput(lines...)
}

func execStatus(d Desk) Output {
	run, err := d.Batch()
	if err != nil {
		return errorOutput("error: %v", err)
	}
	lines := []string{fmt.Sprintf("stage %s, %d%%", run.Stage, run.Progress)}
	if run.Halted() {
		lines = append(lines, "halted: "+run.Error)
	}
	return textOutput(append(lines, run.Lines()...)...)
}

func execPnL(d Desk) Output {
	s, err := d.Summary()
	if err != nil {
		return errorOutput("error: %v", err)
	}
	lines := []string{fmt.Sprintf("trades %d (rejected %d), npv %s, dv01 %s",
		s.TradeCount, s.RejectedCount, s.TotalNPV.StringFixed(2), s.TotalDV01.StringFixed(2))}
	for _, e := range s.Exposures {
		lines = append(lines, fmt.Sprintf("%-12s %3d trades  notional %s  npv %s  dv01 %s",
			e.Asset, e.TradeCount, e.Notional, e.NPV.StringFixed(2), e.DV01.StringFixed(2)))
	}
	return textOutput(lines...)
}

// Exec runs one terminal line against the session
func (s *Session) Exec(line string) Output {
	return Exec(s, line)
}
