package lab

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/ksred/skyline-api/internal/batch"
	"github.com/ksred/skyline-api/internal/market"
	"github.com/ksred/skyline-api/internal/trading"
	"github.com/shopspring/decimal"
)

// State is the complete simulation state of one lab session.
// The functions in this file take a State and return a new one; none of them
// modify the slices or maps of the State they were given.
type State struct {
	// Trades is ordered most recent first
	Trades []trading.Trade
	Quotes market.QuoteSet
	Batch  batch.Run
}

// Env supplies the side inputs of a transition
type Env struct {
	Now         time.Time
	Rng         *rand.Rand
	MaxNotional decimal.Decimal
	// RunID names the run created by a start event
	RunID string
}

// NewState returns an empty book over the seed quotes
func NewState() State {
	return State{
		Trades: []trading.Trade{},
		Quotes: market.Seed(),
		Batch:  batch.Idle(),
	}
}

func (s State) hasTrade(id string) bool {
	for _, t := range s.Trades {
		if t.ID == id {
			return true
		}
	}
	return false
}

// BookTrade books req against the session quotes and puts it at the front of the book
func BookTrade(s State, req trading.BookingRequest, env Env) (State, trading.Trade, error) {
	t, err := trading.Book(req, s.Quotes, s.hasTrade, env.Rng, env.Now)
	if err != nil {
		return s, trading.Trade{}, err
	}

	trades := make([]trading.Trade, 0, len(s.Trades)+1)
	trades = append(trades, t)
	s.Trades = append(trades, s.Trades...)
	return s, t, nil
}

// Revalue marks every live trade to the current quotes
func Revalue(s State) (State, error) {
	trades, err := trading.RevalueAll(s.Trades, s.Quotes)
	if err != nil {
		return s, err
	}
	s.Trades = trades
	return s, nil
}

// ApplyTick moves the quotes one random step
func ApplyTick(s State, rng *rand.Rand, maxMove float64) State {
	s.Quotes = market.Tick(s.Quotes, rng, maxMove)
	return s
}

// SetQuote replaces the rate of one symbol
func SetQuote(s State, symbol string, rate decimal.Decimal) State {
	s.Quotes = s.Quotes.With(symbol, rate)
	return s
}

// RemoveQuote drops a symbol from the quote set
func RemoveQuote(s State, symbol string) (State, error) {
	if _, err := s.Quotes.Get(symbol); err != nil {
		return s, err
	}
	s.Quotes = s.Quotes.Without(symbol)
	return s, nil
}

// RefreshQuotes restores the seed quotes
func RefreshQuotes(s State) State {
	s.Quotes = market.Seed()
	return s
}

// StartBatch begins an EOD run over the current book
func StartBatch(s State, env Env) (State, error) {
	run, err := s.Batch.Start(env.RunID, len(s.Trades), env.Now)
	if err != nil {
		return s, err
	}
	s.Batch = run
	return s, nil
}

// AdvanceBatch performs the work of the stage the run is leaving and moves it on.
// A failure halts the run in its current stage with the book untouched.
func AdvanceBatch(s State, env Env) (State, error) {
	if !s.Batch.Running() {
		_, err := s.Batch.Advance("", env.Now)
		if err == nil {
			err = batch.ErrInvalidTransition
		}
		return s, err
	}

	var (
		trades  []trading.Trade
		message string
		err     error
	)
	switch s.Batch.Stage {
	case batch.StagePricing:
		trades, message, err = priceBook(s.Trades, s.Quotes)
	case batch.StageRisk:
		trades, message = checkRisk(s.Trades, env.MaxNotional)
	case batch.StageAccounting:
		trades, message = postAccounting(s.Trades)
	}
	if err != nil {
		s.Batch = s.Batch.Halt(err, env.Now)
		return s, err
	}

	run, err := s.Batch.Advance(message, env.Now)
	if err != nil {
		return s, err
	}
	s.Trades = trades
	s.Batch = run
	return s, nil
}

// Advance applies a batch event to the state
func Advance(s State, ev batch.Event, env Env) (State, error) {
	switch ev {
	case batch.EventStart:
		return StartBatch(s, env)
	case batch.EventElapsed:
		return AdvanceBatch(s, env)
	default:
		return s, fmt.Errorf("%w: unknown event %q", batch.ErrInvalidTransition, ev)
	}
}

// priceBook revalues the book on one quote snapshot and prices every NEW trade
func priceBook(book []trading.Trade, quotes market.QuoteSet) ([]trading.Trade, string, error) {
	trades, err := trading.RevalueAll(book, quotes)
	if err != nil {
		return book, "", err
	}

	priced := 0
	for i, t := range trades {
		if t.Status == trading.StatusNew {
			trades[i], _ = t.Advance(trading.StatusPriced)
			priced++
		}
	}
	return trades, fmt.Sprintf("prices current for %d trades (%d newly priced); computing sensitivities", len(trades), priced), nil
}

// checkRisk aggregates the book, rejects priced trades over the notional limit
// and verifies the rest. Trades booked after pricing wait for the next run.
func checkRisk(book []trading.Trade, maxNotional decimal.Decimal) ([]trading.Trade, string) {
	trades := make([]trading.Trade, len(book))
	copy(trades, book)

	verified, rejected := 0, 0
	for i, t := range trades {
		if t.Status != trading.StatusPriced {
			continue
		}
		if trading.ExceedsLimit(t, maxNotional) {
			trades[i], _ = t.Advance(trading.StatusRejected)
			rejected++
			continue
		}
		trades[i], _ = t.Advance(trading.StatusVerified)
		verified++
	}

	summary := trading.Summarize(trades)
	return trades, fmt.Sprintf("risk signed off: npv %s, dv01 %s across %d assets; %d verified, %d rejected; posting ledger",
		summary.TotalNPV.StringFixed(2), summary.TotalDV01.StringFixed(2), len(summary.Exposures), verified, rejected)
}

// postAccounting settles every verified trade
func postAccounting(book []trading.Trade) ([]trading.Trade, string) {
	trades := make([]trading.Trade, len(book))
	copy(trades, book)

	settled := 0
	for i, t := range trades {
		if t.Status == trading.StatusVerified {
			trades[i], _ = t.Advance(trading.StatusSettled)
			settled++
		}
	}
	return trades, fmt.Sprintf("accounting entries posted; %d trades settled; cycle complete", settled)
}
