package market

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// ErrQuoteNotFound is returned when no rate is registered for a symbol
var ErrQuoteNotFound = errors.New("quote not found")

// QuoteSet maps an instrument symbol to its current rate.
// Values are treated as immutable: every mutating helper returns a new set.
type QuoteSet map[string]decimal.Decimal

// seedRates are the session-start observations for every supported underlying
var seedRates = map[string]string{
	"USDINR":      "83.20",
	"EURUSD":      "1.0850",
	"GBPUSD":      "1.2700",
	"USDJPY":      "149.50",
	"EURINR":      "90.30",
	"SOFR_5Y":     "4.25",
	"MIFOR_5Y":    "6.85",
	"EURIBOR_10Y": "2.95",
}

// Seed returns a fresh quote set initialised with the session-start rates
func Seed() QuoteSet {
	q := make(QuoteSet, len(seedRates))
	for symbol, rate := range seedRates {
		q[symbol] = decimal.RequireFromString(rate)
	}
	return q
}

// Get returns the current rate for symbol or ErrQuoteNotFound
func (q QuoteSet) Get(symbol string) (decimal.Decimal, error) {
	rate, ok := q[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrQuoteNotFound, symbol)
	}
	return rate, nil
}

// Clone returns an independent copy of the set
func (q QuoteSet) Clone() QuoteSet {
	c := make(QuoteSet, len(q))
	for symbol, rate := range q {
		c[symbol] = rate
	}
	return c
}

// With returns a copy of the set with symbol set to rate
func (q QuoteSet) With(symbol string, rate decimal.Decimal) QuoteSet {
	c := q.Clone()
	c[symbol] = rate
	return c
}

// Without returns a copy of the set with symbol removed
func (q QuoteSet) Without(symbol string) QuoteSet {
	c := q.Clone()
	delete(c, symbol)
	return c
}

// Symbols returns the quoted symbols in lexical order
func (q QuoteSet) Symbols() []string {
	symbols := make([]string, 0, len(q))
	for symbol := range q {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// Quote is a single symbol/rate pair, used for ordered listings
type Quote struct {
	Symbol string          `json:"symbol"`
	Rate   decimal.Decimal `json:"rate"`
}

// List returns the set as quotes ordered by symbol
func (q QuoteSet) List() []Quote {
	symbols := q.Symbols()
	quotes := make([]Quote, 0, len(symbols))
	for _, symbol := range symbols {
		quotes = append(quotes, Quote{Symbol: symbol, Rate: q[symbol]})
	}
	return quotes
}
