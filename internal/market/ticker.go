package market

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	// DefaultMaxMove bounds a single tick to +/-0.1% of the quote
	DefaultMaxMove = 0.001
	// DefaultTickInterval is how often a live session perturbs its quotes
	DefaultTickInterval = 3 * time.Second

	ratePrecision = 6
)

// Tick applies an independent bounded random perturbation to every quote and
// returns the updated set. The input set is not modified.
// Each rate q becomes q * (1 + u) with u drawn uniformly from [-maxMove, +maxMove].
func Tick(q QuoteSet, rng *rand.Rand, maxMove float64) QuoteSet {
	next := make(QuoteSet, len(q))
	// Iterate in symbol order so a seeded rng produces repeatable walks
	for _, symbol := range q.Symbols() {
		u := (rng.Float64()*2 - 1) * maxMove
		factor := decimal.NewFromFloat(1 + u)
		next[symbol] = q[symbol].Mul(factor).Round(ratePrecision)
	}
	return next
}

// Ticker invokes a callback on a fixed wall-clock interval until its context is cancelled
type Ticker struct {
	interval time.Duration
	onTick   func()
}

// NewTicker creates a ticker that calls onTick every interval
func NewTicker(interval time.Duration, onTick func()) *Ticker {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Ticker{
		interval: interval,
		onTick:   onTick,
	}
}

// Start runs the tick loop and blocks until ctx is done
func (t *Ticker) Start(ctx context.Context) {
	logger := log.With().Str("component", "market_ticker").Logger()
	logger.Debug().Dur("interval", t.interval).Msg("starting market ticker")

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("stopping market ticker")
			return
		case <-ticker.C:
			t.onTick()
		}
	}
}
