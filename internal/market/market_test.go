package market

import (
	"context"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedContainsSupportedUnderlyings(t *testing.T) {
	q := Seed()

	rate, err := q.Get("USDINR")
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.RequireFromString("83.20")))

	for _, symbol := range []string{"EURUSD", "GBPUSD", "USDJPY", "EURINR", "SOFR_5Y", "MIFOR_5Y", "EURIBOR_10Y"} {
		_, err := q.Get(symbol)
		assert.NoError(t, err, symbol)
	}
}

func TestGetMissingQuote(t *testing.T) {
	_, err := Seed().Get("XAUUSD")
	require.ErrorIs(t, err, ErrQuoteNotFound)
	assert.Contains(t, err.Error(), "XAUUSD")
}

func TestWithAndWithoutCopy(t *testing.T) {
	base := Seed()
	updated := base.With("USDINR", decimal.RequireFromString("83.45"))
	removed := base.Without("USDINR")

	assert.True(t, base["USDINR"].Equal(decimal.RequireFromString("83.20")))
	assert.True(t, updated["USDINR"].Equal(decimal.RequireFromString("83.45")))
	_, err := removed.Get("USDINR")
	assert.ErrorIs(t, err, ErrQuoteNotFound)
	assert.Len(t, base, len(seedRates))
}

func TestListIsOrdered(t *testing.T) {
	list := Seed().List()
	require.Len(t, list, len(seedRates))
	for i := 1; i < len(list); i++ {
		assert.Less(t, list[i-1].Symbol, list[i].Symbol)
	}
}

func TestTickDoesNotMutateInput(t *testing.T) {
	base := Seed()
	before := base.Clone()

	next := Tick(base, rand.New(rand.NewSource(7)), DefaultMaxMove)

	for symbol, rate := range before {
		assert.True(t, base[symbol].Equal(rate))
	}
	assert.Len(t, next, len(base))
}

func TestProperty_TickIsBounded(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("every tick moves each quote by at most maxMove of its magnitude", prop.ForAll(
		func(seed int64, maxMove float64) bool {
			base := Seed()
			next := Tick(base, rand.New(rand.NewSource(seed)), maxMove)

			// rounding to 6dp may add up to half a unit in the last place
			epsilon := decimal.New(1, -ratePrecision)
			for symbol, rate := range base {
				moved, ok := next[symbol]
				if !ok {
					return false
				}
				limit := rate.Abs().Mul(decimal.NewFromFloat(maxMove)).Add(epsilon)
				if moved.Sub(rate).Abs().GreaterThan(limit) {
					t.Logf("%s moved from %s to %s, limit %s", symbol, rate, moved, limit)
					return false
				}
			}
			return true
		},
		gen.Int64(),
		gen.Float64Range(0, 0.01),
	))

	properties.TestingRun(t)
}

func TestTickerStopsOnCancel(t *testing.T) {
	var ticks atomic.Int32
	ticker := NewTicker(5*time.Millisecond, func() { ticks.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ticker.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return ticks.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ticker did not stop after cancel")
	}

	stopped := ticks.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, stopped, ticks.Load())
}
