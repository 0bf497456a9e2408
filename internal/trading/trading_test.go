package trading

import (
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/ksred/skyline-api/internal/market"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func bookOne(t *testing.T, product, asset, rate, notional string, quotes market.QuoteSet) Trade {
	t.Helper()
	trade, err := Book(BookingRequest{
		ProductType: product,
		Asset:       asset,
		TradeRate:   dec(rate),
		Notional:    dec(notional),
	}, quotes, nil, rand.New(rand.NewSource(1)), time.Unix(1700000000, 0))
	require.NoError(t, err)
	return trade
}

func TestBookAndRevalueUSDINRScenario(t *testing.T) {
	quotes := market.Seed()
	trade := bookOne(t, "FX_SPOT", "USDINR", "83.20", "1000000", quotes)

	assert.Equal(t, StatusNew, trade.Status)
	assert.True(t, trade.TradeRate.Equal(dec("83.20")))
	assert.Regexp(t, `^FX-\d{6}$`, trade.ID)

	revalued, err := Revalue(trade, quotes.With("USDINR", dec("83.45")))
	require.NoError(t, err)

	assert.True(t, revalued.NPV.Equal(dec("250000")), "npv %s", revalued.NPV)
	assert.True(t, revalued.DV01.Equal(dec("100")), "dv01 %s", revalued.DV01)
	assert.True(t, revalued.MarketRate.Equal(dec("83.45")))
	assert.Equal(t, trade.ID, revalued.ID)
	assert.Equal(t, StatusNew, revalued.Status)
}

func TestIRSUsesReducedScale(t *testing.T) {
	quotes := market.Seed().With("SOFR_5Y", dec("4.35"))
	trade := bookOne(t, "irs", "SOFR_5Y", "4.25", "1000000", quotes)

	assert.Regexp(t, `^IRS-\d{6}$`, trade.ID)
	// 0.10 * 1,000,000 * 0.05
	assert.True(t, trade.NPV.Equal(dec("5000")), "npv %s", trade.NPV)
	assert.True(t, trade.DV01.Equal(dec("100")))
}

func TestBookValidation(t *testing.T) {
	quotes := market.Seed()
	rng := rand.New(rand.NewSource(3))

	tests := []struct {
		name string
		req  BookingRequest
		want error
	}{
		{"unknown product", BookingRequest{ProductType: "BOND", Asset: "USDINR", TradeRate: dec("1"), Notional: dec("1")}, ErrUnknownProduct},
		{"asset not under product", BookingRequest{ProductType: "FX_SPOT", Asset: "SOFR_5Y", TradeRate: dec("1"), Notional: dec("1")}, ErrUnknownAsset},
		{"zero rate", BookingRequest{ProductType: "FX_SPOT", Asset: "USDINR", TradeRate: dec("0"), Notional: dec("1")}, ErrInvalidBooking},
		{"negative notional", BookingRequest{ProductType: "FX_SPOT", Asset: "USDINR", TradeRate: dec("83"), Notional: dec("-5")}, ErrInvalidBooking},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Book(tt.req, quotes, nil, rng, time.Now())
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestBookMissingQuoteFails(t *testing.T) {
	quotes := market.Seed().Without("EURUSD")
	_, err := Book(BookingRequest{
		ProductType: "FX_SPOT",
		Asset:       "EURUSD",
		TradeRate:   dec("1.08"),
		Notional:    dec("1000"),
	}, quotes, nil, rand.New(rand.NewSource(1)), time.Now())

	assert.ErrorIs(t, err, market.ErrQuoteNotFound)
}

func TestBookRetriesCollidingID(t *testing.T) {
	first := bookOne(t, "FX_SPOT", "USDINR", "83.2", "10", market.Seed())

	taken := func(id string) bool { return id == first.ID }
	// same seed draws the same first suffix, so the booking has to redraw
	second, err := Book(BookingRequest{
		ProductType: "FX_SPOT",
		Asset:       "USDINR",
		TradeRate:   dec("83.2"),
		Notional:    dec("10"),
	}, market.Seed(), taken, rand.New(rand.NewSource(1)), time.Now())

	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestBookIDExhausted(t *testing.T) {
	_, err := Book(BookingRequest{
		ProductType: "FX_SPOT",
		Asset:       "USDINR",
		TradeRate:   dec("83.2"),
		Notional:    dec("10"),
	}, market.Seed(), func(string) bool { return true }, rand.New(rand.NewSource(1)), time.Now())

	assert.ErrorIs(t, err, ErrIDExhausted)
}

func TestParseAmount(t *testing.T) {
	d, err := ParseAmount("notional", " 500000 ")
	require.NoError(t, err)
	assert.True(t, d.Equal(dec("500000")))

	for _, bad := range []string{"NaN", "+Inf", "-infinity", "abc", ""} {
		_, err := ParseAmount("notional", bad)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr, bad)
		assert.Equal(t, "notional", verr.Field)
		assert.ErrorIs(t, err, ErrInvalidBooking)
	}
}

func TestParseAmountRejectsOverlongInput(t *testing.T) {
	_, err := ParseAmount("notional", "1"+strings.Repeat("0", 60))
	assert.ErrorIs(t, err, ErrInvalidBooking)
}

func TestValidateBoundsAmounts(t *testing.T) {
	cases := []struct {
		name     string
		rate     string
		notional string
		field    string
	}{
		{"huge notional exponent", "83.2", "1e50000000", "notional"},
		{"huge rate exponent", "1e50000000", "1000", "trade_rate"},
		{"negative huge notional", "83.2", "-1e50000000", "notional"},
		{"notional above ceiling", "83.2", "1000000000000001", "notional"},
		{"rate above ceiling", "1000000.5", "1000", "trade_rate"},
		{"too many decimals", "83.2", "1e-13", "notional"},
		{"tiny rate", "1e-40000000", "1000", "trade_rate"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := BookingRequest{
				ProductType: "FX_SPOT",
				Asset:       "USDINR",
				TradeRate:   dec(tc.rate),
				Notional:    dec(tc.notional),
			}.Validate()
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
		})
	}

	_, _, err := BookingRequest{
		ProductType: "FX_SPOT",
		Asset:       "USDINR",
		TradeRate:   dec("999999.999999999999"),
		Notional:    MaxNotional,
	}.Validate()
	assert.NoError(t, err)
}

func TestKnownSymbol(t *testing.T) {
	assert.True(t, KnownSymbol("USDINR"))
	assert.True(t, KnownSymbol("SOFR_5Y"))
	assert.False(t, KnownSymbol("XAUUSD"))
	assert.False(t, KnownSymbol("usdinr"))
}

func TestStatusTransitions(t *testing.T) {
	assert.True(t, StatusNew.CanAdvanceTo(StatusPriced))
	assert.True(t, StatusNew.CanAdvanceTo(StatusSettled))
	assert.True(t, StatusPriced.CanAdvanceTo(StatusRejected))
	assert.False(t, StatusVerified.CanAdvanceTo(StatusRejected))
	assert.False(t, StatusSettled.CanAdvanceTo(StatusVerified))
	assert.False(t, StatusRejected.CanAdvanceTo(StatusSettled))
	assert.False(t, StatusNew.CanAdvanceTo(StatusNew))

	trade := Trade{Status: StatusSettled}
	same, ok := trade.Advance(StatusPriced)
	assert.False(t, ok)
	assert.Equal(t, StatusSettled, same.Status)
}

func TestRevalueAllSkipsRejectedAndFailsWhole(t *testing.T) {
	quotes := market.Seed()
	a := bookOne(t, "FX_SPOT", "USDINR", "83", "100", quotes)
	b := bookOne(t, "FX_SPOT", "EURUSD", "1.1", "100", quotes)
	b.Status = StatusRejected

	moved := quotes.With("USDINR", dec("84")).With("EURUSD", dec("2"))
	out, err := RevalueAll([]Trade{a, b}, moved)
	require.NoError(t, err)
	assert.True(t, out[0].MarketRate.Equal(dec("84")))
	assert.True(t, out[1].MarketRate.Equal(b.MarketRate))

	in := []Trade{a}
	out, err = RevalueAll(in, quotes.Without("USDINR"))
	require.ErrorIs(t, err, market.ErrQuoteNotFound)
	assert.Equal(t, in, out)
}

func TestSummarizeNetsByAsset(t *testing.T) {
	quotes := market.Seed()
	trades := []Trade{
		bookOne(t, "FX_SPOT", "USDINR", "83.00", "1000", quotes),
		bookOne(t, "FX_SPOT", "USDINR", "83.10", "2000", quotes),
		bookOne(t, "IRS", "MIFOR_5Y", "6.80", "100000", quotes),
	}
	rejected := bookOne(t, "FX_SPOT", "GBPUSD", "1.2", "50", quotes)
	rejected.Status = StatusRejected
	trades = append(trades, rejected)

	s := Summarize(trades)

	assert.Equal(t, 4, s.TradeCount)
	assert.Equal(t, 1, s.RejectedCount)
	assert.Equal(t, 3, s.ByStatus[StatusNew])
	require.Len(t, s.Exposures, 2)
	assert.Equal(t, "MIFOR_5Y", s.Exposures[0].Asset)
	assert.Equal(t, "USDINR", s.Exposures[1].Asset)
	assert.Equal(t, 2, s.Exposures[1].TradeCount)
	// (83.20-83.00)*1000 + (83.20-83.10)*2000
	assert.True(t, s.Exposures[1].NPV.Equal(dec("400")), "npv %s", s.Exposures[1].NPV)
	assert.True(t, s.TotalNotional.Equal(dec("103000")))
	assert.True(t, s.TotalDV01.Equal(dec("10.3")))
}

func TestExceedsLimit(t *testing.T) {
	trade := Trade{Notional: dec("5000000")}
	assert.False(t, ExceedsLimit(trade, decimal.Zero))
	assert.False(t, ExceedsLimit(trade, dec("5000000")))
	assert.True(t, ExceedsLimit(trade, dec("4999999")))
}

func genRequest() gopter.Gen {
	return gopter.CombineGens(
		gen.OneConstOf("FX_SPOT", "IRS"),
		gen.IntRange(0, 2),
		gen.Float64Range(0.01, 500),
		gen.Int64Range(1, 50_000_000),
	).Map(func(values []interface{}) BookingRequest {
		product := values[0].(string)
		conv, _ := LookupConvention(ProductType(product))
		assets := conv.AssetList()
		return BookingRequest{
			ProductType: product,
			Asset:       assets[values[1].(int)%len(assets)],
			TradeRate:   decimal.NewFromFloat(values[2].(float64)).Round(4),
			Notional:    decimal.NewFromInt(values[3].(int64)),
		}
	})
}

func TestProperty_TradeIDsAreUnique(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("no two booked trades share an id", prop.ForAll(
		func(reqs []BookingRequest, seed int64) bool {
			quotes := market.Seed()
			rng := rand.New(rand.NewSource(seed))
			seen := make(map[string]bool)
			taken := func(id string) bool { return seen[id] }

			for _, req := range reqs {
				trade, err := Book(req, quotes, taken, rng, time.Now())
				if err != nil {
					t.Logf("booking failed: %v", err)
					return false
				}
				if seen[trade.ID] {
					return false
				}
				seen[trade.ID] = true
			}
			return true
		},
		gen.SliceOfN(200, genRequest()),
		gen.Int64(),
	))

	properties.TestingRun(t)
}

func TestProperty_RevaluePreservesTermsAndIsPure(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("revaluation never changes execution terms and is idempotent", prop.ForAll(
		func(req BookingRequest, seed int64, rounds int) bool {
			rng := rand.New(rand.NewSource(seed))
			quotes := market.Seed()
			trade, err := Book(req, quotes, nil, rng, time.Now())
			if err != nil {
				return false
			}

			current := trade
			for i := 0; i < rounds; i++ {
				quotes = market.Tick(quotes, rng, market.DefaultMaxMove)
				once, err := Revalue(current, quotes)
				if err != nil {
					return false
				}
				twice, err := Revalue(once, quotes)
				if err != nil {
					return false
				}
				if !once.NPV.Equal(twice.NPV) || !once.DV01.Equal(twice.DV01) || !once.MarketRate.Equal(twice.MarketRate) {
					return false
				}
				current = twice
			}

			return current.ID == trade.ID &&
				current.ProductType == trade.ProductType &&
				current.TradeRate.Equal(trade.TradeRate) &&
				current.Notional.Equal(trade.Notional) &&
				current.Status == trade.Status &&
				current.Timestamp.Equal(trade.Timestamp)
		},
		genRequest(),
		gen.Int64(),
		gen.IntRange(1, 10),
	))

	properties.TestingRun(t)
}
