package trading

import (
	"fmt"

	"github.com/ksred/skyline-api/internal/market"
)

// Revalue returns the trade with MarketRate, NPV and DV01 recomputed against quotes.
// Execution terms and status are never touched, so calling it repeatedly with the
// same quotes yields the same trade.
func Revalue(t Trade, quotes market.QuoteSet) (Trade, error) {
	conv, err := LookupConvention(t.ProductType)
	if err != nil {
		return t, err
	}

	symbol, err := conv.QuoteSymbol(t.Asset)
	if err != nil {
		return t, err
	}

	rate, err := quotes.Get(symbol)
	if err != nil {
		return t, fmt.Errorf("revalue %s: %w", t.ID, err)
	}

	t.MarketRate = rate
	t.NPV = rate.Sub(t.TradeRate).Mul(conv.Scale(t.Notional))
	t.DV01 = conv.DV01(t.Notional)
	return t, nil
}

// RevalueAll revalues every trade that is not REJECTED against the same quote snapshot.
// On the first failure the input slice is returned untouched together with the error.
func RevalueAll(trades []Trade, quotes market.QuoteSet) ([]Trade, error) {
	out := make([]Trade, len(trades))
	for i, t := range trades {
		if t.Status == StatusRejected {
			out[i] = t
			continue
		}
		revalued, err := Revalue(t, quotes)
		if err != nil {
			return trades, err
		}
		out[i] = revalued
	}
	return out, nil
}
