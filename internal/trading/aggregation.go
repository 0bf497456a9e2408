package trading

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Exposure nets every live trade on one asset
type Exposure struct {
	Asset       string          `json:"asset"`
	ProductType ProductType     `json:"product_type"`
	TradeCount  int             `json:"trade_count"`
	Notional    decimal.Decimal `json:"notional"`
	NPV         decimal.Decimal `json:"npv"`
	DV01        decimal.Decimal `json:"dv01"`
}

// Summary is the book-level P&L and sensitivity view
type Summary struct {
	TradeCount    int             `json:"trade_count"`
	RejectedCount int             `json:"rejected_count"`
	TotalNotional decimal.Decimal `json:"total_notional"`
	TotalNPV      decimal.Decimal `json:"total_npv"`
	TotalDV01     decimal.Decimal `json:"total_dv01"`
	ByStatus      map[Status]int  `json:"by_status"`
	Exposures     []Exposure      `json:"exposures"`
}

// Summarize aggregates NPV and DV01 across the book and per asset.
// REJECTED trades are counted but carry no exposure.
func Summarize(trades []Trade) Summary {
	s := Summary{
		TotalNotional: decimal.Zero,
		TotalNPV:      decimal.Zero,
		TotalDV01:     decimal.Zero,
		ByStatus:      make(map[Status]int),
	}

	byAsset := make(map[string]*Exposure)
	for _, t := range trades {
		s.TradeCount++
		s.ByStatus[t.Status]++
		if t.Status == StatusRejected {
			s.RejectedCount++
			continue
		}

		s.TotalNotional = s.TotalNotional.Add(t.Notional)
		s.TotalNPV = s.TotalNPV.Add(t.NPV)
		s.TotalDV01 = s.TotalDV01.Add(t.DV01)

		exp, ok := byAsset[t.Asset]
		if !ok {
			exp = &Exposure{
				Asset:       t.Asset,
				ProductType: t.ProductType,
				Notional:    decimal.Zero,
				NPV:         decimal.Zero,
				DV01:        decimal.Zero,
			}
			byAsset[t.Asset] = exp
		}
		exp.TradeCount++
		exp.Notional = exp.Notional.Add(t.Notional)
		exp.NPV = exp.NPV.Add(t.NPV)
		exp.DV01 = exp.DV01.Add(t.DV01)
	}

	s.Exposures = make([]Exposure, 0, len(byAsset))
	for _, exp := range byAsset {
		s.Exposures = append(s.Exposures, *exp)
	}
	sort.Slice(s.Exposures, func(i, j int) bool {
		return s.Exposures[i].Asset < s.Exposures[j].Asset
	})
	return s
}

// ExceedsLimit reports whether a trade breaches a per-trade notional limit.
// A zero or negative limit disables the check.
func ExceedsLimit(t Trade, maxNotional decimal.Decimal) bool {
	if !maxNotional.IsPositive() {
		return false
	}
	return t.Notional.GreaterThan(maxNotional)
}
