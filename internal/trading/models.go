package trading

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProductType identifies the asset class of a lab trade
type ProductType string

const (
	ProductFXSpot ProductType = "FX_SPOT"
	ProductIRS    ProductType = "IRS"
)

// Status is the lifecycle state of a lab trade
type Status string

const (
	StatusNew      Status = "NEW"
	StatusPriced   Status = "PRICED"
	StatusVerified Status = "VERIFIED"
	StatusSettled  Status = "SETTLED"
	StatusMatured  Status = "MATURED"
	StatusRejected Status = "REJECTED"
)

// statusRank orders the forward lifecycle. REJECTED is terminal and outside the chain.
var statusRank = map[Status]int{
	StatusNew:      0,
	StatusPriced:   1,
	StatusVerified: 2,
	StatusSettled:  3,
	StatusMatured:  4,
}

// CanAdvanceTo reports whether a trade in status s may move to next.
// Only strictly forward moves are allowed; REJECTED is reachable from NEW and PRICED only.
func (s Status) CanAdvanceTo(next Status) bool {
	if s == StatusRejected {
		return false
	}
	if next == StatusRejected {
		return s == StatusNew || s == StatusPriced
	}
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to > from
}

// Terminal reports whether no further transition is possible from s
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusMatured
}

// Trade is a booked lab trade. ID, ProductType, Asset, Notional, TradeRate and
// Timestamp are fixed at booking; MarketRate, NPV and DV01 are recomputed on revaluation.
type Trade struct {
	ID          string          `json:"id"`
	ProductType ProductType     `json:"product_type"`
	Asset       string          `json:"asset"`
	Notional    decimal.Decimal `json:"notional"`
	TradeRate   decimal.Decimal `json:"trade_rate"`
	MarketRate  decimal.Decimal `json:"market_rate"`
	Status      Status          `json:"status"`
	NPV         decimal.Decimal `json:"npv"`
	DV01        decimal.Decimal `json:"dv01"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Advance returns a copy of the trade moved to status next.
// A backward or otherwise invalid move leaves the status unchanged and reports false.
func (t Trade) Advance(next Status) (Trade, bool) {
	if !t.Status.CanAdvanceTo(next) {
		return t, false
	}
	t.Status = next
	return t, true
}
