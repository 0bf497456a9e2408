package trading

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/ksred/skyline-api/internal/market"
	"github.com/shopspring/decimal"
)

const (
	idSuffixMin   = 100000
	idSuffixSpan  = 900000
	maxIDAttempts = 64

	// MaxScale is the most decimal places a rate or notional may carry
	MaxScale = 12
	// maxAmountLen caps the length of an amount typed at the terminal
	maxAmountLen = 40
)

var (
	// MaxNotional is the largest notional a trade can be booked with
	MaxNotional = decimal.New(1, 15)
	// MaxRate is the largest trade rate or quote accepted
	MaxRate = decimal.New(1, 6)
)

// ErrIDExhausted is returned when no free trade ID could be drawn
var ErrIDExhausted = errors.New("could not allocate a unique trade id")

// BookingRequest carries the user-supplied terms of a new trade
type BookingRequest struct {
	ProductType string          `json:"product_type" binding:"required"`
	Asset       string          `json:"asset" binding:"required"`
	TradeRate   decimal.Decimal `json:"trade_rate"`
	Notional    decimal.Decimal `json:"notional"`
}

// ParseAmount parses a user-entered rate or notional
func ParseAmount(field, s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if len(s) > maxAmountLen {
		return decimal.Zero, invalid(field, "is too long")
	}
	lower := strings.ToLower(s)
	if strings.Contains(lower, "nan") || strings.Contains(lower, "inf") {
		return decimal.Zero, invalid(field, "%q is not a finite number", s)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, invalid(field, "%q is not a number", s)
	}
	return d, nil
}

// Validate checks the request against the valuation conventions and
// returns the resolved convention and quote symbol
func (r BookingRequest) Validate() (Convention, string, error) {
	product, err := ParseProduct(r.ProductType)
	if err != nil {
		return Convention{}, "", err
	}
	conv, err := LookupConvention(product)
	if err != nil {
		return Convention{}, "", err
	}
	symbol, err := conv.QuoteSymbol(r.Asset)
	if err != nil {
		return Convention{}, "", err
	}
	if err := CheckAmount("trade_rate", r.TradeRate, MaxRate); err != nil {
		return Convention{}, "", err
	}
	if err := CheckAmount("notional", r.Notional, MaxNotional); err != nil {
		return Convention{}, "", err
	}
	return conv, symbol, nil
}

// CheckAmount rejects an amount that is not positive, carries more than
// MaxScale decimal places or exceeds ceiling. Only the exponent and digit
// count are inspected before comparing, so an input like 1e50000000 is
// rejected without ever being expanded.
func CheckAmount(field string, d, ceiling decimal.Decimal) error {
	if !d.IsPositive() {
		return invalid(field, "must be positive")
	}
	exp := int64(d.Exponent())
	if exp < -MaxScale {
		return invalid(field, "must have at most %d decimal places", MaxScale)
	}
	if exp+int64(d.NumDigits()) > int64(ceiling.NumDigits())+int64(ceiling.Exponent()) || d.GreaterThan(ceiling) {
		return invalid(field, "must not exceed %s", ceiling)
	}
	return nil
}

// Book validates the request, values it against quotes and returns a NEW trade.
// taken reports IDs already used in the session; a colliding draw is retried.
// The quote for the underlying must exist: there is no fallback rate.
func Book(req BookingRequest, quotes market.QuoteSet, taken func(id string) bool, rng *rand.Rand, now time.Time) (Trade, error) {
	conv, symbol, err := req.Validate()
	if err != nil {
		return Trade{}, err
	}

	if _, err := quotes.Get(symbol); err != nil {
		return Trade{}, err
	}

	id, err := newTradeID(conv.Prefix, taken, rng)
	if err != nil {
		return Trade{}, err
	}

	t := Trade{
		ID:          id,
		ProductType: conv.Product,
		Asset:       strings.ToUpper(req.Asset),
		Notional:    req.Notional,
		TradeRate:   req.TradeRate,
		Status:      StatusNew,
		Timestamp:   now,
	}
	return Revalue(t, quotes)
}

func newTradeID(prefix string, taken func(string) bool, rng *rand.Rand) (string, error) {
	for i := 0; i < maxIDAttempts; i++ {
		id := fmt.Sprintf("%s-%06d", prefix, idSuffixMin+rng.Intn(idSuffixSpan))
		if taken == nil || !taken(id) {
			return id, nil
		}
	}
	return "", ErrIDExhausted
}
