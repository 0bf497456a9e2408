package trading

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Convention is the valuation configuration for one product type.
// The scale and DV01 constants are illustrative placeholders, not a pricing model.
type Convention struct {
	Product ProductType
	// Prefix is the trade ID prefix for this product
	Prefix string
	// Assets maps each tradeable asset to the quote symbol it is valued against
	Assets map[string]string
	// ScaleRate multiplies notional to give the NPV scale
	ScaleRate decimal.Decimal
	// DV01Rate multiplies notional to give DV01
	DV01Rate decimal.Decimal
}

var conventions = map[ProductType]Convention{
	ProductFXSpot: {
		Product: ProductFXSpot,
		Prefix:  "FX",
		Assets: map[string]string{
			"USDINR": "USDINR",
			"EURUSD": "EURUSD",
			"GBPUSD": "GBPUSD",
			"USDJPY": "USDJPY",
			"EURINR": "EURINR",
		},
		ScaleRate: decimal.NewFromInt(1),
		DV01Rate:  decimal.RequireFromString("0.0001"),
	},
	ProductIRS: {
		Product: ProductIRS,
		Prefix:  "IRS",
		Assets: map[string]string{
			"SOFR_5Y":     "SOFR_5Y",
			"MIFOR_5Y":    "MIFOR_5Y",
			"EURIBOR_10Y": "EURIBOR_10Y",
		},
		ScaleRate: decimal.RequireFromString("0.05"),
		DV01Rate:  decimal.RequireFromString("0.0001"),
	},
}

// LookupConvention returns the convention for a product type
func LookupConvention(p ProductType) (Convention, error) {
	c, ok := conventions[p]
	if !ok {
		return Convention{}, fmt.Errorf("%w: %s", ErrUnknownProduct, p)
	}
	return c, nil
}

// ParseProduct resolves a product name case-insensitively ("fx_spot" -> FX_SPOT)
func ParseProduct(s string) (ProductType, error) {
	p := ProductType(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := conventions[p]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownProduct, s)
	}
	return p, nil
}

// Products lists the supported product types in name order
func Products() []ProductType {
	products := make([]ProductType, 0, len(conventions))
	for p := range conventions {
		products = append(products, p)
	}
	sort.Slice(products, func(i, j int) bool { return products[i] < products[j] })
	return products
}

// QuoteSymbol returns the quote symbol an asset is valued against
func (c Convention) QuoteSymbol(asset string) (string, error) {
	symbol, ok := c.Assets[strings.ToUpper(asset)]
	if !ok {
		return "", fmt.Errorf("%w: %s is not a %s asset", ErrUnknownAsset, asset, c.Product)
	}
	return symbol, nil
}

// KnownSymbol reports whether any product is valued against the quote symbol
func KnownSymbol(symbol string) bool {
	for _, c := range conventions {
		for _, s := range c.Assets {
			if s == symbol {
				return true
			}
		}
	}
	return false
}

// AssetList returns the tradeable assets for the convention in name order
func (c Convention) AssetList() []string {
	assets := make([]string, 0, len(c.Assets))
	for a := range c.Assets {
		assets = append(assets, a)
	}
	sort.Strings(assets)
	return assets
}

// Scale returns the notional scale used in NPV
func (c Convention) Scale(notional decimal.Decimal) decimal.Decimal {
	return notional.Mul(c.ScaleRate)
}

// DV01 returns the sensitivity for the notional
func (c Convention) DV01(notional decimal.Decimal) decimal.Decimal {
	return notional.Mul(c.DV01Rate)
}
