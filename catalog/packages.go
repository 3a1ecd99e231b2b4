package catalog

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultETHUSDRate is the display rate used when no rate is configured.
var DefaultETHUSDRate = decimal.NewFromInt(2000)

// Package is a bundle of points sold through the wallet flow.
// Prices are decimal so that 0.045 ETH stays exact.
type Package struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Points   int64           `json:"points"`
	Bonus    int64           `json:"bonus"`
	PriceETH decimal.Decimal `json:"price_eth"`
	Popular  bool            `json:"popular,omitempty"`
}

// Total is the number of points credited for one purchase.
func (p Package) Total() int64 {
	return p.Points + p.Bonus
}

// EstimateUSD converts the ETH price at the given rate, rounded to whole dollars.
func (p Package) EstimateUSD(rate decimal.Decimal) decimal.Decimal {
	if rate.IsZero() {
		rate = DefaultETHUSDRate
	}
	return p.PriceETH.Mul(rate).Round(0)
}

// PricePerThousand is the ETH cost of 1000 credited points.
func (p Package) PricePerThousand() decimal.Decimal {
	if p.Total() == 0 {
		return decimal.Zero
	}
	return p.PriceETH.Mul(decimal.NewFromInt(1000)).Div(decimal.NewFromInt(p.Total())).Round(6)
}

func (p Package) validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: package without id", ErrInvalidCatalog)
	}
	if p.Points <= 0 {
		return fmt.Errorf("%w: package %q points must be positive", ErrInvalidCatalog, p.ID)
	}
	if p.Bonus < 0 {
		return fmt.Errorf("%w: package %q bonus is negative", ErrInvalidCatalog, p.ID)
	}
	if !p.PriceETH.IsPositive() {
		return fmt.Errorf("%w: package %q price must be positive", ErrInvalidCatalog, p.ID)
	}
	return nil
}
