package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/Simplici0/gemledger/internal/money"
)

// ItemInput represents the valuation inputs of a single stone.
type ItemInput struct {
	Carat           decimal.Decimal
	PerCaratRate    decimal.Decimal
	DiscountPercent decimal.Decimal
}

// Breakdown contains the line-item values of one stone.
type Breakdown struct {
	Price           decimal.Decimal
	Discount        decimal.Decimal
	DiscountedPrice decimal.Decimal
}

// Totals contains roll-up values across all selected stones.
type Totals struct {
	Price    decimal.Decimal
	Discount decimal.Decimal
	BaseCost decimal.Decimal
}

// Result groups the per-item breakdowns with their totals.
type Result struct {
	Items  []Breakdown
	Totals Totals
}

// Price computes carat * per-carat rate rounded to two places.
func Price(carat, perCaratRate decimal.Decimal) decimal.Decimal {
	return money.Round2(carat.Mul(perCaratRate))
}

// Line values a single stone.
func Line(item ItemInput) Breakdown {
	price := Price(item.Carat, item.PerCaratRate)
	discount := money.Round2(money.Percent(price, item.DiscountPercent))
	return Breakdown{
		Price:           price,
		Discount:        discount,
		DiscountedPrice: price.Sub(discount),
	}
}

// Calculate values every item; Totals.BaseCost is the sum of discounted prices.
func Calculate(items []ItemInput) Result {
	result := Result{Items: make([]Breakdown, 0, len(items))}
	for _, item := range items {
		line := Line(item)
		result.Items = append(result.Items, line)
		result.Totals.Price = result.Totals.Price.Add(line.Price)
		result.Totals.Discount = result.Totals.Discount.Add(line.Discount)
		result.Totals.BaseCost = result.Totals.BaseCost.Add(line.DiscountedPrice)
	}
	return result
}
