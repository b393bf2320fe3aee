// Package reconcile keeps the financial fields of a sale consistent while one
// of them is being edited.
//
// The base cost (sum of discounted item prices) is supplied by the caller and
// is never edited here. Every other amount is derived from it, the commission
// and the exchange rate between the base currency (USD) and the quote
// currency (INR). Recalculate is a pure reducer: it takes the current State
// and one Change and returns the next State.
package reconcile

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Simplici0/gemledger/internal/money"
)

// Field names the input the user changed.
type Field int

const (
	None Field = iota
	ExchangeRate
	CommissionPercent
	CommissionBase
	CommissionQuote
	FinalTotalBase
	FinalTotalQuote
)

var fieldNames = map[Field]string{
	None:              "none",
	ExchangeRate:      "exchange_rate",
	CommissionPercent: "commission_percent",
	CommissionBase:    "commission_base",
	CommissionQuote:   "commission_quote",
	FinalTotalBase:    "final_total_base",
	FinalTotalQuote:   "final_total_quote",
}

func (f Field) String() string {
	if name, ok := fieldNames[f]; ok {
		return name
	}
	return fmt.Sprintf("Field(%d)", int(f))
}

// ParseField maps a wire name to a Field. An empty name is None.
func ParseField(name string) (Field, error) {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" {
		return None, nil
	}
	for f, n := range fieldNames {
		if n == name {
			return f, nil
		}
	}
	return None, fmt.Errorf("unknown field %q", name)
}

// Change is a single edit: the field and the raw text now in it.
type Change struct {
	Field Field
	Value string
}

// State is the editable financial section of a sale. Values are kept as the
// strings shown in the inputs; an empty string means the field is blank.
type State struct {
	Currency          string `json:"currency"`
	ExchangeRate      string `json:"exchange_rate"`
	CommissionPercent string `json:"commission_percent"`
	CommissionBase    string `json:"commission_base"`
	CommissionQuote   string `json:"commission_quote"`
	FinalTotalBase    string `json:"final_total_base"`
	FinalTotalQuote   string `json:"final_total_quote"`
}

// Recalculate applies change to state against baseCost and returns the
// resulting state. The edited field keeps the raw text; derived amounts are
// rounded to two places as they are computed. Unparsable numbers count as
// zero and divisions by a non-positive base cost or rate leave the target
// blank (or zero for the commission amount) instead of failing.
func Recalculate(state State, baseCost decimal.Decimal, change Change) State {
	next := state
	rate := money.Parse(next.ExchangeRate)

	switch change.Field {
	case CommissionPercent:
		next.CommissionPercent = change.Value
		base := money.Round2(money.Percent(baseCost, money.Parse(change.Value)))
		next.CommissionBase = money.Format2(base)
		next.CommissionQuote = convert(base, rate)

	case CommissionBase:
		next.CommissionBase = change.Value
		base := money.Parse(change.Value)
		next.CommissionPercent = percentOf(base, baseCost)
		next.CommissionQuote = convert(base, rate)

	case CommissionQuote:
		next.CommissionQuote = change.Value
		base := decimal.Zero
		if rate.IsPositive() {
			base = money.Round2(money.Parse(change.Value).Div(rate))
		}
		next.CommissionBase = money.Format2(base)
		next.CommissionPercent = percentOf(base, baseCost)

	case ExchangeRate:
		next.ExchangeRate = change.Value
		rate = money.Parse(change.Value)
		next.CommissionQuote = convert(money.Parse(next.CommissionBase), rate)

	case FinalTotalBase:
		next.FinalTotalBase = change.Value
		next.FinalTotalQuote = convert(money.Parse(change.Value), rate)
		return next

	case FinalTotalQuote:
		next.FinalTotalQuote = change.Value
		next.FinalTotalBase = ""
		if rate.IsPositive() {
			next.FinalTotalBase = money.Format2(money.Round2(money.Parse(change.Value).Div(rate)))
		}
		return next
	}

	total := money.Round2(baseCost.Add(money.Parse(next.CommissionBase)))
	next.FinalTotalBase = money.Format2(total)
	next.FinalTotalQuote = convert(total, rate)
	return next
}

// Rebase refreshes state after the base cost changed. A commission entered as
// a percentage is re-applied so the absolute amounts follow the new cost;
// otherwise only the totals move.
func Rebase(state State, baseCost decimal.Decimal) State {
	if !money.IsBlank(state.CommissionPercent) {
		return Recalculate(state, baseCost, Change{Field: CommissionPercent, Value: state.CommissionPercent})
	}
	return Recalculate(state, baseCost, Change{Field: None})
}

// Consistent reports whether state is at rest for baseCost: the quote
// commission equals the base commission at the current rate and the totals
// equal base cost plus commission. A final total typed over by the user
// makes this false.
func Consistent(state State, baseCost decimal.Decimal) bool {
	rate := money.Parse(state.ExchangeRate)
	base := money.Parse(state.CommissionBase)
	if !money.Parse(state.CommissionQuote).Equal(money.Round2(base.Mul(rate))) {
		return false
	}
	total := money.Round2(baseCost.Add(base))
	if !money.Parse(state.FinalTotalBase).Equal(total) {
		return false
	}
	return money.Parse(state.FinalTotalQuote).Equal(money.Round2(total.Mul(rate)))
}

func convert(amount, rate decimal.Decimal) string {
	return money.Format2(money.Round2(amount.Mul(rate)))
}

func percentOf(part, whole decimal.Decimal) string {
	pct, ok := money.Ratio(part, whole)
	if !ok {
		return ""
	}
	return money.Format2(money.Round2(pct))
}
