package reconcile

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Simplici0/gemledger/internal/money"
)

// Currencies kept in sync by the exchange rate. GST applies to sales settled
// in the quote currency.
const (
	BaseCurrency  = "USD"
	QuoteCurrency = "INR"
	GSTCurrency   = QuoteCurrency
)

// ValidCurrency reports whether code is one of the two settlement currencies.
func ValidCurrency(code string) bool {
	code = strings.ToUpper(strings.TrimSpace(code))
	return code == BaseCurrency || code == QuoteCurrency
}

// GSTRates are the central and state components, in percent.
type GSTRates struct {
	CGST decimal.Decimal
	SGST decimal.Decimal
}

// DefaultGSTRates is 0.75% CGST plus 0.75% SGST.
var DefaultGSTRates = GSTRates{
	CGST: decimal.RequireFromString("0.75"),
	SGST: decimal.RequireFromString("0.75"),
}

// GSTBreakdown is the tax section of a sale payload.
type GSTBreakdown struct {
	TaxableAmount string `json:"taxable_amount"`
	CGSTPercent   string `json:"cgst_percent"`
	CGST          string `json:"cgst"`
	SGSTPercent   string `json:"sgst_percent"`
	SGST          string `json:"sgst"`
	Total         string `json:"total"`
}

// SalePayload is what the invoicing backend stores for a sale. Field names
// are part of that contract.
type SalePayload struct {
	Currency      string        `json:"currency"`
	ExchangeRate  string        `json:"exchange_rate"`
	CommissionUSD string        `json:"commission_usd"`
	CommissionINR string        `json:"commission_inr"`
	FinalTotalUSD string        `json:"final_total_usd"`
	FinalTotalINR string        `json:"final_total_inr"`
	GSTBreakdown  *GSTBreakdown `json:"gst_breakdown,omitempty"`
}

// GST computes the tax on the quote-currency total. It returns nil unless the
// sale settles in INR.
func GST(state State, rates GSTRates) *GSTBreakdown {
	if !strings.EqualFold(strings.TrimSpace(state.Currency), GSTCurrency) {
		return nil
	}
	taxable := money.Round2(money.Parse(state.FinalTotalQuote))
	cgst := money.Round2(money.Percent(taxable, rates.CGST))
	sgst := money.Round2(money.Percent(taxable, rates.SGST))
	return &GSTBreakdown{
		TaxableAmount: money.Format2(taxable),
		CGSTPercent:   rates.CGST.String(),
		CGST:          money.Format2(cgst),
		SGSTPercent:   rates.SGST.String(),
		SGST:          money.Format2(sgst),
		Total:         money.Format2(taxable.Add(cgst).Add(sgst)),
	}
}

// Payload converts a finished form state into the sale payload. Amounts are
// normalised to two places; blanks become zero.
func Payload(state State, rates GSTRates) SalePayload {
	return SalePayload{
		Currency:      strings.ToUpper(strings.TrimSpace(state.Currency)),
		ExchangeRate:  money.Parse(state.ExchangeRate).String(),
		CommissionUSD: normalise(state.CommissionBase),
		CommissionINR: normalise(state.CommissionQuote),
		FinalTotalUSD: normalise(state.FinalTotalBase),
		FinalTotalINR: normalise(state.FinalTotalQuote),
		GSTBreakdown:  GST(state, rates),
	}
}

func normalise(raw string) string {
	return money.Format2(money.Round2(money.Parse(raw)))
}
