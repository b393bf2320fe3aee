// Package form holds in-progress sale and diamond forms on the server. Each
// form is an explicit state object changed by small transitions; the
// calculators it drives never see HTTP or SQL.
package form

import (
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/Simplici0/gemledger/internal/money"
	"github.com/Simplici0/gemledger/internal/pricing"
	"github.com/Simplici0/gemledger/internal/reconcile"
	"github.com/Simplici0/gemledger/internal/store"
)

// Item is a stone selected on a sale form.
type Item struct {
	DiamondID int64
	StockID   string
	pricing.ItemInput
}

// ItemFromDiamond converts a stored stone into a sale item.
func ItemFromDiamond(d store.Diamond) Item {
	return Item{
		DiamondID: d.ID,
		StockID:   d.StockID,
		ItemInput: pricing.ItemInput{
			Carat:           d.Carat,
			PerCaratRate:    d.RapRate,
			DiscountPercent: d.DiscountPercent,
		},
	}
}

// ItemView is the valuation of one selected stone.
type ItemView struct {
	DiamondID       int64  `json:"diamond_id"`
	StockID         string `json:"stock_id"`
	Price           string `json:"price"`
	Discount        string `json:"discount"`
	DiscountedPrice string `json:"discounted_price"`
}

// SaleView is a snapshot of a sale form.
type SaleView struct {
	ID         string                `json:"id"`
	Items      []ItemView            `json:"items"`
	BaseCost   string                `json:"base_cost"`
	State      reconcile.State       `json:"state"`
	Payload    reconcile.SalePayload `json:"payload"`
	Consistent bool                  `json:"consistent"`
}

// SaleForm is the financial section of a sale being prepared.
type SaleForm struct {
	id    string
	rates reconcile.GSTRates

	mu       sync.Mutex
	items    []Item
	baseCost decimal.Decimal
	state    reconcile.State
}

// NewSaleForm starts an empty sale in currency at the given exchange rate.
func NewSaleForm(id, currency string, exchangeRate decimal.Decimal, rates reconcile.GSTRates) (*SaleForm, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = reconcile.BaseCurrency
	}
	if !reconcile.ValidCurrency(currency) {
		return nil, fmt.Errorf("%w: currency %q", store.ErrInvalid, currency)
	}
	state := reconcile.State{Currency: currency}
	if exchangeRate.IsPositive() {
		state.ExchangeRate = exchangeRate.String()
	}
	f := &SaleForm{
		id:       id,
		rates:    rates,
		baseCost: decimal.Zero,
	}
	f.state = reconcile.Rebase(state, f.baseCost)
	return f, nil
}

// ID returns the session id.
func (f *SaleForm) ID() string { return f.id }

// SetItems replaces the selection. The base cost is recomputed and the
// commission rebased against it.
func (f *SaleForm) SetItems(items []Item) SaleView {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.items = append([]Item(nil), items...)
	inputs := make([]pricing.ItemInput, len(f.items))
	for i, item := range f.items {
		inputs[i] = item.ItemInput
	}
	f.baseCost = pricing.Calculate(inputs).Totals.BaseCost
	f.state = reconcile.Rebase(f.state, f.baseCost)
	return f.viewLocked()
}

// Apply runs one field edit through the calculator.
func (f *SaleForm) Apply(change reconcile.Change) SaleView {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.state = reconcile.Recalculate(f.state, f.baseCost, change)
	return f.viewLocked()
}

// SetCurrency switches the settlement currency. Amounts are unchanged; only
// the GST section of the payload follows the currency.
func (f *SaleForm) SetCurrency(code string) (SaleView, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if !reconcile.ValidCurrency(code) {
		return SaleView{}, fmt.Errorf("%w: currency %q", store.ErrInvalid, code)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.state.Currency = code
	return f.viewLocked(), nil
}

// View returns the current snapshot.
func (f *SaleForm) View() SaleView {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.viewLocked()
}

// Payload returns the sale payload for the current state.
func (f *SaleForm) Payload() reconcile.SalePayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return reconcile.Payload(f.state, f.rates)
}

// SaleInput builds the persisted sale for clientID.
func (f *SaleForm) SaleInput(clientID int64, notes string) (store.SaleInput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.items) == 0 {
		return store.SaleInput{}, fmt.Errorf("%w: no diamonds selected", store.ErrInvalid)
	}
	ids := make([]int64, len(f.items))
	for i, item := range f.items {
		ids[i] = item.DiamondID
	}
	percent := strings.TrimSpace(f.state.CommissionPercent)
	if percent != "" {
		percent = money.Parse(percent).String()
	}
	return store.SaleInput{
		ClientID:          clientID,
		DiamondIDs:        ids,
		BaseCost:          f.baseCost,
		CommissionPercent: percent,
		Payload:           reconcile.Payload(f.state, f.rates),
		Notes:             notes,
	}, nil
}

func (f *SaleForm) viewLocked() SaleView {
	items := make([]ItemView, len(f.items))
	for i, item := range f.items {
		line := pricing.Line(item.ItemInput)
		items[i] = ItemView{
			DiamondID:       item.DiamondID,
			StockID:         item.StockID,
			Price:           money.Format2(line.Price),
			Discount:        money.Format2(line.Discount),
			DiscountedPrice: money.Format2(line.DiscountedPrice),
		}
	}
	return SaleView{
		ID:         f.id,
		Items:      items,
		BaseCost:   money.Format2(f.baseCost),
		State:      f.state,
		Payload:    reconcile.Payload(f.state, f.rates),
		Consistent: reconcile.Consistent(f.state, f.baseCost),
	}
}
