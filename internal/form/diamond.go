package form

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/Simplici0/gemledger/internal/money"
	"github.com/Simplici0/gemledger/internal/pricing"
	"github.com/Simplici0/gemledger/internal/rap"
	"github.com/Simplici0/gemledger/internal/store"
)

// DiamondFields are the inputs of a diamond form as typed.
type DiamondFields struct {
	StockID         string `json:"stock_id"`
	Shape           string `json:"shape"`
	Carat           string `json:"carat"`
	Color           string `json:"color"`
	Clarity         string `json:"clarity"`
	Cut             string `json:"cut"`
	Lab             string `json:"lab"`
	CertificateNo   string `json:"certificate_no"`
	RapRate         string `json:"rap_rate"`
	DiscountPercent string `json:"discount_percent"`
	SellerID        *int64 `json:"seller_id,omitempty"`
	Status          string `json:"status"`
	Notes           string `json:"notes"`
}

// FieldsFromDiamond prefills a form from a stored stone.
func FieldsFromDiamond(d store.Diamond) DiamondFields {
	return DiamondFields{
		StockID:         d.StockID,
		Shape:           d.Shape,
		Carat:           d.Carat.String(),
		Color:           d.Color,
		Clarity:         d.Clarity,
		Cut:             d.Cut,
		Lab:             d.Lab,
		CertificateNo:   d.CertificateNo,
		RapRate:         d.RapRate.String(),
		DiscountPercent: d.DiscountPercent.String(),
		SellerID:        d.SellerID,
		Status:          d.Status,
		Notes:           d.Notes,
	}
}

// DiamondChange is one edit on a diamond form.
type DiamondChange struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// DiamondView is a snapshot of a diamond form.
type DiamondView struct {
	ID              string        `json:"id"`
	DiamondID       int64         `json:"diamond_id,omitempty"`
	Fields          DiamondFields `json:"fields"`
	Price           string        `json:"price"`
	DiscountedPrice string        `json:"discounted_price"`
	RapSeq          uint64        `json:"rap_seq"`
}

// DiamondForm is a stone being entered or edited. Editing a grading field
// schedules a rap lookup; a delivered price replaces the per-carat rate.
type DiamondForm struct {
	id        string
	diamondID int64
	debouncer *rap.Debouncer

	mu      sync.Mutex
	fields  DiamondFields
	price   decimal.Decimal
	netCost decimal.Decimal
	rapSeq  uint64
}

// NewDiamondForm creates a form whose lookups go to source. diamondID is the
// stone being edited, or 0 for a new one.
func NewDiamondForm(id string, diamondID int64, initial DiamondFields, source rap.Source, cfg rap.DebouncerConfig) *DiamondForm {
	f := &DiamondForm{id: id, diamondID: diamondID, fields: initial}
	f.debouncer = rap.NewDebouncer(source, f.applyRapPrice, cfg)
	f.recomputeLocked()
	return f
}

// ID returns the session id.
func (f *DiamondForm) ID() string { return f.id }

// DiamondID returns the stone being edited, or 0 for a new one.
func (f *DiamondForm) DiamondID() int64 { return f.diamondID }

// Apply sets one field. Carat, rate and discount edits recompute the price
// at once; grading edits also schedule a rap lookup.
func (f *DiamondForm) Apply(change DiamondChange) (DiamondView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	grading := false
	switch strings.ToLower(strings.TrimSpace(change.Field)) {
	case "stock_id":
		f.fields.StockID = change.Value
	case "shape":
		f.fields.Shape = change.Value
		grading = true
	case "carat":
		f.fields.Carat = change.Value
		grading = true
	case "color":
		f.fields.Color = change.Value
		grading = true
	case "clarity":
		f.fields.Clarity = change.Value
		grading = true
	case "cut":
		f.fields.Cut = change.Value
	case "lab":
		f.fields.Lab = change.Value
	case "certificate_no":
		f.fields.CertificateNo = change.Value
	case "rap_rate":
		f.fields.RapRate = change.Value
	case "discount_percent":
		f.fields.DiscountPercent = change.Value
	case "status":
		f.fields.Status = change.Value
	case "notes":
		f.fields.Notes = change.Value
	case "seller_id":
		id, err := parseSellerID(change.Value)
		if err != nil {
			return DiamondView{}, err
		}
		f.fields.SellerID = id
	default:
		return DiamondView{}, fmt.Errorf("%w: unknown field %q", store.ErrInvalid, change.Field)
	}

	f.recomputeLocked()
	if grading {
		f.debouncer.Trigger(f.queryLocked())
	}
	return f.viewLocked(), nil
}

// View returns the current snapshot.
func (f *DiamondForm) View() DiamondView {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.viewLocked()
}

// Input converts the form into a store input. Numeric fields must parse.
func (f *DiamondForm) Input() (store.DiamondInput, error) {
	f.mu.Lock()
	fields := f.fields
	f.mu.Unlock()

	carat, err := strictDecimal("carat", fields.Carat)
	if err != nil {
		return store.DiamondInput{}, err
	}
	rate, err := strictDecimal("rap_rate", fields.RapRate)
	if err != nil {
		return store.DiamondInput{}, err
	}
	discount, err := strictDecimal("discount_percent", fields.DiscountPercent)
	if err != nil {
		return store.DiamondInput{}, err
	}
	return store.DiamondInput{
		StockID:         fields.StockID,
		Shape:           fields.Shape,
		Carat:           carat,
		Color:           fields.Color,
		Clarity:         fields.Clarity,
		Cut:             fields.Cut,
		Lab:             fields.Lab,
		CertificateNo:   fields.CertificateNo,
		RapRate:         rate,
		DiscountPercent: discount,
		SellerID:        fields.SellerID,
		Status:          fields.Status,
		Notes:           fields.Notes,
	}, nil
}

// Close stops any pending lookup. It must not be called while holding the
// form's lock because delivery takes it.
func (f *DiamondForm) Close() {
	f.debouncer.Stop()
}

func (f *DiamondForm) applyRapPrice(res rap.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if res.Seq <= f.rapSeq {
		return
	}
	current, ok := f.queryLocked().Request()
	if !ok || !current.Equal(res.Request) {
		return
	}
	f.rapSeq = res.Seq
	f.fields.RapRate = money.Format2(money.Round2(res.Price))
	f.recomputeLocked()
}

func (f *DiamondForm) queryLocked() rap.Query {
	return rap.Query{
		Carat:   money.Parse(f.fields.Carat),
		Shape:   f.fields.Shape,
		Color:   f.fields.Color,
		Clarity: f.fields.Clarity,
	}
}

func (f *DiamondForm) recomputeLocked() {
	line := pricing.Line(pricing.ItemInput{
		Carat:           money.Parse(f.fields.Carat),
		PerCaratRate:    money.Parse(f.fields.RapRate),
		DiscountPercent: money.Parse(f.fields.DiscountPercent),
	})
	f.price = line.Price
	f.netCost = line.DiscountedPrice
}

func (f *DiamondForm) viewLocked() DiamondView {
	return DiamondView{
		ID:              f.id,
		DiamondID:       f.diamondID,
		Fields:          f.fields,
		Price:           money.Format2(f.price),
		DiscountedPrice: money.Format2(f.netCost),
		RapSeq:          f.rapSeq,
	}
}

func strictDecimal(name, raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := money.ParseStrict(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s %q is not a number", store.ErrInvalid, name, raw)
	}
	return d, nil
}

func parseSellerID(raw string) (*int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("%w: seller_id %q", store.ErrInvalid, raw)
	}
	return &id, nil
}
