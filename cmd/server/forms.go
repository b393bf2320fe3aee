package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Simplici0/gemledger/internal/form"
	"github.com/Simplici0/gemledger/internal/money"
	"github.com/Simplici0/gemledger/internal/rap"
	"github.com/Simplici0/gemledger/internal/reconcile"
	"github.com/Simplici0/gemledger/internal/store"
)

type reconcileRequest struct {
	State    reconcile.State `json:"state"`
	BaseCost string          `json:"base_cost"`
	Field    string          `json:"field"`
	Value    string          `json:"value"`
}

type reconcileResponse struct {
	State      reconcile.State       `json:"state"`
	Payload    reconcile.SalePayload `json:"payload"`
	Consistent bool                  `json:"consistent"`
}

// handleReconcile runs one edit through the calculator without a session.
func (s *server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	field, err := reconcile.ParseField(req.Field)
	if err != nil {
		s.writeError(w, r, badRequest("%v", err))
		return
	}
	baseCost := money.Parse(req.BaseCost)
	if baseCost.IsNegative() {
		s.writeError(w, r, badRequest("base_cost must be greater than or equal to 0"))
		return
	}

	next := reconcile.Recalculate(req.State, baseCost, reconcile.Change{Field: field, Value: req.Value})
	writeJSON(w, http.StatusOK, reconcileResponse{
		State:      next,
		Payload:    reconcile.Payload(next, s.gst),
		Consistent: reconcile.Consistent(next, baseCost),
	})
}

type rapPriceResponse struct {
	Carat       string `json:"carat"`
	Shape       string `json:"shape"`
	ColorCode   int    `json:"colorCode"`
	ClarityCode string `json:"clarityCode"`
	Price       string `json:"price"`
}

// handleRapPrice is a direct lookup with no debounce.
func (s *server) handleRapPrice(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	carat, err := money.ParseStrict(q.Get("carat"))
	if err != nil {
		s.writeError(w, r, badRequest("carat must be a number"))
		return
	}
	req, ok := rap.Query{Carat: carat, Shape: q.Get("shape"), Color: q.Get("color"), Clarity: q.Get("clarity")}.Request()
	if !ok {
		s.writeError(w, r, badRequest("carat, shape, color (D-M) and clarity (IF-I7) are required"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.rapTimeout)
	defer cancel()
	price, err := s.rap.Price(ctx, req)
	if errors.Is(err, rap.ErrNoPrice) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
		return
	}
	if err != nil {
		s.logger.Warn("rap price lookup failed", zap.Error(err))
		writeJSON(w, http.StatusBadGateway, errorBody{Error: "rap price service unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, rapPriceResponse{
		Carat:       req.Carat.String(),
		Shape:       req.Shape,
		ColorCode:   req.ColorCode,
		ClarityCode: req.ClarityCode,
		Price:       price.String(),
	})
}

type createSaleFormRequest struct {
	Currency     string  `json:"currency"`
	ExchangeRate string  `json:"exchange_rate"`
	DiamondIDs   []int64 `json:"diamond_ids"`
}

func (s *server) handleCreateSaleForm(w http.ResponseWriter, r *http.Request) {
	var req createSaleFormRequest
	if r.ContentLength != 0 && !s.decodeJSON(w, r, &req) {
		return
	}

	currency, rate := reconcile.BaseCurrency, s.defaultExchangeRate
	settings, err := s.store.GetSettings(r.Context())
	switch {
	case err == nil:
		currency = settings.DefaultCurrency
		if settings.DefaultExchangeRate.IsPositive() {
			rate = settings.DefaultExchangeRate
		}
	case !errors.Is(err, store.ErrNotFound):
		s.writeError(w, r, err)
		return
	}
	if req.Currency != "" {
		currency = req.Currency
	}
	if strings.TrimSpace(req.ExchangeRate) != "" {
		rate = money.Parse(req.ExchangeRate)
	}

	f, err := s.forms.NewSale(currency, rate)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	view := f.View()
	if len(req.DiamondIDs) > 0 {
		if view, err = s.setSaleItems(r.Context(), f, req.DiamondIDs); err != nil {
			_ = s.forms.Delete(f.ID())
			s.writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *server) saleForm(w http.ResponseWriter, r *http.Request) (*form.SaleForm, bool) {
	f, err := s.forms.Sale(chi.URLParam(r, "formID"))
	if err != nil {
		s.writeError(w, r, err)
		return nil, false
	}
	return f, true
}

func (s *server) handleGetSaleForm(w http.ResponseWriter, r *http.Request) {
	f, ok := s.saleForm(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, f.View())
}

type saleItemsRequest struct {
	DiamondIDs []int64 `json:"diamond_ids"`
}

func (s *server) handleSetSaleFormItems(w http.ResponseWriter, r *http.Request) {
	f, ok := s.saleForm(w, r)
	if !ok {
		return
	}
	var req saleItemsRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	view, err := s.setSaleItems(r.Context(), f, req.DiamondIDs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *server) setSaleItems(ctx context.Context, f *form.SaleForm, ids []int64) (form.SaleView, error) {
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return form.SaleView{}, badRequest("diamond %d listed twice", id)
		}
		seen[id] = struct{}{}
	}
	diamonds, err := s.store.DiamondsByIDs(ctx, ids)
	if err != nil {
		return form.SaleView{}, err
	}
	items := make([]form.Item, 0, len(diamonds))
	for _, d := range diamonds {
		if d.Status == store.StatusSold {
			return form.SaleView{}, fmt.Errorf("diamond %s: %w", d.StockID, store.ErrDiamondUnavailable)
		}
		items = append(items, form.ItemFromDiamond(d))
	}
	return f.SetItems(items), nil
}

type fieldChangeRequest struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

func (s *server) handleSaleFormChange(w http.ResponseWriter, r *http.Request) {
	f, ok := s.saleForm(w, r)
	if !ok {
		return
	}
	var req fieldChangeRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	field, err := reconcile.ParseField(req.Field)
	if err != nil {
		s.writeError(w, r, badRequest("%v", err))
		return
	}
	writeJSON(w, http.StatusOK, f.Apply(reconcile.Change{Field: field, Value: req.Value}))
}

type currencyRequest struct {
	Currency string `json:"currency"`
}

func (s *server) handleSaleFormCurrency(w http.ResponseWriter, r *http.Request) {
	f, ok := s.saleForm(w, r)
	if !ok {
		return
	}
	var req currencyRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	view, err := f.SetCurrency(req.Currency)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type submitSaleRequest struct {
	ClientID int64  `json:"client_id"`
	Notes    string `json:"notes"`
}

// handleSubmitSaleForm invoices the form and closes it.
func (s *server) handleSubmitSaleForm(w http.ResponseWriter, r *http.Request) {
	f, ok := s.saleForm(w, r)
	if !ok {
		return
	}
	var req submitSaleRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	in, err := f.SaleInput(req.ClientID, req.Notes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sale, err := s.store.CreateSale(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	_ = s.forms.Delete(f.ID())
	s.logSale(r, sale, f.View().Consistent)
	writeJSON(w, http.StatusCreated, sale)
}

func (s *server) logSale(r *http.Request, sale store.Sale, consistent bool) {
	fields := []zap.Field{
		zap.Int64("sale_id", sale.ID),
		zap.String("invoice_no", sale.InvoiceNo),
		zap.String("currency", sale.Currency),
		zap.String("amount_due", sale.AmountDue.StringFixed(2)),
		zap.String("user", userFromContext(r.Context())),
	}
	if !consistent {
		s.logger.Info("sale created with overridden totals", fields...)
		return
	}
	s.logger.Info("sale created", fields...)
}

func (s *server) handleDeleteForm(w http.ResponseWriter, r *http.Request) {
	if err := s.forms.Delete(chi.URLParam(r, "formID")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createDiamondFormRequest struct {
	DiamondID int64              `json:"diamond_id"`
	Fields    form.DiamondFields `json:"fields"`
}

func (s *server) handleCreateDiamondForm(w http.ResponseWriter, r *http.Request) {
	var req createDiamondFormRequest
	if r.ContentLength != 0 && !s.decodeJSON(w, r, &req) {
		return
	}
	fields := req.Fields
	if req.DiamondID != 0 {
		d, err := s.store.GetDiamond(r.Context(), req.DiamondID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if d.Status == store.StatusSold {
			s.writeError(w, r, store.ErrDiamondUnavailable)
			return
		}
		fields = form.FieldsFromDiamond(d)
	}
	f := s.forms.NewDiamond(req.DiamondID, fields)
	writeJSON(w, http.StatusCreated, f.View())
}

func (s *server) diamondForm(w http.ResponseWriter, r *http.Request) (*form.DiamondForm, bool) {
	f, err := s.forms.Diamond(chi.URLParam(r, "formID"))
	if err != nil {
		s.writeError(w, r, err)
		return nil, false
	}
	return f, true
}

func (s *server) handleGetDiamondForm(w http.ResponseWriter, r *http.Request) {
	f, ok := s.diamondForm(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, f.View())
}

func (s *server) handleDiamondFormChange(w http.ResponseWriter, r *http.Request) {
	f, ok := s.diamondForm(w, r)
	if !ok {
		return
	}
	var req fieldChangeRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	view, err := f.Apply(form.DiamondChange{Field: req.Field, Value: req.Value})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleSubmitDiamondForm saves the stone and closes the form.
func (s *server) handleSubmitDiamondForm(w http.ResponseWriter, r *http.Request) {
	f, ok := s.diamondForm(w, r)
	if !ok {
		return
	}
	in, err := f.Input()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var d store.Diamond
	status := http.StatusCreated
	if id := f.DiamondID(); id != 0 {
		d, err = s.store.UpdateDiamond(r.Context(), id, in)
		status = http.StatusOK
	} else {
		d, err = s.store.CreateDiamond(r.Context(), in)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	_ = s.forms.Delete(f.ID())
	writeJSON(w, status, d)
}
