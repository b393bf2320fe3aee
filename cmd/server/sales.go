package main

import (
	"net/http"

	"github.com/Simplici0/gemledger/internal/store"
)

func (s *server) handleListSales(w http.ResponseWriter, r *http.Request) {
	sales, err := s.store.ListSales(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sales)
}

func (s *server) handleCreateSale(w http.ResponseWriter, r *http.Request) {
	var in store.SaleInput
	if !s.decodeJSON(w, r, &in) {
		return
	}
	sale, err := s.store.CreateSale(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logSale(r, sale, true)
	writeJSON(w, http.StatusCreated, sale)
}

func (s *server) handleGetSale(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sale, err := s.store.GetSale(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (s *server) handleListPayments(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	payments, err := s.store.ListPayments(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payments)
}

func (s *server) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var in store.PaymentInput
	if !s.decodeJSON(w, r, &in) {
		return
	}
	payment, err := s.store.CreatePayment(r.Context(), id, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, payment)
}

func (s *server) handleSalesReport(w http.ResponseWriter, r *http.Request) {
	group := r.URL.Query().Get("group")
	if group == "" {
		group = store.GroupByClient
	}
	rows, err := s.store.SalesReport(r.Context(), group)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}
