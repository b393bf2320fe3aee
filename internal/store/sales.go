package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Simplici0/gemledger/internal/db"
	"github.com/Simplici0/gemledger/internal/money"
	"github.com/Simplici0/gemledger/internal/reconcile"
)

// SaleInput is a sale ready to be invoiced. BaseCost is the total the form
// reconciled against; it must still match the stones' discounted prices.
type SaleInput struct {
	ClientID          int64                 `json:"client_id"`
	DiamondIDs        []int64               `json:"diamond_ids"`
	BaseCost          decimal.Decimal       `json:"base_cost"`
	CommissionPercent string                `json:"commission_percent,omitempty"`
	Payload           reconcile.SalePayload `json:"payload"`
	Notes             string                `json:"notes,omitempty"`
}

// SaleItem is one stone on an invoice.
type SaleItem struct {
	DiamondID int64           `json:"diamond_id"`
	StockID   string          `json:"stock_id"`
	SellerID  *int64          `json:"seller_id,omitempty"`
	Price     decimal.Decimal `json:"price"`
}

// Sale is an invoice with its items and settlement position.
type Sale struct {
	ID                int64                   `json:"id"`
	InvoiceNo         string                  `json:"invoice_no"`
	ClientID          int64                   `json:"client_id"`
	ClientName        string                  `json:"client_name"`
	BaseCost          decimal.Decimal         `json:"base_cost"`
	Currency          string                  `json:"currency"`
	ExchangeRate      decimal.Decimal         `json:"exchange_rate"`
	CommissionPercent string                  `json:"commission_percent,omitempty"`
	CommissionUSD     decimal.Decimal         `json:"commission_usd"`
	CommissionINR     decimal.Decimal         `json:"commission_inr"`
	FinalTotalUSD     decimal.Decimal         `json:"final_total_usd"`
	FinalTotalINR     decimal.Decimal         `json:"final_total_inr"`
	GST               *reconcile.GSTBreakdown `json:"gst_breakdown,omitempty"`
	Notes             string                  `json:"notes,omitempty"`
	CreatedAt         string                  `json:"created_at"`
	Items             []SaleItem              `json:"items,omitempty"`
	AmountDue         decimal.Decimal         `json:"amount_due"`
	Paid              decimal.Decimal         `json:"paid"`
	Balance           decimal.Decimal         `json:"balance"`
}

// Due returns what the client owes in the sale currency: the GST-inclusive
// total for INR sales, the base total otherwise.
func (s Sale) Due() decimal.Decimal {
	if strings.EqualFold(s.Currency, reconcile.QuoteCurrency) {
		if s.GST != nil {
			return parseAmount(s.GST.Total)
		}
		return s.FinalTotalINR
	}
	return s.FinalTotalUSD
}

type saleAmounts struct {
	exchangeRate  decimal.Decimal
	commissionUSD decimal.Decimal
	commissionINR decimal.Decimal
	finalUSD      decimal.Decimal
	finalINR      decimal.Decimal
}

func parseAmount(raw string) decimal.Decimal {
	d, err := money.ParseStrict(raw)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parsePayloadAmount(name, raw string) (decimal.Decimal, error) {
	d, err := money.ParseStrict(raw)
	if err != nil {
		return decimal.Zero, invalid("%s %q is not a number", name, raw)
	}
	if d.IsNegative() {
		return decimal.Zero, invalid("%s must be greater than or equal to 0", name)
	}
	return d, nil
}

func (in *SaleInput) validate() (saleAmounts, error) {
	var out saleAmounts
	if in.ClientID <= 0 {
		return out, invalid("client_id is required")
	}
	if len(in.DiamondIDs) == 0 {
		return out, invalid("at least one diamond is required")
	}
	if !money.Bounded(in.BaseCost) {
		return out, invalid("base_cost is out of range")
	}
	seen := make(map[int64]struct{}, len(in.DiamondIDs))
	for _, id := range in.DiamondIDs {
		if _, dup := seen[id]; dup {
			return out, invalid("diamond %d listed twice", id)
		}
		seen[id] = struct{}{}
	}

	p := &in.Payload
	p.Currency = strings.ToUpper(strings.TrimSpace(p.Currency))
	if !reconcile.ValidCurrency(p.Currency) {
		return out, invalid("currency must be %s or %s", reconcile.BaseCurrency, reconcile.QuoteCurrency)
	}
	if p.Currency == reconcile.GSTCurrency && p.GSTBreakdown == nil {
		return out, invalid("gst_breakdown is required for %s sales", reconcile.GSTCurrency)
	}
	if p.Currency != reconcile.GSTCurrency && p.GSTBreakdown != nil {
		return out, invalid("gst_breakdown only applies to %s sales", reconcile.GSTCurrency)
	}

	var err error
	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"exchange_rate", p.ExchangeRate, &out.exchangeRate},
		{"commission_usd", p.CommissionUSD, &out.commissionUSD},
		{"commission_inr", p.CommissionINR, &out.commissionINR},
		{"final_total_usd", p.FinalTotalUSD, &out.finalUSD},
		{"final_total_inr", p.FinalTotalINR, &out.finalINR},
	}
	for _, f := range fields {
		if *f.dst, err = parsePayloadAmount(f.name, f.raw); err != nil {
			return out, err
		}
	}
	if p.Currency == reconcile.QuoteCurrency && !out.exchangeRate.IsPositive() {
		return out, invalid("exchange_rate must be greater than 0 for %s sales", reconcile.QuoteCurrency)
	}
	return out, nil
}

// CreateSale invoices the stones in one transaction and marks them sold.
func (s *Store) CreateSale(ctx context.Context, in SaleInput) (Sale, error) {
	amounts, err := in.validate()
	if err != nil {
		return Sale{}, err
	}

	var gstJSON sql.NullString
	if in.Payload.GSTBreakdown != nil {
		raw, err := json.Marshal(in.Payload.GSTBreakdown)
		if err != nil {
			return Sale{}, fmt.Errorf("encode gst breakdown: %w", err)
		}
		gstJSON = sql.NullString{String: string(raw), Valid: true}
	}

	var saleID int64
	err = db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM clients WHERE id = ?)`, in.ClientID).Scan(&exists); err != nil {
			return fmt.Errorf("check client: %w", err)
		}
		if !exists {
			return notFound("client", in.ClientID)
		}

		stones, err := diamondsByIDs(ctx, tx, in.DiamondIDs)
		if err != nil {
			return err
		}
		baseCost := decimal.Zero
		for _, d := range stones {
			if d.Status == StatusSold {
				return fmt.Errorf("diamond %s: %w", d.StockID, ErrDiamondUnavailable)
			}
			baseCost = baseCost.Add(d.DiscountedPrice)
		}
		if !baseCost.Equal(in.BaseCost) {
			return invalid("base_cost %s does not match the selected stones (%s)", in.BaseCost.StringFixed(2), baseCost.StringFixed(2))
		}

		result, err := tx.ExecContext(ctx, `
			INSERT INTO sales (
				client_id, base_cost, currency, exchange_rate, commission_percent,
				commission_usd, commission_inr, final_total_usd, final_total_inr, gst_json, notes
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			in.ClientID, baseCost.StringFixed(2), in.Payload.Currency, amounts.exchangeRate.String(), nullString(in.CommissionPercent),
			amounts.commissionUSD.StringFixed(2), amounts.commissionINR.StringFixed(2),
			amounts.finalUSD.StringFixed(2), amounts.finalINR.StringFixed(2), gstJSON, nullString(in.Notes),
		)
		if err != nil {
			return fmt.Errorf("insert sale: %w", err)
		}
		saleID, err = result.LastInsertId()
		if err != nil {
			return fmt.Errorf("sale id: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE sales SET invoice_no = ? WHERE id = ?`, InvoiceNumber(saleID), saleID); err != nil {
			return fmt.Errorf("set invoice number: %w", err)
		}

		for _, d := range stones {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO sale_items (sale_id, diamond_id, price)
				VALUES (?, ?, ?)
			`, saleID, d.ID, d.DiscountedPrice.StringFixed(2)); err != nil {
				return fmt.Errorf("insert sale item %d: %w", d.ID, err)
			}
			result, err := tx.ExecContext(ctx, `
				UPDATE diamonds SET status = 'sold', updated_at = CURRENT_TIMESTAMP
				WHERE id = ? AND status <> 'sold'
			`, d.ID)
			if err != nil {
				return fmt.Errorf("mark diamond %d sold: %w", d.ID, err)
			}
			if affected, err := result.RowsAffected(); err != nil {
				return fmt.Errorf("rows affected for diamond %d: %w", d.ID, err)
			} else if affected == 0 {
				return fmt.Errorf("diamond %s: %w", d.StockID, ErrDiamondUnavailable)
			}
		}
		return nil
	})
	if err != nil {
		return Sale{}, err
	}
	return s.GetSale(ctx, saleID)
}

// InvoiceNumber formats the invoice number of a sale id.
func InvoiceNumber(id int64) string {
	return fmt.Sprintf("INV-%06d", id)
}

const saleColumns = `
	s.id, COALESCE(s.invoice_no, ''), s.client_id, c.name, s.base_cost, s.currency, s.exchange_rate,
	COALESCE(s.commission_percent, ''), s.commission_usd, s.commission_inr,
	s.final_total_usd, s.final_total_inr, s.gst_json, COALESCE(s.notes, ''), s.created_at`

func scanSale(row rowScanner) (Sale, error) {
	var sale Sale
	var gstJSON sql.NullString
	err := row.Scan(
		&sale.ID, &sale.InvoiceNo, &sale.ClientID, &sale.ClientName, &sale.BaseCost, &sale.Currency, &sale.ExchangeRate,
		&sale.CommissionPercent, &sale.CommissionUSD, &sale.CommissionINR,
		&sale.FinalTotalUSD, &sale.FinalTotalINR, &gstJSON, &sale.Notes, &sale.CreatedAt,
	)
	if err != nil {
		return Sale{}, err
	}
	if gstJSON.Valid && gstJSON.String != "" {
		var gst reconcile.GSTBreakdown
		if err := json.Unmarshal([]byte(gstJSON.String), &gst); err != nil {
			return Sale{}, fmt.Errorf("decode gst breakdown of sale %d: %w", sale.ID, err)
		}
		sale.GST = &gst
	}
	sale.AmountDue = sale.Due()
	return sale, nil
}

// GetSale returns a sale with its items and balance.
func (s *Store) GetSale(ctx context.Context, id int64) (Sale, error) {
	sale, err := scanSale(s.db.QueryRowContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales s
		JOIN clients c ON c.id = s.client_id
		WHERE s.id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Sale{}, notFound("sale", id)
	}
	if err != nil {
		return Sale{}, fmt.Errorf("query sale: %w", err)
	}

	items, err := s.saleItems(ctx, id)
	if err != nil {
		return Sale{}, err
	}
	sale.Items = items

	paid, err := s.paidTotals(ctx, []int64{id})
	if err != nil {
		return Sale{}, err
	}
	sale.Paid = paid[id]
	sale.Balance = sale.AmountDue.Sub(sale.Paid)
	return sale, nil
}

// ListSales returns sales newest first, without items.
func (s *Store) ListSales(ctx context.Context) ([]Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales s
		JOIN clients c ON c.id = s.client_id
		ORDER BY s.id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sales: %w", err)
	}
	defer rows.Close()

	sales := make([]Sale, 0)
	ids := make([]int64, 0)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sale: %w", err)
		}
		sales = append(sales, sale)
		ids = append(ids, sale.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sales: %w", err)
	}
	rows.Close()

	paid, err := s.paidTotals(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range sales {
		sales[i].Paid = paid[sales[i].ID]
		sales[i].Balance = sales[i].AmountDue.Sub(sales[i].Paid)
	}
	return sales, nil
}

func (s *Store) saleItems(ctx context.Context, saleID int64) ([]SaleItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT si.diamond_id, d.stock_id, d.seller_id, si.price
		FROM sale_items si
		JOIN diamonds d ON d.id = si.diamond_id
		WHERE si.sale_id = ?
		ORDER BY si.id
	`, saleID)
	if err != nil {
		return nil, fmt.Errorf("query sale items: %w", err)
	}
	defer rows.Close()

	items := make([]SaleItem, 0)
	for rows.Next() {
		var item SaleItem
		var sellerID sql.NullInt64
		if err := rows.Scan(&item.DiamondID, &item.StockID, &sellerID, &item.Price); err != nil {
			return nil, fmt.Errorf("scan sale item: %w", err)
		}
		if sellerID.Valid {
			id := sellerID.Int64
			item.SellerID = &id
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sale items: %w", err)
	}
	return items, nil
}
