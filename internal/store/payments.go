package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Simplici0/gemledger/internal/db"
	"github.com/Simplici0/gemledger/internal/money"
)

// PaymentInput records money received against a sale. Currency defaults to
// the sale currency and must match it.
type PaymentInput struct {
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency,omitempty"`
	Method    string          `json:"method,omitempty"`
	Reference string          `json:"reference,omitempty"`
	PaidAt    string          `json:"paid_at,omitempty"`
}

// Payment is a stored receipt.
type Payment struct {
	ID        int64           `json:"id"`
	SaleID    int64           `json:"sale_id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Method    string          `json:"method,omitempty"`
	Reference string          `json:"reference,omitempty"`
	PaidAt    string          `json:"paid_at"`
	CreatedAt string          `json:"created_at"`
}

// CreatePayment adds a payment, refusing amounts above the open balance.
func (s *Store) CreatePayment(ctx context.Context, saleID int64, in PaymentInput) (Payment, error) {
	if !in.Amount.IsPositive() {
		return Payment{}, invalid("amount must be greater than 0")
	}
	if !money.Bounded(in.Amount) {
		return Payment{}, invalid("amount is out of range")
	}
	paidAt := strings.TrimSpace(in.PaidAt)
	if paidAt != "" {
		t, err := time.Parse(time.DateOnly, paidAt)
		if err != nil {
			return Payment{}, invalid("paid_at must be YYYY-MM-DD")
		}
		paidAt = t.Format(time.DateTime)
	}

	var paymentID int64
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		sale, err := scanSale(tx.QueryRowContext(ctx, `
			SELECT `+saleColumns+`
			FROM sales s
			JOIN clients c ON c.id = s.client_id
			WHERE s.id = ?
		`, saleID))
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("sale", saleID)
		}
		if err != nil {
			return fmt.Errorf("query sale: %w", err)
		}

		currency := strings.ToUpper(strings.TrimSpace(in.Currency))
		if currency == "" {
			currency = sale.Currency
		}
		if currency != sale.Currency {
			return invalid("payment currency %s does not match sale currency %s", currency, sale.Currency)
		}

		paid, err := sumPayments(ctx, tx, saleID)
		if err != nil {
			return err
		}
		balance := sale.AmountDue.Sub(paid)
		if in.Amount.GreaterThan(balance) {
			return invalid("amount %s exceeds balance %s", in.Amount.StringFixed(2), balance.StringFixed(2))
		}

		var paidAtArg any
		if paidAt != "" {
			paidAtArg = paidAt
		}
		result, err := tx.ExecContext(ctx, `
			INSERT INTO payments (sale_id, amount, currency, method, reference, paid_at)
			VALUES (?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
		`, saleID, in.Amount.StringFixed(2), currency, nullString(in.Method), nullString(in.Reference), paidAtArg)
		if err != nil {
			return fmt.Errorf("insert payment: %w", err)
		}
		paymentID, err = result.LastInsertId()
		if err != nil {
			return fmt.Errorf("payment id: %w", err)
		}
		return nil
	})
	if err != nil {
		return Payment{}, err
	}

	payments, err := s.listPayments(ctx, `WHERE id = ?`, paymentID)
	if err != nil {
		return Payment{}, err
	}
	if len(payments) == 0 {
		return Payment{}, notFound("payment", paymentID)
	}
	return payments[0], nil
}

// ListPayments returns the payments of a sale, oldest first.
func (s *Store) ListPayments(ctx context.Context, saleID int64) ([]Payment, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM sales WHERE id = ?)`, saleID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check sale: %w", err)
	}
	if !exists {
		return nil, notFound("sale", saleID)
	}
	return s.listPayments(ctx, `WHERE sale_id = ?`, saleID)
}

func (s *Store) listPayments(ctx context.Context, where string, arg any) ([]Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sale_id, amount, currency, COALESCE(method, ''), COALESCE(reference, ''), paid_at, created_at
		FROM payments
		`+where+`
		ORDER BY paid_at, id
	`, arg)
	if err != nil {
		return nil, fmt.Errorf("query payments: %w", err)
	}
	defer rows.Close()

	payments := make([]Payment, 0)
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.SaleID, &p.Amount, &p.Currency, &p.Method, &p.Reference, &p.PaidAt, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payments: %w", err)
	}
	return payments, nil
}

func sumPayments(ctx context.Context, q querier, saleID int64) (decimal.Decimal, error) {
	rows, err := q.QueryContext(ctx, `SELECT amount FROM payments WHERE sale_id = ?`, saleID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("query payment amounts: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var amount decimal.Decimal
		if err := rows.Scan(&amount); err != nil {
			return decimal.Zero, fmt.Errorf("scan payment amount: %w", err)
		}
		total = total.Add(amount)
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, fmt.Errorf("iterate payment amounts: %w", err)
	}
	return total, nil
}

// paidTotals sums payments per sale. Amounts are TEXT so the sum is taken in
// decimal rather than by SQLite.
func (s *Store) paidTotals(ctx context.Context, saleIDs []int64) (map[int64]decimal.Decimal, error) {
	out := make(map[int64]decimal.Decimal, len(saleIDs))
	if len(saleIDs) == 0 {
		return out, nil
	}
	args := make([]any, len(saleIDs))
	for i, id := range saleIDs {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT sale_id, amount FROM payments WHERE sale_id IN (`+placeholders(len(saleIDs))+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query paid totals: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var saleID int64
		var amount decimal.Decimal
		if err := rows.Scan(&saleID, &amount); err != nil {
			return nil, fmt.Errorf("scan paid total: %w", err)
		}
		out[saleID] = out[saleID].Add(amount)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate paid totals: %w", err)
	}
	return out, nil
}
