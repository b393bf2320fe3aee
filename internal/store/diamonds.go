package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Simplici0/gemledger/internal/money"
	"github.com/Simplici0/gemledger/internal/pricing"
)

// Diamond statuses.
const (
	StatusAvailable = "available"
	StatusMemo      = "memo"
	StatusSold      = "sold"
)

var hundred = decimal.NewFromInt(100)

// DiamondInput is the editable part of a stone.
type DiamondInput struct {
	StockID         string          `json:"stock_id"`
	Shape           string          `json:"shape"`
	Carat           decimal.Decimal `json:"carat"`
	Color           string          `json:"color"`
	Clarity         string          `json:"clarity"`
	Cut             string          `json:"cut,omitempty"`
	Lab             string          `json:"lab,omitempty"`
	CertificateNo   string          `json:"certificate_no,omitempty"`
	RapRate         decimal.Decimal `json:"rap_rate"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	SellerID        *int64          `json:"seller_id,omitempty"`
	Status          string          `json:"status"`
	Notes           string          `json:"notes,omitempty"`
}

// Diamond is a stored stone with its derived prices.
type Diamond struct {
	ID int64 `json:"id"`
	DiamondInput
	Price           decimal.Decimal `json:"price"`
	DiscountedPrice decimal.Decimal `json:"discounted_price"`
	CreatedAt       string          `json:"created_at"`
	UpdatedAt       string          `json:"updated_at"`
}

// DiamondFilter narrows ListDiamonds. Query matches stock id, certificate or notes.
type DiamondFilter struct {
	Status string
	Query  string
}

// Normalize trims text fields and fills the default status.
func (in *DiamondInput) Normalize() {
	in.StockID = strings.TrimSpace(in.StockID)
	in.Shape = strings.ToLower(strings.TrimSpace(in.Shape))
	in.Color = strings.ToUpper(strings.TrimSpace(in.Color))
	in.Clarity = strings.ToUpper(strings.TrimSpace(in.Clarity))
	in.Cut = strings.TrimSpace(in.Cut)
	in.Lab = strings.ToUpper(strings.TrimSpace(in.Lab))
	in.CertificateNo = strings.TrimSpace(in.CertificateNo)
	in.Notes = strings.TrimSpace(in.Notes)
	in.Status = strings.ToLower(strings.TrimSpace(in.Status))
	if in.Status == "" {
		in.Status = StatusAvailable
	}
}

// Validate checks a normalized input. Stones are marked sold only through a sale.
func (in DiamondInput) Validate() error {
	if in.StockID == "" {
		return invalid("stock_id is required")
	}
	if in.Shape == "" {
		return invalid("shape is required")
	}
	if !in.Carat.IsPositive() {
		return invalid("carat must be greater than 0")
	}
	for name, d := range map[string]decimal.Decimal{"carat": in.Carat, "rap_rate": in.RapRate, "discount_percent": in.DiscountPercent} {
		if !money.Bounded(d) {
			return invalid("%s is out of range", name)
		}
	}
	if in.Color == "" {
		return invalid("color is required")
	}
	if in.Clarity == "" {
		return invalid("clarity is required")
	}
	if in.RapRate.IsNegative() {
		return invalid("rap_rate must be greater than or equal to 0")
	}
	if in.DiscountPercent.IsNegative() || in.DiscountPercent.GreaterThan(hundred) {
		return invalid("discount_percent must be between 0 and 100")
	}
	if in.Status != StatusAvailable && in.Status != StatusMemo {
		return invalid("status must be available or memo")
	}
	return nil
}

// Valuation returns the pricing breakdown of the stone.
func (in DiamondInput) Valuation() pricing.Breakdown {
	return pricing.Line(pricing.ItemInput{
		Carat:           in.Carat,
		PerCaratRate:    in.RapRate,
		DiscountPercent: in.DiscountPercent,
	})
}

const diamondColumns = `
	id, stock_id, shape, carat, color, clarity,
	COALESCE(cut, ''), COALESCE(lab, ''), COALESCE(certificate_no, ''),
	rap_rate, discount_percent, price, discounted_price,
	seller_id, status, COALESCE(notes, ''), created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDiamond(row rowScanner) (Diamond, error) {
	var d Diamond
	var sellerID sql.NullInt64
	err := row.Scan(
		&d.ID, &d.StockID, &d.Shape, &d.Carat, &d.Color, &d.Clarity,
		&d.Cut, &d.Lab, &d.CertificateNo,
		&d.RapRate, &d.DiscountPercent, &d.Price, &d.DiscountedPrice,
		&sellerID, &d.Status, &d.Notes, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return Diamond{}, err
	}
	if sellerID.Valid {
		id := sellerID.Int64
		d.SellerID = &id
	}
	return d, nil
}

func sellerArg(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

// CreateDiamond validates and inserts a stone, deriving its prices.
func (s *Store) CreateDiamond(ctx context.Context, in DiamondInput) (Diamond, error) {
	in.Normalize()
	if err := in.Validate(); err != nil {
		return Diamond{}, err
	}
	if err := s.checkSeller(ctx, in.SellerID); err != nil {
		return Diamond{}, err
	}
	if exists, err := s.stockIDTaken(ctx, in.StockID, 0); err != nil {
		return Diamond{}, err
	} else if exists {
		return Diamond{}, invalid("stock_id %q already exists", in.StockID)
	}

	v := in.Valuation()
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO diamonds (
			stock_id, shape, carat, color, clarity, cut, lab, certificate_no,
			rap_rate, discount_percent, price, discounted_price, seller_id, status, notes
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		in.StockID, in.Shape, in.Carat.String(), in.Color, in.Clarity,
		nullString(in.Cut), nullString(in.Lab), nullString(in.CertificateNo),
		in.RapRate.String(), in.DiscountPercent.String(), v.Price.StringFixed(2), v.DiscountedPrice.StringFixed(2),
		sellerArg(in.SellerID), in.Status, nullString(in.Notes),
	)
	if err != nil {
		return Diamond{}, fmt.Errorf("insert diamond: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return Diamond{}, fmt.Errorf("diamond id: %w", err)
	}
	return s.GetDiamond(ctx, id)
}

// GetDiamond returns one stone.
func (s *Store) GetDiamond(ctx context.Context, id int64) (Diamond, error) {
	d, err := scanDiamond(s.db.QueryRowContext(ctx, `SELECT `+diamondColumns+` FROM diamonds WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Diamond{}, notFound("diamond", id)
	}
	if err != nil {
		return Diamond{}, fmt.Errorf("query diamond: %w", err)
	}
	return d, nil
}

// ListDiamonds returns stones newest first.
func (s *Store) ListDiamonds(ctx context.Context, f DiamondFilter) ([]Diamond, error) {
	status := strings.ToLower(strings.TrimSpace(f.Status))
	query := strings.TrimSpace(f.Query)
	search := "%" + query + "%"

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+diamondColumns+`
		FROM diamonds
		WHERE (? = '' OR status = ?)
		  AND (? = '' OR stock_id LIKE ? OR COALESCE(certificate_no, '') LIKE ? OR COALESCE(notes, '') LIKE ?)
		ORDER BY id DESC
	`, status, status, query, search, search, search)
	if err != nil {
		return nil, fmt.Errorf("query diamonds: %w", err)
	}
	defer rows.Close()

	diamonds := make([]Diamond, 0)
	for rows.Next() {
		d, err := scanDiamond(rows)
		if err != nil {
			return nil, fmt.Errorf("scan diamond: %w", err)
		}
		diamonds = append(diamonds, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate diamonds: %w", err)
	}
	return diamonds, nil
}

// DiamondsByIDs returns the stones in the order of ids.
func (s *Store) DiamondsByIDs(ctx context.Context, ids []int64) ([]Diamond, error) {
	return diamondsByIDs(ctx, s.db, ids)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func diamondsByIDs(ctx context.Context, q querier, ids []int64) ([]Diamond, error) {
	if len(ids) == 0 {
		return []Diamond{}, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := q.QueryContext(ctx, `SELECT `+diamondColumns+` FROM diamonds WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("query diamonds by id: %w", err)
	}
	defer rows.Close()

	byID := make(map[int64]Diamond, len(ids))
	for rows.Next() {
		d, err := scanDiamond(rows)
		if err != nil {
			return nil, fmt.Errorf("scan diamond: %w", err)
		}
		byID[d.ID] = d
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate diamonds: %w", err)
	}

	out := make([]Diamond, 0, len(ids))
	for _, id := range ids {
		d, ok := byID[id]
		if !ok {
			return nil, notFound("diamond", id)
		}
		out = append(out, d)
	}
	return out, nil
}

// UpdateDiamond replaces the editable fields of an unsold stone.
func (s *Store) UpdateDiamond(ctx context.Context, id int64, in DiamondInput) (Diamond, error) {
	in.Normalize()
	if err := in.Validate(); err != nil {
		return Diamond{}, err
	}
	current, err := s.GetDiamond(ctx, id)
	if err != nil {
		return Diamond{}, err
	}
	if current.Status == StatusSold {
		return Diamond{}, fmt.Errorf("diamond %d: %w", id, ErrDiamondUnavailable)
	}
	if err := s.checkSeller(ctx, in.SellerID); err != nil {
		return Diamond{}, err
	}
	if exists, err := s.stockIDTaken(ctx, in.StockID, id); err != nil {
		return Diamond{}, err
	} else if exists {
		return Diamond{}, invalid("stock_id %q already exists", in.StockID)
	}

	v := in.Valuation()
	result, err := s.db.ExecContext(ctx, `
		UPDATE diamonds
		SET
			stock_id = ?,
			shape = ?,
			carat = ?,
			color = ?,
			clarity = ?,
			cut = ?,
			lab = ?,
			certificate_no = ?,
			rap_rate = ?,
			discount_percent = ?,
			price = ?,
			discounted_price = ?,
			seller_id = ?,
			status = ?,
			notes = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status <> 'sold'
	`,
		in.StockID, in.Shape, in.Carat.String(), in.Color, in.Clarity,
		nullString(in.Cut), nullString(in.Lab), nullString(in.CertificateNo),
		in.RapRate.String(), in.DiscountPercent.String(), v.Price.StringFixed(2), v.DiscountedPrice.StringFixed(2),
		sellerArg(in.SellerID), in.Status, nullString(in.Notes), id,
	)
	if err != nil {
		return Diamond{}, fmt.Errorf("update diamond: %w", err)
	}
	if err := checkAffected(result, "diamond", id); err != nil {
		return Diamond{}, err
	}
	return s.GetDiamond(ctx, id)
}

// DeleteDiamond removes an unsold stone.
func (s *Store) DeleteDiamond(ctx context.Context, id int64) error {
	current, err := s.GetDiamond(ctx, id)
	if err != nil {
		return err
	}
	if current.Status == StatusSold {
		return fmt.Errorf("diamond %d: %w", id, ErrDiamondUnavailable)
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM diamonds WHERE id = ? AND status <> 'sold'`, id)
	if err != nil {
		return fmt.Errorf("delete diamond: %w", err)
	}
	return checkAffected(result, "diamond", id)
}

func (s *Store) stockIDTaken(ctx context.Context, stockID string, exceptID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM diamonds WHERE stock_id = ? AND id <> ?)`, stockID, exceptID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check stock id: %w", err)
	}
	return exists, nil
}

func (s *Store) checkSeller(ctx context.Context, id *int64) error {
	if id == nil {
		return nil
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM sellers WHERE id = ?)`, *id).Scan(&exists); err != nil {
		return fmt.Errorf("check seller: %w", err)
	}
	if !exists {
		return invalid("seller %d does not exist", *id)
	}
	return nil
}
