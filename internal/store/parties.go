package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// SellerInput is the editable part of a seller.
type SellerInput struct {
	Name    string `json:"name"`
	Company string `json:"company,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`
	Notes   string `json:"notes,omitempty"`
	Active  *bool  `json:"active,omitempty"`
}

// Seller is a supplier of stones.
type Seller struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Company string `json:"company,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`
	Notes   string `json:"notes,omitempty"`
	Active  bool   `json:"active"`
}

// ClientInput is the editable part of a client.
type ClientInput struct {
	Name    string `json:"name"`
	Company string `json:"company,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`
	GSTIN   string `json:"gstin,omitempty"`
	Address string `json:"address,omitempty"`
	Notes   string `json:"notes,omitempty"`
}

// Client is a buyer invoices are raised against.
type Client struct {
	ID int64 `json:"id"`
	ClientInput
}

func (in SellerInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return invalid("name is required")
	}
	if in.Email != "" && !strings.Contains(in.Email, "@") {
		return invalid("email %q is not valid", in.Email)
	}
	return nil
}

func (in SellerInput) active() bool {
	return in.Active == nil || *in.Active
}

func (in ClientInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return invalid("name is required")
	}
	if in.Email != "" && !strings.Contains(in.Email, "@") {
		return invalid("email %q is not valid", in.Email)
	}
	if gstin := strings.TrimSpace(in.GSTIN); gstin != "" && len(gstin) != 15 {
		return invalid("gstin must be 15 characters")
	}
	return nil
}

// CreateSeller inserts a seller. Sellers are active unless stated otherwise.
func (s *Store) CreateSeller(ctx context.Context, in SellerInput) (Seller, error) {
	if err := in.validate(); err != nil {
		return Seller{}, err
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO sellers (name, company, phone, email, notes, active)
		VALUES (?, ?, ?, ?, ?, ?)
	`, strings.TrimSpace(in.Name), nullString(in.Company), nullString(in.Phone), nullString(in.Email), nullString(in.Notes), in.active())
	if err != nil {
		return Seller{}, fmt.Errorf("insert seller: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return Seller{}, fmt.Errorf("seller id: %w", err)
	}
	return s.GetSeller(ctx, id)
}

const sellerColumns = `id, name, COALESCE(company, ''), COALESCE(phone, ''), COALESCE(email, ''), COALESCE(notes, ''), active`

func scanSeller(row rowScanner) (Seller, error) {
	var seller Seller
	err := row.Scan(&seller.ID, &seller.Name, &seller.Company, &seller.Phone, &seller.Email, &seller.Notes, &seller.Active)
	return seller, err
}

// GetSeller returns one seller.
func (s *Store) GetSeller(ctx context.Context, id int64) (Seller, error) {
	seller, err := scanSeller(s.db.QueryRowContext(ctx, `SELECT `+sellerColumns+` FROM sellers WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Seller{}, notFound("seller", id)
	}
	if err != nil {
		return Seller{}, fmt.Errorf("query seller: %w", err)
	}
	return seller, nil
}

// ListSellers returns sellers sorted by name.
func (s *Store) ListSellers(ctx context.Context) ([]Seller, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sellerColumns+` FROM sellers ORDER BY name COLLATE NOCASE, id`)
	if err != nil {
		return nil, fmt.Errorf("query sellers: %w", err)
	}
	defer rows.Close()

	sellers := make([]Seller, 0)
	for rows.Next() {
		seller, err := scanSeller(rows)
		if err != nil {
			return nil, fmt.Errorf("scan seller: %w", err)
		}
		sellers = append(sellers, seller)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sellers: %w", err)
	}
	return sellers, nil
}

// UpdateSeller replaces a seller's fields.
func (s *Store) UpdateSeller(ctx context.Context, id int64, in SellerInput) (Seller, error) {
	if err := in.validate(); err != nil {
		return Seller{}, err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE sellers
		SET name = ?, company = ?, phone = ?, email = ?, notes = ?, active = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, strings.TrimSpace(in.Name), nullString(in.Company), nullString(in.Phone), nullString(in.Email), nullString(in.Notes), in.active(), id)
	if err != nil {
		return Seller{}, fmt.Errorf("update seller: %w", err)
	}
	if err := checkAffected(result, "seller", id); err != nil {
		return Seller{}, err
	}
	return s.GetSeller(ctx, id)
}

// DeleteSeller removes a seller that no stone references.
func (s *Store) DeleteSeller(ctx context.Context, id int64) error {
	var refs int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM diamonds WHERE seller_id = ?`, id).Scan(&refs); err != nil {
		return fmt.Errorf("count seller diamonds: %w", err)
	}
	if refs > 0 {
		return fmt.Errorf("seller %d has %d diamonds: %w", id, refs, ErrInUse)
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM sellers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete seller: %w", err)
	}
	return checkAffected(result, "seller", id)
}

// CreateClient inserts a client.
func (s *Store) CreateClient(ctx context.Context, in ClientInput) (Client, error) {
	if err := in.validate(); err != nil {
		return Client{}, err
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO clients (name, company, phone, email, gstin, address, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, strings.TrimSpace(in.Name), nullString(in.Company), nullString(in.Phone), nullString(in.Email),
		nullString(strings.ToUpper(in.GSTIN)), nullString(in.Address), nullString(in.Notes))
	if err != nil {
		return Client{}, fmt.Errorf("insert client: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return Client{}, fmt.Errorf("client id: %w", err)
	}
	return s.GetClient(ctx, id)
}

const clientColumns = `id, name, COALESCE(company, ''), COALESCE(phone, ''), COALESCE(email, ''),
	COALESCE(gstin, ''), COALESCE(address, ''), COALESCE(notes, '')`

func scanClient(row rowScanner) (Client, error) {
	var c Client
	err := row.Scan(&c.ID, &c.Name, &c.Company, &c.Phone, &c.Email, &c.GSTIN, &c.Address, &c.Notes)
	return c, err
}

// GetClient returns one client.
func (s *Store) GetClient(ctx context.Context, id int64) (Client, error) {
	c, err := scanClient(s.db.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Client{}, notFound("client", id)
	}
	if err != nil {
		return Client{}, fmt.Errorf("query client: %w", err)
	}
	return c, nil
}

// ListClients returns clients sorted by name.
func (s *Store) ListClients(ctx context.Context) ([]Client, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+clientColumns+` FROM clients ORDER BY name COLLATE NOCASE, id`)
	if err != nil {
		return nil, fmt.Errorf("query clients: %w", err)
	}
	defer rows.Close()

	clients := make([]Client, 0)
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		clients = append(clients, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate clients: %w", err)
	}
	return clients, nil
}

// UpdateClient replaces a client's fields.
func (s *Store) UpdateClient(ctx context.Context, id int64, in ClientInput) (Client, error) {
	if err := in.validate(); err != nil {
		return Client{}, err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE clients
		SET name = ?, company = ?, phone = ?, email = ?, gstin = ?, address = ?, notes = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, strings.TrimSpace(in.Name), nullString(in.Company), nullString(in.Phone), nullString(in.Email),
		nullString(strings.ToUpper(in.GSTIN)), nullString(in.Address), nullString(in.Notes), id)
	if err != nil {
		return Client{}, fmt.Errorf("update client: %w", err)
	}
	if err := checkAffected(result, "client", id); err != nil {
		return Client{}, err
	}
	return s.GetClient(ctx, id)
}

// DeleteClient removes a client with no sales.
func (s *Store) DeleteClient(ctx context.Context, id int64) error {
	var refs int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sales WHERE client_id = ?`, id).Scan(&refs); err != nil {
		return fmt.Errorf("count client sales: %w", err)
	}
	if refs > 0 {
		return fmt.Errorf("client %d has %d sales: %w", id, refs, ErrInUse)
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM clients WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete client: %w", err)
	}
	return checkAffected(result, "client", id)
}
