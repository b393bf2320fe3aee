package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Simplici0/gemledger/internal/reconcile"
)

// Settings are the desk-wide defaults applied to new sale forms.
type Settings struct {
	DefaultCurrency     string          `json:"default_currency"`
	DefaultExchangeRate decimal.Decimal `json:"default_exchange_rate"`
}

// Validate checks the settings values.
func (s Settings) Validate() error {
	if !reconcile.ValidCurrency(s.DefaultCurrency) {
		return invalid("default_currency must be %s or %s", reconcile.BaseCurrency, reconcile.QuoteCurrency)
	}
	if s.DefaultExchangeRate.IsNegative() {
		return invalid("default_exchange_rate must be greater than or equal to 0")
	}
	return nil
}

// GetSettings returns the settings singleton.
func (s *Store) GetSettings(ctx context.Context) (Settings, error) {
	var out Settings
	err := s.db.QueryRowContext(ctx, `
		SELECT default_currency, default_exchange_rate
		FROM settings
		WHERE id = 1
	`).Scan(&out.DefaultCurrency, &out.DefaultExchangeRate)
	if errors.Is(err, sql.ErrNoRows) {
		return Settings{}, fmt.Errorf("settings singleton: %w", ErrNotFound)
	}
	if err != nil {
		return Settings{}, fmt.Errorf("query settings: %w", err)
	}
	return out, nil
}

// UpdateSettings stores new defaults, creating the singleton if needed.
func (s *Store) UpdateSettings(ctx context.Context, in Settings) error {
	in.DefaultCurrency = strings.ToUpper(strings.TrimSpace(in.DefaultCurrency))
	if err := in.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (id, default_currency, default_exchange_rate)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			default_currency = excluded.default_currency,
			default_exchange_rate = excluded.default_exchange_rate,
			updated_at = CURRENT_TIMESTAMP
	`, in.DefaultCurrency, in.DefaultExchangeRate.String())
	if err != nil {
		return fmt.Errorf("update settings: %w", err)
	}
	return nil
}
