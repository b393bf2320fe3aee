package seed

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/Simplici0/gemledger/internal/db"
	"github.com/Simplici0/gemledger/internal/reconcile"
)

const defaultHouseSeller = "House Inventory"

// Config contains the values required by startup seed.
type Config struct {
	AdminEmail          string
	AdminPassword       string
	DefaultCurrency     string
	DefaultExchangeRate decimal.Decimal
	HouseSeller         string
}

// Stats contains seed operation counters.
type Stats struct {
	Inserts int
	Updates int
}

// Run executes the startup seed in an idempotent way.
func Run(ctx context.Context, database *sql.DB, cfg Config) (Stats, error) {
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = reconcile.BaseCurrency
	}
	cfg.DefaultCurrency = strings.ToUpper(cfg.DefaultCurrency)
	if !reconcile.ValidCurrency(cfg.DefaultCurrency) {
		return Stats{}, fmt.Errorf("seed default currency %q is not supported", cfg.DefaultCurrency)
	}
	if cfg.HouseSeller == "" {
		cfg.HouseSeller = defaultHouseSeller
	}

	stats := Stats{}
	err := db.WithTx(ctx, database, func(tx *sql.Tx) error {
		if err := seedAdmin(ctx, tx, cfg.AdminEmail, cfg.AdminPassword, &stats); err != nil {
			return err
		}
		if err := ensureSettings(ctx, tx, cfg, &stats); err != nil {
			return err
		}
		return ensureHouseSeller(ctx, tx, cfg.HouseSeller, &stats)
	})
	if err != nil {
		return Stats{}, fmt.Errorf("seed: %w", err)
	}
	return stats, nil
}

func seedAdmin(ctx context.Context, tx *sql.Tx, email, password string, stats *Stats) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil
	}

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE email = ? LIMIT 1)`, email).Scan(&exists); err != nil {
		return fmt.Errorf("check admin user existence: %w", err)
	}
	if exists {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO users (email, password_hash) VALUES (?, ?)`, email, string(hash)); err != nil {
		return fmt.Errorf("insert admin user: %w", err)
	}
	stats.Inserts++
	return nil
}

// ensureSettings creates the settings singleton. An existing row keeps its
// values, except that an unset exchange rate picks up the configured default.
func ensureSettings(ctx context.Context, tx *sql.Tx, cfg Config, stats *Stats) error {
	var current sql.NullString
	err := tx.QueryRowContext(ctx, `SELECT default_exchange_rate FROM settings WHERE id = 1`).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO settings (id, default_currency, default_exchange_rate)
			VALUES (1, ?, ?)
		`, cfg.DefaultCurrency, cfg.DefaultExchangeRate.String()); err != nil {
			return fmt.Errorf("insert settings singleton: %w", err)
		}
		stats.Inserts++
		return nil
	}
	if err != nil {
		return fmt.Errorf("check settings existence: %w", err)
	}

	rate, parseErr := decimal.NewFromString(current.String)
	if (parseErr == nil && rate.IsPositive()) || !cfg.DefaultExchangeRate.IsPositive() {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE settings SET default_exchange_rate = ?, updated_at = CURRENT_TIMESTAMP WHERE id = 1
	`, cfg.DefaultExchangeRate.String()); err != nil {
		return fmt.Errorf("update settings exchange rate: %w", err)
	}
	stats.Updates++
	return nil
}

func ensureHouseSeller(ctx context.Context, tx *sql.Tx, name string, stats *Stats) error {
	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM sellers WHERE name = ? LIMIT 1)`, name).Scan(&exists); err != nil {
		return fmt.Errorf("check house seller existence: %w", err)
	}
	if exists {
		return nil
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sellers (name, notes, active)
		VALUES (?, ?, ?)
	`, name, "Stones held on own account", true); err != nil {
		return fmt.Errorf("insert house seller: %w", err)
	}
	stats.Inserts++
	return nil
}
