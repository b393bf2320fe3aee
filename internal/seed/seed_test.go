package seed

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/Simplici0/gemledger/internal/db"
	"github.com/Simplici0/gemledger/internal/migrations"
)

func TestRunIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	dbPath := filepath.Join(t.TempDir(), "seed-test.db")
	database, err := db.Open(dbPath)
	if err != nil {
		t.Fatalf("open sqlite database: %v", err)
	}
	defer database.Close()

	if err := migrations.Up(ctx, database); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	cfg := Config{
		AdminEmail:          "Admin@GemLedger.test",
		AdminPassword:       "12345",
		DefaultExchangeRate: decimal.RequireFromString("83.25"),
	}

	for i := 0; i < 10; i++ {
		stats, err := Run(ctx, database, cfg)
		if err != nil {
			t.Fatalf("run seed (iteration=%d): %v", i, err)
		}
		if i == 0 {
			if stats.Inserts != 3 {
				t.Fatalf("expected 3 inserts in first run, got %d", stats.Inserts)
			}
			continue
		}
		if stats.Inserts != 0 || stats.Updates != 0 {
			t.Fatalf("expected no changes in iteration %d, got %+v", i, stats)
		}
	}

	assertCount(t, database, `SELECT COUNT(*) FROM users WHERE email = ?`, "admin@gemledger.test", 1)
	assertCount(t, database, `SELECT COUNT(*) FROM settings WHERE id = 1`, nil, 1)
	assertCount(t, database, `SELECT COUNT(*) FROM sellers WHERE name = ?`, defaultHouseSeller, 1)

	var currency, rate string
	if err := database.QueryRow(`SELECT default_currency, default_exchange_rate FROM settings WHERE id = 1`).Scan(&currency, &rate); err != nil {
		t.Fatalf("query settings: %v", err)
	}
	if currency != "USD" || rate != "83.25" {
		t.Fatalf("unexpected settings %s %s", currency, rate)
	}

	var hash string
	if err := database.QueryRow(`SELECT password_hash FROM users WHERE email = ?`, "admin@gemledger.test").Scan(&hash); err != nil {
		t.Fatalf("query admin hash: %v", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("12345")); err != nil {
		t.Fatalf("expected admin hash to match password: %v", err)
	}
}

func TestRunFillsUnsetExchangeRate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	database, err := db.Open(filepath.Join(t.TempDir(), "seed-rate.db"))
	if err != nil {
		t.Fatalf("open sqlite database: %v", err)
	}
	defer database.Close()
	if err := migrations.Up(ctx, database); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	if _, err := Run(ctx, database, Config{}); err != nil {
		t.Fatalf("first seed: %v", err)
	}
	stats, err := Run(ctx, database, Config{DefaultExchangeRate: decimal.RequireFromString("84")})
	if err != nil {
		t.Fatalf("second seed: %v", err)
	}
	if stats.Updates != 1 {
		t.Fatalf("expected 1 update, got %d", stats.Updates)
	}

	if _, err := Run(ctx, database, Config{DefaultCurrency: "EUR"}); err == nil {
		t.Fatalf("expected unsupported currency to fail")
	}
}

func assertCount(t *testing.T, database *sql.DB, query string, args any, expected int) {
	t.Helper()

	var count int
	var err error
	switch v := args.(type) {
	case nil:
		err = database.QueryRow(query).Scan(&count)
	case []any:
		err = database.QueryRow(query, v...).Scan(&count)
	default:
		err = database.QueryRow(query, v).Scan(&count)
	}
	if err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if count != expected {
		t.Fatalf("expected count %d, got %d", expected, count)
	}
}
