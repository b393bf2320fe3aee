package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	defaultEnv            = "development"
	defaultDBPath         = "./gemledger.db"
	defaultPort           = "8080"
	defaultLogLevel       = "info"
	defaultLogFormat      = "json"
	defaultRapDebounce    = 500 * time.Millisecond
	defaultRapTimeout     = 10 * time.Second
	defaultRapCacheTTL    = 6 * time.Hour
	defaultFormSessionTTL = 2 * time.Hour
	defaultRateLimitRPS   = 10.0
	defaultRateLimitBurst = 30
	defaultExchangeRate   = "83.00"
	defaultGSTPercent     = "0.75"
)

// Config holds application configuration sourced from environment variables.
type Config struct {
	Env           string
	AdminEmail    string
	AdminPassword string
	SessionSecret string
	DBPath        string
	Port          string

	LogLevel  string
	LogFormat string

	// RapPriceURL, when set, is the remote pricing service. RapSheetPath is a
	// local YAML price grid used otherwise.
	RapPriceURL  string
	RapSheetPath string
	RapDebounce  time.Duration
	RapTimeout   time.Duration
	RapCacheTTL  time.Duration

	FormSessionTTL time.Duration

	RateLimitRPS   float64
	RateLimitBurst int

	DefaultExchangeRate decimal.Decimal
	CGSTPercent         decimal.Decimal
	SGSTPercent         decimal.Decimal

	// Warnings collects problems found while loading; they are logged once
	// the logger exists.
	Warnings []string
}

// IsDev reports whether the server runs in a development environment.
func (c Config) IsDev() bool {
	return c.Env == "" || c.Env == "development" || c.Env == "dev"
}

// Load reads .env from the working directory (if present) and the process
// environment, and returns a populated Config.
func Load() Config {
	return LoadFrom(".env")
}

// LoadFrom is Load with an explicit dotenv path. Variables already present in
// the environment win over the file.
func LoadFrom(dotenvPath string) Config {
	var warnings []string
	if err := godotenv.Load(dotenvPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		warnings = append(warnings, fmt.Sprintf("could not load %s: %v", dotenvPath, err))
	}

	l := loader{warnings: warnings}
	cfg := Config{
		Env:           strings.ToLower(l.str("APP_ENV", defaultEnv)),
		AdminEmail:    os.Getenv("ADMIN_EMAIL"),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),
		SessionSecret: os.Getenv("SESSION_SECRET"),
		DBPath:        l.str("DB_PATH", defaultDBPath),
		Port:          l.str("PORT", defaultPort),

		LogLevel:  l.str("LOG_LEVEL", defaultLogLevel),
		LogFormat: l.str("LOG_FORMAT", defaultLogFormat),

		RapPriceURL:  os.Getenv("RAP_PRICE_URL"),
		RapSheetPath: os.Getenv("RAP_SHEET_PATH"),
		RapDebounce:  l.duration("RAP_DEBOUNCE", defaultRapDebounce),
		RapTimeout:   l.duration("RAP_TIMEOUT", defaultRapTimeout),
		RapCacheTTL:  l.duration("RAP_CACHE_TTL", defaultRapCacheTTL),

		FormSessionTTL: l.duration("FORM_SESSION_TTL", defaultFormSessionTTL),

		RateLimitRPS:   l.float("RATE_LIMIT_RPS", defaultRateLimitRPS),
		RateLimitBurst: l.int("RATE_LIMIT_BURST", defaultRateLimitBurst),

		DefaultExchangeRate: l.decimal("DEFAULT_EXCHANGE_RATE", defaultExchangeRate),
		CGSTPercent:         l.decimal("GST_CGST_PERCENT", defaultGSTPercent),
		SGSTPercent:         l.decimal("GST_SGST_PERCENT", defaultGSTPercent),
	}

	if cfg.AdminEmail == "" {
		l.warn("ADMIN_EMAIL is not set")
	}
	if cfg.AdminPassword == "" {
		l.warn("ADMIN_PASSWORD is not set")
	}
	if cfg.SessionSecret == "" {
		l.warn("SESSION_SECRET is not set")
	}
	if cfg.RapPriceURL == "" && cfg.RapSheetPath == "" {
		l.warn("neither RAP_PRICE_URL nor RAP_SHEET_PATH is set; rap lookups will find no prices")
	}

	cfg.Warnings = l.warnings
	return cfg
}

type loader struct {
	warnings []string
}

func (l *loader) warn(msg string) {
	l.warnings = append(l.warnings, msg)
}

func (l *loader) str(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func (l *loader) duration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v <= 0 {
		l.warn(fmt.Sprintf("invalid %s %q, using %s", key, raw, fallback))
		return fallback
	}
	return v
}

func (l *loader) int(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		l.warn(fmt.Sprintf("invalid %s %q, using %d", key, raw, fallback))
		return fallback
	}
	return v
}

func (l *loader) float(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v <= 0 {
		l.warn(fmt.Sprintf("invalid %s %q, using %g", key, raw, fallback))
		return fallback
	}
	return v
}

func (l *loader) decimal(key, fallback string) decimal.Decimal {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw != "" {
		v, err := decimal.NewFromString(raw)
		if err == nil && !v.IsNegative() {
			return v
		}
		l.warn(fmt.Sprintf("invalid %s %q, using %s", key, raw, fallback))
	}
	return decimal.RequireFromString(fallback)
}
