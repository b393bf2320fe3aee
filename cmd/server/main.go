package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Simplici0/gemledger/internal/config"
	"github.com/Simplici0/gemledger/internal/db"
	"github.com/Simplici0/gemledger/internal/form"
	"github.com/Simplici0/gemledger/internal/logging"
	"github.com/Simplici0/gemledger/internal/migrations"
	"github.com/Simplici0/gemledger/internal/rap"
	"github.com/Simplici0/gemledger/internal/reconcile"
	"github.com/Simplici0/gemledger/internal/seed"
	"github.com/Simplici0/gemledger/internal/store"
)

type server struct {
	auth    *authService
	db      *sql.DB
	store   *store.Store
	forms   *form.Store
	rap     rap.Source
	gst     reconcile.GSTRates
	limiter *rate.Limiter
	logger  *zap.Logger

	defaultExchangeRate decimal.Decimal
	rapTimeout          time.Duration
}

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		logger = zap.NewExample()
		logger.Error("invalid logging configuration, using defaults", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	for _, w := range cfg.Warnings {
		logger.Warn("configuration", zap.String("warning", w))
	}
	if cfg.SessionSecret == "" {
		if !cfg.IsDev() {
			return errors.New("SESSION_SECRET is required outside development")
		}
		cfg.SessionSecret = uuid.NewString()
		logger.Warn("using a random session secret; sessions end on restart")
	}

	ctx := context.Background()

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := migrations.Up(ctx, database); err != nil {
		return err
	}

	stats, err := seed.Run(ctx, database, seed.Config{
		AdminEmail:          cfg.AdminEmail,
		AdminPassword:       cfg.AdminPassword,
		DefaultExchangeRate: cfg.DefaultExchangeRate,
	})
	if err != nil {
		return err
	}
	logger.Info("startup seed done", zap.Int("inserts", stats.Inserts), zap.Int("updates", stats.Updates))

	source, err := newRapSource(cfg, logger)
	if err != nil {
		return err
	}

	srv := newServer(database, source, cfg, logger)
	defer srv.forms.Close()

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", httpServer.Addr), zap.String("env", cfg.Env))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func newServer(database *sql.DB, source rap.Source, cfg config.Config, logger *zap.Logger) *server {
	gst := reconcile.GSTRates{CGST: cfg.CGSTPercent, SGST: cfg.SGSTPercent}
	return &server{
		auth:  newAuthService(database, cfg.SessionSecret),
		db:    database,
		store: store.New(database),
		forms: form.NewStore(form.StoreConfig{
			TTL:    cfg.FormSessionTTL,
			Source: source,
			GST:    gst,
			Debounce: rap.DebouncerConfig{
				Delay:   cfg.RapDebounce,
				Timeout: cfg.RapTimeout,
				Logger:  logger.Named("rap"),
			},
			Logger: logger.Named("forms"),
		}),
		rap:                 source,
		gst:                 gst,
		limiter:             rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst),
		logger:              logger,
		defaultExchangeRate: cfg.DefaultExchangeRate,
		rapTimeout:          cfg.RapTimeout,
	}
}

// newRapSource picks the remote service when configured, else the local
// sheet, and caches either.
func newRapSource(cfg config.Config, logger *zap.Logger) (rap.Source, error) {
	var source rap.Source
	switch {
	case cfg.RapPriceURL != "":
		source = rap.NewHTTPSource(cfg.RapPriceURL, cfg.RapTimeout)
		logger.Info("rap prices from service", zap.String("url", cfg.RapPriceURL))
	case cfg.RapSheetPath != "":
		sheet, err := rap.LoadSheetFile(cfg.RapSheetPath)
		if err != nil {
			return nil, err
		}
		source = sheet
		logger.Info("rap prices from sheet", zap.String("path", cfg.RapSheetPath))
	default:
		return noRapSource{}, nil
	}
	return rap.NewCachedSource(source, cfg.RapCacheTTL, cfg.RapTimeout), nil
}

type noRapSource struct{}

func (noRapSource) Price(context.Context, rap.Request) (decimal.Decimal, error) {
	return decimal.Zero, rap.ErrNoPrice
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(s.rateLimit)
	r.Use(s.authMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Post("/login", s.handleLogin)
	r.Post("/logout", s.handleLogout)

	r.Route("/api", func(r chi.Router) {
		r.Get("/me", s.handleMe)
		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handleUpdateSettings)

		r.Route("/diamonds", func(r chi.Router) {
			r.Get("/", s.handleListDiamonds)
			r.Post("/", s.handleCreateDiamond)
			r.Get("/export.csv", s.handleExportDiamonds)
			r.Post("/import", s.handleImportDiamonds)
			r.Get("/{id}", s.handleGetDiamond)
			r.Put("/{id}", s.handleUpdateDiamond)
			r.Delete("/{id}", s.handleDeleteDiamond)
		})

		r.Route("/sellers", func(r chi.Router) {
			r.Get("/", s.handleListSellers)
			r.Post("/", s.handleCreateSeller)
			r.Get("/{id}", s.handleGetSeller)
			r.Put("/{id}", s.handleUpdateSeller)
			r.Delete("/{id}", s.handleDeleteSeller)
		})

		r.Route("/clients", func(r chi.Router) {
			r.Get("/", s.handleListClients)
			r.Post("/", s.handleCreateClient)
			r.Get("/{id}", s.handleGetClient)
			r.Put("/{id}", s.handleUpdateClient)
			r.Delete("/{id}", s.handleDeleteClient)
		})

		r.Route("/sales", func(r chi.Router) {
			r.Get("/", s.handleListSales)
			r.Post("/", s.handleCreateSale)
			r.Get("/{id}", s.handleGetSale)
			r.Get("/{id}/payments", s.handleListPayments)
			r.Post("/{id}/payments", s.handleCreatePayment)
		})

		r.Get("/reports/sales", s.handleSalesReport)

		r.Post("/calc/reconcile", s.handleReconcile)
		r.Get("/rap/price", s.handleRapPrice)

		r.Route("/forms/sale", func(r chi.Router) {
			r.Post("/", s.handleCreateSaleForm)
			r.Get("/{formID}", s.handleGetSaleForm)
			r.Put("/{formID}/items", s.handleSetSaleFormItems)
			r.Post("/{formID}/change", s.handleSaleFormChange)
			r.Post("/{formID}/currency", s.handleSaleFormCurrency)
			r.Post("/{formID}/submit", s.handleSubmitSaleForm)
			r.Delete("/{formID}", s.handleDeleteForm)
		})

		r.Route("/forms/diamond", func(r chi.Router) {
			r.Post("/", s.handleCreateDiamondForm)
			r.Get("/{formID}", s.handleGetDiamondForm)
			r.Post("/{formID}/change", s.handleDiamondFormChange)
			r.Post("/{formID}/submit", s.handleSubmitDiamondForm)
			r.Delete("/{formID}", s.handleDeleteForm)
		})
	})

	return r
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.PingContext(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.logger.Info("request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_addr", r.RemoteAddr))
	})
}

func (s *server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			s.logger.Warn("rate limit exceeded",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr))
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: http.StatusText(http.StatusTooManyRequests)})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/login" || r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}

		email, ok := s.auth.sessionEmail(r)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "authentication required"})
			return
		}

		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), email)))
	})
}
