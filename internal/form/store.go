package form

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Simplici0/gemledger/internal/rap"
	"github.com/Simplici0/gemledger/internal/reconcile"
)

// ErrSessionNotFound is returned for unknown or expired form ids.
var ErrSessionNotFound = errors.New("form session not found")

// DefaultTTL is how long an untouched form is kept.
const DefaultTTL = 30 * time.Minute

// StoreConfig wires the collaborators every form needs.
type StoreConfig struct {
	TTL      time.Duration
	Source   rap.Source
	GST      reconcile.GSTRates
	Debounce rap.DebouncerConfig
	Logger   *zap.Logger

	// CleanupInterval is how often expired forms are swept; TTL/2 when zero.
	CleanupInterval time.Duration
}

// Store keeps open forms in memory. A form expires after TTL without access;
// expired or deleted diamond forms have their pending lookups stopped.
type Store struct {
	cache    *cache.Cache
	ttl      time.Duration
	source   rap.Source
	gst      reconcile.GSTRates
	debounce rap.DebouncerConfig
	logger   *zap.Logger
}

// NewStore creates an empty session store.
func NewStore(cfg StoreConfig) *Store {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = cfg.TTL / 2
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.GST.CGST.IsZero() && cfg.GST.SGST.IsZero() {
		cfg.GST = reconcile.DefaultGSTRates
	}
	if cfg.Debounce.Logger == nil {
		cfg.Debounce.Logger = cfg.Logger
	}

	s := &Store{
		cache:    cache.New(cfg.TTL, cfg.CleanupInterval),
		ttl:      cfg.TTL,
		source:   cfg.Source,
		gst:      cfg.GST,
		debounce: cfg.Debounce,
		logger:   cfg.Logger,
	}
	// go-cache runs this outside its own lock, after the item is gone.
	s.cache.OnEvicted(func(id string, v any) {
		if f, ok := v.(*DiamondForm); ok {
			f.Close()
		}
		s.logger.Debug("form session closed", zap.String("form_id", id))
	})
	return s
}

// NewSale opens a sale form.
func (s *Store) NewSale(currency string, exchangeRate decimal.Decimal) (*SaleForm, error) {
	f, err := NewSaleForm(uuid.NewString(), currency, exchangeRate, s.gst)
	if err != nil {
		return nil, err
	}
	s.cache.SetDefault(f.ID(), f)
	return f, nil
}

// NewDiamond opens a diamond form for a new stone (diamondID 0) or an
// existing one.
func (s *Store) NewDiamond(diamondID int64, initial DiamondFields) *DiamondForm {
	f := NewDiamondForm(uuid.NewString(), diamondID, initial, s.source, s.debounce)
	s.cache.SetDefault(f.ID(), f)
	return f
}

// Sale returns an open sale form and extends its lifetime.
func (s *Store) Sale(id string) (*SaleForm, error) {
	v, ok := s.touch(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	f, ok := v.(*SaleForm)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return f, nil
}

// Diamond returns an open diamond form and extends its lifetime.
func (s *Store) Diamond(id string) (*DiamondForm, error) {
	v, ok := s.touch(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	f, ok := v.(*DiamondForm)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return f, nil
}

// Delete discards a form.
func (s *Store) Delete(id string) error {
	if _, ok := s.cache.Get(id); !ok {
		return ErrSessionNotFound
	}
	s.cache.Delete(id)
	return nil
}

// Len returns the number of open forms, expired ones included until the
// next cleanup.
func (s *Store) Len() int {
	return s.cache.ItemCount()
}

// Close discards every form, including expired ones the janitor has not
// swept yet.
func (s *Store) Close() {
	s.cache.DeleteExpired()
	for id := range s.cache.Items() {
		s.cache.Delete(id)
	}
}

func (s *Store) touch(id string) (any, bool) {
	v, ok := s.cache.Get(id)
	if !ok {
		return nil, false
	}
	if err := s.cache.Replace(id, v, s.ttl); err != nil {
		return nil, false
	}
	return v, true
}
