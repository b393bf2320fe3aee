package rap

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultDebounce is the quiet period after the last grading edit before a
// lookup is sent.
const DefaultDebounce = 500 * time.Millisecond

// Result is a delivered lookup. Seq increases with every lookup issued by the
// same Debouncer.
type Result struct {
	Seq     uint64
	Request Request
	Price   decimal.Decimal
}

// DebouncerConfig tunes a Debouncer. Zero values select the defaults.
type DebouncerConfig struct {
	Delay   time.Duration
	Timeout time.Duration
	Logger  *zap.Logger
}

// Debouncer coalesces bursts of grading edits into a single lookup using the
// values of the last edit. Only the result of the most recently issued
// lookup is delivered; older responses and failures are dropped, so the
// caller keeps whatever rate it had.
type Debouncer struct {
	source  Source
	deliver func(Result)
	delay   time.Duration
	timeout time.Duration
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	timer   *time.Timer
	pending Query
	gen     uint64
	seq     uint64
	stopped bool
}

// NewDebouncer creates a Debouncer that calls deliver with successful results.
// deliver runs on the lookup goroutine.
func NewDebouncer(source Source, deliver func(Result), cfg DebouncerConfig) *Debouncer {
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultDebounce
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Debouncer{
		source:  source,
		deliver: deliver,
		delay:   cfg.Delay,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Trigger records the latest grading values and restarts the quiet period.
func (d *Debouncer) Trigger(q Query) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.pending = q
	d.gen++
	gen := d.gen
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, func() { d.fire(gen) })
}

// Stop cancels a pending or in-flight lookup and waits for it to finish.
// Nothing is delivered after Stop returns.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.cancel()
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if d.stopped || gen != d.gen {
		d.mu.Unlock()
		return
	}
	req, ok := d.pending.Request()
	if !ok {
		d.mu.Unlock()
		return
	}
	d.seq++
	seq := d.seq
	d.wg.Add(1)
	d.mu.Unlock()
	defer d.wg.Done()

	ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
	defer cancel()

	price, err := d.source.Price(ctx, req)
	if err != nil {
		d.logger.Warn("rap price lookup failed",
			zap.Uint64("seq", seq),
			zap.String("shape", req.Shape),
			zap.String("carat", req.Carat.String()),
			zap.Int("color_code", req.ColorCode),
			zap.String("clarity_code", req.ClarityCode),
			zap.Error(err))
		return
	}

	d.mu.Lock()
	current := !d.stopped && seq == d.seq
	d.mu.Unlock()
	if !current {
		d.logger.Debug("dropping superseded rap price", zap.Uint64("seq", seq))
		return
	}
	d.deliver(Result{Seq: seq, Request: req, Price: price})
}
