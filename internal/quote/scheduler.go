// internal/quote/scheduler.go
package quote

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/ultra-swap/internal/amount"
	"github.com/rovshanmuradov/ultra-swap/internal/metrics"
	"github.com/rovshanmuradov/ultra-swap/internal/ultra"
)

// DefaultDebounce is the quiet period before a changed input is quoted.
const DefaultDebounce = 250 * time.Millisecond

// Fetcher requests orders from the swap API.
type Fetcher interface {
	GetOrder(ctx context.Context, req ultra.OrderRequest) (*ultra.OrderResponse, error)
}

// Config configures a Scheduler.
type Config struct {
	Fetcher  Fetcher
	Debounce time.Duration
	Logger   *zap.Logger
	Metrics  *metrics.Collector

	// OnUpdate is called after every change of the observable state.
	// It runs outside the scheduler lock and may call back into it.
	OnUpdate func()
}

// State is a consistent copy of the scheduler's observable state.
type State struct {
	Params      Params
	Quote       *Quote
	Loading     bool
	Pending     bool // debounce timer armed
	Err         error
	LastRefresh time.Time
	Generation  uint64
}

// Scheduler debounces quote parameters and keeps the single current quote.
//
// Every parameter change, refresh and invalidation bumps the generation.
// A fetch carries the generation it was issued at and its result is only
// applied while that generation is still current.
type Scheduler struct {
	ctx    context.Context
	cancel context.CancelFunc

	fetcher  Fetcher
	debounce time.Duration
	logger   *zap.Logger
	metrics  *metrics.Collector
	onUpdate func()

	mu          sync.Mutex
	params      Params
	request     *ultra.OrderRequest // nil while no fetch should happen
	generation  uint64
	timer       *time.Timer
	armed       bool
	deadline    time.Time
	loading     bool
	current     *Quote
	lastErr     error
	lastRefresh time.Time
	closed      bool

	wg sync.WaitGroup
}

// NewScheduler creates a scheduler. Fetches run with a context derived from ctx.
func NewScheduler(ctx context.Context, cfg *Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &Scheduler{
		ctx:      sctx,
		cancel:   cancel,
		fetcher:  cfg.Fetcher,
		debounce: debounce,
		logger:   logger.Named("quote-scheduler"),
		metrics:  cfg.Metrics,
		onUpdate: cfg.OnUpdate,
	}
	s.timer = time.AfterFunc(time.Hour, s.onTimer)
	s.timer.Stop()
	return s
}

// Observe registers the latest desired quote parameters.
//
// Zero amounts and incomplete mint pairs clear the quote immediately and
// fetch nothing. An unparsable amount does the same and returns the
// *amount.ParseError. Re-observing parameters that are already quoted,
// being fetched or waiting on the timer is a no-op.
func (s *Scheduler) Observe(p Params) error {
	units, parseErr := amount.ToBaseUnits(p.Amount, p.Decimals)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}

	if parseErr != nil || units.Sign() == 0 || p.InputMint == "" || p.OutputMint == "" {
		s.params = p
		s.request = nil
		changed := s.clearLocked()
		s.mu.Unlock()

		if changed {
			s.logger.Debug("Quote cleared", zap.String("amount", p.Amount))
			s.notify()
		}
		return parseErr
	}

	req := ultra.OrderRequest{
		InputMint:  p.InputMint,
		OutputMint: p.OutputMint,
		Amount:     units,
		Taker:      p.Taker,
	}
	if s.request != nil && sameRequest(*s.request, req) && (s.current != nil || s.loading || s.armed) {
		s.params = p
		s.mu.Unlock()
		return nil
	}

	wasArmed := s.armed
	s.params = p
	s.request = &req
	s.clearLocked()
	if wasArmed {
		s.metrics.RecordDebounceReset()
	}
	s.armLocked()
	s.mu.Unlock()

	s.logger.Debug("Quote scheduled",
		zap.String("input_mint", req.InputMint),
		zap.String("output_mint", req.OutputMint),
		zap.String("amount", req.Amount.String()),
		zap.Duration("debounce", s.debounce))
	s.notify()
	return nil
}

// Refresh re-fetches the last observed parameters right away, cancelling
// any pending debounce. It does nothing when there is nothing to quote.
func (s *Scheduler) Refresh() {
	s.mu.Lock()
	if s.closed || s.request == nil {
		s.mu.Unlock()
		return
	}
	s.generation++
	s.disarmLocked()
	s.startFetchLocked()
	s.mu.Unlock()

	s.notify()
}

// Invalidate drops the current quote and any in-flight result. The
// parameters are kept so a later Refresh or Observe can quote them again.
func (s *Scheduler) Invalidate() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.clearLocked()
	s.lastRefresh = time.Time{}
	s.mu.Unlock()

	s.notify()
}

// Current returns the current quote or nil.
func (s *Scheduler) Current() *Quote {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Loading reports whether a fetch for the current parameters is in flight.
func (s *Scheduler) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// LastError returns the error of the last fetch for the current parameters.
func (s *Scheduler) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// LastRefresh returns when the current quote was fetched, or the zero time.
func (s *Scheduler) LastRefresh() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRefresh
}

// Snapshot returns all observable state under one lock.
func (s *Scheduler) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		Params:      s.params,
		Quote:       s.current,
		Loading:     s.loading,
		Pending:     s.armed,
		Err:         s.lastErr,
		LastRefresh: s.lastRefresh,
		Generation:  s.generation,
	}
}

// Close stops the timer, cancels in-flight fetches and waits for them.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.generation++
	s.disarmLocked()
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

// clearLocked bumps the generation and resets the quote slot. It reports
// whether anything observable changed.
func (s *Scheduler) clearLocked() bool {
	changed := s.current != nil || s.lastErr != nil || s.loading || s.armed
	s.generation++
	s.disarmLocked()
	s.current = nil
	s.lastErr = nil
	s.loading = false
	return changed
}

func (s *Scheduler) armLocked() {
	s.timer.Stop()
	s.armed = true
	s.deadline = time.Now().Add(s.debounce)
	s.timer.Reset(s.debounce)
}

func (s *Scheduler) disarmLocked() {
	s.armed = false
	s.timer.Stop()
}

// onTimer runs on the timer goroutine. A callback that lost the race with
// a reschedule sees the new deadline in the future and leaves it alone.
func (s *Scheduler) onTimer() {
	s.mu.Lock()
	if s.closed || !s.armed || time.Now().Before(s.deadline) {
		s.mu.Unlock()
		return
	}
	s.armed = false
	s.startFetchLocked()
	s.mu.Unlock()

	s.notify()
}

func (s *Scheduler) startFetchLocked() {
	gen := s.generation
	req := *s.request
	params := s.params
	s.loading = true

	s.wg.Add(1)
	go s.fetch(gen, req, params)
}

func (s *Scheduler) fetch(gen uint64, req ultra.OrderRequest, params Params) {
	defer s.wg.Done()

	start := time.Now()
	resp, err := s.fetcher.GetOrder(s.ctx, req)
	var q *Quote
	if err == nil {
		q, err = newQuote(resp, req, params, time.Now())
	}
	latency := time.Since(start)

	s.mu.Lock()
	if gen != s.generation || s.closed {
		s.mu.Unlock()
		s.metrics.RecordQuote(metrics.QuoteDiscarded, latency)
		s.logger.Debug("Discarding stale quote response",
			zap.Uint64("generation", gen),
			zap.String("amount", req.Amount.String()))
		return
	}

	s.loading = false
	if err != nil {
		s.current = nil
		s.lastErr = &NoRouteError{Cause: err}
	} else {
		s.current = q
		s.lastErr = nil
		s.lastRefresh = q.FetchedAt
	}
	s.mu.Unlock()

	if err != nil {
		s.metrics.RecordQuote(metrics.QuoteNoRoute, latency)
		s.logger.Warn("Quote failed",
			zap.String("input_mint", req.InputMint),
			zap.String("output_mint", req.OutputMint),
			zap.String("amount", req.Amount.String()),
			zap.Error(err))
	} else {
		s.metrics.RecordQuote(metrics.QuoteSuccess, latency)
		s.logger.Debug("Quote updated",
			zap.String("in_amount", q.InAmount.String()),
			zap.String("out_amount", q.OutAmount.String()),
			zap.String("request_id", q.RequestID),
			zap.Duration("latency", latency))
	}
	s.notify()
}

func (s *Scheduler) notify() {
	if s.onUpdate != nil {
		s.onUpdate()
	}
}

func sameRequest(a, b ultra.OrderRequest) bool {
	return a.InputMint == b.InputMint &&
		a.OutputMint == b.OutputMint &&
		a.Taker == b.Taker &&
		a.Amount.Cmp(b.Amount) == 0
}
