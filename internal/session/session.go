// internal/session/session.go
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/ultra-swap/internal/amount"
	"github.com/rovshanmuradov/ultra-swap/internal/metrics"
	"github.com/rovshanmuradov/ultra-swap/internal/quote"
	"github.com/rovshanmuradov/ultra-swap/internal/swap"
	"github.com/rovshanmuradov/ultra-swap/internal/token"
)

// Form is the swap form. FromValue is typed by the user, ToValue is derived
// from the current quote and empty whenever there is none.
type Form struct {
	FromMint  string
	ToMint    string
	FromValue string
	ToValue   string
}

// Screen is the host-visible stage of the swap flow.
type Screen string

const (
	ScreenInitial      Screen = "Initial"
	ScreenConfirmation Screen = "Confirmation"
	ScreenSwapping     Screen = "Swapping"
	ScreenSwapSuccess  Screen = "Swap Success"
	ScreenSwapError    Screen = "Swap Error"
)

// FieldError is a host-set validation message for one form field.
type FieldError struct {
	Title   string
	Message string
}

// Observer is notified of every form and screen change. Calls are
// serialized and carry the latest state; they must not call back into
// session mutators.
type Observer interface {
	OnFormUpdate(form Form)
	OnScreenUpdate(screen Screen)
}

// AccountRefresher reloads externally owned balances.
type AccountRefresher interface {
	Refresh(ctx context.Context) error
}

// Config configures a Session.
type Config struct {
	Quotes    quote.Fetcher
	Submitter swap.Submitter
	Tokens    token.Lookup
	Wallet    swap.Wallet      // optional
	Accounts  AccountRefresher // optional
	Observer  Observer         // optional

	InitialInputMint  string
	InitialOutputMint string
	InitialAmount     string // base units of the input token, optional

	Debounce    time.Duration
	SwapTimeout time.Duration

	Logger  *zap.Logger
	Metrics *metrics.Collector
}

// Session is the composition root of the swap flow: it owns the form,
// feeds the quote scheduler and forwards submissions to the executor.
type Session struct {
	cfg       Config
	logger    *zap.Logger
	scheduler *quote.Scheduler
	executor  *swap.Executor

	// opMu serializes mutators so scheduler calls happen in form order.
	opMu sync.Mutex

	mu        sync.Mutex
	form      Form
	fromToken *token.Descriptor
	toToken   *token.Descriptor
	wallet    swap.Wallet
	errors    map[string]FieldError
	screen    Screen

	notifyMu   sync.Mutex
	notified   bool
	lastForm   Form
	lastScreen Screen
}

// New resolves the initial tokens, prefills the initial amount and starts
// quoting it.
func New(ctx context.Context, cfg *Config) (*Session, error) {
	if cfg.Quotes == nil || cfg.Submitter == nil || cfg.Tokens == nil {
		return nil, errors.New("session requires quotes, submitter and tokens")
	}

	c := *cfg
	if c.InitialInputMint == "" {
		c.InitialInputMint = token.USDCMint
	}
	if c.InitialOutputMint == "" {
		c.InitialOutputMint = token.WrappedSOLMint
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}

	s := &Session{
		cfg:    c,
		logger: c.Logger.Named("swap-session"),
		wallet: c.Wallet,
		errors: make(map[string]FieldError),
		screen: ScreenInitial,
	}
	s.scheduler = quote.NewScheduler(ctx, &quote.Config{
		Fetcher:  c.Quotes,
		Debounce: c.Debounce,
		Logger:   c.Logger,
		Metrics:  c.Metrics,
		OnUpdate: s.onQuoteUpdate,
	})
	s.executor = swap.NewExecutor(&swap.Config{
		Submitter: c.Submitter,
		Timeout:   c.SwapTimeout,
		Logger:    c.Logger,
		Metrics:   c.Metrics,
		OnChange:  s.onSwapChange,
	})

	form, from, to, err := s.initialForm(ctx)
	if err != nil {
		s.scheduler.Close()
		return nil, err
	}

	s.mu.Lock()
	s.form = form
	s.fromToken = from
	s.toToken = to
	params := s.paramsLocked()
	s.mu.Unlock()

	s.logger.Info("Swap session started",
		zap.String("from", from.Label()),
		zap.String("to", to.Label()),
		zap.String("from_value", form.FromValue))

	s.notify()
	if err := s.scheduler.Observe(params); err != nil {
		s.scheduler.Close()
		return nil, err
	}
	return s, nil
}

// initialForm resolves both initial tokens and converts the initial amount
// to the input token's precision.
func (s *Session) initialForm(ctx context.Context) (Form, *token.Descriptor, *token.Descriptor, error) {
	from, to, err := s.resolvePair(ctx, s.cfg.InitialInputMint, s.cfg.InitialOutputMint)
	if err != nil {
		return Form{}, nil, nil, err
	}

	form := Form{FromMint: from.Mint, ToMint: to.Mint}
	if s.cfg.InitialAmount != "" {
		units, err := amount.ParseBaseUnits(s.cfg.InitialAmount)
		if err != nil {
			return Form{}, nil, nil, fmt.Errorf("initial amount: %w", err)
		}
		if units.Sign() > 0 {
			form.FromValue = amount.ToDecimalString(units, from.Decimals)
		}
	}
	return form, from, to, nil
}

func (s *Session) resolvePair(ctx context.Context, fromMint, toMint string) (*token.Descriptor, *token.Descriptor, error) {
	var from, to *token.Descriptor

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d, err := s.cfg.Tokens.Lookup(gctx, fromMint)
		if err != nil {
			return fmt.Errorf("resolve input token %s: %w", fromMint, err)
		}
		from = d
		return nil
	})
	g.Go(func() error {
		d, err := s.cfg.Tokens.Lookup(gctx, toMint)
		if err != nil {
			return fmt.Errorf("resolve output token %s: %w", toMint, err)
		}
		to = d
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return from, to, nil
}

// SetFromValue sets the user-typed amount. Malformed input is rejected
// with an *amount.ParseError and leaves the form untouched.
func (s *Session) SetFromValue(value string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if _, err := amount.ToBaseUnits(value, 0); err != nil {
		return err
	}

	s.mu.Lock()
	s.form.FromValue = value
	s.recomputeLocked(s.scheduler.Current())
	params := s.paramsLocked()
	s.mu.Unlock()

	s.notify()
	return s.scheduler.Observe(params)
}

// SetFromMint switches the input token. The mint is resolved first; on
// failure the form is left as it was.
func (s *Session) SetFromMint(ctx context.Context, mint string) error {
	return s.setMint(ctx, mint, true)
}

// SetToMint switches the output token.
func (s *Session) SetToMint(ctx context.Context, mint string) error {
	return s.setMint(ctx, mint, false)
}

func (s *Session) setMint(ctx context.Context, mint string, input bool) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	desc, err := s.cfg.Tokens.Lookup(ctx, mint)
	if err != nil {
		return fmt.Errorf("resolve token %s: %w", mint, err)
	}

	s.mu.Lock()
	if input {
		s.form.FromMint = desc.Mint
		s.fromToken = desc
	} else {
		s.form.ToMint = desc.Mint
		s.toToken = desc
	}
	s.recomputeLocked(nil)
	params := s.paramsLocked()
	s.mu.Unlock()

	s.notify()
	return s.scheduler.Observe(params)
}

// SetWallet connects or, with nil, disconnects the wallet. The taker is
// part of the quote request, so the quote is refreshed.
func (s *Session) SetWallet(w swap.Wallet) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	s.wallet = w
	params := s.paramsLocked()
	s.mu.Unlock()

	return s.scheduler.Observe(params)
}

// SetScreen moves the host to screen, e.g. to Confirmation before Submit.
func (s *Session) SetScreen(screen Screen) {
	s.mu.Lock()
	s.screen = screen
	s.mu.Unlock()
	s.notify()
}

// SetError records a field error. An empty FieldError clears the key.
func (s *Session) SetError(key string, fe FieldError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fe == (FieldError{}) {
		delete(s.errors, key)
		return
	}
	s.errors[key] = fe
}

// Errors returns a copy of the field errors.
func (s *Session) Errors() map[string]FieldError {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]FieldError, len(s.errors))
	for k, v := range s.errors {
		out[k] = v
	}
	return out
}

// Submit swaps the current quote with the connected wallet and blocks until
// the swap is terminal. Without a quote, tokens or wallet it returns
// swap.ErrMissingPrerequisite and nothing changes.
func (s *Session) Submit(ctx context.Context) (*swap.Outcome, error) {
	q := s.Quote()

	s.mu.Lock()
	req := swap.Request{Quote: q, From: s.fromToken, To: s.toToken, Wallet: s.wallet}
	s.mu.Unlock()

	out, err := s.executor.Submit(ctx, req)
	if errors.Is(err, swap.ErrMissingPrerequisite) {
		s.logger.Debug("Submit ignored", zap.Error(err))
		return nil, err
	}
	if out != nil && out.Status == swap.StatusSuccess {
		s.refreshAccounts(ctx)
	}
	return out, err
}

// Reset clears the quote, errors and swap outcome and returns to the
// initial screen. With resetValues the form goes back to its initial
// tokens and prefilled amount; otherwise only ToValue is cleared and the
// typed amount is quoted again. Balances are always refreshed.
func (s *Session) Reset(ctx context.Context, resetValues bool) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	var (
		form     Form
		from, to *token.Descriptor
	)
	if resetValues {
		var err error
		if form, from, to, err = s.initialForm(ctx); err != nil {
			return err
		}
	}

	s.executor.Reset()
	s.scheduler.Invalidate()

	s.mu.Lock()
	if resetValues {
		s.form = form
		s.fromToken = from
		s.toToken = to
	} else {
		s.form.ToValue = ""
	}
	s.errors = make(map[string]FieldError)
	s.screen = ScreenInitial
	params := s.paramsLocked()
	s.mu.Unlock()

	s.logger.Debug("Session reset", zap.Bool("reset_values", resetValues))
	s.notify()

	err := s.scheduler.Observe(params)
	s.refreshAccounts(ctx)
	return err
}

// Refresh re-fetches the quote immediately.
func (s *Session) Refresh() {
	s.scheduler.Refresh()
}

// Close stops quoting. A swap in flight is left to finish.
func (s *Session) Close() {
	s.scheduler.Close()
}

// Form returns the current form.
func (s *Session) Form() Form {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.form
}

// Screen returns the current screen.
func (s *Session) Screen() Screen {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.screen
}

// Quote returns the current quote if it answers the form as it is now.
func (s *Session) Quote() *quote.Quote {
	q := s.scheduler.Current()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.matchesLocked(q) {
		return nil
	}
	return q
}

// Loading reports whether a quote request is in flight.
func (s *Session) Loading() bool { return s.scheduler.Loading() }

// QuoteError returns the error of the last failed quote refresh, if any.
func (s *Session) QuoteError() error { return s.scheduler.LastError() }

// LastRefresh returns when the current quote was fetched.
func (s *Session) LastRefresh() time.Time { return s.scheduler.LastRefresh() }

// SwapStatus returns the state of the current or last swap.
func (s *Session) SwapStatus() swap.Status { return s.executor.Status() }

// LastOutcome returns the outcome of the current or last swap, nil after reset.
func (s *Session) LastOutcome() *swap.Outcome { return s.executor.Outcome() }

// FromToken returns the resolved input token.
func (s *Session) FromToken() *token.Descriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fromToken
}

// ToToken returns the resolved output token.
func (s *Session) ToToken() *token.Descriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.toToken
}

func (s *Session) onQuoteUpdate() {
	q := s.scheduler.Current()
	s.mu.Lock()
	s.recomputeLocked(q)
	s.mu.Unlock()
	s.notify()
}

func (s *Session) onSwapChange(o *swap.Outcome) {
	if o == nil {
		return
	}

	var screen Screen
	switch {
	case o.Status.Active():
		screen = ScreenSwapping
	case o.Status == swap.StatusSuccess:
		screen = ScreenSwapSuccess
	default:
		screen = ScreenSwapError
	}

	s.mu.Lock()
	s.screen = screen
	s.mu.Unlock()
	s.notify()
}

// recomputeLocked derives ToValue from q. Anything that does not answer
// the current form clears it.
func (s *Session) recomputeLocked(q *quote.Quote) {
	if s.form.FromValue == "" || s.toToken == nil || !s.matchesLocked(q) {
		s.form.ToValue = ""
		return
	}
	s.form.ToValue = amount.ToDecimalString(q.OutAmount, s.toToken.Decimals)
}

func (s *Session) matchesLocked(q *quote.Quote) bool {
	if q == nil || s.fromToken == nil {
		return false
	}
	if q.Request.InputMint != s.form.FromMint || q.Request.OutputMint != s.form.ToMint {
		return false
	}
	units, err := amount.ToBaseUnits(s.form.FromValue, s.fromToken.Decimals)
	if err != nil {
		return false
	}
	return units.Cmp(q.Request.Amount) == 0
}

func (s *Session) paramsLocked() quote.Params {
	p := quote.Params{
		InputMint:  s.form.FromMint,
		OutputMint: s.form.ToMint,
	}
	if s.fromToken != nil {
		p.Amount = s.form.FromValue
		p.Decimals = s.fromToken.Decimals
	}
	if s.wallet != nil {
		p.Taker = s.wallet.Address()
	}
	return p
}

func (s *Session) refreshAccounts(ctx context.Context) {
	if s.cfg.Accounts == nil {
		return
	}
	if err := s.cfg.Accounts.Refresh(ctx); err != nil {
		s.logger.Warn("Failed to refresh accounts", zap.Error(err))
	}
}

// notify delivers the latest form and screen if they changed since the
// last delivery.
func (s *Session) notify() {
	if s.cfg.Observer == nil {
		return
	}

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	form, screen := s.form, s.screen
	s.mu.Unlock()

	if !s.notified || form != s.lastForm {
		s.lastForm = form
		s.cfg.Observer.OnFormUpdate(form)
	}
	if !s.notified || screen != s.lastScreen {
		s.lastScreen = screen
		s.cfg.Observer.OnScreenUpdate(screen)
	}
	s.notified = true
}
