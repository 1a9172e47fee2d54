package session

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/ultra-swap/internal/amount"
	"github.com/rovshanmuradov/ultra-swap/internal/quote"
	"github.com/rovshanmuradov/ultra-swap/internal/swap"
	"github.com/rovshanmuradov/ultra-swap/internal/token"
	"github.com/rovshanmuradov/ultra-swap/internal/ultra"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var tokens = token.Static{
	token.USDCMint:       {Mint: token.USDCMint, Decimals: 6, Symbol: "USDC"},
	token.WrappedSOLMint: {Mint: token.WrappedSOLMint, Decimals: 9, Symbol: "SOL"},
	token.BonkMint:       {Mint: token.BonkMint, Decimals: 5, Symbol: "Bonk"},
}

// fakeQuotes answers with outAmount = 1000 * amount.
type fakeQuotes struct {
	mu    sync.Mutex
	calls []ultra.OrderRequest
	err   error
}

func (f *fakeQuotes) GetOrder(_ context.Context, req ultra.OrderRequest) (*ultra.OrderResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	err := f.err
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	out := new(big.Int).Mul(req.Amount, big.NewInt(1000))
	tx := "dHg="
	return &ultra.OrderResponse{
		InputMint:   req.InputMint,
		InAmount:    req.Amount.String(),
		OutputMint:  req.OutputMint,
		OutAmount:   out.String(),
		RequestID:   "req-" + req.Amount.String(),
		SwapType:    ultra.SwapTypeUltra,
		Transaction: &tx,
	}, nil
}

func (f *fakeQuotes) last() ultra.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func (f *fakeQuotes) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeSubmitter struct {
	resp *ultra.ExecuteResponse
	err  error
}

func (s *fakeSubmitter) Execute(_ context.Context, _, _ string) (*ultra.ExecuteResponse, error) {
	return s.resp, s.err
}

type fakeWallet struct{ address string }

func (w fakeWallet) Address() string { return w.address }

func (w fakeWallet) SignTransaction(_ context.Context, tx string) (string, error) {
	return "signed:" + tx, nil
}

type fakeAccounts struct{ calls atomic.Int32 }

func (a *fakeAccounts) Refresh(context.Context) error {
	a.calls.Add(1)
	return nil
}

type observer struct {
	mu      sync.Mutex
	forms   []Form
	screens []Screen
}

func (o *observer) OnFormUpdate(f Form) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.forms = append(o.forms, f)
}

func (o *observer) OnScreenUpdate(s Screen) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.screens = append(o.screens, s)
}

func (o *observer) lastForm() Form {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.forms[len(o.forms)-1]
}

func (o *observer) allScreens() []Screen {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Screen(nil), o.screens...)
}

type fixture struct {
	s        *Session
	quotes   *fakeQuotes
	sub      *fakeSubmitter
	accounts *fakeAccounts
	obs      *observer
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	f := &fixture{
		quotes:   &fakeQuotes{},
		sub:      &fakeSubmitter{resp: &ultra.ExecuteResponse{Status: ultra.StatusSuccess, Signature: "sig", InputAmountResult: "1000000", OutputAmountResult: "1000000000"}},
		accounts: &fakeAccounts{},
		obs:      &observer{},
	}
	cfg := &Config{
		Quotes:    f.quotes,
		Submitter: f.sub,
		Tokens:    tokens,
		Accounts:  f.accounts,
		Observer:  f.obs,
		Debounce:  5 * time.Millisecond,
		Logger:    zaptest.NewLogger(t),
	}
	if mutate != nil {
		mutate(cfg)
	}
	s, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	f.s = s
	return f
}

func (f *fixture) waitToValue(t *testing.T, want string) {
	t.Helper()
	require.Eventually(t, func() bool { return f.s.Form().ToValue == want }, time.Second, 2*time.Millisecond)
}

func TestNewDefaultsToUSDCToSOL(t *testing.T) {
	f := newFixture(t, nil)

	form := f.s.Form()
	assert.Equal(t, token.USDCMint, form.FromMint)
	assert.Equal(t, token.WrappedSOLMint, form.ToMint)
	assert.Empty(t, form.FromValue)
	assert.Empty(t, form.ToValue)
	assert.Equal(t, ScreenInitial, f.s.Screen())
	assert.Equal(t, "USDC", f.s.FromToken().Symbol)
	assert.Equal(t, "SOL", f.s.ToToken().Symbol)

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, f.quotes.count())
}

func TestNewPrefillsInitialAmount(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.InitialAmount = "8888888800000" })

	assert.Equal(t, "8888888.8", f.s.Form().FromValue)
	f.waitToValue(t, "8888888.8")

	req := f.quotes.last()
	assert.Equal(t, "8888888800000", req.Amount.String())
	assert.Equal(t, token.USDCMint, req.InputMint)
	assert.Equal(t, token.WrappedSOLMint, req.OutputMint)
}

func TestNewRejectsUnknownToken(t *testing.T) {
	_, err := New(context.Background(), &Config{
		Quotes:           &fakeQuotes{},
		Submitter:        &fakeSubmitter{},
		Tokens:           tokens,
		InitialInputMint: "4k3Dyjzvzp8eMZWUXbBCjEvwSkkk59S5iCNLY3QrkX6R",
		Logger:           zaptest.NewLogger(t),
	})
	require.ErrorIs(t, err, token.ErrNotFound)
}

func TestNewRejectsBadInitialAmount(t *testing.T) {
	_, err := New(context.Background(), &Config{
		Quotes:        &fakeQuotes{},
		Submitter:     &fakeSubmitter{},
		Tokens:        tokens,
		InitialAmount: "12.5",
		Logger:        zaptest.NewLogger(t),
	})
	require.ErrorIs(t, err, amount.ErrParse)
}

func TestSetFromValueDerivesToValue(t *testing.T) {
	f := newFixture(t, nil)

	require.NoError(t, f.s.SetFromValue("1.5"))
	f.waitToValue(t, "1.5")

	q := f.s.Quote()
	require.NotNil(t, q)
	assert.Equal(t, "1500000", q.Request.Amount.String())
	assert.Equal(t, f.s.Form(), f.obs.lastForm())
}

func TestSetFromValueRejectsMalformed(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.s.SetFromValue("2"))
	f.waitToValue(t, "2")

	err := f.s.SetFromValue("2..0")
	var pe *amount.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "2", f.s.Form().FromValue)
	assert.Equal(t, "2", f.s.Form().ToValue)
}

func TestClearingFromValueClearsToValue(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.s.SetFromValue("3"))
	f.waitToValue(t, "3")

	require.NoError(t, f.s.SetFromValue(""))
	assert.Empty(t, f.s.Form().ToValue)
	assert.Nil(t, f.s.Quote())
	assert.False(t, f.s.Loading())
}

func TestSetToMintRequotes(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.s.SetFromValue("1"))
	f.waitToValue(t, "1")

	require.NoError(t, f.s.SetToMint(context.Background(), token.BonkMint))
	assert.Empty(t, f.s.Form().ToValue)

	f.waitToValue(t, "10000")
	assert.Equal(t, token.BonkMint, f.quotes.last().OutputMint)
	assert.Equal(t, "Bonk", f.s.ToToken().Symbol)
}

func TestSetMintUnknownLeavesFormUntouched(t *testing.T) {
	f := newFixture(t, nil)
	before := f.s.Form()

	err := f.s.SetFromMint(context.Background(), "4k3Dyjzvzp8eMZWUXbBCjEvwSkkk59S5iCNLY3QrkX6R")
	require.ErrorIs(t, err, token.ErrNotFound)
	assert.Equal(t, before, f.s.Form())
}

func TestSetWalletPassesTaker(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.s.SetFromValue("1"))
	f.waitToValue(t, "1")
	assert.Empty(t, f.quotes.last().Taker)

	require.NoError(t, f.s.SetWallet(fakeWallet{address: "taker-address"}))
	require.Eventually(t, func() bool { return f.quotes.last().Taker == "taker-address" }, time.Second, 2*time.Millisecond)
}

func TestSetWalletAfterClose(t *testing.T) {
	f := newFixture(t, nil)
	f.s.Close()

	err := f.s.SetWallet(fakeWallet{address: "taker-address"})
	assert.ErrorIs(t, err, quote.ErrClosed)
}

func TestQuoteFailureSurfacesNoRoute(t *testing.T) {
	f := newFixture(t, nil)
	f.quotes.mu.Lock()
	f.quotes.err = errors.New("boom")
	f.quotes.mu.Unlock()

	require.NoError(t, f.s.SetFromValue("1"))
	require.Eventually(t, func() bool { return f.s.QuoteError() != nil }, time.Second, 2*time.Millisecond)

	assert.ErrorIs(t, f.s.QuoteError(), quote.ErrNoRouteFound)
	assert.Empty(t, f.s.Form().ToValue)
}

func TestSubmitWithoutWalletIsNoop(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.s.SetFromValue("1"))
	f.waitToValue(t, "1")

	out, err := f.s.Submit(context.Background())
	require.ErrorIs(t, err, swap.ErrMissingPrerequisite)
	assert.Nil(t, out)
	assert.Equal(t, swap.StatusIdle, f.s.SwapStatus())
	assert.Equal(t, ScreenInitial, f.s.Screen())
	assert.Zero(t, f.accounts.calls.Load())
}

func TestSubmitSuccess(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Wallet = fakeWallet{address: "me"} })
	require.NoError(t, f.s.SetFromValue("1"))
	f.waitToValue(t, "1")

	out, err := f.s.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, swap.StatusSuccess, out.Status)
	assert.Equal(t, "sig", out.Signature)
	assert.Equal(t, ScreenSwapSuccess, f.s.Screen())
	assert.Equal(t, int32(1), f.accounts.calls.Load())

	assert.Equal(t, []Screen{ScreenInitial, ScreenSwapping, ScreenSwapSuccess}, f.obs.allScreens())
}

func TestSubmitFailureShowsErrorScreen(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Wallet = fakeWallet{address: "me"} })
	f.sub.resp = &ultra.ExecuteResponse{Status: ultra.StatusFailed, Code: -1, Error: "slippage"}
	require.NoError(t, f.s.SetFromValue("1"))
	f.waitToValue(t, "1")

	out, err := f.s.Submit(context.Background())
	require.ErrorIs(t, err, swap.ErrSubmissionFailed)
	assert.Equal(t, swap.StatusFail, out.Status)
	assert.Equal(t, ScreenSwapError, f.s.Screen())
	assert.Zero(t, f.accounts.calls.Load())
}

func TestResetKeepsValues(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Wallet = fakeWallet{address: "me"} })
	require.NoError(t, f.s.SetFromValue("1"))
	f.waitToValue(t, "1")
	_, err := f.s.Submit(context.Background())
	require.NoError(t, err)
	f.s.SetError("fromValue", FieldError{Title: "Insufficient balance", Message: "top up"})

	require.NoError(t, f.s.Reset(context.Background(), false))

	form := f.s.Form()
	assert.Equal(t, "1", form.FromValue)
	assert.Empty(t, form.ToValue)
	assert.Nil(t, f.s.LastOutcome())
	assert.Equal(t, swap.StatusIdle, f.s.SwapStatus())
	assert.Empty(t, f.s.Errors())
	assert.Equal(t, ScreenInitial, f.s.Screen())
	assert.Equal(t, int32(2), f.accounts.calls.Load())

	// The preserved amount is quoted afresh.
	f.waitToValue(t, "1")
}

func TestResetRestoresInitialForm(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.InitialAmount = "2000000" })
	f.waitToValue(t, "2")

	require.NoError(t, f.s.SetToMint(context.Background(), token.BonkMint))
	require.NoError(t, f.s.SetFromValue("7"))

	require.NoError(t, f.s.Reset(context.Background(), true))

	form := f.s.Form()
	assert.Equal(t, token.USDCMint, form.FromMint)
	assert.Equal(t, token.WrappedSOLMint, form.ToMint)
	assert.Equal(t, "2", form.FromValue)
	assert.Equal(t, "SOL", f.s.ToToken().Symbol)
	f.waitToValue(t, "2")
	assert.Equal(t, int32(1), f.accounts.calls.Load())
}

func TestErrorsCopy(t *testing.T) {
	f := newFixture(t, nil)
	f.s.SetError("toValue", FieldError{Title: "t", Message: "m"})

	errs := f.s.Errors()
	errs["other"] = FieldError{Title: "x"}
	assert.Len(t, f.s.Errors(), 1)

	f.s.SetError("toValue", FieldError{})
	assert.Empty(t, f.s.Errors())
}

func TestObserverSeesDedupedScreens(t *testing.T) {
	f := newFixture(t, nil)
	f.s.SetScreen(ScreenConfirmation)
	f.s.SetScreen(ScreenConfirmation)
	f.s.SetScreen(ScreenInitial)

	assert.Equal(t, []Screen{ScreenInitial, ScreenConfirmation, ScreenInitial}, f.obs.allScreens())
}
