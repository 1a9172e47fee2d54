package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/ultra-swap/internal/balance"
	"github.com/rovshanmuradov/ultra-swap/internal/config"
	"github.com/rovshanmuradov/ultra-swap/internal/events"
	"github.com/rovshanmuradov/ultra-swap/internal/logger"
	"github.com/rovshanmuradov/ultra-swap/internal/metrics"
	"github.com/rovshanmuradov/ultra-swap/internal/quote"
	"github.com/rovshanmuradov/ultra-swap/internal/session"
	"github.com/rovshanmuradov/ultra-swap/internal/solrpc"
	"github.com/rovshanmuradov/ultra-swap/internal/token"
	"github.com/rovshanmuradov/ultra-swap/internal/ultra"
	"github.com/rovshanmuradov/ultra-swap/internal/wallet"
)

// app holds the collaborators shared by all commands.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	metrics  *metrics.Collector
	client   *ultra.Client
	pool     *solrpc.Pool
	tokens   *token.Registry
	wallet   *wallet.Wallet
	balances *balance.Cache
	bus      *events.Bus

	metricsSrv *http.Server
}

func newApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if metricsAddr != "" {
		cfg.MetricsAddr = metricsAddr
	}

	log, err := logger.New(logger.Options{
		Debug:   cfg.DebugLogging || verbose,
		Compact: !verbose,
		File:    cfg.LogFile,
		Console: os.Stderr,
	})
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	pool, err := solrpc.NewPool(cfg.RPCList, log)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		logger:  log,
		metrics: metrics.NewCollector(),
		pool:    pool,
		tokens:  token.NewRegistry(pool, log),
		bus:     events.NewBus(log, 128),
	}
	a.client = ultra.NewClient(ultra.ClientConfig{
		BaseURL:   cfg.APIBaseURL,
		APIKey:    cfg.APIKey,
		Timeout:   cfg.HTTPTimeout,
		RateLimit: cfg.RateLimitRPS,
		Metrics:   a.metrics,
	}, log)

	if a.wallet, err = loadWallet(cfg); err != nil {
		return nil, err
	}
	if a.wallet != nil {
		a.balances = balance.NewCache(pool, a.wallet.PublicKey, log)
	}

	if cfg.MetricsAddr != "" {
		a.serveMetrics(cfg.MetricsAddr)
	}
	return a, nil
}

// loadWallet picks the configured private key, or a named entry of the
// wallet file. No wallet configured is not an error.
func loadWallet(cfg *config.Config) (*wallet.Wallet, error) {
	if cfg.PrivateKey != "" {
		w, err := wallet.NewWallet(cfg.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("load private key: %w", err)
		}
		return w, nil
	}
	if cfg.WalletFile == "" {
		return nil, nil
	}

	wallets, err := wallet.LoadWallets(cfg.WalletFile)
	if err != nil {
		return nil, err
	}
	if cfg.WalletName != "" {
		w, ok := wallets[cfg.WalletName]
		if !ok {
			return nil, fmt.Errorf("wallet %q not found in %s", cfg.WalletName, cfg.WalletFile)
		}
		return w, nil
	}
	if len(wallets) != 1 {
		names := make([]string, 0, len(wallets))
		for name := range wallets {
			names = append(names, name)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("wallet_name is required, %s holds %v", cfg.WalletFile, names)
	}
	for _, w := range wallets {
		return w, nil
	}
	return nil, nil
}

func (a *app) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	a.metricsSrv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := a.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Metrics server stopped", zap.Error(err))
		}
	}()
	a.logger.Info("Serving metrics", zap.String("addr", addr))
}

// newSession starts a session for the pair. Empty mints fall back to the
// configured initial pair. The configured initial amount is prefilled and
// a non-empty amount is typed over it.
func (a *app) newSession(ctx context.Context, from, to, amount string) (*session.Session, error) {
	if amount == "" && a.cfg.InitialAmount == "" {
		return nil, errors.New("--amount is required when initial_amount is not configured")
	}
	if from == "" {
		from = a.cfg.InitialInputMint
	}
	if to == "" {
		to = a.cfg.InitialOutputMint
	}

	cfg := &session.Config{
		Quotes:            a.client,
		Submitter:         a.client,
		Tokens:            a.tokens,
		Observer:          events.NewSessionObserver(a.bus),
		InitialInputMint:  from,
		InitialOutputMint: to,
		InitialAmount:     a.cfg.InitialAmount,
		Debounce:          a.cfg.Debounce,
		SwapTimeout:       a.cfg.SwapTimeout,
		Logger:            a.logger,
		Metrics:           a.metrics,
	}
	if a.wallet != nil {
		cfg.Wallet = a.wallet
	}
	if a.balances != nil {
		cfg.Accounts = a.balances
	}

	s, err := session.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if verbose {
		a.bus.SubscribeFunc(events.ScreenUpdated, func(_ context.Context, e events.Event) error {
			color.Cyan("  → %s", e.(events.ScreenUpdatedEvent).Screen)
			return nil
		})
	}
	if amount != "" {
		if err := s.SetFromValue(amount); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

// waitForQuote blocks until the session holds a quote or a quote error.
func waitForQuote(ctx context.Context, s *session.Session) (*quote.Quote, error) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if q := s.Quote(); q != nil {
			return q, nil
		}
		if err := s.QuoteError(); err != nil {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (a *app) trackBalances(mints ...string) {
	if a.balances == nil {
		return
	}
	for _, m := range mints {
		if pk, err := solana.PublicKeyFromBase58(m); err == nil {
			a.balances.Track(pk)
		}
	}
}

func (a *app) close() {
	if a.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = a.metricsSrv.Shutdown(ctx)
		cancel()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	_ = a.bus.Shutdown(ctx)
	cancel()
	_ = logger.Sync(a.logger)
}
