// internal/token/registry.go
package token

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

const (
	defaultTTL      = 5 * time.Minute
	defaultMaxTries = 3

	// SPL mint layout: mint authority option (36) + supply (8) precede decimals.
	mintDecimalsOffset = 44
	mintMinSize        = 45
)

var (
	ErrInvalidMint = errors.New("invalid mint address")
	ErrNotFound    = errors.New("token not found")
)

// Descriptor is the resolved metadata of a token. Immutable once returned.
type Descriptor struct {
	Mint     string
	Decimals uint8
	Symbol   string
	Name     string
}

// Label returns the symbol if known, otherwise a shortened mint.
func (d *Descriptor) Label() string {
	if d == nil {
		return ""
	}
	if d.Symbol != "" {
		return d.Symbol
	}
	if len(d.Mint) > 8 {
		return d.Mint[:4] + ".." + d.Mint[len(d.Mint)-4:]
	}
	return d.Mint
}

// Lookup resolves token metadata by mint.
type Lookup interface {
	Lookup(ctx context.Context, mint string) (*Descriptor, error)
}

// AccountGetter reads raw accounts from the chain.
type AccountGetter interface {
	GetAccountInfo(ctx context.Context, pubkey solana.PublicKey) (*rpc.GetAccountInfoResult, error)
}

type cacheEntry struct {
	desc     *Descriptor
	storedAt time.Time
}

// Registry resolves descriptors from the built-in list and from mint
// accounts on chain, caching results for a TTL.
type Registry struct {
	cache    sync.Map
	accounts AccountGetter
	ttl      time.Duration
	maxTries uint
	logger   *zap.Logger
}

// NewRegistry creates a registry. accounts may be nil, in which case only
// known tokens resolve.
func NewRegistry(accounts AccountGetter, logger *zap.Logger) *Registry {
	return &Registry{
		accounts: accounts,
		ttl:      defaultTTL,
		maxTries: defaultMaxTries,
		logger:   logger.Named("token-registry"),
	}
}

// Lookup implements Lookup.
func (r *Registry) Lookup(ctx context.Context, mint string) (*Descriptor, error) {
	pk, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidMint, mint, err)
	}

	if desc, ok := r.getFromCache(mint); ok {
		return desc, nil
	}

	if known, ok := knownTokens[mint]; ok {
		desc := known
		r.store(&desc)
		return &desc, nil
	}

	if r.accounts == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, mint)
	}

	desc, err := r.getFromChain(ctx, pk)
	if err != nil {
		r.logger.Debug("failed to resolve token",
			zap.String("mint", mint),
			zap.Error(err))
		return nil, err
	}
	r.store(desc)

	r.logger.Debug("token metadata retrieved",
		zap.String("mint", mint),
		zap.Uint8("decimals", desc.Decimals))
	return desc, nil
}

func (r *Registry) getFromCache(mint string) (*Descriptor, bool) {
	value, ok := r.cache.Load(mint)
	if !ok {
		return nil, false
	}
	entry := value.(cacheEntry)
	if time.Since(entry.storedAt) < r.ttl {
		return entry.desc, true
	}
	r.cache.Delete(mint)
	return nil, false
}

func (r *Registry) store(desc *Descriptor) {
	r.cache.Store(desc.Mint, cacheEntry{desc: desc, storedAt: time.Now()})
}

// getFromChain reads the decimals byte of the mint account. Missing or
// malformed accounts are not retried.
func (r *Registry) getFromChain(ctx context.Context, mint solana.PublicKey) (*Descriptor, error) {
	operation := func() (*Descriptor, error) {
		acc, err := r.accounts.GetAccountInfo(ctx, mint)
		if err != nil {
			if errors.Is(err, rpc.ErrNotFound) {
				return nil, backoff.Permanent(fmt.Errorf("%w: %s", ErrNotFound, mint))
			}
			return nil, fmt.Errorf("failed to get mint account: %w", err)
		}
		if acc == nil || acc.Value == nil {
			return nil, backoff.Permanent(fmt.Errorf("%w: %s", ErrNotFound, mint))
		}

		data := acc.Value.Data.GetBinary()
		if len(data) < mintMinSize {
			return nil, backoff.Permanent(fmt.Errorf("invalid mint account data length: %d", len(data)))
		}
		return &Descriptor{Mint: mint.String(), Decimals: data[mintDecimalsOffset]}, nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond

	notify := func(err error, d time.Duration) {
		r.logger.Debug("retrying mint lookup", zap.String("mint", mint.String()), zap.Error(err), zap.Duration("backoff", d))
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(r.maxTries),
		backoff.WithNotify(notify))
}
