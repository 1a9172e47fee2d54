// internal/balance/cache.go
package balance

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	tokenAmountOffset  = 64
	tokenAccountMinLen = tokenAmountOffset + 8
)

// Source reads balances and raw accounts from the chain.
type Source interface {
	GetBalance(ctx context.Context, pubkey solana.PublicKey) (uint64, error)
	GetAccountInfo(ctx context.Context, pubkey solana.PublicKey) (*rpc.GetAccountInfoResult, error)
}

// Cache holds the SOL balance of one owner and the balances of the token
// mints it tracks. It satisfies session.AccountRefresher.
type Cache struct {
	src    Source
	owner  solana.PublicKey
	logger *zap.Logger

	mu        sync.RWMutex
	mints     []solana.PublicKey
	lamports  uint64
	tokens    map[solana.PublicKey]*big.Int
	updatedAt time.Time
}

// NewCache creates an empty cache for owner.
func NewCache(src Source, owner solana.PublicKey, logger *zap.Logger) *Cache {
	return &Cache{
		src:    src,
		owner:  owner,
		logger: logger.Named("balance-cache"),
		tokens: make(map[solana.PublicKey]*big.Int),
	}
}

// Track adds a token mint whose balance is loaded on Refresh. The native
// mint is covered by the SOL balance and ignored.
func (c *Cache) Track(mint solana.PublicKey) {
	if mint.Equals(solana.SolMint) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.mints {
		if m.Equals(mint) {
			return
		}
	}
	c.mints = append(c.mints, mint)
}

// Refresh reloads every balance. Nothing is replaced unless all reads
// succeed.
func (c *Cache) Refresh(ctx context.Context) error {
	c.mu.RLock()
	mints := append([]solana.PublicKey(nil), c.mints...)
	c.mu.RUnlock()

	var lamports uint64
	tokens := make([]*big.Int, len(mints))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := c.src.GetBalance(gctx, c.owner)
		if err != nil {
			return fmt.Errorf("get SOL balance: %w", err)
		}
		lamports = v
		return nil
	})
	for i, mint := range mints {
		g.Go(func() error {
			v, err := c.tokenBalance(gctx, mint)
			if err != nil {
				return fmt.Errorf("get %s balance: %w", mint, err)
			}
			tokens[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	c.mu.Lock()
	c.lamports = lamports
	for i, mint := range mints {
		c.tokens[mint] = tokens[i]
	}
	c.updatedAt = time.Now()
	c.mu.Unlock()

	c.logger.Debug("Balances refreshed",
		zap.String("owner", c.owner.String()),
		zap.Uint64("lamports", lamports),
		zap.Int("tokens", len(mints)))
	return nil
}

// tokenBalance reads the amount of the owner's associated token account.
// A missing account is a zero balance.
func (c *Cache) tokenBalance(ctx context.Context, mint solana.PublicKey) (*big.Int, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(c.owner, mint)
	if err != nil {
		return nil, err
	}

	acc, err := c.src.GetAccountInfo(ctx, ata)
	if errors.Is(err, rpc.ErrNotFound) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, err
	}
	if acc == nil || acc.Value == nil {
		return new(big.Int), nil
	}

	data := acc.Value.Data.GetBinary()
	if len(data) < tokenAccountMinLen {
		return nil, fmt.Errorf("invalid token account data length: %d", len(data))
	}
	v, err := bin.NewBinDecoder(data[tokenAmountOffset:tokenAccountMinLen]).ReadUint64(bin.LE)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetUint64(v), nil
}

// Lamports returns the last loaded SOL balance.
func (c *Cache) Lamports() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lamports
}

// Token returns the last loaded balance of mint in base units, or false if
// it was never loaded. The native mint reports the SOL balance.
func (c *Cache) Token(mint solana.PublicKey) (*big.Int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if mint.Equals(solana.SolMint) {
		if c.updatedAt.IsZero() {
			return nil, false
		}
		return new(big.Int).SetUint64(c.lamports), true
	}
	v, ok := c.tokens[mint]
	if !ok {
		return nil, false
	}
	return new(big.Int).Set(v), true
}

// UpdatedAt is the time of the last successful refresh.
func (c *Cache) UpdatedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.updatedAt
}

// Owner is the account whose balances are cached.
func (c *Cache) Owner() solana.PublicKey { return c.owner }
