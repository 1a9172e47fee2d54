// internal/solrpc/pool.go
package solrpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

// Основные константы
const (
	retryAttempts = 2
	retryDelay    = 250 * time.Millisecond
	reqTimeout    = 10 * time.Second
)

var (
	ErrNoRPCNodes = errors.New("no RPC nodes available")
	ErrTimeout    = errors.New("request timeout")
)

// Pool распределяет запросы по RPC узлам по кругу и переключается на
// следующий узел при ошибке.
type Pool struct {
	nodes   []*solanarpc.Client
	urls    []string
	current int
	mu      sync.Mutex
	logger  *zap.Logger
}

// NewPool создает пул клиентов для списка URL.
func NewPool(urls []string, logger *zap.Logger) (*Pool, error) {
	if len(urls) == 0 {
		return nil, ErrNoRPCNodes
	}

	nodes := make([]*solanarpc.Client, len(urls))
	for i, url := range urls {
		nodes[i] = solanarpc.New(url)
	}

	return &Pool{
		nodes:  nodes,
		urls:   urls,
		logger: logger.Named("rpc-pool"),
	}, nil
}

// ExecuteWithRetry runs operation against the next node and fails over once.
// A missing account is not a node failure and is returned as is.
func (p *Pool) ExecuteWithRetry(ctx context.Context, operation func(*solanarpc.Client) error) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, reqTimeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if err := timeoutCtx.Err(); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return ErrTimeout
		}

		p.mu.Lock()
		node := p.nodes[p.current]
		url := p.urls[p.current]
		p.current = (p.current + 1) % len(p.nodes)
		p.mu.Unlock()

		err := operation(node)
		if err == nil {
			return nil
		}
		if errors.Is(err, solanarpc.ErrNotFound) {
			return err
		}
		lastErr = err

		p.logger.Debug("RPC request failed, trying next node",
			zap.String("url", url),
			zap.Error(err),
			zap.Int("attempt", attempt+1))

		// Пауза перед следующей попыткой
		if attempt < retryAttempts-1 {
			select {
			case <-timeoutCtx.Done():
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return ErrTimeout
			case <-time.After(retryDelay):
			}
		}
	}

	return fmt.Errorf("all retry attempts failed: %w", lastErr)
}

// GetAccountInfo получает информацию об аккаунте
func (p *Pool) GetAccountInfo(ctx context.Context, pubkey solana.PublicKey) (*solanarpc.GetAccountInfoResult, error) {
	var result *solanarpc.GetAccountInfoResult
	err := p.ExecuteWithRetry(ctx, func(client *solanarpc.Client) error {
		var err error
		result, err = client.GetAccountInfoWithOpts(ctx, pubkey, &solanarpc.GetAccountInfoOpts{
			Encoding:   solana.EncodingBase64,
			Commitment: solanarpc.CommitmentConfirmed,
		})
		return err
	})
	return result, err
}

// GetBalance returns the lamport balance of an account.
func (p *Pool) GetBalance(ctx context.Context, pubkey solana.PublicKey) (uint64, error) {
	var lamports uint64
	err := p.ExecuteWithRetry(ctx, func(client *solanarpc.Client) error {
		res, err := client.GetBalance(ctx, pubkey, solanarpc.CommitmentConfirmed)
		if err != nil {
			return err
		}
		lamports = res.Value
		return nil
	})
	return lamports, err
}

// URLs returns the configured endpoints in rotation order.
func (p *Pool) URLs() []string {
	out := make([]string, len(p.urls))
	copy(out, p.urls)
	return out
}
