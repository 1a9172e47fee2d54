// internal/ultra/client.go
package ultra

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rovshanmuradov/ultra-swap/internal/metrics"
)

const (
	DefaultBaseURL     = "https://ultra-api.jup.ag"
	DefaultHTTPTimeout = 10 * time.Second

	orderPath   = "/order"
	executePath = "/execute"

	maxErrorBody = 4 << 10
)

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status code %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// ClientConfig configures a Client. Zero values fall back to defaults.
type ClientConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	RateLimit  float64 // requests per second, 0 disables pacing
	HTTPClient *http.Client
	Metrics    *metrics.Collector
}

// Client talks to the Ultra order/execute API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
	metrics    *metrics.Collector
}

// NewClient creates a new API client.
func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultHTTPTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	return &Client{
		baseURL:    base,
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		limiter:    limiter,
		logger:     logger.Named("ultra-client"),
		metrics:    cfg.Metrics,
	}
}

// GetOrder requests a quote. Empty optional fields are left out of the query.
func (c *Client) GetOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error) {
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return nil, errors.New("order amount must be positive")
	}

	q := url.Values{}
	q.Set("inputMint", req.InputMint)
	q.Set("outputMint", req.OutputMint)
	q.Set("amount", req.Amount.String())
	if req.Taker != "" {
		q.Set("taker", req.Taker)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+orderPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	var out OrderResponse
	if err := c.do(httpReq, "order", &out); err != nil {
		return nil, err
	}

	c.logger.Debug("order received",
		zap.String("input_mint", out.InputMint),
		zap.String("output_mint", out.OutputMint),
		zap.String("in_amount", out.InAmount),
		zap.String("out_amount", out.OutAmount),
		zap.String("request_id", out.RequestID),
		zap.Uint64("context_slot", out.ContextSlot))

	return &out, nil
}

// Execute submits a signed transaction for the given order.
func (c *Client) Execute(ctx context.Context, signedTx, requestID string) (*ExecuteResponse, error) {
	body, err := json.Marshal(ExecuteRequest{SignedTransaction: signedTx, RequestID: requestID})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+executePath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var out ExecuteResponse
	if err := c.do(httpReq, "execute", &out); err != nil {
		return nil, err
	}

	c.logger.Info("Swap executed",
		zap.String("request_id", requestID),
		zap.String("status", out.Status),
		zap.String("signature", out.Signature),
		zap.Int("code", out.Code))

	return &out, nil
}

// do paces, sends and decodes one API call.
func (c *Client) do(req *http.Request, endpoint string, dst interface{}) error {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordAPICall(endpoint, "error")
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	c.metrics.RecordAPICall(endpoint, strconv.Itoa(resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
