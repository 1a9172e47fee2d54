// internal/quote/quote.go
package quote

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rovshanmuradov/ultra-swap/internal/amount"
	"github.com/rovshanmuradov/ultra-swap/internal/ultra"
)

var (
	ErrNoRouteFound = errors.New("no route found")
	ErrClosed       = errors.New("quote scheduler closed")
)

// NoRouteError is the single failure kind surfaced for a quote fetch.
// Cause keeps the transport or decoding error for diagnostics.
type NoRouteError struct {
	Cause error
}

func (e *NoRouteError) Error() string {
	if e.Cause == nil {
		return ErrNoRouteFound.Error()
	}
	return fmt.Sprintf("%s: %v", ErrNoRouteFound, e.Cause)
}

func (e *NoRouteError) Unwrap() error { return e.Cause }

func (e *NoRouteError) Is(target error) bool { return target == ErrNoRouteFound }

// Params are the form inputs a quote is requested for. Amount is the
// human-readable value in the input token, Decimals its precision.
type Params struct {
	InputMint  string
	OutputMint string
	Amount     string
	Decimals   uint8
	Taker      string
}

// Route is one normalized leg of the route plan.
type Route struct {
	Label      string
	AmmKey     string
	InputMint  string
	OutputMint string
	InAmount   *big.Int
	OutAmount  *big.Int
	FeeAmount  *big.Int
	FeeMint    string
	Percent    int
}

// Quote is an accepted order with its amounts parsed to base units.
type Quote struct {
	Raw     *ultra.OrderResponse
	Request ultra.OrderRequest
	Params  Params

	InAmount                  *big.Int
	OutAmount                 *big.Int
	OtherAmountThreshold      *big.Int
	PriceImpactPct            decimal.Decimal
	FeeBps                    int
	PrioritizationFeeLamports uint64
	Routes                    []Route

	Transaction string
	ContextSlot uint64
	RequestID   string
	Gasless     bool
	FetchedAt   time.Time
}

// HasTransaction reports whether the quote can be signed and executed.
func (q *Quote) HasTransaction() bool {
	return q != nil && q.Transaction != ""
}

// RouteLabels returns the AMM labels of the route plan in order.
func (q *Quote) RouteLabels() []string {
	if q == nil {
		return nil
	}
	labels := make([]string, 0, len(q.Routes))
	for _, r := range q.Routes {
		labels = append(labels, r.Label)
	}
	return labels
}

// newQuote normalizes an order response. A missing or zero outAmount means
// the API found no usable route.
func newQuote(resp *ultra.OrderResponse, req ultra.OrderRequest, params Params, now time.Time) (*Quote, error) {
	if resp == nil {
		return nil, errors.New("empty order response")
	}
	if strings.TrimSpace(resp.OutAmount) == "" {
		if resp.ErrorMessage != "" {
			return nil, errors.New(resp.ErrorMessage)
		}
		return nil, errors.New("order has no output amount")
	}

	out, err := amount.ParseBaseUnits(resp.OutAmount)
	if err != nil {
		return nil, fmt.Errorf("outAmount: %w", err)
	}
	if out.Sign() == 0 {
		return nil, errors.New("order output amount is zero")
	}

	in := new(big.Int).Set(req.Amount)
	if resp.InAmount != "" {
		if in, err = amount.ParseBaseUnits(resp.InAmount); err != nil {
			return nil, fmt.Errorf("inAmount: %w", err)
		}
	}

	q := &Quote{
		Raw:                  resp,
		Request:              req,
		Params:               params,
		InAmount:             in,
		OutAmount:            out,
		OtherAmountThreshold: optionalUnits(resp.OtherAmountThreshold),
		FeeBps:               resp.FeeBps,
		ContextSlot:          resp.ContextSlot,
		RequestID:            resp.RequestID,
		Gasless:              resp.Gasless,
		FetchedAt:            now,
	}
	if impact, err := decimal.NewFromString(resp.PriceImpactPct); err == nil {
		q.PriceImpactPct = impact
	}
	if resp.PrioritizationFeeLamports != nil {
		q.PrioritizationFeeLamports = *resp.PrioritizationFeeLamports
	}
	if resp.Transaction != nil {
		q.Transaction = *resp.Transaction
	}

	for _, step := range resp.RoutePlan {
		q.Routes = append(q.Routes, Route{
			Label:      step.SwapInfo.Label,
			AmmKey:     step.SwapInfo.AmmKey,
			InputMint:  step.SwapInfo.InputMint,
			OutputMint: step.SwapInfo.OutputMint,
			InAmount:   optionalUnits(step.SwapInfo.InAmount),
			OutAmount:  optionalUnits(step.SwapInfo.OutAmount),
			FeeAmount:  optionalUnits(step.SwapInfo.FeeAmount.String()),
			FeeMint:    step.SwapInfo.FeeMint,
			Percent:    step.Percent,
		})
	}

	return q, nil
}

// optionalUnits parses informational amounts; anything unparsable reads as zero.
func optionalUnits(raw string) *big.Int {
	v, err := amount.ParseBaseUnits(raw)
	if err != nil {
		return new(big.Int)
	}
	return v
}
