// internal/ultra/types.go
package ultra

import (
	"encoding/json"
	"math/big"
)

// SwapTypeUltra is the only swap type the order endpoint returns.
const SwapTypeUltra = "ultra"

// Execute statuses.
const (
	StatusSuccess = "Success"
	StatusFailed  = "Failed"
)

// OrderRequest describes a quote request. Amount is in input-token base units.
type OrderRequest struct {
	InputMint  string
	OutputMint string
	Amount     *big.Int
	Taker      string // optional; without it the order carries no transaction
}

// OrderResponse is the quote object returned by GET /order.
type OrderResponse struct {
	InputMint                 string          `json:"inputMint"`
	InAmount                  string          `json:"inAmount"`
	OutputMint                string          `json:"outputMint"`
	OutAmount                 string          `json:"outAmount"`
	OtherAmountThreshold      string          `json:"otherAmountThreshold"`
	PriceImpactPct            string          `json:"priceImpactPct"`
	RoutePlan                 []RoutePlanStep `json:"routePlan"`
	ContextSlot               uint64          `json:"contextSlot"`
	Transaction               *string         `json:"transaction"`
	SwapType                  string          `json:"swapType"`
	Gasless                   bool            `json:"gasless"`
	RequestID                 string          `json:"requestId"`
	PrioritizationFeeLamports *uint64         `json:"prioritizationFeeLamports,omitempty"`
	FeeBps                    int             `json:"feeBps"`

	// Present when the API could not build a transaction for the taker.
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// RoutePlanStep is one leg of a route together with its share of the input.
type RoutePlanStep struct {
	SwapInfo SwapInfo `json:"swapInfo"`
	Percent  int      `json:"percent"`
}

// SwapInfo describes the AMM hop of a route step.
type SwapInfo struct {
	InputMint  string      `json:"inputMint"`
	InAmount   string      `json:"inAmount"`
	OutputMint string      `json:"outputMint"`
	OutAmount  string      `json:"outAmount"`
	AmmKey     string      `json:"ammKey"`
	Label      string      `json:"label"`
	FeeAmount  json.Number `json:"feeAmount"`
	FeeMint    string      `json:"feeMint"`
}

// ExecuteRequest is the body of POST /execute.
type ExecuteRequest struct {
	SignedTransaction string `json:"signedTransaction"`
	RequestID         string `json:"requestId"`
}

// ExecuteResponse is the result of POST /execute. Success carries the realized
// amounts, Failed carries Message and Error.
type ExecuteResponse struct {
	Signature          string      `json:"signature"`
	Code               int         `json:"code"`
	Status             string      `json:"status"`
	Slot               json.Number `json:"slot"`
	InputAmountResult  string      `json:"inputAmountResult,omitempty"`
	OutputAmountResult string      `json:"outputAmountResult,omitempty"`
	Message            string      `json:"message,omitempty"`
	Error              string      `json:"error,omitempty"`
}

// Succeeded reports whether the swap landed.
func (r *ExecuteResponse) Succeeded() bool {
	return r != nil && r.Status == StatusSuccess
}
