package token

import (
	"context"
	"fmt"
)

const (
	WrappedSOLMint = "So11111111111111111111111111111111111111112"
	USDCMint       = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	USDTMint       = "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"
	BonkMint       = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"
	JupMint        = "JUPyiwrYJFskUPiHa7hkeR8VUtAeFoSYbKedZNsDvCN"
)

var knownTokens = map[string]Descriptor{
	WrappedSOLMint: {Mint: WrappedSOLMint, Decimals: 9, Symbol: "SOL", Name: "Wrapped SOL"},
	USDCMint:       {Mint: USDCMint, Decimals: 6, Symbol: "USDC", Name: "USD Coin"},
	USDTMint:       {Mint: USDTMint, Decimals: 6, Symbol: "USDT", Name: "USDT"},
	BonkMint:       {Mint: BonkMint, Decimals: 5, Symbol: "BONK", Name: "Bonk"},
	JupMint:        {Mint: JupMint, Decimals: 6, Symbol: "JUP", Name: "Jupiter"},
}

// Static is a fixed in-memory Lookup.
type Static map[string]Descriptor

// Lookup implements Lookup.
func (s Static) Lookup(_ context.Context, mint string) (*Descriptor, error) {
	d, ok := s[mint]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, mint)
	}
	return &d, nil
}
