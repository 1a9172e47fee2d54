package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"

	"github.com/rovshanmuradov/ultra-swap/internal/token"
)

var tokensCmd = &cobra.Command{
	Use:   "tokens <mint>...",
	Short: "Resolve symbol and decimals for token mints",
	Long: `Resolve token mints to their decimals. Well-known tokens are answered
locally, anything else is read from the mint account on chain.

Examples:
  ultraswap tokens So11111111111111111111111111111111111111112
  ultraswap tokens EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTokens,
}

func init() {
	rootCmd.AddCommand(tokensCmd)
}

func parseMint(mint string) (solana.PublicKey, error) {
	return solana.PublicKeyFromBase58(mint)
}

func runTokens(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		sp.Suffix = " Resolving tokens..."
		sp.Start()
	}

	type row struct {
		desc *token.Descriptor
		err  error
	}
	rows := make([]row, len(args))
	for i, mint := range args {
		rows[i].desc, rows[i].err = a.tokens.Lookup(cmd.Context(), mint)
	}
	if !jsonOutput {
		sp.Stop()
	}

	if jsonOutput {
		output := make([]map[string]interface{}, 0, len(rows))
		for i, r := range rows {
			entry := map[string]interface{}{"mint": args[i]}
			if r.err != nil {
				entry["error"] = r.err.Error()
			} else {
				entry["decimals"] = r.desc.Decimals
				entry["symbol"] = r.desc.Symbol
				entry["name"] = r.desc.Name
			}
			output = append(output, entry)
		}
		data, err := json.MarshalIndent(output, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Println()
	failed := 0
	for i, r := range rows {
		if r.err != nil {
			failed++
			fmt.Printf("  %-46s %s\n", args[i], color.RedString(r.err.Error()))
			continue
		}
		fmt.Printf("  %-46s %-8s %2d decimals  %s\n", r.desc.Mint, color.YellowString(r.desc.Label()), r.desc.Decimals, r.desc.Name)
	}
	fmt.Println()
	if failed > 0 {
		return fmt.Errorf("%d of %d mints could not be resolved", failed, len(rows))
	}
	return nil
}
