package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/rovshanmuradov/ultra-swap/internal/amount"
	"github.com/rovshanmuradov/ultra-swap/internal/quote"
	"github.com/rovshanmuradov/ultra-swap/internal/token"
)

var (
	fromMint    string
	toMint      string
	inputAmount string
)

var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Fetch an Ultra quote for a token pair",
	Long: `Fetch a single Ultra quote and print the expected output, price impact
and route.

Examples:
  ultraswap quote --from EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v --to So11111111111111111111111111111111111111112 --amount 25`,
	Args: cobra.NoArgs,
	RunE: runQuote,
}

func init() {
	rootCmd.AddCommand(quoteCmd)
	addPairFlags(quoteCmd)
}

func addPairFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&fromMint, "from", "", "Input token mint (default initial_input_mint)")
	cmd.Flags().StringVar(&toMint, "to", "", "Output token mint (default initial_output_mint)")
	cmd.Flags().StringVar(&inputAmount, "amount", "", "Amount of the input token (default initial_amount)")
}

func runQuote(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	s, err := a.newSession(ctx, fromMint, toMint, inputAmount)
	if err != nil {
		return err
	}
	defer s.Close()

	sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		sp.Suffix = " Fetching quote..."
		sp.Start()
	}
	q, err := waitForQuote(ctx, s)
	if !jsonOutput {
		sp.Stop()
	}
	if err != nil {
		return err
	}

	if jsonOutput {
		return printQuoteJSON(q, s.FromToken(), s.ToToken())
	}
	displayQuote(q, s.FromToken(), s.ToToken())
	return nil
}

func displayQuote(q *quote.Quote, from, to *token.Descriptor) {
	fmt.Println()
	color.Green("                     ULTRA QUOTE")
	fmt.Println(strings.Repeat("─", 56))
	fmt.Printf("  From:            %s %s\n", amount.ToDecimalString(q.InAmount, from.Decimals), color.YellowString(from.Label()))
	fmt.Printf("  To:              ~%s %s\n", amount.ToDecimalString(q.OutAmount, to.Decimals), color.YellowString(to.Label()))
	if q.OtherAmountThreshold != nil && q.OtherAmountThreshold.Sign() > 0 {
		fmt.Printf("  Minimum out:     %s %s\n", amount.ToDecimalString(q.OtherAmountThreshold, to.Decimals), to.Label())
	}
	fmt.Printf("  Price impact:    %s%%\n", q.PriceImpactPct.StringFixed(4))
	fmt.Printf("  Fee:             %d bps\n", q.FeeBps)
	if len(q.Routes) > 0 {
		fmt.Printf("  Route:           %s\n", color.CyanString(strings.Join(q.RouteLabels(), " → ")))
	}
	if q.Gasless {
		fmt.Printf("  Gasless:         %s\n", color.GreenString("yes"))
	}
	fmt.Printf("  Request ID:      %s\n", q.RequestID)
	if !q.HasTransaction() {
		color.Yellow("\n  No transaction attached; configure a wallet to swap.")
	}
	fmt.Println(strings.Repeat("─", 56))
}

func printQuoteJSON(q *quote.Quote, from, to *token.Descriptor) error {
	output := map[string]interface{}{
		"input_mint":       from.Mint,
		"output_mint":      to.Mint,
		"in_amount":        amount.ToDecimalString(q.InAmount, from.Decimals),
		"out_amount":       amount.ToDecimalString(q.OutAmount, to.Decimals),
		"price_impact_pct": q.PriceImpactPct.String(),
		"fee_bps":          q.FeeBps,
		"routes":           q.RouteLabels(),
		"context_slot":     q.ContextSlot,
		"request_id":       q.RequestID,
		"gasless":          q.Gasless,
		"has_transaction":  q.HasTransaction(),
	}
	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
