package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/ultra-swap/internal/amount"
	"github.com/rovshanmuradov/ultra-swap/internal/session"
	"github.com/rovshanmuradov/ultra-swap/internal/swap"
	"github.com/rovshanmuradov/ultra-swap/internal/token"
)

var noConfirm bool

var swapCmd = &cobra.Command{
	Use:   "swap",
	Short: "Swap tokens through the Ultra API",
	Long: `Fetch a quote, confirm it, sign the returned transaction with the
configured wallet and submit it for execution.

The wallet comes from private_key or wallet_file/wallet_name in the config
(or ULTRA_SWAP_PRIVATE_KEY in the environment).

Examples:
  ultraswap swap --from EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v --to So11111111111111111111111111111111111111112 --amount 25
  ultraswap swap --amount 25 --yes`,
	Args: cobra.NoArgs,
	RunE: runSwap,
}

func init() {
	rootCmd.AddCommand(swapCmd)
	addPairFlags(swapCmd)
	swapCmd.Flags().BoolVarP(&noConfirm, "yes", "y", false, "Skip confirmation prompt")
}

func runSwap(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if a.wallet == nil {
		return errors.New("no wallet configured: set private_key or wallet_file")
	}
	ctx := cmd.Context()
	s, err := a.newSession(ctx, fromMint, toMint, inputAmount)
	if err != nil {
		return err
	}
	defer s.Close()

	a.trackBalances(s.FromToken().Mint, s.ToToken().Mint)

	if err := a.balances.Refresh(ctx); err != nil {
		a.logger.Warn("Failed to load balances", zap.Error(err))
	}

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
	if !q.HasTransaction() {
		return fmt.Errorf("quote %s has no transaction to sign", q.RequestID)
	}

	if !jsonOutput {
		displayQuote(q, s.FromToken(), s.ToToken())
		displayBalance(a, s.FromToken())
	}

	if !noConfirm && !jsonOutput {
		s.SetScreen(session.ScreenConfirmation)
		if !confirmSwap() {
			fmt.Println("\nSwap cancelled.")
			return s.Reset(ctx, true)
		}
	}

	if !jsonOutput {
		sp.Suffix = " Signing and submitting swap..."
		sp.Start()
	}
	out, err := s.Submit(ctx)
	if !jsonOutput {
		sp.Stop()
	}
	if out == nil {
		return err
	}

	if jsonOutput {
		if jerr := printOutcomeJSON(out); jerr != nil {
			return jerr
		}
		return err
	}
	displayOutcome(out)
	if out.Status == swap.StatusSuccess {
		displayBalance(a, s.ToToken())
	}
	return err
}

func confirmSwap() bool {
	reader := bufio.NewReader(os.Stdin)
	fmt.Print("\nProceed with this swap? (yes/no): ")
	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	response = strings.ToLower(strings.TrimSpace(response))
	return response == "yes" || response == "y"
}

func displayBalance(a *app, d *token.Descriptor) {
	if a.balances == nil || d == nil {
		return
	}
	mint, err := parseMint(d.Mint)
	if err != nil {
		return
	}
	if v, ok := a.balances.Token(mint); ok {
		fmt.Printf("  Balance:         %s %s\n", amount.ToDecimalString(v, d.Decimals), d.Label())
	}
}

func displayOutcome(out *swap.Outcome) {
	switch out.Status {
	case swap.StatusSuccess:
		printSuccess("✓ Swap succeeded!")
		fmt.Printf("  Signature:       %s\n", color.CyanString(out.Signature))
		if out.InputAmount != nil && out.From != nil {
			fmt.Printf("  Sent:            %s %s\n", amount.ToDecimalString(out.InputAmount, out.From.Decimals), out.From.Label())
		}
		if out.OutputAmount != nil && out.To != nil {
			fmt.Printf("  Received:        %s %s\n", amount.ToDecimalString(out.OutputAmount, out.To.Decimals), out.To.Label())
		}
		fmt.Printf("  Took:            %s\n", out.Duration().Round(time.Millisecond))
	case swap.StatusTimeout:
		color.Red("\n⏱ Swap timed out after %s", out.Duration().Round(time.Second))
		if out.Signature != "" {
			fmt.Printf("  Check signature: %s\n", out.Signature)
		}
	default:
		color.Red("\n✗ Swap failed: %s", out.Message)
		if out.Code != 0 {
			fmt.Printf("  Code:            %d\n", out.Code)
		}
		if out.Signature != "" {
			fmt.Printf("  Signature:       %s\n", out.Signature)
		}
	}
}

func printOutcomeJSON(out *swap.Outcome) error {
	output := map[string]interface{}{
		"id":         out.ID,
		"status":     out.Status,
		"request_id": out.RequestID,
		"signature":  out.Signature,
		"code":       out.Code,
		"message":    out.Message,
		"duration":   out.Duration().String(),
	}
	if out.InputAmount != nil && out.From != nil {
		output["input_amount"] = amount.ToDecimalString(out.InputAmount, out.From.Decimals)
	}
	if out.OutputAmount != nil && out.To != nil {
		output["output_amount"] = amount.ToDecimalString(out.OutputAmount, out.To.Decimals)
	}
	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
