package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	configPath  string
	verbose     bool
	jsonOutput  bool
	metricsAddr string
)

var rootCmd = &cobra.Command{
	Use:   "ultraswap",
	Short: "Quote and swap Solana tokens through the Jupiter Ultra API",
	Long: `ultraswap fetches Ultra quotes for a token pair and submits the signed
swap transaction with your wallet.

Examples:
  ultraswap quote --from EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v --to So11111111111111111111111111111111111111112 --amount 25
  ultraswap swap --from USDC-mint --to SOL-mint --amount 25 --yes
  ultraswap tokens So11111111111111111111111111111111111111112`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (json or yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
}

func printError(err error) {
	fmt.Fprintf(os.Stderr, "\n%s %v\n\n", color.RedString("Error:"), err)
}

func printSuccess(message string) {
	fmt.Printf("\n%s\n\n", color.GreenString(message))
}
