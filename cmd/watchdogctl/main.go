package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	keyHex    string
)

var rootCmd = &cobra.Command{
	Use:   "watchdogctl",
	Short: "Operate a deployment watchdog",
	Long:  "Inspect and fund a running deployment watchdog. Requests are signed with an operator key.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("WATCHDOG_URL", "http://localhost:8080"), "Watchdog base URL")
	rootCmd.PersistentFlags().StringVar(&keyHex, "key", os.Getenv("WATCHDOG_OPERATOR_KEY"), "Operator private key (hex)")
}

func main() {
	rootCmd.AddCommand(NewStatusCmd())
	rootCmd.AddCommand(NewFundCmd())
	rootCmd.AddCommand(NewBalanceCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}
