package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/airchains-network/tx-simulator/cmd/simulator/commands"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tx-simulator",
		Short: "Dry-runs transactions against forked account-model and runtime-module chains",
		Long: `tx-simulator forks a live chain, injects a single transaction or extrinsic,
and reports the resulting balance changes, decoded events, and gas/fee cost
without ever broadcasting anything to the real network.`,
	}

	rootCmd.AddCommand(commands.InitCmd)
	rootCmd.AddCommand(commands.ServeCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
