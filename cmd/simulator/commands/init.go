package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/airchains-network/tx-simulator/internal/config"
)

// InitCmd writes a starter config.toml, grounded on the teacher's InitCmd.
var InitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a starter config.toml",
	Long:  `Create ~/.tx-simulator/config.toml with default fork RPC endpoints that can be edited in place.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return initCommand(cmd)
	},
}

func init() {
	InitCmd.Flags().String("account-model.fork-rpc-url", "http://127.0.0.1:8545", "EVM-compatible fork RPC URL")
	InitCmd.Flags().String("runtime-module.fork-rpc-url", "ws://127.0.0.1:9944", "Substrate-style fork RPC URL")
	InitCmd.Flags().String("http-addr", ":8090", "HTTP listen address")
}

func initCommand(cmd *cobra.Command) error {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05"})

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %v", err)
	}
	simDir := filepath.Join(home, ".tx-simulator")
	if err := os.MkdirAll(simDir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %v", simDir, err)
	}

	cfg := config.DefaultConfig()
	cfg.AccountModel.ForkRPCURL, _ = cmd.Flags().GetString("account-model.fork-rpc-url")
	cfg.RuntimeModule.ForkRPCURL, _ = cmd.Flags().GetString("runtime-module.fork-rpc-url")
	cfg.Server.HTTPAddr, _ = cmd.Flags().GetString("http-addr")
	cfg.Cache.TokenMetaDBPath = filepath.Join(simDir, "token_meta_db")
	cfg.Cache.AssetMetaDBPath = filepath.Join(simDir, "asset_meta_db")

	configPath := filepath.Join(simDir, "config.toml")
	if err := cfg.Save(configPath); err != nil {
		return fmt.Errorf("failed to write config: %v", err)
	}

	log.Infof("Created config file at: %s", configPath)
	log.Infof("Account-model fork RPC: %s", cfg.AccountModel.ForkRPCURL)
	log.Infof("Runtime-module fork RPC: %s", cfg.RuntimeModule.ForkRPCURL)
	log.Info("Edit the file above, then run: tx-simulator serve")
	return nil
}
