package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/airchains-network/tx-simulator/internal/cache"
	"github.com/airchains-network/tx-simulator/internal/config"
	"github.com/airchains-network/tx-simulator/internal/engine"
	"github.com/airchains-network/tx-simulator/internal/evmevents"
	"github.com/airchains-network/tx-simulator/internal/evmfork"
	"github.com/airchains-network/tx-simulator/internal/httpapi"
	"github.com/airchains-network/tx-simulator/internal/substratefork"
	"github.com/airchains-network/tx-simulator/internal/types"
)

// ServeCmd starts the HTTP simulation server, grounded on the teacher's
// StartCmd.
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the simulation HTTP server",
	Long:  `Start the simulation HTTP server using the configuration at ~/.tx-simulator/config.toml.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCommand()
	},
}

func serveCommand() error {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05"})
	log.SetLevel(logrus.InfoLevel)

	zapLog, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("failed to init structured logger: %v", err)
	}
	defer zapLog.Sync()

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %v", err)
	}
	configPath := filepath.Join(home, ".tx-simulator", "config.toml")
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Warnf("failed to load config at %s (%v), using defaults", configPath, err)
		cfg = config.DefaultConfig()
	}

	ctx := context.Background()

	var engineA *engine.EngineA
	if cfg.AccountModel.ForkRPCURL != "" {
		forkClient, err := evmfork.Dial(ctx, cfg.AccountModel.ForkRPCURL, cfg.AccountModel.UpstreamRPCURL, zapLog)
		if err != nil {
			log.Warnf("account-model backend unreachable, /simulate will 503 for it: %v", err)
		} else {
			tokenMetaStore, err := cache.New[types.TokenMeta](cfg.Cache.TokenMetaCapacity, cfg.Cache.TokenMetaDBPath)
			if err != nil {
				return fmt.Errorf("failed to open token metadata cache: %v", err)
			}
			decoder := evmevents.NewDecoder(nil)
			engineA = engine.NewEngineA(forkClient, decoder, tokenMetaStore, cfg.AccountModel.NativeSymbol, zapLog)
			log.Infof("account-model backend ready at %s", cfg.AccountModel.ForkRPCURL)
		}
	}

	var engineB *engine.EngineB
	if cfg.RuntimeModule.ForkRPCURL != "" {
		substrateClient, err := substratefork.Connect(cfg.RuntimeModule.ForkRPCURL, zapLog)
		if err != nil {
			log.Warnf("runtime-module backend unreachable, /simulate will 503 for it: %v", err)
		} else {
			assetMetaStore, err := cache.New[types.TokenMeta](cfg.Cache.TokenMetaCapacity, cfg.Cache.AssetMetaDBPath)
			if err != nil {
				return fmt.Errorf("failed to open asset metadata cache: %v", err)
			}
			engineB = engine.NewEngineB(substrateClient, cfg.RuntimeModule.ForkRPCURL, assetMetaStore, zapLog)
			log.Infof("runtime-module backend ready at %s", cfg.RuntimeModule.ForkRPCURL)
		}
	}

	if engineA == nil && engineB == nil {
		return fmt.Errorf("neither backend is reachable, nothing to serve")
	}

	server := httpapi.NewServer(engineA, engineB, log)
	log.Infof("Starting tx-simulator on %s...", cfg.Server.HTTPAddr)
	return server.Run(cfg.Server.HTTPAddr)
}
