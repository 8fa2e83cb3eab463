// Package config loads the simulator's on-disk configuration, grounded on
// the teacher's config.LoadConfig: a pelletier/go-toml file read once at
// startup, with SIM_*-prefixed environment variables overriding whatever
// the file sets.
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml"
)

// Config is the top-level on-disk shape.
type Config struct {
	Server        ServerConfig        `toml:"server"`
	AccountModel  AccountModelConfig  `toml:"account_model"`
	RuntimeModule RuntimeModuleConfig `toml:"runtime_module"`
	Cache         CacheConfig         `toml:"cache"`
}

// ServerConfig holds the HTTP/WebSocket listen addresses.
type ServerConfig struct {
	HTTPAddr string `toml:"http_addr"`
}

// AccountModelConfig configures the EVM-compatible fork backend.
type AccountModelConfig struct {
	ForkRPCURL     string `toml:"fork_rpc_url"`
	UpstreamRPCURL string `toml:"upstream_rpc_url"`
	NativeSymbol   string `toml:"native_symbol"`
}

// RuntimeModuleConfig configures the Substrate-style fork backend.
type RuntimeModuleConfig struct {
	ForkRPCURL string `toml:"fork_rpc_url"`
}

// CacheConfig configures the bounded metadata caches of internal/cache.
type CacheConfig struct {
	TokenMetaCapacity int    `toml:"token_meta_capacity"`
	TokenMetaDBPath   string `toml:"token_meta_db_path"`
	AssetMetaDBPath   string `toml:"asset_meta_db_path"`
}

// DefaultConfig mirrors the teacher's DefaultConfig: sane local-dev values
// an operator edits in place.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{HTTPAddr: ":8090"},
		AccountModel: AccountModelConfig{
			ForkRPCURL:   "http://127.0.0.1:8545",
			NativeSymbol: "ETH",
		},
		RuntimeModule: RuntimeModuleConfig{
			ForkRPCURL: "ws://127.0.0.1:9944",
		},
		Cache: CacheConfig{
			TokenMetaCapacity: 4096,
		},
	}
}

// LoadConfig reads path, falling back to DefaultConfig fields left unset,
// then applies SIM_* environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	file, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := toml.Unmarshal(file, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

// Save writes cfg to path as TOML, per the teacher's init command pattern.
func (c Config) Save(path string) error {
	b, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, b, 0644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides lets an operator override config.toml fields without
// editing the file, per SPEC_FULL.md's ambient-stack configuration section.
// Every field has a SIM_* override except cache.token_meta_capacity.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SIM_HTTP_ADDR"); v != "" {
		cfg.Server.HTTPAddr = v
	}
	if v := os.Getenv("SIM_ACCOUNT_MODEL_FORK_RPC_URL"); v != "" {
		cfg.AccountModel.ForkRPCURL = v
	}
	if v := os.Getenv("SIM_ACCOUNT_MODEL_UPSTREAM_RPC_URL"); v != "" {
		cfg.AccountModel.UpstreamRPCURL = v
	}
	if v := os.Getenv("SIM_ACCOUNT_MODEL_NATIVE_SYMBOL"); v != "" {
		cfg.AccountModel.NativeSymbol = v
	}
	if v := os.Getenv("SIM_RUNTIME_MODULE_FORK_RPC_URL"); v != "" {
		cfg.RuntimeModule.ForkRPCURL = v
	}
	if v := os.Getenv("SIM_CACHE_TOKEN_META_DB_PATH"); v != "" {
		cfg.Cache.TokenMetaDBPath = v
	}
	if v := os.Getenv("SIM_CACHE_ASSET_META_DB_PATH"); v != "" {
		cfg.Cache.AssetMetaDBPath = v
	}
}
