// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/rovshanmuradov/ultra-swap/internal/amount"
	"github.com/rovshanmuradov/ultra-swap/internal/token"
	"github.com/rovshanmuradov/ultra-swap/internal/ultra"
)

const EnvPrefix = "ULTRA_SWAP"

type Config struct {
	APIBaseURL        string   `mapstructure:"api_base_url"`
	APIKey            string   `mapstructure:"api_key"`
	RPCList           []string `mapstructure:"rpc_list"`
	DebounceMS        int      `mapstructure:"debounce_ms"`
	SwapTimeoutMS     int      `mapstructure:"swap_timeout_ms"`
	HTTPTimeoutMS     int      `mapstructure:"http_timeout_ms"`
	RateLimitRPS      float64  `mapstructure:"rate_limit_rps"`
	InitialInputMint  string   `mapstructure:"initial_input_mint"`
	InitialOutputMint string   `mapstructure:"initial_output_mint"`
	InitialAmount     string   `mapstructure:"initial_amount"`
	WalletFile        string   `mapstructure:"wallet_file"`
	WalletName        string   `mapstructure:"wallet_name"`
	PrivateKey        string   `mapstructure:"private_key"`
	DebugLogging      bool     `mapstructure:"debug_logging"`
	LogFile           string   `mapstructure:"log_file"`
	MetricsAddr       string   `mapstructure:"metrics_addr"`

	// Derived from the *_ms fields.
	Debounce    time.Duration `mapstructure:"-"`
	SwapTimeout time.Duration `mapstructure:"-"`
	HTTPTimeout time.Duration `mapstructure:"-"`
}

const (
	DefaultRPC           = "https://api.mainnet-beta.solana.com"
	DefaultDebounceMS    = 250
	DefaultSwapTimeoutMS = 60_000
	DefaultHTTPTimeoutMS = 10_000
	DefaultRateLimitRPS  = 5
)

// Load reads configuration from path, if given, then applies ULTRA_SWAP_*
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()

	defaults := map[string]interface{}{
		"api_base_url":        ultra.DefaultBaseURL,
		"api_key":             "",
		"rpc_list":            []string{DefaultRPC},
		"debounce_ms":         DefaultDebounceMS,
		"swap_timeout_ms":     DefaultSwapTimeoutMS,
		"http_timeout_ms":     DefaultHTTPTimeoutMS,
		"rate_limit_rps":      DefaultRateLimitRPS,
		"initial_input_mint":  token.USDCMint,
		"initial_output_mint": token.WrappedSOLMint,
		"initial_amount":      "",
		"wallet_file":         "",
		"wallet_name":         "",
		"private_key":         "",
		"debug_logging":       false,
		"log_file":            "",
		"metrics_addr":        "",
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.RPCList = cleanList(cfg.RPCList)

	// Convert ms to Duration
	cfg.Debounce = time.Duration(cfg.DebounceMS) * time.Millisecond
	cfg.SwapTimeout = time.Duration(cfg.SwapTimeoutMS) * time.Millisecond
	cfg.HTTPTimeout = time.Duration(cfg.HTTPTimeoutMS) * time.Millisecond

	return &cfg, validateConfig(&cfg)
}

// cleanList splits comma separated entries, as env values arrive as one
// string, and drops blanks.
func cleanList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if clean := strings.TrimSpace(part); clean != "" {
				out = append(out, clean)
			}
		}
	}
	return out
}

func validateConfig(cfg *Config) error {
	if err := validateURLWithCache(cfg.APIBaseURL, "http"); err != nil {
		return fmt.Errorf("invalid api_base_url: %w", err)
	}
	if len(cfg.RPCList) == 0 {
		return errors.New("rpc_list is empty")
	}
	for _, rpcURL := range cfg.RPCList {
		if err := validateURLWithCache(rpcURL, "http"); err != nil {
			return errors.New("invalid RPC URL protocol")
		}
	}
	if cfg.InitialAmount != "" {
		if _, err := amount.ParseBaseUnits(cfg.InitialAmount); err != nil {
			return fmt.Errorf("invalid initial_amount: %w", err)
		}
	}
	if cfg.WalletName != "" && cfg.WalletFile == "" {
		return errors.New("wallet_name requires wallet_file")
	}
	return validateNumericParams(cfg)
}

func validateNumericParams(cfg *Config) error {
	if cfg.DebounceMS <= 0 {
		return errors.New("invalid debounce_ms")
	}
	if cfg.SwapTimeoutMS <= 0 {
		return errors.New("invalid swap_timeout_ms")
	}
	if cfg.HTTPTimeoutMS <= 0 {
		return errors.New("invalid http_timeout_ms")
	}
	if cfg.RateLimitRPS < 0 {
		return errors.New("invalid rate_limit_rps")
	}
	return nil
}

var urlCache sync.Map

func validateURLWithCache(rawURL string, protocol string) error {
	if _, ok := urlCache.Load(rawURL); ok {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) {
		return errors.New("invalid URL protocol")
	}
	urlCache.Store(rawURL, parsed)
	return nil
}
