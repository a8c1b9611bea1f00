package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"walletsnap/go-backend/internal/chain"
	"walletsnap/go-backend/internal/platform/apperr"
	"walletsnap/go-backend/internal/platform/batch"
)

const (
	TransportRPC  = "rpc"
	TransportMock = "mock"
)

type Config struct {
	Chain    ChainConfig
	State    StateConfig
	Accounts AccountsConfig
	RPC      RPCConfig
	Log      LogConfig
}

type ChainConfig struct {
	ID        string
	Transport string
	Endpoint  string
	Timeout   time.Duration
	CacheSize int
	CacheTTL  time.Duration
	RateRPS   float64
	RateBurst int
	// MockVersions seeds the mock transport: address -> version.
	MockVersions map[string]string
}

type StateConfig struct {
	Path   string
	Secret string
}

type AccountsConfig struct {
	Mnemonic   string
	Passphrase string
	BatchLimit int
	PerPage    int
	SharedGate bool
}

type RPCConfig struct {
	Addr  string
	Token string
}

type LogConfig struct {
	Level  string
	Format string
}

func Default() Config {
	return Config{
		Chain: ChainConfig{
			ID:        "SN_SEPOLIA",
			Transport: TransportMock,
			Timeout:   10 * time.Second,
			CacheSize: chain.DefaultCacheSize,
			CacheTTL:  chain.DefaultCacheTTL,
			RateRPS:   20,
			RateBurst: 40,
		},
		Accounts: AccountsConfig{
			BatchLimit: batch.DefaultLimit,
			PerPage:    10,
			SharedGate: true,
		},
		RPC: RPCConfig{Addr: "127.0.0.1:8787"},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// fileConfig is the YAML shape. Pointers mark booleans that must not
// override defaults when absent.
type fileConfig struct {
	Chain struct {
		ID           string            `yaml:"id"`
		Transport    string            `yaml:"transport"`
		Endpoint     string            `yaml:"endpoint"`
		Timeout      time.Duration     `yaml:"timeout"`
		CacheSize    int               `yaml:"cacheSize"`
		CacheTTL     time.Duration     `yaml:"cacheTTL"`
		RateRPS      float64           `yaml:"rateRPS"`
		RateBurst    int               `yaml:"rateBurst"`
		MockVersions map[string]string `yaml:"mockVersions"`
	} `yaml:"chain"`
	State struct {
		Path   string `yaml:"path"`
		Secret string `yaml:"secret"`
	} `yaml:"state"`
	Accounts struct {
		Mnemonic   string `yaml:"mnemonic"`
		Passphrase string `yaml:"passphrase"`
		BatchLimit int    `yaml:"batchLimit"`
		PerPage    int    `yaml:"perPage"`
		SharedGate *bool  `yaml:"sharedGate"`
	} `yaml:"accounts"`
	RPC struct {
		Addr  string `yaml:"addr"`
		Token string `yaml:"token"`
	} `yaml:"rpc"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

var defaultCandidates = []string{
	"configs/accountd.yaml",
	"go-backend/configs/accountd.yaml",
}

// Load builds the effective configuration: defaults, then the YAML file,
// then ACCOUNTD_* environment overrides. An explicit path must exist; the
// default candidates are skipped when missing.
func Load(path string) (Config, error) {
	cfg := Default()

	candidates := defaultCandidates
	explicit := strings.TrimSpace(path) != ""
	if explicit {
		candidates = []string{path}
	}
	for _, p := range candidates {
		data, err := os.ReadFile(p)
		if err != nil {
			if !explicit && errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return Config{}, apperr.Wrap(apperr.KindInvalidConfig, "read "+p, err)
		}
		var parsed fileConfig
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return Config{}, apperr.Wrap(apperr.KindInvalidConfig, "parse "+p, err)
		}
		merge(&cfg, parsed)
		break
	}

	if err := ApplyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func merge(dst *Config, src fileConfig) {
	if src.Chain.ID != "" {
		dst.Chain.ID = src.Chain.ID
	}
	if src.Chain.Transport != "" {
		dst.Chain.Transport = src.Chain.Transport
	}
	if src.Chain.Endpoint != "" {
		dst.Chain.Endpoint = src.Chain.Endpoint
	}
	if src.Chain.Timeout != 0 {
		dst.Chain.Timeout = src.Chain.Timeout
	}
	if src.Chain.CacheSize != 0 {
		dst.Chain.CacheSize = src.Chain.CacheSize
	}
	if src.Chain.CacheTTL != 0 {
		dst.Chain.CacheTTL = src.Chain.CacheTTL
	}
	if src.Chain.RateRPS != 0 {
		dst.Chain.RateRPS = src.Chain.RateRPS
	}
	if src.Chain.RateBurst != 0 {
		dst.Chain.RateBurst = src.Chain.RateBurst
	}
	if src.Chain.MockVersions != nil {
		dst.Chain.MockVersions = src.Chain.MockVersions
	}
	if src.State.Path != "" {
		dst.State.Path = src.State.Path
	}
	if src.State.Secret != "" {
		dst.State.Secret = src.State.Secret
	}
	if src.Accounts.Mnemonic != "" {
		dst.Accounts.Mnemonic = src.Accounts.Mnemonic
	}
	if src.Accounts.Passphrase != "" {
		dst.Accounts.Passphrase = src.Accounts.Passphrase
	}
	if src.Accounts.BatchLimit != 0 {
		dst.Accounts.BatchLimit = src.Accounts.BatchLimit
	}
	if src.Accounts.PerPage != 0 {
		dst.Accounts.PerPage = src.Accounts.PerPage
	}
	if src.Accounts.SharedGate != nil {
		dst.Accounts.SharedGate = *src.Accounts.SharedGate
	}
	if src.RPC.Addr != "" {
		dst.RPC.Addr = src.RPC.Addr
	}
	if src.RPC.Token != "" {
		dst.RPC.Token = src.RPC.Token
	}
	if src.Log.Level != "" {
		dst.Log.Level = src.Log.Level
	}
	if src.Log.Format != "" {
		dst.Log.Format = src.Log.Format
	}
}

// ApplyEnvOverrides copies ACCOUNTD_* variables over cfg. Unparseable
// numeric values are reported rather than ignored.
func ApplyEnvOverrides(cfg *Config) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	str("ACCOUNTD_CHAIN_ID", &cfg.Chain.ID)
	str("ACCOUNTD_CHAIN_TRANSPORT", &cfg.Chain.Transport)
	str("ACCOUNTD_CHAIN_ENDPOINT", &cfg.Chain.Endpoint)
	str("ACCOUNTD_STATE_PATH", &cfg.State.Path)
	str("ACCOUNTD_STATE_SECRET", &cfg.State.Secret)
	str("ACCOUNTD_MNEMONIC", &cfg.Accounts.Mnemonic)
	str("ACCOUNTD_PASSPHRASE", &cfg.Accounts.Passphrase)
	str("ACCOUNTD_RPC_ADDR", &cfg.RPC.Addr)
	str("ACCOUNTD_RPC_TOKEN", &cfg.RPC.Token)
	str("ACCOUNTD_LOG_LEVEL", &cfg.Log.Level)

	var result *multierror.Error
	if raw := strings.TrimSpace(os.Getenv("ACCOUNTD_CHAIN_RATE_RPS")); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("ACCOUNTD_CHAIN_RATE_RPS: %w", err))
		} else {
			cfg.Chain.RateRPS = v
		}
	}
	if raw := strings.TrimSpace(os.Getenv("ACCOUNTD_BATCH_LIMIT")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("ACCOUNTD_BATCH_LIMIT: %w", err))
		} else {
			cfg.Accounts.BatchLimit = v
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return apperr.Wrap(apperr.KindInvalidConfig, "environment", err)
	}
	return nil
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var result *multierror.Error
	add := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	if strings.TrimSpace(c.Chain.ID) == "" {
		add("chain.id is required")
	}
	switch c.Chain.Transport {
	case TransportMock:
	case TransportRPC:
		if _, err := chain.ParseEndpoint(c.Chain.Endpoint); err != nil {
			add("chain.endpoint: %v", err)
		}
	default:
		add("chain.transport must be %q or %q, got %q", TransportRPC, TransportMock, c.Chain.Transport)
	}
	if c.Chain.Timeout < 0 || c.Chain.CacheTTL < 0 {
		add("chain durations must not be negative")
	}
	if c.Chain.CacheSize < 0 {
		add("chain.cacheSize must not be negative")
	}
	if c.Chain.RateRPS < 0 || c.Chain.RateBurst < 0 {
		add("chain rate limits must not be negative")
	}
	if strings.TrimSpace(c.Accounts.Mnemonic) == "" {
		add("accounts.mnemonic is required")
	}
	if c.Accounts.BatchLimit < 0 {
		add("accounts.batchLimit must not be negative")
	}
	if c.Accounts.PerPage < 0 {
		add("accounts.perPage must not be negative")
	}
	if c.State.Secret != "" && c.State.Path == "" {
		add("state.secret requires state.path")
	}
	if strings.TrimSpace(c.RPC.Addr) == "" {
		add("rpc.addr is required")
	}
	if _, err := c.SlogLevel(); err != nil {
		add("log.level: %v", err)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		add("log.format must be json or text, got %q", c.Log.Format)
	}

	if err := result.ErrorOrNil(); err != nil {
		return apperr.Wrap(apperr.KindInvalidConfig, "", err)
	}
	return nil
}

func (c Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	err := lvl.UnmarshalText([]byte(c.Log.Level))
	return lvl, err
}
