// Package config loads the typed configuration record the daemon is wired
// from. File parsing and env-var merging are deliberately kept out of the
// core daemon logic; this package only produces the Config value that the
// rest of the daemon consumes as input, following the teacher's
// pkg/config + cmd/cli/ipfs.go pattern of godotenv-then-viper-then-env-
// fallback.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the unified, typed configuration for one pinnerd process.
type Config struct {
	ContractID string `mapstructure:"contract_id"`
	LedgerRPC  string `mapstructure:"ledger_rpc"`
	KuboRPC    string `mapstructure:"kubo_rpc"`

	Mode           string `mapstructure:"mode"`
	MinPrice       int64  `mapstructure:"min_price"`
	MaxContentSize int64  `mapstructure:"max_content_size"`

	PollInterval      time.Duration `mapstructure:"poll_interval"`
	PinTimeout        time.Duration `mapstructure:"pin_timeout"`
	CheckTimeout      time.Duration `mapstructure:"check_timeout"`
	ApprovalQueueTTL  time.Duration `mapstructure:"approval_queue_ttl"`
	SafetyFactor      int64         `mapstructure:"safety_factor"`
	ConservativeFee   int64         `mapstructure:"conservative_fee"`

	HunterEnabled         bool          `mapstructure:"hunter_enabled"`
	CycleInterval         time.Duration `mapstructure:"cycle_interval"`
	CooldownAfterFlag     time.Duration `mapstructure:"cooldown_after_flag"`
	MaxConcurrentChecks   int           `mapstructure:"max_concurrent_checks"`
	FailureThreshold      int           `mapstructure:"failure_threshold"`
	PinnerCacheTTL        time.Duration `mapstructure:"pinner_cache_ttl"`
	RetrievalCheckEnabled bool          `mapstructure:"retrieval_check_enabled"`
	UnpinOnUnpinEvent     bool          `mapstructure:"unpin_on_unpin_event"`

	StorePath  string `mapstructure:"store_path"`
	IPCAddr    string `mapstructure:"ipc_addr"`
	LogLevel   string `mapstructure:"log_level"`

	// OperatorKeyEnv names the environment variable holding the operator's
	// signing key. The key itself is never read from config.
	OperatorKeyEnv string `mapstructure:"operator_key_env"`
}

// Defaults returns a Config populated with the daemon's baseline policy.
func Defaults() Config {
	return Config{
		Mode:                  "auto",
		MinPrice:              0,
		MaxContentSize:        64 << 20,
		PollInterval:          5 * time.Second,
		PinTimeout:            60 * time.Second,
		CheckTimeout:          10 * time.Second,
		ApprovalQueueTTL:      30 * time.Minute,
		SafetyFactor:          2,
		ConservativeFee:       10_000,
		HunterEnabled:         true,
		CycleInterval:         5 * time.Minute,
		CooldownAfterFlag:     24 * time.Hour,
		MaxConcurrentChecks:   8,
		FailureThreshold:      3,
		PinnerCacheTTL:        10 * time.Minute,
		RetrievalCheckEnabled: false,
		UnpinOnUnpinEvent:     false,
		StorePath:             "pinnerd.db",
		IPCAddr:               "127.0.0.1:7777",
		LogLevel:              "info",
		OperatorKeyEnv:        "PINNERD_OPERATOR_KEY",
	}
}

// Load reads an optional .env file, an optional config file named `file`
// (if non-empty), and environment variable overrides (prefixed PINNERD_),
// merging them onto Defaults().
func Load(file string) (Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()

	v := viper.New()
	v.SetEnvPrefix("PINNERD")
	v.AutomaticEnv()
	for key, val := range defaultsAsMap(cfg) {
		v.SetDefault(key, val)
	}

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("load config %s: %w", file, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.ContractID == "" {
		cfg.ContractID = os.Getenv("PINNERD_CONTRACT_ID")
	}
	return cfg, nil
}

func defaultsAsMap(c Config) map[string]interface{} {
	return map[string]interface{}{
		"ledger_rpc":              c.LedgerRPC,
		"kubo_rpc":                c.KuboRPC,
		"mode":                    c.Mode,
		"min_price":               c.MinPrice,
		"max_content_size":        c.MaxContentSize,
		"poll_interval":           c.PollInterval,
		"pin_timeout":             c.PinTimeout,
		"check_timeout":           c.CheckTimeout,
		"approval_queue_ttl":      c.ApprovalQueueTTL,
		"safety_factor":           c.SafetyFactor,
		"conservative_fee":        c.ConservativeFee,
		"hunter_enabled":          c.HunterEnabled,
		"cycle_interval":          c.CycleInterval,
		"cooldown_after_flag":     c.CooldownAfterFlag,
		"max_concurrent_checks":   c.MaxConcurrentChecks,
		"failure_threshold":       c.FailureThreshold,
		"pinner_cache_ttl":        c.PinnerCacheTTL,
		"retrieval_check_enabled": c.RetrievalCheckEnabled,
		"unpin_on_unpin_event":    c.UnpinOnUnpinEvent,
		"store_path":              c.StorePath,
		"ipc_addr":                c.IPCAddr,
		"log_level":               c.LogLevel,
		"operator_key_env":        c.OperatorKeyEnv,
	}
}
