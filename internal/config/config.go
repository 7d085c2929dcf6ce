// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var (
	// ErrMissingCredentials означает, что ключ оператора не задан
	ErrMissingCredentials = errors.New("operator credentials are not configured")

	// ErrMissingEndpoints означает пустой rpc_list
	ErrMissingEndpoints = errors.New("rpc_list is empty")
)

// Режимы случайности
const (
	RandomnessDeterministic = "deterministic"
	RandomnessLedger        = "ledger"
)

type Config struct {
	RPCList            []string         `mapstructure:"rpc_list"`
	ProgramID          string           `mapstructure:"program_id"`
	OperatorPrivateKey string           `mapstructure:"operator_private_key"`
	OperatorKeyPath    string           `mapstructure:"operator_key_path"`
	Treasury           string           `mapstructure:"treasury"`
	RewardPool         string           `mapstructure:"reward_pool"`
	ExplorerTxURL      string           `mapstructure:"explorer_tx_url"`
	WebhookURL         string           `mapstructure:"webhook_url"`
	WebhookTimeoutMs   int              `mapstructure:"webhook_timeout_ms"`
	APIAddr            string           `mapstructure:"api_addr"`
	DebugLogging       bool             `mapstructure:"debug_logging"`
	LogFile            string           `mapstructure:"log_file"`
	Keeper             KeeperConfig     `mapstructure:"keeper"`
	RPC                RPCConfig        `mapstructure:"rpc"`
	Randomness         RandomnessConfig `mapstructure:"randomness"`
	Fees               FeesConfig       `mapstructure:"fees"`
	Database           DatabaseConfig   `mapstructure:"database"`

	WebhookTimeout time.Duration `mapstructure:"-"`
}

type KeeperConfig struct {
	TickIntervalMs    int `mapstructure:"tick_interval_ms"`
	MaxConcurrent     int `mapstructure:"max_concurrent"`
	ShutdownTimeoutMs int `mapstructure:"shutdown_timeout_ms"`
	RetryCeiling      int `mapstructure:"retry_ceiling"`
	FetchAttempts     int `mapstructure:"fetch_attempts"`
	FetchDelayMs      int `mapstructure:"fetch_delay_ms"`

	TickInterval    time.Duration `mapstructure:"-"`
	ShutdownTimeout time.Duration `mapstructure:"-"`
	FetchDelay      time.Duration `mapstructure:"-"`
}

type RPCConfig struct {
	MaxRetries            int     `mapstructure:"max_retries"`
	BaseDelayMs           int     `mapstructure:"base_delay_ms"`
	MaxDelayMs            int     `mapstructure:"max_delay_ms"`
	Multiplier            float64 `mapstructure:"multiplier"`
	FailureThreshold      int     `mapstructure:"failure_threshold"`
	CooldownMs            int     `mapstructure:"cooldown_ms"`
	HealthCheckIntervalMs int     `mapstructure:"health_check_interval_ms"`
	ConfirmTimeoutMs      int     `mapstructure:"confirm_timeout_ms"`

	BaseDelay           time.Duration `mapstructure:"-"`
	MaxDelay            time.Duration `mapstructure:"-"`
	Cooldown            time.Duration `mapstructure:"-"`
	HealthCheckInterval time.Duration `mapstructure:"-"`
	ConfirmTimeout      time.Duration `mapstructure:"-"`
}

type RandomnessConfig struct {
	Mode       string `mapstructure:"mode"`
	ProgramID  string `mapstructure:"program_id"`
	Queue      string `mapstructure:"queue"`
	GatewayURL string `mapstructure:"gateway_url"`
	// PoolsByMode lists pool addresses per randomness mode. Viper lowercases
	// map keys, so base58 addresses can only live in values.
	PoolsByMode map[string][]string `mapstructure:"overrides"`
	// Overrides maps pool address to a randomness mode, built from PoolsByMode.
	Overrides map[string]string `mapstructure:"-"`
}

type FeesConfig struct {
	TreasuryBps   uint64 `mapstructure:"treasury_bps"`
	OperatorBps   uint64 `mapstructure:"operator_bps"`
	RewardPoolBps uint64 `mapstructure:"reward_pool_bps"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

const (
	DefaultTickIntervalMs    = 10_000
	DefaultMaxConcurrent     = 16
	DefaultShutdownTimeoutMs = 25_000
	DefaultRetryCeiling      = 10
	DefaultFetchAttempts     = 5
	DefaultFetchDelayMs      = 2_000
	DefaultWebhookTimeoutMs  = 5_000
	DefaultConfirmTimeoutMs  = 60_000
	DefaultAPIAddr           = ":8080"
	DefaultLogFile           = "keeper.log"
	EnvPrefix                = "KEEPER"
)

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"rpc_list":                     []string{},
		"program_id":                   "",
		"operator_private_key":         "",
		"operator_key_path":            "",
		"treasury":                     "",
		"reward_pool":                  "",
		"explorer_tx_url":              "https://explorer.solana.com/tx/%s",
		"webhook_url":                  "",
		"webhook_timeout_ms":           DefaultWebhookTimeoutMs,
		"api_addr":                     DefaultAPIAddr,
		"debug_logging":                false,
		"log_file":                     DefaultLogFile,
		"keeper.tick_interval_ms":      DefaultTickIntervalMs,
		"keeper.max_concurrent":        DefaultMaxConcurrent,
		"keeper.shutdown_timeout_ms":   DefaultShutdownTimeoutMs,
		"keeper.retry_ceiling":         DefaultRetryCeiling,
		"keeper.fetch_attempts":        DefaultFetchAttempts,
		"keeper.fetch_delay_ms":        DefaultFetchDelayMs,
		"rpc.max_retries":              3,
		"rpc.base_delay_ms":            500,
		"rpc.max_delay_ms":             8_000,
		"rpc.multiplier":               2.0,
		"rpc.failure_threshold":        5,
		"rpc.cooldown_ms":              60_000,
		"rpc.health_check_interval_ms": 30_000,
		"rpc.confirm_timeout_ms":       DefaultConfirmTimeoutMs,
		"randomness.mode":              RandomnessDeterministic,
		"randomness.program_id":        "",
		"randomness.queue":             "",
		"randomness.gateway_url":       "",
		"fees.treasury_bps":            900,
		"fees.operator_bps":            350,
		"fees.reward_pool_bps":         150,
		"database.driver":              "sqlite",
		"database.dsn":                 "keeper.db",
	}
}

// LoadConfig читает файл конфигурации, .env и переменные окружения KEEPER_*.
// Отсутствие учетных данных здесь не ошибка: см. LedgerReady.
func LoadConfig(path string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	for key, value := range defaults() {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	loadEnvironmentVariables(v, &cfg)
	cfg.convertDurations()
	if err := cfg.buildOverrides(); err != nil {
		return &cfg, err
	}

	return &cfg, validateConfig(&cfg)
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// HasCredentials reports whether an operator key source is configured.
func (c *Config) HasCredentials() bool {
	return strings.TrimSpace(c.OperatorPrivateKey) != "" || strings.TrimSpace(c.OperatorKeyPath) != ""
}

// LedgerReady checks what the orchestrator needs before it may start.
func (c *Config) LedgerReady() error {
	if len(c.RPCList) == 0 {
		return ErrMissingEndpoints
	}
	if !c.HasCredentials() {
		return ErrMissingCredentials
	}
	if c.ProgramID == "" {
		return errors.New("program_id is not configured")
	}
	if c.Treasury == "" {
		return errors.New("treasury is not configured")
	}
	return nil
}

func (c *Config) convertDurations() {
	ms := func(v int) time.Duration { return time.Duration(v) * time.Millisecond }

	c.WebhookTimeout = ms(c.WebhookTimeoutMs)
	c.Keeper.TickInterval = ms(c.Keeper.TickIntervalMs)
	c.Keeper.ShutdownTimeout = ms(c.Keeper.ShutdownTimeoutMs)
	c.Keeper.FetchDelay = ms(c.Keeper.FetchDelayMs)
	c.RPC.BaseDelay = ms(c.RPC.BaseDelayMs)
	c.RPC.MaxDelay = ms(c.RPC.MaxDelayMs)
	c.RPC.Cooldown = ms(c.RPC.CooldownMs)
	c.RPC.HealthCheckInterval = ms(c.RPC.HealthCheckIntervalMs)
	c.RPC.ConfirmTimeout = ms(c.RPC.ConfirmTimeoutMs)
}

func (c *Config) buildOverrides() error {
	c.Randomness.Overrides = make(map[string]string)
	for mode, pools := range c.Randomness.PoolsByMode {
		for _, pool := range pools {
			pool = strings.TrimSpace(pool)
			if pool == "" {
				continue
			}
			if prev, ok := c.Randomness.Overrides[pool]; ok && prev != mode {
				return fmt.Errorf("pool %s has conflicting randomness overrides %q and %q", pool, prev, mode)
			}
			c.Randomness.Overrides[pool] = mode
		}
	}
	return nil
}

func validateConfig(cfg *Config) error {
	for _, rpcURL := range cfg.RPCList {
		if err := validateURLWithCache(rpcURL, "http"); err != nil {
			return fmt.Errorf("invalid RPC URL %q: %w", rpcURL, err)
		}
	}
	if cfg.WebhookURL != "" {
		if err := validateURLWithCache(cfg.WebhookURL, "http"); err != nil {
			return fmt.Errorf("invalid webhook URL: %w", err)
		}
	}
	if err := validateNumericParams(cfg); err != nil {
		return err
	}

	usesLedger := false
	switch cfg.Randomness.Mode {
	case RandomnessDeterministic:
	case RandomnessLedger:
		usesLedger = true
	default:
		return fmt.Errorf("unknown randomness mode %q", cfg.Randomness.Mode)
	}
	for pool, mode := range cfg.Randomness.Overrides {
		switch mode {
		case RandomnessDeterministic:
		case RandomnessLedger:
			usesLedger = true
		default:
			return fmt.Errorf("unknown randomness mode %q for pool %s", mode, pool)
		}
	}
	// Ledger провайдер нужен и для режима по умолчанию, и для отдельных пулов.
	if usesLedger && (cfg.Randomness.Queue == "" || cfg.Randomness.GatewayURL == "") {
		return errors.New("ledger randomness requires randomness.queue and randomness.gateway_url")
	}

	switch cfg.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
	return nil
}

func validateNumericParams(cfg *Config) error {
	if cfg.Keeper.TickIntervalMs <= 0 {
		return errors.New("invalid keeper.tick_interval_ms")
	}
	if cfg.Keeper.MaxConcurrent <= 0 {
		return errors.New("invalid keeper.max_concurrent")
	}
	if cfg.Keeper.ShutdownTimeoutMs <= 0 {
		return errors.New("invalid keeper.shutdown_timeout_ms")
	}
	if cfg.Keeper.RetryCeiling <= 0 {
		return errors.New("invalid keeper.retry_ceiling")
	}
	if cfg.RPC.MaxRetries < 0 {
		return errors.New("invalid rpc.max_retries")
	}
	if cfg.RPC.BaseDelayMs <= 0 || cfg.RPC.MaxDelayMs < cfg.RPC.BaseDelayMs {
		return errors.New("invalid rpc delays")
	}
	if cfg.RPC.FailureThreshold <= 0 {
		return errors.New("invalid rpc.failure_threshold")
	}
	if cfg.Fees.TreasuryBps+cfg.Fees.OperatorBps+cfg.Fees.RewardPoolBps > 10_000 {
		return errors.New("fees exceed 100%")
	}
	return nil
}

var urlCache sync.Map

func validateURLWithCache(rawURL string, protocol string) error {
	if _, ok := urlCache.Load(rawURL); ok {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) || parsed.Host == "" {
		return errors.New("invalid URL protocol")
	}
	urlCache.Store(rawURL, parsed)
	return nil
}

// loadEnvironmentVariables применяет переменные, которые viper не разбирает сам.
func loadEnvironmentVariables(v *viper.Viper, cfg *Config) {
	envRPCList := v.GetString("RPC_LIST")
	if envRPCList == "" {
		return
	}
	var cleanRPCs []string
	for _, rpc := range strings.Split(envRPCList, ",") {
		if clean := strings.TrimSpace(rpc); clean != "" {
			cleanRPCs = append(cleanRPCs, clean)
		}
	}
	if len(cleanRPCs) > 0 {
		cfg.RPCList = cleanRPCs
	}
}
