/**
 * @description
 * This package handles configuration management for the linkdrop service. It uses
 * Viper to read configuration from environment variables (and an optional .env
 * file), and derives the cost model the claim engine bills funders with.
 *
 * @dependencies
 * - github.com/spf13/viper: configuration loading.
 * - github.com/shopspring/decimal: storage price and allowance amounts.
 */

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds all configuration for the linkdrop service.
type Config struct {
	ServerPort           string        `mapstructure:"SERVER_PORT"`
	DatabaseURL          string        `mapstructure:"DATABASE_URL"`
	RedisURL             string        `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string        `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL          string        `mapstructure:"RABBITMQ_URL"`
	EventsExchange       string        `mapstructure:"EVENTS_EXCHANGE"`
	ActionsExchange      string        `mapstructure:"ACTIONS_EXCHANGE"`
	OutcomesExchange     string        `mapstructure:"OUTCOMES_EXCHANGE"`
	OutcomesQueue        string        `mapstructure:"OUTCOMES_QUEUE"`
	JWTSecret            string        `mapstructure:"JWT_SECRET"`
	AccountServiceURL    string        `mapstructure:"ACCOUNT_SERVICE_URL"`
	InternalAPIKey       string        `mapstructure:"INTERNAL_API_KEY"`
	StateID              string        `mapstructure:"STATE_ID"`
	LogLevel             string        `mapstructure:"LOG_LEVEL"`
	AppEnv               string        `mapstructure:"APP_ENV"`
	StoragePriceRaw      string        `mapstructure:"STORAGE_PRICE_PER_BYTE"`
	AccessKeyAllowRaw    string        `mapstructure:"ACCESS_KEY_ALLOWANCE"`
	DropStorageBytes     int64         `mapstructure:"DROP_STORAGE_BYTES"`
	KeyStorageBytes      int64         `mapstructure:"KEY_STORAGE_BYTES"`
	AssetStorageBytes    int64         `mapstructure:"ASSET_STORAGE_BYTES"`
	TokenIDStorageBytes  int64         `mapstructure:"TOKEN_ID_STORAGE_BYTES"`
	MaxGasPerClaim       uint64        `mapstructure:"MAX_GAS_PER_CLAIM"`
	OutcomeTimeout       time.Duration `mapstructure:"OUTCOME_TIMEOUT"`
	AccountCreateTimeout time.Duration `mapstructure:"ACCOUNT_CREATE_TIMEOUT"`
	SweepSchedule        string        `mapstructure:"SWEEP_SCHEDULE"`
	ClaimRateLimit       int           `mapstructure:"CLAIM_RATE_LIMIT"`
	ClaimRateWindow      time.Duration `mapstructure:"CLAIM_RATE_WINDOW"`

	// Derived from the raw strings above.
	StoragePricePerByte decimal.Decimal `mapstructure:"-"`
	AccessKeyAllowance  decimal.Decimal `mapstructure:"-"`
}

var envKeys = []string{
	"SERVER_PORT", "DATABASE_URL", "REDIS_URL", "REDIS_RATE_LIMIT_PREFIX", "RABBITMQ_URL",
	"EVENTS_EXCHANGE", "ACTIONS_EXCHANGE", "OUTCOMES_EXCHANGE", "OUTCOMES_QUEUE",
	"JWT_SECRET", "ACCOUNT_SERVICE_URL", "INTERNAL_API_KEY", "STATE_ID", "LOG_LEVEL", "APP_ENV",
	"STORAGE_PRICE_PER_BYTE", "ACCESS_KEY_ALLOWANCE", "DROP_STORAGE_BYTES", "KEY_STORAGE_BYTES",
	"ASSET_STORAGE_BYTES", "TOKEN_ID_STORAGE_BYTES", "MAX_GAS_PER_CLAIM", "OUTCOME_TIMEOUT",
	"ACCOUNT_CREATE_TIMEOUT", "SWEEP_SCHEDULE", "CLAIM_RATE_LIMIT", "CLAIM_RATE_WINDOW",
}

// LoadConfig reads configuration from environment variables and an optional
// .env file in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "linkdrop:rate_limit")
	viper.SetDefault("EVENTS_EXCHANGE", "linkdrop.events")
	viper.SetDefault("ACTIONS_EXCHANGE", "linkdrop.actions")
	viper.SetDefault("OUTCOMES_EXCHANGE", "linkdrop.outcomes")
	viper.SetDefault("OUTCOMES_QUEUE", "linkdrop_service.outcomes")
	viper.SetDefault("STATE_ID", "default")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("APP_ENV", "production")
	// 1e19 per byte, 1e24 is one whole native unit.
	viper.SetDefault("STORAGE_PRICE_PER_BYTE", "10000000000000000000")
	viper.SetDefault("ACCESS_KEY_ALLOWANCE", "18762630063718400000000")
	viper.SetDefault("DROP_STORAGE_BYTES", 1000)
	viper.SetDefault("KEY_STORAGE_BYTES", 420)
	viper.SetDefault("ASSET_STORAGE_BYTES", 300)
	viper.SetDefault("TOKEN_ID_STORAGE_BYTES", 120)
	viper.SetDefault("MAX_GAS_PER_CLAIM", uint64(270_000_000_000_000))
	viper.SetDefault("OUTCOME_TIMEOUT", "10m")
	viper.SetDefault("ACCOUNT_CREATE_TIMEOUT", "30s")
	viper.SetDefault("SWEEP_SCHEDULE", "@every 30s")
	viper.SetDefault("CLAIM_RATE_LIMIT", 10)
	viper.SetDefault("CLAIM_RATE_WINDOW", "1m")

	for _, key := range envKeys {
		_ = viper.BindEnv(key)
	}
	_ = viper.BindEnv("PORT")

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			zap.L().Warn("failed to read config file; using environment values",
				zap.String("component", "config"), zap.Error(err))
		}
		err = nil
	}

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "linkdrop:rate_limit"
	}

	if config.StoragePricePerByte, err = parseAmount("STORAGE_PRICE_PER_BYTE", config.StoragePriceRaw); err != nil {
		return
	}
	if config.AccessKeyAllowance, err = parseAmount("ACCESS_KEY_ALLOWANCE", config.AccessKeyAllowRaw); err != nil {
		return
	}

	for name, v := range map[string]*int64{
		"DROP_STORAGE_BYTES":     &config.DropStorageBytes,
		"KEY_STORAGE_BYTES":      &config.KeyStorageBytes,
		"ASSET_STORAGE_BYTES":    &config.AssetStorageBytes,
		"TOKEN_ID_STORAGE_BYTES": &config.TokenIDStorageBytes,
	} {
		if *v < 0 {
			zap.L().Warn("negative storage size configured; coercing to zero",
				zap.String("component", "config"), zap.String("key", name), zap.Int64("value", *v))
			*v = 0
		}
	}

	if config.OutcomeTimeout <= 0 {
		err = fmt.Errorf("OUTCOME_TIMEOUT must be positive, got %s", config.OutcomeTimeout)
		return
	}
	if config.AccountCreateTimeout <= 0 {
		config.AccountCreateTimeout = 30 * time.Second
	}
	if config.MaxGasPerClaim == 0 {
		config.MaxGasPerClaim = 270_000_000_000_000
	}
	if config.ClaimRateLimit < 0 {
		config.ClaimRateLimit = 0
	}
	if config.ClaimRateWindow <= 0 {
		config.ClaimRateWindow = time.Minute
	}
	if strings.TrimSpace(config.SweepSchedule) == "" {
		config.SweepSchedule = "@every 30s"
	}

	return
}

func parseAmount(key, raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if v.IsNegative() {
		return decimal.Zero, fmt.Errorf("%s must not be negative, got %s", key, raw)
	}
	return v, nil
}
