package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hezronokwach/harvest/internal/orchestrator"
	"github.com/hezronokwach/harvest/internal/policy"
	"github.com/hezronokwach/harvest/internal/state"
)

// Config is the full harvestd configuration. Defaults are overlaid by
// an optional YAML file and then by environment variables.
type Config struct {
	Server      ServerConfig                  `yaml:"server"`
	Redis       RedisConfig                   `yaml:"redis"`
	Auth        AuthConfig                    `yaml:"auth"`
	Negotiation orchestrator.Config           `yaml:"negotiation"`
	Policy      policy.Config                 `yaml:"policy"`
	Store       state.RedisSessionStoreConfig `yaml:"store"`
	Product     string                        `yaml:"product"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         string        `yaml:"port"`
	Mode         string        `yaml:"mode"` // "debug" or "release"
	LogLevel     string        `yaml:"log_level"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// RedisConfig selects the session store backend. When Enabled is false
// the in-memory store is used and the remaining fields are ignored.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AuthConfig configures room access tokens.
type AuthConfig struct {
	JWTSecret   string        `yaml:"jwt_secret"`
	TokenExpiry time.Duration `yaml:"token_expiry"`
}

// Load builds the configuration. A .env file is read if present, then
// the optional YAML file at path, then environment variables on top.
func Load(path string) (*Config, error) {
	// Missing .env is the normal case outside development.
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnv("PORT", "8000"),
			Mode:         getEnv("GIN_MODE", "release"),
			LogLevel:     getEnv("LOG_LEVEL", "info"),
			ReadTimeout:  getDurationEnv("READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getDurationEnv("WRITE_TIMEOUT", 30*time.Second),
		},
		Redis: RedisConfig{
			Enabled:  getBoolEnv("REDIS_ENABLED", false),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		Auth: AuthConfig{
			JWTSecret:   getEnv("JWT_SECRET", ""),
			TokenExpiry: getDurationEnv("TOKEN_EXPIRY", 6*time.Hour),
		},
		Negotiation: orchestrator.DefaultConfig(),
		Policy:      policy.DefaultConfig(),
		Store:       *state.DefaultRedisSessionStoreConfig(),
		Product:     getEnv("PRODUCT", "White Maize"),
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides reapplies the environment on top of YAML values so
// the variable always wins regardless of load order.
func applyEnvOverrides(cfg *Config) {
	cfg.Negotiation.MaxRounds = getIntEnv("MAX_ROUNDS", cfg.Negotiation.MaxRounds)
	cfg.Negotiation.TurnTimeout = getDurationEnv("TURN_TIMEOUT", cfg.Negotiation.TurnTimeout)
	cfg.Negotiation.SellerPersona = getEnv("SELLER_PERSONA", cfg.Negotiation.SellerPersona)
	cfg.Negotiation.BuyerPersona = getEnv("BUYER_PERSONA", cfg.Negotiation.BuyerPersona)
	cfg.Negotiation.SellerIdentity = getEnv("SELLER_IDENTITY", cfg.Negotiation.SellerIdentity)

	cfg.Policy.BuyerBasePrice = getFloatEnv("BUYER_BASE_PRICE", cfg.Policy.BuyerBasePrice)
	cfg.Policy.BuyerPriceStep = getFloatEnv("BUYER_PRICE_STEP", cfg.Policy.BuyerPriceStep)
	cfg.Policy.SellerBasePrice = getFloatEnv("SELLER_BASE_PRICE", cfg.Policy.SellerBasePrice)
	cfg.Policy.SellerPriceStep = getFloatEnv("SELLER_PRICE_STEP", cfg.Policy.SellerPriceStep)
	cfg.Policy.MinRound = getIntEnv("MIN_ACCEPT_ROUND", cfg.Policy.MinRound)
	cfg.Policy.MinBuyerConcessions = getIntEnv("MIN_BUYER_CONCESSIONS", cfg.Policy.MinBuyerConcessions)

	cfg.Store.Addr = cfg.Redis.Addr
	cfg.Store.Password = cfg.Redis.Password
	cfg.Store.DB = cfg.Redis.DB
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if port, err := strconv.Atoi(c.Server.Port); err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("invalid server port %q", c.Server.Port)
	}
	if c.Negotiation.MaxRounds <= 0 {
		return fmt.Errorf("max rounds must be positive, got %d", c.Negotiation.MaxRounds)
	}
	if c.Negotiation.TurnTimeout <= 0 {
		return fmt.Errorf("turn timeout must be positive, got %s", c.Negotiation.TurnTimeout)
	}
	if c.Policy.BuyerBasePrice <= 0 || c.Policy.SellerBasePrice <= 0 {
		return fmt.Errorf("policy base prices must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
