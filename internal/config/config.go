package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	ServiceName string `mapstructure:"service_name"`
	Env         string `mapstructure:"env"`
	LogLevel    string `mapstructure:"log_level"`
	MetricsPath string `mapstructure:"metrics_path"`
}

type HTTPConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

type KafkaConfig struct {
	Brokers         []string `mapstructure:"brokers"`
	TransitionTopic string   `mapstructure:"transition_topic"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type GatewayConfig struct {
	Provider        string        `mapstructure:"provider"`
	APIKey          string        `mapstructure:"api_key"`
	APISecret       string        `mapstructure:"api_secret"`
	BaseURL         string        `mapstructure:"base_url"`
	StreamURL       string        `mapstructure:"stream_url"`
	SubmitTimeout   time.Duration `mapstructure:"submit_timeout"`
	SubmitAttempts  int           `mapstructure:"submit_attempts"`
	ConfirmAttempts int           `mapstructure:"confirm_attempts"`
	MaxConcurrent   int           `mapstructure:"max_concurrent"`
}

type RiskConfig struct {
	InstrumentBlocked  float64 `mapstructure:"instrument_blocked"`
	InstrumentElevated float64 `mapstructure:"instrument_elevated"`
	AccountGross       float64 `mapstructure:"account_gross"`
}

type FeeTierConfig struct {
	MinNotional float64 `mapstructure:"min_notional"`
	Bps         int64   `mapstructure:"bps"`
}

type FeesConfig struct {
	MinCommission float64         `mapstructure:"min_commission"`
	Tiers         []FeeTierConfig `mapstructure:"tiers"`
}

type RateLimitConfig struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Fees      FeesConfig      `mapstructure:"fees"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TRADESENSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path == "" {
		path = "config.yaml"
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !strings.Contains(err.Error(), "no such file") {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port out of range: %d", c.HTTP.Port)
	}
	if c.Risk.InstrumentElevated > c.Risk.InstrumentBlocked {
		return fmt.Errorf("risk.instrument_elevated (%v) exceeds risk.instrument_blocked (%v)",
			c.Risk.InstrumentElevated, c.Risk.InstrumentBlocked)
	}
	switch strings.ToLower(c.Gateway.Provider) {
	case "", "simulator", "alpaca":
	default:
		return fmt.Errorf("gateway.provider must be simulator or alpaca, got %q", c.Gateway.Provider)
	}
	if strings.ToLower(c.Gateway.Provider) == "alpaca" && c.Gateway.APIKey == "" {
		return fmt.Errorf("gateway.api_key required for alpaca provider")
	}
	if c.Fees.MinCommission < 0 {
		return fmt.Errorf("fees.min_commission must not be negative: %v", c.Fees.MinCommission)
	}
	for i, tier := range c.Fees.Tiers {
		if tier.MinNotional < 0 || tier.Bps < 0 {
			return fmt.Errorf("fees.tiers[%d] must not be negative: %+v", i, tier)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.service_name", "order-exec")
	v.SetDefault("app.env", "dev")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.metrics_path", "/metrics")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", "5s")
	v.SetDefault("http.write_timeout", "10s")
	v.SetDefault("http.idle_timeout", "60s")

	v.SetDefault("postgres.dsn", "")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.transition_topic", "orders.transitions")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("gateway.provider", "simulator")
	v.SetDefault("gateway.submit_timeout", "10s")
	v.SetDefault("gateway.submit_attempts", 3)
	v.SetDefault("gateway.confirm_attempts", 5)
	v.SetDefault("gateway.max_concurrent", 64)

	v.SetDefault("risk.instrument_blocked", 0.50)
	v.SetDefault("risk.instrument_elevated", 0.25)
	v.SetDefault("risk.account_gross", 1.0)

	v.SetDefault("fees.min_commission", 1.0)
	v.SetDefault("fees.tiers", []map[string]any{
		{"min_notional": 0, "bps": 10},
		{"min_notional": 100_000, "bps": 7},
		{"min_notional": 1_000_000, "bps": 4},
	})

	v.SetDefault("rate_limit.limit", 30)
	v.SetDefault("rate_limit.window", "1m")
}
