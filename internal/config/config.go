package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	ListenAddr      string `mapstructure:"listen_addr"`
	LogLevel        string `mapstructure:"log_level"`
	JWTSecret       string `mapstructure:"jwt_secret"`
	TokenTTLMinutes int    `mapstructure:"token_ttl_minutes"`

	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	DB        DBConfig        `mapstructure:"db"`
	Redis     RedisConfig     `mapstructure:"redis"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

type MQTTConfig struct {
	BrokerURL       string `mapstructure:"broker_url"`
	ClientID        string `mapstructure:"client_id"`
	TelemetryPrefix string `mapstructure:"telemetry_prefix"`
}

type DBConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"` // sqlite file
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"name"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
}

type RateLimitConfig struct {
	Enabled bool `mapstructure:"enabled"`
	RPS     int  `mapstructure:"rps"`
	Burst   int  `mapstructure:"burst"`
}

type TracingConfig struct {
	// OTLPEndpoint enables the OTLP/HTTP trace exporter when set.
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// Load reads the optional yaml config file and merges environment
// overrides (LABHUB_ prefix, dots become underscores).
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("token_ttl_minutes", 60)
	v.SetDefault("mqtt.broker_url", "mqtt://mosquitto:1883")
	v.SetDefault("mqtt.client_id", "labhub")
	v.SetDefault("mqtt.telemetry_prefix", "labhub/telemetry/")
	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.path", "labhub.db")
	v.SetDefault("db.ssl_mode", "disable")
	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.rps", 10)
	v.SetDefault("rate_limit.burst", 20)

	v.SetEnvPrefix("LABHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Secrets always win from the environment.
	if s := os.Getenv("LABHUB_JWT_SECRET"); s != "" {
		cfg.JWTSecret = s
	}
	if s := os.Getenv("LABHUB_DB_PASSWORD"); s != "" {
		cfg.DB.Password = s
	}
	if s := os.Getenv("LABHUB_REDIS_PASSWORD"); s != "" {
		cfg.Redis.Password = s
	}

	slog.Info("labhub config loaded", "listen", cfg.ListenAddr, "db", cfg.DB.Driver, "mqtt", cfg.MQTT.BrokerURL)
	return &cfg, nil
}

// SetupLogging installs the process-wide slog handler.
func SetupLogging(level string) {
	lvl := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	h := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(h))
}
