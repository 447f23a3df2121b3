package config

import (
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/viper"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

const (
	StrategyWeightedRandom     = "weighted-random"
	StrategyWeightedRoundRobin = "weighted-round-robin"
)

type ServerConfig struct {
	Address     string `mapstructure:"address"`
	Environment string `mapstructure:"environment"`
}

type ReviveThresholdConfig struct {
	RequiredSuccesses int `mapstructure:"required_successes"`
	WindowSize        int `mapstructure:"window_size"`
}

type MonitorConfig struct {
	PollingInterval     string                `mapstructure:"polling_interval"`
	PingPath            string                `mapstructure:"ping_path"`
	ReviveThreshold     ReviveThresholdConfig `mapstructure:"revive_threshold"`
	DefaultWeight       int                   `mapstructure:"default_weight"`
	MaxConcurrentProbes int                   `mapstructure:"max_concurrent_probes"`
}

type LatencyConfig struct {
	HistoryLen    uint    `mapstructure:"history_len"`
	RecentLen     uint    `mapstructure:"recent_len"`
	AbsoluteMax   float64 `mapstructure:"absolute_max"`
	PercentMax    float64 `mapstructure:"percent_max"`
	ClosingStreak uint    `mapstructure:"closing_streak"`
	ClosingMax    uint    `mapstructure:"closing_max"`
	RestingMax    uint    `mapstructure:"resting_max"`
}

type ClientConfig struct {
	Timeout string        `mapstructure:"timeout"`
	Retry   bool          `mapstructure:"retry"`
	Latency LatencyConfig `mapstructure:"latency"`
}

type StrategyConfig struct {
	Type string `mapstructure:"type"`
}

type BackendConfig struct {
	URL    string `mapstructure:"url"`
	Weight int    `mapstructure:"weight"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type Config struct {
	Server   ServerConfig    `mapstructure:"server"`
	Monitor  MonitorConfig   `mapstructure:"monitor"`
	Client   ClientConfig    `mapstructure:"client"`
	Strategy StrategyConfig  `mapstructure:"strategy"`
	Backends []BackendConfig `mapstructure:"backends"`
	Logging  LoggingConfig   `mapstructure:"logging"`
}

func Load() (*Config, error) {
	viper.SetDefault("server.environment", EnvDev)
	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("monitor.polling_interval", "5s")
	viper.SetDefault("monitor.ping_path", "/ping")
	viper.SetDefault("monitor.revive_threshold.required_successes", 10)
	viper.SetDefault("monitor.revive_threshold.window_size", 10)
	viper.SetDefault("monitor.default_weight", 50)
	viper.SetDefault("monitor.max_concurrent_probes", 0)
	viper.SetDefault("client.timeout", "5s")
	viper.SetDefault("client.retry", false)
	viper.SetDefault("strategy.type", StrategyWeightedRandom)
	viper.SetDefault("logging.level", LogLevelInfo)

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, err
		}
		slog.Warn("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", viper.ConfigFileUsed()))
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

// PollingInterval returns the parsed monitor interval. Validate guarantees it
// parses.
func (c *Config) PollingInterval() time.Duration {
	d, _ := time.ParseDuration(c.Monitor.PollingInterval)
	return d
}

// ClientTimeout returns the parsed per-attempt connector timeout.
func (c *Config) ClientTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Client.Timeout)
	return d
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(ServerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ServerConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Environment,
						validation.Required,
						validation.In(EnvDev, EnvStaging, EnvProd),
					),
					validation.Field(&sc.Address,
						validation.Required,
						validation.By(validateHostPort),
					),
				)
			}),
		),
		validation.Field(&c.Logging,
			validation.Required,
			validation.By(func(value interface{}) error {
				lc, ok := value.(LoggingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
				}
				return validation.ValidateStruct(&lc,
					validation.Field(&lc.Level,
						validation.Required,
						validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
					),
				)
			}),
		),
		validation.Field(&c.Monitor,
			validation.Required,
			validation.By(validateMonitorConfig),
		),
		validation.Field(&c.Client,
			validation.By(func(value interface{}) error {
				cc, ok := value.(ClientConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ClientConfig")
				}
				return validation.ValidateStruct(&cc,
					validation.Field(&cc.Timeout,
						validation.Required,
						validation.By(validateDuration),
					),
					validation.Field(&cc.Latency,
						validation.By(validateLatencyConfig),
					),
				)
			}),
		),
		validation.Field(&c.Backends,
			validation.Required,
			validation.Length(1, 0),
			validation.Each(validation.By(validateBackendConfig)),
			validation.By(validateUniqueBackends),
		),
		validation.Field(&c.Strategy,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(StrategyConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a StrategyConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Type,
						validation.Required,
						validation.In(StrategyWeightedRandom, StrategyWeightedRoundRobin),
					),
				)
			}),
		),
	)
}

func validateMonitorConfig(value interface{}) error {
	mc, ok := value.(MonitorConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a MonitorConfig")
	}

	return validation.ValidateStruct(&mc,
		validation.Field(&mc.PollingInterval,
			validation.Required,
			validation.By(validatePositiveDuration),
		),
		validation.Field(&mc.PingPath,
			validation.Required,
			validation.By(validatePath),
		),
		validation.Field(&mc.ReviveThreshold,
			validation.Required,
			validation.By(validateReviveThreshold),
		),
		validation.Field(&mc.DefaultWeight,
			validation.Required,
			validation.Min(1),
		),
		validation.Field(&mc.MaxConcurrentProbes,
			validation.Min(0),
		),
	)
}

func validateReviveThreshold(value interface{}) error {
	rt, ok := value.(ReviveThresholdConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a ReviveThresholdConfig")
	}

	if err := validation.ValidateStruct(&rt,
		validation.Field(&rt.RequiredSuccesses, validation.Required, validation.Min(1)),
		validation.Field(&rt.WindowSize, validation.Required, validation.Min(1)),
	); err != nil {
		return err
	}

	if rt.RequiredSuccesses > rt.WindowSize {
		return validation.NewError("validation_threshold_exceeds_window",
			"required_successes must not exceed window_size")
	}

	return nil
}

func validateLatencyConfig(value interface{}) error {
	lc, ok := value.(LatencyConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a LatencyConfig")
	}

	return validation.ValidateStruct(&lc,
		validation.Field(&lc.AbsoluteMax, validation.Min(0.0)),
		validation.Field(&lc.PercentMax, validation.Min(0.0)),
	)
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

func validateDuration(value interface{}) error {
	durationStr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if _, err := time.ParseDuration(durationStr); err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 2s, 5m, 1h)")
	}

	return nil
}

func validatePositiveDuration(value interface{}) error {
	if err := validateDuration(value); err != nil {
		return err
	}

	if d, _ := time.ParseDuration(value.(string)); d <= 0 {
		return validation.NewError("validation_non_positive_duration", "must be greater than zero")
	}

	return nil
}

func validatePath(value interface{}) error {
	path, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if !strings.HasPrefix(path, "/") {
		return validation.NewError("validation_invalid_path", "must start with /")
	}

	return nil
}

func validateBackendConfig(value interface{}) error {
	backend, ok := value.(BackendConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a BackendConfig")
	}

	if backend.URL == "" {
		return validation.NewError("validation_empty_url", "backend URL cannot be empty")
	}

	parsedURL, err := url.Parse(backend.URL)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return validation.NewError("validation_invalid_scheme", "URL must use http or https scheme")
	}

	if parsedURL.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}

	if backend.Weight < 1 {
		return validation.NewError("validation_invalid_weight", "weight must be at least 1")
	}

	return nil
}

// validateUniqueBackends rejects two entries naming the same backend, since
// connectors are identified by their URL.
func validateUniqueBackends(value interface{}) error {
	backends, ok := value.([]BackendConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a list of BackendConfig")
	}

	seen := make(map[string]struct{}, len(backends))
	for _, b := range backends {
		key := backendKey(b.URL)
		if _, dup := seen[key]; dup {
			return validation.NewError("validation_duplicate_backend", "duplicate backend URL "+b.URL)
		}
		seen[key] = struct{}{}
	}

	return nil
}

func backendKey(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + strings.TrimRight(u.Path, "/")
}
