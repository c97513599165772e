package config

import (
	"log/slog"
	"net"
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

type ServerConfig struct {
	Address     string `mapstructure:"address"`
	Environment string `mapstructure:"environment"`
}

// RouteConfig is one routing rule: requests whose path starts with Prefix
// go to Addr, with the prefix optionally stripped first.
type RouteConfig struct {
	Prefix      string `mapstructure:"prefix"`
	Addr        string `mapstructure:"addr"`
	StripPrefix bool   `mapstructure:"strip_prefix"`
}

type TimeoutConfig struct {
	Connect  string `mapstructure:"connect"`
	IdleRead string `mapstructure:"idle_read"`
	Total    string `mapstructure:"total"`
}

type PoolConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	MaxIdlePerTarget int    `mapstructure:"max_idle_per_target"`
	IdleLifetime     string `mapstructure:"idle_lifetime"`
}

type BreakerConfig struct {
	Threshold    int    `mapstructure:"threshold"`
	ResetTimeout string `mapstructure:"reset_timeout"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type Config struct {
	Server   ServerConfig  `mapstructure:"server"`
	Routes   []RouteConfig `mapstructure:"routes"`
	Timeouts TimeoutConfig `mapstructure:"timeouts"`
	Pool     PoolConfig    `mapstructure:"pool"`
	Breaker  BreakerConfig `mapstructure:"breaker"`
	Logging  LoggingConfig `mapstructure:"logging"`
}

func Load() (*Config, error) {
	viper.SetDefault("server.environment", EnvDev)
	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("timeouts.connect", "5s")
	viper.SetDefault("timeouts.idle_read", "30s")
	viper.SetDefault("timeouts.total", "0s")
	viper.SetDefault("pool.enabled", true)
	viper.SetDefault("pool.max_idle_per_target", 8)
	viper.SetDefault("pool.idle_lifetime", "90s")
	viper.SetDefault("breaker.threshold", 5)
	viper.SetDefault("breaker.reset_timeout", "30s")
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
		validation.Field(&c.Routes,
			validation.Required,
			validation.Length(1, 0),
			validation.Each(validation.By(validateRouteConfig)),
			validation.By(validateUniquePrefixes),
		),
		validation.Field(&c.Timeouts,
			validation.By(func(value interface{}) error {
				tc, ok := value.(TimeoutConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a TimeoutConfig")
				}
				return validation.ValidateStruct(&tc,
					validation.Field(&tc.Connect, validation.Required, validation.By(validateDuration)),
					validation.Field(&tc.IdleRead, validation.Required, validation.By(validateDuration)),
					validation.Field(&tc.Total, validation.Required, validation.By(validateDuration)),
				)
			}),
		),
		validation.Field(&c.Pool,
			validation.By(func(value interface{}) error {
				pc, ok := value.(PoolConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a PoolConfig")
				}
				return validation.ValidateStruct(&pc,
					validation.Field(&pc.MaxIdlePerTarget, validation.Required, validation.Min(1)),
					validation.Field(&pc.IdleLifetime, validation.Required, validation.By(validateDuration)),
				)
			}),
		),
		validation.Field(&c.Breaker,
			validation.By(func(value interface{}) error {
				bc, ok := value.(BreakerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a BreakerConfig")
				}
				return validation.ValidateStruct(&bc,
					validation.Field(&bc.Threshold, validation.Required, validation.Min(1)),
					validation.Field(&bc.ResetTimeout, validation.Required, validation.By(validateDuration)),
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

func validateRouteConfig(value interface{}) error {
	route, ok := value.(RouteConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a RouteConfig")
	}

	if route.Prefix == "" {
		return validation.NewError("validation_empty_prefix", "route prefix cannot be empty")
	}

	host, port, err := net.SplitHostPort(route.Addr)
	if err != nil || host == "" || port == "" {
		return validation.NewError("validation_invalid_addr", "route addr must be in host:port format")
	}

	return nil
}

func validateUniquePrefixes(value interface{}) error {
	routes, ok := value.([]RouteConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a route list")
	}

	seen := make(map[string]struct{}, len(routes))
	for _, route := range routes {
		if _, dup := seen[route.Prefix]; dup {
			return validation.NewError("validation_duplicate_prefix", "duplicate route prefix "+route.Prefix)
		}
		seen[route.Prefix] = struct{}{}
	}

	return nil
}
