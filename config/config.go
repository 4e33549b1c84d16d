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

const (
	SyncDriverExec  = "exec"
	SyncDriverGoGit = "go-git"
)

type ServerConfig struct {
	Address     string `mapstructure:"address"`
	Environment string `mapstructure:"environment"`
}

type BackendConfig struct {
	Command          []string `mapstructure:"command"`
	Host             string   `mapstructure:"host"`
	Port             int      `mapstructure:"port"`
	ContentDir       string   `mapstructure:"content_dir"`
	StopGrace        string   `mapstructure:"stop_grace"`
	WatchdogInterval string   `mapstructure:"watchdog_interval"`
}

type SyncConfig struct {
	Driver          string   `mapstructure:"driver"`
	RepoPath        string   `mapstructure:"repo_path"`
	Command         []string `mapstructure:"command"`
	Remote          string   `mapstructure:"remote"`
	Timeout         string   `mapstructure:"timeout"`
	MinInterval     string   `mapstructure:"min_interval"`
	UpToDateMarkers []string `mapstructure:"up_to_date_markers"`
}

type ProxyConfig struct {
	MaxAttempts    int    `mapstructure:"max_attempts"`
	RetryDelay     string `mapstructure:"retry_delay"`
	AttemptTimeout string `mapstructure:"attempt_timeout"`
	MaxBodyBytes   int64  `mapstructure:"max_body_bytes"`
}

type AdminConfig struct {
	Address string `mapstructure:"address"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Backend BackendConfig `mapstructure:"backend"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Proxy   ProxyConfig   `mapstructure:"proxy"`
	Admin   AdminConfig   `mapstructure:"admin"`
	Logging LoggingConfig `mapstructure:"logging"`
}

func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("server.environment", EnvDev)
	v.SetDefault("server.address", ":8000")
	v.SetDefault("backend.command", []string{"hashcards", "drill"})
	v.SetDefault("backend.host", "0.0.0.0")
	v.SetDefault("backend.port", 8001)
	v.SetDefault("backend.content_dir", "/data/decks/cards")
	v.SetDefault("backend.stop_grace", "5s")
	v.SetDefault("backend.watchdog_interval", "5s")
	v.SetDefault("sync.driver", SyncDriverExec)
	v.SetDefault("sync.repo_path", "/data/decks")
	v.SetDefault("sync.command", []string{"git", "pull"})
	v.SetDefault("sync.remote", "origin")
	v.SetDefault("sync.timeout", "15s")
	v.SetDefault("sync.min_interval", "30s")
	v.SetDefault("sync.up_to_date_markers", []string{"Already up to date.", "Already up-to-date."})
	v.SetDefault("proxy.max_attempts", 10)
	v.SetDefault("proxy.retry_delay", "500ms")
	v.SetDefault("proxy.attempt_timeout", "30s")
	v.SetDefault("proxy.max_body_bytes", 32<<20)
	v.SetDefault("admin.address", "")
	v.SetDefault("logging.level", LogLevelInfo)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, err
		}
		slog.Info("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
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
		validation.Field(&c.Backend,
			validation.Required,
			validation.By(func(value interface{}) error {
				bc, ok := value.(BackendConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a BackendConfig")
				}
				return validation.ValidateStruct(&bc,
					validation.Field(&bc.Command,
						validation.Required,
						validation.Each(validation.Required),
					),
					validation.Field(&bc.Host,
						validation.Required,
						is.Host,
					),
					validation.Field(&bc.Port,
						validation.Required,
						validation.Min(1),
						validation.Max(65535),
					),
					validation.Field(&bc.ContentDir, validation.Required),
					validation.Field(&bc.StopGrace,
						validation.Required,
						validation.By(validateDuration),
					),
					validation.Field(&bc.WatchdogInterval,
						validation.Required,
						validation.By(validatePositiveDuration),
					),
				)
			}),
		),
		validation.Field(&c.Sync,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(SyncConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a SyncConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Driver,
						validation.Required,
						validation.In(SyncDriverExec, SyncDriverGoGit),
					),
					validation.Field(&sc.RepoPath, validation.Required),
					validation.Field(&sc.Command,
						validation.When(sc.Driver == SyncDriverExec,
							validation.Required,
							validation.Each(validation.Required),
						),
					),
					validation.Field(&sc.Remote,
						validation.When(sc.Driver == SyncDriverGoGit, validation.Required),
					),
					validation.Field(&sc.Timeout,
						validation.Required,
						validation.By(validatePositiveDuration),
					),
					validation.Field(&sc.MinInterval,
						validation.Required,
						validation.By(validateDuration),
					),
				)
			}),
		),
		validation.Field(&c.Proxy,
			validation.Required,
			validation.By(func(value interface{}) error {
				pc, ok := value.(ProxyConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ProxyConfig")
				}
				return validation.ValidateStruct(&pc,
					validation.Field(&pc.MaxAttempts,
						validation.Required,
						validation.Min(1),
					),
					validation.Field(&pc.RetryDelay,
						validation.Required,
						validation.By(validateDuration),
					),
					validation.Field(&pc.AttemptTimeout,
						validation.Required,
						validation.By(validatePositiveDuration),
					),
					validation.Field(&pc.MaxBodyBytes,
						validation.Required,
						validation.Min(int64(1)),
					),
				)
			}),
		),
		validation.Field(&c.Admin,
			validation.By(func(value interface{}) error {
				ac, ok := value.(AdminConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be an AdminConfig")
				}
				return validation.ValidateStruct(&ac,
					validation.Field(&ac.Address, validation.By(validateHostPort)),
				)
			}),
		),
	)
}

// Durations holds the parsed form of every duration string in the config.
type Durations struct {
	StopGrace        time.Duration
	WatchdogInterval time.Duration
	SyncTimeout      time.Duration
	SyncMinInterval  time.Duration
	RetryDelay       time.Duration
	AttemptTimeout   time.Duration
}

// ParseDurations converts the duration strings of a validated config.
func (c *Config) ParseDurations() (Durations, error) {
	var (
		d   Durations
		err error
	)

	fields := []struct {
		raw string
		dst *time.Duration
	}{
		{c.Backend.StopGrace, &d.StopGrace},
		{c.Backend.WatchdogInterval, &d.WatchdogInterval},
		{c.Sync.Timeout, &d.SyncTimeout},
		{c.Sync.MinInterval, &d.SyncMinInterval},
		{c.Proxy.RetryDelay, &d.RetryDelay},
		{c.Proxy.AttemptTimeout, &d.AttemptTimeout},
	}

	for _, f := range fields {
		if *f.dst, err = time.ParseDuration(f.raw); err != nil {
			return Durations{}, err
		}
	}

	return d, nil
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if addr == "" {
		return nil
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

	d, err := time.ParseDuration(durationStr)
	if err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 500ms, 5s, 1m)")
	}

	if d < 0 {
		return validation.NewError("validation_negative_duration", "must not be negative")
	}

	return nil
}

func validatePositiveDuration(value interface{}) error {
	if err := validateDuration(value); err != nil {
		return err
	}

	d, _ := time.ParseDuration(value.(string))
	if d == 0 {
		return validation.NewError("validation_zero_duration", "must be greater than zero")
	}

	return nil
}
