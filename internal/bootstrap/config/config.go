package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"hookdeploy/internal/bootstrap/logging"
	domaindeploy "hookdeploy/internal/domain/deploy"
	"hookdeploy/internal/errs"
)

const envPrefix = "HD"

type Config struct {
	App      AppConfig      `mapstructure:"app" json:"app" yaml:"app" toml:"app"`
	Database DatabaseConfig `mapstructure:"database" json:"database" yaml:"database" toml:"database"`
	Log      LogConfig      `mapstructure:"log" json:"log" yaml:"log" toml:"log"`
	Server   ServerConfig   `mapstructure:"server" json:"server" yaml:"server" toml:"server"`
	Ingress  IngressConfig  `mapstructure:"ingress" json:"ingress" yaml:"ingress" toml:"ingress"`
	Deploy   DeployConfig   `mapstructure:"deploy" json:"deploy" yaml:"deploy" toml:"deploy"`

	// FileUsed is the config file that was read, "" when running on defaults.
	FileUsed string `mapstructure:"-" json:"-" yaml:"-" toml:"-"`
}

type AppConfig struct {
	Name string `mapstructure:"name" json:"name" yaml:"name" toml:"name"`
	Env  string `mapstructure:"env" json:"env" yaml:"env" toml:"env"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver" json:"driver" yaml:"driver" toml:"driver"`
	DSN    string `mapstructure:"dsn" json:"dsn" yaml:"dsn" toml:"dsn"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" json:"level" yaml:"level" toml:"level"`
	Format string `mapstructure:"format" json:"format" yaml:"format" toml:"format"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr" json:"addr" yaml:"addr" toml:"addr"`
	OperatorToken   string        `mapstructure:"operator_token" json:"operator_token" yaml:"operator_token" toml:"operator_token"`
	MetricsEnabled  bool          `mapstructure:"metrics_enabled" json:"metrics_enabled" yaml:"metrics_enabled" toml:"metrics_enabled"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" json:"read_timeout" yaml:"read_timeout" toml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" json:"write_timeout" yaml:"write_timeout" toml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" json:"shutdown_timeout" yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

type IngressConfig struct {
	MatchMode       string `mapstructure:"match_mode" json:"match_mode" yaml:"match_mode" toml:"match_mode"`
	RateLimitPerMin int    `mapstructure:"rate_limit_per_min" json:"rate_limit_per_min" yaml:"rate_limit_per_min" toml:"rate_limit_per_min"`
	MaxBodyBytes    int64  `mapstructure:"max_body_bytes" json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
}

// ExactMatch reports whether repositories are matched by canonical owner/name.
func (c IngressConfig) ExactMatch() bool {
	mode, err := domaindeploy.ParseMatchMode(c.MatchMode)
	return err == nil && mode == domaindeploy.MatchExact
}

type DeployConfig struct {
	WorkDir              string        `mapstructure:"workdir" json:"workdir" yaml:"workdir" toml:"workdir"`
	Workers              int           `mapstructure:"workers" json:"workers" yaml:"workers" toml:"workers"`
	QueueSize            int           `mapstructure:"queue_size" json:"queue_size" yaml:"queue_size" toml:"queue_size"`
	LockWait             time.Duration `mapstructure:"lock_wait" json:"lock_wait" yaml:"lock_wait" toml:"lock_wait"`
	GitTimeout           time.Duration `mapstructure:"git_timeout" json:"git_timeout" yaml:"git_timeout" toml:"git_timeout"`
	HookTimeout          time.Duration `mapstructure:"hook_timeout" json:"hook_timeout" yaml:"hook_timeout" toml:"hook_timeout"`
	RecoverOnStart       bool          `mapstructure:"recover_on_start" json:"recover_on_start" yaml:"recover_on_start" toml:"recover_on_start"`
	MigrateCommand       []string      `mapstructure:"migrate_command" json:"migrate_command" yaml:"migrate_command" toml:"migrate_command"`
	CollectStaticCommand []string      `mapstructure:"collectstatic_command" json:"collectstatic_command" yaml:"collectstatic_command" toml:"collectstatic_command"`
}

// DeployBudget is the longest a started deploy can run: three git steps and
// two hooks, each at its timeout.
func (c DeployConfig) DeployBudget() time.Duration {
	return 3*c.GitTimeout + 2*c.HookTimeout
}

// StopTimeout bounds a graceful stop: the HTTP drain followed by the longest
// deploy that may still be running.
func (c Config) StopTimeout() time.Duration {
	return c.Server.ShutdownTimeout + c.Deploy.DeployBudget()
}

func Load(ctx context.Context, configFile string) (Config, error) {
	if ctx == nil {
		return Config{}, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return Config{}, errs.Wrap(err, "check context")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.config"))

	v := newViper(configFile)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile == "" && errors.As(err, &notFound) {
			// Keep default and env-backed config when no file is provided.
			logging.Warn(logCtx, "config file not found, fallback to defaults and env")
		} else {
			return Config{}, errs.Wrap(err, "read config")
		}
	} else {
		logging.Info(logCtx, "using config file", slog.String("path", v.ConfigFileUsed()))
	}

	cfg, err := decode(v)
	if err != nil {
		return Config{}, err
	}

	logging.Info(
		logCtx,
		"config loaded",
		slog.String("app", cfg.App.Name),
		slog.String("env", cfg.App.Env),
		slog.String("database_driver", cfg.Database.Driver),
		slog.String("server_addr", cfg.Server.Addr),
		slog.String("deploy_workdir", cfg.Deploy.WorkDir),
	)

	return cfg, nil
}

func newViper(configFile string) *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}
	return v
}

func decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errs.Wrap(err, "unmarshal config")
	}
	cfg.FileUsed = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return Config{}, errs.Wrap(err, "validate config")
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("database.dsn is required")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return errs.Wrap(err, "log.level")
	}
	if _, err := domaindeploy.ParseMatchMode(c.Ingress.MatchMode); err != nil {
		return errs.Wrap(err, "ingress.match_mode")
	}
	if c.Ingress.RateLimitPerMin < 0 {
		return errors.New("ingress.rate_limit_per_min must not be negative")
	}
	if c.Ingress.MaxBodyBytes <= 0 {
		return errors.New("ingress.max_body_bytes must be positive")
	}
	if strings.TrimSpace(c.Deploy.WorkDir) == "" {
		return errors.New("deploy.workdir is required")
	}
	if c.Deploy.Workers < 1 {
		return fmt.Errorf("deploy.workers must be at least 1, got %d", c.Deploy.Workers)
	}
	if c.Deploy.QueueSize < 1 {
		return fmt.Errorf("deploy.queue_size must be at least 1, got %d", c.Deploy.QueueSize)
	}
	for name, d := range map[string]time.Duration{
		"deploy.lock_wait":        c.Deploy.LockWait,
		"deploy.git_timeout":      c.Deploy.GitTimeout,
		"deploy.hook_timeout":     c.Deploy.HookTimeout,
		"server.shutdown_timeout": c.Server.ShutdownTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.Server.OperatorToken != "" {
		c.Server.OperatorToken = "<redacted>"
	}
	return c
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "hookdeploy")
	v.SetDefault("app.env", "local")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", ".hookdeploy/state.sqlite")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.operator_token", "")
	v.SetDefault("server.metrics_enabled", true)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("ingress.match_mode", string(domaindeploy.MatchSubstring))
	v.SetDefault("ingress.rate_limit_per_min", 0)
	v.SetDefault("ingress.max_body_bytes", 25<<20)

	v.SetDefault("deploy.workdir", ".")
	v.SetDefault("deploy.workers", 1)
	v.SetDefault("deploy.queue_size", 100)
	v.SetDefault("deploy.lock_wait", 15*time.Minute)
	v.SetDefault("deploy.git_timeout", 120*time.Second)
	v.SetDefault("deploy.hook_timeout", 300*time.Second)
	v.SetDefault("deploy.recover_on_start", true)
	v.SetDefault("deploy.migrate_command", []string{"./manage", "migrate"})
	v.SetDefault("deploy.collectstatic_command", []string{"./manage", "collectstatic", "--noinput"})
}
