package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

var (
	ErrConfigNotFound = errors.New("config file not found")
)

type LoadOptions struct {
	ConfigFile string
	EnvPrefix  string
	Defaults   *Config
}

// Watcher wraps the viper instance that produced a loaded Config so a
// caller (--dev mode only) can be notified when the backing file changes
// on disk, without re-running Load's env/flag precedence from scratch.
type Watcher struct {
	v *viper.Viper
}

// Watch re-reads and validates the config on every file-change event
// fsnotify delivers through viper, invoking onChange with the result.
// A re-read that fails validation is logged by the caller via the error
// return, not retried; the previous in-memory Config is left untouched
// either way since Watch never mutates anything itself.
func (cw *Watcher) Watch(onChange func(*Config, error)) {
	cw.v.OnConfigChange(func(fsnotify.Event) {
		cfg := &Config{}
		if err := cw.v.Unmarshal(cfg); err != nil {
			onChange(nil, fmt.Errorf("unmarshaling config: %w", err))
			return
		}
		applyBareEnvOverrides(cfg)
		if err := Validate(cfg); err != nil {
			onChange(nil, err)
			return
		}
		onChange(cfg, nil)
	})
	cw.v.WatchConfig()
}

// Load reads configuration from (in ascending priority) built-in defaults,
// bunbase.yaml, then BUNBASE_-prefixed environment variables. It also
// honors the bare JWT_SECRET and STORAGE_DIR env vars without the prefix,
// for drop-in compatibility with the documented surface.
func Load(opts LoadOptions) (*Config, error) {
	cfg, _, err := load(opts)
	return cfg, err
}

// LoadWithWatch is Load plus a Watcher for dev-mode config hot reload: the
// returned Watcher shares the same viper instance the Config was built
// from, so a later Watch call observes changes to the exact file (or env
// prefix) this load resolved, not a freshly re-resolved search path.
func LoadWithWatch(opts LoadOptions) (*Config, *Watcher, error) {
	cfg, v, err := load(opts)
	if err != nil {
		return nil, nil, err
	}
	return cfg, &Watcher{v: v}, nil
}

func load(opts LoadOptions) (*Config, *viper.Viper, error) {
	v := viper.New()

	defaults := opts.Defaults
	if defaults == nil {
		defaults = Default()
	}
	setViperDefaults(v, defaults)

	if opts.EnvPrefix == "" {
		opts.EnvPrefix = "BUNBASE"
	}
	v.SetEnvPrefix(opts.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("bunbase")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/bunbase")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, nil, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	applyBareEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, nil, err
	}

	return cfg, v, nil
}

func applyBareEnvOverrides(cfg *Config) {
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWT.Secret = v
	}
	if v := os.Getenv("STORAGE_DIR"); v != "" {
		cfg.Storage.Dir = v
	}
	if v := os.Getenv("NODE_ENV"); v == "development" {
		cfg.Dev.Enabled = true
	}
}

func LoadFromFile(path string) (*Config, error) {
	return Load(LoadOptions{ConfigFile: path})
}

func LoadWithDefaults() (*Config, error) {
	return Load(LoadOptions{})
}

func setViperDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("server.host", cfg.Server.Host)
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.read_timeout", cfg.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", cfg.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", cfg.Server.IdleTimeout)
	v.SetDefault("server.max_body_size", cfg.Server.MaxBodySize)
	v.SetDefault("server.gzip_min_bytes", cfg.Server.GzipMinBytes)

	v.SetDefault("server.cors.enabled", cfg.Server.CORS.Enabled)
	v.SetDefault("server.cors.allowed_origins", cfg.Server.CORS.AllowedOrigins)
	v.SetDefault("server.cors.allowed_methods", cfg.Server.CORS.AllowedMethods)
	v.SetDefault("server.cors.allowed_headers", cfg.Server.CORS.AllowedHeaders)
	v.SetDefault("server.cors.allow_credentials", cfg.Server.CORS.AllowCredentials)
	v.SetDefault("server.cors.max_age", cfg.Server.CORS.MaxAge)

	v.SetDefault("database.path", cfg.Database.Path)
	v.SetDefault("database.wal_mode", cfg.Database.WALMode)
	v.SetDefault("database.cache_size", cfg.Database.CacheSize)
	v.SetDefault("database.busy_timeout", cfg.Database.BusyTimeout)
	v.SetDefault("database.foreign_keys", cfg.Database.ForeignKeys)
	v.SetDefault("database.max_open_conns", cfg.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", cfg.Database.MaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", cfg.Database.ConnMaxLifetime)

	v.SetDefault("auth.jwt.ttl", cfg.Auth.JWT.TTL)
	v.SetDefault("auth.jwt.issuer", cfg.Auth.JWT.Issuer)
	v.SetDefault("auth.password.min_length", cfg.Auth.Password.MinLength)
	v.SetDefault("auth.rate_limit.login.max", cfg.Auth.RateLimit.Login.Max)
	v.SetDefault("auth.rate_limit.login.window", cfg.Auth.RateLimit.Login.Window)
	v.SetDefault("auth.rate_limit.register.max", cfg.Auth.RateLimit.Register.Max)
	v.SetDefault("auth.rate_limit.register.window", cfg.Auth.RateLimit.Register.Window)

	v.SetDefault("storage.backend", cfg.Storage.Backend)
	v.SetDefault("storage.dir", cfg.Storage.Dir)

	v.SetDefault("realtime.enabled", cfg.Realtime.Enabled)
	v.SetDefault("realtime.ping_interval", cfg.Realtime.PingInterval)
	v.SetDefault("realtime.inactivity_timeout", cfg.Realtime.InactivityTimeout)
	v.SetDefault("realtime.sweep_interval", cfg.Realtime.SweepInterval)
	v.SetDefault("realtime.client_buffer_size", cfg.Realtime.ClientBufferSize)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)

	v.SetDefault("dev.enabled", cfg.Dev.Enabled)

	v.SetDefault("admin_ui.enabled", cfg.AdminUI.Enabled)
	v.SetDefault("admin_ui.path", cfg.AdminUI.Path)

	v.SetDefault("maintenance.checkpoint_schedule", cfg.Maintain.CheckpointSchedule)
	v.SetDefault("maintenance.orphan_sweep_schedule", cfg.Maintain.OrphanSweepSchedule)
}

func ConfigFilePath(customPath string) (string, error) {
	if customPath != "" {
		absPath, err := filepath.Abs(customPath)
		if err != nil {
			return "", fmt.Errorf("resolving config path: %w", err)
		}
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("config file not found: %s", absPath)
		}
		return absPath, nil
	}

	searchPaths := []string{"bunbase.yaml", "bunbase.yml", "/etc/bunbase/bunbase.yaml"}
	for _, p := range searchPaths {
		if _, err := os.Stat(p); err == nil {
			return filepath.Abs(p)
		}
	}

	return "", ErrConfigNotFound
}
