// Package config provides configuration management for the server.
package config

import "time"

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Dev      DevConfig      `mapstructure:"dev"`
	AdminUI  AdminUIConfig  `mapstructure:"admin_ui"`
	Maintain MaintainConfig `mapstructure:"maintenance"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	CORS CORSConfig `mapstructure:"cors"`

	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`

	// MaxBodySize bounds request bodies in bytes (0 = unbounded).
	MaxBodySize int64 `mapstructure:"max_body_size"`

	// GzipMinBytes is the response size above which list/JSON bodies are
	// gzip-compressed. 0 disables compression.
	GzipMinBytes int `mapstructure:"gzip_min_bytes"`
}

func (s *ServerConfig) Address() string {
	return s.Host + ":" + itoa(s.Port)
}

type CORSConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	AllowedOrigins   []string      `mapstructure:"allowed_origins"`
	AllowedMethods   []string      `mapstructure:"allowed_methods"`
	AllowedHeaders   []string      `mapstructure:"allowed_headers"`
	ExposedHeaders   []string      `mapstructure:"exposed_headers"`
	AllowCredentials bool          `mapstructure:"allow_credentials"`
	MaxAge           time.Duration `mapstructure:"max_age"`
}

// DatabaseConfig holds SQLite gateway settings.
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	WALMode         bool          `mapstructure:"wal_mode"`
	CacheSize       int           `mapstructure:"cache_size"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
	ForeignKeys     bool          `mapstructure:"foreign_keys"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	JWT       JWTConfig           `mapstructure:"jwt"`
	Password  PasswordConfig      `mapstructure:"password"`
	RateLimit AuthRateLimitConfig `mapstructure:"rate_limit"`
}

type JWTConfig struct {
	// Secret signs bearer tokens. Required outside dev mode.
	Secret string        `mapstructure:"secret"`
	TTL    time.Duration `mapstructure:"ttl"`
	Issuer string        `mapstructure:"issuer"`
}

type PasswordConfig struct {
	MinLength int `mapstructure:"min_length"`
}

type AuthRateLimitConfig struct {
	Login    RateLimitRule `mapstructure:"login"`
	Register RateLimitRule `mapstructure:"register"`
}

type RateLimitRule struct {
	Max    int           `mapstructure:"max"`
	Window time.Duration `mapstructure:"window"`
}

// StorageConfig holds file store settings.
type StorageConfig struct {
	// Backend selects "filesystem" (default) or "s3".
	Backend string    `mapstructure:"backend"`
	Dir     string    `mapstructure:"dir"`
	S3      *S3Config `mapstructure:"s3"`
}

type S3Config struct {
	Bucket      string `mapstructure:"bucket"`
	Region      string `mapstructure:"region"`
	Endpoint    string `mapstructure:"endpoint"`
	AccessKeyID string `mapstructure:"access_key_id"`
	SecretKey   string `mapstructure:"secret_key"`
}

// RealtimeConfig holds SSE subsystem settings.
type RealtimeConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	PingInterval      time.Duration `mapstructure:"ping_interval"`
	InactivityTimeout time.Duration `mapstructure:"inactivity_timeout"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	ClientBufferSize  int           `mapstructure:"client_buffer_size"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DevConfig toggles development mode: verbose error bodies and a relaxed
// JWT_SECRET requirement.
type DevConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type AdminUIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// MaintainConfig holds the cron-driven maintenance jobs.
type MaintainConfig struct {
	CheckpointSchedule  string `mapstructure:"checkpoint_schedule"`
	OrphanSweepSchedule string `mapstructure:"orphan_sweep_schedule"`
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b [20]byte
	n := len(b)
	negative := i < 0
	if negative {
		i = -i
	}
	for i > 0 {
		n--
		b[n] = byte('0' + i%10)
		i /= 10
	}
	if negative {
		n--
		b[n] = '-'
	}
	return string(b[n:])
}
