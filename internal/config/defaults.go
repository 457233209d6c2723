package config

import "time"

// Default returns the built-in configuration defaults (port 8090, db
// bunbase.db, storage ./data/storage).
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8090,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
			MaxBodySize:  32 << 20,
			GzipMinBytes: 1024,
			CORS: CORSConfig{
				Enabled:          false,
				AllowedOrigins:   []string{"*"},
				AllowedMethods:   []string{"GET", "POST", "PATCH", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders:   []string{"Content-Type", "Authorization"},
				AllowCredentials: false,
				MaxAge:           10 * time.Minute,
			},
		},
		Database: DatabaseConfig{
			Path:            "bunbase.db",
			WALMode:         true,
			CacheSize:       -2000,
			BusyTimeout:     5 * time.Second,
			ForeignKeys:     true,
			MaxOpenConns:    1,
			MaxIdleConns:    1,
			ConnMaxLifetime: 0,
		},
		Auth: AuthConfig{
			JWT: JWTConfig{
				TTL:    24 * time.Hour,
				Issuer: "bunbase",
			},
			Password: PasswordConfig{MinLength: 8},
			RateLimit: AuthRateLimitConfig{
				Login:    RateLimitRule{Max: 10, Window: time.Minute},
				Register: RateLimitRule{Max: 5, Window: time.Minute},
			},
		},
		Storage: StorageConfig{
			Backend: "filesystem",
			Dir:     "./data/storage",
		},
		Realtime: RealtimeConfig{
			Enabled:           true,
			PingInterval:      30 * time.Second,
			InactivityTimeout: 5 * time.Minute,
			SweepInterval:     60 * time.Second,
			ClientBufferSize:  64,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Dev: DevConfig{Enabled: false},
		AdminUI: AdminUIConfig{
			Enabled: true,
			Path:    "/_",
		},
		Maintain: MaintainConfig{
			CheckpointSchedule:  "@every 5m",
			OrphanSweepSchedule: "@every 1h",
		},
	}
}
