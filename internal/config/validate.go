package config

import (
	"fmt"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range e {
		sb.WriteString(" - ")
		sb.WriteString(err.Error())
		sb.WriteString("\n")
	}
	return sb.String()
}

// Validate checks a loaded Config for invalid or missing required values.
// JWT secret is only required outside dev mode.
func Validate(cfg *Config) error {
	var errs ValidationErrors

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, ValidationError{"server.port", "must be between 1 and 65535"})
	}
	if cfg.Database.Path == "" {
		errs = append(errs, ValidationError{"database.path", "must not be empty"})
	}
	if !cfg.Dev.Enabled && len(cfg.Auth.JWT.Secret) < 32 {
		errs = append(errs, ValidationError{"auth.jwt.secret", "must be at least 32 characters outside dev mode (set JWT_SECRET)"})
	}
	if cfg.Storage.Backend != "filesystem" && cfg.Storage.Backend != "s3" {
		errs = append(errs, ValidationError{"storage.backend", "must be \"filesystem\" or \"s3\""})
	}
	if cfg.Storage.Backend == "s3" && (cfg.Storage.S3 == nil || cfg.Storage.S3.Bucket == "") {
		errs = append(errs, ValidationError{"storage.s3.bucket", "required when storage.backend is \"s3\""})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
