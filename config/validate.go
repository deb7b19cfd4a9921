package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

const (
	defaultCSRFKey = "Jc2qv0m1PZcC8q5sQw6kH3nR8yT1uVbXzA4dE7gF0hI"
	defaultPepper  = "sN9pL2kW5xQ8rT1vY4zB7cE0fH3jM6nP9sU2wX5aD8g"
)

func Validate(cfg *AppConfig) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	switch cfg.DBDriver {
	case "postgres":
		if strings.TrimSpace(cfg.DBURL) == "" {
			return fmt.Errorf("db_url must be set for postgres driver")
		}
	case "sqlite":
		if strings.TrimSpace(cfg.DBPath) == "" {
			return fmt.Errorf("db_path must be set for sqlite driver")
		}
	default:
		return fmt.Errorf("unsupported db_driver: %s", cfg.DBDriver)
	}
	csrk := strings.TrimSpace(cfg.CSRFKey)
	pep := strings.TrimSpace(cfg.Pepper)
	if csrk == "" || pep == "" {
		return fmt.Errorf("csrf_key and pepper must be set via env")
	}
	if cfg.SessionTTL <= 0 {
		return fmt.Errorf("session_ttl must be positive")
	}
	sec := cfg.Security
	if sec.MaxLoginAttempts <= 0 {
		return fmt.Errorf("security.max_login_attempts must be positive")
	}
	if sec.LockoutWindow <= 0 {
		return fmt.Errorf("security.lockout_window must be positive")
	}
	if sec.CSRFTokenTTL <= 0 {
		return fmt.Errorf("security.csrf_token_ttl must be positive")
	}
	if sec.LoginRatePerMinute < 0 {
		return fmt.Errorf("security.login_rate_per_minute must not be negative")
	}
	switch sec.LimiterBackend {
	case "sql", "memory":
	case "redis":
		if strings.TrimSpace(cfg.Redis.Addr) == "" {
			return fmt.Errorf("redis.addr must be set for the redis limiter backend")
		}
	default:
		return fmt.Errorf("unsupported security.limiter_backend: %s", sec.LimiterBackend)
	}
	if cfg.Uploads.MaxBytes <= 0 {
		return fmt.Errorf("uploads.max_bytes must be positive")
	}
	if cfg.Housekeeping.Enabled {
		if _, err := cron.ParseStandard(cfg.Housekeeping.Schedule); err != nil {
			return fmt.Errorf("housekeeping.schedule: %w", err)
		}
	}
	if !cfg.IsDev() {
		if isDefaultSecret(csrk) || isDefaultSecret(pep) {
			return fmt.Errorf("default secrets are not allowed outside APP_ENV=dev")
		}
		if !cfg.TLSEnabled && len(sec.TrustedProxies) == 0 {
			return fmt.Errorf("tls_enabled=false requires security.trusted_proxies outside APP_ENV=dev")
		}
		if sec.LimiterBackend == "memory" {
			return fmt.Errorf("memory limiter backend is only allowed in APP_ENV=dev")
		}
	}
	return nil
}

func isDefaultSecret(val string) bool {
	switch val {
	case defaultCSRFKey, defaultPepper:
		return true
	default:
		return false
	}
}
