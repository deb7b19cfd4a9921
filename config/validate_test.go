package config

import (
	"testing"
	"time"
)

func validConfig() *AppConfig {
	return &AppConfig{
		DBDriver:   "sqlite",
		DBPath:     "cms.db",
		AppEnv:     "prod",
		SessionTTL: 2 * time.Hour,
		CSRFKey:    "csrf-key-test-value",
		Pepper:     "pepper-test-value",
		TLSEnabled: true,
		Security: SecurityConfig{
			MaxLoginAttempts:   5,
			LockoutWindow:      15 * time.Minute,
			CSRFTokenTTL:       time.Hour,
			LimiterBackend:     "sql",
			LoginRatePerMinute: 30,
		},
		Uploads:      UploadsConfig{Dir: "data/uploads", MaxBytes: 5 << 20},
		Housekeeping: HousekeepingConfig{Enabled: true, Schedule: "@every 15m"},
	}
}

func TestValidateAcceptsProdConfig(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejectsDefaultSecretsInProd(t *testing.T) {
	cfg := validConfig()
	cfg.CSRFKey = defaultCSRFKey
	cfg.Pepper = defaultPepper
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for default secrets in prod")
	}
}

func TestValidateRejectsTLSDisabledInProd(t *testing.T) {
	cfg := validConfig()
	cfg.TLSEnabled = false
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for tls_disabled in prod")
	}
	cfg.Security.TrustedProxies = []string{"10.0.0.1"}
	if err := Validate(cfg); err != nil {
		t.Fatalf("trusted proxy terminating tls should be accepted: %v", err)
	}
}

func TestValidateAllowsDevDefaults(t *testing.T) {
	cfg := validConfig()
	cfg.AppEnv = "dev"
	cfg.CSRFKey = defaultCSRFKey
	cfg.Pepper = defaultPepper
	cfg.TLSEnabled = false
	cfg.Security.LimiterBackend = "memory"
	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected error for dev defaults: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*AppConfig){
		"driver":         func(c *AppConfig) { c.DBDriver = "mysql" },
		"sqlite path":    func(c *AppConfig) { c.DBPath = "" },
		"postgres url":   func(c *AppConfig) { c.DBDriver = "postgres"; c.DBURL = "" },
		"missing pepper": func(c *AppConfig) { c.Pepper = "" },
		"attempts":       func(c *AppConfig) { c.Security.MaxLoginAttempts = 0 },
		"window":         func(c *AppConfig) { c.Security.LockoutWindow = -time.Second },
		"csrf ttl":       func(c *AppConfig) { c.Security.CSRFTokenTTL = 0 },
		"session ttl":    func(c *AppConfig) { c.SessionTTL = 0 },
		"backend":        func(c *AppConfig) { c.Security.LimiterBackend = "etcd" },
		"redis addr":     func(c *AppConfig) { c.Security.LimiterBackend = "redis" },
		"memory in prod": func(c *AppConfig) { c.Security.LimiterBackend = "memory" },
		"upload size":    func(c *AppConfig) { c.Uploads.MaxBytes = 0 },
		"cron":           func(c *AppConfig) { c.Housekeeping.Schedule = "every now and then" },
	}
	for name, mutate := range cases {
		cfg := validConfig()
		mutate(cfg)
		if err := Validate(cfg); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestValidateSkipsScheduleWhenHousekeepingDisabled(t *testing.T) {
	cfg := validConfig()
	cfg.Housekeeping.Enabled = false
	cfg.Housekeeping.Schedule = "garbage"
	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
