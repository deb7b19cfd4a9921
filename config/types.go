package config

import "time"

type AppConfig struct {
	DBDriver      string              `yaml:"db_driver" env:"CMS_DB_DRIVER"`
	DBURL         string              `yaml:"db_url" env:"CMS_DB_URL"`
	DBPath        string              `yaml:"db_path" env:"CMS_DB_PATH"`
	ListenAddr    string              `yaml:"listen_addr" env:"CMS_LISTEN_ADDR" env-default:"0.0.0.0:8080"`
	AppEnv        string              `yaml:"app_env" env:"CMS_APP_ENV" env-default:"prod"`
	SessionTTL    time.Duration       `yaml:"session_ttl" env:"CMS_SESSION_TTL" env-default:"2h"`
	CSRFKey       string              `yaml:"csrf_key" env:"CMS_CSRF_KEY"`
	Pepper        string              `yaml:"pepper" env:"CMS_PEPPER"`
	IdentifierKey string              `yaml:"identifier_key" env:"CMS_IDENTIFIER_KEY"`
	TLSEnabled    bool                `yaml:"tls_enabled" env:"CMS_TLS_ENABLED"`
	TLSCert       string              `yaml:"tls_cert" env:"CMS_TLS_CERT"`
	TLSKey        string              `yaml:"tls_key" env:"CMS_TLS_KEY"`
	Security      SecurityConfig      `yaml:"security"`
	Redis         RedisConfig         `yaml:"redis"`
	Uploads       UploadsConfig       `yaml:"uploads"`
	Observability ObservabilityConfig `yaml:"observability"`
	Housekeeping  HousekeepingConfig  `yaml:"housekeeping"`
}

func (c *AppConfig) IsDev() bool {
	return c != nil && c.AppEnv == "dev"
}

type SecurityConfig struct {
	MaxLoginAttempts   int           `yaml:"max_login_attempts" env:"CMS_MAX_LOGIN_ATTEMPTS" env-default:"5"`
	LockoutWindow      time.Duration `yaml:"lockout_window" env:"CMS_LOCKOUT_WINDOW" env-default:"15m"`
	CSRFTokenTTL       time.Duration `yaml:"csrf_token_ttl" env:"CMS_CSRF_TOKEN_TTL" env-default:"1h"`
	LimiterBackend     string        `yaml:"limiter_backend" env:"CMS_LIMITER_BACKEND" env-default:"sql"`
	LimiterFailOpen    bool          `yaml:"limiter_fail_open" env:"CMS_LIMITER_FAIL_OPEN"`
	LoginRatePerMinute int           `yaml:"login_rate_per_minute" env:"CMS_LOGIN_RATE_PER_MINUTE" env-default:"30"`
	TrustedProxies     []string      `yaml:"trusted_proxies" env:"CMS_TRUSTED_PROXIES" env-separator:","`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"CMS_REDIS_ADDR"`
	Password string `yaml:"password" env:"CMS_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"CMS_REDIS_DB"`
}

type UploadsConfig struct {
	Dir          string   `yaml:"dir" env:"CMS_UPLOADS_DIR" env-default:"data/uploads"`
	MaxBytes     int64    `yaml:"max_bytes" env:"CMS_UPLOADS_MAX_BYTES" env-default:"5242880"`
	AllowedTypes []string `yaml:"allowed_types" env:"CMS_UPLOADS_ALLOWED_TYPES" env-separator:","`
}

type ObservabilityConfig struct {
	MetricsEnabled bool   `yaml:"metrics_enabled" env:"CMS_METRICS_ENABLED"`
	MetricsToken   string `yaml:"metrics_token" env:"CMS_METRICS_TOKEN"`
}

type HousekeepingConfig struct {
	Enabled  bool   `yaml:"enabled" env:"CMS_HOUSEKEEPING_ENABLED" env-default:"true"`
	Schedule string `yaml:"schedule" env:"CMS_HOUSEKEEPING_SCHEDULE" env-default:"@every 15m"`
}
