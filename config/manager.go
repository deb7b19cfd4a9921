package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	defaultConfigPath = "config/app.yaml"
	envPrefix         = "CMS_"
)

var defaultAllowedUploadTypes = []string{
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/webp",
	"application/pdf",
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{}
	cfgPath := resolveConfigPath()
	if st, err := os.Stat(cfgPath); err == nil && !st.IsDir() {
		if err := cleanenv.ReadConfig(cfgPath, cfg); err != nil {
			return nil, err
		}
	} else if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, err
	}
	applyEnvAliases(cfg)
	normalizeConfig(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvAliases(cfg *AppConfig) {
	if cfg == nil {
		return
	}
	if v := getEnv("CSRF_KEY"); v != "" {
		cfg.CSRFKey = strings.TrimSpace(v)
	}
	if v := getEnv("PEPPER"); v != "" {
		cfg.Pepper = strings.TrimSpace(v)
	}
	if v := getEnv("ENV", "APP_ENV"); v != "" {
		cfg.AppEnv = strings.TrimSpace(v)
	}
	if v := getEnv("DATABASE_URL"); v != "" && cfg.DBURL == "" {
		cfg.DBURL = strings.TrimSpace(v)
	}
	if v := getEnv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = strings.TrimSpace(v)
	}
	if v := getEnv("PORT", envPrefix+"PORT"); v != "" {
		cfg.ListenAddr = listenAddrWithPort(cfg.ListenAddr, v)
	}
	if v := getEnv("DATA_PATH", envPrefix+"DATA_PATH"); v != "" {
		base := strings.TrimSpace(v)
		cfg.Uploads.Dir = filepathJoin(base, "uploads")
		if cfg.DBPath == "" {
			cfg.DBPath = filepathJoin(base, "cms.db")
		}
	}
	if v := getEnv("UPLOADS_MAX_BYTES"); v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			cfg.Uploads.MaxBytes = n
		}
	}
}

func normalizeConfig(cfg *AppConfig) {
	if cfg == nil {
		return
	}
	cfg.DBDriver = strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	cfg.DBURL = strings.TrimSpace(cfg.DBURL)
	cfg.DBPath = strings.TrimSpace(cfg.DBPath)
	cfg.ListenAddr = strings.TrimSpace(cfg.ListenAddr)
	cfg.AppEnv = strings.ToLower(strings.TrimSpace(cfg.AppEnv))
	cfg.CSRFKey = strings.TrimSpace(cfg.CSRFKey)
	cfg.Pepper = strings.TrimSpace(cfg.Pepper)
	cfg.IdentifierKey = strings.TrimSpace(cfg.IdentifierKey)
	if cfg.IdentifierKey == "" {
		cfg.IdentifierKey = cfg.CSRFKey
	}
	cfg.Security.LimiterBackend = strings.ToLower(strings.TrimSpace(cfg.Security.LimiterBackend))
	cfg.Redis.Addr = strings.TrimSpace(cfg.Redis.Addr)
	cfg.Uploads.Dir = strings.TrimSpace(cfg.Uploads.Dir)
	cfg.Housekeeping.Schedule = strings.TrimSpace(cfg.Housekeeping.Schedule)
	if cfg.DBDriver == "pg" {
		cfg.DBDriver = "postgres"
	}
	if cfg.DBDriver == "" {
		if cfg.DBURL == "" && cfg.DBPath != "" {
			cfg.DBDriver = "sqlite"
		} else {
			cfg.DBDriver = "postgres"
		}
	}
	if cfg.AppEnv == "" {
		cfg.AppEnv = "prod"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "0.0.0.0:8080"
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 2 * time.Hour
	}
	if cfg.Security.MaxLoginAttempts == 0 {
		cfg.Security.MaxLoginAttempts = 5
	}
	if cfg.Security.LockoutWindow == 0 {
		cfg.Security.LockoutWindow = 15 * time.Minute
	}
	if cfg.Security.CSRFTokenTTL == 0 {
		cfg.Security.CSRFTokenTTL = time.Hour
	}
	if cfg.Security.LimiterBackend == "" {
		cfg.Security.LimiterBackend = "sql"
	}
	if cfg.Security.LoginRatePerMinute == 0 {
		cfg.Security.LoginRatePerMinute = 30
	}
	if cfg.Uploads.Dir == "" {
		cfg.Uploads.Dir = filepathJoin("data", "uploads")
	}
	if cfg.Uploads.MaxBytes == 0 {
		cfg.Uploads.MaxBytes = 5 << 20
	}
	cfg.Uploads.AllowedTypes = normalizeList(cfg.Uploads.AllowedTypes)
	if len(cfg.Uploads.AllowedTypes) == 0 {
		cfg.Uploads.AllowedTypes = append([]string{}, defaultAllowedUploadTypes...)
	}
	cfg.Security.TrustedProxies = normalizeList(cfg.Security.TrustedProxies)
	if cfg.Housekeeping.Schedule == "" {
		cfg.Housekeeping.Schedule = "@every 15m"
	}
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getEnv(keys ...string) string {
	for _, key := range keys {
		if key == "" {
			continue
		}
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	return ""
}

func resolveConfigPath() string {
	if v := getEnv("APP_CONFIG", envPrefix+"APP_CONFIG"); v != "" {
		return strings.TrimSpace(v)
	}
	return defaultConfigPath
}

func listenAddrWithPort(currentAddr, portRaw string) string {
	port := strings.TrimSpace(portRaw)
	if port == "" {
		return currentAddr
	}
	if _, err := strconv.Atoi(port); err != nil {
		return currentAddr
	}
	host := "0.0.0.0"
	parts := strings.Split(strings.TrimSpace(currentAddr), ":")
	if len(parts) > 1 {
		host = strings.Join(parts[:len(parts)-1], ":")
	}
	if host == "" {
		host = "0.0.0.0"
	}
	return host + ":" + port
}

func filepathJoin(base, leaf string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return leaf
	}
	base = strings.TrimRight(base, "/\\")
	return base + string(os.PathSeparator) + leaf
}
