package main

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is everything read from the environment at start-up.
type Config struct {
	Port      string
	LogLevel  string
	LogFormat string

	CatalogFile string

	StorefrontSecret string
	ProviderSecret   string

	ProviderURL     string
	ProviderToken   string
	ProviderShopID  string
	ProviderTimeout time.Duration

	GCPProject string
	GCPRegion  string
	GCPModel   string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	MailFrom     string

	MaxBacktracks int
}

func loadConfig() Config {
	return Config{
		Port:             env("PORT", "8080"),
		LogLevel:         strings.ToLower(env("LOG_LEVEL", "info")),
		LogFormat:        strings.ToLower(env("LOG_FORMAT", "text")),
		CatalogFile:      env("CATALOG_FILE", "catalog.hcl"),
		StorefrontSecret: env("STOREFRONT_WEBHOOK_SECRET", ""),
		ProviderSecret:   env("PROVIDER_WEBHOOK_SECRET", ""),
		ProviderURL:      env("PROVIDER_API_URL", ""),
		ProviderToken:    env("PROVIDER_API_TOKEN", ""),
		ProviderShopID:   env("PROVIDER_SHOP_ID", ""),
		ProviderTimeout:  durationEnv("PROVIDER_TIMEOUT", 15*time.Second),
		GCPProject:       env("GCP_PROJECT_ID", ""),
		GCPRegion:        env("GCP_REGION", ""),
		GCPModel:         env("GEMINI_MODEL", ""),
		SMTPHost:         env("SMTP_HOST", ""),
		SMTPPort:         intEnv("SMTP_PORT", 587),
		SMTPUsername:     env("SMTP_USERNAME", ""),
		SMTPPassword:     env("SMTP_PASSWORD", ""),
		MailFrom:         env("MAIL_FROM", "puzzles@localhost"),
		MaxBacktracks:    intEnv("MAX_BACKTRACKS", 0),
	}
}

// newLogger builds a slog.Logger for the given level and format. It does not
// touch the global logger.
func newLogger(levelStr, formatStr string, w io.Writer) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if formatStr == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func env(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func intEnv(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func durationEnv(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
