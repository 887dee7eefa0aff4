// Package config loads service settings from .env and the environment.
package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Payroll   PayrollConfig
	Authority AuthorityConfig
	CORS      CORSConfig
	RateLimit RateLimitConfig
}

type AppConfig struct {
	Port     int
	Stage    string
	LogLevel string
}

type DatabaseConfig struct {
	Driver string // sqlite or postgres
	Path   string // sqlite file, ":memory:" for a throwaway store
	URL    string // postgres connection string
}

type PayrollConfig struct {
	// JurisdictionsFile is an optional YAML overlay over the built-in profiles.
	JurisdictionsFile string
}

type AuthorityConfig struct {
	URL     string
	Timeout time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// Load reads envFile if it exists, then the environment. Missing keys take
// their defaults.
func Load(envFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, err
			}
		}
	}

	return &Config{
		App: AppConfig{
			Port:     v.GetInt("APP_PORT"),
			Stage:    v.GetString("APP_STAGE"),
			LogLevel: v.GetString("LOG_LEVEL"),
		},
		Database: DatabaseConfig{
			Driver: strings.ToLower(v.GetString("DB_DRIVER")),
			Path:   v.GetString("DB_PATH"),
			URL:    v.GetString("DATABASE_URL"),
		},
		Payroll: PayrollConfig{
			JurisdictionsFile: v.GetString("JURISDICTIONS_FILE"),
		},
		Authority: AuthorityConfig{
			URL:     v.GetString("AUTHORITY_URL"),
			Timeout: time.Duration(v.GetInt("AUTHORITY_TIMEOUT_MS")) * time.Millisecond,
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: v.GetFloat64("RATE_LIMIT_RPS"),
			Burst:             v.GetInt("RATE_LIMIT_BURST"),
		},
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_PORT", 8080)
	v.SetDefault("APP_STAGE", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_DRIVER", "sqlite")
	v.SetDefault("DB_PATH", "payroll.db")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("JURISDICTIONS_FILE", "")
	v.SetDefault("AUTHORITY_URL", "http://localhost:8080")
	v.SetDefault("AUTHORITY_TIMEOUT_MS", 5000)
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("CORS_ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:8080")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
