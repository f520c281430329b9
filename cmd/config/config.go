package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port      string `mapstructure:"SERVER_PORT"`
	Env       string `mapstructure:"ENV"`
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	DatabaseURL    string `mapstructure:"DB_URL"`
	DBMaxOpenConns int    `mapstructure:"DB_MAX_OPEN_CONNS"`
	DBMaxIdleConns int    `mapstructure:"DB_MAX_IDLE_CONNS"`
	StorageDriver  string `mapstructure:"STORAGE_DRIVER"`

	SecretKey string `mapstructure:"SECRET_KEY"`
	Timezone  string `mapstructure:"TIMEZONE"`

	FreeTierWeeklyLimit int           `mapstructure:"FREE_TIER_WEEKLY_LIMIT"`
	BookingMinLead      time.Duration `mapstructure:"BOOKING_MIN_LEAD"`
	SlotTodayBuffer     time.Duration `mapstructure:"SLOT_TODAY_BUFFER"`

	RTCAppID          string        `mapstructure:"RTC_APP_ID"`
	RTCAppCertificate string        `mapstructure:"RTC_APP_CERTIFICATE"`
	RTCTokenURL       string        `mapstructure:"RTC_TOKEN_URL"`
	RTCTokenTTL       time.Duration `mapstructure:"RTC_TOKEN_TTL"`
	RTCTimeout        time.Duration `mapstructure:"RTC_TIMEOUT"`

	StreamAPIKey    string `mapstructure:"STREAM_API_KEY"`
	StreamAPISecret string `mapstructure:"STREAM_API_SECRET"`

	SMTPHost string `mapstructure:"SMTP_HOST"`
	SMTPPort int    `mapstructure:"SMTP_PORT"`
	SMTPUser string `mapstructure:"SMTP_USER"`
	SMTPPass string `mapstructure:"SMTP_PASS"`
	SMTPFrom string `mapstructure:"SMTP_FROM"`

	ClassifierURL string `mapstructure:"CLASSIFIER_URL"`

	RedisURL        string        `mapstructure:"REDIS_URL"`
	CORSOrigins     []string      `mapstructure:"CORS_ORIGINS"`
	JobsEnabled     bool          `mapstructure:"JOBS_ENABLED"`
	StaleCallWindow time.Duration `mapstructure:"STALE_CALL_WINDOW"`
}

var keys = []string{
	"SERVER_PORT", "ENV", "LOG_LEVEL", "LOG_FORMAT",
	"DB_URL", "DB_MAX_OPEN_CONNS", "DB_MAX_IDLE_CONNS", "STORAGE_DRIVER",
	"SECRET_KEY", "TIMEZONE",
	"FREE_TIER_WEEKLY_LIMIT", "BOOKING_MIN_LEAD", "SLOT_TODAY_BUFFER",
	"RTC_APP_ID", "RTC_APP_CERTIFICATE", "RTC_TOKEN_URL", "RTC_TOKEN_TTL", "RTC_TIMEOUT",
	"STREAM_API_KEY", "STREAM_API_SECRET",
	"SMTP_HOST", "SMTP_PORT", "SMTP_USER", "SMTP_PASS", "SMTP_FROM",
	"CLASSIFIER_URL",
	"REDIS_URL", "CORS_ORIGINS", "JOBS_ENABLED", "STALE_CALL_WINDOW",
}

// Load reads .env (if present) and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("DB_MAX_OPEN_CONNS", 25)
	v.SetDefault("DB_MAX_IDLE_CONNS", 25)
	v.SetDefault("STORAGE_DRIVER", "postgres")
	v.SetDefault("TIMEZONE", "UTC")
	v.SetDefault("FREE_TIER_WEEKLY_LIMIT", 3)
	v.SetDefault("BOOKING_MIN_LEAD", "5m")
	v.SetDefault("SLOT_TODAY_BUFFER", "30m")
	v.SetDefault("RTC_TOKEN_TTL", "1h")
	v.SetDefault("RTC_TIMEOUT", "3s")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("JOBS_ENABLED", true)
	v.SetDefault("STALE_CALL_WINDOW", "2h")

	for _, k := range keys {
		v.BindEnv(k)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	if cfg.Env == "production" && cfg.LogFormat == "text" {
		cfg.LogFormat = "json"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.SecretKey == "" {
		return errors.New("SECRET_KEY is required")
	}
	if c.StorageDriver != "postgres" && c.StorageDriver != "memory" {
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}
	if c.StorageDriver == "postgres" && c.DatabaseURL == "" {
		return errors.New("DB_URL is required for the postgres storage driver")
	}
	if c.FreeTierWeeklyLimit < 0 {
		return errors.New("FREE_TIER_WEEKLY_LIMIT must not be negative")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid TIMEZONE: %w", err)
	}
	return nil
}

// Location is the clinic time zone used to interpret dates and slot labels.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
