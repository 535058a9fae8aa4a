package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port          string        `mapstructure:"port"`
	HTTPTimeout   time.Duration `mapstructure:"-"`
	LogLevel      slog.Level    `mapstructure:"-"`
	LogLevelName  string        `mapstructure:"log_level"`
	TimeoutSecs   int           `mapstructure:"http_timeout_seconds"`
	SessionTTL    time.Duration `mapstructure:"-"`
	SessionTTLMin int           `mapstructure:"session_ttl_minutes"`

	GoogleProject   string `mapstructure:"google_cloud_project"`
	CredentialsJSON string `mapstructure:"google_application_credentials"` // path or raw JSON
	OAuthClientID   string `mapstructure:"oauth_client_id"`
	OAuthSecret     string `mapstructure:"oauth_client_secret"`
	OAuthRedirect   string `mapstructure:"oauth_redirect_url"`

	AdMobURL         string `mapstructure:"admob_api_url"`
	ReportTimeZone   string `mapstructure:"admob_timezone"`
	DefaultRangeDays int    `mapstructure:"default_range_days"`

	RedisAddr     string        `mapstructure:"redis_addr"`
	CacheTTL      time.Duration `mapstructure:"-"`
	CacheTTLSecs  int           `mapstructure:"report_cache_ttl_seconds"`
	AllowedOrigin []string      `mapstructure:"-"`
	OriginsCSV    string        `mapstructure:"allowed_origins"`

	SinkURL    string `mapstructure:"sink_url"`
	SinkSecret string `mapstructure:"sink_secret"`
}

var keys = []string{
	"port", "log_level", "http_timeout_seconds", "session_ttl_minutes",
	"google_cloud_project", "google_application_credentials",
	"oauth_client_id", "oauth_client_secret", "oauth_redirect_url",
	"admob_api_url", "admob_timezone", "default_range_days",
	"redis_addr", "report_cache_ttl_seconds", "allowed_origins",
	"sink_url", "sink_secret",
}

// FromEnv reads the configuration from environment variables only.
func FromEnv() (Config, error) { return Load("") }

// Load reads an optional config file and overlays environment variables.
// Keys in the file use the lower-case env names, e.g. redis_addr.
func Load(file string) (Config, error) {
	v := viper.New()
	v.SetDefault("port", "8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("http_timeout_seconds", 15)
	v.SetDefault("session_ttl_minutes", 60)
	v.SetDefault("admob_timezone", "America/Los_Angeles")
	v.SetDefault("default_range_days", 30)
	v.SetDefault("report_cache_ttl_seconds", 300)
	v.SetDefault("allowed_origins", "http://localhost:3000")

	v.AutomaticEnv()
	for _, k := range keys {
		_ = v.BindEnv(k, strings.ToUpper(k))
	}

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.HTTPTimeout = secondsOr(cfg.TimeoutSecs, 15)
	cfg.CacheTTL = secondsOr(cfg.CacheTTLSecs, 300)
	cfg.SessionTTL = time.Duration(cfg.SessionTTLMin) * time.Minute
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = time.Hour
	}
	if cfg.DefaultRangeDays <= 0 {
		cfg.DefaultRangeDays = 30
	}
	cfg.LogLevel = parseLevel(cfg.LogLevelName)
	cfg.AllowedOrigin = splitCSV(cfg.OriginsCSV)
	return cfg, nil
}

func parseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func secondsOr(n, def int) time.Duration {
	if n <= 0 {
		n = def
	}
	return time.Duration(n) * time.Second
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
