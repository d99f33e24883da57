package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the process configuration, read from the environment.
type Config struct {
	DatabaseURL    string
	ListenAddr     string
	AllowedOrigins []string

	ProviderURL    string
	ProviderAPIKey string
	ProviderRPS    float64
	// ProviderStub swaps the generation API for deterministic fake URLs.
	ProviderStub bool
	AssetBaseURL string

	MaxConcurrency     int
	DebounceDelay      time.Duration
	PlaceholderLatency time.Duration

	LogLevel  slog.Level
	LogFormat string
}

func defaults() Config {
	return Config{
		ListenAddr:         ":8080",
		AllowedOrigins:     []string{"http://localhost:3003"},
		ProviderRPS:        2,
		MaxConcurrency:     5,
		DebounceDelay:      150 * time.Millisecond,
		PlaceholderLatency: 2 * time.Second,
		LogLevel:           slog.LevelInfo,
		LogFormat:          "json",
	}
}

// Load reads an optional .env file into the environment, without
// overriding variables already set, and then parses the environment.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from lookup. Unset variables keep their defaults.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	cfg := defaults()
	var errs []error

	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get("DATABASE_URL"); ok {
		cfg.DatabaseURL = v
	} else {
		errs = append(errs, errors.New("DATABASE_URL is not set"))
	}
	if v, ok := get("LISTEN_ADDR"); ok {
		cfg.ListenAddr = v
	}
	if v, ok := get("ALLOWED_ORIGINS"); ok {
		cfg.AllowedOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}

	cfg.ProviderURL, _ = get("PROVIDER_URL")
	cfg.ProviderAPIKey, _ = get("PROVIDER_API_KEY")
	cfg.AssetBaseURL, _ = get("ASSET_BASE_URL")

	if v, ok := get("PROVIDER_RPS"); ok {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil || rps <= 0 {
			errs = append(errs, fmt.Errorf("PROVIDER_RPS: invalid value %q", v))
		} else {
			cfg.ProviderRPS = rps
		}
	}
	if v, ok := get("PROVIDER_STUB"); ok {
		stub, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("PROVIDER_STUB: %w", err))
		}
		cfg.ProviderStub = stub
	} else {
		cfg.ProviderStub = cfg.ProviderURL == ""
	}
	if !cfg.ProviderStub && cfg.ProviderURL == "" {
		errs = append(errs, errors.New("PROVIDER_URL is required unless PROVIDER_STUB is set"))
	}

	if v, ok := get("MAX_CONCURRENCY"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			errs = append(errs, fmt.Errorf("MAX_CONCURRENCY: invalid value %q", v))
		} else {
			cfg.MaxConcurrency = n
		}
	}
	if v, ok := get("DEBOUNCE_DELAY"); ok {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			errs = append(errs, fmt.Errorf("DEBOUNCE_DELAY: invalid value %q", v))
		} else {
			cfg.DebounceDelay = d
		}
	}
	if v, ok := get("PLACEHOLDER_LATENCY"); ok {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			errs = append(errs, fmt.Errorf("PLACEHOLDER_LATENCY: invalid value %q", v))
		} else {
			cfg.PlaceholderLatency = d
		}
	}

	if v, ok := get("LOG_LEVEL"); ok {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
		}
	}
	if v, ok := get("LOG_FORMAT"); ok {
		switch strings.ToLower(v) {
		case "json", "text":
			cfg.LogFormat = strings.ToLower(v)
		default:
			errs = append(errs, fmt.Errorf("LOG_FORMAT: want json or text, got %q", v))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Logger builds the process logger described by the config.
func (c Config) Logger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
