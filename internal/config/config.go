// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// History backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Analysis providers.
const (
	ProviderSample = "sample"
	ProviderRemote = "remote"
	ProviderLabels = "labels"
)

// Config is the full runtime configuration.
type Config struct {
	Addr string
	Env  string

	DatabaseURL    string
	HistoryBackend string
	SQLitePath     string
	Redis          RedisConfig

	AnalysisProvider string
	AnalysisTimeout  time.Duration
	NutritionTable   string

	LLM         LLMConfig
	AWSRegion   string
	Rekognition RekognitionConfig
	S3          S3Config

	AuthDisabled bool
	ForwardAuth  ForwardAuthConfig
	OIDC         OIDCConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type LLMConfig struct {
	APIKey   string
	BaseURL  string
	Model    string
	SiteURL  string
	SiteName string
}

type RekognitionConfig struct {
	MaxLabels     int
	MinConfidence float64
}

// S3Config enables photo uploads when Bucket is set.
type S3Config struct {
	Bucket    string
	PublicURL string
}

// ForwardAuthConfig lets a reverse proxy in TrustedProxies name the user in
// the Remote-User header.
type ForwardAuthConfig struct {
	Enabled        bool
	TrustedProxies []netip.Prefix
}

// OIDCConfig enables SSO when Issuer is set.
type OIDCConfig struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// Load reads .env (if present) and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from environment variables only.
func FromEnv() (*Config, error) {
	var errs []error
	c := &Config{
		Addr:           env("ADDR", ":8080"),
		Env:            env("ENV", "development"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		HistoryBackend: env("HISTORY_BACKEND", BackendMemory),
		SQLitePath:     env("SQLITE_PATH", "calorielog.db"),
		Redis: RedisConfig{
			Addr:     env("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       envInt("REDIS_DB", 0, &errs),
		},
		AnalysisProvider: env("ANALYSIS_PROVIDER", ProviderSample),
		AnalysisTimeout:  envDuration("ANALYSIS_TIMEOUT", 30*time.Second, &errs),
		NutritionTable:   os.Getenv("NUTRITION_TABLE"),
		LLM: LLMConfig{
			APIKey:   os.Getenv("LLM_API_KEY"),
			BaseURL:  env("LLM_BASE_URL", "https://openrouter.ai/api/v1"),
			Model:    env("LLM_MODEL", "google/gemini-2.0-pro-exp-02-05:free"),
			SiteURL:  env("LLM_SITE_URL", "app://calories-tracker"),
			SiteName: env("LLM_SITE_NAME", "Calories Tracker"),
		},
		AWSRegion: os.Getenv("AWS_REGION"),
		Rekognition: RekognitionConfig{
			MaxLabels:     envInt("REKOGNITION_MAX_LABELS", 10, &errs),
			MinConfidence: envFloat("REKOGNITION_MIN_CONFIDENCE", 75, &errs),
		},
		S3: S3Config{
			Bucket:    os.Getenv("S3_BUCKET"),
			PublicURL: os.Getenv("S3_PUBLIC_URL"),
		},
		OIDC: OIDCConfig{
			Issuer:       os.Getenv("OIDC_ISSUER"),
			ClientID:     os.Getenv("OIDC_CLIENT_ID"),
			ClientSecret: os.Getenv("OIDC_CLIENT_SECRET"),
			RedirectURL:  os.Getenv("OIDC_REDIRECT_URL"),
		},
	}
	// Accounts need a durable user table, which only postgres provides.
	c.AuthDisabled = envBool("AUTH_DISABLED", c.HistoryBackend != BackendPostgres, &errs)
	c.ForwardAuth = ForwardAuthConfig{
		Enabled:        envBool("FORWARD_AUTH", false, &errs),
		TrustedProxies: envPrefixes("FORWARD_AUTH_TRUSTED_PROXIES", "127.0.0.1/32,::1/128", &errs),
	}
	errs = append(errs, c.validate()...)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return c, nil
}

func (c *Config) validate() []error {
	var errs []error
	switch c.HistoryBackend {
	case BackendMemory, BackendSQLite, BackendRedis:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown HISTORY_BACKEND %q", c.HistoryBackend))
	}
	if !c.AuthDisabled && (c.HistoryBackend == BackendSQLite || c.HistoryBackend == BackendRedis) {
		errs = append(errs, fmt.Errorf("the %s backend runs single-user: set AUTH_DISABLED=true", c.HistoryBackend))
	}
	if c.ForwardAuth.Enabled && len(c.ForwardAuth.TrustedProxies) == 0 {
		errs = append(errs, errors.New("FORWARD_AUTH needs at least one FORWARD_AUTH_TRUSTED_PROXIES entry"))
	}
	switch c.AnalysisProvider {
	case ProviderSample:
	case ProviderRemote:
		if c.LLM.APIKey == "" {
			errs = append(errs, errors.New("LLM_API_KEY is required for the remote provider"))
		}
	case ProviderLabels:
		if c.AWSRegion == "" {
			errs = append(errs, errors.New("AWS_REGION is required for the labels provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ANALYSIS_PROVIDER %q", c.AnalysisProvider))
	}
	if c.AnalysisTimeout <= 0 {
		errs = append(errs, errors.New("ANALYSIS_TIMEOUT must be positive"))
	}
	if c.S3.Bucket != "" && c.AWSRegion == "" {
		errs = append(errs, errors.New("AWS_REGION is required when S3_BUCKET is set"))
	}
	return errs
}

// SSOEnabled reports whether OIDC login is configured.
func (c *Config) SSOEnabled() bool {
	return c.OIDC.Issuer != "" && c.OIDC.ClientID != ""
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int, errs *[]error) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64, errs *[]error) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return f
}

func envBool(key string, fallback bool, errs *[]error) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return b
}

func envDuration(key string, fallback time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return d
}

func envPrefixes(key, fallback string, errs *[]error) []netip.Prefix {
	var out []netip.Prefix
	for _, f := range strings.Split(env(key, fallback), ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		p, err := netip.ParsePrefix(f)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
			continue
		}
		out = append(out, p.Masked())
	}
	return out
}
