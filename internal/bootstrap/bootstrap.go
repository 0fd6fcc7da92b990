// Package bootstrap builds the adapters selected by configuration. Both
// binaries share it.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"calorielog/internal/adapter/kvstore"
	"calorielog/internal/adapter/memory"
	"calorielog/internal/adapter/postgres"
	"calorielog/internal/adapter/redis"
	"calorielog/internal/adapter/s3"
	"calorielog/internal/adapter/sqlite"
	"calorielog/internal/analysis"
	"calorielog/internal/config"
	"calorielog/internal/domain"
	"calorielog/internal/logger"
	"calorielog/internal/nutrition"
)

// Stores holds the repositories for one backend.
type Stores struct {
	History  domain.HistoryRepository
	Users    domain.UserRepository
	Sessions domain.SessionRepository

	closers []func() error
}

// Close releases backend connections.
func (s *Stores) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// OpenStores connects to the configured history backend. Users and sessions
// live in postgres when it is the backend and in memory otherwise.
func OpenStores(ctx context.Context, cfg *config.Config) (*Stores, error) {
	mem := memory.New()
	st := &Stores{Users: mem, Sessions: mem.NewSessionRepo()}

	switch cfg.HistoryBackend {
	case config.BackendMemory:
		st.History = mem
	case config.BackendSQLite:
		slot, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.SQLitePath, err)
		}
		st.History = kvstore.New(slot)
		st.closers = append(st.closers, slot.Close)
	case config.BackendRedis:
		slot, err := redis.Open(ctx, redis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
		st.History = kvstore.New(slot)
		st.closers = append(st.closers, slot.Close)
	case config.BackendPostgres:
		db, err := postgres.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		st.History, st.Users, st.Sessions = db, db, postgres.NewSessionRepo(db)
		st.closers = append(st.closers, db.Close)
	default:
		return nil, fmt.Errorf("unknown history backend %q", cfg.HistoryBackend)
	}

	logger.Info("history store ready", zap.String("backend", cfg.HistoryBackend))
	return st, nil
}

// LoadTable returns the configured nutrition table, or the built-in one.
func LoadTable(cfg *config.Config) (*nutrition.Table, error) {
	if cfg.NutritionTable == "" {
		return nutrition.Default()
	}
	return nutrition.Load(cfg.NutritionTable)
}

// NewProvider builds the analysis provider for cfg.AnalysisProvider.
func NewProvider(ctx context.Context, cfg *config.Config) (*analysis.Provider, error) {
	table, err := LoadTable(cfg)
	if err != nil {
		return nil, fmt.Errorf("nutrition table: %w", err)
	}
	sample := analysis.NewSampleStrategy(table, nil)

	var primary analysis.Strategy
	switch cfg.AnalysisProvider {
	case config.ProviderSample:
	case config.ProviderRemote:
		primary = analysis.NewChatStrategy(analysis.ChatConfig{
			APIKey:   cfg.LLM.APIKey,
			BaseURL:  cfg.LLM.BaseURL,
			Model:    cfg.LLM.Model,
			SiteURL:  cfg.LLM.SiteURL,
			SiteName: cfg.LLM.SiteName,
		}, nil)
	case config.ProviderLabels:
		detector, err := analysis.NewRekognitionDetector(ctx, cfg.AWSRegion)
		if err != nil {
			return nil, err
		}
		primary = analysis.NewLabelStrategy(detector, table, cfg.Rekognition.MaxLabels, cfg.Rekognition.MinConfidence)
	default:
		return nil, fmt.Errorf("unknown analysis provider %q", cfg.AnalysisProvider)
	}

	p := analysis.NewProvider(primary, sample, cfg.AnalysisTimeout)
	logger.Info("analysis provider ready",
		zap.String("primary", p.PrimaryName()),
		zap.Int("foods", table.Len()),
	)
	return p, nil
}

// NewImageStore returns an S3 image store, or nil when no bucket is set.
func NewImageStore(ctx context.Context, cfg *config.Config) (domain.ImageStore, error) {
	if cfg.S3.Bucket == "" {
		return nil, nil
	}
	client, err := s3.NewClient(ctx, cfg.AWSRegion)
	if err != nil {
		return nil, err
	}
	return s3.New(client, cfg.S3.Bucket, cfg.AWSRegion, cfg.S3.PublicURL), nil
}
