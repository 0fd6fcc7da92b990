// Package analysis turns food photos into raw nutrition estimates.
//
// A Provider runs one primary Strategy and falls back to the local sample
// generator whenever the primary fails, so callers always get a result.
package analysis

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"calorielog/internal/domain"
	"calorielog/internal/logger"
)

// Strategy is one way of analysing an image.
type Strategy interface {
	Name() string
	Analyze(ctx context.Context, image []byte) (*domain.RawAnalysis, error)
}

// Provider tries a primary strategy and falls back to a strategy that cannot
// fail.
type Provider struct {
	primary  Strategy
	fallback *SampleStrategy
	timeout  time.Duration

	attempts  atomic.Int64
	fallbacks atomic.Int64
}

// Stats counts primary attempts and fallbacks since start.
type Stats struct {
	Attempts  int64 `json:"attempts"`
	Fallbacks int64 `json:"fallbacks"`
}

// NewProvider creates a Provider. A nil primary means the sample generator is
// used directly. timeout bounds each primary attempt; zero disables it.
func NewProvider(primary Strategy, fallback *SampleStrategy, timeout time.Duration) *Provider {
	return &Provider{primary: primary, fallback: fallback, timeout: timeout}
}

// Analyze never fails: any error from the primary strategy is logged and the
// sample generator answers instead.
func (p *Provider) Analyze(ctx context.Context, image []byte) *domain.RawAnalysis {
	if p.primary != nil {
		p.attempts.Add(1)
		raw, err := p.tryPrimary(ctx, image)
		if err == nil {
			return raw
		}
		p.fallbacks.Add(1)
		logger.Warn("analysis failed, using sample data",
			zap.String("strategy", p.primary.Name()),
			zap.Int("imageBytes", len(image)),
			zap.Error(err),
		)
	}
	return p.fallback.Sample()
}

func (p *Provider) tryPrimary(ctx context.Context, image []byte) (*domain.RawAnalysis, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	raw, err := p.primary.Analyze(ctx, image)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, errEmptyResult
	}
	return raw, nil
}

// Stats returns the attempt and fallback counters.
func (p *Provider) Stats() Stats {
	return Stats{Attempts: p.attempts.Load(), Fallbacks: p.fallbacks.Load()}
}

// PrimaryName names the configured primary strategy.
func (p *Provider) PrimaryName() string {
	if p.primary == nil {
		return p.fallback.Name()
	}
	return p.primary.Name()
}
