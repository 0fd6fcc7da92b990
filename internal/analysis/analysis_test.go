package analysis

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"calorielog/internal/domain"
	"calorielog/internal/logger"
	"calorielog/internal/nutrition"
)

func defaultTable(t *testing.T) *nutrition.Table {
	t.Helper()
	tbl, err := nutrition.Default()
	if err != nil {
		t.Fatalf("nutrition.Default: %v", err)
	}
	return tbl
}

func observeLogs(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	prev := logger.L()
	logger.Set(zap.New(core))
	t.Cleanup(func() { logger.Set(prev) })
	return logs
}

type stubStrategy struct {
	name string
	fn   func(ctx context.Context, image []byte) (*domain.RawAnalysis, error)
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) Analyze(ctx context.Context, image []byte) (*domain.RawAnalysis, error) {
	return s.fn(ctx, image)
}

func TestSampleStrategy_Properties(t *testing.T) {
	tbl := defaultTable(t)
	known := make(map[string]float64)
	for _, f := range tbl.Foods() {
		known[f.Name] = f.Calories
	}

	s := NewSampleStrategy(tbl, nil)
	for i := 0; i < 500; i++ {
		raw := s.Sample()
		if n := len(raw.Items); n < 1 || n > 3 {
			t.Fatalf("expected 1-3 items, got %d", n)
		}
		var sum float64
		for _, it := range raw.Items {
			cal, ok := known[*it.Name]
			if !ok {
				t.Fatalf("item %q is not in the table", *it.Name)
			}
			if *it.Calories != cal {
				t.Fatalf("item %q has %v calories, table says %v", *it.Name, *it.Calories, cal)
			}
			sum += cal
		}
		if raw.TotalCalories == nil || *raw.TotalCalories != sum {
			t.Fatalf("total %v does not equal item sum %v", raw.TotalCalories, sum)
		}
	}
}

func TestSampleStrategy_Deterministic(t *testing.T) {
	// 2 -> three items; then indexes 0, 3, 0 -> apple, pizza, apple.
	seq := []int{2, 0, 3, 0}
	var i int
	s := NewSampleStrategy(defaultTable(t), func(n int) int {
		v := seq[i] % n
		i++
		return v
	})

	raw, err := s.Analyze(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(raw.Items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(raw.Items))
	}
	if *raw.Items[1].Name != "Pizza Slice" {
		t.Fatalf("expected Pizza Slice, got %s", *raw.Items[1].Name)
	}
	if *raw.TotalCalories != 95+285+95 {
		t.Fatalf("expected 475, got %v", *raw.TotalCalories)
	}
}

func TestProvider_PrimarySuccess(t *testing.T) {
	name, cal := "Soup", 120.0
	primary := &stubStrategy{name: "stub", fn: func(context.Context, []byte) (*domain.RawAnalysis, error) {
		return &domain.RawAnalysis{Items: []domain.RawFoodItem{{Name: &name, Calories: &cal}}}, nil
	}}
	p := NewProvider(primary, NewSampleStrategy(defaultTable(t), nil), time.Second)

	raw := p.Analyze(context.Background(), []byte("img"))
	if len(raw.Items) != 1 || *raw.Items[0].Name != "Soup" {
		t.Fatalf("expected primary result, got %+v", raw)
	}
	if st := p.Stats(); st.Attempts != 1 || st.Fallbacks != 0 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestProvider_FallbackOnError(t *testing.T) {
	logs := observeLogs(t)
	tests := []struct {
		name string
		fn   func(context.Context, []byte) (*domain.RawAnalysis, error)
	}{
		{"error", func(context.Context, []byte) (*domain.RawAnalysis, error) {
			return nil, errors.New("boom")
		}},
		{"nil result", func(context.Context, []byte) (*domain.RawAnalysis, error) {
			return nil, nil
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := NewProvider(&stubStrategy{name: "stub", fn: tc.fn}, NewSampleStrategy(defaultTable(t), nil), 0)
			raw := p.Analyze(context.Background(), []byte("img"))
			if raw == nil || len(raw.Items) == 0 {
				t.Fatal("expected sample data")
			}
			if st := p.Stats(); st.Fallbacks != 1 {
				t.Fatalf("expected 1 fallback, got %+v", st)
			}
		})
	}
	if n := logs.FilterMessage("analysis failed, using sample data").Len(); n != 2 {
		t.Fatalf("expected 2 fallback log entries, got %d", n)
	}
}

func TestProvider_TimeoutFallsBack(t *testing.T) {
	var sawDeadline atomic.Bool
	primary := &stubStrategy{name: "slow", fn: func(ctx context.Context, _ []byte) (*domain.RawAnalysis, error) {
		_, ok := ctx.Deadline()
		sawDeadline.Store(ok)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	p := NewProvider(primary, NewSampleStrategy(defaultTable(t), nil), 20*time.Millisecond)

	raw := p.Analyze(context.Background(), nil)
	if raw == nil || len(raw.Items) == 0 {
		t.Fatal("expected sample data after timeout")
	}
	if !sawDeadline.Load() {
		t.Fatal("expected primary to run with a deadline")
	}
}

func TestProvider_NoPrimary(t *testing.T) {
	p := NewProvider(nil, NewSampleStrategy(defaultTable(t), nil), time.Second)
	if p.PrimaryName() != "sample" {
		t.Fatalf("expected sample, got %s", p.PrimaryName())
	}
	raw := p.Analyze(context.Background(), nil)
	if raw.TotalCalories == nil || *raw.TotalCalories < 0 {
		t.Fatalf("unexpected total %v", raw.TotalCalories)
	}
	if st := p.Stats(); st.Attempts != 0 {
		t.Fatalf("expected no attempts, got %+v", st)
	}
}
