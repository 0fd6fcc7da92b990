package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"calorielog/internal/adapter/storetest"
	"calorielog/internal/config"
	"calorielog/internal/domain"
)

func baseConfig() *config.Config {
	return &config.Config{
		HistoryBackend:   config.BackendMemory,
		AnalysisProvider: config.ProviderSample,
		AnalysisTimeout:  time.Second,
	}
}

func TestOpenStores_Memory(t *testing.T) {
	st, err := OpenStores(context.Background(), baseConfig())
	if err != nil {
		t.Fatalf("OpenStores: %v", err)
	}
	defer st.Close() //nolint:errcheck
	if st.History == nil || st.Users == nil || st.Sessions == nil {
		t.Fatalf("incomplete stores %+v", st)
	}
}

func TestOpenStores_SQLite(t *testing.T) {
	storetest.Run(t, func(t *testing.T) domain.HistoryRepository {
		cfg := baseConfig()
		cfg.HistoryBackend = config.BackendSQLite
		cfg.SQLitePath = filepath.Join(t.TempDir(), "history.db")
		st, err := OpenStores(context.Background(), cfg)
		if err != nil {
			t.Fatalf("OpenStores: %v", err)
		}
		t.Cleanup(func() { _ = st.Close() })
		return st.History
	})
}

func TestOpenStores_Unknown(t *testing.T) {
	cfg := baseConfig()
	cfg.HistoryBackend = "mongo"
	if _, err := OpenStores(context.Background(), cfg); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestNewProvider(t *testing.T) {
	tests := []struct {
		provider string
		want     string
	}{
		{config.ProviderSample, "sample"},
		{config.ProviderRemote, "remote"},
	}
	for _, tc := range tests {
		t.Run(tc.provider, func(t *testing.T) {
			cfg := baseConfig()
			cfg.AnalysisProvider = tc.provider
			cfg.LLM.APIKey = "k"
			p, err := NewProvider(context.Background(), cfg)
			if err != nil {
				t.Fatalf("NewProvider: %v", err)
			}
			if p.PrimaryName() != tc.want {
				t.Errorf("expected %s, got %s", tc.want, p.PrimaryName())
			}
		})
	}
}

func TestNewProvider_CustomTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "foods.yaml")
	yaml := "foods:\n  - key: kimchi\n    name: Kimchi\n    calories: 23\n    protein: 1.1\n    carbs: 4\n    fat: 0.2\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := baseConfig()
	cfg.NutritionTable = path

	p, err := NewProvider(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	raw := p.Analyze(context.Background(), []byte("img"))
	for _, it := range raw.Items {
		if *it.Name != "Kimchi" {
			t.Errorf("item from outside custom table: %s", *it.Name)
		}
	}
}

func TestNewProvider_BadTable(t *testing.T) {
	cfg := baseConfig()
	cfg.NutritionTable = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := NewProvider(context.Background(), cfg); err == nil {
		t.Fatal("expected error for missing table")
	}
}

func TestNewImageStore_Disabled(t *testing.T) {
	s, err := NewImageStore(context.Background(), baseConfig())
	if err != nil || s != nil {
		t.Fatalf("expected (nil, nil), got (%v, %v)", s, err)
	}
}
