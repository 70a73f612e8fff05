package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackzampolin/enrich/internal/enrich"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.LLMProviders["openrouter"].APIKey != "${OPENROUTER_API_KEY}" {
		t.Error("expected openrouter API key placeholder")
	}
	if cfg.Defaults.LLMProvider != "openrouter" {
		t.Errorf("default provider = %q", cfg.Defaults.LLMProvider)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestEnrichCfg_Options(t *testing.T) {
	opts := DefaultConfig().Enrich.Options()
	if opts.BaseDelay != enrich.DefaultBaseDelay || opts.MaxDelay != enrich.DefaultMaxDelay {
		t.Errorf("delays = %v/%v", opts.BaseDelay, opts.MaxDelay)
	}
	if opts.InterWavePace != 500*time.Millisecond {
		t.Errorf("InterWavePace = %v", opts.InterWavePace)
	}
	if err := opts.Validate(); err != nil {
		t.Errorf("converted defaults should validate: %v", err)
	}
}

func TestResolveEnvVars(t *testing.T) {
	t.Run("resolves environment variable", func(t *testing.T) {
		t.Setenv("TEST_API_KEY", "secret123")

		result := ResolveEnvVars("${TEST_API_KEY}")
		if result != "secret123" {
			t.Errorf("expected secret123, got %s", result)
		}
	})

	t.Run("returns empty for missing env var", func(t *testing.T) {
		result := ResolveEnvVars("${DEFINITELY_NOT_SET_12345}")
		if result != "" {
			t.Errorf("expected empty string, got %s", result)
		}
	})

	t.Run("leaves literal values unchanged", func(t *testing.T) {
		result := ResolveEnvVars("literal-value")
		if result != "literal-value" {
			t.Errorf("expected literal-value, got %s", result)
		}
	})
}

func TestToProviderRegistryConfig(t *testing.T) {
	t.Setenv("TEST_OPENROUTER_KEY", "or-key-123")

	cfg := &Config{
		LLMProviders: map[string]LLMProviderCfg{
			"openrouter": {Type: "openrouter", Model: "m", APIKey: "${TEST_OPENROUTER_KEY}", RateLimit: 60, Enabled: true},
		},
	}
	reg := cfg.ToProviderRegistryConfig()
	p, ok := reg.Providers["openrouter"]
	if !ok {
		t.Fatal("openrouter missing from registry config")
	}
	if p.APIKey != "or-key-123" || p.RPM != 60 || !p.Enabled || p.Model != "m" {
		t.Errorf("provider config = %+v", p)
	}
}

func TestManager(t *testing.T) {
	t.Run("missing file uses defaults", func(t *testing.T) {
		cm, err := NewManager(filepath.Join(t.TempDir(), "missing.yaml"))
		if err != nil {
			t.Fatalf("NewManager() error = %v", err)
		}
		if cm.Get().Server.Port != "8080" {
			t.Errorf("port = %q", cm.Get().Server.Port)
		}
	})

	t.Run("file overrides defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		os.WriteFile(path, []byte("enrich:\n  batch_size: 9\nserver:\n  port: \"9999\"\n"), 0o644)

		cm, err := NewManager(path)
		if err != nil {
			t.Fatalf("NewManager() error = %v", err)
		}
		cfg := cm.Get()
		if cfg.Enrich.BatchSize != 9 || cfg.Server.Port != "9999" {
			t.Errorf("cfg = %+v / %+v", cfg.Enrich, cfg.Server)
		}
		if cfg.Enrich.Concurrency != enrich.DefaultConcurrency {
			t.Errorf("unset field lost its default: concurrency = %d", cfg.Enrich.Concurrency)
		}
	})

	t.Run("env overrides file", func(t *testing.T) {
		t.Setenv("ENRICH_SERVER_PORT", "7070")
		cm, err := NewManager(filepath.Join(t.TempDir(), "missing.yaml"))
		if err != nil {
			t.Fatalf("NewManager() error = %v", err)
		}
		if cm.Get().Server.Port != "7070" {
			t.Errorf("port = %q, want 7070", cm.Get().Server.Port)
		}
	})

	t.Run("invalid values rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		os.WriteFile(path, []byte("enrich:\n  inter_wave_pace_seconds: 30\n"), 0o644)
		if _, err := NewManager(path); err == nil {
			t.Error("expected validation error")
		}
	})
}

func TestManager_WatchConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("enrich:\n  batch_size: 4\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cm, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	var calls atomic.Int32
	changed := make(chan struct{}, 4)
	cm.OnChange(func(cfg *Config) {
		calls.Add(1)
		changed <- struct{}{}
	})
	cm.WatchConfig()

	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("enrich:\n  batch_size: 7\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("OnChange callback not invoked")
	}
	if cm.Get().Enrich.BatchSize != 7 {
		t.Errorf("batch size after reload = %d, want 7", cm.Get().Enrich.BatchSize)
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	data, _ := os.ReadFile(path)
	if !strings.HasPrefix(string(data), "# Enrich configuration") {
		t.Error("missing header")
	}

	cm, err := NewManager(path)
	if err != nil {
		t.Fatalf("written default should load: %v", err)
	}
	if cm.Get().Enrich.BatchSize != enrich.DefaultBatchSize {
		t.Errorf("batch size = %d", cm.Get().Enrich.BatchSize)
	}
}

func TestDefaultEntries(t *testing.T) {
	seen := map[string]bool{}
	for _, e := range DefaultEntries() {
		if seen[e.Key] {
			t.Errorf("duplicate key %s", e.Key)
		}
		seen[e.Key] = true
		if e.Description == "" {
			t.Errorf("%s has no description", e.Key)
		}
	}

	v, err := DefaultValue("enrich.batch_size")
	if err != nil || v != enrich.DefaultBatchSize {
		t.Errorf("DefaultValue() = %v, %v", v, err)
	}
	if _, err := DefaultValue("nope"); !errors.Is(err, ErrNoDefault) {
		t.Errorf("DefaultValue(nope) error = %v", err)
	}
}

func TestEnrichCfg_Override(t *testing.T) {
	base := DefaultConfig().Enrich
	got := base.Override(EnrichCfg{BatchSize: 2, Model: "m", Structured: true})
	if got.BatchSize != 2 || got.Model != "m" || !got.Structured {
		t.Errorf("overrides not applied: %+v", got)
	}
	if got.Concurrency != base.Concurrency || got.InterWavePaceSeconds != base.InterWavePaceSeconds {
		t.Errorf("zero fields should keep base values: %+v", got)
	}
}
