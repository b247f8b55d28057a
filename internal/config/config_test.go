package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Env != "dev" {
		t.Fatalf("expected dev env, got %q", cfg.Env)
	}
	if cfg.Port != "8080" {
		t.Fatalf("expected port 8080, got %q", cfg.Port)
	}
	if cfg.OfferWindow != 45*time.Second {
		t.Fatalf("expected 45s offer window, got %v", cfg.OfferWindow)
	}
	if cfg.DispatchTick != 30*time.Second {
		t.Fatalf("expected 30s dispatch tick, got %v", cfg.DispatchTick)
	}
	if cfg.StaleAfter != 40*time.Minute {
		t.Fatalf("expected 40m stale cutoff, got %v", cfg.StaleAfter)
	}
	if cfg.DebounceWindow != 500*time.Millisecond {
		t.Fatalf("expected 500ms debounce, got %v", cfg.DebounceWindow)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("PORT", "9191")
	t.Setenv("OFFER_WINDOW", "10s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9191" {
		t.Fatalf("expected port 9191, got %q", cfg.Port)
	}
	if cfg.OfferWindow != 10*time.Second {
		t.Fatalf("expected 10s offer window, got %v", cfg.OfferWindow)
	}
}
