// Copyright 2025 James Ross
package config

import (
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("nonexistent.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.AIMD.MaxCap != 64 {
		t.Fatalf("expected default aimd.max_cap 64, got %d", cfg.AIMD.MaxCap)
	}
	if cfg.Redis.Addr == "" {
		t.Fatalf("expected default redis addr")
	}
	if cfg.FairScheduler.QueueCap != 64 {
		t.Fatalf("expected default queue cap 64, got %d", cfg.FairScheduler.QueueCap)
	}
}

func TestValidateFails(t *testing.T) {
	cfg := defaultConfig()
	cfg.AIMD.MinCap = 0
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for aimd.min_cap < 1")
	}
	cfg = defaultConfig()
	cfg.AIMD.MDFactor = 1.0
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for md_factor out of range")
	}
	cfg = defaultConfig()
	cfg.Persistence.Backend = "postgres"
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for unknown persistence backend")
	}
}
