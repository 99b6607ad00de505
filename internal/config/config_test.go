package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Assignment.MinScore != 0.7 {
		t.Fatalf("expected min score 0.7, got %v", cfg.Assignment.MinScore)
	}
	if cfg.Availability.UrgentWithin != 48*time.Hour || cfg.Availability.SoonWithin != 7*24*time.Hour {
		t.Fatalf("unexpected urgency windows: %+v", cfg.Availability)
	}
	if cfg.Retention.KeepPerTask != 0 {
		t.Fatalf("history must be kept by default")
	}
}

func TestFromYAMLOverridesAndKeepsDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("assignment:\n  min_score: 0.5\nretention:\n  keep_per_task: 10\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Assignment.MinScore != 0.5 || cfg.Retention.KeepPerTask != 10 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Server.Addr == "" {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"driver":    "storage:\n  driver: mysql\n",
		"min_score": "assignment:\n  min_score: 1.5\n",
		"windows":   "availability:\n  urgent_within: 72h\n  soon_within: 24h\n",
		"retention": "retention:\n  keep_per_task: -1\n",
	}
	for name, doc := range cases {
		if _, err := FromYAML([]byte(doc)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestLoadOptionalAndLoad(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil || cfg == nil {
		t.Fatalf("load optional: %v", err)
	}
	if _, err := Load(dir); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "workgraph.yml"), []byte(GenerateDefault()), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err != nil {
		t.Fatalf("load: %v", err)
	}
}
