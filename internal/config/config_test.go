package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultTarget(t *testing.T) {
	tgt := DefaultTarget()
	if tgt.AppPort != 8000 {
		t.Errorf("expected AppPort=8000, got %d", tgt.AppPort)
	}
	if tgt.Environment != "production" {
		t.Errorf("expected Environment=production, got %s", tgt.Environment)
	}
	if err := tgt.Validate(); err != nil {
		t.Errorf("default target should validate: %v", err)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	tgt, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tgt.Name != "penish" {
		t.Errorf("expected default name, got %s", tgt.Name)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slipway.yaml")
	manifest := `
name: staging
branch: develop
app_port: 9000
health:
  settle_delay: 1s
  attempts: 2
`
	if err := os.WriteFile(path, []byte(manifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	tgt, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tgt.Name != "staging" || tgt.Branch != "develop" || tgt.AppPort != 9000 {
		t.Errorf("overrides not applied: %+v", tgt)
	}
	if tgt.Health.SettleDelay != time.Second || tgt.Health.Attempts != 2 {
		t.Errorf("health overrides not applied: %+v", tgt.Health)
	}
	// Untouched fields keep their defaults.
	if tgt.Workdir != "/opt/penish/checkout" {
		t.Errorf("default workdir lost: %s", tgt.Workdir)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slipway.yaml")
	if err := os.WriteFile(path, []byte("name: [unterminated"), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidateRejectsBrokenTargets(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Target)
	}{
		{"missing name", func(tg *Target) { tg.Name = "" }},
		{"missing repo", func(tg *Target) { tg.Repo = "" }},
		{"missing branch", func(tg *Target) { tg.Branch = "" }},
		{"relative workdir", func(tg *Target) { tg.Workdir = "checkout" }},
		{"missing app dir", func(tg *Target) { tg.AppDir = "" }},
		{"missing unit", func(tg *Target) { tg.Unit = "" }},
		{"port out of range", func(tg *Target) { tg.AppPort = 70000 }},
		{"zero workers", func(tg *Target) { tg.Workers = 0 }},
		{"no installer", func(tg *Target) { tg.Installer = nil }},
		// An empty state dir would put the lock and journal at a path
		// relative to whatever directory the process happens to run in.
		{"missing state dir", func(tg *Target) { tg.StateDir = "" }},
		{"relative state dir", func(tg *Target) { tg.StateDir = "state" }},
		{"missing spool dir", func(tg *Target) { tg.SpoolDir = "" }},
		{"relative nginx available", func(tg *Target) { tg.NginxAvailable = "sites-available" }},
		{"missing nginx enabled", func(tg *Target) { tg.NginxEnabled = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tgt := DefaultTarget()
			tc.mutate(tgt)
			if err := tgt.Validate(); err == nil {
				t.Errorf("expected validation error")
			}
		})
	}
}

func TestLoadSecrets(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_MODEL", "gpt-4o")

	s, err := LoadSecrets()
	if err != nil {
		t.Fatalf("LoadSecrets: %v", err)
	}
	if s.OpenAIKey != "sk-test" || s.OpenAIModel != "gpt-4o" {
		t.Errorf("unexpected bundle: %+v", s)
	}
	if err := s.Validate(); err != nil {
		t.Errorf("bundle should validate: %v", err)
	}
}

func TestZoneStripsUnsafeChars(t *testing.T) {
	tgt := DefaultTarget()
	tgt.Name = "peni.sh"
	if got := tgt.Zone(); got != "penish" {
		t.Errorf("Zone() = %q, want penish", got)
	}
	tgt.Name = "..."
	if got := tgt.Zone(); got != "slipway" {
		t.Errorf("Zone() fallback = %q", got)
	}
}

func TestSecretsValidateRequiresKey(t *testing.T) {
	if err := (Secrets{}).Validate(); err == nil {
		t.Fatal("expected error for empty key")
	}
}

func TestPathHelpers(t *testing.T) {
	tgt := DefaultTarget()
	if got := tgt.UnitFile(); got != "penish.service" {
		t.Errorf("UnitFile = %q", got)
	}
	if got := tgt.SiteFile(); got != "peni.sh.conf" {
		t.Errorf("SiteFile = %q", got)
	}
	if got := tgt.EnvFile(); got != "/var/www/peni.sh/.env" {
		t.Errorf("EnvFile = %q", got)
	}
	if got := tgt.LockFile(); got != "/var/lib/slipway/penish.lock" {
		t.Errorf("LockFile = %q", got)
	}
	if got := tgt.BaseURL(); got != "http://127.0.0.1:8000" {
		t.Errorf("BaseURL = %q", got)
	}
}
