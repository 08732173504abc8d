// Package config defines the deployment target manifest and the secret
// bundle. Both are loaded once at the CLI boundary and passed into the
// driver as explicit values; no other package reads process environment or
// the working directory.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Target identifies one deployment destination: where the source lives,
// where releases land, and which host services front them. A Target is
// long-lived; it is provisioned once and reconciled repeatedly.
type Target struct {
	// Name scopes the run lock, the journal, and log fields.
	Name string `yaml:"name"`

	// Repo is the git remote (URL or local path) holding the application.
	Repo string `yaml:"repo"`

	// Branch is the deployment branch. The working copy is hard-reset to
	// origin/<Branch> on every run; local drift is discarded by design.
	Branch string `yaml:"branch"`

	// Workdir is the managed checkout. It must be absent or a valid
	// checkout, never anything else.
	Workdir string `yaml:"workdir"`

	// AppDir is the production directory releases are copied into.
	AppDir string `yaml:"app_dir"`

	// ImageDir is served by the application and granted write access in
	// the unit sandbox.
	ImageDir string `yaml:"image_dir"`

	// LogDir is the application log directory.
	LogDir string `yaml:"log_dir"`

	// RunAs is the system user the service runs as and release files are
	// chowned to. Empty leaves ownership untouched (tests, dev runs).
	RunAs string `yaml:"run_as"`

	// Unit is the systemd unit name, without the ".service" suffix.
	Unit string `yaml:"unit"`

	// Site is the nginx site name (file name under sites-available).
	Site string `yaml:"site"`

	// Domain is the public hostname, used for TLS issuance and the
	// redirect server block.
	Domain string `yaml:"domain"`

	// ACMEEmail is the registration address handed to certbot.
	ACMEEmail string `yaml:"acme_email"`

	// AppPort is the loopback port the application listens on. The proxy
	// upstream is fixed to it.
	AppPort int `yaml:"app_port"`

	// Workers is the uvicorn worker count baked into the unit file.
	Workers int `yaml:"workers"`

	// Installer is the argv run in AppDir to install dependencies.
	Installer []string `yaml:"installer"`

	// Model is the identifier written to the application env file.
	Model string `yaml:"model"`

	// Environment is the environment tag written to the env file.
	Environment string `yaml:"environment"`

	// Health tunes step 7. Zero values take defaults.
	Health HealthSettings `yaml:"health"`

	// NginxAvailable and NginxEnabled are the site config directories.
	NginxAvailable string `yaml:"nginx_available"`
	NginxEnabled   string `yaml:"nginx_enabled"`

	// WebrootDir is the ACME challenge webroot served by the bootstrap
	// (plain HTTP) site.
	WebrootDir string `yaml:"webroot_dir"`

	// SpoolDir is watched by the agent; trigger files dropped here start
	// a reconciliation.
	SpoolDir string `yaml:"spool_dir"`

	// StateDir holds the run journal and the lock file.
	StateDir string `yaml:"state_dir"`
}

// HealthSettings bounds the post-restart verification.
type HealthSettings struct {
	// SettleDelay is the fixed wait between restart and the first probe.
	SettleDelay time.Duration `yaml:"settle_delay"`

	// Attempts is the per-probe poll budget. A probe that never succeeds
	// within it fails the run; polling never hangs.
	Attempts int `yaml:"attempts"`

	// Interval separates poll attempts.
	Interval time.Duration `yaml:"interval"`

	// Timeout bounds each HTTP request.
	Timeout time.Duration `yaml:"timeout"`
}

// Secrets is the per-deployment secret bundle. It is parsed from process
// environment exactly once, at the CLI boundary, and never logged.
type Secrets struct {
	// OpenAIKey is the API key materialized into the application env file.
	OpenAIKey string `env:"OPENAI_API_KEY"`

	// OpenAIModel overrides the target's model identifier when set.
	OpenAIModel string `env:"OPENAI_MODEL"`
}

// DefaultTarget mirrors the peni.sh production layout. A manifest file
// overrides any subset of it.
func DefaultTarget() *Target {
	return &Target{
		Name:           "penish",
		Repo:           "/srv/git/penish.git",
		Branch:         "main",
		Workdir:        "/opt/penish/checkout",
		AppDir:         "/var/www/peni.sh",
		ImageDir:       "/var/www/peni.sh/images",
		LogDir:         "/var/log/penish",
		RunAs:          "penish",
		Unit:           "penish",
		Site:           "peni.sh",
		Domain:         "peni.sh",
		AppPort:        8000,
		Workers:        2,
		Installer:      []string{"python3", "-m", "pip", "install", "-r", "requirements.txt"},
		Model:          "gpt-4",
		Environment:    "production",
		NginxAvailable: "/etc/nginx/sites-available",
		NginxEnabled:   "/etc/nginx/sites-enabled",
		WebrootDir:     "/var/www/letsencrypt",
		SpoolDir:       "/var/spool/slipway",
		StateDir:       "/var/lib/slipway",
		Health: HealthSettings{
			SettleDelay: 5 * time.Second,
			Attempts:    5,
			Interval:    2 * time.Second,
			Timeout:     5 * time.Second,
		},
	}
}

// Load reads a target manifest, layering it over DefaultTarget. A missing
// file returns the defaults unchanged.
func Load(path string) (*Target, error) {
	t := DefaultTarget()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return nil, fmt.Errorf("read target manifest: %w", err)
	}
	if err := yaml.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("parse target manifest: %w", err)
	}
	return t, nil
}

// LoadSecrets parses the secret bundle from process environment.
func LoadSecrets() (Secrets, error) {
	var s Secrets
	if err := env.Parse(&s); err != nil {
		return Secrets{}, fmt.Errorf("parse secrets from env: %w", err)
	}
	return s, nil
}

// Validate rejects targets that cannot be deployed to.
func (t *Target) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("target name is required")
	}
	if t.Repo == "" {
		return fmt.Errorf("target %s: repo is required", t.Name)
	}
	if t.Branch == "" {
		return fmt.Errorf("target %s: branch is required", t.Name)
	}
	dirs := []struct {
		field string
		value string
	}{
		{"workdir", t.Workdir},
		{"app_dir", t.AppDir},
		{"image_dir", t.ImageDir},
		{"state_dir", t.StateDir},
		{"spool_dir", t.SpoolDir},
		{"nginx_available", t.NginxAvailable},
		{"nginx_enabled", t.NginxEnabled},
	}
	for _, d := range dirs {
		if d.value == "" {
			return fmt.Errorf("target %s: %s is required", t.Name, d.field)
		}
		if !filepath.IsAbs(d.value) {
			return fmt.Errorf("target %s: %s must be absolute, got %q", t.Name, d.field, d.value)
		}
	}
	if t.Unit == "" || t.Site == "" {
		return fmt.Errorf("target %s: unit and site are required", t.Name)
	}
	if t.AppPort <= 0 || t.AppPort > 65535 {
		return fmt.Errorf("target %s: app_port %d out of range", t.Name, t.AppPort)
	}
	if t.Workers <= 0 {
		return fmt.Errorf("target %s: workers must be positive", t.Name)
	}
	if len(t.Installer) == 0 {
		return fmt.Errorf("target %s: installer is required", t.Name)
	}
	return nil
}

// Validate rejects bundles the env-file renderer cannot materialize.
func (s Secrets) Validate() error {
	if s.OpenAIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	return nil
}

// UnitFile returns the systemd unit file name.
func (t *Target) UnitFile() string { return t.Unit + ".service" }

// SiteFile returns the nginx site file name.
func (t *Target) SiteFile() string { return t.Site + ".conf" }

// EnvFile returns the application env file path.
func (t *Target) EnvFile() string { return filepath.Join(t.AppDir, ".env") }

// LockFile returns the per-target run lock path.
func (t *Target) LockFile() string {
	return filepath.Join(t.StateDir, t.Name+".lock")
}

// JournalPath returns the run journal database path.
func (t *Target) JournalPath() string {
	return filepath.Join(t.StateDir, t.Name+".db")
}

// BaseURL returns the loopback address health probes hit.
func (t *Target) BaseURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", t.AppPort)
}

// Zone derives an nginx-identifier-safe rate-limit zone prefix from the
// target name ("peni.sh" carries a dot; "penish" does not).
func (t *Target) Zone() string {
	var b strings.Builder
	for _, c := range t.Name {
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' {
			b.WriteRune(c)
		}
	}
	if b.Len() == 0 {
		return "slipway"
	}
	return b.String()
}
