package nginx

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"slipway/internal/shell/shelltest"
)

func sampleData() SiteData {
	return SiteData{
		Site:    "peni.sh",
		Zone:    "penish",
		Domain:  "peni.sh",
		Port:    8000,
		Webroot: "/var/www/letsencrypt",
	}
}

func TestRenderSite(t *testing.T) {
	out, err := RenderSite(sampleData())
	if err != nil {
		t.Fatalf("RenderSite: %v", err)
	}
	conf := string(out)

	for _, want := range []string{
		"zone=penish_general:10m",
		"zone=penish_images:10m",
		"listen 443 ssl",
		"return 301 https://$host$request_uri;",
		"proxy_pass http://127.0.0.1:8000;",
		"location /image/",
		"proxy_read_timeout 120s;",
		`add_header Cache-Control "public, max-age=86400";`,
		"ssl_certificate /etc/letsencrypt/live/peni.sh/fullchain.pem;",
	} {
		if !strings.Contains(conf, want) {
			t.Errorf("rendered site missing %q", want)
		}
	}
}

func TestRenderSiteDeterministic(t *testing.T) {
	a, err := RenderSite(sampleData())
	if err != nil {
		t.Fatalf("RenderSite: %v", err)
	}
	b, err := RenderSite(sampleData())
	if err != nil {
		t.Fatalf("RenderSite: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Error("two renders of identical data differ")
	}
}

func TestRenderBootstrapSiteIsPlainHTTP(t *testing.T) {
	out, err := RenderBootstrapSite(sampleData())
	if err != nil {
		t.Fatalf("RenderBootstrapSite: %v", err)
	}
	conf := string(out)
	if strings.Contains(conf, "ssl") {
		t.Error("bootstrap site must not reference TLS")
	}
	if !strings.Contains(conf, "/.well-known/acme-challenge/") {
		t.Error("bootstrap site must serve the ACME webroot")
	}
}

func TestRenderRejectsIncompleteData(t *testing.T) {
	d := sampleData()
	d.Zone = ""
	if _, err := RenderSite(d); err == nil {
		t.Fatal("expected error for incomplete data")
	}
}

func TestRenderSiteFrom(t *testing.T) {
	out, err := RenderSiteFrom("server { server_name {{.Domain}}; }", sampleData())
	if err != nil {
		t.Fatalf("RenderSiteFrom: %v", err)
	}
	if !strings.Contains(string(out), "server_name peni.sh;") {
		t.Errorf("custom template not rendered: %s", out)
	}
}

func TestRenderSiteFromRejectsUnknownField(t *testing.T) {
	if _, err := RenderSiteFrom("{{.NoSuchField}}", sampleData()); err == nil {
		t.Fatal("expected error for unknown template field")
	}
}

func TestValidateRunsNginxAgainstWrapper(t *testing.T) {
	runner := &shelltest.Runner{}
	m := &Manager{Runner: runner}

	if err := m.Validate(context.Background(), []byte("server {}")); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	calls := runner.Calls()
	if len(calls) != 1 || calls[0].Binary != "nginx" {
		t.Fatalf("expected one nginx call, got %v", runner.CommandLines())
	}
	if calls[0].Args[0] != "-t" || calls[0].Args[1] != "-c" {
		t.Errorf("expected nginx -t -c, got %v", calls[0].Args)
	}
}

func TestValidateFailureReportsDetail(t *testing.T) {
	runner := &shelltest.Runner{}
	runner.On("nginx", []string{"-t"}, shelltest.Response{
		ExitCode: 1,
		Stderr:   `unknown directive "serverr"`,
	})

	err := (&Manager{Runner: runner}).Validate(context.Background(), []byte("serverr {}"))
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "unknown directive") {
		t.Errorf("nginx detail missing from error: %v", err)
	}
}

func TestInstallAtomicRenameAndSymlink(t *testing.T) {
	dir := t.TempDir()
	available := filepath.Join(dir, "sites-available")
	enabled := filepath.Join(dir, "sites-enabled")
	for _, d := range []string{available, enabled} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}

	m := &Manager{Available: available, Enabled: enabled}
	if err := m.Install("peni.sh.conf", []byte("server {}")); err != nil {
		t.Fatalf("Install: %v", err)
	}

	link, err := os.Readlink(filepath.Join(enabled, "peni.sh.conf"))
	if err != nil {
		t.Fatalf("readlink: %v", err)
	}
	if link != filepath.Join(available, "peni.sh.conf") {
		t.Errorf("symlink points at %s", link)
	}

	// Reinstall over an existing site and symlink.
	if err := m.Install("peni.sh.conf", []byte("server { listen 80; }")); err != nil {
		t.Fatalf("reinstall: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(available, "peni.sh.conf"))
	if err != nil {
		t.Fatalf("read installed config: %v", err)
	}
	if !strings.Contains(string(data), "listen 80") {
		t.Error("reinstall did not replace content")
	}
	if _, err := os.Stat(filepath.Join(available, "peni.sh.conf.staged")); !os.IsNotExist(err) {
		t.Error("staged file left behind")
	}
}
