// Package nginx renders, validates, and installs the reverse-proxy site
// configuration. Rendering is structured: a typed data schema fed through
// text/template, never string interpolation. The active site config is only
// ever replaced by a candidate that has already passed nginx's own syntax
// checker, and the replacement is an atomic rename.
package nginx

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"slipway/internal/shell"
)

//go:embed templates/*.tmpl
var templates embed.FS

// SiteData is the schema every site template is rendered against.
type SiteData struct {
	// Site names the site file and prefixes the rate-limit zones.
	Site string

	// Zone is the rate-limit zone prefix. Unlike Site it must be safe
	// inside an nginx identifier, so it carries no dots.
	Zone string

	// Domain is the public server_name.
	Domain string

	// Port is the loopback upstream the proxy forwards to.
	Port int

	// Webroot serves ACME HTTP-01 challenges.
	Webroot string
}

// RenderSite renders the full TLS site: a plain listener redirecting to
// https and a TLS listener proxying to the loopback upstream, with the
// general and image rate-limit scopes.
func RenderSite(d SiteData) ([]byte, error) {
	return render("templates/site.conf.tmpl", d)
}

// RenderBootstrapSite renders the plain-HTTP site used before a certificate
// exists: it serves the ACME webroot and proxies everything else, so the
// issuer's domain-ownership challenge can succeed.
func RenderBootstrapSite(d SiteData) ([]byte, error) {
	return render("templates/bootstrap.conf.tmpl", d)
}

// RenderSiteFrom renders a caller-supplied template source against the same
// schema. Used when a deployment ships its own proxy template.
func RenderSiteFrom(src string, d SiteData) ([]byte, error) {
	tmpl, err := template.New("site").Option("missingkey=error").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse site template: %w", err)
	}
	return execute(tmpl, d)
}

func render(name string, d SiteData) ([]byte, error) {
	tmpl, err := template.New(filepath.Base(name)).Option("missingkey=error").ParseFS(templates, name)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	return execute(tmpl, d)
}

func execute(tmpl *template.Template, d SiteData) ([]byte, error) {
	if d.Site == "" || d.Zone == "" || d.Domain == "" || d.Port <= 0 {
		return nil, fmt.Errorf("site data incomplete: %+v", d)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, d); err != nil {
		return nil, fmt.Errorf("render site config: %w", err)
	}
	return buf.Bytes(), nil
}

// Manager validates and installs site configs on a host.
type Manager struct {
	Runner shell.Runner

	// Available and Enabled are the sites-available / sites-enabled
	// directories.
	Available string
	Enabled   string
}

// Validate writes the candidate into a throwaway wrapper config and runs
// `nginx -t` against the wrapper. The live configuration is never touched;
// on failure the active site file stays byte-identical.
func (m *Manager) Validate(ctx context.Context, candidate []byte) error {
	dir, err := os.MkdirTemp("", "slipway-nginx-*")
	if err != nil {
		return fmt.Errorf("create validation dir: %w", err)
	}
	defer os.RemoveAll(dir)

	sitePath := filepath.Join(dir, "site.conf")
	if err := os.WriteFile(sitePath, candidate, 0o644); err != nil {
		return fmt.Errorf("write candidate: %w", err)
	}

	// A minimal wrapper that includes the candidate the same way the real
	// nginx.conf includes sites-enabled, with pid/log paths the invoking
	// user can write.
	wrapper := fmt.Sprintf(
		"pid %s/nginx.pid;\nerror_log %s/error.log;\nevents {}\nhttp {\n    include %s;\n}\n",
		dir, dir, sitePath,
	)
	wrapperPath := filepath.Join(dir, "wrapper.conf")
	if err := os.WriteFile(wrapperPath, []byte(wrapper), 0o644); err != nil {
		return fmt.Errorf("write validation wrapper: %w", err)
	}

	_, err = shell.RunChecked(ctx, m.Runner, shell.Command{
		Binary: "nginx",
		Args:   []string{"-t", "-c", wrapperPath},
	})
	if err != nil {
		return fmt.Errorf("nginx config validation: %w", err)
	}
	return nil
}

// Install places the candidate as the active site config: write to a staged
// file in sites-available, rename over the site file, and ensure the
// sites-enabled symlink. Install assumes the candidate already validated.
func (m *Manager) Install(siteFile string, candidate []byte) error {
	available := filepath.Join(m.Available, siteFile)
	staged := available + ".staged"
	if err := os.WriteFile(staged, candidate, 0o644); err != nil {
		return fmt.Errorf("stage site config: %w", err)
	}
	if err := os.Rename(staged, available); err != nil {
		os.Remove(staged)
		return fmt.Errorf("activate site config: %w", err)
	}

	enabled := filepath.Join(m.Enabled, siteFile)
	if current, err := os.Readlink(enabled); err == nil && current == available {
		return nil
	}
	if err := os.Remove(enabled); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear sites-enabled entry: %w", err)
	}
	if err := os.Symlink(available, enabled); err != nil {
		return fmt.Errorf("enable site: %w", err)
	}
	return nil
}
