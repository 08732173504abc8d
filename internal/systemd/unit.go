package systemd

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

//go:embed templates/unit.service.tmpl
var unitTemplate embed.FS

// UnitData is the schema the service unit template is rendered against.
// The sandbox profile is part of the schema: the service gets a read-only
// view of the system with write access only to the paths it owns.
type UnitData struct {
	// Description appears in systemctl output.
	Description string

	// User and Group are the run-as identity.
	User  string
	Group string

	// WorkingDirectory is the application directory.
	WorkingDirectory string

	// EnvironmentFile is the secret env file the service reads.
	EnvironmentFile string

	// Port is the loopback port uvicorn binds.
	Port int

	// Workers is the uvicorn worker count.
	Workers int

	// WritablePaths are the only paths the sandbox lets the service write:
	// the app dir, the image dir, and the log dir.
	WritablePaths []string
}

// RenderUnit renders the service unit file.
func RenderUnit(d UnitData) ([]byte, error) {
	if d.User == "" || d.WorkingDirectory == "" || d.Port <= 0 || d.Workers <= 0 {
		return nil, fmt.Errorf("unit data incomplete: %+v", d)
	}
	if d.Group == "" {
		d.Group = d.User
	}

	tmpl, err := template.New("unit.service.tmpl").
		Funcs(template.FuncMap{"join": func(s []string) string { return strings.Join(s, " ") }}).
		Option("missingkey=error").
		ParseFS(unitTemplate, "templates/unit.service.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse unit template: %w", err)
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, d); err != nil {
		return nil, fmt.Errorf("render unit: %w", err)
	}
	return []byte(b.String()), nil
}

// InstallUnit writes the rendered unit into the unit directory via a staged
// rename, so the supervisor never observes a half-written file.
func InstallUnit(unitDir, unitFile string, data []byte) error {
	path := filepath.Join(unitDir, unitFile)
	staged := path + ".staged"
	if err := os.WriteFile(staged, data, 0o644); err != nil {
		return fmt.Errorf("stage unit file: %w", err)
	}
	if err := os.Rename(staged, path); err != nil {
		os.Remove(staged)
		return fmt.Errorf("install unit file: %w", err)
	}
	return nil
}
