// Package envfile materializes the application environment file. The file
// carries the secret bundle, so rendering is schema-enforced: only the
// recognized keys may appear, unknown keys are rejected, and output key
// order is fixed so an unchanged bundle renders byte-identically.
package envfile

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"slipway/internal/config"
)

// The recognized keys, in render order. This is the whole schema; the
// application reads nothing else from its env file.
var schema = []string{
	"IMAGE_DIR",
	"ENVIRONMENT",
	"OPENAI_API_KEY",
	"OPENAI_MODEL",
}

// Values maps recognized keys to the strings written for them.
type Values map[string]string

// ForDeployment assembles the env-file values for one deployment: static
// settings from the target plus the secret bundle. The bundle's model
// override wins over the target's default.
func ForDeployment(t *config.Target, s config.Secrets) Values {
	model := t.Model
	if s.OpenAIModel != "" {
		model = s.OpenAIModel
	}
	return Values{
		"IMAGE_DIR":      t.ImageDir,
		"ENVIRONMENT":    t.Environment,
		"OPENAI_API_KEY": s.OpenAIKey,
		"OPENAI_MODEL":   model,
	}
}

// Render produces the env-file bytes. Every schema key must be present and
// non-empty, and no key outside the schema is accepted.
func Render(v Values) ([]byte, error) {
	for _, key := range schema {
		if v[key] == "" {
			return nil, fmt.Errorf("env file: missing value for %s", key)
		}
	}
	if len(v) != len(schema) {
		extra := make([]string, 0, len(v))
		for key := range v {
			if !recognized(key) {
				extra = append(extra, key)
			}
		}
		sort.Strings(extra)
		return nil, fmt.Errorf("env file: unrecognized keys: %s", strings.Join(extra, ", "))
	}

	var b strings.Builder
	for _, key := range schema {
		if err := checkValue(key, v[key]); err != nil {
			return nil, err
		}
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(v[key])
		b.WriteByte('\n')
	}
	return []byte(b.String()), nil
}

// Write deletes any pre-existing file at path and writes a fresh render.
// The file is created 0600 from the first instant; there is no window where
// another user could read the secrets.
func Write(path string, v Values) error {
	data, err := Render(v)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove previous env file: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("create env file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("write env file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close env file: %w", err)
	}
	return nil
}

func recognized(key string) bool {
	for _, k := range schema {
		if k == key {
			return true
		}
	}
	return false
}

// checkValue rejects values that would break the KEY=VALUE line format.
func checkValue(key, value string) error {
	if strings.ContainsAny(value, "\n\r") {
		return fmt.Errorf("env file: value for %s contains a newline", key)
	}
	return nil
}
