package envfile

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"slipway/internal/config"
)

func sampleValues() Values {
	return Values{
		"IMAGE_DIR":      "/var/www/peni.sh/images",
		"ENVIRONMENT":    "production",
		"OPENAI_API_KEY": "sk-test",
		"OPENAI_MODEL":   "gpt-4",
	}
}

func TestRenderFixedOrder(t *testing.T) {
	data, err := Render(sampleValues())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	want := "IMAGE_DIR=/var/www/peni.sh/images\n" +
		"ENVIRONMENT=production\n" +
		"OPENAI_API_KEY=sk-test\n" +
		"OPENAI_MODEL=gpt-4\n"
	if string(data) != want {
		t.Errorf("rendered:\n%s\nwant:\n%s", data, want)
	}
}

func TestRenderRejectsUnknownKeys(t *testing.T) {
	v := sampleValues()
	v["DEBUG"] = "1"
	_, err := Render(v)
	if err == nil {
		t.Fatal("expected error for unknown key")
	}
	if !strings.Contains(err.Error(), "DEBUG") {
		t.Errorf("error should name the offending key: %v", err)
	}
}

func TestRenderRejectsMissingKey(t *testing.T) {
	v := sampleValues()
	delete(v, "OPENAI_API_KEY")
	if _, err := Render(v); err == nil {
		t.Fatal("expected error for missing key")
	}
}

func TestRenderRejectsNewlineInValue(t *testing.T) {
	v := sampleValues()
	v["OPENAI_MODEL"] = "gpt-4\nEVIL=1"
	if _, err := Render(v); err == nil {
		t.Fatal("expected error for newline in value")
	}
}

func TestWriteIdempotentAndOwnerOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")

	if err := Write(path, sampleValues()); err != nil {
		t.Fatalf("first write: %v", err)
	}
	first, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	if err := Write(path, sampleValues()); err != nil {
		t.Fatalf("second write: %v", err)
	}
	second, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	if !bytes.Equal(first, second) {
		t.Error("two writes of an unchanged bundle differ")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if mode := info.Mode().Perm(); mode != 0o600 {
		t.Errorf("mode = %o, want 0600", mode)
	}
}

func TestWriteReplacesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("stale"), 0o644); err != nil {
		t.Fatalf("seed stale file: %v", err)
	}

	if err := Write(path, sampleValues()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if strings.Contains(string(data), "stale") {
		t.Error("stale content survived the rewrite")
	}
	info, _ := os.Stat(path)
	if mode := info.Mode().Perm(); mode != 0o600 {
		t.Errorf("mode = %o, want 0600 after replacing a lax file", mode)
	}
}

func TestWriteFailsInUnwritableDir(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	dir := t.TempDir()
	if err := os.Chmod(dir, 0o500); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	defer os.Chmod(dir, 0o700)

	if err := Write(filepath.Join(dir, ".env"), sampleValues()); err == nil {
		t.Fatal("expected error writing into read-only dir")
	}
}

func TestForDeploymentModelOverride(t *testing.T) {
	tgt := config.DefaultTarget()
	v := ForDeployment(tgt, config.Secrets{OpenAIKey: "sk-x", OpenAIModel: "gpt-4o"})
	if v["OPENAI_MODEL"] != "gpt-4o" {
		t.Errorf("model override lost: %q", v["OPENAI_MODEL"])
	}

	v = ForDeployment(tgt, config.Secrets{OpenAIKey: "sk-x"})
	if v["OPENAI_MODEL"] != tgt.Model {
		t.Errorf("target default model lost: %q", v["OPENAI_MODEL"])
	}
}
