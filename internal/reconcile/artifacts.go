package reconcile

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"slipway/internal/shell"
)

// fallbackRequirements is installed when a release ships no dependency
// manifest. Pinned so two runs against the same tree install the same set.
const fallbackRequirements = `fastapi==0.110.0
uvicorn[standard]==0.27.1
openai==1.12.0
python-dotenv==1.0.1
`

// artifact is one file a release must (or may) deliver into the app dir.
type artifact struct {
	name     string
	required bool
	fallback []byte // written when an optional artifact is absent
}

var artifacts = []artifact{
	{name: "main.py", required: true},
	{name: "requirements.txt", fallback: []byte(fallbackRequirements)},
}

// placeArtifacts copies the release files from the checkout into the app
// dir. Each placement is staged-then-renamed, so a file is either the old
// version or the new one, never a torn copy. A missing required artifact
// aborts the run before any service is touched.
func (r *run) placeArtifacts(ctx context.Context) error {
	t := r.d.Target
	if err := os.MkdirAll(t.AppDir, 0o755); err != nil {
		return fmt.Errorf("prepare app dir: %w", err)
	}

	for _, a := range artifacts {
		src := filepath.Join(t.Workdir, a.name)
		dst := filepath.Join(t.AppDir, a.name)

		if _, err := os.Stat(src); err != nil {
			if !os.IsNotExist(err) {
				return fmt.Errorf("stat %s: %w", src, err)
			}
			if a.required {
				return fmt.Errorf("%w: %s not in synced tree", ErrMissingArtifact, a.name)
			}
			r.logger().Warn("optional artifact missing, using built-in default",
				zap.String("artifact", a.name))
			if err := placeBytes(dst, a.fallback); err != nil {
				return err
			}
		} else if err := placeCopy(src, dst); err != nil {
			return err
		}

		if err := r.chown(ctx, dst); err != nil {
			return err
		}
	}
	return nil
}

func placeCopy(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	staged := dst + ".staged"
	out, err := os.OpenFile(staged, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("stage %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(staged)
		return fmt.Errorf("copy %s: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(staged)
		return fmt.Errorf("flush %s: %w", dst, err)
	}
	if err := os.Rename(staged, dst); err != nil {
		os.Remove(staged)
		return fmt.Errorf("activate %s: %w", dst, err)
	}
	return nil
}

func placeBytes(dst string, data []byte) error {
	staged := dst + ".staged"
	if err := os.WriteFile(staged, data, 0o644); err != nil {
		return fmt.Errorf("stage %s: %w", dst, err)
	}
	if err := os.Rename(staged, dst); err != nil {
		os.Remove(staged)
		return fmt.Errorf("activate %s: %w", dst, err)
	}
	return nil
}

// chown hands the placed file to the run-as identity. An empty RunAs (dev
// runs, tests) leaves ownership alone.
func (r *run) chown(ctx context.Context, path string) error {
	t := r.d.Target
	if t.RunAs == "" {
		return nil
	}
	_, err := shell.RunChecked(ctx, r.d.Runner, shell.Command{
		Binary: "chown",
		Args:   []string{t.RunAs + ":" + t.RunAs, path},
	})
	if err != nil {
		return fmt.Errorf("set artifact ownership: %w", err)
	}
	return nil
}
