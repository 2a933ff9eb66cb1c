package identity

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"

	"meshpatch/internal/fileutil"
)

// SidecarExtension is appended to an asset path to find its metadata file.
const SidecarExtension = ".meta"

var guidLine = regexp.MustCompile(`(?m)^guid:[^\n]*\n?`)

// SidecarHost stores identities in YAML sidecar files next to each asset,
// under the "guid" key. Other keys in an existing sidecar are preserved.
type SidecarHost struct{}

type sidecar struct {
	GUID string `yaml:"guid"`
}

// SidecarPath returns the sidecar location for path.
func SidecarPath(path string) string { return path + SidecarExtension }

// ResolveIdentity reads the guid from path's sidecar.
func (SidecarHost) ResolveIdentity(_ context.Context, path string) (Ref, bool, error) {
	data, err := os.ReadFile(SidecarPath(path))
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read sidecar: %w", err)
	}
	var meta sidecar
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return "", false, fmt.Errorf("parse sidecar %s: %w", SidecarPath(path), err)
	}
	ref := Ref(strings.TrimSpace(meta.GUID))
	if ref.IsZero() {
		return "", false, nil
	}
	return ref, true, nil
}

// BindIdentity writes ref as path's guid, creating the sidecar if needed.
func (SidecarHost) BindIdentity(_ context.Context, path string, ref Ref) error {
	if ref.IsZero() {
		return errors.New("cannot bind empty identity")
	}
	sidecarPath := SidecarPath(path)
	line := "guid: " + string(ref) + "\n"

	data, err := os.ReadFile(sidecarPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		data = []byte("fileFormatVersion: 2\n" + line)
	case err != nil:
		return fmt.Errorf("read sidecar: %w", err)
	case guidLine.Match(data):
		data = guidLine.ReplaceAllLiteral(data, []byte(line))
	default:
		if len(data) > 0 && data[len(data)-1] != '\n' {
			data = append(data, '\n')
		}
		data = append(data, line...)
	}

	var check sidecar
	if err := yaml.Unmarshal(data, &check); err != nil || Ref(check.GUID) != ref {
		return fmt.Errorf("sidecar %s would not round-trip identity %s", sidecarPath, ref)
	}
	return fileutil.WriteFileAtomic(sidecarPath, data, 0o644)
}

// UnbindIdentity removes the guid key from path's sidecar, deleting the file
// when nothing but the format header remains.
func (SidecarHost) UnbindIdentity(_ context.Context, path string) error {
	sidecarPath := SidecarPath(path)
	data, err := os.ReadFile(sidecarPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read sidecar: %w", err)
	}
	rest := guidLine.ReplaceAllLiteral(data, nil)
	var remaining map[string]any
	if err := yaml.Unmarshal(rest, &remaining); err != nil {
		return fmt.Errorf("parse sidecar %s: %w", sidecarPath, err)
	}
	delete(remaining, "fileFormatVersion")
	if len(remaining) == 0 {
		if err := os.Remove(sidecarPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove sidecar: %w", err)
		}
		return nil
	}
	return fileutil.WriteFileAtomic(sidecarPath, rest, 0o644)
}
