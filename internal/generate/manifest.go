package generate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Manifest lists batch jobs. Relative paths are resolved against the
// manifest's directory.
type Manifest struct {
	Jobs []Job `json:"jobs" yaml:"jobs" toml:"jobs"`
}

var ErrEmptyManifest = errors.New("generate: manifest has no jobs")

// LoadManifest reads a .json, .yaml/.yml or .toml manifest.
func LoadManifest(path string) ([]Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	var m Manifest
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		err = json.Unmarshal(data, &m)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &m)
	case ".toml":
		err = toml.Unmarshal(data, &m)
	default:
		return nil, fmt.Errorf("unsupported manifest format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	if len(m.Jobs) == 0 {
		return nil, ErrEmptyManifest
	}

	base := filepath.Dir(path)
	for i, job := range m.Jobs {
		if job.Path == "" {
			return nil, fmt.Errorf("manifest %s: job %d has no path", path, i)
		}
		if !filepath.IsAbs(job.Path) {
			m.Jobs[i].Path = filepath.Join(base, job.Path)
		}
	}
	return m.Jobs, nil
}
