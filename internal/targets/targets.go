// Package targets loads the list of downloads to run from a YAML or TOML file.
package targets

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/italolelis/multifetch/internal/downloader"
)

var ErrUnsupportedFormat = errors.New("unsupported targets file format")

type fileTarget struct {
	URL         string `yaml:"url" toml:"url"`
	Destination string `yaml:"destination" toml:"destination"`
}

type file struct {
	Targets []fileTarget `yaml:"targets" toml:"targets"`
}

// LoadFromFile reads targets from path. The format follows the extension:
// .yaml/.yml or .toml.
func LoadFromFile(path string) ([]downloader.Target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read targets file: %w", err)
	}

	var f file

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &f)
	case ".toml":
		err = toml.Unmarshal(data, &f)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}

	if err != nil {
		return nil, fmt.Errorf("parse targets file: %w", err)
	}

	out := make([]downloader.Target, 0, len(f.Targets))
	seen := make(map[string]int, len(f.Targets))

	for i, t := range f.Targets {
		target, err := normalize(t)
		if err != nil {
			return nil, fmt.Errorf("target %d: %w", i, err)
		}

		dest := filepath.Clean(target.Destination)
		if first, ok := seen[dest]; ok {
			return nil, fmt.Errorf("target %d: %w: %s is already used by target %d",
				i, downloader.ErrDuplicateDestination, target.Destination, first)
		}

		seen[dest] = i

		out = append(out, target)
	}

	return out, nil
}

// normalize validates the URL and derives a destination from its last path
// segment when none is given.
func normalize(t fileTarget) (downloader.Target, error) {
	raw := strings.TrimSpace(t.URL)
	if raw == "" {
		return downloader.Target{}, errors.New("url is required")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return downloader.Target{}, fmt.Errorf("invalid url %q: %w", raw, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return downloader.Target{}, fmt.Errorf("unsupported scheme %q in %s", u.Scheme, raw)
	}

	dest := strings.TrimSpace(t.Destination)
	if dest == "" {
		dest = path.Base(u.Path)
		if dest == "." || dest == "/" {
			return downloader.Target{}, fmt.Errorf("cannot derive destination from %s", raw)
		}
	}

	return downloader.Target{URL: raw, Destination: dest}, nil
}
