package targets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/italolelis/multifetch/internal/downloader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))

	return p
}

func TestLoadFromFile_YAML(t *testing.T) {
	p := writeFile(t, "targets.yaml", `
targets:
  - url: https://example.com/files/a.iso
    destination: isos/a.iso
  - url: https://example.com/files/b.tar.gz
`)

	got, err := LoadFromFile(p)
	require.NoError(t, err)

	assert.Equal(t, []downloader.Target{
		{URL: "https://example.com/files/a.iso", Destination: "isos/a.iso"},
		{URL: "https://example.com/files/b.tar.gz", Destination: "b.tar.gz"},
	}, got)
}

func TestLoadFromFile_TOML(t *testing.T) {
	p := writeFile(t, "targets.toml", `
[[targets]]
url = "http://example.com/one.bin"

[[targets]]
url = "http://example.com/two.bin"
destination = "second.bin"
`)

	got, err := LoadFromFile(p)
	require.NoError(t, err)

	assert.Equal(t, []downloader.Target{
		{URL: "http://example.com/one.bin", Destination: "one.bin"},
		{URL: "http://example.com/two.bin", Destination: "second.bin"},
	}, got)
}

func TestLoadFromFile_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{name: "unsupported extension", file: "targets.json", content: `{}`},
		{name: "invalid yaml", file: "targets.yaml", content: "targets: [:"},
		{name: "missing url", file: "targets.yaml", content: "targets:\n  - destination: a.bin\n"},
		{name: "bad scheme", file: "targets.yaml", content: "targets:\n  - url: ftp://example.com/a.bin\n"},
		{name: "no destination derivable", file: "targets.toml", content: "[[targets]]\nurl = \"http://example.com/\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromFile(writeFile(t, tt.file, tt.content))
			assert.Error(t, err)
		})
	}

	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadFromFile(writeFile(t, "x.ini", ""))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestLoadFromFile_DuplicateDestination(t *testing.T) {
	// The second destination is derived from the url and collides.
	p := writeFile(t, "targets.yaml", `
targets:
  - url: https://example.com/a/file.bin
    destination: file.bin
  - url: https://mirror.example.com/b/file.bin
`)

	_, err := LoadFromFile(p)
	assert.ErrorIs(t, err, downloader.ErrDuplicateDestination)
}
