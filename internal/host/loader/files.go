package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/atriumhq/atrium/internal/host/appspec"
)

// LoadManifestFile reads, validates, and registers a manifest from disk.
func (m *Manager) LoadManifestFile(ctx context.Context, path string) (appspec.Manifest, error) {
	if strings.TrimSpace(path) == "" {
		return appspec.Manifest{}, fmt.Errorf("loader: path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return appspec.Manifest{}, fmt.Errorf("loader: open %s: %w", path, err)
	}
	defer file.Close()

	manifest, err := decodeManifest(file)
	if err != nil {
		return appspec.Manifest{}, fmt.Errorf("loader: decode %s: %w", path, err)
	}
	if err := m.RegisterManifest(ctx, manifest); err != nil {
		return appspec.Manifest{}, err
	}
	return manifest, nil
}

// LoadManifestDir registers every *.json manifest in dir and returns how many
// were loaded. A missing directory is not an error; a host may start empty.
func (m *Manager) LoadManifestDir(ctx context.Context, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("loader: read dir %s: %w", dir, err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if _, err := m.LoadManifestFile(ctx, filepath.Join(dir, entry.Name())); err != nil {
			return loaded, err
		}
		loaded++
	}
	return loaded, nil
}

func decodeManifest(reader io.Reader) (appspec.Manifest, error) {
	var manifest appspec.Manifest
	if err := json.NewDecoder(reader).Decode(&manifest); err != nil {
		return appspec.Manifest{}, err
	}
	manifest.Normalize()
	if err := manifest.Validate(); err != nil {
		return appspec.Manifest{}, err
	}
	return manifest, nil
}
