package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
)

const (
	defaultDBPath       = "~/.atrium/state.db"
	defaultAPIPort      = "7070"
	defaultAPIListen    = "0.0.0.0:" + defaultAPIPort
	defaultAdminListen  = "127.0.0.1:7071"
	defaultManifestPath = "~/.atrium/apps"
)

// HostConfig captures the runtime configuration required by the daemon.
type HostConfig struct {
	DatabasePath    string
	APIListenAddr   string
	AdminListenAddr string
	ManifestDir     string
	APIKey          string
}

// FromEnv loads host configuration from environment variables, applying
// opinionated defaults when unset.
func FromEnv() (HostConfig, error) {
	cfg := HostConfig{
		DatabasePath:    getenv("ATRIUM_DB_PATH", defaultDBPath),
		APIListenAddr:   getenv("ATRIUM_API_LISTEN", defaultAPIListen),
		AdminListenAddr: getenv("ATRIUM_ADMIN_LISTEN", defaultAdminListen),
		ManifestDir:     expandPath(getenv("ATRIUM_MANIFEST_DIR", defaultManifestPath)),
		APIKey:          os.Getenv("ATRIUM_API_KEY"),
	}

	for _, addr := range []struct {
		name  string
		value string
	}{
		{"api listen address", cfg.APIListenAddr},
		{"admin listen address", cfg.AdminListenAddr},
	} {
		trimmed := strings.TrimSpace(addr.value)
		if trimmed == "" {
			return HostConfig{}, fmt.Errorf("%s required", addr.name)
		}
		if _, _, err := net.SplitHostPort(trimmed); err != nil {
			return HostConfig{}, fmt.Errorf("invalid %s %q: %w", addr.name, trimmed, err)
		}
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func expandPath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return path
	}
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return filepath.Clean(path)
}
