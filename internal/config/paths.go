package config

import (
	"os"
	"path/filepath"
)

// DefaultDir returns (and creates) the per-user skein directory.
func DefaultDir() (string, error) {
	if dir := os.Getenv("SKEIN_DIR"); dir != "" {
		return dir, os.MkdirAll(dir, 0o700)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".skein")
	return dir, os.MkdirAll(dir, 0o700)
}

func CredentialsPath(dir string) string {
	return filepath.Join(dir, "credentials.yaml")
}

func DatabasePath(dir string) string {
	return filepath.Join(dir, "skein.db")
}

func ConfigPath(dir string) string {
	return filepath.Join(dir, "config.yaml")
}
