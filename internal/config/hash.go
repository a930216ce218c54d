package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// ChecksumFile is the manifest name, kept next to the config file.
const ChecksumFile = ".checksums"

// ErrNoManifest means no .checksums manifest exists for the config.
var ErrNoManifest = errors.New("checksums manifest not found (run 'volley config lock')")

// ChecksumManifest records the BLAKE3 hash of each locked config file by base name.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// ComputeBlake3Hash computes the hex BLAKE3-256 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ManifestPath returns the manifest location for a config file.
func ManifestPath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), ChecksumFile)
}

// LockChecksums hashes the config file and writes (or updates) its manifest entry.
// It returns the hash written.
func LockChecksums(configPath string) (string, error) {
	path, err := resolvePath(configPath)
	if err != nil {
		return "", err
	}
	hash, err := ComputeBlake3Hash(path)
	if err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", filepath.Base(path), err)
	}

	manifest, err := LoadChecksums(path)
	switch {
	case errors.Is(err, ErrNoManifest):
		manifest = &ChecksumManifest{Version: 1, Hashes: make(map[string]string)}
	case err != nil:
		return "", err
	}
	manifest.GeneratedAt = time.Now().UTC().Format(time.RFC3339)
	manifest.Hashes[filepath.Base(path)] = hash

	data, err := yaml.Marshal(manifest)
	if err != nil {
		return "", fmt.Errorf("failed to marshal checksums: %w", err)
	}
	// The manifest holds expected hashes; keep it private.
	if err := os.WriteFile(ManifestPath(path), data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write checksums: %w", err)
	}
	return hash, nil
}

// LoadChecksums reads the manifest next to configPath.
func LoadChecksums(configPath string) (*ChecksumManifest, error) {
	data, err := os.ReadFile(ManifestPath(configPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoManifest
		}
		return nil, fmt.Errorf("failed to read checksums: %w", err)
	}

	var manifest ChecksumManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse checksums: %w", err)
	}
	if manifest.Version != 1 {
		return nil, fmt.Errorf("unsupported checksums version: %d", manifest.Version)
	}
	if manifest.Hashes == nil {
		manifest.Hashes = make(map[string]string)
	}
	return &manifest, nil
}

// VerifyChecksums checks the config file against its manifest. It returns
// ErrNoManifest when the config was never locked.
func VerifyChecksums(configPath string) error {
	manifest, err := LoadChecksums(configPath)
	if err != nil {
		return err
	}

	name := filepath.Base(configPath)
	expected, ok := manifest.Hashes[name]
	if !ok {
		return fmt.Errorf("%s has no hash in %s (run 'volley config lock')", name, ChecksumFile)
	}
	actual, err := ComputeBlake3Hash(configPath)
	if err != nil {
		return fmt.Errorf("failed to compute hash: %w", err)
	}
	if actual != expected {
		return fmt.Errorf("hash mismatch for %s: expected %s, got %s\n"+
			"If you edited this file intentionally, run: volley config lock", name, expected, actual)
	}
	return nil
}
