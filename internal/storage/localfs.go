package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// remoteFilesystems are filesystem types where SQLite locking cannot be trusted.
var remoteFilesystems = []string{"afpfs", "cifs", "nfs", "smbfs", "smb2", "webdav"}

// CheckLocalFilesystem rejects database paths on network mounts.
func CheckLocalFilesystem(path string) error {
	return checkLocalFilesystem(path, filesystemType)
}

func checkLocalFilesystem(path string, detect func(string) (string, error)) error {
	existing, err := closestExisting(path)
	if err != nil {
		return fmt.Errorf("resolve history path %q: %w", path, err)
	}

	fsType, err := detect(existing)
	if err != nil {
		// Unknown platforms cannot tell; let SQLite try.
		if errors.Is(err, errUnsupportedPlatform) {
			return nil
		}
		return fmt.Errorf("detect filesystem for %q: %w", existing, err)
	}
	if isRemote(fsType) {
		return fmt.Errorf("history database %q is on network filesystem %q; point state.path at local disk", path, fsType)
	}
	return nil
}

// closestExisting walks up from path to the first component that exists.
func closestExisting(path string) (string, error) {
	dir, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		_, err := os.Stat(dir)
		switch {
		case err == nil:
			return dir, nil
		case !errors.Is(err, os.ErrNotExist):
			return "", err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no existing parent directory")
		}
		dir = parent
	}
}

func isRemote(fsType string) bool {
	fsType = strings.ToLower(strings.TrimSpace(fsType))
	for _, name := range remoteFilesystems {
		if fsType == name {
			return true
		}
	}
	return false
}

var errUnsupportedPlatform = errors.New("filesystem detection is unsupported on this platform")
