// Package cache maintains the content-addressed model cache mounted into
// deployed pods. Large files under the watched directories are moved into
// the cache volume, keyed by their sha256, and replaced with symlinks so
// pods restarted onto the same volume skip re-downloading multi-gigabyte
// model weights.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

const manifestName = "manifest.json"

// ManagedFile is one cache entry in the manifest.
type ManagedFile struct {
	SHA256      string   `json:"sha256"`
	Source      string   `json:"source"`
	CachePath   string   `json:"cache_path"`
	LinkedPaths []string `json:"linked_paths"`
	LastSeen    int64    `json:"last_seen"`
}

// Manager promotes files from watch paths into a cache root.
type Manager struct {
	cacheRoot    string
	filesDir     string
	manifestPath string
	watchPaths   []string
	minFileSize  int64
}

// NewManager opens a cache rooted at cacheRoot. Files below minFileSizeMB
// are never promoted.
func NewManager(cacheRoot string, watchPaths []string, minFileSizeMB int) (*Manager, error) {
	filesDir := filepath.Join(cacheRoot, "files")
	if err := os.MkdirAll(filesDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}

	return &Manager{
		cacheRoot:    cacheRoot,
		filesDir:     filesDir,
		manifestPath: filepath.Join(cacheRoot, manifestName),
		watchPaths:   watchPaths,
		minFileSize:  int64(minFileSizeMB) * 1024 * 1024,
	}, nil
}

func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (m *Manager) cacheDestination(digest, originalName string) string {
	return filepath.Join(m.filesDir, digest+"_"+originalName)
}

// Manage moves one file into the cache and symlinks it back into place.
// Managing a path that is already a symlink into the cache is a no-op that
// refreshes the entry.
func (m *Manager) Manage(sourcePath string) (ManagedFile, error) {
	info, err := os.Lstat(sourcePath)
	if err != nil {
		return ManagedFile{}, err
	}

	if info.Mode()&fs.ModeSymlink != 0 {
		target, err := filepath.EvalSymlinks(sourcePath)
		if err != nil {
			return ManagedFile{}, fmt.Errorf("broken cache symlink %s: %w", sourcePath, err)
		}
		digest, err := fileDigest(target)
		if err != nil {
			return ManagedFile{}, err
		}
		return ManagedFile{
			SHA256:      digest,
			Source:      sourcePath,
			CachePath:   target,
			LinkedPaths: []string{sourcePath},
			LastSeen:    time.Now().Unix(),
		}, nil
	}

	if !info.Mode().IsRegular() {
		return ManagedFile{}, fmt.Errorf("not a regular file: %s", sourcePath)
	}
	if info.Size() < m.minFileSize {
		return ManagedFile{}, fmt.Errorf("file below cache threshold: %s", sourcePath)
	}

	digest, err := fileDigest(sourcePath)
	if err != nil {
		return ManagedFile{}, err
	}

	cacheTarget := m.cacheDestination(digest, filepath.Base(sourcePath))
	if _, err := os.Stat(cacheTarget); os.IsNotExist(err) {
		if err := os.Rename(sourcePath, cacheTarget); err != nil {
			return ManagedFile{}, fmt.Errorf("failed to move %s into cache: %w", sourcePath, err)
		}
	} else {
		// Identical content already cached; drop the duplicate.
		if err := os.Remove(sourcePath); err != nil {
			return ManagedFile{}, err
		}
	}

	if err := os.Symlink(cacheTarget, sourcePath); err != nil {
		return ManagedFile{}, fmt.Errorf("failed to link %s: %w", sourcePath, err)
	}

	return ManagedFile{
		SHA256:      digest,
		Source:      sourcePath,
		CachePath:   cacheTarget,
		LinkedPaths: []string{sourcePath},
		LastSeen:    time.Now().Unix(),
	}, nil
}

// Reconcile walks every watch path, promotes eligible files, and rewrites
// the manifest. It returns the manifest keyed by digest.
func (m *Manager) Reconcile() (map[string]ManagedFile, error) {
	manifest, err := m.loadManifest()
	if err != nil {
		return nil, err
	}

	for _, watchPath := range m.watchPaths {
		err := filepath.WalkDir(watchPath, func(path string, entry fs.DirEntry, err error) error {
			if err != nil {
				return nil // unreadable entries are skipped, not fatal
			}
			if entry.IsDir() || entry.Type()&fs.ModeSymlink != 0 {
				return nil
			}
			info, err := entry.Info()
			if err != nil || info.Size() < m.minFileSize {
				return nil
			}

			managed, err := m.Manage(path)
			if err != nil {
				return err
			}
			manifest[managed.SHA256] = managed
			return nil
		})
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}

	if err := m.saveManifest(manifest); err != nil {
		return nil, err
	}
	return manifest, nil
}

func (m *Manager) loadManifest() (map[string]ManagedFile, error) {
	content, err := os.ReadFile(m.manifestPath)
	if os.IsNotExist(err) {
		return map[string]ManagedFile{}, nil
	}
	if err != nil {
		return nil, err
	}

	manifest := map[string]ManagedFile{}
	if err := json.Unmarshal(content, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse cache manifest: %w", err)
	}
	return manifest, nil
}

func (m *Manager) saveManifest(manifest map[string]ManagedFile) error {
	content, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.manifestPath, content, 0o644)
}
