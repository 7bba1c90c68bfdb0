package governance

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/oklog/ulid/v2"
)

// ManifestFile is one file recorded in a backup manifest.
type ManifestFile struct {
	Path       string `json:"path"`
	SHA256     string `json:"sha256"`
	Size       int64  `json:"size"`
	DatabaseID string `json:"database_id,omitempty"`
}

// AssetManifest summarizes the non-database asset files a backup includes.
type AssetManifest struct {
	TotalFiles int64          `json:"total_files"`
	TotalSize  int64          `json:"total_size"`
	Files      []ManifestFile `json:"files"`
}

// Manifest is the JSON document written at a backup directory's root
// (spec.md §6.3).
type Manifest struct {
	BackupID   string         `json:"backup_id"`
	AppVersion string         `json:"app_version"`
	CreatedAt  time.Time      `json:"created_at"`
	Files      []ManifestFile `json:"files"`
	Assets     *AssetManifest `json:"assets,omitempty"`
}

// newBackupID builds spec.md's `YYYYMMDD_HHMMSS_<rand8>_<millis>` format,
// using a ulid for the random suffix (sortable-by-time, collision-resistant
// without a mutex).
func newBackupID(now time.Time) string {
	id := ulid.Make()
	rand8 := id.String()[len(id.String())-8:]
	return fmt.Sprintf("%s_%s_%d", now.Format("20060102_150405"), rand8, now.UnixMilli())
}

// hashFile computes a file's SHA-256 and size without loading it fully
// into memory.
func hashFile(path string) (sum string, size int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("governance: open file for hashing: %w", err)
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("governance: hash file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// WriteManifest serializes m to path as indented JSON.
func WriteManifest(path string, m *Manifest) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("governance: marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("governance: write manifest: %w", err)
	}
	return nil
}

// ReadManifest loads and parses a manifest file.
func ReadManifest(path string) (*Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("governance: read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("governance: parse manifest: %w", err)
	}
	return &m, nil
}

// verifyManifestFiles recomputes each file's SHA-256 against the manifest's
// recorded value, used by Restore's Verify phase.
func verifyManifestFiles(m *Manifest, rootDir string) error {
	for _, f := range m.Files {
		sum, size, err := hashFile(rootDir + "/" + f.Path)
		if err != nil {
			return err
		}
		if sum != f.SHA256 || size != f.Size {
			return fmt.Errorf("%w: %s", ErrChecksumMismatch, f.Path)
		}
	}
	return nil
}
