package governance

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestManifestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")
	original := &Manifest{
		BackupID:   newBackupID(time.Now()),
		AppVersion: "1.2.3",
		CreatedAt:  time.Now().Truncate(time.Second),
		Files: []ManifestFile{
			{Path: "vfs.db", SHA256: "abc123", Size: 42, DatabaseID: "vfs"},
		},
	}

	if err := WriteManifest(path, original); err != nil {
		t.Fatalf("WriteManifest() error = %v", err)
	}
	loaded, err := ReadManifest(path)
	if err != nil {
		t.Fatalf("ReadManifest() error = %v", err)
	}
	if loaded.BackupID != original.BackupID || loaded.AppVersion != original.AppVersion {
		t.Fatalf("ReadManifest() = %+v, want %+v", loaded, original)
	}
	if len(loaded.Files) != 1 || loaded.Files[0].SHA256 != "abc123" {
		t.Fatalf("ReadManifest() files = %+v", loaded.Files)
	}
}

func TestNewBackupIDIsSortableByTime(t *testing.T) {
	t1 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	t2 := time.Date(2026, 1, 1, 10, 0, 1, 0, time.UTC)
	id1 := newBackupID(t1)
	id2 := newBackupID(t2)
	if id1 >= id2 {
		t.Fatalf("backup ids not sortable by time: %s >= %s", id1, id2)
	}
}

func TestHashFileMatchesKnownContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.txt")
	if err := os.WriteFile(path, []byte("hello world"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	sum, size, err := hashFile(path)
	if err != nil {
		t.Fatalf("hashFile() error = %v", err)
	}
	if size != 11 {
		t.Fatalf("size = %d, want 11", size)
	}
	const want = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde"
	if sum != want {
		t.Fatalf("sum = %s, want %s", sum, want)
	}
}

func TestVerifyManifestFilesDetectsTampering(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.txt")
	if err := os.WriteFile(path, []byte("original"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	sum, size, err := hashFile(path)
	if err != nil {
		t.Fatalf("hashFile() error = %v", err)
	}
	m := &Manifest{Files: []ManifestFile{{Path: "data.txt", SHA256: sum, Size: size}}}
	if err := verifyManifestFiles(m, dir); err != nil {
		t.Fatalf("verifyManifestFiles() error = %v, want nil", err)
	}

	if err := os.WriteFile(path, []byte("tampered!"), 0o644); err != nil {
		t.Fatalf("WriteFile() tamper error = %v", err)
	}
	if err := verifyManifestFiles(m, dir); err == nil {
		t.Fatalf("verifyManifestFiles() error = nil, want checksum mismatch")
	}
}
