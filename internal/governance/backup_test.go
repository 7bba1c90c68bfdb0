package governance

import (
	"archive/zip"
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func writeZipWithEvilEntry(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	zw := zip.NewWriter(f)
	w, err := zw.Create("../evil.txt")
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte("escaped")); err != nil {
		return err
	}
	return zw.Close()
}

func newFileBackedDB(t *testing.T, dir, name string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.Exec(`CREATE TABLE notes (id TEXT PRIMARY KEY, body TEXT NOT NULL)`); err != nil {
		t.Fatalf("create table error = %v", err)
	}
	if _, err := db.Exec(`INSERT INTO notes (id, body) VALUES ('n1', 'hello')`); err != nil {
		t.Fatalf("insert error = %v", err)
	}
	return db
}

func newTestService(t *testing.T, dataDir string) (*Service, *Registry) {
	t.Helper()
	srcDir := t.TempDir()
	vfsDB := newFileBackedDB(t, srcDir, "vfs.db")
	registry := NewRegistry(&Database{ID: DatabaseVfs, Path: filepath.Join(srcDir, "vfs.db"), DB: vfsDB})
	return &Service{
		Registry:   registry,
		Jobs:       NewMemoryStore(),
		Gate:       NewJobGate(),
		AppVersion: "1.0.0",
		DataDir:    dataDir,
	}, registry
}

func TestRunBackupProducesManifestAndZip(t *testing.T) {
	dataDir := t.TempDir()
	svc, _ := newTestService(t, dataDir)
	destDir := t.TempDir()

	ctx := context.Background()
	if err := svc.RunBackup(ctx, "job-backup-1", BackupOptions{DestDir: destDir}); err != nil {
		t.Fatalf("RunBackup() error = %v", err)
	}

	job, err := svc.Jobs.Get(ctx, "job-backup-1")
	if err != nil {
		t.Fatalf("Jobs.Get() error = %v", err)
	}
	if job.State != JobCompleted {
		t.Fatalf("job.State = %v, want JobCompleted (error: %s)", job.State, job.Error)
	}
	if job.ManifestID == "" {
		t.Fatalf("expected job.ManifestID to be set")
	}

	manifestPath := filepath.Join(destDir, "manifest.json")
	manifest, err := ReadManifest(manifestPath)
	if err != nil {
		t.Fatalf("ReadManifest() error = %v", err)
	}
	if len(manifest.Files) != 1 || manifest.Files[0].DatabaseID != string(DatabaseVfs) {
		t.Fatalf("manifest.Files = %+v", manifest.Files)
	}

	if _, err := os.Stat(filepath.Join(destDir, "backup.zip")); err != nil {
		t.Fatalf("expected backup.zip to exist: %v", err)
	}
}

func TestRunBackupRejectsDestinationInsideDataDir(t *testing.T) {
	dataDir := t.TempDir()
	svc, _ := newTestService(t, dataDir)

	ctx := context.Background()
	err := svc.RunBackup(ctx, "job-backup-2", BackupOptions{DestDir: filepath.Join(dataDir, "backups")})
	if err == nil {
		t.Fatalf("RunBackup() error = nil, want path-inside-data-dir rejection")
	}
}

func TestRunBackupThenRunRestoreRoundTrip(t *testing.T) {
	dataDir := t.TempDir()
	svc, _ := newTestService(t, dataDir)
	destDir := t.TempDir()
	ctx := context.Background()

	if err := svc.RunBackup(ctx, "job-b", BackupOptions{DestDir: destDir}); err != nil {
		t.Fatalf("RunBackup() error = %v", err)
	}

	inactiveSlot := t.TempDir()
	err := svc.RunRestore(ctx, "job-r", RestoreOptions{
		ManifestPath:    filepath.Join(destDir, "manifest.json"),
		InactiveSlotDir: filepath.Join(inactiveSlot, "slot"),
	}, func(path string) (*sql.DB, error) {
		return sql.Open("sqlite", path)
	})
	if err != nil {
		t.Fatalf("RunRestore() error = %v", err)
	}

	job, err := svc.Jobs.Get(ctx, "job-r")
	if err != nil {
		t.Fatalf("Jobs.Get() error = %v", err)
	}
	if job.State != JobCompleted {
		t.Fatalf("job.State = %v, want JobCompleted (error: %s)", job.State, job.Error)
	}

	restoredPath := filepath.Join(inactiveSlot, "slot", "vfs.db")
	restoredDB, err := sql.Open("sqlite", restoredPath)
	if err != nil {
		t.Fatalf("open restored db error = %v", err)
	}
	defer restoredDB.Close()
	var body string
	if err := restoredDB.QueryRow(`SELECT body FROM notes WHERE id = 'n1'`).Scan(&body); err != nil {
		t.Fatalf("query restored db error = %v", err)
	}
	if body != "hello" {
		t.Fatalf("restored body = %q, want %q", body, "hello")
	}

	if _, err := os.Stat(filepath.Join(inactiveSlot, "slot", ".pending_active")); err != nil {
		t.Fatalf("expected .pending_active marker: %v", err)
	}
}

func TestRunRestoreRejectsVersionMismatch(t *testing.T) {
	dataDir := t.TempDir()
	svc, _ := newTestService(t, dataDir)
	destDir := t.TempDir()
	ctx := context.Background()
	if err := svc.RunBackup(ctx, "job-b2", BackupOptions{DestDir: destDir}); err != nil {
		t.Fatalf("RunBackup() error = %v", err)
	}
	svc.AppVersion = "2.0.0"

	err := svc.RunRestore(ctx, "job-r2", RestoreOptions{
		ManifestPath:    filepath.Join(destDir, "manifest.json"),
		InactiveSlotDir: filepath.Join(t.TempDir(), "slot"),
	}, func(path string) (*sql.DB, error) { return sql.Open("sqlite", path) })
	if err == nil {
		t.Fatalf("RunRestore() error = nil, want version conflict")
	}
}

func TestZipExportImportRoundTrip(t *testing.T) {
	dataDir := t.TempDir()
	svc, _ := newTestService(t, dataDir)
	srcDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(srcDir, "a.txt"), []byte("alpha"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := os.MkdirAll(filepath.Join(srcDir, "sub"), 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(srcDir, "sub", "b.txt"), []byte("beta"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	ctx := context.Background()
	zipPath := filepath.Join(t.TempDir(), "export.zip")
	if err := svc.RunZipExport(ctx, "job-export", ZipExportOptions{SourceDir: srcDir, DestZip: zipPath}, nil); err != nil {
		t.Fatalf("RunZipExport() error = %v", err)
	}

	importDest := t.TempDir()
	if err := svc.RunZipImport(ctx, "job-import", ZipImportOptions{SourceZip: zipPath, DestDir: importDest}); err != nil {
		t.Fatalf("RunZipImport() error = %v", err)
	}

	got, err := os.ReadFile(filepath.Join(importDest, "sub", "b.txt"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(got) != "beta" {
		t.Fatalf("imported content = %q, want %q", got, "beta")
	}
}

func TestRunZipImportRejectsPathTraversal(t *testing.T) {
	dataDir := t.TempDir()
	svc, _ := newTestService(t, dataDir)
	zipPath := filepath.Join(t.TempDir(), "evil.zip")
	if err := writeZipWithEvilEntry(zipPath); err != nil {
		t.Fatalf("writeZipWithEvilEntry() error = %v", err)
	}

	ctx := context.Background()
	err := svc.RunZipImport(ctx, "job-evil", ZipImportOptions{SourceZip: zipPath, DestDir: t.TempDir()})
	if err == nil {
		t.Fatalf("RunZipImport() error = nil, want path traversal rejection")
	}
}
