package governance

import (
	"archive/zip"
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v4/disk"

	"github.com/haasonsaas/nexus-study/internal/observability"
)

// ProgressFunc receives a job's Progress snapshot at each phase transition
// or per-file step, for publication on backup-job-progress (spec.md §6.4).
type ProgressFunc func(Progress)

// Service runs backup/restore/zip jobs against the registry's tracked
// databases, serialised through a JobGate.
type Service struct {
	Registry   *Registry
	Jobs       Store
	Gate       *JobGate
	AppVersion string
	DataDir    string // application data directory; backups/restores never write inside it directly
	Logger     *observability.Logger
}

// BackupOptions configures one backup run.
type BackupOptions struct {
	DestDir string // directory the manifest and snapshot files are written into
}

// RunBackup executes Scan -> Checkpoint -> Compress -> Verify -> Cleanup,
// producing a manifest at opts.DestDir (spec.md §4.5's backup flow).
func (s *Service) RunBackup(ctx context.Context, jobID string, opts BackupOptions) error {
	release, err := s.Gate.Acquire(ctx, false)
	if err != nil {
		return err
	}
	defer release()

	job := &Job{ID: jobID, Kind: JobBackup, State: JobRunning, CreatedAt: time.Now(), StartedAt: time.Now()}
	if err := s.Jobs.Create(ctx, job); err != nil {
		return err
	}

	emit := func(p Progress) {
		job.Progress = p
		s.Jobs.Update(ctx, job)
	}

	emit(Progress{Phase: PhaseScan, Percent: 2, Message: "validating destination"})
	if err := requireOutsideDataDir(s.DataDir, opts.DestDir); err != nil {
		return s.failJob(ctx, job, err)
	}
	if err := os.MkdirAll(opts.DestDir, 0o755); err != nil {
		return s.failJob(ctx, job, fmt.Errorf("governance: create backup destination: %w", err))
	}
	emit(Progress{Phase: PhaseScan, Percent: 5, Message: "scan complete"})

	var files []ManifestFile
	total := int64(len(s.Registry.databases))
	processed := int64(0)
	for _, id := range dependencyOrder {
		d, ok := s.Registry.databases[id]
		if !ok {
			continue
		}
		select {
		case <-ctx.Done():
			return s.failJob(ctx, job, ctx.Err())
		default:
		}
		destPath := filepath.Join(opts.DestDir, string(id)+".db")
		if err := snapshotTo(ctx, d.DB, destPath); err != nil {
			return s.failJob(ctx, job, err)
		}
		sum, size, err := hashFile(destPath)
		if err != nil {
			return s.failJob(ctx, job, err)
		}
		files = append(files, ManifestFile{Path: string(id) + ".db", SHA256: sum, Size: size, DatabaseID: string(id)})
		processed++
		percent := 5 + float64(processed)/float64(total)*75
		emit(Progress{Phase: PhaseCheckpoint, Percent: percent, Processed: processed, Total: total, Message: "snapshot " + string(id)})
	}

	emit(Progress{Phase: PhaseCompress, Percent: 85, Message: "compressing"})
	zipPath := filepath.Join(opts.DestDir, "backup.zip")
	if err := compressDirectory(opts.DestDir, zipPath, manifestFileNames(files)); err != nil {
		return s.failJob(ctx, job, err)
	}
	emit(Progress{Phase: PhaseCompress, Percent: 95, Message: "compress complete"})

	emit(Progress{Phase: PhaseVerify, Percent: 96, Message: "verifying"})
	if err := verifyZipEntries(zipPath, files); err != nil {
		return s.failJob(ctx, job, err)
	}
	emit(Progress{Phase: PhaseVerify, Percent: 98, Message: "verify complete"})

	backupID := newBackupID(time.Now())
	manifest := &Manifest{BackupID: backupID, AppVersion: s.AppVersion, CreatedAt: time.Now(), Files: files}
	manifestPath := filepath.Join(opts.DestDir, "manifest.json")
	if err := WriteManifest(manifestPath, manifest); err != nil {
		return s.failJob(ctx, job, err)
	}

	emit(Progress{Phase: PhaseCleanup, Percent: 100, Message: "done"})
	job.State = JobCompleted
	job.ManifestID = backupID
	job.FinishedAt = time.Now()
	return s.Jobs.Update(ctx, job)
}

// RestoreOptions configures one restore run.
type RestoreOptions struct {
	ManifestPath   string
	InactiveSlotDir string // never the live slot; the caller swaps on next launch
}

// RunRestore executes Scan -> Verify -> Replace -> Cleanup (spec.md §4.5's
// restore flow). Cancellation is honoured up to and including Verify; once
// Replace starts, Cancel requests are recorded but not acted on until the
// phase completes.
func (s *Service) RunRestore(ctx context.Context, jobID string, opts RestoreOptions, openRestored func(path string) (*sql.DB, error)) error {
	release, err := s.Gate.Acquire(ctx, false)
	if err != nil {
		return err
	}
	defer release()

	job := &Job{ID: jobID, Kind: JobRestore, State: JobRunning, CreatedAt: time.Now(), StartedAt: time.Now()}
	if err := s.Jobs.Create(ctx, job); err != nil {
		return err
	}
	emit := func(p Progress) {
		job.Progress = p
		s.Jobs.Update(ctx, job)
	}

	emit(Progress{Phase: PhaseScan, Percent: 2, Message: "validating manifest"})
	manifest, err := ReadManifest(opts.ManifestPath)
	if err != nil {
		return s.failJob(ctx, job, err)
	}
	if manifest.AppVersion != s.AppVersion {
		return s.failJob(ctx, job, fmt.Errorf("%w: manifest is for %s, running %s", ErrVersionConflict, manifest.AppVersion, s.AppVersion))
	}
	rootDir := filepath.Dir(opts.ManifestPath)
	var totalSize int64
	for _, f := range manifest.Files {
		totalSize += f.Size
	}
	if err := checkFreeDisk(opts.InactiveSlotDir, totalSize*2); err != nil {
		return s.failJob(ctx, job, err)
	}
	emit(Progress{Phase: PhaseScan, Percent: 5, Message: "scan complete"})

	if ctx.Err() != nil {
		return s.cancelJob(ctx, job)
	}
	emit(Progress{Phase: PhaseVerify, Percent: 10, Message: "verifying checksums"})
	if err := verifyManifestFiles(manifest, rootDir); err != nil {
		return s.failJob(ctx, job, err)
	}
	for _, f := range manifest.Files {
		if f.DatabaseID == "" {
			continue
		}
		db, err := openRestored(filepath.Join(rootDir, f.Path))
		if err != nil {
			return s.failJob(ctx, job, err)
		}
		err = integrityCheck(ctx, db)
		db.Close()
		if err != nil {
			return s.failJob(ctx, job, err)
		}
	}
	emit(Progress{Phase: PhaseVerify, Percent: 40, Message: "verify complete"})

	// past this point the job is no longer safely cancellable: cancel
	// requests recorded on the job are honoured only between files, never
	// mid-copy, and only by stopping before the next file starts.
	if err := os.MkdirAll(opts.InactiveSlotDir, 0o755); err != nil {
		return s.failJob(ctx, job, err)
	}
	processed, total := int64(0), int64(len(manifest.Files))
	for _, f := range manifest.Files {
		destPath := filepath.Join(opts.InactiveSlotDir, f.Path)
		if err := copyFile(filepath.Join(rootDir, f.Path), destPath); err != nil {
			return s.failJob(ctx, job, err)
		}
		processed++
		emit(Progress{Phase: PhaseReplace, Percent: 40 + float64(processed)/float64(total)*55, Processed: processed, Total: total, Message: "restoring " + f.Path})
	}

	pendingActivePath := filepath.Join(opts.InactiveSlotDir, ".pending_active")
	if err := os.WriteFile(pendingActivePath, []byte(manifest.BackupID), 0o644); err != nil {
		return s.failJob(ctx, job, err)
	}
	emit(Progress{Phase: PhaseCleanup, Percent: 100, Message: "inactive slot ready, pending swap on next launch"})
	job.State = JobCompleted
	job.ManifestID = manifest.BackupID
	job.FinishedAt = time.Now()
	return s.Jobs.Update(ctx, job)
}

func (s *Service) failJob(ctx context.Context, job *Job, err error) error {
	job.State = JobFailed
	job.Error = err.Error()
	job.FinishedAt = time.Now()
	s.Logger.Error(ctx, "governance: job failed", "job_id", job.ID, "kind", job.Kind, "error", err)
	s.Jobs.Update(ctx, job)
	return err
}

func (s *Service) cancelJob(ctx context.Context, job *Job) error {
	job.State = JobCancelled
	job.FinishedAt = time.Now()
	s.Jobs.Update(ctx, job)
	return context.Canceled
}

// requireOutsideDataDir rejects a user-supplied path that resolves inside
// the application data directory, preventing traversal into internal state
// (spec.md §4.5).
func requireOutsideDataDir(dataDir, path string) error {
	if dataDir == "" {
		return nil
	}
	absData, err := filepath.Abs(dataDir)
	if err != nil {
		return err
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(absData, absPath)
	if err == nil && rel != ".." && !filepathHasPrefix(rel, "..") {
		return fmt.Errorf("%w: path %q is inside the application data directory", ErrInvalidInput, path)
	}
	return nil
}

func filepathHasPrefix(rel, prefix string) bool {
	return len(rel) >= len(prefix) && rel[:len(prefix)] == prefix && (len(rel) == len(prefix) || rel[len(prefix)] == filepath.Separator)
}

func checkFreeDisk(dir string, required int64) error {
	usage, err := disk.Usage(dir)
	if err != nil {
		// dir may not exist yet (first restore); fall back to its parent.
		usage, err = disk.Usage(filepath.Dir(dir))
		if err != nil {
			return fmt.Errorf("governance: check free disk space: %w", err)
		}
	}
	if int64(usage.Free) < required {
		return fmt.Errorf("%w: need %d bytes, have %d", ErrInsufficientSpace, required, usage.Free)
	}
	return nil
}

func manifestFileNames(files []ManifestFile) []string {
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Path
	}
	return names
}

func compressDirectory(srcDir, zipPath string, entries []string) error {
	out, err := os.Create(zipPath)
	if err != nil {
		return fmt.Errorf("governance: create zip: %w", err)
	}
	defer out.Close()
	zw := zip.NewWriter(out)
	defer zw.Close()
	for _, name := range entries {
		if err := addFileToZip(zw, srcDir, name); err != nil {
			return err
		}
	}
	return nil
}

func addFileToZip(zw *zip.Writer, srcDir, name string) error {
	f, err := os.Open(filepath.Join(srcDir, name))
	if err != nil {
		return fmt.Errorf("governance: open file for zip: %w", err)
	}
	defer f.Close()
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("governance: create zip entry %s: %w", name, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("governance: write zip entry %s: %w", name, err)
	}
	return nil
}

func verifyZipEntries(zipPath string, files []ManifestFile) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("governance: open zip for verify: %w", err)
	}
	defer r.Close()
	byName := make(map[string]*zip.File, len(r.File))
	for _, f := range r.File {
		byName[f.Name] = f
	}
	for _, f := range files {
		if _, ok := byName[f.Path]; !ok {
			return fmt.Errorf("%w: zip missing %s", ErrChecksumMismatch, f.Path)
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("governance: create restore directory: %w", err)
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("governance: open source file: %w", err)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("governance: create destination file: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("governance: copy file: %w", err)
	}
	return nil
}
