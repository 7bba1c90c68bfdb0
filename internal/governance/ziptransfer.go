package governance

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// ZipExportOptions configures a workspace export to a single zip archive.
type ZipExportOptions struct {
	SourceDir string // directory tree to archive (e.g. one workspace's data)
	DestZip   string
}

// RunZipExport walks SourceDir and writes every file into DestZip, reporting
// Extract-phase progress per spec.md §4.5's "ZIP export/import analogous"
// note. Already-completed entries are tracked so a resumed job (same jobID,
// same State kept by the caller) can skip files it already wrote.
func (s *Service) RunZipExport(ctx context.Context, jobID string, opts ZipExportOptions, alreadyWritten map[string]int64) error {
	release, err := s.Gate.Acquire(ctx, false)
	if err != nil {
		return err
	}
	defer release()

	job := &Job{ID: jobID, Kind: JobZipExport, State: JobRunning, CreatedAt: time.Now(), StartedAt: time.Now()}
	if err := s.Jobs.Create(ctx, job); err != nil {
		return err
	}
	emit := func(p Progress) {
		job.Progress = p
		s.Jobs.Update(ctx, job)
	}

	emit(Progress{Phase: PhaseScan, Percent: 2, Message: "enumerating files"})
	var paths []string
	err = filepath.Walk(opts.SourceDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(opts.SourceDir, path)
		if err != nil {
			return err
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return s.failJob(ctx, job, fmt.Errorf("governance: enumerate export files: %w", err))
	}
	emit(Progress{Phase: PhaseScan, Percent: 5, Message: "scan complete"})

	out, err := os.Create(opts.DestZip)
	if err != nil {
		return s.failJob(ctx, job, fmt.Errorf("governance: create export zip: %w", err))
	}
	defer out.Close()
	zw := zip.NewWriter(out)
	defer zw.Close()

	total := int64(len(paths))
	var processed int64
	for _, rel := range paths {
		select {
		case <-ctx.Done():
			return s.failJob(ctx, job, ctx.Err())
		default:
		}
		if size, ok := alreadyWritten[rel]; ok {
			if info, statErr := os.Stat(filepath.Join(opts.SourceDir, rel)); statErr == nil && info.Size() == size {
				processed++
				continue
			}
		}
		if err := addFileToZip(zw, opts.SourceDir, rel); err != nil {
			return s.failJob(ctx, job, err)
		}
		processed++
		emit(Progress{Phase: PhaseExtract, Percent: 5 + float64(processed)/float64(total)*90, Processed: processed, Total: total, Message: rel})
	}

	emit(Progress{Phase: PhaseCleanup, Percent: 100, Message: "export complete"})
	job.State = JobCompleted
	job.FinishedAt = time.Now()
	return s.Jobs.Update(ctx, job)
}

// ZipImportOptions configures importing a zip archive back into a directory.
type ZipImportOptions struct {
	SourceZip string
	DestDir   string
}

// RunZipImport extracts SourceZip into DestDir. Entries already present at
// the destination with a matching size are skipped, so a job interrupted
// partway through can be re-run as a continuation rather than restarting
// from zero.
func (s *Service) RunZipImport(ctx context.Context, jobID string, opts ZipImportOptions) error {
	release, err := s.Gate.Acquire(ctx, false)
	if err != nil {
		return err
	}
	defer release()

	job := &Job{ID: jobID, Kind: JobZipImport, State: JobRunning, CreatedAt: time.Now(), StartedAt: time.Now()}
	if err := s.Jobs.Create(ctx, job); err != nil {
		return err
	}
	emit := func(p Progress) {
		job.Progress = p
		s.Jobs.Update(ctx, job)
	}

	emit(Progress{Phase: PhaseScan, Percent: 2, Message: "opening archive"})
	if err := requireOutsideDataDir(s.DataDir, opts.DestDir); err != nil {
		return s.failJob(ctx, job, err)
	}
	r, err := zip.OpenReader(opts.SourceZip)
	if err != nil {
		return s.failJob(ctx, job, fmt.Errorf("governance: open import zip: %w", err))
	}
	defer r.Close()
	emit(Progress{Phase: PhaseScan, Percent: 5, Message: "scan complete"})

	total := int64(len(r.File))
	var processed int64
	for _, f := range r.File {
		select {
		case <-ctx.Done():
			return s.failJob(ctx, job, ctx.Err())
		default:
		}
		destPath := filepath.Join(opts.DestDir, f.Name)
		if info, statErr := os.Stat(destPath); statErr == nil && !info.IsDir() && info.Size() == int64(f.UncompressedSize64) {
			processed++
			continue
		}
		if err := extractEntry(f, opts.DestDir, destPath); err != nil {
			return s.failJob(ctx, job, err)
		}
		processed++
		emit(Progress{Phase: PhaseExtract, Percent: 5 + float64(processed)/float64(total)*90, Processed: processed, Total: total, Message: f.Name})
	}

	emit(Progress{Phase: PhaseCleanup, Percent: 100, Message: "import complete"})
	job.State = JobCompleted
	job.FinishedAt = time.Now()
	return s.Jobs.Update(ctx, job)
}

// extractEntry writes one zip entry to disk, rejecting any entry whose name
// would resolve outside destDir (zip-slip protection).
func extractEntry(f *zip.File, destDir, destPath string) error {
	absDest, err := filepath.Abs(destDir)
	if err != nil {
		return err
	}
	absTarget, err := filepath.Abs(destPath)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(absDest, absTarget)
	if err != nil || rel == ".." || filepathHasPrefix(rel, "..") {
		return fmt.Errorf("%w: zip entry %q escapes destination", ErrInvalidInput, f.Name)
	}
	if f.FileInfo().IsDir() {
		return os.MkdirAll(destPath, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("governance: create import directory: %w", err)
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("governance: open zip entry %s: %w", f.Name, err)
	}
	defer rc.Close()
	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("governance: create extracted file %s: %w", destPath, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, rc); err != nil {
		return fmt.Errorf("governance: extract zip entry %s: %w", f.Name, err)
	}
	return nil
}
