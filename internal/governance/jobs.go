package governance

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// JobKind identifies what a Job is doing.
type JobKind string

const (
	JobBackup  JobKind = "backup"
	JobRestore JobKind = "restore"
	JobZipExport JobKind = "zip_export"
	JobZipImport JobKind = "zip_import"
)

// JobState is a backup/restore/zip job's lifecycle state (spec.md §4.5).
type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

// Phase is one stage of a backup/restore/zip job's progress.
type Phase string

const (
	PhaseScan       Phase = "scan"
	PhaseVerify     Phase = "verify"
	PhaseReplace    Phase = "replace"
	PhaseExtract    Phase = "extract"
	PhaseCompress   Phase = "compress"
	PhaseCheckpoint Phase = "checkpoint"
	PhaseCleanup    Phase = "cleanup"
)

// destructivePhases are the phases after which cancellation is no longer
// safe (spec.md §4.5: "after the first destructive write the job is no
// longer cancellable safely").
var destructivePhases = map[Phase]bool{
	PhaseReplace: true,
}

// Progress is one phase's percent-complete snapshot, published on
// backup-job-progress (spec.md §6.4).
type Progress struct {
	Phase     Phase
	Percent   float64
	Processed int64
	Total     int64
	Message   string
}

// Job is one backup/restore/zip run, adapted from the teacher's async
// tool-job tracking (internal/jobs/store.go's Job/Store) onto the
// backup/restore domain: same Queued/Running/terminal shape, a job kind and
// phase/progress in place of a tool name and result.
type Job struct {
	ID         string
	Kind       JobKind
	State      JobState
	Progress   Progress
	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
	ManifestID string
	Error      string

	cancelRequested bool
	cancelFunc      context.CancelFunc
}

// CancelSafe reports whether the job's current phase may still be
// cancelled without leaving data half-written.
func (j *Job) CancelSafe() bool {
	return !destructivePhases[j.Progress.Phase]
}

// Store persists Job records, mirroring internal/jobs/store.go's Store
// interface shape.
type Store interface {
	Create(ctx context.Context, job *Job) error
	Update(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	List(ctx context.Context, limit, offset int) ([]*Job, error)
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
	Cancel(ctx context.Context, id string) error
}

// MemoryStore keeps jobs in memory, same shape as internal/jobs.MemoryStore.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
	keys []string
}

// NewMemoryStore returns a new in-memory job store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job)}
}

func (s *MemoryStore) Create(ctx context.Context, job *Job) error {
	if job == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; !exists {
		s.keys = append(s.keys, job.ID)
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, job *Job) error {
	if job == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(job), nil
}

func (s *MemoryStore) List(ctx context.Context, limit, offset int) ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || limit > len(s.keys) {
		limit = len(s.keys)
	}
	if offset >= len(s.keys) {
		return nil, nil
	}
	end := offset + limit
	if end > len(s.keys) {
		end = len(s.keys)
	}
	result := make([]*Job, 0, end-offset)
	for _, id := range s.keys[offset:end] {
		if job, ok := s.jobs[id]; ok {
			result = append(result, cloneJob(job))
		}
	}
	return result, nil
}

func (s *MemoryStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var pruned int64
	var newKeys []string
	for _, id := range s.keys {
		job, ok := s.jobs[id]
		if !ok {
			continue
		}
		if job.CreatedAt.Before(cutoff) {
			delete(s.jobs, id)
			pruned++
		} else {
			newKeys = append(newKeys, id)
		}
	}
	s.keys = newKeys
	return pruned, nil
}

// Cancel marks a job cancel-requested; the running job phase loop checks
// CancelSafe before honouring it, so a mid-Replace job finishes instead of
// tearing itself apart.
func (s *MemoryStore) Cancel(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if job.State != JobRunning && job.State != JobQueued {
		return nil
	}
	job.cancelRequested = true
	if job.CancelSafe() && job.cancelFunc != nil {
		job.cancelFunc()
	}
	return nil
}

func (s *MemoryStore) setCancelFunc(id string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok {
		job.cancelFunc = cancel
	}
}

func cloneJob(job *Job) *Job {
	if job == nil {
		return nil
	}
	clone := *job
	return &clone
}

// JobGate serialises backup/restore/zip jobs with a weighted semaphore of
// 1, per spec.md §4.5's "global mutex serialises backup/restore/ZIP jobs".
// A semaphore (rather than a plain sync.Mutex) is used so Acquire respects
// ctx cancellation while a caller waits for a slot.
type JobGate struct {
	sem *semaphore.Weighted
}

// NewJobGate constructs a JobGate.
func NewJobGate() *JobGate {
	return &JobGate{sem: semaphore.NewWeighted(1)}
}

// Acquire blocks until no other backup/restore/zip job is running, or ctx
// is cancelled, or returns ErrJobBusy immediately if tryOnly is set.
func (g *JobGate) Acquire(ctx context.Context, tryOnly bool) (release func(), err error) {
	if tryOnly {
		if !g.sem.TryAcquire(1) {
			return nil, ErrJobBusy
		}
		return func() { g.sem.Release(1) }, nil
	}
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { g.sem.Release(1) }, nil
}
