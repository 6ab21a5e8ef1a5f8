package job

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/julianshen/repowiki/internal/wiki"
)

// Runner executes the generation phases for one job. Implemented by the
// generate package; abstracted here so the manager has no dependency on
// the pipeline and tests can substitute a fake.
type Runner interface {
	Run(ctx context.Context, m *Machine) error
	RetryPage(ctx context.Context, m *Machine, pageID string) error
}

// Store persists job state across restarts. Implemented by the store
// package; a nil store means in-memory only.
type Store interface {
	SaveJob(ctx context.Context, snap Snapshot, structure *wiki.Structure) error
	SavePage(ctx context.Context, jobID string, page Page) error
	DeleteJob(ctx context.Context, jobID string) error
	LoadIncompleteJobs(ctx context.Context) ([]PersistedJob, error)
}

// PersistedJob is a job row plus its page rows as loaded from storage.
type PersistedJob struct {
	Snapshot  Snapshot
	Pages     []Page
	Structure *wiki.Structure
}

// Manager tracks jobs, runs them on a bounded pool, and persists their
// state. Jobs for different repositories run concurrently and
// independently; each job is internally sequential.
type Manager struct {
	mu      sync.RWMutex
	jobs    map[string]*Machine
	cancels map[string]context.CancelFunc

	runner Runner
	store  Store
	sink   Sink
	pool   *pool.Pool
	logger *slog.Logger
}

// NewManager creates a manager running at most maxConcurrent jobs at once.
func NewManager(maxConcurrent int, runner Runner, store Store, sink Sink, logger *slog.Logger) *Manager {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		jobs:    make(map[string]*Machine),
		cancels: make(map[string]context.CancelFunc),
		runner:  runner,
		store:   store,
		sink:    sink,
		pool:    pool.New().WithMaxGoroutines(maxConcurrent),
		logger:  logger,
	}
}

// Create registers a new pending job for the given repository.
func (mgr *Manager) Create(ctx context.Context, ref Ref, providerName, model string) (*Machine, error) {
	id := uuid.New().String()[:8]
	j := New(id, ref, providerName, model)
	m := NewMachine(j, mgr.persistingSink())

	if mgr.store != nil {
		if err := mgr.store.SaveJob(ctx, j.Snapshot(), nil); err != nil {
			return nil, fmt.Errorf("persisting job: %w", err)
		}
	}

	mgr.mu.Lock()
	mgr.jobs[id] = m
	mgr.mu.Unlock()

	mgr.logger.Info("job created", "job_id", id, "owner", ref.Owner, "repo", ref.Repo, "repo_type", ref.RepoType)
	return m, nil
}

// Start submits the job to the worker pool.
func (mgr *Manager) Start(id string) error {
	m, ok := mgr.Get(id)
	if !ok {
		return fmt.Errorf("unknown job %s", id)
	}

	ctx, cancel := context.WithCancel(context.Background())
	mgr.mu.Lock()
	mgr.cancels[id] = cancel
	mgr.mu.Unlock()

	mgr.pool.Go(func() {
		defer func() {
			if r := recover(); r != nil {
				mgr.logger.Error("job goroutine panicked", "job_id", id, "panic", r)
				_ = m.Fail(fmt.Sprintf("internal panic: %v", r))
			}
		}()

		if err := mgr.runner.Run(ctx, m); err != nil {
			mgr.logger.Error("job run failed", "job_id", id, "error", err)
		}

		mgr.mu.Lock()
		if c, ok := mgr.cancels[id]; ok {
			c()
			delete(mgr.cancels, id)
		}
		mgr.mu.Unlock()
	})

	return nil
}

// Get returns the machine for a job id.
func (mgr *Manager) Get(id string) (*Machine, bool) {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	m, ok := mgr.jobs[id]
	return m, ok
}

// List returns snapshots of all known jobs, most recent first.
func (mgr *Manager) List() []Snapshot {
	mgr.mu.RLock()
	machines := make([]*Machine, 0, len(mgr.jobs))
	for _, m := range mgr.jobs {
		machines = append(machines, m)
	}
	mgr.mu.RUnlock()

	snaps := make([]Snapshot, 0, len(machines))
	for _, m := range machines {
		snaps = append(snaps, m.Job().Snapshot())
	}
	slices.SortFunc(snaps, func(a, b Snapshot) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return snaps
}

// Cancel moves the job to cancelled and stops its run context. Completed
// page content is preserved.
func (mgr *Manager) Cancel(id string) error {
	m, ok := mgr.Get(id)
	if !ok {
		return fmt.Errorf("unknown job %s", id)
	}
	if err := m.Cancel(); err != nil {
		return err
	}

	mgr.mu.Lock()
	if cancel, ok := mgr.cancels[id]; ok {
		cancel()
		delete(mgr.cancels, id)
	}
	mgr.mu.Unlock()
	return nil
}

// Resume unblocks a paused job. A job restored paused from storage has no
// active run goroutine, so one is started for it.
func (mgr *Manager) Resume(id string) error {
	m, ok := mgr.Get(id)
	if !ok {
		return fmt.Errorf("unknown job %s", id)
	}
	if err := m.Resume(); err != nil {
		return err
	}

	mgr.mu.RLock()
	_, running := mgr.cancels[id]
	mgr.mu.RUnlock()
	if !running {
		return mgr.Start(id)
	}
	return nil
}

// Retry re-runs a failed job from the embeddings phase.
func (mgr *Manager) Retry(id string) error {
	m, ok := mgr.Get(id)
	if !ok {
		return fmt.Errorf("unknown job %s", id)
	}
	if err := m.Retry(); err != nil {
		return err
	}
	return mgr.Start(id)
}

// RetryPage regenerates a single page. A job already finished (other than
// cancelled) is reopened into the page phase first and reclassified once
// the page settles.
func (mgr *Manager) RetryPage(id, pageID string) error {
	m, ok := mgr.Get(id)
	if !ok {
		return fmt.Errorf("unknown job %s", id)
	}
	if m.Job().Snapshot().Status.Terminal() {
		if err := m.ReopenForPageRetry(); err != nil {
			return err
		}
	}
	if err := m.ResetPageForRetry(pageID); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	mgr.mu.Lock()
	if _, running := mgr.cancels[id]; running {
		// The active run goroutine picks the pending page back up.
		mgr.mu.Unlock()
		cancel()
		return nil
	}
	mgr.cancels[id] = cancel
	mgr.mu.Unlock()

	mgr.pool.Go(func() {
		defer func() {
			if r := recover(); r != nil {
				mgr.logger.Error("page retry goroutine panicked", "job_id", id, "panic", r)
			}
		}()

		if err := mgr.runner.RetryPage(ctx, m, pageID); err != nil {
			mgr.logger.Error("page retry failed", "job_id", id, "page_id", pageID, "error", err)
		}

		mgr.mu.Lock()
		if c, ok := mgr.cancels[id]; ok {
			c()
			delete(mgr.cancels, id)
		}
		mgr.mu.Unlock()
	})

	return nil
}

// Pause freezes a running job without stopping its run goroutine; the
// scheduler blocks on the resume gate between pages.
func (mgr *Manager) Pause(id string) error {
	m, ok := mgr.Get(id)
	if !ok {
		return fmt.Errorf("unknown job %s", id)
	}
	return m.Pause()
}

// Delete removes a terminal job from the manager and storage.
func (mgr *Manager) Delete(ctx context.Context, id string) error {
	m, ok := mgr.Get(id)
	if !ok {
		return fmt.Errorf("unknown job %s", id)
	}
	if !m.Job().Snapshot().Status.Terminal() {
		return fmt.Errorf("job %s is not terminal", id)
	}

	if mgr.store != nil {
		if err := mgr.store.DeleteJob(ctx, id); err != nil {
			return fmt.Errorf("deleting job: %w", err)
		}
	}

	mgr.mu.Lock()
	delete(mgr.jobs, id)
	delete(mgr.cancels, id)
	mgr.mu.Unlock()

	mgr.logger.Info("job deleted", "job_id", id)
	return nil
}

// ResumeIncompleteJobs reloads non-terminal jobs from storage and restarts
// them. A job persisted mid-page-phase resumes from the first page without
// terminal content; a paused job is restored paused and waits for an
// explicit resume.
func (mgr *Manager) ResumeIncompleteJobs(ctx context.Context) error {
	if mgr.store == nil {
		return nil
	}

	persisted, err := mgr.store.LoadIncompleteJobs(ctx)
	if err != nil {
		return fmt.Errorf("loading incomplete jobs: %w", err)
	}
	if len(persisted) == 0 {
		mgr.logger.Info("no incomplete jobs to resume")
		return nil
	}

	mgr.logger.Info("resuming incomplete jobs", "count", len(persisted))
	for _, pj := range persisted {
		j := Restore(pj.Snapshot, pj.Pages, pj.Structure)
		m := NewMachine(j, mgr.persistingSink())

		mgr.mu.Lock()
		mgr.jobs[j.ID()] = m
		mgr.mu.Unlock()

		if j.Snapshot().Status == StatusPaused {
			mgr.logger.Info("restored paused job", "job_id", j.ID())
			continue
		}

		mgr.logger.Info("resuming job", "job_id", j.ID(), "status", j.Snapshot().Status)
		if err := mgr.Start(j.ID()); err != nil {
			mgr.logger.Warn("failed to resume job", "job_id", j.ID(), "error", err)
		}
	}
	return nil
}

// persistingSink forwards machine events to the configured sink and writes
// the snapshot through to storage.
func (mgr *Manager) persistingSink() Sink {
	return sinkFunc(func(snap Snapshot, msg string, page *Page) {
		if mgr.sink != nil {
			mgr.sink.JobEvent(snap, msg, page)
		}
		if mgr.store == nil {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		var structure *wiki.Structure
		mgr.mu.RLock()
		if m, ok := mgr.jobs[snap.ID]; ok {
			structure = m.Job().Structure()
		}
		mgr.mu.RUnlock()

		if err := mgr.store.SaveJob(ctx, snap, structure); err != nil {
			mgr.logger.Warn("failed to persist job", "job_id", snap.ID, "error", err)
		}
		if page != nil {
			if err := mgr.store.SavePage(ctx, snap.ID, *page); err != nil {
				mgr.logger.Warn("failed to persist page", "job_id", snap.ID, "page_id", page.PageID, "error", err)
			}
		}
	})
}

type sinkFunc func(Snapshot, string, *Page)

func (f sinkFunc) JobEvent(snap Snapshot, msg string, page *Page) { f(snap, msg, page) }
