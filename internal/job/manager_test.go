package job

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julianshen/repowiki/internal/wiki"
)

// fakeRunner drives jobs to completion with scripted behavior.
type fakeRunner struct {
	mu         sync.Mutex
	runs       int
	pageRuns   []string
	onRun      func(ctx context.Context, m *Machine) error
	onPageRun  func(ctx context.Context, m *Machine, pageID string) error
	runStarted chan string
}

func (f *fakeRunner) Run(ctx context.Context, m *Machine) error {
	f.mu.Lock()
	f.runs++
	f.mu.Unlock()
	if f.runStarted != nil {
		f.runStarted <- m.Job().ID()
	}
	if f.onRun != nil {
		return f.onRun(ctx, m)
	}
	return nil
}

func (f *fakeRunner) RetryPage(ctx context.Context, m *Machine, pageID string) error {
	f.mu.Lock()
	f.pageRuns = append(f.pageRuns, pageID)
	f.mu.Unlock()
	if f.onPageRun != nil {
		return f.onPageRun(ctx, m, pageID)
	}
	return nil
}

// memStore is an in-memory job.Store.
type memStore struct {
	mu   sync.Mutex
	jobs map[string]PersistedJob
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[string]PersistedJob)}
}

func (s *memStore) SaveJob(_ context.Context, snap Snapshot, structure *wiki.Structure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pj := s.jobs[snap.ID]
	pj.Snapshot = snap
	if structure != nil {
		pj.Structure = structure
	}
	s.jobs[snap.ID] = pj
	return nil
}

func (s *memStore) SavePage(_ context.Context, jobID string, page Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pj := s.jobs[jobID]
	for i := range pj.Pages {
		if pj.Pages[i].PageID == page.PageID {
			pj.Pages[i] = page
			s.jobs[jobID] = pj
			return nil
		}
	}
	pj.Pages = append(pj.Pages, page)
	s.jobs[jobID] = pj
	return nil
}

func (s *memStore) DeleteJob(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, jobID)
	return nil
}

func (s *memStore) LoadIncompleteJobs(context.Context) ([]PersistedJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []PersistedJob
	for _, pj := range s.jobs {
		if !pj.Snapshot.Status.Terminal() {
			out = append(out, pj)
		}
	}
	return out, nil
}

func TestManagerCreateAndStart(t *testing.T) {
	runner := &fakeRunner{
		onRun: func(_ context.Context, m *Machine) error {
			require.NoError(t, m.Start())
			require.NoError(t, m.BeginStructure())
			require.NoError(t, m.BeginPages(testStructure("page-1")))
			m.CompletePage("page-1", "# One", 1, time.Millisecond)
			return m.FinishPages()
		},
	}
	store := newMemStore()
	mgr := NewManager(2, runner, store, nil, nil)

	m, err := mgr.Create(context.Background(), testRef(), "anthropic", "model-x")
	require.NoError(t, err)
	id := m.Job().ID()
	assert.Len(t, id, 8)

	require.NoError(t, mgr.Start(id))
	waitForStatus(t, mgr, id, StatusCompleted)

	// Persisted through the sink.
	store.mu.Lock()
	pj := store.jobs[id]
	store.mu.Unlock()
	assert.Equal(t, StatusCompleted, pj.Snapshot.Status)
	require.Len(t, pj.Pages, 1)
	assert.Equal(t, "# One", pj.Pages[0].Content)
}

func TestManagerListMostRecentFirst(t *testing.T) {
	mgr := NewManager(2, &fakeRunner{}, nil, nil, nil)

	first, err := mgr.Create(context.Background(), testRef(), "anthropic", "m")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	second, err := mgr.Create(context.Background(), testRef(), "anthropic", "m")
	require.NoError(t, err)

	snaps := mgr.List()
	require.Len(t, snaps, 2)
	assert.Equal(t, second.Job().ID(), snaps[0].ID)
	assert.Equal(t, first.Job().ID(), snaps[1].ID)
}

func TestManagerCancelStopsRunContext(t *testing.T) {
	started := make(chan string, 1)
	done := make(chan struct{})
	runner := &fakeRunner{
		runStarted: started,
		onRun: func(ctx context.Context, m *Machine) error {
			_ = m.Start()
			<-ctx.Done()
			close(done)
			return ctx.Err()
		},
	}
	mgr := NewManager(2, runner, nil, nil, nil)

	m, err := mgr.Create(context.Background(), testRef(), "anthropic", "m")
	require.NoError(t, err)
	id := m.Job().ID()
	require.NoError(t, mgr.Start(id))
	<-started

	require.NoError(t, mgr.Cancel(id))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run context was not cancelled")
	}
	assert.Equal(t, StatusCancelled, m.Job().Status())
}

func TestManagerRetryRestartsRun(t *testing.T) {
	runner := &fakeRunner{}
	first := true
	runner.onRun = func(_ context.Context, m *Machine) error {
		if first {
			first = false
			return m.Fail("transient upstream failure")
		}
		require.NoError(t, m.Start())
		require.NoError(t, m.BeginStructure())
		require.NoError(t, m.BeginPages(testStructure("page-1")))
		m.CompletePage("page-1", "# One", 1, time.Millisecond)
		return m.FinishPages()
	}
	mgr := NewManager(2, runner, nil, nil, nil)

	m, err := mgr.Create(context.Background(), testRef(), "anthropic", "m")
	require.NoError(t, err)
	id := m.Job().ID()
	require.NoError(t, mgr.Start(id))
	waitForStatus(t, mgr, id, StatusFailed)

	require.NoError(t, mgr.Retry(id))
	waitForStatus(t, mgr, id, StatusCompleted)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Equal(t, 2, runner.runs)
}

func TestManagerRetryPageOnFinishedJob(t *testing.T) {
	runner := &fakeRunner{
		onRun: func(_ context.Context, m *Machine) error {
			_ = m.Start()
			_ = m.BeginStructure()
			_ = m.BeginPages(testStructure("page-1", "page-2"))
			m.CompletePage("page-1", "# One", 1, time.Millisecond)
			m.FailPage("page-2", "placeholder", "boom", true)
			return m.FinishPages()
		},
		onPageRun: func(_ context.Context, m *Machine, pageID string) error {
			require.True(t, m.MarkPageInProgress(pageID))
			m.CompletePage(pageID, "# Two", 1, time.Millisecond)
			return m.FinishPages()
		},
	}
	mgr := NewManager(2, runner, nil, nil, nil)

	m, err := mgr.Create(context.Background(), testRef(), "anthropic", "m")
	require.NoError(t, err)
	id := m.Job().ID()
	require.NoError(t, mgr.Start(id))
	waitForStatus(t, mgr, id, StatusPartiallyCompleted)

	require.NoError(t, mgr.RetryPage(id, "page-2"))
	waitForStatus(t, mgr, id, StatusCompleted)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Equal(t, []string{"page-2"}, runner.pageRuns)
}

func TestManagerDeleteRequiresTerminal(t *testing.T) {
	store := newMemStore()
	mgr := NewManager(2, &fakeRunner{}, store, nil, nil)

	m, err := mgr.Create(context.Background(), testRef(), "anthropic", "m")
	require.NoError(t, err)
	id := m.Job().ID()

	assert.Error(t, mgr.Delete(context.Background(), id), "pending jobs cannot be deleted")

	require.NoError(t, m.Fail("boom"))
	require.NoError(t, mgr.Delete(context.Background(), id))

	_, ok := mgr.Get(id)
	assert.False(t, ok)
	store.mu.Lock()
	_, stored := store.jobs[id]
	store.mu.Unlock()
	assert.False(t, stored)
}

func TestManagerResumeIncompleteJobs(t *testing.T) {
	store := newMemStore()
	structure := testStructure("page-1", "page-2")
	store.jobs["run01"] = PersistedJob{
		Snapshot: Snapshot{
			ID: "run01", Owner: "acme", Repo: "widget", RepoType: "github",
			Status: StatusGeneratingPages, CreatedAt: time.Now(),
		},
		Pages: []Page{
			{PageID: "page-1", Status: PageCompleted, Content: "# One"},
			{PageID: "page-2", Status: PagePending},
		},
		Structure: structure,
	}
	store.jobs["paus1"] = PersistedJob{
		Snapshot: Snapshot{
			ID: "paus1", Owner: "acme", Repo: "widget", RepoType: "github",
			Status: StatusPaused, CreatedAt: time.Now(),
		},
		Pages:     []Page{{PageID: "page-1", Status: PagePending}},
		Structure: testStructure("page-1"),
	}
	store.jobs["done1"] = PersistedJob{
		Snapshot: Snapshot{ID: "done1", Status: StatusCompleted, CreatedAt: time.Now()},
	}

	started := make(chan string, 4)
	runner := &fakeRunner{
		runStarted: started,
		onRun: func(_ context.Context, m *Machine) error {
			// Only the remaining page runs.
			if m.MarkPageInProgress("page-2") {
				m.CompletePage("page-2", "# Two", 1, time.Millisecond)
			}
			return m.FinishPages()
		},
	}
	mgr := NewManager(2, runner, store, nil, nil)
	require.NoError(t, mgr.ResumeIncompleteJobs(context.Background()))

	// The running job restarts by itself.
	select {
	case id := <-started:
		assert.Equal(t, "run01", id)
	case <-time.After(time.Second):
		t.Fatal("restored job was not started")
	}
	waitForStatus(t, mgr, "run01", StatusCompleted)

	// The paused job is registered but waits for an explicit resume.
	paused, ok := mgr.Get("paus1")
	require.True(t, ok)
	assert.Equal(t, StatusPaused, paused.Job().Status())

	// The completed job is not restored at all.
	_, ok = mgr.Get("done1")
	assert.False(t, ok)
}

func TestManagerResumeRestoredPausedJobStartsRun(t *testing.T) {
	store := newMemStore()
	store.jobs["paus1"] = PersistedJob{
		Snapshot: Snapshot{
			ID: "paus1", Owner: "acme", Repo: "widget", RepoType: "github",
			Status: StatusPaused, CreatedAt: time.Now(),
		},
		Pages:     []Page{{PageID: "page-1", Status: PagePending}},
		Structure: testStructure("page-1"),
	}

	runner := &fakeRunner{
		onRun: func(_ context.Context, m *Machine) error {
			require.True(t, m.MarkPageInProgress("page-1"))
			m.CompletePage("page-1", "# One", 1, time.Millisecond)
			return m.FinishPages()
		},
	}
	mgr := NewManager(2, runner, store, nil, nil)
	require.NoError(t, mgr.ResumeIncompleteJobs(context.Background()))

	require.NoError(t, mgr.Resume("paus1"))
	waitForStatus(t, mgr, "paus1", StatusCompleted)
}

func waitForStatus(t *testing.T, mgr *Manager, id string, want Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		m, ok := mgr.Get(id)
		require.True(t, ok)
		if m.Job().Status() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	m, _ := mgr.Get(id)
	t.Fatalf("job %s never reached %s (now %s)", id, want, m.Job().Status())
}
