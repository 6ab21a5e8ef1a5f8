// Package job owns the wiki-generation job lifecycle: the status/phase
// state machine, per-page bookkeeping, and the manager that runs jobs with
// bounded concurrency. The Job is the single source of truth for all
// externally observable generation state; readers get immutable snapshots.
package job

import (
	"sync"
	"time"

	"github.com/julianshen/repowiki/internal/wiki"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending             Status = "pending"
	StatusPreparingEmbeddings Status = "preparing_embeddings"
	StatusGeneratingStructure Status = "generating_structure"
	StatusGeneratingPages     Status = "generating_pages"
	StatusPaused              Status = "paused"
	StatusCompleted           Status = "completed"
	StatusPartiallyCompleted  Status = "partially_completed"
	StatusFailed              Status = "failed"
	StatusCancelled           Status = "cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusPartiallyCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Running reports whether the status is one of the active phases.
func (s Status) Running() bool {
	switch s {
	case StatusPreparingEmbeddings, StatusGeneratingStructure, StatusGeneratingPages:
		return true
	}
	return false
}

// Phase numbers the pipeline stages. The phase is monotonically
// non-decreasing within a run; only an explicit retry resets it.
type Phase int

const (
	PhaseEmbeddings Phase = 0
	PhaseStructure  Phase = 1
	PhasePages      Phase = 2
)

// PageStatus is the per-page generation state.
type PageStatus string

const (
	PagePending         PageStatus = "pending"
	PageInProgress      PageStatus = "in_progress"
	PageCompleted       PageStatus = "completed"
	PageFailed          PageStatus = "failed"
	PagePermanentFailed PageStatus = "permanent_failed"
)

// TerminalPage reports whether the page status needs no further work.
func (s PageStatus) TerminalPage() bool {
	return s == PageCompleted || s == PagePermanentFailed
}

// Page tracks generation state for one wiki page within a job.
type Page struct {
	PageID           string     `json:"page_id"`
	Title            string     `json:"title"`
	Status           PageStatus `json:"status"`
	RetryCount       int        `json:"retry_count"`
	LastError        string     `json:"last_error,omitempty"`
	TokensUsed       int        `json:"tokens_used"`
	GenerationTimeMs int64      `json:"generation_time_ms"`
	Content          string     `json:"content,omitempty"`
}

// Ref identifies the repository a job generates a wiki for. The access
// token is held in memory only and never serialized.
type Ref struct {
	Owner         string `json:"owner"`
	Repo          string `json:"repo"`
	RepoType      string `json:"repo_type"`
	Branch        string `json:"branch,omitempty"`
	LocalDir      string `json:"local_dir,omitempty"`
	Language      string `json:"language"`
	Comprehensive bool   `json:"comprehensive"`
	Token         string `json:"-"`
}

// Job is a resumable background wiki-generation job. All mutation goes
// through Machine methods under the job's lock; readers use Snapshot.
type Job struct {
	mu sync.RWMutex

	id       string
	ref      Ref
	provider string
	model    string

	status       Status
	phase        Phase
	resumeTo     Status // status to restore on Resume
	errorMessage string
	totalTokens  int

	pages     map[string]*Page
	pageOrder []string

	structure *wiki.Structure

	createdAt   time.Time
	updatedAt   time.Time
	completedAt *time.Time

	// resumeGate is closed when the job is not paused; swapped for an open
	// channel on pause so the scheduler blocks between pages.
	resumeGate chan struct{}
}

// Snapshot is an immutable copy of a job's externally visible state.
type Snapshot struct {
	ID              string     `json:"id"`
	Owner           string     `json:"owner"`
	Repo            string     `json:"repo"`
	RepoType        string     `json:"repo_type"`
	Provider        string     `json:"provider"`
	Model           string     `json:"model"`
	Language        string     `json:"language"`
	Comprehensive   bool       `json:"comprehensive"`
	Status          Status     `json:"status"`
	CurrentPhase    Phase      `json:"current_phase"`
	ProgressPercent int        `json:"progress_percent"`
	TotalPages      int        `json:"total_pages"`
	CompletedPages  int        `json:"completed_pages"`
	FailedPages     int        `json:"failed_pages"`
	TotalTokensUsed int        `json:"total_tokens_used"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// closedGate is shared by all unpaused jobs.
var closedGate = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// New creates a pending job.
func New(id string, ref Ref, providerName, model string) *Job {
	now := time.Now()
	return &Job{
		id:         id,
		ref:        ref,
		provider:   providerName,
		model:      model,
		status:     StatusPending,
		phase:      PhaseEmbeddings,
		pages:      make(map[string]*Page),
		createdAt:  now,
		updatedAt:  now,
		resumeGate: closedGate,
	}
}

// Restore rebuilds a job from persisted state. A job persisted in a
// pre-structure running status restarts from pending; one persisted in the
// page phase (or paused there) keeps its status so the scheduler can pick
// up from the first page without terminal content.
func Restore(snap Snapshot, pages []Page, structure *wiki.Structure) *Job {
	j := New(snap.ID, Ref{
		Owner:         snap.Owner,
		Repo:          snap.Repo,
		RepoType:      snap.RepoType,
		Language:      snap.Language,
		Comprehensive: snap.Comprehensive,
	}, snap.Provider, snap.Model)

	j.createdAt = snap.CreatedAt
	j.totalTokens = snap.TotalTokensUsed
	j.structure = structure

	for i := range pages {
		p := pages[i]
		// In-flight state cannot survive a restart.
		if p.Status == PageInProgress {
			p.Status = PagePending
		}
		j.pages[p.PageID] = &p
		j.pageOrder = append(j.pageOrder, p.PageID)

		if structure != nil && p.Content != "" {
			if wp := structure.PageByID(p.PageID); wp != nil {
				wp.Content = p.Content
			}
		}
	}

	switch {
	case snap.Status == StatusPaused && structure != nil:
		j.status = StatusPaused
		j.phase = PhasePages
		j.resumeTo = StatusGeneratingPages
		j.resumeGate = make(chan struct{})
	case snap.Status == StatusGeneratingPages && structure != nil:
		j.status = StatusGeneratingPages
		j.phase = PhasePages
	default:
		// Restart from the beginning of the run.
		j.status = StatusPending
		j.phase = PhaseEmbeddings
	}

	return j
}

// ID returns the job id.
func (j *Job) ID() string { return j.id }

// Status returns the current lifecycle status.
func (j *Job) Status() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// Ref returns the repository reference the job was created for.
func (j *Job) Ref() Ref { return j.ref }

// ProviderName returns the configured model provider name.
func (j *Job) ProviderName() string { return j.provider }

// Model returns the configured model identifier.
func (j *Job) Model() string { return j.model }

// Snapshot returns a copy of the job's current state.
func (j *Job) Snapshot() Snapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.snapshotLocked()
}

func (j *Job) snapshotLocked() Snapshot {
	completed, failed := j.countsLocked()
	return Snapshot{
		ID:              j.id,
		Owner:           j.ref.Owner,
		Repo:            j.ref.Repo,
		RepoType:        j.ref.RepoType,
		Provider:        j.provider,
		Model:           j.model,
		Language:        j.ref.Language,
		Comprehensive:   j.ref.Comprehensive,
		Status:          j.status,
		CurrentPhase:    j.phase,
		ProgressPercent: j.progressLocked(completed, failed),
		TotalPages:      len(j.pageOrder),
		CompletedPages:  completed,
		FailedPages:     failed,
		TotalTokensUsed: j.totalTokens,
		ErrorMessage:    j.errorMessage,
		CreatedAt:       j.createdAt,
		UpdatedAt:       j.updatedAt,
		CompletedAt:     j.completedAt,
	}
}

// Pages returns copies of the per-page rows in structure-declaration order.
func (j *Job) Pages() []Page {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]Page, 0, len(j.pageOrder))
	for _, id := range j.pageOrder {
		out = append(out, *j.pages[id])
	}
	return out
}

// Page returns a copy of one page row.
func (j *Job) Page(id string) (Page, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	p, ok := j.pages[id]
	if !ok {
		return Page{}, false
	}
	return *p, true
}

// Structure returns the parsed wiki structure, nil before the structure
// phase completes.
func (j *Job) Structure() *wiki.Structure {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.structure
}

func (j *Job) countsLocked() (completed, failed int) {
	for _, p := range j.pages {
		switch p.Status {
		case PageCompleted:
			completed++
		case PagePermanentFailed:
			failed++
		}
	}
	return completed, failed
}

// progressLocked maps phase and page counts onto a 0-100 percentage:
// embeddings 5, structure 10, page phase scales 10..100.
func (j *Job) progressLocked(completed, failed int) int {
	if j.status.Terminal() {
		return 100
	}
	switch j.phase {
	case PhaseEmbeddings:
		if j.status == StatusPending {
			return 0
		}
		return 5
	case PhaseStructure:
		return 10
	default:
		total := len(j.pageOrder)
		if total == 0 {
			return 10
		}
		return 10 + (completed+failed)*90/total
	}
}
