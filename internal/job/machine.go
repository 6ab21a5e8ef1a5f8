package job

import (
	"context"
	"fmt"
	"time"

	"github.com/julianshen/repowiki/internal/wiki"
)

// Sink receives a snapshot after every observable state change. The
// progress streamer implements this to serialize transitions into an event
// stream; a nil sink is valid.
type Sink interface {
	JobEvent(snap Snapshot, message string, page *Page)
}

// Machine drives a job's lifecycle. It is the only writer of job state;
// the scheduler and phase runner call into it, and everything else reads
// snapshots.
type Machine struct {
	job  *Job
	sink Sink
}

// NewMachine wraps a job with its state machine. sink may be nil.
func NewMachine(j *Job, sink Sink) *Machine {
	return &Machine{job: j, sink: sink}
}

// Job returns the underlying job.
func (m *Machine) Job() *Job { return m.job }

// validTransitions lists the allowed status moves, excluding pause/resume
// and cancel which have their own rules.
var validTransitions = map[Status][]Status{
	StatusPending:             {StatusPreparingEmbeddings, StatusFailed},
	StatusPreparingEmbeddings: {StatusGeneratingStructure, StatusFailed},
	StatusGeneratingStructure: {StatusGeneratingPages, StatusFailed},
	StatusGeneratingPages:     {StatusCompleted, StatusPartiallyCompleted, StatusFailed},
	StatusFailed:              {StatusPending},
}

func (m *Machine) transition(to Status, msg string) error {
	m.job.mu.Lock()

	from := m.job.status
	allowed := false
	for _, next := range validTransitions[from] {
		if next == to {
			allowed = true
			break
		}
	}
	if !allowed {
		m.job.mu.Unlock()
		return fmt.Errorf("invalid transition %s -> %s", from, to)
	}

	m.job.status = to
	m.job.phase = phaseFor(to, m.job.phase)
	m.job.updatedAt = time.Now()
	if to.Terminal() {
		now := m.job.updatedAt
		m.job.completedAt = &now
	}
	snap := m.job.snapshotLocked()
	m.job.mu.Unlock()

	m.emit(snap, msg, nil)
	return nil
}

// phaseFor keeps the phase monotonically non-decreasing for a run; only an
// explicit retry (failed -> pending) moves it backward.
func phaseFor(to Status, current Phase) Phase {
	switch to {
	case StatusPending:
		return PhaseEmbeddings
	case StatusGeneratingStructure:
		return PhaseStructure
	case StatusGeneratingPages:
		return PhasePages
	default:
		return current
	}
}

// Start moves a pending job into the embeddings phase.
func (m *Machine) Start() error {
	return m.transition(StatusPreparingEmbeddings, "preparing embeddings")
}

// BeginStructure moves the job into the structure phase.
func (m *Machine) BeginStructure() error {
	return m.transition(StatusGeneratingStructure, "generating wiki structure")
}

// BeginPages installs the parsed structure, creates one page row per wiki
// page in declaration order, and moves the job into the page phase. Page
// rows that already exist (resume) are kept as is.
func (m *Machine) BeginPages(structure *wiki.Structure) error {
	m.job.mu.Lock()
	m.job.structure = structure
	for _, p := range structure.Pages {
		if _, ok := m.job.pages[p.ID]; ok {
			continue
		}
		m.job.pages[p.ID] = &Page{PageID: p.ID, Title: p.Title, Status: PagePending}
		m.job.pageOrder = append(m.job.pageOrder, p.ID)
	}
	m.job.mu.Unlock()

	return m.transition(StatusGeneratingPages, "generating pages")
}

// Fail marks the job failed with the given error message. Valid from any
// non-terminal status; reaching it from paused first unblocks the gate.
func (m *Machine) Fail(errMsg string) error {
	m.job.mu.Lock()
	if m.job.status.Terminal() {
		m.job.mu.Unlock()
		return fmt.Errorf("job %s already terminal (%s)", m.job.id, m.job.status)
	}
	m.job.status = StatusFailed
	m.job.errorMessage = errMsg
	m.job.updatedAt = time.Now()
	now := m.job.updatedAt
	m.job.completedAt = &now
	m.openGateLocked()
	snap := m.job.snapshotLocked()
	m.job.mu.Unlock()

	m.emit(snap, "job failed: "+errMsg, nil)
	return nil
}

// Pause freezes a running job. No new pages are dequeued, in-flight page
// results already stored are kept.
func (m *Machine) Pause() error {
	m.job.mu.Lock()
	if !m.job.status.Running() {
		status := m.job.status
		m.job.mu.Unlock()
		return fmt.Errorf("cannot pause job in status %s", status)
	}
	m.job.resumeTo = m.job.status
	m.job.status = StatusPaused
	m.job.resumeGate = make(chan struct{})
	m.job.updatedAt = time.Now()
	snap := m.job.snapshotLocked()
	m.job.mu.Unlock()

	m.emit(snap, "job paused", nil)
	return nil
}

// Resume returns a paused job to the running status it was paused from.
func (m *Machine) Resume() error {
	m.job.mu.Lock()
	if m.job.status != StatusPaused {
		status := m.job.status
		m.job.mu.Unlock()
		return fmt.Errorf("cannot resume job in status %s", status)
	}
	m.job.status = m.job.resumeTo
	m.job.resumeTo = ""
	m.job.updatedAt = time.Now()
	m.openGateLocked()
	snap := m.job.snapshotLocked()
	m.job.mu.Unlock()

	m.emit(snap, "job resumed", nil)
	return nil
}

// Cancel moves any non-terminal job directly to cancelled. Already stored
// page content is kept.
func (m *Machine) Cancel() error {
	m.job.mu.Lock()
	if m.job.status.Terminal() {
		status := m.job.status
		m.job.mu.Unlock()
		return fmt.Errorf("cannot cancel job in status %s", status)
	}
	m.job.status = StatusCancelled
	m.job.updatedAt = time.Now()
	now := m.job.updatedAt
	m.job.completedAt = &now
	m.openGateLocked()
	snap := m.job.snapshotLocked()
	m.job.mu.Unlock()

	m.emit(snap, "job cancelled", nil)
	return nil
}

// Retry re-enters pending from failed, resetting the phase to embeddings
// and clearing the error; page rows keep their content so completed pages
// are not regenerated.
func (m *Machine) Retry() error {
	if err := m.transition(StatusPending, "job retry requested"); err != nil {
		return err
	}
	m.job.mu.Lock()
	m.job.errorMessage = ""
	m.job.completedAt = nil
	// Completed pages keep their content; everything else is re-attempted.
	for _, p := range m.job.pages {
		if p.Status != PageCompleted {
			p.Status = PagePending
			p.Content = ""
			p.LastError = ""
		}
	}
	m.job.mu.Unlock()
	return nil
}

func (m *Machine) openGateLocked() {
	select {
	case <-m.job.resumeGate:
		// already open
	default:
		close(m.job.resumeGate)
	}
}

// AwaitResume blocks while the job is paused. It returns early with the
// context error if ctx is cancelled.
func (m *Machine) AwaitResume(ctx context.Context) error {
	m.job.mu.RLock()
	gate := m.job.resumeGate
	m.job.mu.RUnlock()

	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AddTokens accumulates token usage from non-page completions (the
// embeddings probe and the structure request).
func (m *Machine) AddTokens(n int) {
	if n <= 0 {
		return
	}
	m.job.mu.Lock()
	m.job.totalTokens += n
	m.job.mu.Unlock()
}

// ---------- page state ----------

// MarkPageInProgress flags a page as generating. It refuses to double-mark
// so an in-flight page can never be dequeued twice.
func (m *Machine) MarkPageInProgress(pageID string) bool {
	m.job.mu.Lock()
	p, ok := m.job.pages[pageID]
	if !ok || p.Status == PageInProgress || m.job.status.Terminal() {
		m.job.mu.Unlock()
		return false
	}
	p.Status = PageInProgress
	m.job.updatedAt = time.Now()
	snap := m.job.snapshotLocked()
	page := *p
	m.job.mu.Unlock()

	m.emit(snap, "generating page: "+page.Title, &page)
	return true
}

// CompletePage stores terminal content for a page.
func (m *Machine) CompletePage(pageID, content string, tokens int, elapsed time.Duration) {
	m.job.mu.Lock()
	p, ok := m.job.pages[pageID]
	if !ok || m.job.status.Terminal() {
		m.job.mu.Unlock()
		return
	}
	p.Status = PageCompleted
	p.Content = content
	p.LastError = ""
	p.TokensUsed += tokens
	p.GenerationTimeMs = elapsed.Milliseconds()
	m.job.totalTokens += tokens
	m.job.updatedAt = time.Now()

	if s := m.job.structure; s != nil {
		if wp := s.PageByID(pageID); wp != nil {
			wp.Content = content
		}
	}

	snap := m.job.snapshotLocked()
	page := *p
	m.job.mu.Unlock()

	m.emit(snap, "page completed: "+page.Title, &page)
}

// FailPage records a page failure with the human-readable placeholder that
// becomes the page's content. permanent marks the page permanently failed,
// reachable only after the automatic attempt bound is exhausted.
func (m *Machine) FailPage(pageID, placeholder, errMsg string, permanent bool) {
	m.job.mu.Lock()
	p, ok := m.job.pages[pageID]
	if !ok || m.job.status.Terminal() {
		m.job.mu.Unlock()
		return
	}
	if permanent {
		p.Status = PagePermanentFailed
	} else {
		p.Status = PageFailed
	}
	p.Content = placeholder
	p.LastError = errMsg
	m.job.updatedAt = time.Now()

	if s := m.job.structure; s != nil {
		if wp := s.PageByID(pageID); wp != nil {
			wp.Content = placeholder
		}
	}

	snap := m.job.snapshotLocked()
	page := *p
	m.job.mu.Unlock()

	m.emit(snap, "page failed: "+page.Title, &page)
}

// ResetPageForRetry prepares a terminal page for a manual retry: status
// back to pending, retry counter incremented, stale content cleared so the
// scheduler's idempotency guard does not skip it.
func (m *Machine) ResetPageForRetry(pageID string) error {
	m.job.mu.Lock()
	p, ok := m.job.pages[pageID]
	if !ok {
		m.job.mu.Unlock()
		return fmt.Errorf("unknown page %s", pageID)
	}
	if p.Status == PageInProgress {
		m.job.mu.Unlock()
		return fmt.Errorf("page %s is in flight", pageID)
	}
	p.Status = PagePending
	p.RetryCount++
	p.Content = ""
	p.LastError = ""
	m.job.updatedAt = time.Now()

	if s := m.job.structure; s != nil {
		if wp := s.PageByID(pageID); wp != nil {
			wp.Content = ""
		}
	}

	snap := m.job.snapshotLocked()
	page := *p
	m.job.mu.Unlock()

	m.emit(snap, "page retry requested: "+page.Title, &page)
	return nil
}

// ReopenForPageRetry moves a finished job back into the page phase so a
// manual per-page retry can run and the terminal status can be
// reclassified afterwards. Cancelled jobs stay cancelled; a job already
// generating pages is left alone.
func (m *Machine) ReopenForPageRetry() error {
	m.job.mu.Lock()
	switch m.job.status {
	case StatusGeneratingPages:
		m.job.mu.Unlock()
		return nil
	case StatusCompleted, StatusPartiallyCompleted, StatusFailed:
	default:
		status := m.job.status
		m.job.mu.Unlock()
		return fmt.Errorf("cannot retry a page of a job in status %s", status)
	}
	m.job.status = StatusGeneratingPages
	m.job.errorMessage = ""
	m.job.completedAt = nil
	m.job.updatedAt = time.Now()
	snap := m.job.snapshotLocked()
	m.job.mu.Unlock()

	m.emit(snap, "regenerating pages", nil)
	return nil
}

// FinishPages classifies the terminal status once the queue has drained:
// completed iff every page completed, partially_completed when some did,
// failed when none did.
func (m *Machine) FinishPages() error {
	m.job.mu.Lock()
	if m.job.status != StatusGeneratingPages {
		status := m.job.status
		m.job.mu.Unlock()
		return fmt.Errorf("cannot finish pages from status %s", status)
	}
	completed, failed := m.job.countsLocked()
	total := len(m.job.pageOrder)
	m.job.mu.Unlock()

	switch {
	case failed == 0 && completed == total:
		return m.transition(StatusCompleted, "wiki generation completed")
	case completed > 0:
		return m.transition(StatusPartiallyCompleted,
			fmt.Sprintf("wiki generation finished with %d failed page(s)", failed))
	default:
		m.job.mu.Lock()
		m.job.errorMessage = "all pages failed"
		m.job.mu.Unlock()
		return m.transition(StatusFailed, "all pages failed")
	}
}

func (m *Machine) emit(snap Snapshot, msg string, page *Page) {
	if m.sink != nil {
		m.sink.JobEvent(snap, msg, page)
	}
}
