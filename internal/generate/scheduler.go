package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/julianshen/repowiki/internal/job"
	"github.com/julianshen/repowiki/internal/wiki"
)

// SchedulerConfig bounds the page queue.
type SchedulerConfig struct {
	// Concurrency is the page-generation bound. The default of 1 is
	// deliberate: pages are generated strictly sequentially in
	// structure-declaration order.
	Concurrency int
	// MaxAttempts is the automatic attempt bound per page before it is
	// marked permanently failed.
	MaxAttempts int
}

// DefaultSchedulerConfig returns the production defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{Concurrency: 1, MaxAttempts: 3}
}

// Scheduler generates content for every page of a job's structure under a
// concurrency bound, tracking per-page status through the job machine. A
// single page failure never aborts the rest of the queue.
type Scheduler struct {
	machine   *job.Machine
	completer PageCompleter
	cfg       SchedulerConfig
	logger    *slog.Logger

	mu       sync.Mutex
	inflight map[string]bool
}

// NewScheduler creates a scheduler for one job.
func NewScheduler(m *job.Machine, completer PageCompleter, cfg SchedulerConfig, logger *slog.Logger) *Scheduler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		machine:   m,
		completer: completer,
		cfg:       cfg,
		logger:    logger,
		inflight:  make(map[string]bool),
	}
}

// Run walks the structure's pages in declaration order and generates each
// one, honoring the pause gate between dequeues. It returns once every
// page has settled or the job left the running state.
func (s *Scheduler) Run(ctx context.Context) error {
	structure := s.machine.Job().Structure()
	if structure == nil {
		return errors.New("scheduler started without a structure")
	}

	g := new(errgroup.Group)
	g.SetLimit(s.cfg.Concurrency)

	for _, page := range structure.Pages {
		// The pause gate freezes dequeueing without discarding work
		// already in flight.
		if err := s.machine.AwaitResume(ctx); err != nil {
			break
		}
		if s.machine.Job().Status().Terminal() {
			break
		}

		if !s.claim(page.ID) {
			continue
		}
		g.Go(func() error {
			defer s.release(page.ID)
			s.process(ctx, page)
			return nil
		})
	}

	return g.Wait()
}

// RunPage generates a single page through the same guarded path, used for
// manual per-page retries.
func (s *Scheduler) RunPage(ctx context.Context, pageID string) error {
	structure := s.machine.Job().Structure()
	if structure == nil {
		return errors.New("job has no structure")
	}
	page := structure.PageByID(pageID)
	if page == nil {
		return fmt.Errorf("unknown page %s", pageID)
	}

	if !s.claim(pageID) {
		return nil
	}
	defer s.release(pageID)
	s.process(ctx, page)
	return nil
}

// claim applies the enqueue guards: a page that already holds terminal
// content is a no-op success, and a page with a request in flight is never
// enqueued twice.
func (s *Scheduler) claim(pageID string) bool {
	row, ok := s.machine.Job().Page(pageID)
	if !ok {
		return false
	}
	if row.Status == job.PageCompleted && row.Content != "" {
		return false
	}
	if row.Status.TerminalPage() {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[pageID] {
		return false
	}
	s.inflight[pageID] = true
	return true
}

func (s *Scheduler) release(pageID string) {
	s.mu.Lock()
	delete(s.inflight, pageID)
	s.mu.Unlock()
}

// process generates one page, retrying transient failures up to the
// attempt bound and storing a human-readable placeholder as content when
// all attempts fail. Content is never left empty.
func (s *Scheduler) process(ctx context.Context, page *wiki.Page) {
	ref := s.machine.Job().Ref()

	prompt, err := pagePrompt(ref, page)
	if err != nil {
		s.settleFailure(page, err, true)
		return
	}

	for attempt := 1; ; attempt++ {
		// Re-check the gate per attempt: a page claimed just before a
		// pause must not start until the job resumes.
		if s.machine.AwaitResume(ctx) != nil || s.machine.Job().Status().Terminal() {
			return
		}
		if !s.machine.MarkPageInProgress(page.ID) {
			return
		}

		start := time.Now()
		text, usage, err := s.completer.Complete(ctx, systemPrompt, prompt)
		if err == nil {
			content := wiki.StripCodeFence(text)
			if content == "" {
				err = errors.New("model returned an empty response")
			} else {
				s.machine.CompletePage(page.ID, content, usage.Total(), time.Since(start))
				return
			}
		}

		s.logger.Warn("page generation attempt failed",
			"job_id", s.machine.Job().ID(), "page_id", page.ID, "attempt", attempt,
			"error", &wiki.PageGenerationError{PageID: page.ID, Err: err})

		if ctx.Err() != nil || attempt >= s.cfg.MaxAttempts {
			s.settleFailure(page, err, true)
			return
		}
		s.settleFailure(page, err, false)
	}
}

// settleFailure stores the failure placeholder so the page never ends with
// empty content.
func (s *Scheduler) settleFailure(page *wiki.Page, err error, permanent bool) {
	placeholder := fmt.Sprintf("Error generating content for page %q: %v", page.Title, err)
	s.machine.FailPage(page.ID, placeholder, err.Error(), permanent)
}
