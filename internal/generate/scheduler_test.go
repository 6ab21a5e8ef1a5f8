package generate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julianshen/repowiki/internal/job"
	"github.com/julianshen/repowiki/internal/wiki"
)

// fakeCompleter scripts completions and records call order.
type fakeCompleter struct {
	mu       sync.Mutex
	calls    []string // prompt per call
	active   int
	maxSeen  int
	respond  func(prompt string) (string, error)
	perCall  time.Duration
	tokensIn int
}

func (f *fakeCompleter) Complete(ctx context.Context, _, prompt string) (string, Usage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, prompt)
	f.active++
	if f.active > f.maxSeen {
		f.maxSeen = f.active
	}
	f.mu.Unlock()

	if f.perCall > 0 {
		select {
		case <-time.After(f.perCall):
		case <-ctx.Done():
		}
	}

	f.mu.Lock()
	f.active--
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", Usage{}, err
	}
	if f.respond != nil {
		text, err := f.respond(prompt)
		return text, Usage{InputTokens: f.tokensIn, OutputTokens: 10}, err
	}
	return "# Generated", Usage{InputTokens: f.tokensIn, OutputTokens: 10}, nil
}

func (f *fakeCompleter) callsFor(title string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, prompt := range f.calls {
		if strings.Contains(prompt, title) {
			n++
		}
	}
	return n
}

func pageStructure(n int) *wiki.Structure {
	s := &wiki.Structure{ID: "wiki", Title: "Widget"}
	for i := 1; i <= n; i++ {
		s.Pages = append(s.Pages, &wiki.Page{
			ID:         fmt.Sprintf("page-%d", i),
			Title:      fmt.Sprintf("Chapter %d", i),
			Importance: wiki.ImportanceMedium,
		})
	}
	return s
}

func pageMachine(t *testing.T, n int) *job.Machine {
	t.Helper()
	ref := job.Ref{Owner: "acme", Repo: "widget", RepoType: "github", Language: "en"}
	m := job.NewMachine(job.New("j1", ref, "anthropic", "model-x"), nil)
	require.NoError(t, m.Start())
	require.NoError(t, m.BeginStructure())
	require.NoError(t, m.BeginPages(pageStructure(n)))
	return m
}

func TestSchedulerGeneratesInOrder(t *testing.T) {
	m := pageMachine(t, 4)
	completer := &fakeCompleter{}
	s := NewScheduler(m, completer, DefaultSchedulerConfig(), nil)

	require.NoError(t, s.Run(context.Background()))

	require.Len(t, completer.calls, 4)
	for i, prompt := range completer.calls {
		assert.Contains(t, prompt, fmt.Sprintf("Chapter %d", i+1), "call %d out of order", i)
	}
	assert.Equal(t, 1, completer.maxSeen, "never more than one request in flight")

	require.NoError(t, m.FinishPages())
	assert.Equal(t, job.StatusCompleted, m.Job().Status())
}

func TestSchedulerSingleFailureDoesNotAbortQueue(t *testing.T) {
	m := pageMachine(t, 3)
	completer := &fakeCompleter{
		respond: func(prompt string) (string, error) {
			if strings.Contains(prompt, "Chapter 2") {
				return "", errors.New("upstream timeout")
			}
			return "# Generated", nil
		},
	}
	s := NewScheduler(m, completer, SchedulerConfig{Concurrency: 1, MaxAttempts: 2}, nil)

	require.NoError(t, s.Run(context.Background()))
	require.NoError(t, m.FinishPages())

	snap := m.Job().Snapshot()
	assert.Equal(t, job.StatusPartiallyCompleted, snap.Status)
	assert.Equal(t, 2, snap.CompletedPages)
	assert.Equal(t, 1, snap.FailedPages)

	p2, ok := m.Job().Page("page-2")
	require.True(t, ok)
	assert.Equal(t, job.PagePermanentFailed, p2.Status)
	assert.Equal(t, `Error generating content for page "Chapter 2": upstream timeout`, p2.Content)

	p3, _ := m.Job().Page("page-3")
	assert.Equal(t, job.PageCompleted, p3.Status, "queue continued after the failure")
}

func TestSchedulerRetriesUpToAttemptBound(t *testing.T) {
	m := pageMachine(t, 1)
	completer := &fakeCompleter{
		respond: func(string) (string, error) { return "", errors.New("boom") },
	}
	s := NewScheduler(m, completer, SchedulerConfig{Concurrency: 1, MaxAttempts: 3}, nil)

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, 3, completer.callsFor("Chapter 1"))

	p, _ := m.Job().Page("page-1")
	assert.Equal(t, job.PagePermanentFailed, p.Status)
}

func TestSchedulerTransientFailureThenSuccess(t *testing.T) {
	m := pageMachine(t, 1)
	attempts := 0
	completer := &fakeCompleter{
		respond: func(string) (string, error) {
			attempts++
			if attempts == 1 {
				return "", errors.New("flaky")
			}
			return "# Recovered", nil
		},
	}
	s := NewScheduler(m, completer, DefaultSchedulerConfig(), nil)

	require.NoError(t, s.Run(context.Background()))

	p, _ := m.Job().Page("page-1")
	assert.Equal(t, job.PageCompleted, p.Status)
	assert.Equal(t, "# Recovered", p.Content)
	assert.Empty(t, p.LastError)
}

func TestSchedulerStripsCodeFence(t *testing.T) {
	m := pageMachine(t, 1)
	completer := &fakeCompleter{
		respond: func(string) (string, error) {
			return "```markdown\n# Fenced Page\n\nBody.\n```", nil
		},
	}
	s := NewScheduler(m, completer, DefaultSchedulerConfig(), nil)

	require.NoError(t, s.Run(context.Background()))

	p, _ := m.Job().Page("page-1")
	assert.Equal(t, "# Fenced Page\n\nBody.", p.Content)
}

func TestSchedulerEmptyResponseIsFailure(t *testing.T) {
	m := pageMachine(t, 1)
	completer := &fakeCompleter{
		respond: func(string) (string, error) { return "   \n", nil },
	}
	s := NewScheduler(m, completer, SchedulerConfig{Concurrency: 1, MaxAttempts: 1}, nil)

	require.NoError(t, s.Run(context.Background()))

	p, _ := m.Job().Page("page-1")
	assert.Equal(t, job.PagePermanentFailed, p.Status)
	assert.Contains(t, p.Content, "Error generating content")
}

func TestSchedulerSkipsPagesWithTerminalContent(t *testing.T) {
	m := pageMachine(t, 3)
	m.CompletePage("page-1", "# Already Done", 5, time.Millisecond)

	completer := &fakeCompleter{}
	s := NewScheduler(m, completer, DefaultSchedulerConfig(), nil)
	require.NoError(t, s.Run(context.Background()))

	assert.Equal(t, 0, completer.callsFor("Chapter 1"), "completed page is not regenerated")
	assert.Equal(t, 1, completer.callsFor("Chapter 2"))
	assert.Equal(t, 1, completer.callsFor("Chapter 3"))

	p1, _ := m.Job().Page("page-1")
	assert.Equal(t, "# Already Done", p1.Content)
}

func TestSchedulerStopsAfterCancel(t *testing.T) {
	m := pageMachine(t, 5)
	completer := &fakeCompleter{
		respond: func(prompt string) (string, error) {
			if strings.Contains(prompt, "Chapter 2") {
				// Cancel mid-queue; later pages must not be attempted.
				require.NoError(t, m.Cancel())
			}
			return "# Generated", nil
		},
	}
	s := NewScheduler(m, completer, DefaultSchedulerConfig(), nil)
	require.NoError(t, s.Run(context.Background()))

	assert.Equal(t, 1, completer.callsFor("Chapter 1"))
	assert.Equal(t, 0, completer.callsFor("Chapter 4"))
	assert.Equal(t, 0, completer.callsFor("Chapter 5"))

	// Content generated before the cancel survives.
	p1, _ := m.Job().Page("page-1")
	assert.Equal(t, "# Generated", p1.Content)
	assert.Equal(t, job.StatusCancelled, m.Job().Status())
}

func TestSchedulerPauseGateBlocksDequeue(t *testing.T) {
	m := pageMachine(t, 3)
	paused := false
	completer := &fakeCompleter{
		respond: func(prompt string) (string, error) {
			if strings.Contains(prompt, "Chapter 1") && !paused {
				paused = true
				require.NoError(t, m.Pause())
			}
			return "# Generated", nil
		},
	}
	s := NewScheduler(m, completer, DefaultSchedulerConfig(), nil)

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	// While paused, only the in-flight page finishes.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, job.StatusPaused, m.Job().Status())
	assert.Equal(t, 0, completer.callsFor("Chapter 2"))

	p1, _ := m.Job().Page("page-1")
	assert.Equal(t, job.PageCompleted, p1.Status, "in-flight page result is kept")

	require.NoError(t, m.Resume())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not finish after resume")
	}
	assert.Equal(t, 1, completer.callsFor("Chapter 2"))
	assert.Equal(t, 1, completer.callsFor("Chapter 3"))
}

func TestSchedulerRunPage(t *testing.T) {
	m := pageMachine(t, 2)
	completer := &fakeCompleter{}
	s := NewScheduler(m, completer, DefaultSchedulerConfig(), nil)
	require.NoError(t, s.Run(context.Background()))

	require.Error(t, s.RunPage(context.Background(), "missing"), "unknown pages are rejected")

	// A completed page is a no-op without a reset.
	require.NoError(t, s.RunPage(context.Background(), "page-1"))
	assert.Equal(t, 1, completer.callsFor("Chapter 1"))

	require.NoError(t, m.FinishPages())
	require.NoError(t, m.ReopenForPageRetry())
	require.NoError(t, m.ResetPageForRetry("page-1"))
	require.NoError(t, s.RunPage(context.Background(), "page-1"))
	assert.Equal(t, 2, completer.callsFor("Chapter 1"))

	p, _ := m.Job().Page("page-1")
	assert.Equal(t, 1, p.RetryCount)
	assert.Equal(t, job.PageCompleted, p.Status)
}

func TestSchedulerContextCancelStopsRetries(t *testing.T) {
	m := pageMachine(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	completer := &fakeCompleter{
		respond: func(string) (string, error) {
			cancel()
			return "", errors.New("boom")
		},
	}
	s := NewScheduler(m, completer, SchedulerConfig{Concurrency: 1, MaxAttempts: 5}, nil)

	require.NoError(t, s.Run(ctx))
	assert.Equal(t, 1, completer.callsFor("Chapter 1"), "no retries after cancellation")
}
