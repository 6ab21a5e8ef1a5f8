package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/julianshen/repowiki/internal/config"
	"github.com/julianshen/repowiki/internal/job"
	"github.com/julianshen/repowiki/internal/provider"
	"github.com/julianshen/repowiki/internal/repo"
	"github.com/julianshen/repowiki/internal/wiki"
)

// WikiCache stores finished wiki structures for reuse. Implemented by the
// cache package; a nil cache disables caching.
type WikiCache interface {
	Save(ctx context.Context, ref job.Ref, structure *wiki.Structure) error
}

// Runner executes the generation phases for one job: embeddings probe,
// structure generation, and the page scheduler. It implements job.Runner.
type Runner struct {
	cfg    *config.Config
	cache  WikiCache
	logger *slog.Logger

	// newCompleter builds the completion endpoint for a job's provider and
	// model. Swappable for tests.
	newCompleter func(providerName, model string) (PageCompleter, error)
	// newPreparer builds the embeddings probe from the job's completer.
	// Swappable for tests.
	newPreparer func(c PageCompleter) EmbeddingPreparer
	// newRepoProvider resolves the VCS provider for a repository type.
	newRepoProvider func(repoType string, filter repo.Filter) (repo.Provider, error)
}

// NewRunner creates a Runner. cache may be nil.
func NewRunner(cfg *config.Config, cache WikiCache, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{cfg: cfg, cache: cache, logger: logger}
	r.newCompleter = r.buildCompleter
	r.newPreparer = func(c PageCompleter) EmbeddingPreparer { return NewCompleterPreparer(c) }
	r.newRepoProvider = repo.NewProvider
	return r
}

func (r *Runner) buildCompleter(providerName, model string) (PageCompleter, error) {
	p, err := provider.NewProvider(r.cfg, providerName)
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = r.cfg.Provider.Model
	}
	return NewCompleter(p, model, r.cfg.Wiki.MaxTokensPerPage, r.cfg.Wiki.RequestsPerMin), nil
}

func (r *Runner) schedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Concurrency: r.cfg.Wiki.PageConcurrency,
		MaxAttempts: r.cfg.Wiki.MaxPageAttempts,
	}
}

// Run drives a job through its phases. A job restored mid-page-phase
// skips straight to the scheduler and picks up its remaining pages.
func (r *Runner) Run(ctx context.Context, m *job.Machine) error {
	j := m.Job()
	ref := j.Ref()

	completer, err := r.newCompleter(j.ProviderName(), j.Model())
	if err != nil {
		return r.fail(m, fmt.Errorf("creating provider: %w", err))
	}

	if j.Status() != job.StatusGeneratingPages || j.Structure() == nil {
		if err := r.runPreparation(ctx, m, completer, ref); err != nil {
			return err
		}
	} else {
		r.logger.Info("resuming page generation", "job_id", j.ID())
	}

	sched := NewScheduler(m, completer, r.schedulerConfig(), r.logger)
	if err := sched.Run(ctx); err != nil {
		return r.fail(m, err)
	}

	return r.finish(ctx, m, ref)
}

// runPreparation runs the embeddings probe and the structure phase,
// leaving the job in generating_pages with its page rows created.
func (r *Runner) runPreparation(ctx context.Context, m *job.Machine, completer PageCompleter, ref job.Ref) error {
	j := m.Job()

	if err := m.Start(); err != nil {
		return err
	}

	preparer := r.newPreparer(completer)
	if err := preparer.Prepare(ctx, ref); err != nil {
		if wiki.IsEmbeddingConfigError(err) {
			r.logger.Error("embedding configuration error", "job_id", j.ID(), "error", err)
		}
		return r.fail(m, err)
	}

	if err := m.BeginStructure(); err != nil {
		return err
	}

	meta, err := r.fetchRepo(ctx, ref)
	if err != nil {
		return r.fail(m, fmt.Errorf("fetching repository: %w", err))
	}

	prompt, err := structurePrompt(ref, meta)
	if err != nil {
		return r.fail(m, err)
	}
	text, usage, err := completer.Complete(ctx, systemPrompt, prompt)
	m.AddTokens(usage.Total())
	if err != nil {
		return r.fail(m, fmt.Errorf("structure generation: %w", err))
	}

	structure, err := wiki.ParseStructure(text, ref.Comprehensive)
	if err != nil {
		return r.fail(m, err)
	}
	if ref.Comprehensive && !structure.HasSections() {
		wiki.InferSections(structure)
	}
	r.logger.Info("wiki structure generated", "job_id", j.ID(),
		"pages", len(structure.Pages), "sections", len(structure.Sections))

	return m.BeginPages(structure)
}

// fetchRepo resolves the VCS provider for the job's repository type and
// fetches its file tree and README.
func (r *Runner) fetchRepo(ctx context.Context, ref job.Ref) (*repo.Metadata, error) {
	filter := repo.Filter{
		ExcludedDirs:  r.cfg.Wiki.ExcludedDirs,
		ExcludedFiles: r.cfg.Wiki.ExcludedFiles,
	}
	p, err := r.newRepoProvider(ref.RepoType, filter)
	if err != nil {
		return nil, err
	}
	return p.Fetch(ctx, repo.Ref{
		Owner:  ref.Owner,
		Repo:   ref.Repo,
		Branch: ref.Branch,
		Token:  ref.Token,
		Dir:    ref.LocalDir,
	})
}

// finish classifies the terminal status once the queue has drained and
// writes the cache for fully completed jobs. A job cancelled or paused
// while the scheduler was running is left as is.
func (r *Runner) finish(ctx context.Context, m *job.Machine, ref job.Ref) error {
	j := m.Job()

	if j.Status() == job.StatusGeneratingPages {
		if err := m.FinishPages(); err != nil {
			return err
		}
	}

	if j.Status() == job.StatusCompleted && r.cache != nil {
		if err := r.cache.Save(ctx, ref, j.Structure()); err != nil {
			r.logger.Warn("caching wiki failed", "job_id", j.ID(), "error", err)
		}
	}
	return nil
}

// RetryPage regenerates a single page of a reopened job, then
// reclassifies the job's terminal status.
func (r *Runner) RetryPage(ctx context.Context, m *job.Machine, pageID string) error {
	j := m.Job()

	completer, err := r.newCompleter(j.ProviderName(), j.Model())
	if err != nil {
		return r.fail(m, fmt.Errorf("creating provider: %w", err))
	}

	sched := NewScheduler(m, completer, r.schedulerConfig(), r.logger)
	if err := sched.RunPage(ctx, pageID); err != nil {
		return err
	}

	return r.finish(ctx, m, j.Ref())
}

// fail marks the job failed unless it already reached a terminal status
// (a cancelled job's context error must not overwrite cancelled).
func (r *Runner) fail(m *job.Machine, err error) error {
	if errors.Is(err, context.Canceled) && m.Job().Status().Terminal() {
		return nil
	}
	if ferr := m.Fail(err.Error()); ferr != nil {
		r.logger.Debug("job already terminal", "job_id", m.Job().ID(), "error", ferr)
	}
	return err
}
