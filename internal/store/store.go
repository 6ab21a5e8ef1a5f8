// Package store provides SQLite-backed persistence for wiki generation
// jobs, their per-page state, and the finished-wiki cache.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/julianshen/repowiki/internal/job"
	"github.com/julianshen/repowiki/internal/wiki"
)

// CacheKey identifies one cached wiki. Two requests share a cache entry
// only when every key field matches.
type CacheKey struct {
	Owner         string `json:"owner"`
	Repo          string `json:"repo"`
	RepoType      string `json:"repo_type"`
	Language      string `json:"language"`
	Comprehensive bool   `json:"comprehensive"`
}

// CacheEntry is a cached wiki listing row.
type CacheEntry struct {
	CacheKey
	PageCount int       `json:"page_count"`
	CachedAt  time.Time `json:"cached_at"`
}

// Store wraps a SQLite database. It implements job.Store and backs the
// cache coordinator.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database at dbPath and ensures all
// required tables exist. Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows a single writer; serializing through one connection
	// avoids SQLITE_BUSY under concurrent jobs.
	db.SetMaxOpenConns(1)

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func createTables(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id            TEXT PRIMARY KEY,
			owner         TEXT NOT NULL,
			repo          TEXT NOT NULL,
			repo_type     TEXT NOT NULL,
			provider      TEXT NOT NULL,
			model         TEXT NOT NULL,
			language      TEXT NOT NULL,
			comprehensive INTEGER NOT NULL,
			status        TEXT NOT NULL,
			current_phase INTEGER NOT NULL,
			error_message TEXT NOT NULL DEFAULT '',
			total_tokens  INTEGER NOT NULL DEFAULT 0,
			structure     TEXT,
			created_at    DATETIME NOT NULL,
			updated_at    DATETIME NOT NULL,
			completed_at  DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS job_pages (
			job_id             TEXT NOT NULL,
			page_id            TEXT NOT NULL,
			position           INTEGER NOT NULL DEFAULT 0,
			title              TEXT NOT NULL,
			status             TEXT NOT NULL,
			retry_count        INTEGER NOT NULL DEFAULT 0,
			last_error         TEXT NOT NULL DEFAULT '',
			tokens_used        INTEGER NOT NULL DEFAULT 0,
			generation_time_ms INTEGER NOT NULL DEFAULT 0,
			content            TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (job_id, page_id)
		)`,
		`CREATE TABLE IF NOT EXISTS wiki_cache (
			owner         TEXT NOT NULL,
			repo          TEXT NOT NULL,
			repo_type     TEXT NOT NULL,
			language      TEXT NOT NULL,
			comprehensive INTEGER NOT NULL,
			structure     TEXT NOT NULL,
			page_count    INTEGER NOT NULL DEFAULT 0,
			cached_at     DATETIME NOT NULL,
			PRIMARY KEY (owner, repo, repo_type, language, comprehensive)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

// ---------- jobs ----------

// SaveJob upserts a job row. The structure is stored as JSON; nil means
// the job has not reached the page phase yet.
func (s *Store) SaveJob(ctx context.Context, snap job.Snapshot, structure *wiki.Structure) error {
	var structureJSON sql.NullString
	if structure != nil {
		data, err := json.Marshal(structure)
		if err != nil {
			return fmt.Errorf("marshal structure: %w", err)
		}
		structureJSON = sql.NullString{String: string(data), Valid: true}
	}

	var completedAt sql.NullTime
	if snap.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *snap.CompletedAt, Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO jobs
		 (id, owner, repo, repo_type, provider, model, language, comprehensive,
		  status, current_phase, error_message, total_tokens, structure,
		  created_at, updated_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, (SELECT structure FROM jobs WHERE id = ?)), ?, ?, ?)`,
		snap.ID, snap.Owner, snap.Repo, snap.RepoType, snap.Provider, snap.Model,
		snap.Language, snap.Comprehensive, string(snap.Status), int(snap.CurrentPhase),
		snap.ErrorMessage, snap.TotalTokensUsed, structureJSON,
		snap.ID, snap.CreatedAt, snap.UpdatedAt, completedAt,
	)
	if err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	return nil
}

// SavePage upserts one page row for a job, keeping any position already
// assigned when the page rows were first created.
func (s *Store) SavePage(ctx context.Context, jobID string, page job.Page) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO job_pages
		 (job_id, page_id, position, title, status, retry_count, last_error,
		  tokens_used, generation_time_ms, content)
		 VALUES (?, ?,
		   COALESCE((SELECT position FROM job_pages WHERE job_id = ? AND page_id = ?),
		            (SELECT COUNT(*) FROM job_pages WHERE job_id = ?)),
		   ?, ?, ?, ?, ?, ?, ?)`,
		jobID, page.PageID, jobID, page.PageID, jobID,
		page.Title, string(page.Status), page.RetryCount, page.LastError,
		page.TokensUsed, page.GenerationTimeMs, page.Content,
	)
	if err != nil {
		return fmt.Errorf("save page: %w", err)
	}
	return nil
}

// DeleteJob removes a job and its page rows.
func (s *Store) DeleteJob(ctx context.Context, jobID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM job_pages WHERE job_id = ?`, jobID); err != nil {
		return fmt.Errorf("delete job pages: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, jobID); err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return nil
}

// LoadIncompleteJobs returns every job that has not reached a terminal
// status, with its page rows in creation order.
func (s *Store) LoadIncompleteJobs(ctx context.Context) ([]job.PersistedJob, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner, repo, repo_type, provider, model, language, comprehensive,
		        status, current_phase, error_message, total_tokens, structure,
		        created_at, updated_at
		 FROM jobs
		 WHERE status NOT IN ('completed', 'partially_completed', 'failed', 'cancelled')
		 ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("load incomplete jobs: %w", err)
	}
	defer rows.Close()

	var persisted []job.PersistedJob
	for rows.Next() {
		var (
			pj            job.PersistedJob
			status        string
			phase         int
			structureJSON sql.NullString
		)
		if err := rows.Scan(
			&pj.Snapshot.ID, &pj.Snapshot.Owner, &pj.Snapshot.Repo, &pj.Snapshot.RepoType,
			&pj.Snapshot.Provider, &pj.Snapshot.Model, &pj.Snapshot.Language,
			&pj.Snapshot.Comprehensive, &status, &phase, &pj.Snapshot.ErrorMessage,
			&pj.Snapshot.TotalTokensUsed, &structureJSON,
			&pj.Snapshot.CreatedAt, &pj.Snapshot.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		pj.Snapshot.Status = job.Status(status)
		pj.Snapshot.CurrentPhase = job.Phase(phase)

		if structureJSON.Valid {
			var structure wiki.Structure
			if err := json.Unmarshal([]byte(structureJSON.String), &structure); err != nil {
				return nil, fmt.Errorf("unmarshal structure for job %s: %w", pj.Snapshot.ID, err)
			}
			pj.Structure = &structure
		}

		persisted = append(persisted, pj)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range persisted {
		pages, err := s.loadPages(ctx, persisted[i].Snapshot.ID)
		if err != nil {
			return nil, err
		}
		persisted[i].Pages = pages
	}
	return persisted, nil
}

func (s *Store) loadPages(ctx context.Context, jobID string) ([]job.Page, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT page_id, title, status, retry_count, last_error,
		        tokens_used, generation_time_ms, content
		 FROM job_pages WHERE job_id = ? ORDER BY position`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("load pages: %w", err)
	}
	defer rows.Close()

	var pages []job.Page
	for rows.Next() {
		var (
			p      job.Page
			status string
		)
		if err := rows.Scan(&p.PageID, &p.Title, &status, &p.RetryCount,
			&p.LastError, &p.TokensUsed, &p.GenerationTimeMs, &p.Content); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		p.Status = job.PageStatus(status)
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// ---------- wiki cache ----------

// SaveWiki stores a finished wiki structure under its key, replacing any
// previous entry.
func (s *Store) SaveWiki(ctx context.Context, key CacheKey, structure *wiki.Structure) error {
	data, err := json.Marshal(structure)
	if err != nil {
		return fmt.Errorf("marshal structure: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO wiki_cache
		 (owner, repo, repo_type, language, comprehensive, structure, page_count, cached_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, datetime('now'))`,
		key.Owner, key.Repo, key.RepoType, key.Language, key.Comprehensive,
		string(data), len(structure.Pages),
	)
	if err != nil {
		return fmt.Errorf("save wiki: %w", err)
	}
	return nil
}

// GetWiki retrieves a cached wiki structure. Returns nil without error on
// a cache miss.
func (s *Store) GetWiki(ctx context.Context, key CacheKey) (*wiki.Structure, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT structure FROM wiki_cache
		 WHERE owner = ? AND repo = ? AND repo_type = ? AND language = ? AND comprehensive = ?`,
		key.Owner, key.Repo, key.RepoType, key.Language, key.Comprehensive,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get wiki: %w", err)
	}

	var structure wiki.Structure
	if err := json.Unmarshal([]byte(data), &structure); err != nil {
		return nil, fmt.Errorf("unmarshal cached wiki: %w", err)
	}
	return &structure, nil
}

// DeleteWiki removes a cached wiki. Deleting a missing entry is not an
// error.
func (s *Store) DeleteWiki(ctx context.Context, key CacheKey) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM wiki_cache
		 WHERE owner = ? AND repo = ? AND repo_type = ? AND language = ? AND comprehensive = ?`,
		key.Owner, key.Repo, key.RepoType, key.Language, key.Comprehensive,
	)
	if err != nil {
		return fmt.Errorf("delete wiki: %w", err)
	}
	return nil
}

// ListWikis returns all cache entries, most recent first.
func (s *Store) ListWikis(ctx context.Context) ([]CacheEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT owner, repo, repo_type, language, comprehensive, page_count, cached_at
		 FROM wiki_cache ORDER BY cached_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list wikis: %w", err)
	}
	defer rows.Close()

	var entries []CacheEntry
	for rows.Next() {
		var e CacheEntry
		if err := rows.Scan(&e.Owner, &e.Repo, &e.RepoType, &e.Language,
			&e.Comprehensive, &e.PageCount, &e.CachedAt); err != nil {
			return nil, fmt.Errorf("scan cache entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
