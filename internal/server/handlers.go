package server

import (
	"encoding/json"
	"net/http"

	"github.com/julianshen/repowiki/internal/job"
	"github.com/julianshen/repowiki/internal/store"
	"github.com/julianshen/repowiki/internal/wiki"
)

// createJobRequest is the body of POST /api/jobs.
type createJobRequest struct {
	Owner         string `json:"owner"`
	Repo          string `json:"repo"`
	RepoType      string `json:"repo_type"`
	Branch        string `json:"branch,omitempty"`
	LocalDir      string `json:"local_dir,omitempty"`
	Language      string `json:"language,omitempty"`
	Comprehensive bool   `json:"comprehensive"`
	Provider      string `json:"provider,omitempty"`
	Model         string `json:"model,omitempty"`
	Token         string `json:"token,omitempty"`
	// Refresh bypasses and invalidates any cached wiki for this key.
	Refresh bool `json:"refresh,omitempty"`
}

func (r createJobRequest) cacheKey() store.CacheKey {
	return store.CacheKey{
		Owner:         r.Owner,
		Repo:          r.Repo,
		RepoType:      r.RepoType,
		Language:      r.Language,
		Comprehensive: r.Comprehensive,
	}
}

// createJobResponse is returned on a cache hit; a fresh job returns the
// job snapshot instead.
type createJobResponse struct {
	Cached bool            `json:"cached"`
	Wiki   *wiki.Structure `json:"wiki,omitempty"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.RepoType == "local" {
		if req.LocalDir == "" {
			writeError(w, http.StatusBadRequest, "local_dir is required for local repositories")
			return
		}
	} else if req.Owner == "" || req.Repo == "" {
		writeError(w, http.StatusBadRequest, "owner and repo are required")
		return
	}

	if req.Refresh {
		if err := s.cache.Invalidate(r.Context(), req.cacheKey()); err != nil {
			s.logger.Warn("cache invalidation failed", "error", err)
		}
	} else {
		cached, err := s.cache.Get(r.Context(), req.cacheKey())
		if err != nil {
			s.logger.Warn("cache lookup failed", "error", err)
		}
		if cached != nil {
			writeJSON(w, http.StatusOK, createJobResponse{Cached: true, Wiki: cached})
			return
		}
	}

	ref := job.Ref{
		Owner:         req.Owner,
		Repo:          req.Repo,
		RepoType:      req.RepoType,
		Branch:        req.Branch,
		LocalDir:      req.LocalDir,
		Language:      req.Language,
		Comprehensive: req.Comprehensive,
		Token:         req.Token,
	}
	m, err := s.manager.Create(r.Context(), ref, req.Provider, req.Model)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.manager.Start(m.Job().ID()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, m.Job().Snapshot())
}

func (s *Server) handleListJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.List())
}

// jobDetail is the body of GET /api/jobs/{id}.
type jobDetail struct {
	Job   job.Snapshot    `json:"job"`
	Pages []job.Page      `json:"pages"`
	Wiki  *wiki.Structure `json:"wiki_structure,omitempty"`
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	m, ok := s.manager.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	j := m.Job()
	writeJSON(w, http.StatusOK, jobDetail{
		Job:   j.Snapshot(),
		Pages: j.Pages(),
		Wiki:  j.Structure(),
	})
}

func (s *Server) handlePauseJob(w http.ResponseWriter, r *http.Request) {
	s.jobAction(w, r, s.manager.Pause)
}

func (s *Server) handleResumeJob(w http.ResponseWriter, r *http.Request) {
	s.jobAction(w, r, s.manager.Resume)
}

func (s *Server) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	s.jobAction(w, r, s.manager.Retry)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	s.jobAction(w, r, s.manager.Cancel)
}

func (s *Server) handleRetryPage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.manager.RetryPage(id, r.PathValue("pageID")); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.writeSnapshot(w, id)
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// jobAction runs a lifecycle action and returns the resulting snapshot.
func (s *Server) jobAction(w http.ResponseWriter, r *http.Request, action func(string) error) {
	id := r.PathValue("id")
	if _, ok := s.manager.Get(id); !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err := action(id); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.writeSnapshot(w, id)
}

func (s *Server) writeSnapshot(w http.ResponseWriter, id string) {
	m, ok := s.manager.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, m.Job().Snapshot())
}

// ---------- wiki cache ----------

func (s *Server) handleListCache(w http.ResponseWriter, r *http.Request) {
	entries, err := s.cache.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []store.CacheEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleGetCache(w http.ResponseWriter, r *http.Request) {
	var key store.CacheKey
	if err := json.NewDecoder(r.Body).Decode(&key); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	structure, err := s.cache.Get(r.Context(), key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if structure == nil {
		writeError(w, http.StatusNotFound, "no cached wiki for this repository")
		return
	}
	writeJSON(w, http.StatusOK, structure)
}

func (s *Server) handleDeleteCache(w http.ResponseWriter, r *http.Request) {
	var key store.CacheKey
	if err := json.NewDecoder(r.Body).Decode(&key); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := s.cache.Invalidate(r.Context(), key); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------- helpers ----------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
