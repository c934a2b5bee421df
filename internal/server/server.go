// Package server is the thin JSON request layer over the queue and the
// article store.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"hermes/internal/images"
	"hermes/internal/model"
	"hermes/internal/queue"
	"hermes/internal/sites"
	"hermes/internal/store"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Jobs accepts crawl jobs and reports on them. *queue.RedisQueue satisfies it.
type Jobs interface {
	Enqueue(ctx context.Context, job model.CrawlJob) (string, error)
	Status(ctx context.Context, id string) (*model.JobStatus, error)
}

// Settings is the runtime config store. *store.SettingsStore satisfies it.
type Settings interface {
	ScrapeLimit(ctx context.Context) (int, error)
	SetScrapeLimit(ctx context.Context, limit int) error
}

// Curator re-runs image steps. *images.Curator satisfies it.
type Curator interface {
	Search(ctx context.Context, id uuid.UUID) (*model.Article, error)
	Generate(ctx context.Context, id uuid.UUID) (*model.Article, error)
	Select(ctx context.Context, id uuid.UUID) (*model.Article, error)
}

type Deps struct {
	Store    store.Store
	Jobs     Jobs
	Settings Settings
	Curator  Curator
	Sites    *sites.Registry
	// Gatherer backs /metrics; prometheus.DefaultGatherer when nil.
	Gatherer prometheus.Gatherer
}

type Server struct {
	deps   Deps
	logger *zap.Logger
	router *mux.Router
	server *http.Server
}

func NewServer(deps Deps, logger *zap.Logger) *Server {
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		deps:   deps,
		logger: logger.With(zap.String("component", "server")),
		router: mux.NewRouter(),
	}
	s.routes()
	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute, // image steps wait on providers
	}
	return s
}

func (s *Server) routes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/scrape", s.handleScrape).Methods("POST")
	api.HandleFunc("/jobs/{id}", s.handleJob).Methods("GET")
	api.HandleFunc("/sources", s.handleSources).Methods("GET")

	api.HandleFunc("/articles", s.handleListArticles).Methods("GET")
	api.HandleFunc("/articles/{id}", s.handleGetArticle).Methods("GET")
	api.HandleFunc("/articles/{id}", s.handlePatchArticle).Methods("PATCH")
	api.HandleFunc("/articles/{id}", s.handleDeleteArticle).Methods("DELETE")
	api.HandleFunc("/articles/{id}/images/{action:search|generate|select}", s.handleImages).Methods("POST")

	api.HandleFunc("/settings/scrape-limit", s.handleGetLimit).Methods("GET")
	api.HandleFunc("/settings/scrape-limit", s.handlePutLimit).Methods("PUT")

	s.router.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})).Methods("GET")
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start launches the HTTP server. It returns http.ErrServerClosed after Stop.
func (s *Server) Start(addr string) error {
	s.server.Addr = addr
	s.logger.Info("web server listening", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type scrapeRequest struct {
	Source string `json:"source"`
	URL    string `json:"url,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Limit < 0 {
		writeError(w, http.StatusBadRequest, "limit must be positive")
		return
	}
	if req.URL != "" && !images.IsHTTP(req.URL) {
		writeError(w, http.StatusBadRequest, "url must be absolute http(s)")
		return
	}
	adapter, err := s.deps.Sites.Lookup(req.Source)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if adapter.BaseURL() == "" && req.URL == "" {
		writeError(w, http.StatusBadRequest, "source "+adapter.Name()+" needs a url")
		return
	}

	job := model.CrawlJob{Source: adapter.Name(), URL: req.URL, Limit: req.Limit}
	id, err := s.deps.Jobs.Enqueue(r.Context(), job)
	if err != nil {
		s.logger.Error("failed to enqueue job", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}

	s.logger.Info("crawl enqueued", zap.String("job_id", id), zap.String("source", job.Source))
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id, "status": string(model.JobQueued)})
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	status, err := s.deps.Jobs.Status(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, queue.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to read job status", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read job status")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"sources": s.deps.Sites.Names()})
}

func (s *Server) handleListArticles(w http.ResponseWriter, r *http.Request) {
	opts := store.ListOptions{Limit: 50}
	if v := r.URL.Query().Get("status"); v != "" {
		status := model.ArticleStatus(v)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "unknown status "+v)
			return
		}
		opts.Status = status
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		opts.Limit = n
	}

	articles, err := s.deps.Store.List(r.Context(), opts)
	if err != nil {
		s.logger.Error("failed to list articles", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	if articles == nil {
		articles = []model.Article{}
	}
	writeJSON(w, http.StatusOK, articles)
}

func (s *Server) handleGetArticle(w http.ResponseWriter, r *http.Request) {
	id, ok := articleID(w, r)
	if !ok {
		return
	}
	article, err := s.deps.Store.Get(r.Context(), id)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeArticle(w, article)
}

type patchRequest struct {
	Status           *model.ArticleStatus `json:"status"`
	RewrittenTitle   *string              `json:"rewritten_title"`
	RewrittenContent *string              `json:"rewritten_content"`
	ImageURL         *string              `json:"image_url"`
}

// handlePatchArticle applies review edits. Rejecting an article deletes it.
func (s *Server) handlePatchArticle(w http.ResponseWriter, r *http.Request) {
	id, ok := articleID(w, r)
	if !ok {
		return
	}
	var req patchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Status != nil && !req.Status.Valid() {
		writeError(w, http.StatusBadRequest, "unknown status "+string(*req.Status))
		return
	}
	if req.ImageURL != nil && !images.IsHTTP(*req.ImageURL) {
		writeError(w, http.StatusBadRequest, "image_url must be absolute http(s)")
		return
	}

	if req.Status != nil && *req.Status == model.StatusRejected {
		if err := s.deps.Store.Delete(r.Context(), id); err != nil {
			s.storeError(w, err)
			return
		}
		s.logger.Info("article rejected", zap.Stringer("id", id))
		w.WriteHeader(http.StatusNoContent)
		return
	}

	article, err := s.deps.Store.Update(r.Context(), id, store.Patch{
		Status:           req.Status,
		RewrittenTitle:   req.RewrittenTitle,
		RewrittenContent: req.RewrittenContent,
		ImageURL:         req.ImageURL,
	})
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeArticle(w, article)
}

func (s *Server) handleDeleteArticle(w http.ResponseWriter, r *http.Request) {
	id, ok := articleID(w, r)
	if !ok {
		return
	}
	if err := s.deps.Store.Delete(r.Context(), id); err != nil {
		s.storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleImages(w http.ResponseWriter, r *http.Request) {
	id, ok := articleID(w, r)
	if !ok {
		return
	}

	var (
		article *model.Article
		err     error
	)
	switch action := mux.Vars(r)["action"]; action {
	case "search":
		article, err = s.deps.Curator.Search(r.Context(), id)
	case "generate":
		article, err = s.deps.Curator.Generate(r.Context(), id)
	case "select":
		article, err = s.deps.Curator.Select(r.Context(), id)
	}

	switch {
	case err == nil:
		writeArticle(w, article)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "article not found")
	case errors.Is(err, images.ErrNoCandidates):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, images.ErrSearchDisabled), errors.Is(err, images.ErrGenerationDisabled):
		writeError(w, http.StatusNotImplemented, err.Error())
	default:
		s.logger.Error("image step failed", zap.Stringer("id", id), zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func (s *Server) handleGetLimit(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Settings.ScrapeLimit(r.Context())
	if err != nil {
		s.logger.Error("failed to read scrape limit", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read setting")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"limit": n})
}

func (s *Server) handlePutLimit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Limit int `json:"limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Limit < 1 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	if err := s.deps.Settings.SetScrapeLimit(r.Context(), req.Limit); err != nil {
		s.logger.Error("failed to write scrape limit", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to write setting")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"limit": req.Limit})
}

func (s *Server) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "article not found")
		return
	}
	s.logger.Error("store error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "database error")
}

func articleID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid ID")
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeArticle leaves the embedding out; clients never need the vector.
func writeArticle(w http.ResponseWriter, a *model.Article) {
	out := *a
	out.Embedding = nil
	writeJSON(w, http.StatusOK, &out)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
