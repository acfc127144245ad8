// Package api exposes the pipeline's HTTP surface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"feedly-pipeline/internal/common/journal"
	"feedly-pipeline/internal/common/logger"
	deadletters "feedly-pipeline/internal/workers/maintenance/dead-letters"
	feedingest "feedly-pipeline/internal/workers/pipeline/feed-ingest"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

type FeedIngester interface {
	Execute(ctx context.Context, input *feedingest.Input) (*feedingest.Output, error)
}

type DeadLetterManager interface {
	Purge(ctx context.Context, queue string) (int, error)
	Reprocess(ctx context.Context, queue string, delay time.Duration, limit int) (*deadletters.ReprocessResult, error)
}

type QueueCatalog interface {
	IsKnownQueue(queue string) bool
}

// Pinger checks one backing service for readiness.
type Pinger func(ctx context.Context) error

type Deps struct {
	Feed         FeedIngester
	DeadLetters  DeadLetterManager
	Journal      journal.Journal
	Queues       QueueCatalog
	DefaultQueue string
	HealthFlags  map[string]bool
	Pingers      map[string]Pinger
}

type Server struct {
	deps   Deps
	logger logger.Logger
	now    func() time.Time
}

func NewServer(deps Deps, log logger.Logger) *Server {
	if deps.DefaultQueue == "" {
		deps.DefaultQueue = "q-raw-events"
	}
	return &Server{
		deps:   deps,
		logger: log.WithFields(map[string]interface{}{"component": "api"}),
		now:    time.Now,
	}
}

// Router builds the chi router with every route mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/health", s.health)
	r.Get("/ready", s.ready)
	r.Get("/feed", s.feed)
	r.Post("/purge-deadletters", s.purgeDeadLetters)
	r.Post("/reprocess-deadletters", s.reprocessDeadLetters)
	r.Get("/documents/{id}/history", s.history)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		s.logger.Info("HTTP request", map[string]interface{}{
			"requestId": middleware.GetReqID(r.Context()),
			"method":    r.Method,
			"path":      r.URL.Path,
			"status":    ww.Status(),
			"bytes":     ww.BytesWritten(),
			"duration":  time.Since(start).String(),
		})
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": s.now().UTC().Format(time.RFC3339),
		"config":    s.deps.HealthFlags,
	})
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string, len(s.deps.Pingers))
	status, code := "ready", http.StatusOK
	for name, ping := range s.deps.Pingers {
		if err := ping(ctx); err != nil {
			checks[name] = err.Error()
			status, code = "not_ready", http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	writeJSON(w, code, map[string]interface{}{
		"status": status,
		"checks": checks,
		"time":   s.now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) feed(w http.ResponseWriter, r *http.Request) {
	count, err := intParam(r, "count", 0)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	hours, err := intParam(r, "hours", 0)
	if err != nil {
		s.badRequest(w, err)
		return
	}

	out, err := s.deps.Feed.Execute(r.Context(), &feedingest.Input{Count: count, Hours: hours})
	if err != nil {
		if errors.Is(err, feedingest.ErrInvalidInput) {
			s.badRequest(w, err)
			return
		}
		s.failure(w, "feed ingestion failed", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) purgeDeadLetters(w http.ResponseWriter, r *http.Request) {
	queue, ok := s.queueParam(w, r)
	if !ok {
		return
	}

	purged, err := s.deps.DeadLetters.Purge(r.Context(), queue)
	if err != nil {
		s.failure(w, "dead-letter purge failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": StatusSuccess,
		"queue":  queue,
		"purged": purged,
	})
}

func (s *Server) reprocessDeadLetters(w http.ResponseWriter, r *http.Request) {
	queue, ok := s.queueParam(w, r)
	if !ok {
		return
	}
	delay, err := intParam(r, "delay", int(deadletters.DefaultDelay/time.Second))
	if err != nil || delay < 0 {
		s.badRequest(w, fmt.Errorf("invalid delay: %q", r.URL.Query().Get("delay")))
		return
	}
	limit, err := intParam(r, "limit", deadletters.DefaultLimit)
	if err != nil || limit <= 0 {
		s.badRequest(w, fmt.Errorf("invalid limit: %q", r.URL.Query().Get("limit")))
		return
	}

	result, err := s.deps.DeadLetters.Reprocess(r.Context(), queue, time.Duration(delay)*time.Second, limit)
	if err != nil {
		s.failure(w, "dead-letter reprocess failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      StatusSuccess,
		"queue":       queue,
		"reprocessed": result.Reprocessed,
		"errors":      result.Errors,
	})
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	entries, err := s.deps.Journal.History(r.Context(), id)
	if errors.Is(err, journal.ErrJournalDisabled) {
		writeJSON(w, http.StatusNotFound, map[string]string{"status": StatusError, "message": "journal is disabled"})
		return
	}
	if err != nil {
		s.failure(w, "history lookup failed", err)
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  StatusSuccess,
		"docId":   id,
		"history": entries,
	})
}

func (s *Server) queueParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	queue := r.URL.Query().Get("queue")
	if queue == "" {
		queue = s.deps.DefaultQueue
	}
	if s.deps.Queues != nil && !s.deps.Queues.IsKnownQueue(queue) {
		s.badRequest(w, fmt.Errorf("unknown queue: %s", queue))
		return "", false
	}
	return queue, true
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return v, nil
}

func (s *Server) badRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"status": StatusError, "message": err.Error()})
}

func (s *Server) failure(w http.ResponseWriter, msg string, err error) {
	s.logger.Error(msg, map[string]interface{}{"error": err.Error()})
	writeJSON(w, http.StatusInternalServerError, map[string]string{"status": StatusError, "message": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
