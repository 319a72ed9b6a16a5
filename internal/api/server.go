// Package api exposes the HTTP surface peers and operators consume: record
// CRUD, the destructive egress drain the follower polls, and metrics.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vcon-dev/vcon-server-sub001/internal/domain"
)

// Config configures the API server.
type Config struct {
	Host   string
	Port   int
	Token  string // empty disables auth
	Store  domain.RecordStore
	Queue  domain.Queue
	Logger *slog.Logger
}

// Server is the HTTP front door. Ingestion through it is queue-decoupled
// from processing: a POST stores the record and enqueues its identifier,
// and no processing failure ever surfaces back to the caller.
type Server struct {
	cfg    Config
	store  domain.RecordStore
	queue  domain.Queue
	logger *slog.Logger
	server *http.Server
}

func NewServer(cfg Config) *Server {
	return &Server{
		cfg:    cfg,
		store:  cfg.Store,
		queue:  cfg.Queue,
		logger: cfg.Logger,
	}
}

// Handler builds the route table. Exposed for httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /vcon/egress", s.auth(s.handleEgress))
	mux.HandleFunc("POST /vcon/ingress", s.auth(s.handleIngress))
	mux.HandleFunc("GET /vcon/{uuid}", s.auth(s.handleGet))
	mux.HandleFunc("DELETE /vcon/{uuid}", s.auth(s.handleDelete))
	mux.HandleFunc("POST /vcon", s.auth(s.handleCreate))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("api server starting", "addr", s.server.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("api server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if got != s.cfg.Token {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("uuid")
	vc, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.logger.Error("record read failed", "uuid", id, "error", err)
		http.Error(w, "read failed", http.StatusInternalServerError)
		return
	}
	if vc == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, vc)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("uuid")
	if err := s.store.Delete(r.Context(), id); err != nil {
		s.logger.Error("record delete failed", "uuid", id, "error", err)
		http.Error(w, "delete failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCreate stores a posted record and, when ingress_lists names queues,
// enqueues the identifier for processing.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	var vc domain.Vcon
	if err := json.Unmarshal(body, &vc); err != nil {
		http.Error(w, "invalid vcon json", http.StatusBadRequest)
		return
	}
	if vc.UUID == "" {
		fresh := domain.NewVcon()
		vc.UUID = fresh.UUID
		vc.CreatedAt = fresh.CreatedAt
		vc.UpdatedAt = fresh.UpdatedAt
	}

	if err := s.store.Set(r.Context(), &vc); err != nil {
		s.logger.Error("record store failed", "uuid", vc.UUID, "error", err)
		http.Error(w, "store failed", http.StatusInternalServerError)
		return
	}

	if lists := r.URL.Query().Get("ingress_lists"); lists != "" {
		for _, list := range strings.Split(lists, ",") {
			list = strings.TrimSpace(list)
			if list == "" {
				continue
			}
			if err := s.queue.Push(r.Context(), list, vc.UUID); err != nil {
				s.logger.Error("enqueue failed", "uuid", vc.UUID, "queue", list, "error", err)
				http.Error(w, "enqueue failed", http.StatusInternalServerError)
				return
			}
		}
	}

	writeJSON(w, http.StatusCreated, &vc)
}

// handleEgress destructively drains up to limit identifiers from the named
// egress list. This is the endpoint followers poll.
func (s *Server) handleEgress(w http.ResponseWriter, r *http.Request) {
	list := r.URL.Query().Get("egress_list")
	if list == "" {
		http.Error(w, "egress_list is required", http.StatusBadRequest)
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	ids, err := s.queue.PopN(r.Context(), list, limit)
	if err != nil {
		s.logger.Error("egress drain failed", "queue", list, "error", err)
		http.Error(w, "drain failed", http.StatusInternalServerError)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, ids)
}

// handleIngress pushes a posted list of identifiers onto a named ingress
// queue. Used by operator tooling (manual DLQ requeue included).
func (s *Server) handleIngress(w http.ResponseWriter, r *http.Request) {
	list := r.URL.Query().Get("ingress_list")
	if list == "" {
		http.Error(w, "ingress_list is required", http.StatusBadRequest)
		return
	}

	var ids []string
	if err := json.NewDecoder(r.Body).Decode(&ids); err != nil {
		http.Error(w, "invalid id list", http.StatusBadRequest)
		return
	}
	for _, id := range ids {
		if err := s.queue.Push(r.Context(), list, id); err != nil {
			s.logger.Error("ingress push failed", "queue", list, "uuid", id, "error", err)
			http.Error(w, "push failed", http.StatusInternalServerError)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
