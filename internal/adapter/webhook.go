package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/vcon-dev/vcon-server-sub001/internal/domain"
)

// Webhook is an ingestion adapter: it accepts POSTed vCon JSON on its own
// listener, stores each record, and enqueues it onto the configured ingress
// lists.
type Webhook struct {
	name    string
	port    int
	path    string
	ingress []string
	store   domain.RecordStore
	queue   domain.Queue
	logger  *slog.Logger
	server  *http.Server
}

// NewWebhookFactory returns the registry factory for webhook adapters.
// Options: port (int), path (string, default /ingest), ingress_lists.
func NewWebhookFactory(store domain.RecordStore, queue domain.Queue, logger *slog.Logger) Factory {
	return func(name string, opts map[string]any) (domain.Adapter, error) {
		w := &Webhook{
			name:   name,
			path:   "/ingest",
			store:  store,
			queue:  queue,
			logger: logger,
		}
		switch p := opts["port"].(type) {
		case int:
			w.port = p
		case float64:
			w.port = int(p)
		}
		if w.port == 0 {
			return nil, fmt.Errorf("webhook adapter %s: port option is required", name)
		}
		if p, ok := opts["path"].(string); ok && p != "" {
			w.path = p
		}
		if lists, ok := opts["ingress_lists"].([]any); ok {
			for _, l := range lists {
				if s, ok := l.(string); ok {
					w.ingress = append(w.ingress, s)
				}
			}
		}
		if len(w.ingress) == 0 {
			return nil, fmt.Errorf("webhook adapter %s: ingress_lists option is required", name)
		}
		return w, nil
	}
}

// Start runs the listener until ctx is cancelled.
func (w *Webhook) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+w.path, w.handleIngest)

	w.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", w.port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	w.logger.Info("webhook adapter listening", "adapter", w.name, "port", w.port, "path", w.path)

	errCh := make(chan error, 1)
	go func() {
		if err := w.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return w.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (w *Webhook) handleIngest(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
	if err != nil {
		http.Error(rw, "read body", http.StatusBadRequest)
		return
	}

	var vc domain.Vcon
	if err := json.Unmarshal(body, &vc); err != nil {
		http.Error(rw, "invalid vcon json", http.StatusBadRequest)
		return
	}
	if vc.UUID == "" {
		fresh := domain.NewVcon()
		vc.UUID = fresh.UUID
		vc.CreatedAt = fresh.CreatedAt
		vc.UpdatedAt = fresh.UpdatedAt
	}

	ctx := r.Context()
	if err := w.store.Set(ctx, &vc); err != nil {
		w.logger.Error("ingest store failed", "adapter", w.name, "uuid", vc.UUID, "error", err)
		http.Error(rw, "store failed", http.StatusInternalServerError)
		return
	}
	for _, list := range w.ingress {
		if err := w.queue.Push(ctx, list, vc.UUID); err != nil {
			w.logger.Error("ingest enqueue failed", "adapter", w.name, "queue", list, "error", err)
			http.Error(rw, "enqueue failed", http.StatusInternalServerError)
			return
		}
	}

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(rw).Encode(map[string]string{"uuid": vc.UUID})
}
