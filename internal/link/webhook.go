package link

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/vcon-dev/vcon-server-sub001/internal/domain"
)

// Webhook POSTs the record's JSON body to each configured URL. Any non-2xx
// response or transport error is a stage failure and goes through the
// engine's retry path.
type Webhook struct {
	store  domain.RecordStore
	client *http.Client
	logger *slog.Logger
}

func NewWebhook(store domain.RecordStore, client *http.Client, logger *slog.Logger) *Webhook {
	return &Webhook{store: store, client: client, logger: logger}
}

func (w *Webhook) Defaults() map[string]any {
	return map[string]any{
		"urls": []string{},
	}
}

func (w *Webhook) Run(ctx context.Context, recordID, linkName string, opts map[string]any) (string, error) {
	vc, err := w.store.Get(ctx, recordID)
	if err != nil {
		return "", fmt.Errorf("%s: load record: %w", linkName, err)
	}
	if vc == nil {
		w.logger.Info("record not found, halting chain", "link", linkName, "uuid", recordID)
		return "", nil
	}

	body, err := json.Marshal(vc)
	if err != nil {
		return "", fmt.Errorf("%s: marshal record: %w", linkName, err)
	}

	for _, url := range OptStrings(opts, "urls") {
		if err := w.post(ctx, url, body); err != nil {
			return "", fmt.Errorf("%s: %w", linkName, err)
		}
		w.logger.Debug("webhook delivered", "link", linkName, "uuid", recordID, "url", url)
	}
	return recordID, nil
}

func (w *Webhook) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("post %s: HTTP %d: %s", url, resp.StatusCode, msg)
	}
	return nil
}
