package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vcon-dev/vcon-server-sub001/internal/domain"
	"github.com/vcon-dev/vcon-server-sub001/internal/queue"
	"github.com/vcon-dev/vcon-server-sub001/internal/store"
)

type testServer struct {
	srv   *httptest.Server
	store *store.Store
	queue *queue.Queue
}

func newTestServer(t *testing.T, token string) *testServer {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.DiscardHandler)
	s, err := store.New(db, time.Hour, logger)
	require.NoError(t, err)
	q, err := queue.New(db, logger)
	require.NoError(t, err)

	api := NewServer(Config{Token: token, Store: s, Queue: q, Logger: logger})
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, store: s, queue: q}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, ts.srv.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestServer_CreateAndGet(t *testing.T) {
	ts := newTestServer(t, "")

	vc := domain.NewVcon()
	vc.Subject = "support call"
	body, err := json.Marshal(vc)
	require.NoError(t, err)

	resp := ts.do(t, http.MethodPost, "/vcon", "", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/vcon/"+vc.UUID, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got domain.Vcon
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "support call", got.Subject)
}

func TestServer_CreateAssignsUUID(t *testing.T) {
	ts := newTestServer(t, "")

	resp := ts.do(t, http.MethodPost, "/vcon", "", []byte(`{"subject":"anonymous"}`))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var got domain.Vcon
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.NotEmpty(t, got.UUID)
}

func TestServer_CreateEnqueuesIngressLists(t *testing.T) {
	ts := newTestServer(t, "")

	vc := domain.NewVcon()
	body, err := json.Marshal(vc)
	require.NoError(t, err)

	resp := ts.do(t, http.MethodPost, "/vcon?ingress_lists=a,b", "", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	for _, list := range []string{"a", "b"} {
		ids, err := ts.queue.PopN(context.Background(), list, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{vc.UUID}, ids, "queue %s", list)
	}
}

func TestServer_GetMissingIs404(t *testing.T) {
	ts := newTestServer(t, "")

	resp := ts.do(t, http.MethodGet, "/vcon/nope-0000", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_Delete(t *testing.T) {
	ts := newTestServer(t, "")
	ctx := context.Background()

	vc := domain.NewVcon()
	require.NoError(t, ts.store.Set(ctx, vc))

	resp := ts.do(t, http.MethodDelete, "/vcon/"+vc.UUID, "", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	got, err := ts.store.Get(ctx, vc.UUID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

// The egress drain is destructive: a second call finds nothing.
func TestServer_EgressDrain(t *testing.T) {
	ts := newTestServer(t, "")
	ctx := context.Background()

	require.NoError(t, ts.queue.Push(ctx, "out", "id-1"))
	require.NoError(t, ts.queue.Push(ctx, "out", "id-2"))

	resp := ts.do(t, http.MethodGet, "/vcon/egress?egress_list=out&limit=10", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ids []string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ids))
	assert.Equal(t, []string{"id-1", "id-2"}, ids)

	resp = ts.do(t, http.MethodGet, "/vcon/egress?egress_list=out&limit=10", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ids))
	assert.Empty(t, ids)
}

func TestServer_EgressRequiresListName(t *testing.T) {
	ts := newTestServer(t, "")

	resp := ts.do(t, http.MethodGet, "/vcon/egress", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_IngressPush(t *testing.T) {
	ts := newTestServer(t, "")

	resp := ts.do(t, http.MethodPost, "/vcon/ingress?ingress_list=in", "", []byte(`["id-1","id-2"]`))
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	ids, err := ts.queue.PopN(context.Background(), "in", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"id-1", "id-2"}, ids)
}

func TestServer_AuthRejectsBadToken(t *testing.T) {
	ts := newTestServer(t, "sekrit")

	resp := ts.do(t, http.MethodGet, "/vcon/egress?egress_list=out", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/vcon/egress?egress_list=out", "wrong", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/vcon/egress?egress_list=out", "sekrit", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_HealthAndMetricsOpen(t *testing.T) {
	ts := newTestServer(t, "sekrit")

	resp := ts.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
