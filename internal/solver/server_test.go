package solver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autologin/internal/proxy"
)

// blockingEngine holds every solve until released, so tests control when
// tasks reach a terminal state.
type blockingEngine struct {
	mu      sync.Mutex
	release chan struct{}
	token   string
	err     error
}

func newBlockingEngine(token string) *blockingEngine {
	return &blockingEngine{release: make(chan struct{}), token: token}
}

func (e *blockingEngine) Solve(ctx context.Context, ch Challenge) (string, error) {
	select {
	case <-e.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.token, e.err
}

func newTestServer(t *testing.T, engine Engine, storeCfg StoreConfig) (*httptest.Server, *Store, *Pool) {
	t.Helper()
	store := NewStore(storeCfg)
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	pool := NewPool(engine, store, 4, time.Minute, metrics, nil)
	t.Cleanup(pool.Close)

	server := NewServer(DefaultServerConfig(), store, pool, proxy.NewPool([]string{"10.0.0.9:8080"}), metrics, registry, nil)
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)
	return srv, store, pool
}

func getJSON(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestSubmitAcceptsAndReturnsTaskID(t *testing.T) {
	engine := newBlockingEngine("tok")
	srv, _, _ := newTestServer(t, engine, testStoreConfig())

	status, body := getJSON(t, srv.URL+"/turnstile?url=https://target&sitekey=key-1")
	assert.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, "accepted", body["status"])
	assert.NotEmpty(t, body["task_id"])
	close(engine.release)
}

func TestSubmitRequiresParams(t *testing.T) {
	engine := newBlockingEngine("tok")
	srv, _, _ := newTestServer(t, engine, testStoreConfig())

	status, _ := getJSON(t, srv.URL+"/turnstile?url=https://target")
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = getJSON(t, srv.URL+"/turnstile?sitekey=key-1")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestSubmitAtCapacityReturns429(t *testing.T) {
	engine := newBlockingEngine("tok")
	cfg := testStoreConfig()
	cfg.MaxLive = 1
	srv, _, _ := newTestServer(t, engine, cfg)

	status, _ := getJSON(t, srv.URL+"/turnstile?url=https://target&sitekey=k")
	require.Equal(t, http.StatusAccepted, status)

	status, body := getJSON(t, srv.URL+"/turnstile?url=https://target&sitekey=k")
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Contains(t, body["error"], "capacity")
	close(engine.release)
}

func TestPollPendingThenSolved(t *testing.T) {
	engine := newBlockingEngine("tok-xyz")
	srv, store, _ := newTestServer(t, engine, testStoreConfig())

	status, body := getJSON(t, srv.URL+"/turnstile?url=https://target&sitekey=k")
	require.Equal(t, http.StatusAccepted, status)
	taskID := body["task_id"].(string)

	// Two polls before the worker finishes both see pending.
	for i := 0; i < 2; i++ {
		status, body = getJSON(t, srv.URL+"/result?id="+taskID)
		assert.Equal(t, http.StatusAccepted, status)
		assert.Equal(t, "pending", body["status"])
	}

	close(engine.release)
	require.Eventually(t, func() bool {
		task, ok := store.Get(taskID)
		return ok && task.State == StateSolved
	}, 2*time.Second, 10*time.Millisecond)

	// Two polls after completion both see the same solved outcome.
	for i := 0; i < 2; i++ {
		status, body = getJSON(t, srv.URL+"/result?id="+taskID)
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "solved", body["status"])
		assert.Equal(t, "tok-xyz", body["token"])
	}
}

func TestPollUnknownID(t *testing.T) {
	engine := newBlockingEngine("tok")
	srv, _, _ := newTestServer(t, engine, testStoreConfig())

	status, _ := getJSON(t, srv.URL+"/result?id=nope")
	assert.Equal(t, http.StatusNotFound, status)
	close(engine.release)
}

func TestSubmitBindsPoolProxyWhenAbsent(t *testing.T) {
	engine := newBlockingEngine("tok")
	srv, store, _ := newTestServer(t, engine, testStoreConfig())

	_, body := getJSON(t, srv.URL+"/turnstile?url=https://target&sitekey=k")
	taskID := body["task_id"].(string)

	task, ok := store.Get(taskID)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.9:8080", task.Proxy)
	close(engine.release)
}

func TestFailedSolveReportsReason(t *testing.T) {
	engine := newBlockingEngine("")
	engine.err = context.DeadlineExceeded
	srv, store, _ := newTestServer(t, engine, testStoreConfig())

	_, body := getJSON(t, srv.URL+"/turnstile?url=https://target&sitekey=k")
	taskID := body["task_id"].(string)
	close(engine.release)

	require.Eventually(t, func() bool {
		task, ok := store.Get(taskID)
		return ok && task.State == StateFailed
	}, 2*time.Second, 10*time.Millisecond)

	status, result := getJSON(t, srv.URL+"/result?id="+taskID)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "failed", result["status"])
	assert.NotEmpty(t, result["reason"])
}

func TestHealthz(t *testing.T) {
	engine := newBlockingEngine("tok")
	srv, _, _ := newTestServer(t, engine, testStoreConfig())

	status, body := getJSON(t, srv.URL+"/healthz")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
	close(engine.release)
}
