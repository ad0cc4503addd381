package daemon

import (
	"context"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tallgrassfarm/furrow/internal/connectivity"
	"github.com/tallgrassfarm/furrow/internal/engine"
	"github.com/tallgrassfarm/furrow/internal/queue"
	"github.com/tallgrassfarm/furrow/internal/store"
)

// testConfig keeps the debounce short so tests stay fast.
func testConfig() *Config {
	return &Config{
		DebounceInterval: 30 * time.Millisecond,
		SweepInterval:    time.Hour,
		Logger:           log.New(os.Stderr, "[test] ", 0),
	}
}

// setupDaemon builds an unstarted daemon over a temp store, plus the queue
// for enqueuing test actions.
func setupDaemon(t *testing.T) (*Daemon, *queue.Queue, string) {
	t.Helper()

	logger := log.New(os.Stderr, "[test] ", 0)
	dir := t.TempDir()

	st, err := store.Open(store.Config{Dir: dir, Logger: logger})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	q := queue.New(st, queue.Config{
		Timeout: 2 * time.Second,
		Backoff: []time.Duration{time.Millisecond},
		Logger:  logger,
	})
	tr := connectivity.New(connectivity.Config{InitialOnline: true, Logger: logger})
	eng := engine.New(st, q, tr, engine.Config{
		Settings: &engine.Settings{SyncInterval: time.Hour, MaxCacheAge: time.Hour},
		Logger:   logger,
	})

	d, err := New(eng, dir, testConfig())
	if err != nil {
		t.Fatalf("failed to create daemon: %v", err)
	}
	return d, q, dir
}

func TestNewValidation(t *testing.T) {
	if _, err := New(nil, "/tmp", nil); err == nil {
		t.Error("expected error for nil engine")
	}

	eng := engine.New(nil, nil, nil, engine.Config{})
	if _, err := New(eng, "", nil); err == nil {
		t.Error("expected error for empty watch dir")
	}
}

func TestInitialSyncDrainsQueue(t *testing.T) {
	d, q, _ := setupDaemon(t)

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	// Queued before the daemon starts, as a previous process would have.
	if _, err := q.Enqueue(context.Background(), queue.KindAPICall, srv.URL, http.MethodPost, nil, nil); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	deadline := time.Now().Add(3 * time.Second)
	for calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("initial sync never delivered the queued action")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("daemon exited with error: %v", err)
	}
}

func TestStoreChangeTriggersSync(t *testing.T) {
	d, q, _ := setupDaemon(t)

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	// Let the daemon reach its watch loop.
	time.Sleep(100 * time.Millisecond)

	// Enqueue through the shared store, as a second furrow process would.
	if _, err := q.Enqueue(context.Background(), queue.KindAPICall, srv.URL, http.MethodPost, nil, nil); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("daemon never synced after the store changed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("daemon exited with error: %v", err)
	}
}
