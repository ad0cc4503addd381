package queue

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tallgrassfarm/furrow/internal/store"
)

// testConfig returns a queue config with no real backoff so tests stay fast.
func testConfig() Config {
	return Config{
		Timeout: 2 * time.Second,
		Backoff: []time.Duration{time.Millisecond},
	}
}

// setupQueue creates a queue over a fresh sqlite-backed store.
func setupQueue(t *testing.T) (*Queue, *store.Store) {
	t.Helper()

	st, err := store.Open(store.Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	return New(st, testConfig()), st
}

func TestEnqueueValidation(t *testing.T) {
	ctx := context.Background()
	q, _ := setupQueue(t)

	cases := []struct {
		name     string
		kind     Kind
		endpoint string
		method   string
	}{
		{"bad kind", Kind("bogus"), "/api/x", http.MethodPost},
		{"empty endpoint", KindAPICall, "", http.MethodPost},
		{"bad method", KindAPICall, "/api/x", "FETCH"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := q.Enqueue(ctx, tc.kind, tc.endpoint, tc.method, nil, nil); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestDurabilityAcrossRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	st, err := store.Open(store.Config{Dir: dir})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	q := New(st, testConfig())

	payload := map[string]string{"name": "A"}
	id, err := q.Enqueue(ctx, KindFormSubmission, "/api/contact", http.MethodPost, payload, &Options{Priority: PriorityHigh})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Simulated restart: fresh store and queue over the same directory.
	st2, err := store.Open(store.Config{Dir: dir})
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer st2.Close()
	q2 := New(st2, testConfig())

	pending, err := q2.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending action after restart, got %d", len(pending))
	}
	if pending[0].ID != id {
		t.Errorf("action id changed across restart: %s != %s", pending[0].ID, id)
	}

	var got map[string]string
	if err := json.Unmarshal(pending[0].Payload, &got); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if got["name"] != "A" {
		t.Errorf("payload changed across restart: %v", got)
	}
}

func TestListPendingOrder(t *testing.T) {
	ctx := context.Background()
	q, _ := setupQueue(t)

	// Enqueued in call order low, high, medium.
	for _, p := range []Priority{PriorityLow, PriorityHigh, PriorityMedium} {
		if _, err := q.Enqueue(ctx, KindAPICall, "/api/"+string(p), http.MethodPost, nil, &Options{Priority: p}); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	pending, err := q.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}

	want := []Priority{PriorityHigh, PriorityMedium, PriorityLow}
	if len(pending) != len(want) {
		t.Fatalf("expected %d actions, got %d", len(want), len(pending))
	}
	for i, p := range want {
		if pending[i].Priority != p {
			t.Errorf("position %d: expected %s, got %s", i, p, pending[i].Priority)
		}
	}
}

func TestListPendingFIFOWithinTier(t *testing.T) {
	ctx := context.Background()
	q, _ := setupQueue(t)

	for _, ep := range []string{"/api/1", "/api/2", "/api/3"} {
		if _, err := q.Enqueue(ctx, KindAPICall, ep, http.MethodPost, nil, nil); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	pending, err := q.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	for i, ep := range []string{"/api/1", "/api/2", "/api/3"} {
		if pending[i].Endpoint != ep {
			t.Errorf("position %d: expected %s, got %s", i, ep, pending[i].Endpoint)
		}
	}
}

func TestExecuteOneSuccess(t *testing.T) {
	ctx := context.Background()
	q, _ := setupQueue(t)

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	var successes atomic.Int32
	var gotBody string
	_, err := q.Enqueue(ctx, KindAPICall, srv.URL+"/api/contact", http.MethodPost,
		map[string]string{"name": "A"}, &Options{
			OnSuccess: func(status int, body json.RawMessage) {
				successes.Add(1)
				gotBody = string(body)
			},
		})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	stats, err := q.DrainAll(ctx)
	if err != nil {
		t.Fatalf("DrainAll failed: %v", err)
	}
	if stats.Processed != 1 || stats.Successful != 1 || stats.Failed != 0 {
		t.Errorf("unexpected drain stats: %+v", stats)
	}
	if calls.Load() != 1 {
		t.Errorf("expected exactly 1 network call, got %d", calls.Load())
	}
	if successes.Load() != 1 {
		t.Errorf("expected onSuccess to fire exactly once, fired %d times", successes.Load())
	}
	if gotBody != `{"ok":true}` {
		t.Errorf("unexpected response body in callback: %s", gotBody)
	}

	pending, err := q.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected delivered action to be removed, %d remain", len(pending))
	}
}

func TestRetryExhaustion(t *testing.T) {
	ctx := context.Background()
	q, _ := setupQueue(t)

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	var errCount atomic.Int32
	var lastErr string
	_, err := q.Enqueue(ctx, KindAPICall, srv.URL+"/api/x", http.MethodPost, nil, &Options{
		MaxRetries: 3,
		OnError: func(err error) {
			errCount.Add(1)
			lastErr = err.Error()
		},
	})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	// Each drain pass attempts the action once.
	for i := 0; i < 3; i++ {
		if _, err := q.DrainAll(ctx); err != nil {
			t.Fatalf("DrainAll %d failed: %v", i+1, err)
		}
	}

	if calls.Load() != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", calls.Load())
	}
	if errCount.Load() != 1 {
		t.Errorf("expected onError to fire exactly once, fired %d times", errCount.Load())
	}
	if !strings.Contains(lastErr, "max retries") {
		t.Errorf("expected terminal error to mention max retries, got %q", lastErr)
	}

	pending, err := q.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected exhausted action to be removed, %d remain", len(pending))
	}

	// Further drains must not call the endpoint again.
	if _, err := q.DrainAll(ctx); err != nil {
		t.Fatalf("DrainAll failed: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("exhausted action was retried again: %d calls", calls.Load())
	}
}

func TestRetryCountPersistedBetweenPasses(t *testing.T) {
	ctx := context.Background()
	q, _ := setupQueue(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	if _, err := q.Enqueue(ctx, KindAPICall, srv.URL, http.MethodGet, nil, nil); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	if _, err := q.DrainAll(ctx); err != nil {
		t.Fatalf("DrainAll failed: %v", err)
	}

	pending, err := q.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected action to remain after one failure, got %d", len(pending))
	}
	if pending[0].RetryCount != 1 {
		t.Errorf("expected retry count 1 persisted, got %d", pending[0].RetryCount)
	}
}

func TestExecuteOneTimeoutIsRetryable(t *testing.T) {
	ctx := context.Background()

	st, err := store.Open(store.Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	q := New(st, Config{
		Timeout: 50 * time.Millisecond,
		Backoff: []time.Duration{time.Millisecond},
	})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	if _, err := q.Enqueue(ctx, KindAPICall, srv.URL, http.MethodGet, nil, nil); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	pending, err := q.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}

	result := q.ExecuteOne(ctx, pending[0])
	if result.Success {
		t.Fatal("expected the hung call to fail")
	}
	if result.Permanent {
		t.Fatal("a timeout below the retry budget must stay retryable")
	}
}

func TestDrainSingleFlight(t *testing.T) {
	ctx := context.Background()
	q, _ := setupQueue(t)

	var calls atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	if _, err := q.Enqueue(ctx, KindAPICall, srv.URL, http.MethodPost, nil, nil); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	done := make(chan *DrainStats)
	go func() {
		stats, _ := q.DrainAll(ctx)
		done <- stats
	}()

	// Wait until the first drain is mid-flight.
	for calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	second, err := q.DrainAll(ctx)
	if err != nil {
		t.Fatalf("second DrainAll failed: %v", err)
	}
	if second.Processed != 0 {
		t.Errorf("concurrent drain must be a no-op, processed %d", second.Processed)
	}

	close(release)
	first := <-done
	if first.Processed != 1 || first.Successful != 1 {
		t.Errorf("unexpected first drain stats: %+v", first)
	}
	if calls.Load() != 1 {
		t.Errorf("action was delivered %d times", calls.Load())
	}
}

func TestGetStats(t *testing.T) {
	ctx := context.Background()
	q, _ := setupQueue(t)

	if _, err := q.Enqueue(ctx, KindAPICall, "/api/a", http.MethodPost, nil, &Options{Priority: PriorityHigh}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	if _, err := q.Enqueue(ctx, KindFormSubmission, "/api/b", http.MethodPost, nil, nil); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	stats, err := q.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.Total != 2 {
		t.Errorf("expected 2 total, got %d", stats.Total)
	}
	if stats.ByKind["api_call"] != 1 || stats.ByKind["form_submission"] != 1 {
		t.Errorf("unexpected kind breakdown: %v", stats.ByKind)
	}
	if stats.ByPriority["high"] != 1 || stats.ByPriority["medium"] != 1 {
		t.Errorf("unexpected priority breakdown: %v", stats.ByPriority)
	}
	if stats.OldestEnqueuedAt == nil {
		t.Error("expected oldest enqueue timestamp")
	}
}

func TestClearAll(t *testing.T) {
	ctx := context.Background()
	q, _ := setupQueue(t)

	if _, err := q.Enqueue(ctx, KindAPICall, "/api/a", http.MethodPost, nil, nil); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := q.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll failed: %v", err)
	}

	pending, err := q.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected empty queue after ClearAll, got %d", len(pending))
	}
}
