package connectivity

import (
	"context"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testTracker(online bool) *Tracker {
	return New(Config{
		InitialOnline: online,
		Logger:        log.New(os.Stderr, "[test] ", 0),
	})
}

func TestStatusTransitions(t *testing.T) {
	tr := testTracker(true)

	if got := tr.Status(); got != StatusOnline {
		t.Fatalf("expected online, got %s", got)
	}

	tr.SetNetworkState(false)
	if got := tr.Status(); got != StatusOffline {
		t.Errorf("expected offline after network loss, got %s", got)
	}

	tr.SetNetworkState(true)
	if got := tr.Status(); got != StatusOnline {
		t.Errorf("expected online after restore, got %s", got)
	}
}

func TestSubscribersNotified(t *testing.T) {
	tr := testTracker(true)

	var mu sync.Mutex
	var seen []Status
	unsubscribe := tr.Subscribe(func(s Status) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	tr.SetNetworkState(false)
	tr.SetNetworkState(false) // no-op, no duplicate notification
	tr.SetNetworkState(true)

	mu.Lock()
	got := append([]Status(nil), seen...)
	mu.Unlock()
	want := []Status{StatusOffline, StatusOnline}
	if len(got) != len(want) {
		t.Fatalf("expected %d notifications, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("notification %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	unsubscribe()
	tr.SetNetworkState(false)
	mu.Lock()
	after := len(seen)
	mu.Unlock()
	if after != len(want) {
		t.Error("unsubscribed callback still fired")
	}
}

func TestSyncingOverlay(t *testing.T) {
	tr := testTracker(true)

	if err := tr.BeginSync(); err != nil {
		t.Fatalf("BeginSync failed: %v", err)
	}
	if got := tr.Status(); got != StatusSyncing {
		t.Errorf("expected syncing, got %s", got)
	}

	// Second sync refused while the overlay is held.
	if err := tr.BeginSync(); err != ErrSyncInProgress {
		t.Errorf("expected ErrSyncInProgress, got %v", err)
	}

	tr.EndSync()
	if got := tr.Status(); got != StatusOnline {
		t.Errorf("expected online after sync, got %s", got)
	}
}

func TestEndSyncReturnsToLiveState(t *testing.T) {
	tr := testTracker(true)

	if err := tr.BeginSync(); err != nil {
		t.Fatalf("BeginSync failed: %v", err)
	}

	// Network drops mid-run: the overlay stays visible, but leaving it
	// must land on offline, not online.
	tr.SetNetworkState(false)
	if got := tr.Status(); got != StatusSyncing {
		t.Errorf("expected syncing overlay to persist, got %s", got)
	}

	tr.EndSync()
	if got := tr.Status(); got != StatusOffline {
		t.Errorf("expected offline after sync ended, got %s", got)
	}
}

func TestBeginSyncRefusedOffline(t *testing.T) {
	tr := testTracker(false)

	if err := tr.BeginSync(); err != ErrOffline {
		t.Errorf("expected ErrOffline, got %v", err)
	}
	if got := tr.Status(); got != StatusOffline {
		t.Errorf("status must stay offline, got %s", got)
	}
}

type stubNotifier struct {
	count atomic.Int32
}

func (n *stubNotifier) Notify(title, message string) { n.count.Add(1) }

func TestOfflineNotification(t *testing.T) {
	notifier := &stubNotifier{}
	tr := New(Config{
		InitialOnline:       true,
		Notifier:            notifier,
		EnableNotifications: true,
		Logger:              log.New(os.Stderr, "[test] ", 0),
	})

	tr.SetNetworkState(false)
	if notifier.count.Load() != 1 {
		t.Errorf("expected 1 notification, got %d", notifier.count.Load())
	}

	// Disabled notifications stay silent.
	tr.SetNetworkState(true)
	tr.SetNotificationsEnabled(false)
	tr.SetNetworkState(false)
	if notifier.count.Load() != 1 {
		t.Errorf("disabled notifier still fired: %d", notifier.count.Load())
	}
}

func TestHTTPProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	probe := &HTTPProbe{URL: srv.URL, Timeout: time.Second}
	if !probe.Online(context.Background()) {
		t.Error("expected probe to report online against a live server")
	}

	srv.Close()
	if probe.Online(context.Background()) {
		t.Error("expected probe to report offline against a closed server")
	}
}

func TestStartPollsProbe(t *testing.T) {
	var online atomic.Bool
	online.Store(true)

	probe := probeFunc(func(ctx context.Context) bool { return online.Load() })
	tr := New(Config{
		Probe:        probe,
		PollInterval: 10 * time.Millisecond,
		Logger:       log.New(os.Stderr, "[test] ", 0),
	})

	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer tr.Stop()

	if got := tr.Status(); got != StatusOnline {
		t.Fatalf("expected online after initial probe, got %s", got)
	}

	online.Store(false)
	deadline := time.Now().Add(time.Second)
	for tr.Status() != StatusOffline {
		if time.Now().After(deadline) {
			t.Fatal("tracker never observed the network loss")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// probeFunc adapts a function to the Probe interface.
type probeFunc func(ctx context.Context) bool

func (f probeFunc) Online(ctx context.Context) bool { return f(ctx) }
