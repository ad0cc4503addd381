package connectivity

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// Status is the process-wide connectivity state visible to subscribers.
type Status string

const (
	// StatusOnline means the network is reachable and no sync is running.
	StatusOnline Status = "online"

	// StatusOffline means the network is unreachable.
	StatusOffline Status = "offline"

	// StatusSyncing means a sync run is in progress. It overlays the live
	// network state and is only entered from online.
	StatusSyncing Status = "syncing"
)

// ErrOffline is returned by BeginSync while the network is down.
var ErrOffline = fmt.Errorf("connectivity: offline")

// ErrSyncInProgress is returned by BeginSync while another run holds the
// syncing overlay.
var ErrSyncInProgress = fmt.Errorf("connectivity: sync already in progress")

// StatusFunc receives status change notifications.
type StatusFunc func(Status)

// Config holds tracker configuration.
type Config struct {
	// Probe answers the live connectivity question. Required for Start;
	// a tracker driven purely by SetNetworkState may leave it nil.
	Probe Probe

	// PollInterval is how often Start consults the probe (default 15s).
	PollInterval time.Duration

	// Notifier receives the passive offline notification. Nil disables it.
	Notifier Notifier

	// EnableNotifications gates the Notifier at startup. Mutable later
	// via SetNotificationsEnabled.
	EnableNotifications bool

	// InitialOnline is the network state assumed before the first probe.
	InitialOnline bool

	// Logger for tracker activity (default: stderr logger)
	Logger *log.Logger
}

// Tracker observes network transitions and exposes the tri-state status.
//
// Exactly one Tracker instance should exist per engine; construct it at
// application start and pass it down.
type Tracker struct {
	probe        Probe
	pollInterval time.Duration
	logger       *log.Logger

	mu            sync.Mutex
	network       bool // live network state
	syncing       bool // overlay, only set while network was online
	notifier      Notifier
	notifyEnabled bool
	subs          map[int]StatusFunc
	nextSub       int

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New creates a Tracker. Use Start to begin probe polling, or drive the
// tracker with SetNetworkState on platforms that deliver native events.
func New(config Config) *Tracker {
	if config.PollInterval <= 0 {
		config.PollInterval = 15 * time.Second
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[connectivity] ", log.LstdFlags)
	}
	return &Tracker{
		probe:         config.Probe,
		pollInterval:  config.PollInterval,
		logger:        config.Logger,
		network:       config.InitialOnline,
		notifier:      config.Notifier,
		notifyEnabled: config.EnableNotifications,
		subs:          make(map[int]StatusFunc),
	}
}

// Status returns the current visible status. The syncing overlay wins while
// a run is in progress.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statusLocked()
}

func (t *Tracker) statusLocked() Status {
	if t.syncing {
		return StatusSyncing
	}
	if t.network {
		return StatusOnline
	}
	return StatusOffline
}

// NetworkOnline reports the live network state, ignoring the syncing overlay.
func (t *Tracker) NetworkOnline() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.network
}

// SetNetworkState records a network transition, notifying subscribers when
// the visible status changed. This is the entry point for platform
// connectivity events and for tests; the probe loop funnels through it too.
func (t *Tracker) SetNetworkState(online bool) {
	t.mu.Lock()
	if t.network == online {
		t.mu.Unlock()
		return
	}
	before := t.statusLocked()
	t.network = online
	after := t.statusLocked()
	notify := after == StatusOffline && t.notifyEnabled && t.notifier != nil
	notifier := t.notifier
	t.mu.Unlock()

	if online {
		t.logger.Printf("Network restored")
	} else {
		t.logger.Printf("Network lost")
	}

	if notify {
		notifier.Notify("You're offline", "Changes will be saved and synced when the connection returns.")
	}
	if before != after {
		t.fire(after)
	}
}

// BeginSync enters the syncing overlay.
//
// Returns ErrOffline while the network is down and ErrSyncInProgress while
// another run holds the overlay; there is no offline-to-syncing transition.
func (t *Tracker) BeginSync() error {
	t.mu.Lock()
	if !t.network {
		t.mu.Unlock()
		return ErrOffline
	}
	if t.syncing {
		t.mu.Unlock()
		return ErrSyncInProgress
	}
	t.syncing = true
	t.mu.Unlock()

	t.fire(StatusSyncing)
	return nil
}

// EndSync leaves the syncing overlay and reports the live network state,
// which may have changed while the run was in progress.
func (t *Tracker) EndSync() {
	t.mu.Lock()
	if !t.syncing {
		t.mu.Unlock()
		return
	}
	t.syncing = false
	after := t.statusLocked()
	t.mu.Unlock()

	t.fire(after)
}

// Subscribe registers fn for status changes and returns an unsubscribe
// function.
func (t *Tracker) Subscribe(fn StatusFunc) func() {
	t.mu.Lock()
	id := t.nextSub
	t.nextSub++
	t.subs[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}
}

// SetNotificationsEnabled toggles the passive offline notification.
func (t *Tracker) SetNotificationsEnabled(enabled bool) {
	t.mu.Lock()
	t.notifyEnabled = enabled
	t.mu.Unlock()
}

// Start begins probe polling. It performs one immediate probe, then polls
// on the configured interval until Stop is called or ctx is cancelled.
func (t *Tracker) Start(ctx context.Context) error {
	if t.probe == nil {
		return fmt.Errorf("connectivity: no probe configured")
	}

	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = true
	ctx, t.cancel = context.WithCancel(ctx)
	t.mu.Unlock()

	t.SetNetworkState(t.probe.Online(ctx))

	t.wg.Add(1)
	go t.pollLoop(ctx)
	return nil
}

// Stop halts probe polling. Safe to call on a tracker that never started.
func (t *Tracker) Stop() {
	t.mu.Lock()
	cancel := t.cancel
	t.running = false
	t.cancel = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	t.wg.Wait()
}

// pollLoop consults the probe on the configured interval.
func (t *Tracker) pollLoop(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.SetNetworkState(t.probe.Online(ctx))
		}
	}
}

// fire invokes every subscriber with the new status. Callbacks run outside
// the tracker lock so they may call back into the tracker.
func (t *Tracker) fire(status Status) {
	t.mu.Lock()
	fns := make([]StatusFunc, 0, len(t.subs))
	for _, fn := range t.subs {
		fns = append(fns, fn)
	}
	t.mu.Unlock()

	for _, fn := range fns {
		fn(status)
	}
}
