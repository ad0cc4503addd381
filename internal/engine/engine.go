package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/tallgrassfarm/furrow/internal/connectivity"
	"github.com/tallgrassfarm/furrow/internal/queue"
	"github.com/tallgrassfarm/furrow/internal/store"
)

// Result is the outcome of one sync run, broadcast to sync subscribers.
// It is transient and never persisted.
type Result struct {
	Success          bool      `json:"success"`
	ActionsProcessed int       `json:"actions_processed"`
	Errors           []string  `json:"errors,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// ResultFunc receives sync results.
type ResultFunc func(Result)

// Stats is the engine-level summary exposed to the CLI and dashboard.
type Stats struct {
	Status       connectivity.Status  `json:"status"`
	Backend      string               `json:"backend"`
	LastSync     *time.Time           `json:"last_sync,omitempty"`
	Queue        *queue.Stats         `json:"queue,omitempty"`
	Usage        *store.UsageEstimate `json:"usage,omitempty"`
	Settings     Settings             `json:"settings"`
	SweptAtStart int                  `json:"swept_at_start"`
}

// Config holds engine configuration.
type Config struct {
	// Settings overrides the persisted settings at Start. Nil means load
	// from the store, falling back to DefaultSettings on first run.
	Settings *Settings

	// Logger for engine activity (default: stderr logger)
	Logger *log.Logger
}

// Engine is the sync orchestrator.
//
// Exactly one Engine instance should exist per process; construct it at
// application start with explicit dependencies and pass it down.
type Engine struct {
	store   *store.Store
	queue   *queue.Queue
	tracker *connectivity.Tracker
	logger  *log.Logger

	mu           sync.Mutex
	settings     Settings
	overrides    *Settings
	lastSync     *time.Time
	sweptAtStart int
	syncSubs     map[int]ResultFunc
	nextSub      int

	// background lifecycle
	ctx         context.Context
	cancel      context.CancelFunc
	timerCancel context.CancelFunc
	wg          sync.WaitGroup
	started     bool

	unsubscribeTracker func()
}

// New creates an Engine over the given dependencies. Use Start to load
// settings and begin background work.
func New(st *store.Store, q *queue.Queue, tr *connectivity.Tracker, config Config) *Engine {
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	return &Engine{
		store:     st,
		queue:     q,
		tracker:   tr,
		logger:    logger,
		overrides: config.Settings,
		settings:  DefaultSettings(),
		syncSubs:  make(map[int]ResultFunc),
	}
}

// Start loads persisted settings, sweeps expired items, starts the tracker,
// wires the reconnect trigger, and starts the auto-sync timer. Idempotent.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.mu.Unlock()

	if err := e.loadSettings(ctx); err != nil {
		return err
	}

	// Best-effort expired-item pass; lazy eviction handles the rest.
	swept, err := e.store.SweepExpired(ctx)
	if err != nil {
		e.logger.Printf("Warning: expired sweep incomplete: %v", err)
	}
	if swept > 0 {
		e.logger.Printf("Swept %d expired items", swept)
	}
	e.mu.Lock()
	e.sweptAtStart = swept
	e.mu.Unlock()

	if err := e.tracker.Start(e.ctx); err != nil {
		// A tracker driven by explicit SetNetworkState has no probe;
		// that is a supported configuration.
		e.logger.Printf("Connectivity polling not started: %v", err)
	}

	// Reconnecting triggers a sync attempt. Only a genuine offline to
	// online transition counts; returning from the syncing overlay to
	// online must not re-trigger.
	prev := e.tracker.Status()
	var prevMu sync.Mutex
	e.unsubscribeTracker = e.tracker.Subscribe(func(s connectivity.Status) {
		prevMu.Lock()
		was := prev
		prev = s
		prevMu.Unlock()

		if was == connectivity.StatusOffline && s == connectivity.StatusOnline {
			e.logger.Printf("Back online, starting sync")
			go func() { _ = e.Sync(e.ctx) }()
		}
	})

	e.restartTimer()
	return nil
}

// Stop halts background work. Safe to call more than once.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	timerCancel := e.timerCancel
	unsub := e.unsubscribeTracker
	e.cancel = nil
	e.timerCancel = nil
	e.unsubscribeTracker = nil
	e.started = false
	e.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if timerCancel != nil {
		timerCancel()
	}
	if cancel != nil {
		cancel()
	}
	e.tracker.Stop()
	e.wg.Wait()
}

// loadSettings merges persisted settings with defaults and any Config
// override, persists the result, and applies the notification flag.
func (e *Engine) loadSettings(ctx context.Context) error {
	settings := DefaultSettings()

	var stored Settings
	found, err := e.store.GetItemAs(ctx, store.PartitionSettings, settingsKey, &stored)
	if err != nil {
		e.logger.Printf("Warning: failed to load settings, using defaults: %v", err)
	} else if found {
		settings = stored
	}
	if e.overrides != nil {
		settings = *e.overrides
	}

	if err := e.store.SetItem(ctx, store.PartitionSettings, settingsKey, settings, 0); err != nil {
		e.logger.Printf("Warning: failed to persist settings: %v", err)
	}

	e.mu.Lock()
	e.settings = settings
	e.mu.Unlock()

	e.tracker.SetNotificationsEnabled(settings.EnableNotifications)
	return nil
}

// Settings returns a copy of the current settings.
func (e *Engine) Settings() Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// UpdateSettings applies a partial settings change, persists it, and
// restarts the auto-sync timer when the interval or the auto-sync flag
// changed.
func (e *Engine) UpdateSettings(ctx context.Context, update SettingsUpdate) error {
	e.mu.Lock()
	timerChanged := e.settings.apply(update)
	settings := e.settings
	started := e.started
	e.mu.Unlock()

	if err := e.store.SetItem(ctx, store.PartitionSettings, settingsKey, settings, 0); err != nil {
		return fmt.Errorf("failed to persist settings: %w", err)
	}

	e.tracker.SetNotificationsEnabled(settings.EnableNotifications)

	if timerChanged && started {
		e.restartTimer()
	}
	return nil
}

// CacheData stores a value in the named partition ("" means the default
// cache partition). A ttl of zero applies the MaxCacheAge setting. Returns
// false instead of an error on any failure.
func (e *Engine) CacheData(ctx context.Context, key string, value any, category string, ttl time.Duration) bool {
	if category == "" {
		category = store.PartitionCache
	}
	if ttl <= 0 {
		ttl = e.Settings().MaxCacheAge
	}

	if err := e.store.SetItem(ctx, category, key, value, ttl); err != nil {
		e.logger.Printf("Warning: failed to cache %s/%s: %v", category, key, err)
		return false
	}
	return true
}

// GetCachedData returns the cached raw JSON, or nil on a miss, an expired
// item, or any failure.
func (e *Engine) GetCachedData(ctx context.Context, key, category string) json.RawMessage {
	if category == "" {
		category = store.PartitionCache
	}

	raw, err := e.store.GetItem(ctx, category, key)
	if err != nil {
		e.logger.Printf("Warning: failed to read cache %s/%s: %v", category, key, err)
		return nil
	}
	return raw
}

// QueueAction queues an outbound mutation for delivery. Pass-through to the
// queue; only invalid arguments error.
func (e *Engine) QueueAction(ctx context.Context, kind queue.Kind, endpoint, method string, payload any, opts *queue.Options) (string, error) {
	return e.queue.Enqueue(ctx, kind, endpoint, method, payload, opts)
}

// Sync drains the deferred queue once.
//
// While offline, or while another sync holds the syncing overlay, Sync
// performs no side effects and returns a Result with Success false and an
// explanatory message. That refusal is a normal outcome, not an error.
func (e *Engine) Sync(ctx context.Context) Result {
	if err := e.tracker.BeginSync(); err != nil {
		return Result{
			Success:   false,
			Errors:    []string{err.Error()},
			Timestamp: time.Now(),
		}
	}

	stats, err := e.queue.DrainAll(ctx)
	result := Result{
		Success:          err == nil && stats.Failed == 0,
		ActionsProcessed: stats.Processed,
		Errors:           stats.Errors,
		Timestamp:        time.Now(),
	}
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
	}

	e.logger.Printf("Sync finished: processed=%d successful=%d failed=%d",
		stats.Processed, stats.Successful, stats.Failed)

	e.broadcast(result)

	e.mu.Lock()
	t := result.Timestamp
	e.lastSync = &t
	e.mu.Unlock()

	e.tracker.EndSync()
	return result
}

// Queue exposes the deferred action queue for direct inspection.
func (e *Engine) Queue() *queue.Queue { return e.queue }

// Status reports the current visible connectivity status.
func (e *Engine) Status() connectivity.Status {
	return e.tracker.Status()
}

// GetStats assembles the engine-level summary.
func (e *Engine) GetStats(ctx context.Context) (*Stats, error) {
	qstats, err := e.queue.GetStats(ctx)
	if err != nil {
		return nil, err
	}
	usage, err := e.store.EstimateUsage(ctx)
	if err != nil {
		usage = nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return &Stats{
		Status:       e.tracker.Status(),
		Backend:      e.store.BackendName(),
		LastSync:     e.lastSync,
		Queue:        qstats,
		Usage:        usage,
		Settings:     e.settings,
		SweptAtStart: e.sweptAtStart,
	}, nil
}

// SweepExpired removes expired items across all partitions and returns the
// number removed. Expiry is otherwise lazy; the daemon calls this on a
// timer.
func (e *Engine) SweepExpired(ctx context.Context) (int, error) {
	return e.store.SweepExpired(ctx)
}

// ClearAllData removes every cached item and every queued action, dropping
// unresolved callbacks.
func (e *Engine) ClearAllData(ctx context.Context) error {
	if err := e.queue.ClearAll(ctx); err != nil {
		return err
	}
	return e.store.ClearAll(ctx)
}

// OnStatusChange subscribes to connectivity transitions. Returns an
// unsubscribe function.
func (e *Engine) OnStatusChange(fn connectivity.StatusFunc) func() {
	return e.tracker.Subscribe(fn)
}

// OnSync subscribes to sync results. Returns an unsubscribe function.
func (e *Engine) OnSync(fn ResultFunc) func() {
	e.mu.Lock()
	id := e.nextSub
	e.nextSub++
	e.syncSubs[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.syncSubs, id)
		e.mu.Unlock()
	}
}

// broadcast delivers a result to every sync subscriber outside the lock.
func (e *Engine) broadcast(result Result) {
	e.mu.Lock()
	fns := make([]ResultFunc, 0, len(e.syncSubs))
	for _, fn := range e.syncSubs {
		fns = append(fns, fn)
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(result)
	}
}

// restartTimer replaces the auto-sync timer goroutine with one matching the
// current settings. A disabled auto-sync simply leaves no timer running.
func (e *Engine) restartTimer() {
	e.mu.Lock()
	if e.timerCancel != nil {
		e.timerCancel()
		e.timerCancel = nil
	}
	settings := e.settings
	base := e.ctx
	e.mu.Unlock()

	if base == nil || !settings.AutoSync || settings.SyncInterval <= 0 {
		return
	}

	ctx, cancel := context.WithCancel(base)
	e.mu.Lock()
	e.timerCancel = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		ticker := time.NewTicker(settings.SyncInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if e.tracker.NetworkOnline() {
					_ = e.Sync(ctx)
				}
			}
		}
	}()
}
