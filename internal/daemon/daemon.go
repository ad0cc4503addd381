// Package daemon runs the offline engine unattended.
//
// The daemon:
// 1. Watches the store's data directory for writes from other furrow
//    processes (a CLI invocation enqueuing an action, for example)
// 2. Triggers a sync once changes settle and the network is up
// 3. Periodically sweeps expired cache items
// 4. Handles graceful shutdown
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tallgrassfarm/furrow/internal/connectivity"
	"github.com/tallgrassfarm/furrow/internal/engine"
)

// Config holds configuration for the daemon.
type Config struct {
	// DebounceInterval is how long a burst of store writes must settle
	// before a sync is considered. Batches rapid updates together.
	DebounceInterval time.Duration

	// SweepInterval is how often to sweep expired cache items.
	SweepInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 250 * time.Millisecond,
		SweepInterval:    10 * time.Minute,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon orchestrates store watching, periodic sweeps, and sync triggering
// around a running engine.
type Daemon struct {
	engine   *engine.Engine
	watchDir string
	config   *Config

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time // path -> last event
	changeQueueMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Daemon around an already-constructed engine.
//
// watchDir is the store's data directory; writes beneath it (from any
// process sharing the store) schedule a debounced sync attempt.
func New(eng *engine.Engine, watchDir string, config *Config) (*Daemon, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if watchDir == "" {
		return nil, fmt.Errorf("watchDir cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		engine:      eng,
		watchDir:    watchDir,
		config:      config,
		watcher:     watcher,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// The daemon starts the engine, performs one initial sync attempt, then
// watches the store directory and sweeps on a timer. This blocks until ctx
// is cancelled or an error occurs.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if err := d.engine.Start(d.ctx); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}

	// Initial drain attempt; a refusal while offline is normal.
	result := d.engine.Sync(d.ctx)
	d.config.Logger.Printf("Initial sync: success=%v processed=%d",
		result.Success, result.ActionsProcessed)

	if err := d.watcher.Add(d.watchDir); err != nil {
		return fmt.Errorf("failed to watch store directory: %w", err)
	}
	d.config.Logger.Printf("Watching: %s", d.watchDir)

	d.wg.Add(3)
	go d.watchStoreEvents()
	go d.processChangeQueue()
	go d.sweepLoop()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	d.cancel()

	if err := d.watcher.Close(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}

	d.wg.Wait()
	d.engine.Stop()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// watchStoreEvents monitors filesystem events under the store directory and
// queues them for debounced processing.
func (d *Daemon) watchStoreEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove) == 0 {
				continue
			}

			d.queueChange(event.Name)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueChange records a path with the current time for debouncing.
func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[path] = time.Now()
}

// processChangeQueue periodically checks whether queued changes have
// settled and, if so, triggers a sync.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

// processPendingChanges triggers one sync attempt once every queued change
// is older than the debounce interval.
func (d *Daemon) processPendingChanges() {
	d.changeQueueMu.Lock()
	if len(d.changeQueue) == 0 {
		d.changeQueueMu.Unlock()
		return
	}

	now := time.Now()
	for _, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			// Still churning; check again next tick.
			d.changeQueueMu.Unlock()
			return
		}
	}
	d.changeQueue = make(map[string]time.Time)
	d.changeQueueMu.Unlock()

	// A running sync produced these writes itself; nothing to do.
	if d.engine.Status() == connectivity.StatusSyncing {
		return
	}

	stats, err := d.engine.GetStats(d.ctx)
	if err != nil {
		d.config.Logger.Printf("Error reading queue stats: %v", err)
		return
	}
	if stats.Queue.Total == 0 {
		return
	}

	d.config.Logger.Printf("Store changed, %d actions pending, syncing", stats.Queue.Total)
	result := d.engine.Sync(d.ctx)
	if !result.Success {
		d.config.Logger.Printf("Sync incomplete: %v", result.Errors)
	}
}

// sweepLoop periodically removes expired cache items.
func (d *Daemon) sweepLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.sweep()
		}
	}
}

// sweep performs one expired-item pass through the engine's store.
func (d *Daemon) sweep() {
	removed, err := d.engine.SweepExpired(d.ctx)
	if err != nil {
		d.config.Logger.Printf("Error during sweep: %v", err)
		return
	}
	if removed > 0 {
		d.config.Logger.Printf("Swept %d expired items", removed)
	}
}
