package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tallgrassfarm/furrow/internal/store"
)

// maxResponseBytes caps how much of a response body is retained for the
// success callback.
const maxResponseBytes = 1 << 20 // 1 MiB

// Config holds queue configuration.
type Config struct {
	// Timeout bounds each delivery attempt. A timed-out attempt counts as
	// a retryable failure.
	Timeout time.Duration

	// Backoff is the progressive delay table applied after a failed
	// attempt that still has retries left, indexed by retry count.
	Backoff []time.Duration

	// Client is the HTTP client used for deliveries (default:
	// http.DefaultClient).
	Client *http.Client

	// Logger for queue activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout: 30 * time.Second,
		Backoff: []time.Duration{1 * time.Second, 5 * time.Second, 15 * time.Second},
	}
}

// ExecResult reports the outcome of one delivery attempt.
type ExecResult struct {
	// Success is true when the endpoint answered 2xx and the action was
	// removed from the store.
	Success bool

	// Permanent is true when the action exhausted its retry budget and
	// was removed. Success and Permanent are never both true.
	Permanent bool

	// Status is the HTTP status of the attempt, 0 on transport failure.
	Status int

	// Body is the response body on success.
	Body json.RawMessage

	// Err describes the failure, empty on success.
	Err string
}

// DrainStats summarizes one DrainAll pass.
type DrainStats struct {
	Processed  int      `json:"processed"`
	Successful int      `json:"successful"`
	Failed     int      `json:"failed"`
	Errors     []string `json:"errors,omitempty"`
}

// Stats describes the pending queue for dashboards and the CLI.
type Stats struct {
	Total            int            `json:"total"`
	ByKind           map[string]int `json:"by_kind"`
	ByPriority       map[string]int `json:"by_priority"`
	OldestEnqueuedAt *time.Time     `json:"oldest_enqueued_at,omitempty"`
}

// callbacks pairs the optional handlers registered at Enqueue.
type callbacks struct {
	onSuccess SuccessFunc
	onError   ErrorFunc
}

// Queue is the durable deferred-action queue.
//
// Exactly one Queue instance should exist per store; construct it at
// application start and pass it down.
type Queue struct {
	store  *store.Store
	config Config
	logger *log.Logger

	// callback table: insert-on-enqueue, delete-on-resolve. Never
	// persisted, so handlers do not survive a restart.
	callbackMu sync.Mutex
	callback   map[string]callbacks

	// single-flight guard for DrainAll
	draining atomic.Bool
}

// New creates a Queue backed by the given store.
func New(st *store.Store, config Config) *Queue {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if len(config.Backoff) == 0 {
		config.Backoff = DefaultConfig().Backoff
	}
	if config.Client == nil {
		config.Client = http.DefaultClient
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[queue] ", log.LstdFlags)
	}
	return &Queue{
		store:    st,
		config:   config,
		logger:   config.Logger,
		callback: make(map[string]callbacks),
	}
}

// Enqueue constructs an action, persists it, and registers any callbacks.
//
// The action is durably written before Enqueue returns; no network I/O
// happens here. The returned id identifies the action in ListPending and
// Stats until it succeeds or exhausts its retries.
func (q *Queue) Enqueue(ctx context.Context, kind Kind, endpoint, method string, payload any, opts *Options) (string, error) {
	if opts == nil {
		opts = &Options{}
	}

	action := &Action{
		ID:         uuid.NewString(),
		Kind:       kind,
		Endpoint:   endpoint,
		Method:     method,
		Headers:    opts.Headers,
		EnqueuedAt: time.Now(),
		MaxRetries: opts.MaxRetries,
		Priority:   opts.Priority,
	}
	if action.MaxRetries == 0 {
		action.MaxRetries = DefaultMaxRetries
	}
	if action.Priority == "" {
		action.Priority = PriorityMedium
	}

	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return "", fmt.Errorf("failed to encode payload: %w", err)
		}
		action.Payload = raw
	}

	if err := action.Validate(); err != nil {
		return "", err
	}

	if err := q.store.SetItem(ctx, store.PartitionActions, action.ID, action, 0); err != nil {
		return "", fmt.Errorf("failed to persist action: %w", err)
	}

	if opts.OnSuccess != nil || opts.OnError != nil {
		q.callbackMu.Lock()
		q.callback[action.ID] = callbacks{onSuccess: opts.OnSuccess, onError: opts.OnError}
		q.callbackMu.Unlock()
	}

	q.logger.Printf("Enqueued %s %s %s (priority=%s, id=%s)",
		action.Kind, action.Method, action.Endpoint, action.Priority, action.ID)

	return action.ID, nil
}

// ListPending returns all persisted actions in drain order: priority
// descending, then enqueued-at ascending (FIFO within a tier).
func (q *Queue) ListPending(ctx context.Context) ([]*Action, error) {
	items, err := q.store.GetAllItems(ctx, store.PartitionActions)
	if err != nil {
		return nil, fmt.Errorf("failed to read pending actions: %w", err)
	}

	actions := make([]*Action, 0, len(items))
	for _, item := range items {
		var action Action
		if err := json.Unmarshal(item.Data, &action); err != nil {
			q.logger.Printf("Warning: skipping undecodable action %s: %v", item.ID, err)
			continue
		}
		actions = append(actions, &action)
	}

	sort.SliceStable(actions, func(i, j int) bool {
		if ri, rj := actions[i].Priority.rank(), actions[j].Priority.rank(); ri != rj {
			return ri > rj
		}
		return actions[i].EnqueuedAt.Before(actions[j].EnqueuedAt)
	})

	return actions, nil
}

// ExecuteOne performs exactly one delivery attempt for the action.
//
// On 2xx the action is removed from the store and its success callback is
// resolved. On any other outcome the retry count is incremented; at the
// budget the action is removed and its error callback resolved with a
// "max retries reached" error, below it the action is re-persisted with the
// incremented count and no callback fires.
func (q *Queue) ExecuteOne(ctx context.Context, action *Action) *ExecResult {
	status, body, err := q.attempt(ctx, action)
	if err == nil {
		if rerr := q.store.RemoveItem(ctx, store.PartitionActions, action.ID); rerr != nil {
			q.logger.Printf("Warning: failed to remove delivered action %s: %v", action.ID, rerr)
		}
		if cb := q.takeCallbacks(action.ID); cb.onSuccess != nil {
			cb.onSuccess(status, body)
		}
		q.logger.Printf("Delivered %s %s (id=%s, status=%d)",
			action.Method, action.Endpoint, action.ID, status)
		return &ExecResult{Success: true, Status: status, Body: body}
	}

	action.RetryCount++

	if action.RetryCount >= action.MaxRetries {
		if rerr := q.store.RemoveItem(ctx, store.PartitionActions, action.ID); rerr != nil {
			q.logger.Printf("Warning: failed to remove exhausted action %s: %v", action.ID, rerr)
		}
		terminal := fmt.Errorf("max retries reached (%d) for %s %s: %w",
			action.MaxRetries, action.Method, action.Endpoint, err)
		if cb := q.takeCallbacks(action.ID); cb.onError != nil {
			cb.onError(terminal)
		}
		q.logger.Printf("Dropped %s %s after %d attempts (id=%s): %v",
			action.Method, action.Endpoint, action.RetryCount, action.ID, err)
		return &ExecResult{Permanent: true, Status: status, Err: terminal.Error()}
	}

	if perr := q.store.SetItem(ctx, store.PartitionActions, action.ID, action, 0); perr != nil {
		q.logger.Printf("Warning: failed to re-persist action %s: %v", action.ID, perr)
	}
	q.logger.Printf("Attempt %d/%d failed for %s %s (id=%s): %v",
		action.RetryCount, action.MaxRetries, action.Method, action.Endpoint, action.ID, err)
	return &ExecResult{Status: status, Err: err.Error()}
}

// attempt performs the HTTP call for one action under the per-attempt
// timeout. Returns a non-nil error on transport failure, timeout, or a
// non-2xx status.
func (q *Queue) attempt(ctx context.Context, action *Action) (int, json.RawMessage, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, q.config.Timeout)
	defer cancel()

	var body io.Reader
	if len(action.Payload) > 0 {
		body = bytes.NewReader(action.Payload)
	}

	req, err := http.NewRequestWithContext(attemptCtx, action.Method, action.Endpoint, body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build request: %w", err)
	}
	if len(action.Payload) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range action.Headers {
		req.Header.Set(k, v)
	}

	resp, err := q.config.Client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return resp.StatusCode, respBody, nil
}

// DrainAll attempts every pending action once, in ListPending order.
//
// A second concurrent call is a no-op returning zero stats. Actions enqueued
// mid-pass are picked up by the next pass, not this one. After a failed
// attempt that still has retries left, the configured backoff delay is
// inserted before moving on.
func (q *Queue) DrainAll(ctx context.Context) (*DrainStats, error) {
	if !q.draining.CompareAndSwap(false, true) {
		return &DrainStats{}, nil
	}
	defer q.draining.Store(false)

	actions, err := q.ListPending(ctx)
	if err != nil {
		return &DrainStats{}, err
	}

	stats := &DrainStats{}
	for _, action := range actions {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		result := q.ExecuteOne(ctx, action)
		stats.Processed++
		if result.Success {
			stats.Successful++
			continue
		}
		stats.Failed++
		stats.Errors = append(stats.Errors, result.Err)

		// Failed but not exhausted: this action stays for the next
		// cycle. Give the backend a moment before the next one.
		if !result.Permanent {
			if err := q.wait(ctx, q.backoffFor(action.RetryCount)); err != nil {
				return stats, err
			}
		}
	}
	return stats, nil
}

// backoffFor returns the delay for an action that just failed its Nth
// attempt (retry count already incremented).
func (q *Queue) backoffFor(retryCount int) time.Duration {
	idx := retryCount - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(q.config.Backoff) {
		idx = len(q.config.Backoff) - 1
	}
	return q.config.Backoff[idx]
}

// wait sleeps for d or until ctx is cancelled.
func (q *Queue) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ClearAll removes every persisted action and drops all registered
// callbacks without resolving them.
func (q *Queue) ClearAll(ctx context.Context) error {
	if err := q.store.ClearPartition(ctx, store.PartitionActions); err != nil {
		return fmt.Errorf("failed to clear action queue: %w", err)
	}
	q.callbackMu.Lock()
	q.callback = make(map[string]callbacks)
	q.callbackMu.Unlock()
	return nil
}

// GetStats summarizes the pending queue.
func (q *Queue) GetStats(ctx context.Context) (*Stats, error) {
	actions, err := q.ListPending(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		Total:      len(actions),
		ByKind:     make(map[string]int),
		ByPriority: make(map[string]int),
	}
	for _, action := range actions {
		stats.ByKind[string(action.Kind)]++
		stats.ByPriority[string(action.Priority)]++
		if stats.OldestEnqueuedAt == nil || action.EnqueuedAt.Before(*stats.OldestEnqueuedAt) {
			t := action.EnqueuedAt
			stats.OldestEnqueuedAt = &t
		}
	}
	return stats, nil
}

// takeCallbacks pops the callback pair for id, if any was registered.
func (q *Queue) takeCallbacks(id string) callbacks {
	q.callbackMu.Lock()
	defer q.callbackMu.Unlock()
	cb := q.callback[id]
	delete(q.callback, id)
	return cb
}
