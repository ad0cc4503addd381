package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

// Config holds store configuration.
type Config struct {
	// Dir is the data directory. Both backends live beneath it:
	// Dir/furrow.db for the structured backend, Dir/kv/ for the simple one.
	Dir string

	// FileQuota overrides the simple backend's size ceiling (bytes).
	// Zero means DefaultFileQuota.
	FileQuota int64

	// DisableSQLite forces the simple backend. Used on platforms where the
	// embedded database is unavailable, and by tests exercising the
	// degraded mode.
	DisableSQLite bool

	// Logger for store activity (default: stderr logger)
	Logger *log.Logger
}

// Store is the durable key-value layer used by the queue and the engine.
//
// It owns exactly one Backend, selected once at Open, and layers expiry
// semantics on top of it: reads filter out expired items and delete them as
// a side effect.
type Store struct {
	backend Backend
	dir     string
	logger  *log.Logger
}

// Open selects a backend and returns a ready Store.
//
// The structured (SQLite) backend is tried first. If it cannot be opened the
// simple file backend is selected instead, once, for the life of the process.
// Open fails with ErrUnavailable only when neither backend can be opened.
func Open(cfg Config) (*Store, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("store: data directory cannot be empty")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}

	if !cfg.DisableSQLite {
		backend, err := openSQLite(filepath.Join(cfg.Dir, "furrow.db"))
		if err == nil {
			return &Store{backend: backend, dir: cfg.Dir, logger: logger}, nil
		}
		logger.Printf("Structured backend unavailable, falling back to file store: %v", err)
	}

	backend, err := openFileBackend(filepath.Join(cfg.Dir, "kv"), cfg.FileQuota)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &Store{backend: backend, dir: cfg.Dir, logger: logger}, nil
}

// BackendName reports which storage strategy was selected at Open.
func (s *Store) BackendName() string {
	return s.backend.Name()
}

// Dir reports the data directory the store was opened over.
func (s *Store) Dir() string {
	return s.dir
}

// Close releases the underlying backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// SetItem upserts data under (partition, id), JSON-encoded. A ttl of zero
// means the item never expires. The write is durable before SetItem returns.
func (s *Store) SetItem(ctx context.Context, partition, id string, data any, ttl time.Duration) error {
	if partition == "" || id == "" {
		return fmt.Errorf("store: partition and id cannot be empty")
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode item %s/%s: %w", partition, id, err)
	}

	now := time.Now()
	item := &Item{ID: id, Data: raw, StoredAt: now}
	if ttl > 0 {
		expires := now.Add(ttl)
		item.ExpiresAt = &expires
	}

	return s.backend.Put(ctx, partition, item)
}

// GetItem returns the raw JSON stored under (partition, id), or nil when the
// item is absent or expired. An expired item is deleted as a side effect of
// being read.
func (s *Store) GetItem(ctx context.Context, partition, id string) (json.RawMessage, error) {
	item, err := s.backend.Get(ctx, partition, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, nil
	}

	if item.Expired(time.Now()) {
		if err := s.backend.Delete(ctx, partition, id); err != nil {
			s.logger.Printf("Warning: failed to evict expired item %s/%s: %v", partition, id, err)
		}
		return nil, nil
	}
	return item.Data, nil
}

// GetItemAs decodes the item into v. Returns (false, nil) on a miss.
func (s *Store) GetItemAs(ctx context.Context, partition, id string, v any) (bool, error) {
	raw, err := s.GetItem(ctx, partition, id)
	if err != nil || raw == nil {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("failed to decode item %s/%s: %w", partition, id, err)
	}
	return true, nil
}

// GetAllItems returns every live item in the partition. Expired items are
// filtered out and deleted as a side effect, exactly as in GetItem.
func (s *Store) GetAllItems(ctx context.Context, partition string) ([]*Item, error) {
	items, err := s.backend.List(ctx, partition)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	live := items[:0]
	for _, item := range items {
		if item.Expired(now) {
			if err := s.backend.Delete(ctx, partition, item.ID); err != nil {
				s.logger.Printf("Warning: failed to evict expired item %s/%s: %v", partition, item.ID, err)
			}
			continue
		}
		live = append(live, item)
	}
	return live, nil
}

// RemoveItem deletes the item. Removing an absent id is not an error.
func (s *Store) RemoveItem(ctx context.Context, partition, id string) error {
	return s.backend.Delete(ctx, partition, id)
}

// ClearPartition removes every item in the partition.
func (s *Store) ClearPartition(ctx context.Context, partition string) error {
	return s.backend.Clear(ctx, partition)
}

// ClearAll removes every item in every defined partition.
func (s *Store) ClearAll(ctx context.Context) error {
	for _, partition := range Partitions {
		if err := s.backend.Clear(ctx, partition); err != nil {
			return err
		}
	}
	return nil
}

// EstimateUsage reports backend storage consumption, or nil when the backend
// cannot report it.
func (s *Store) EstimateUsage(ctx context.Context) (*UsageEstimate, error) {
	return s.backend.Usage(ctx)
}

// SweepExpired deletes every expired item across all defined partitions and
// returns the number removed. Expiry is otherwise lazy, so this exists for
// the engine's best-effort pass at startup.
func (s *Store) SweepExpired(ctx context.Context) (int, error) {
	now := time.Now()
	removed := 0

	for _, partition := range Partitions {
		items, err := s.backend.List(ctx, partition)
		if err != nil {
			return removed, err
		}
		for _, item := range items {
			if !item.Expired(now) {
				continue
			}
			if err := s.backend.Delete(ctx, partition, item.ID); err != nil {
				s.logger.Printf("Warning: failed to sweep item %s/%s: %v", partition, item.ID, err)
				continue
			}
			removed++
		}
	}
	return removed, nil
}
