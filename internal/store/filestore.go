package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DefaultFileQuota is the hard size ceiling of the simple backend. Kept
// small on purpose: this backend exists for constrained environments.
const DefaultFileQuota = 5 << 20 // 5 MiB

// fileBackend is the simple storage strategy: one JSON envelope file per
// (partition, id) key under a flat directory tree. It enforces a hard total
// size ceiling on every write.
type fileBackend struct {
	dir   string
	quota int64
}

// openFileBackend creates the simple backend rooted at dir.
func openFileBackend(dir string, quota int64) (*fileBackend, error) {
	if quota <= 0 {
		quota = DefaultFileQuota
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &fileBackend{dir: dir, quota: quota}, nil
}

// Name implements Backend.
func (b *fileBackend) Name() string { return "file" }

// itemPath maps a key to its envelope file. IDs are base64url-encoded so
// arbitrary key strings stay filesystem-safe.
func (b *fileBackend) itemPath(partition, id string) string {
	name := base64.URLEncoding.EncodeToString([]byte(id)) + ".json"
	return filepath.Join(b.dir, partition, name)
}

// Put implements Backend. Returns ErrQuotaExceeded when the write would push
// total usage past the ceiling.
func (b *fileBackend) Put(ctx context.Context, partition string, item *Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal item %s/%s: %w", partition, item.ID, err)
	}

	used, err := b.usedBytes()
	if err != nil {
		return err
	}
	path := b.itemPath(partition, item.ID)
	if prev, err := os.Stat(path); err == nil {
		used -= prev.Size()
	}
	if used+int64(len(data)) > b.quota {
		return ErrQuotaExceeded
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create partition directory: %w", err)
	}

	// Write-then-rename so a crash never leaves a torn envelope behind.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write item %s/%s: %w", partition, item.ID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to store item %s/%s: %w", partition, item.ID, err)
	}
	return nil
}

// Get implements Backend.
func (b *fileBackend) Get(ctx context.Context, partition, id string) (*Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(b.itemPath(partition, id))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read item %s/%s: %w", partition, id, err)
	}

	var item Item
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("failed to decode item %s/%s: %w", partition, id, err)
	}
	return &item, nil
}

// List implements Backend. Envelopes that fail to decode are skipped rather
// than failing the whole listing.
func (b *fileBackend) List(ctx context.Context, partition string) ([]*Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(filepath.Join(b.dir, partition))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read partition %s: %w", partition, err)
	}

	var items []*Item
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(b.dir, partition, entry.Name()))
		if err != nil {
			continue
		}
		var item Item
		if err := json.Unmarshal(data, &item); err != nil {
			continue
		}
		items = append(items, &item)
	}
	return items, nil
}

// Delete implements Backend. Deleting an absent id is a no-op.
func (b *fileBackend) Delete(ctx context.Context, partition, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := os.Remove(b.itemPath(partition, id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete item %s/%s: %w", partition, id, err)
	}
	return nil
}

// Clear implements Backend.
func (b *fileBackend) Clear(ctx context.Context, partition string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := os.RemoveAll(filepath.Join(b.dir, partition))
	if err != nil {
		return fmt.Errorf("failed to clear partition %s: %w", partition, err)
	}
	return nil
}

// Usage implements Backend.
func (b *fileBackend) Usage(ctx context.Context) (*UsageEstimate, error) {
	used, err := b.usedBytes()
	if err != nil {
		return nil, nil
	}
	return &UsageEstimate{Used: used, Quota: b.quota}, nil
}

// Close implements Backend. The file backend holds no open resources.
func (b *fileBackend) Close() error { return nil }

// usedBytes sums the size of every envelope file under the store directory.
func (b *fileBackend) usedBytes() (int64, error) {
	var total int64
	err := filepath.WalkDir(b.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to measure store usage: %w", err)
	}
	return total, nil
}
