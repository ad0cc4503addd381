package store

import (
	"encoding/json"
	"time"
)

// Well-known partitions. Open defines all of them up front so that callers
// never race on partition creation.
const (
	// PartitionActivities holds cached farm activity catalogs.
	PartitionActivities = "activities"

	// PartitionUserProfile holds the cached user profile.
	PartitionUserProfile = "user_profile"

	// PartitionSuggestions holds cached suggestion/contact drafts.
	PartitionSuggestions = "suggestions"

	// PartitionActions holds the deferred action queue.
	PartitionActions = "deferred_actions"

	// PartitionCache is the default partition for ad-hoc cached reads.
	PartitionCache = "cache"

	// PartitionSettings holds persisted engine settings.
	PartitionSettings = "settings"
)

// Partitions lists every partition defined at Open, in a stable order.
// SweepExpired and ClearAll iterate this set.
var Partitions = []string{
	PartitionActivities,
	PartitionUserProfile,
	PartitionSuggestions,
	PartitionActions,
	PartitionCache,
	PartitionSettings,
}

// Item is the stored envelope for a single (partition, id) pair.
//
// Data is kept as raw JSON so the store never needs to know the caller's
// types. ExpiresAt is nil for items that never expire.
type Item struct {
	ID        string          `json:"id"`
	Data      json.RawMessage `json:"data"`
	StoredAt  time.Time       `json:"stored_at"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
}

// Expired reports whether the item's expiry has passed at the given instant.
// Items without an expiry never expire.
func (it *Item) Expired(now time.Time) bool {
	return it.ExpiresAt != nil && now.After(*it.ExpiresAt)
}
