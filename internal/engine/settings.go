package engine

import "time"

// settingsKey is the store id the persisted settings live under, inside
// store.PartitionSettings.
const settingsKey = "offline"

// Settings controls the engine's background behavior. Loaded from the store
// at Start, mutable at runtime through UpdateSettings.
type Settings struct {
	// AutoSync enables the periodic sync timer while online.
	AutoSync bool `json:"auto_sync"`

	// SyncInterval is the period of the auto-sync timer.
	SyncInterval time.Duration `json:"sync_interval"`

	// MaxCacheAge is the default TTL applied by CacheData when the caller
	// doesn't pass one.
	MaxCacheAge time.Duration `json:"max_cache_age"`

	// EnableNotifications gates the passive offline notification.
	EnableNotifications bool `json:"enable_notifications"`
}

// DefaultSettings returns the settings applied on first run.
func DefaultSettings() Settings {
	return Settings{
		AutoSync:            true,
		SyncInterval:        5 * time.Minute,
		MaxCacheAge:         24 * time.Hour,
		EnableNotifications: true,
	}
}

// SettingsUpdate is a partial settings change; nil fields keep their
// current value.
type SettingsUpdate struct {
	AutoSync            *bool
	SyncInterval        *time.Duration
	MaxCacheAge         *time.Duration
	EnableNotifications *bool
}

// apply merges the update into s and reports whether the auto-sync timer
// needs a restart.
func (s *Settings) apply(u SettingsUpdate) (timerChanged bool) {
	if u.AutoSync != nil && *u.AutoSync != s.AutoSync {
		s.AutoSync = *u.AutoSync
		timerChanged = true
	}
	if u.SyncInterval != nil && *u.SyncInterval != s.SyncInterval {
		s.SyncInterval = *u.SyncInterval
		timerChanged = true
	}
	if u.MaxCacheAge != nil {
		s.MaxCacheAge = *u.MaxCacheAge
	}
	if u.EnableNotifications != nil {
		s.EnableNotifications = *u.EnableNotifications
	}
	return timerChanged
}
