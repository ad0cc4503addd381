// Package connectivity tracks the network state the offline engine reacts to.
//
// The tracker is a three-state machine: online, offline, and syncing. The
// first two mirror the live network state as reported by a Probe (or pushed
// in via SetNetworkState on platforms with native connectivity events).
// Syncing is a transient overlay entered only from online while a sync run
// is in progress; leaving it returns to whatever the live network state is
// at that moment, which may have become offline mid-run. There is no direct
// transition between offline and syncing.
//
// Subscribers are notified on every visible status change. A transition to
// offline optionally raises a passive notification through the configured
// Notifier.
package connectivity
