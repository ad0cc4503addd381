// Package store provides the durable key-value layer for the offline engine.
//
// Items are arbitrary JSON values addressed by a (partition, id) pair, with
// an optional expiry. Two backends implement the same contract:
//
//   - The structured backend is an embedded SQLite database (WAL mode) with
//     one row per item. It has no practical size ceiling and is preferred
//     whenever it can be opened, because the deferred-action queue can grow
//     large.
//
//   - The simple backend keeps one JSON envelope file per key under a flat
//     data directory, with a hard total-size ceiling of a few megabytes. It
//     exists as a degraded mode for platforms where SQLite cannot run.
//
// Backend selection happens exactly once, at Open: the structured backend is
// tried first and, if it cannot be opened, the simple backend is selected for
// the life of the process. Callers never see the fallback happen.
//
// Expiry is lazy: an expired item is deleted as a side effect of being read,
// not by a background sweep. SweepExpired exists for an explicit pass at
// startup.
//
// Example:
//
//	st, err := store.Open(store.Config{Dir: ".furrow"})
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
//
//	_ = st.SetItem(ctx, store.PartitionCache, "activities:list", payload, 5*time.Minute)
//	data, _ := st.GetItem(ctx, store.PartitionCache, "activities:list")
package store
