// Package engine composes the store, queue, and connectivity tracker into
// the single facade the application depends on.
//
// The engine caches reads, queues writes made while offline, and reconciles
// the queue with the backend when connectivity returns. Sync runs are
// mutually exclusive: at most one drain is active process-wide, enforced by
// the tracker's syncing overlay, and a sync is refused outright while
// offline. Neither refusal is an error; both come back as a normal Result
// with Success set to false.
//
// The engine, like the store and queue, never lets internal failures escape
// to the caller as errors: cache operations degrade to false or nil, sync
// outcomes are Results, and only invalid arguments error. UI code should
// never need error handling for routine offline conditions.
//
// Construct exactly one engine at application start with explicit
// dependencies and share it:
//
//	st, _ := store.Open(store.Config{Dir: dataDir})
//	q := queue.New(st, queue.DefaultConfig())
//	tr := connectivity.New(connectivity.Config{Probe: probe, InitialOnline: true})
//	eng := engine.New(st, q, tr, engine.Config{})
//	if err := eng.Start(ctx); err != nil {
//	    return err
//	}
//	defer eng.Stop()
package engine
