// Package queue implements the durable deferred-action queue.
//
// An action is one not-yet-delivered HTTP mutation (a contact form, an
// activity booking, a profile edit) captured while the application was
// offline or chose to defer the call. Actions are persisted through the
// store before Enqueue returns, so they survive a process restart; the
// optional success/error callbacks are held only in memory and are lost on
// restart by design.
//
// Ordering is the queue's core contract: ListPending returns actions sorted
// by priority (high before medium before low) and FIFO within a priority
// tier. DrainAll walks that order exactly once per pass, guarded by a
// single-flight flag, and never retries an action twice in the same pass.
//
// An action leaves the store only on a 2xx response or after exhausting its
// retry budget, and exhaustion always resolves the action's error callback.
// Nothing is dropped silently.
//
// Example:
//
//	q := queue.New(st, queue.DefaultConfig())
//	id, err := q.Enqueue(ctx, queue.KindAPICall, "/api/contact", http.MethodPost,
//	    contactForm, &queue.Options{
//	        Priority: queue.PriorityHigh,
//	        OnSuccess: func(status int, body json.RawMessage) {
//	            log.Printf("delivered: %d", status)
//	        },
//	    })
package queue
