// Package commandqueue provides lane-based task execution with FIFO ordering per lane.
//
// Invariants:
// - Tasks in the same lane execute in FIFO order.
// - Tasks in different lanes may execute concurrently.
// - A caller whose context is cancelled stops waiting; the task still runs
//   with the cancelled context so lane order is preserved.
//
// The agent runner uses one lane per session so turns of the same
// conversation never interleave:
//
//	queue := commandqueue.New()
//	defer queue.Close()
//	result, err := queue.EnqueueWithContext(ctx, "session:abc", func(ctx context.Context) (any, error) {
//		return "ok", nil
//	}, nil)
package commandqueue
