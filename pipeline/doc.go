// Package pipeline provides push-based, concurrent dataflow pipelines.
//
// A pipeline is a chain of stages connected by links. Every stage has a
// bounded inbound queue and its own workers, so stages run concurrently and
// a slow stage applies backpressure to the producer. Items flow from the
// head to a terminal action; completion and faults flow the same way.
//
// # Building
//
//	p, err := pipeline.Batch(
//	    pipeline.Create[string](pipeline.WithName("ingest")).
//	        Where(func(s string) bool { return s != "" }),
//	    100, time.Second,
//	).Build(func(ctx context.Context, batch []string) error {
//	    return store.Save(ctx, batch)
//	})
//
// Map transforms items, Where filters them, Batch groups them into slices
// flushed on size, inactivity timeout or shutdown, and Then appends any
// custom Stage. Build starts every stage.
//
// # Lifecycle
//
//	for _, line := range lines {
//	    if err := p.Send(ctx, line); err != nil {
//	        return err
//	    }
//	}
//	return p.Close(ctx)
//
// Close drains every stage and returns the first fault raised in the chain,
// or nil when the chain completed or was cancelled. A fault is reported to
// one Close caller only.
//
// # Correlation
//
// Wrap items in a Completable to learn when a specific item was handled:
//
//	p, _ := pipeline.Create[*pipeline.Completable[Order]]().
//	    Build(func(ctx context.Context, c *pipeline.Completable[Order]) error {
//	        err := process(ctx, c.Value)
//	        if err != nil {
//	            c.Fail(err)
//	            return nil
//	        }
//	        c.Complete()
//	        return nil
//	    })
//	err := pipeline.SendAndWait(ctx, p, order)
//
// Completables still pending when the pipeline stops are failed with a
// PIPELINE_SHUTDOWN fault, so a waiter never hangs on a dead pipeline.
package pipeline
