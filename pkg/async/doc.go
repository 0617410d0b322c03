// Package async provides safe concurrent execution primitives for
// background work.
//
// SafeGo runs a function in a goroutine with panic recovery, a timeout,
// and context cancellation. The orchestrator uses it for best-effort
// identity compensation after a rolled-back provisioning attempt.
//
//	async.SafeGo(async.Detach(ctx), 10*time.Second, "identity compensation",
//	    func(ctx context.Context) error {
//	        return provider.Delete(ctx, identityID)
//	    })
//
// Detach strips cancellation from a request context so compensation
// survives the caller disconnecting.
//
// WorkerPool and Batch provide bounded-concurrency processing with error
// collection; the janitor drains its cleanup queue through Batch.
package async
