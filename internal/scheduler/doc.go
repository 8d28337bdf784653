// Package scheduler runs resize tasks on a small pool of isolated worker
// goroutines.
//
// The pool exists purely as a performance optimization: when no worker
// ever becomes ready, Submit returns ErrNoWorkers and the caller runs
// the same strategy on its own goroutine. Correctness never depends on
// the pool.
//
// # Lifecycle
//
// Each handle spawns a goroutine that runs its Worker's Init and then
// reports ready. A handle that does not become ready within the init
// timeout is torn down and removed from the pool. Pool size defaults to
// half the available parallelism clamped to [1,4]; a separate max-busy
// cap (two thirds of parallelism) leaves the caller's goroutine headroom
// even when the pool is larger.
//
// # Dispatch
//
// Tasks queue FIFO. On every state change the scheduler assigns
// min(queued, free ready handles, free concurrency slots) tasks, each
// with a fresh unique id and a per-task timeout started at dispatch.
// Workers reply with progress, complete, and error messages correlated
// on the id. A task settles exactly once; completions arriving after a
// timeout find no matching id and are discarded. A worker panic rejects
// its task with ErrWorkerCrash, removes the handle, and retries dispatch
// so other handles absorb the backlog.
//
// There is no mid-flight cancellation: the timeout settles the task and
// the handle returns to dispatch once its abandoned computation finally
// surfaces.
//
// All pool state is owned by a single scheduler goroutine; Submit, Wait,
// LoadAccelerator and Close communicate with it through messages.
package scheduler
