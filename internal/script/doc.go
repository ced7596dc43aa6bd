// Package script implements the task-supervision core of mudlark.
//
// A Script is one running automation script: a cancellable unit of work that
// owns its line buffers, its watch table, its lifecycle flags, and its
// shutdown protocol. The Registry tracks every live Script under a shared
// lock and layers the supervision surface (find, pause, kill, atomic
// sections) on top.
//
// Concurrency model:
//   - Each Script body runs on its own goroutine.
//   - Incoming protocol lines are pushed into per-script buffers by the
//     dispatch package; buffer consumption blocks on a channel wakeup, never
//     on interval polling.
//   - Watch matches spawn detached reactive tasks tracked in the owning
//     script's child-task set and reaped during that script's shutdown.
//   - Cancellation is context-based and masked during a short activation
//     prologue; a kill arriving before the script arms is held and delivered
//     at the arming point.
//
// Failures are contained at the smallest enclosing unit of concurrency: a
// body error terminates only its own script, and watch-action or
// exit-callback errors are isolated and reported individually.
package script
