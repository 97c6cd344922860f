// Package lazywriter implements the background flush engine of a file cache
// manager.
//
// It periodically scans every cached stream that carries dirty pages,
// decides which of them to flush this tick, dispatches the flush work to a
// small pool of worker goroutines, and drives deferred work and
// caller-requested barriers to completion. The engine is the process-wide
// counterpart to a cache manager's synchronous write path: writers mark
// pages dirty and move on, and this package is responsible for eventually
// getting that data to stable storage without blocking them.
//
// Design:
//
//   - A [LazyWriter] owns exactly one dirty-stream inventory (an intrusive
//     doubly-linked list with an embedded cursor sentinel), one entry pool,
//     three work queues (express, regular, post-tick), and one worker pool.
//     There is normally one LazyWriter per process.
//   - The scan (one tick) computes a page budget from the current dirtying
//     rate, walks the inventory starting from the cursor, and dispatches
//     WriteBehind jobs for eligible streams before moving the cursor to mark
//     where the next tick resumes.
//   - The lazy writer never performs I/O itself. It consumes a
//     [Collaborator] implementation for write-behind, read-ahead, deferred
//     write draining, and write admission control.
package lazywriter
