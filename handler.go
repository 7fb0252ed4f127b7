package chanwatch

// Handler is the sink contract: the destination for everything the
// watchers observe.
//
// All four methods are invoked from the scheduler loop goroutine, one call
// at a time, so implementations need no internal locking to be used by a
// single [Watcher]. Calls may interleave across threads in arbitrary
// order; within one thread, posts arrive in document order and Pruned is
// always last.
//
// Implementations must not block: a stalled handler stalls every poller.
// Long-running work should be dispatched to a separate goroutine.
//
// Deduplication is the watcher's job, not the sink's: Post is called at
// most once per (thread, post number), Img at most once per (thread,
// filename), and Pruned exactly once per thread.
type Handler interface {
	// Post records a newly observed post. Returning an error aborts the
	// remainder of that thread's poll cycle; the post is not marked
	// delivered and will be offered again on the next poll.
	Post(threadID int64, post Post) error

	// Pruned finalizes a thread after the upstream reports it gone.
	// No further Post or Img calls follow for that thread. An error is
	// logged but does not resurrect the thread.
	Pruned(threadID int64) error

	// Img persists verified image bytes. The data already passed the
	// checksum comparison. Returning an error leaves the filename
	// eligible for a retry on a later poll.
	Img(threadID int64, filename string, data []byte) error

	// ShouldFetch reports whether an image fetch should be attempted,
	// letting durable sinks skip files they already hold (resume after
	// restart).
	ShouldFetch(threadID int64, filename string) bool
}
