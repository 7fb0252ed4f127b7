// Package chanwatch provides a streaming watcher for imageboard discussion
// feeds exposed as a paginated JSON index plus per-thread JSON documents.
//
// A [Watcher] polls a board's thread index, spawns an internal per-thread
// poller for every newly listed thread, and forwards new posts (and,
// optionally, checksum-verified images) to a pluggable [Handler] sink.
// Each post is delivered at most once per thread; when the upstream
// reports a thread gone (HTTP 404), the sink is finalized exactly once via
// [Handler.Pruned] and the thread's poller stops.
//
// # Quick Start
//
// Create a sink, a watcher, and start it with signal-driven shutdown:
//
//	sink, _ := handlers.NewFile("/var/lib/chanwatch/g")
//	w, _ := chanwatch.New(sink, "g", chanwatch.WithImages())
//
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	w.Start(ctx) // blocks until context is cancelled
//
// # Configuration
//
// Watchers are configured with the functional options pattern:
//
//	w, err := chanwatch.New(sink, "g",
//	    chanwatch.WithInterval(30 * time.Second),
//	    chanwatch.WithImages(),
//	    chanwatch.WithLogger(logger),
//	)
//
// # Failure model
//
// Transient upstream failures (network errors, non-200 responses,
// malformed bodies) are swallowed and retried at the normal cadence; they
// never surface to the caller. Only a 404 on a thread is terminal, and only
// for that thread. A sink error aborts the affected thread's current cycle
// without marking the failed post delivered, so it is retried next poll.
//
// # Architecture
//
// All watcher state lives on a single cooperative scheduler goroutine
// (internal/loop); network fetches run asynchronously (internal/fetch) and
// only their completion handlers touch state. Handler implementations are
// therefore called serially and need no locking of their own. Sinks for
// common destinations live in the handlers subpackage:
//
//   - handlers.File: per-thread JSON dumps plus image files on disk
//   - handlers.SQLite: daily-rotating SQLite database of posts
//   - handlers.Memory: in-memory sink with live event subscription
package chanwatch
