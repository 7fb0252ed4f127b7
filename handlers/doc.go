// Package handlers provides ready-made sink implementations of the
// chanwatch.Handler contract.
//
//   - [File] buffers each thread in memory and flushes it to a JSON file
//     when the thread is pruned, writing verified images alongside.
//   - [SQLite] appends posts to a daily-rotating SQLite database.
//   - [Memory] keeps everything in memory and exposes a live event
//     subscription, mainly for tests and embedding.
//
// All handlers in this package are safe for concurrent use, so they can
// also be shared by watchers running on separate goroutines.
package handlers
