package handlers

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/chanwatch/chanwatch"
)

// dateDir returns the YYYYMMDD directory name for now.
func dateDir(now time.Time) string {
	return now.Format("20060102")
}

// File writes threads to the filesystem.
//
// Posts are held in memory while a thread is live and flushed to
// <root>/<date>/<thread>/<thread>.json when the thread is pruned. Verified
// images are written into the thread's directory as they arrive. The date
// is the day the thread was first seen.
//
// Because live threads are buffered, an abrupt shutdown loses threads that
// were never pruned. Images are not affected; they hit disk immediately.
type File struct {
	root string

	mu      sync.Mutex
	buffers map[int64][]json.RawMessage
	dirs    map[int64]string
	now     func() time.Time
}

// NewFile creates a [File] rooted at dir, creating it if necessary.
func NewFile(dir string) (*File, error) {
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create file sink root: %w", err)
	}
	return &File{
		root:    dir,
		buffers: make(map[int64][]json.RawMessage),
		dirs:    make(map[int64]string),
		now:     time.Now,
	}, nil
}

// threadDir returns (and records) the directory for a thread, creating it
// on first use. Caller holds f.mu.
func (f *File) threadDir(threadID int64) (string, error) {
	if dir, ok := f.dirs[threadID]; ok {
		return dir, nil
	}
	dir := filepath.Join(f.root, dateDir(f.now()), strconv.FormatInt(threadID, 10))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create thread dir: %w", err)
	}
	f.dirs[threadID] = dir
	return dir, nil
}

// Post buffers the post's raw JSON for the thread's eventual flush.
func (f *File) Post(threadID int64, post chanwatch.Post) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := f.threadDir(threadID); err != nil {
		return err
	}
	raw := post.Raw
	if raw == nil {
		// Synthesized posts (tests, embedders) may lack the original
		// document; fall back to re-encoding.
		encoded, err := json.Marshal(post)
		if err != nil {
			return fmt.Errorf("encode post %d: %w", post.No, err)
		}
		raw = encoded
	}
	f.buffers[threadID] = append(f.buffers[threadID], raw)
	return nil
}

// Pruned flushes the buffered thread to <dir>/<thread>.json and drops it
// from memory. A thread with no buffered posts is a no-op; this covers the
// race where a thread is pruned between appearing in the index and its
// first successful detail fetch.
func (f *File) Pruned(threadID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	posts, ok := f.buffers[threadID]
	if !ok {
		return nil
	}
	dir := f.dirs[threadID]

	doc, err := json.Marshal(struct {
		Posts []json.RawMessage `json:"posts"`
	}{Posts: posts})
	if err != nil {
		return fmt.Errorf("encode thread %d: %w", threadID, err)
	}

	path := filepath.Join(dir, strconv.FormatInt(threadID, 10)+".json")
	if err := os.WriteFile(path, doc, 0o644); err != nil {
		return fmt.Errorf("write thread %d: %w", threadID, err)
	}

	delete(f.buffers, threadID)
	delete(f.dirs, threadID)
	return nil
}

// Img writes verified image bytes into the thread's directory.
func (f *File) Img(threadID int64, filename string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	dir, err := f.threadDir(threadID)
	if err != nil {
		return err
	}
	// filename comes from upstream; keep only its base to stay inside
	// the thread directory.
	path := filepath.Join(dir, filepath.Base(filename))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write image %s: %w", filename, err)
	}
	return nil
}

// ShouldFetch reports whether the image is absent from the thread's
// directory, which makes resumed runs skip files already on disk.
func (f *File) ShouldFetch(threadID int64, filename string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	dir, ok := f.dirs[threadID]
	if !ok {
		return true
	}
	_, err := os.Stat(filepath.Join(dir, filepath.Base(filename)))
	return os.IsNotExist(err)
}
