package handlers

import (
	"sync"

	"github.com/chanwatch/chanwatch"
)

// EventKind discriminates the events emitted by [Memory].
type EventKind string

const (
	// EventPost is emitted for every delivered post.
	EventPost EventKind = "post"
	// EventPruned is emitted when a thread is finalized.
	EventPruned EventKind = "pruned"
	// EventImage is emitted for every verified image.
	EventImage EventKind = "image"
)

// Event is a single sink notification delivered to subscribers.
type Event struct {
	Kind     EventKind
	ThreadID int64

	// Post is set for EventPost events.
	Post *chanwatch.Post

	// Filename and Size are set for EventImage events. Image bytes are
	// not carried on events; use [Memory.Image] to read them.
	Filename string
	Size     int
}

// Memory is an in-memory sink with a publish-subscribe mechanism for live
// updates.
//
// Posts are kept per thread in delivery order until the thread is pruned;
// pruned threads move to a finished set that can be drained with
// [Memory.TakeFinished]. Subscribers receive every sink call as an [Event]
// via buffered channels (buffer size 100). Notification is non-blocking:
// a subscriber whose buffer is full misses that event rather than
// stalling the watcher.
type Memory struct {
	mu       sync.RWMutex
	active   map[int64][]chanwatch.Post
	finished map[int64][]chanwatch.Post
	images   map[int64]map[string][]byte

	subMu       sync.RWMutex
	subscribers map[chan Event]struct{}
}

// NewMemory creates an empty [Memory] sink.
func NewMemory() *Memory {
	return &Memory{
		active:      make(map[int64][]chanwatch.Post),
		finished:    make(map[int64][]chanwatch.Post),
		images:      make(map[int64]map[string][]byte),
		subscribers: make(map[chan Event]struct{}),
	}
}

// Post appends the post to the thread's buffer and notifies subscribers.
func (m *Memory) Post(threadID int64, post chanwatch.Post) error {
	m.mu.Lock()
	m.active[threadID] = append(m.active[threadID], post)
	m.mu.Unlock()

	p := post
	m.notify(Event{Kind: EventPost, ThreadID: threadID, Post: &p})
	return nil
}

// Pruned moves the thread to the finished set and notifies subscribers.
func (m *Memory) Pruned(threadID int64) error {
	m.mu.Lock()
	if posts, ok := m.active[threadID]; ok {
		m.finished[threadID] = posts
		delete(m.active, threadID)
	}
	m.mu.Unlock()

	m.notify(Event{Kind: EventPruned, ThreadID: threadID})
	return nil
}

// Img stores the image bytes and notifies subscribers.
func (m *Memory) Img(threadID int64, filename string, data []byte) error {
	m.mu.Lock()
	if m.images[threadID] == nil {
		m.images[threadID] = make(map[string][]byte)
	}
	m.images[threadID][filename] = data
	m.mu.Unlock()

	m.notify(Event{Kind: EventImage, ThreadID: threadID, Filename: filename, Size: len(data)})
	return nil
}

// ShouldFetch approves any image not already stored.
func (m *Memory) ShouldFetch(threadID int64, filename string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.images[threadID][filename]
	return !ok
}

// Posts returns a snapshot of the live thread's posts in delivery order.
func (m *Memory) Posts(threadID int64) []chanwatch.Post {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]chanwatch.Post(nil), m.active[threadID]...)
}

// Image returns the stored bytes for a verified image, or nil.
func (m *Memory) Image(threadID int64, filename string) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.images[threadID][filename]
}

// TakeFinished removes and returns a pruned thread's posts. The second
// return is false if the thread is not in the finished set.
func (m *Memory) TakeFinished(threadID int64) ([]chanwatch.Post, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	posts, ok := m.finished[threadID]
	if ok {
		delete(m.finished, threadID)
	}
	return posts, ok
}

// Subscribe returns a channel receiving every subsequent sink event.
//
// The channel has a buffer of 100 events; if the buffer fills, events are
// dropped for that subscriber. Call [Memory.Unsubscribe] when done to
// release the subscription.
func (m *Memory) Subscribe() <-chan Event {
	ch := make(chan Event, 100)

	m.subMu.Lock()
	m.subscribers[ch] = struct{}{}
	m.subMu.Unlock()

	return ch
}

// Unsubscribe removes a subscription and closes its channel. Safe to call
// with a channel that was already unsubscribed.
func (m *Memory) Unsubscribe(ch <-chan Event) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for sub := range m.subscribers {
		if sub == ch {
			delete(m.subscribers, sub)
			close(sub)
			break
		}
	}
}

// notify fans the event out to all subscribers without blocking.
func (m *Memory) notify(ev Event) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	for ch := range m.subscribers {
		select {
		case ch <- ev:
		default:
			// subscriber is slow, drop the event
		}
	}
}
