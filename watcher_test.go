package chanwatch

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chanwatch/chanwatch/internal/fetch"
)

// deadServer returns a server that 404s everything, so spawned thread
// watchers' first fetches resolve quickly and harmlessly in tests that
// drive the board cycle by hand.
func deadServer(t *testing.T) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	t.Cleanup(ts.Close)
	return ts
}

// newTestWatcher builds a watcher whose board cycles are driven directly
// by the test; its loop is never started.
func newTestWatcher(t *testing.T, h Handler, base string) *Watcher {
	t.Helper()
	w, err := New(h, "b",
		WithAPIBase(base),
		WithImageBase(base),
		WithInterval(time.Hour),
		WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return w
}

func indexBody(ids ...int64) []byte {
	body := `[{"page":1,"threads":[`
	for i, id := range ids {
		if i > 0 {
			body += ","
		}
		body += fmt.Sprintf(`{"no":%d}`, id)
	}
	return []byte(body + `]}]`)
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, "b"); err == nil {
		t.Error("New(nil handler) error = nil, want error")
	}
	if _, err := New(newRecordingHandler(), ""); err == nil {
		t.Error("New(empty board) error = nil, want error")
	}
	if _, err := New(newRecordingHandler(), "b", WithInterval(0)); err == nil {
		t.Error("New(zero interval) error = nil, want error")
	}
	if _, err := New(newRecordingHandler(), "b", WithLogger(nil)); err == nil {
		t.Error("New(nil logger) error = nil, want error")
	}
	if _, err := New(newRecordingHandler(), "b", WithAPIBase("")); err == nil {
		t.Error("New(empty api base) error = nil, want error")
	}
}

func TestWatcher_Accessors(t *testing.T) {
	w := newTestWatcher(t, newRecordingHandler(), deadServer(t).URL)
	if w.Board() != "b" {
		t.Errorf("Board() = %q, want b", w.Board())
	}
	if w.Interval() != time.Hour {
		t.Errorf("Interval() = %s, want 1h", w.Interval())
	}
}

// TestWatcher_SpawnsOnlyNewThreads verifies the index diff: a second
// cycle listing {2,3,4} after {1,2,3} spawns exactly one watcher, for 4.
func TestWatcher_SpawnsOnlyNewThreads(t *testing.T) {
	w := newTestWatcher(t, newRecordingHandler(), deadServer(t).URL)

	w.onIndex(fetch.Result{StatusCode: http.StatusOK, Body: indexBody(1, 2, 3)})
	if len(w.threads) != 3 {
		t.Fatalf("after cycle 1, %d watchers, want 3", len(w.threads))
	}
	watcher2 := w.threads[2]

	w.onIndex(fetch.Result{StatusCode: http.StatusOK, Body: indexBody(2, 3, 4)})
	if len(w.threads) != 4 {
		t.Fatalf("after cycle 2, %d watchers, want 4", len(w.threads))
	}
	if _, ok := w.threads[4]; !ok {
		t.Error("no watcher spawned for new thread 4")
	}
	if w.threads[2] != watcher2 {
		t.Error("thread 2's watcher was replaced; duplicate spawn")
	}
}

// TestWatcher_ReapsStoppedThreads verifies stopped watchers are dropped at
// the next board cycle.
func TestWatcher_ReapsStoppedThreads(t *testing.T) {
	w := newTestWatcher(t, newRecordingHandler(), deadServer(t).URL)

	w.onIndex(fetch.Result{StatusCode: http.StatusOK, Body: indexBody(1, 2, 3)})
	w.threads[2].working = false

	w.onIndex(fetch.Result{StatusCode: http.StatusOK, Body: indexBody(1, 2, 3)})
	if _, ok := w.threads[2]; ok {
		t.Error("stopped watcher for thread 2 was not reaped")
	}
	if len(w.threads) != 2 {
		t.Errorf("%d watchers, want 2", len(w.threads))
	}
}

// TestWatcher_RespawnsReturnedThread verifies an ID that left the index
// and returned after its watcher stopped is tracked as brand-new.
func TestWatcher_RespawnsReturnedThread(t *testing.T) {
	w := newTestWatcher(t, newRecordingHandler(), deadServer(t).URL)

	w.onIndex(fetch.Result{StatusCode: http.StatusOK, Body: indexBody(1, 2)})
	w.onIndex(fetch.Result{StatusCode: http.StatusOK, Body: indexBody(1)})
	w.threads[2].working = false

	w.onIndex(fetch.Result{StatusCode: http.StatusOK, Body: indexBody(1, 2)})
	tw, ok := w.threads[2]
	if !ok {
		t.Fatal("returned thread 2 was not respawned")
	}
	if !tw.working {
		t.Error("respawned watcher is not active")
	}
}

// TestWatcher_KeepsActiveWatcherOnReturn verifies an ID that left the
// index and returned while its watcher is still active does not get a
// duplicate watcher.
func TestWatcher_KeepsActiveWatcherOnReturn(t *testing.T) {
	w := newTestWatcher(t, newRecordingHandler(), deadServer(t).URL)

	w.onIndex(fetch.Result{StatusCode: http.StatusOK, Body: indexBody(1, 2)})
	original := w.threads[2]

	w.onIndex(fetch.Result{StatusCode: http.StatusOK, Body: indexBody(1)})
	w.onIndex(fetch.Result{StatusCode: http.StatusOK, Body: indexBody(1, 2)})

	if w.threads[2] != original {
		t.Error("active watcher for returned thread 2 was replaced")
	}
}

// TestWatcher_BadIndexSkipsCycle verifies error and malformed index
// responses leave the tracking state untouched.
func TestWatcher_BadIndexSkipsCycle(t *testing.T) {
	w := newTestWatcher(t, newRecordingHandler(), deadServer(t).URL)

	w.onIndex(fetch.Result{StatusCode: http.StatusOK, Body: indexBody(1, 2)})

	w.onIndex(fetch.Result{StatusCode: http.StatusInternalServerError})
	w.onIndex(fetch.Result{Err: fmt.Errorf("connection refused")})
	w.onIndex(fetch.Result{StatusCode: http.StatusOK, Body: []byte(`not json`)})

	if len(w.threads) != 2 {
		t.Errorf("%d watchers after bad cycles, want 2", len(w.threads))
	}
	if len(w.prev) != 2 {
		t.Errorf("previous snapshot has %d ids after bad cycles, want 2", len(w.prev))
	}

	// tracking resumes on the next good cycle
	w.onIndex(fetch.Result{StatusCode: http.StatusOK, Body: indexBody(1, 2, 3)})
	if len(w.threads) != 3 {
		t.Errorf("%d watchers after recovery, want 3", len(w.threads))
	}
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timeout waiting for: " + msg)
}

// TestWatcher_EndToEnd runs the whole engine against a scripted upstream:
// thread 42 grows from two posts to three, then gets pruned.
func TestWatcher_EndToEnd(t *testing.T) {
	var detailCalls atomic.Int64
	var pruneNow atomic.Bool

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/b/threads.json":
			_, _ = w.Write(indexBody(42))
		case "/b/thread/42.json":
			if pruneNow.Load() {
				http.NotFound(w, r)
				return
			}
			w.Header().Set("Last-Modified", fetch.HTTPDate(time.Now()))
			if detailCalls.Add(1) == 1 {
				_, _ = w.Write(detailBody(1, 2))
			} else {
				_, _ = w.Write(detailBody(1, 2, 3))
			}
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	h := newRecordingHandler()
	w, err := New(h, "b",
		WithAPIBase(ts.URL),
		WithImageBase(ts.URL),
		WithInterval(20*time.Millisecond),
		WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = w.Start(ctx)
		close(done)
	}()

	waitFor(t, 2*time.Second, func() bool {
		return equalNos(h.postNos(), []int64{1, 2, 3})
	}, "posts 1,2,3 delivered in order without duplicates")

	pruneNow.Store(true)
	waitFor(t, 2*time.Second, func() bool {
		return h.prunedCount(42) == 1
	}, "thread 42 pruned")

	// no deliveries or re-finalizations after the prune
	time.Sleep(60 * time.Millisecond)
	if got := h.postNos(); !equalNos(got, []int64{1, 2, 3}) {
		t.Errorf("posts after prune = %v, want [1 2 3]", got)
	}
	if n := h.prunedCount(42); n != 1 {
		t.Errorf("pruned called %d times, want 1", n)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after context cancellation")
	}
}

// TestWatcher_EndToEndImageRetry runs the checksum-mismatch scenario: the
// first image fetch returns corrupted bytes and is discarded; a later
// poll retries and the verified bytes are delivered exactly once.
func TestWatcher_EndToEndImageRetry(t *testing.T) {
	good := []byte("good image content")
	sum := md5.Sum(good)

	var imageCalls atomic.Int64
	detail := fmt.Sprintf(`{"posts":[{"no":1,"tim":500,"ext":".jpg","md5":%q}]}`,
		base64.StdEncoding.EncodeToString(sum[:]))

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/b/threads.json":
			_, _ = w.Write(indexBody(42))
		case "/b/thread/42.json":
			w.Header().Set("Last-Modified", fetch.HTTPDate(time.Now()))
			_, _ = w.Write([]byte(detail))
		case "/b/500.jpg":
			if imageCalls.Add(1) == 1 {
				_, _ = w.Write([]byte("corrupted"))
			} else {
				_, _ = w.Write(good)
			}
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	h := newRecordingHandler()
	w, err := New(h, "b",
		WithAPIBase(ts.URL),
		WithImageBase(ts.URL),
		WithImages(),
		WithInterval(20*time.Millisecond),
		WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Start(ctx) }()

	waitFor(t, 2*time.Second, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return string(h.images["500.jpg"]) == string(good)
	}, "verified image delivered after retry")

	if imageCalls.Load() < 2 {
		t.Errorf("image fetched %d times, want at least 2 (mismatch then retry)", imageCalls.Load())
	}

	// the delivered filename is never fetched or delivered again
	time.Sleep(80 * time.Millisecond)
	h.mu.Lock()
	calls := h.imgCalls
	h.mu.Unlock()
	if calls != 1 {
		t.Errorf("Img called %d times, want exactly 1", calls)
	}
}
