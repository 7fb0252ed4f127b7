package chanwatch

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/chanwatch/chanwatch/internal/fetch"
	"github.com/chanwatch/chanwatch/internal/loop"
)

// threadWatcher polls a single thread until the upstream reports it gone.
//
// All fields are owned by the scheduler loop: every method below runs on
// the loop goroutine, so there is no locking. A threadWatcher is in one of
// two states, working (polling) or stopped (terminal, after a 404).
type threadWatcher struct {
	handler Handler
	logger  *slog.Logger
	loop    *loop.Loop
	client  *fetch.Client

	id         int64
	url        string
	imageURL   string // base for image fetches, trailing slash included
	interval   time.Duration
	pullImages bool

	// delivered holds post numbers already handed to the sink; a post
	// number is never delivered twice, even if its content changes
	// upstream.
	delivered map[int64]struct{}
	// fetched holds image filenames successfully delivered via Img.
	// Failed or mismatched fetches are deliberately absent so they stay
	// eligible for retry.
	fetched map[string]struct{}
	// pending holds filenames with a fetch currently in flight, so one
	// image is not fetched twice concurrently.
	pending map[string]struct{}

	// lastModified is the conditional-request marker, in HTTP date
	// format. Initialized to the watcher's creation time; the very first
	// poll is unconditional in practice since the thread predates it.
	lastModified string

	working bool
}

// imageFetch carries a pending image request's identity through the async
// fetch so the completion handler gets it back explicitly.
type imageFetch struct {
	filename string
	checksum []byte
}

func newThreadWatcher(handler Handler, l *loop.Loop, client *fetch.Client, logger *slog.Logger,
	apiBase, imageBase, board string, id int64, pullImages bool, interval time.Duration) *threadWatcher {
	return &threadWatcher{
		handler:      handler,
		logger:       logger,
		loop:         l,
		client:       client,
		id:           id,
		url:          fmt.Sprintf("%s/%s/thread/%d.json", apiBase, board, id),
		imageURL:     fmt.Sprintf("%s/%s/", imageBase, board),
		interval:     interval,
		pullImages:   pullImages,
		delivered:    make(map[int64]struct{}),
		fetched:      make(map[string]struct{}),
		pending:      make(map[string]struct{}),
		lastModified: fetch.HTTPDate(time.Now()),
		working:      true,
	}
}

// poll issues the thread's conditional detail fetch.
func (t *threadWatcher) poll() {
	if !t.working {
		return
	}
	t.client.Get(t.url, t.lastModified, t.onDetail)
}

// onDetail handles a detail fetch completion.
//
// 404 is the terminal removal signal: the sink is finalized exactly once
// and polling stops. Everything else, including transport errors and
// malformed bodies, reschedules identically to "nothing changed".
func (t *threadWatcher) onDetail(res fetch.Result) {
	if !t.working {
		return
	}

	if res.Err == nil && res.StatusCode == http.StatusNotFound {
		t.working = false
		t.logger.Info("thread pruned", "thread", t.id, "posts", len(t.delivered))
		if err := t.safePruned(); err != nil {
			t.logger.Warn("sink failed to finalize thread", "thread", t.id, "error", err)
		}
		return
	}

	if res.Err == nil && res.StatusCode == http.StatusOK {
		posts, err := parseThread(res.Body)
		if err != nil {
			// The upstream occasionally serves a truncated or empty
			// body with a 200; treat it the same as unmodified, marker
			// included.
			t.logger.Debug("thread body unparsable, treating as unchanged", "thread", t.id, "error", err)
		} else {
			if res.LastModified != "" {
				t.lastModified = res.LastModified
			}
			before := len(t.delivered)
			t.deliver(posts)
			t.logger.Debug("thread polled",
				"thread", t.id,
				"posts", len(posts),
				"new", len(t.delivered)-before,
			)
		}
	} else if res.Err != nil {
		t.logger.Debug("thread fetch failed", "thread", t.id, "error", res.Err)
	}

	t.loop.After(t.interval, t.poll)
}

// deliver walks the parsed posts in document order, forwarding undelivered
// ones to the sink and scanning every post's attachment.
//
// A sink error aborts the rest of the cycle without marking the failed
// post delivered; the next poll retries it. Attachments are considered for
// all posts, not just new ones, so a failed image fetch from an earlier
// cycle is retried for as long as ShouldFetch keeps approving it.
func (t *threadWatcher) deliver(posts []Post) {
	for _, p := range posts {
		if _, done := t.delivered[p.No]; !done {
			if err := t.safePost(p); err != nil {
				t.logger.Warn("sink rejected post, retrying next poll",
					"thread", t.id, "post", p.No, "error", err)
				return
			}
			t.delivered[p.No] = struct{}{}
		}
		if t.pullImages && p.HasImage() {
			t.maybeFetchImage(p)
		}
	}
}

// maybeFetchImage starts an image fetch unless the file was already
// delivered, is currently in flight, or the sink declines it.
func (t *threadWatcher) maybeFetchImage(p Post) {
	filename := p.ImageFilename()
	if _, done := t.fetched[filename]; done {
		return
	}
	if _, inflight := t.pending[filename]; inflight {
		return
	}
	checksum, err := p.ImageChecksum()
	if err != nil {
		t.logger.Warn("unusable image checksum", "thread", t.id, "file", filename, "error", err)
		return
	}
	if !t.safeShouldFetch(filename) {
		return
	}

	t.pending[filename] = struct{}{}
	t.logger.Info("pulling image", "thread", t.id, "file", filename)
	req := imageFetch{filename: filename, checksum: checksum}
	t.client.Get(t.imageURL+filename, "", func(res fetch.Result) {
		t.onImage(req, res)
	})
}

// onImage handles an image fetch completion: verify, deliver, record.
// Any failure leaves the filename unrecorded so a later poll retries it.
func (t *threadWatcher) onImage(req imageFetch, res fetch.Result) {
	delete(t.pending, req.filename)
	if !t.working {
		return
	}
	if res.Err != nil || res.StatusCode != http.StatusOK {
		t.logger.Info("image fetch failed, eligible for retry",
			"thread", t.id, "file", req.filename, "status", res.StatusCode, "error", res.Err)
		return
	}
	if !checksumMatches(req.checksum, res.Body) {
		t.logger.Info("image checksum mismatch, discarding",
			"thread", t.id, "file", req.filename)
		return
	}
	if err := t.safeImg(req.filename, res.Body); err != nil {
		t.logger.Warn("sink rejected image, eligible for retry",
			"thread", t.id, "file", req.filename, "error", err)
		return
	}
	t.fetched[req.filename] = struct{}{}
}

// The safe* wrappers guard every sink invocation with panic recovery. A
// panicking handler is logged with a correlation ID and treated as a
// returned error, so it cannot corrupt the dedup state or kill the loop.

func (t *threadWatcher) safePost(p Post) (err error) {
	defer t.recoverHandler("post", &err)
	return t.handler.Post(t.id, p)
}

func (t *threadWatcher) safePruned() (err error) {
	defer t.recoverHandler("pruned", &err)
	return t.handler.Pruned(t.id)
}

func (t *threadWatcher) safeImg(filename string, data []byte) (err error) {
	defer t.recoverHandler("img", &err)
	return t.handler.Img(t.id, filename, data)
}

func (t *threadWatcher) safeShouldFetch(filename string) (ok bool) {
	var err error
	defer func() {
		if err != nil {
			ok = false
		}
	}()
	defer t.recoverHandler("should_fetch", &err)
	return t.handler.ShouldFetch(t.id, filename)
}

// recoverHandler converts a handler panic into an error carrying a
// correlation ID for the logged stack. It must be deferred directly.
func (t *threadWatcher) recoverHandler(op string, err *error) {
	if r := recover(); r != nil {
		correlationID := uuid.NewString()
		t.logger.Error("handler panic",
			"op", op,
			"thread", t.id,
			"correlation_id", correlationID,
			"panic", fmt.Sprintf("%v", r),
			"stack", string(debug.Stack()),
		)
		*err = fmt.Errorf("handler panic (correlation_id: %s)", correlationID)
	}
}
