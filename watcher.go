package chanwatch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/chanwatch/chanwatch/internal/fetch"
	"github.com/chanwatch/chanwatch/internal/loop"
)

const (
	defaultInterval  = 60 * time.Second
	defaultAPIBase   = "https://a.4cdn.org"
	defaultImageBase = "https://i.4cdn.org"
)

// Watcher polls a board's index, spawning a thread watcher for every newly
// listed thread and reaping watchers whose threads have been pruned.
//
// Created with [New] and started with [Watcher.Start]. The typical
// lifecycle:
//
//	w, err := chanwatch.New(sink, "g", chanwatch.WithImages())
//	if err != nil {
//	    slog.Error("failed to create watcher", "error", err)
//	    os.Exit(1)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	w.Start(ctx) // blocks until context cancelled
//
// Cancelling the context stops the watcher abruptly; there is no draining
// shutdown. Sinks that buffer per-thread state should flush incrementally
// to bound loss.
type Watcher struct {
	handler    Handler
	board      string
	interval   time.Duration
	pullImages bool
	apiBase    string
	imageBase  string
	logger     *slog.Logger

	loop   *loop.Loop
	client *fetch.Client

	// prev is the board index snapshot from the previous cycle, fully
	// replaced each successful cycle. threads is the poller population,
	// keyed by thread ID. Both are owned by the loop goroutine.
	prev    map[int64]struct{}
	threads map[int64]*threadWatcher
}

// New creates a [Watcher] for the given board, forwarding everything it
// observes to handler.
//
// Defaults: 60 second polling interval, image fetching disabled, the
// public upstream hosts, [slog.Default] for logging. All of these can be
// changed with options.
func New(handler Handler, board string, opts ...Option) (*Watcher, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	if board == "" {
		return nil, fmt.Errorf("board is required")
	}

	cfg := &watcherConfig{
		interval:  defaultInterval,
		apiBase:   defaultAPIBase,
		imageBase: defaultImageBase,
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	l := loop.New()
	return &Watcher{
		handler:    handler,
		board:      board,
		interval:   cfg.interval,
		pullImages: cfg.pullImages,
		apiBase:    cfg.apiBase,
		imageBase:  cfg.imageBase,
		logger:     logger,
		loop:       l,
		client:     fetch.NewClient(l),
		prev:       make(map[int64]struct{}),
		threads:    make(map[int64]*threadWatcher),
	}, nil
}

// Start begins watching the board. It blocks until ctx is cancelled.
//
// The first board poll is issued immediately; subsequent polls follow at
// the configured interval. Thread watchers run on their own cadence
// between board cycles.
func (w *Watcher) Start(ctx context.Context) error {
	w.logger.Info("watcher starting",
		"board", w.board,
		"interval", w.interval.String(),
		"images", w.pullImages,
	)

	w.loop.Post(w.pollBoard)
	w.loop.Run(ctx)

	w.logger.Info("watcher stopped", "board", w.board, "threads", len(w.threads))
	return nil
}

// Board returns the board identifier this watcher tracks.
func (w *Watcher) Board() string {
	return w.board
}

// Interval returns the configured polling interval.
func (w *Watcher) Interval() time.Duration {
	return w.interval
}

func (w *Watcher) indexURL() string {
	return fmt.Sprintf("%s/%s/threads.json", w.apiBase, w.board)
}

// pollBoard issues the board index fetch.
func (w *Watcher) pollBoard() {
	w.client.Get(w.indexURL(), "", w.onIndex)
}

// onIndex handles a board index completion: reap finished watchers, diff
// the listed IDs against the previous snapshot, spawn watchers for new
// ones. A failed or unparsable index skips the diff for this cycle; the
// poll is rescheduled regardless.
func (w *Watcher) onIndex(res fetch.Result) {
	w.reap()

	switch {
	case res.Err != nil:
		w.logger.Debug("board index fetch failed", "board", w.board, "error", res.Err)
	case res.StatusCode != http.StatusOK:
		w.logger.Debug("board index fetch returned non-200", "board", w.board, "status", res.StatusCode)
	default:
		current, err := parseIndex(res.Body)
		if err != nil {
			w.logger.Info("board index unparsable, skipping cycle", "board", w.board, "error", err)
			break
		}
		w.spawnNew(current)
		w.prev = current
	}

	w.loop.After(w.interval, w.pollBoard)
}

// spawnNew starts a thread watcher for every ID in current that was not in
// the previous snapshot. An ID whose watcher is still active keeps its
// existing watcher even if the ID dropped out of the index and came back.
func (w *Watcher) spawnNew(current map[int64]struct{}) {
	spawned := 0
	for id := range current {
		if _, seen := w.prev[id]; seen {
			continue
		}
		if _, active := w.threads[id]; active {
			continue
		}
		tw := newThreadWatcher(w.handler, w.loop, w.client, w.logger,
			w.apiBase, w.imageBase, w.board, id, w.pullImages, w.interval)
		w.threads[id] = tw
		tw.poll()
		spawned++
	}
	if spawned > 0 {
		w.logger.Info("tracking new threads",
			"board", w.board,
			"new", spawned,
			"total", len(w.threads),
		)
	}
}

// reap drops stopped watchers from the population. Runs once per board
// cycle; removal is lazy, so a watcher that 404'd mid-cycle lingers until
// the next index poll.
func (w *Watcher) reap() {
	for id, tw := range w.threads {
		if !tw.working {
			delete(w.threads, id)
		}
	}
}
