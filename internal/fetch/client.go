// Package fetch provides the asynchronous HTTP client used by the watchers.
//
// Requests run on their own goroutines; completions are delivered back on
// the scheduler loop so response handling stays serialized with the rest of
// the watcher state machine.
package fetch

import (
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/chanwatch/chanwatch/internal/loop"
)

const defaultUserAgent = "chanwatch/1.0"

// Result holds the outcome of a fetch.
//
// Errors are captured in the Err field rather than returned separately,
// mirroring how the watchers treat transport failures: as data to inspect,
// not as conditions to propagate.
type Result struct {
	// StatusCode is the HTTP status code. Zero if the request failed
	// before a response was received.
	StatusCode int

	// Body is the full response body.
	Body []byte

	// LastModified is the Last-Modified response header, verbatim, for
	// use as the next conditional request's If-Modified-Since value.
	// Empty if the server did not send one.
	LastModified string

	// Err is any transport-level error. A non-2xx status is not an Err.
	Err error
}

// Client issues asynchronous GETs bound to a scheduler loop.
//
// Client is the Go rendering of an event-loop-bound async HTTP client: the
// request runs on its own goroutine and the callback runs on the loop.
type Client struct {
	rc   *resty.Client
	loop *loop.Loop
}

// NewClient creates a Client whose completions are posted to l.
//
// No global request timeout is set; a hung fetch simply delays its
// caller's next cycle. The transport's own limits still apply.
func NewClient(l *loop.Loop) *Client {
	rc := resty.New().
		SetHeader("User-Agent", defaultUserAgent).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(5))
	return &Client{rc: rc, loop: l}
}

// Get fetches url and invokes cb with the result on the loop goroutine.
//
// If ifModifiedSince is non-empty it is sent as the If-Modified-Since
// request header. Get never blocks the caller.
func (c *Client) Get(url, ifModifiedSince string, cb func(Result)) {
	go func() {
		req := c.rc.R()
		if ifModifiedSince != "" {
			req.SetHeader("If-Modified-Since", ifModifiedSince)
		}

		resp, err := req.Get(url)

		var res Result
		if err != nil {
			res.Err = err
		} else {
			res.StatusCode = resp.StatusCode()
			res.Body = resp.Body()
			res.LastModified = resp.Header().Get("Last-Modified")
		}
		c.loop.Post(func() { cb(res) })
	}()
}

// HTTPDate formats t the way HTTP caching headers expect.
func HTTPDate(t time.Time) string {
	return t.UTC().Format(http.TimeFormat)
}
