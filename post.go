package chanwatch

import (
	"bytes"
	"crypto/md5"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
)

// Post is a single post inside a thread.
//
// The field set follows the upstream read-only JSON API. Only No is always
// present; everything else is optional. Raw preserves the post's original
// JSON document so sinks can persist the full payload without re-encoding
// losses.
type Post struct {
	// No is the post number, unique within the board.
	No int64 `json:"no"`

	// Resto is the post number this post replies to; 0 for a thread opener.
	Resto int64 `json:"resto"`

	Sticky   int    `json:"sticky"`
	Closed   int    `json:"closed"`
	Archived int    `json:"archived"`
	Now      string `json:"now"`
	Time     int64  `json:"time"`
	Name     string `json:"name"`
	Trip     string `json:"trip"`
	ID       string `json:"id"`
	Capcode  string `json:"capcode"`
	Country  string `json:"country"`
	// CountryName is the human-readable country the poster posted from.
	CountryName string `json:"country_name"`
	// Sub is the thread subject, Com the comment body (escaped HTML).
	Sub string `json:"sub"`
	Com string `json:"com"`

	// Tim is the upstream-assigned image name fragment (a timestamp).
	// Zero means the post carries no image.
	Tim      int64  `json:"tim"`
	Filename string `json:"filename"`
	Ext      string `json:"ext"`
	Fsize    int64  `json:"fsize"`
	// MD5 is the image checksum: base64 of the raw 16-byte MD5 digest.
	MD5         string `json:"md5"`
	W           int    `json:"w"`
	H           int    `json:"h"`
	TnW         int    `json:"tn_w"`
	TnH         int    `json:"tn_h"`
	FileDeleted int    `json:"filedeleted"`
	Spoiler     int    `json:"spoiler"`

	// Thread summary fields, only set on the opening post.
	Replies      int    `json:"replies"`
	Images       int    `json:"images"`
	BumpLimit    int    `json:"bumplimit"`
	ImageLimit   int    `json:"imagelimit"`
	LastModified int64  `json:"last_modified"`
	Tag          string `json:"tag"`
	SemanticURL  string `json:"semantic_url"`

	// Raw is the post's original JSON document, verbatim.
	Raw json.RawMessage `json:"-"`
}

// HasImage reports whether the post references an image attachment.
func (p Post) HasImage() bool {
	return p.Tim != 0 && p.Ext != ""
}

// ImageFilename returns the attachment's filename as served by the image
// host: the decimal name fragment followed by the extension.
func (p Post) ImageFilename() string {
	return strconv.FormatInt(p.Tim, 10) + p.Ext
}

// ImageChecksum decodes the expected MD5 digest from its transport
// encoding into raw bytes, ready for comparison against a freshly
// computed digest.
func (p Post) ImageChecksum() ([]byte, error) {
	sum, err := base64.StdEncoding.DecodeString(p.MD5)
	if err != nil {
		return nil, fmt.Errorf("decode image checksum: %w", err)
	}
	if len(sum) != md5.Size {
		return nil, fmt.Errorf("image checksum is %d bytes, want %d", len(sum), md5.Size)
	}
	return sum, nil
}

// checksumMatches reports whether data hashes to the expected raw digest.
func checksumMatches(expected, data []byte) bool {
	sum := md5.Sum(data)
	return bytes.Equal(expected, sum[:])
}

// threadDetail is the wire shape of a thread's detail document.
type threadDetail struct {
	Posts []json.RawMessage `json:"posts"`
}

// parseThread decodes a thread detail body into posts in document order,
// preserving each post's raw JSON.
func parseThread(body []byte) ([]Post, error) {
	var detail threadDetail
	if err := json.Unmarshal(body, &detail); err != nil {
		return nil, err
	}
	posts := make([]Post, 0, len(detail.Posts))
	for _, raw := range detail.Posts {
		var p Post
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		p.Raw = raw
		posts = append(posts, p)
	}
	return posts, nil
}

// indexPage is one page of the board index document.
type indexPage struct {
	Page    int `json:"page"`
	Threads []struct {
		No int64 `json:"no"`
	} `json:"threads"`
}

// parseIndex flattens the paginated board index into the set of currently
// listed thread IDs.
func parseIndex(body []byte) (map[int64]struct{}, error) {
	var pages []indexPage
	if err := json.Unmarshal(body, &pages); err != nil {
		return nil, err
	}
	ids := make(map[int64]struct{})
	for _, page := range pages {
		for _, t := range page.Threads {
			ids[t.No] = struct{}{}
		}
	}
	return ids, nil
}
