package handlers

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "embed"

	_ "modernc.org/sqlite"

	"github.com/chanwatch/chanwatch"
)

//go:embed schema.sql
var schema string

const insertPost = `INSERT OR IGNORE INTO posts (
    no, thread, resto, sticky, closed, archived, now, time, name, trip,
    id, capcode, country, country_name, sub, com, tim, filename, ext,
    fsize, md5, w, h, tn_w, tn_h, filedeleted, spoiler, replies, images,
    bumplimit, imagelimit, last_modified, tag, semantic_url
) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`

// SQLite writes posts to a daily-rotating SQLite database.
//
// One database file is created per calendar day under the sink's root
// directory, named <YYYYMMDD>.db. Rotation is checked on every write.
// Posts are persisted as they come in; duplicate post numbers are ignored
// at the database level, which makes restarts within a day harmless.
//
// SQLite does not handle images: [SQLite.Img] returns an error and
// [SQLite.ShouldFetch] always declines, so it is meant for watchers
// running without image fetching.
type SQLite struct {
	root string

	mu   sync.Mutex
	date string
	db   *sql.DB
	now  func() time.Time
}

// ErrNoImages is returned by [SQLite.Img]; the SQLite sink stores posts
// only.
var ErrNoImages = errors.New("sqlite sink does not store images")

// NewSQLite creates a [SQLite] sink rooted at dir, creating it if
// necessary, and opens today's database.
func NewSQLite(dir string) (*SQLite, error) {
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite sink root: %w", err)
	}
	s := &SQLite{root: dir, now: time.Now}
	if err := s.open(dateDir(s.now())); err != nil {
		return nil, err
	}
	return s, nil
}

// open opens (creating if needed) the database for the given date and
// applies the schema. Caller holds s.mu or is the constructor.
func (s *SQLite) open(date string) error {
	db, err := sql.Open("sqlite", filepath.Join(s.root, date+".db"))
	if err != nil {
		return fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return fmt.Errorf("apply sqlite schema: %w", err)
	}
	s.date = date
	s.db = db
	return nil
}

// rotate switches to a new database if the calendar day changed since the
// current one was opened. Caller holds s.mu.
func (s *SQLite) rotate() error {
	date := dateDir(s.now())
	if date == s.date {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close rotated sqlite db: %w", err)
	}
	return s.open(date)
}

// Post inserts the post into today's database, rotating first if needed.
func (s *SQLite) Post(threadID int64, post chanwatch.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.rotate(); err != nil {
		return err
	}
	_, err := s.db.Exec(insertPost,
		post.No, threadID, post.Resto, post.Sticky, post.Closed,
		post.Archived, post.Now, post.Time, post.Name, post.Trip,
		post.ID, post.Capcode, post.Country, post.CountryName,
		post.Sub, post.Com, post.Tim, post.Filename, post.Ext,
		post.Fsize, post.MD5, post.W, post.H, post.TnW, post.TnH,
		post.FileDeleted, post.Spoiler, post.Replies, post.Images,
		post.BumpLimit, post.ImageLimit, post.LastModified,
		post.Tag, post.SemanticURL,
	)
	if err != nil {
		return fmt.Errorf("insert post %d: %w", post.No, err)
	}
	return nil
}

// Pruned is a no-op; posts were already persisted as they arrived.
func (s *SQLite) Pruned(threadID int64) error {
	return nil
}

// Img returns [ErrNoImages].
func (s *SQLite) Img(threadID int64, filename string, data []byte) error {
	return ErrNoImages
}

// ShouldFetch always declines.
func (s *SQLite) ShouldFetch(threadID int64, filename string) bool {
	return false
}

// Close closes the current database. The sink must not be used afterwards.
func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
