package handlers

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chanwatch/chanwatch"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func rawPost(t *testing.T, no int64, com string) chanwatch.Post {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"no": no, "com": com})
	require.NoError(t, err)
	return chanwatch.Post{No: no, Com: com, Raw: raw}
}

func TestFile_FlushOnPruned(t *testing.T) {
	root := t.TempDir()
	f, err := NewFile(root)
	require.NoError(t, err)
	f.now = fixedClock(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))

	require.NoError(t, f.Post(42, rawPost(t, 1, "first")))
	require.NoError(t, f.Post(42, rawPost(t, 2, "second")))

	// nothing on disk until the thread is pruned
	path := filepath.Join(root, "20260314", "42", "42.json")
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))

	require.NoError(t, f.Pruned(42))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc struct {
		Posts []json.RawMessage `json:"posts"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Len(t, doc.Posts, 2)

	var first struct {
		No  int64  `json:"no"`
		Com string `json:"com"`
	}
	require.NoError(t, json.Unmarshal(doc.Posts[0], &first))
	require.Equal(t, int64(1), first.No)
	require.Equal(t, "first", first.Com)
}

func TestFile_PrunedUnknownThreadIsNoop(t *testing.T) {
	f, err := NewFile(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, f.Pruned(999))
}

func TestFile_PostWithoutRawReencodes(t *testing.T) {
	root := t.TempDir()
	f, err := NewFile(root)
	require.NoError(t, err)
	f.now = fixedClock(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))

	require.NoError(t, f.Post(7, chanwatch.Post{No: 3, Com: "synthesized"}))
	require.NoError(t, f.Pruned(7))

	data, err := os.ReadFile(filepath.Join(root, "20260314", "7", "7.json"))
	require.NoError(t, err)

	var doc struct {
		Posts []struct {
			No int64 `json:"no"`
		} `json:"posts"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Len(t, doc.Posts, 1)
	require.Equal(t, int64(3), doc.Posts[0].No)
}

func TestFile_ImgWritesImmediately(t *testing.T) {
	root := t.TempDir()
	f, err := NewFile(root)
	require.NoError(t, err)
	f.now = fixedClock(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))

	content := []byte("jpeg bytes")
	require.NoError(t, f.Img(42, "1234.jpg", content))

	got, err := os.ReadFile(filepath.Join(root, "20260314", "42", "1234.jpg"))
	require.NoError(t, err)
	require.Equal(t, content, got)
}

func TestFile_ImgStripsPathComponents(t *testing.T) {
	root := t.TempDir()
	f, err := NewFile(root)
	require.NoError(t, err)
	f.now = fixedClock(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))

	require.NoError(t, f.Img(42, "../../escape.jpg", []byte("x")))

	_, err = os.Stat(filepath.Join(root, "20260314", "42", "escape.jpg"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, "escape.jpg"))
	require.True(t, os.IsNotExist(err))
}

func TestFile_ShouldFetchSkipsExisting(t *testing.T) {
	root := t.TempDir()
	f, err := NewFile(root)
	require.NoError(t, err)
	f.now = fixedClock(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))

	// unknown thread: always fetch
	require.True(t, f.ShouldFetch(42, "1234.jpg"))

	require.NoError(t, f.Img(42, "1234.jpg", []byte("x")))
	require.False(t, f.ShouldFetch(42, "1234.jpg"))
	require.True(t, f.ShouldFetch(42, "5678.jpg"))
}

func TestFile_DateIsFirstSeen(t *testing.T) {
	root := t.TempDir()
	f, err := NewFile(root)
	require.NoError(t, err)
	f.now = fixedClock(time.Date(2026, 3, 14, 23, 59, 0, 0, time.UTC))

	require.NoError(t, f.Post(42, rawPost(t, 1, "seen before midnight")))

	// the clock rolls over but the thread keeps its original directory
	f.now = fixedClock(time.Date(2026, 3, 15, 0, 1, 0, 0, time.UTC))
	require.NoError(t, f.Post(42, rawPost(t, 2, "seen after midnight")))
	require.NoError(t, f.Pruned(42))

	_, err = os.Stat(filepath.Join(root, "20260314", "42", "42.json"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, "20260315"))
	require.True(t, os.IsNotExist(err))
}
