package indexer

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfranzen/videoforge/internal/catalog"
	"github.com/mfranzen/videoforge/internal/metadata"
	"github.com/mfranzen/videoforge/internal/pipeline"
	"github.com/mfranzen/videoforge/internal/watcher"
)

func newTestStore(t *testing.T) *catalog.SQLiteStore {
	t.Helper()
	store, err := catalog.NewSQLiteStore(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// collectingQueue drains a pipeline queue into a slice for assertions.
func collectingQueue(t *testing.T, name string) (*pipeline.Queue, func() []pipeline.Message) {
	t.Helper()
	q := pipeline.NewQueue(name, nil)
	t.Cleanup(q.Stop)

	var mu sync.Mutex
	var seen []pipeline.Message
	q.Receive(func(_ context.Context, msg pipeline.Message) error {
		mu.Lock()
		seen = append(seen, msg)
		mu.Unlock()
		return nil
	})
	return q, func() []pipeline.Message {
		mu.Lock()
		defer mu.Unlock()
		return append([]pipeline.Message(nil), seen...)
	}
}

func writeMovieFile(t *testing.T, root, dir, name string) string {
	t.Helper()
	full := filepath.Join(root, dir)
	require.NoError(t, os.MkdirAll(full, 0o755))
	path := filepath.Join(full, name)
	require.NoError(t, os.WriteFile(path, []byte("video"), 0o644))
	return path
}

type fakeMovieMetadata struct {
	info  *metadata.MovieInfo
	calls int
}

func (f *fakeMovieMetadata) Enabled() bool { return true }

func (f *fakeMovieMetadata) GetMovie(_ context.Context, _ string, _ int) (*metadata.MovieInfo, error) {
	f.calls++
	return f.info, nil
}

func TestMovieIndexer_Run_QueuesNewMovies(t *testing.T) {
	root := t.TempDir()
	path := writeMovieFile(t, root, "Heat (1995)", "Heat (1995).mkv")

	store := newTestStore(t)
	queue, messages := collectingQueue(t, "converter")
	ix := NewMovieIndexer([]string{root}, store, nil, queue)

	require.NoError(t, ix.Run(context.Background()))

	m, err := store.FindMovie(context.Background(), "Heat", 1995)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, path, m.Path)
	assert.Equal(t, catalog.StatusQueued, m.Progress.Conversion)
	assert.Equal(t, catalog.StatusQueued, m.Progress.Subtitles)

	require.Eventually(t, func() bool { return len(messages()) == 1 }, time.Second, 10*time.Millisecond)
	msg := messages()[0]
	assert.Equal(t, pipeline.KindMovie, msg.Kind)
	assert.Equal(t, "Heat", msg.Movie.Name)
}

func TestMovieIndexer_Run_IsIdempotent(t *testing.T) {
	root := t.TempDir()
	writeMovieFile(t, root, "Heat (1995)", "Heat (1995).mkv")

	store := newTestStore(t)
	queue, messages := collectingQueue(t, "converter")
	ix := NewMovieIndexer([]string{root}, store, nil, queue)

	require.NoError(t, ix.Run(context.Background()))
	require.NoError(t, ix.Run(context.Background()))

	movies, err := store.Movies(context.Background())
	require.NoError(t, err)
	assert.Len(t, movies, 1, "re-running the pass must not duplicate entities")

	// Second pass sees a queued entity and must not re-send.
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, messages(), 1)
}

func TestMovieIndexer_Run_RemovesMissingFiles(t *testing.T) {
	store := newTestStore(t)
	queue, _ := collectingQueue(t, "converter")

	gone := &catalog.Movie{Name: "Gone", Year: 2001, Path: "/nonexistent/gone.mkv", Progress: catalog.NewProgress()}
	require.NoError(t, store.UpsertMovie(context.Background(), gone))

	ix := NewMovieIndexer([]string{t.TempDir()}, store, nil, queue)
	require.NoError(t, ix.Run(context.Background()))

	m, err := store.FindMovie(context.Background(), "Gone", 2001)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestMovieIndexer_Run_EnrichesMissingMetadata(t *testing.T) {
	root := t.TempDir()
	writeMovieFile(t, root, "Heat (1995)", "Heat (1995).mkv")

	store := newTestStore(t)
	queue, _ := collectingQueue(t, "converter")
	meta := &fakeMovieMetadata{info: &metadata.MovieInfo{Overview: "A heist thriller.", Poster: "poster.jpg"}}
	ix := NewMovieIndexer([]string{root}, store, meta, queue)

	require.NoError(t, ix.Run(context.Background()))
	require.NoError(t, ix.Run(context.Background()))

	m, err := store.FindMovie(context.Background(), "Heat", 1995)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "A heist thriller.", m.Overview)
	assert.Equal(t, "poster.jpg", m.Poster)
	assert.Equal(t, 1, meta.calls, "complete metadata is not fetched again")
}

func TestMovieIndexer_SkipsUnparseableFiles(t *testing.T) {
	root := t.TempDir()
	writeMovieFile(t, root, "random", "clip.mkv")
	writeMovieFile(t, root, "Heat (1995)", "Heat (1995).mkv")

	store := newTestStore(t)
	queue, _ := collectingQueue(t, "converter")
	ix := NewMovieIndexer([]string{root}, store, nil, queue)

	require.NoError(t, ix.Run(context.Background()))

	movies, err := store.Movies(context.Background())
	require.NoError(t, err)
	assert.Len(t, movies, 1, "one bad file must not abort the batch")
}

func TestTVIndexer_Run_QueuesNewEpisodes(t *testing.T) {
	root := t.TempDir()
	path := writeMovieFile(t, root, filepath.Join("My Show", "Season 2"), "s02e05 - title.mkv")

	store := newTestStore(t)
	queue, messages := collectingQueue(t, "converter")
	ix := NewTVIndexer([]string{root}, store, nil, queue)

	require.NoError(t, ix.Run(context.Background()))

	e, err := store.FindEpisode(context.Background(), "My Show", 2, 5)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, path, e.Path)
	assert.Equal(t, catalog.StatusQueued, e.Progress.Conversion)

	require.Eventually(t, func() bool { return len(messages()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, pipeline.KindEpisode, messages()[0].Kind)
}

func TestTVIndexer_HandleRemove_DeletesEntity(t *testing.T) {
	root := t.TempDir()
	path := writeMovieFile(t, root, filepath.Join("My Show", "Season 2"), "s02e05.mkv")

	store := newTestStore(t)
	queue, _ := collectingQueue(t, "converter")
	ix := NewTVIndexer([]string{root}, store, nil, queue)
	require.NoError(t, ix.Run(context.Background()))

	require.NoError(t, os.Remove(path))
	ix.HandleEvent(context.Background(), watcher.Event{Kind: watcher.Remove, Path: path})

	e, err := store.FindEpisode(context.Background(), "My Show", 2, 5)
	require.NoError(t, err)
	assert.Nil(t, e)
}
