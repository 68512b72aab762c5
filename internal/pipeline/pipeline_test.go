package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/mfranzen/videoforge/internal/catalog"
	"github.com/mfranzen/videoforge/internal/media"
)

// fakeStore satisfies CatalogStore and DeadLetterStore in memory.
type fakeStore struct {
	mu      sync.Mutex
	movies  []catalog.Movie
	letters map[string]*catalog.DeadLetter
}

func newFakeStore() *fakeStore {
	return &fakeStore{letters: map[string]*catalog.DeadLetter{}}
}

func (s *fakeStore) SetMovieProgress(_ context.Context, m *catalog.Movie) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.movies = append(s.movies, *m)
	return nil
}

func (s *fakeStore) SetEpisodeProgress(_ context.Context, _ *catalog.Episode) error {
	return nil
}

func (s *fakeStore) SaveDeadLetter(_ context.Context, d *catalog.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.letters[d.ID] = d
	return nil
}

func (s *fakeStore) DeadLetters(_ context.Context) ([]*catalog.DeadLetter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*catalog.DeadLetter, 0, len(s.letters))
	for _, d := range s.letters {
		out = append(out, d)
	}
	return out, nil
}

func (s *fakeStore) DeleteDeadLetter(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.letters, id)
	return nil
}

func (s *fakeStore) lastMovie(t *testing.T) catalog.Movie {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.movies)
	return s.movies[len(s.movies)-1]
}

func (s *fakeStore) letterCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.letters)
}

func writeMock(t *testing.T, dir, name, script string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func queuedMovie(path string) *catalog.Movie {
	return &catalog.Movie{
		ID:   1,
		Name: "Heat",
		Year: 1995,
		Path: path,
		Progress: catalog.Progress{
			Conversion: catalog.StatusQueued,
			Subtitles:  catalog.StatusQueued,
		},
	}
}

func TestQueue_DeliversMessagesInOrder(t *testing.T) {
	q := NewQueue("converter", newFakeStore())
	defer q.Stop()

	var mu sync.Mutex
	var seen []string
	q.Receive(func(_ context.Context, msg Message) error {
		mu.Lock()
		seen = append(seen, msg.Movie.Name)
		mu.Unlock()
		return nil
	})

	q.Send(NewMovieMessage(&catalog.Movie{Name: "first"}))
	q.Send(NewMovieMessage(&catalog.Movie{Name: "second"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", "second"}, seen)
}

func TestQueue_FailedMessageIsDeadLettered(t *testing.T) {
	store := newFakeStore()
	q := NewQueue("converter", store)
	defer q.Stop()

	q.Receive(func(_ context.Context, _ Message) error {
		return errors.New("encoder exploded")
	})

	msg := NewMovieMessage(queuedMovie("/media/heat.mkv"))
	q.Send(msg)

	require.Eventually(t, func() bool {
		return store.letterCount() == 1
	}, time.Second, 10*time.Millisecond)

	letters, err := store.DeadLetters(context.Background())
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, msg.ID, letters[0].ID)
	assert.Equal(t, "converter", letters[0].Queue)
	assert.Equal(t, "encoder exploded", letters[0].Error)
	assert.Contains(t, letters[0].Payload, "Heat")
}

func TestQueue_ReplayResendsAndRemovesLetter(t *testing.T) {
	store := newFakeStore()
	q := NewQueue("converter", store)
	defer q.Stop()

	fail := true
	var mu sync.Mutex
	var replayed *Message
	q.Receive(func(_ context.Context, msg Message) error {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			fail = false
			return errors.New("transient")
		}
		replayed = &msg
		return nil
	})

	msg := NewMovieMessage(queuedMovie("/media/heat.mkv"))
	q.Send(msg)
	require.Eventually(t, func() bool {
		return store.letterCount() == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, q.Replay(context.Background(), msg.ID))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return replayed != nil
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, msg.ID, replayed.ID)
	assert.Empty(t, replayed.Error, "replayed message starts clean")
	mu.Unlock()
	assert.Zero(t, store.letterCount())
}

func TestQueue_ReplayUnknownID(t *testing.T) {
	q := NewQueue("converter", newFakeStore())
	defer q.Stop()
	err := q.Replay(context.Background(), "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestConverter_SuccessUpdatesPathAndStatus(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "heat.mkv")
	require.NoError(t, os.WriteFile(source, []byte("raw"), 0o644))

	probe := writeMock(t, dir, "ffprobe", `echo '{"streams": [
		{"index": 0, "codec_type": "video", "codec_name": "h264"},
		{"index": 1, "codec_type": "audio", "codec_name": "mp3"}
	]}'`)
	ffmpeg := writeMock(t, dir, "ffmpeg", "exit 1")

	store := newFakeStore()
	engine := media.NewEngine(ffmpeg, probe, "h264", "mp3", language.English)
	subtitler := NewQueue("subtitler", store)
	defer subtitler.Stop()
	conv := NewConverter(engine, store, subtitler)

	m := queuedMovie(source)
	require.NoError(t, conv.Handle(context.Background(), NewMovieMessage(m)))

	saved := store.lastMovie(t)
	assert.Equal(t, catalog.StatusProcessed, saved.Progress.Conversion)
	assert.Equal(t, filepath.Join(dir, "heat.mp4"), saved.Path)
	assert.Equal(t, catalog.StatusFailed, saved.Progress.Subtitles)
	assert.NotEmpty(t, saved.Progress.SubtitlesError)
}

func TestConverter_SidecarOnDiskCountsAsSubtitleSuccess(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "heat.mkv")
	require.NoError(t, os.WriteFile(source, []byte("raw"), 0o644))
	sidecar := filepath.Join(dir, "heat.vtt")
	require.NoError(t, os.WriteFile(sidecar, []byte("WEBVTT\n"), 0o644))

	probe := writeMock(t, dir, "ffprobe", `echo '{"streams": [
		{"index": 0, "codec_type": "video", "codec_name": "h264"},
		{"index": 1, "codec_type": "audio", "codec_name": "mp3"}
	]}'`)
	ffmpeg := writeMock(t, dir, "ffmpeg", "exit 1")

	store := newFakeStore()
	engine := media.NewEngine(ffmpeg, probe, "h264", "mp3", language.English)
	conv := NewConverter(engine, store, nil)

	m := queuedMovie(source)
	require.NoError(t, conv.Handle(context.Background(), NewMovieMessage(m)))

	saved := store.lastMovie(t)
	assert.Equal(t, catalog.StatusProcessed, saved.Progress.Subtitles)
	assert.Equal(t, sidecar, saved.SubtitlesPath)
	assert.Empty(t, saved.Progress.SubtitlesError)
}

func TestConverter_SubtitleFailureForwardsToSubtitler(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "heat.mkv")
	require.NoError(t, os.WriteFile(source, []byte("raw"), 0o644))

	probe := writeMock(t, dir, "ffprobe", `echo '{"streams": [
		{"index": 0, "codec_type": "video", "codec_name": "h264"},
		{"index": 1, "codec_type": "audio", "codec_name": "mp3"}
	]}'`)
	ffmpeg := writeMock(t, dir, "ffmpeg", "exit 1")

	store := newFakeStore()
	engine := media.NewEngine(ffmpeg, probe, "h264", "mp3", language.English)
	subtitler := NewQueue("subtitler", store)
	defer subtitler.Stop()

	var mu sync.Mutex
	var forwarded *Message
	subtitler.Receive(func(_ context.Context, msg Message) error {
		mu.Lock()
		forwarded = &msg
		mu.Unlock()
		return nil
	})

	conv := NewConverter(engine, store, subtitler)
	require.NoError(t, conv.Handle(context.Background(), NewMovieMessage(queuedMovie(source))))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return forwarded != nil
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, KindMovie, forwarded.Kind)
	assert.Equal(t, "Heat", forwarded.Movie.Name)
}

func TestSubtitler_SidecarSatisfiesRetry(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "heat.mp4")
	require.NoError(t, os.WriteFile(output, []byte("converted"), 0o644))
	sidecar := filepath.Join(dir, "heat.vtt")
	require.NoError(t, os.WriteFile(sidecar, []byte("WEBVTT\n"), 0o644))

	store := newFakeStore()
	engine := media.NewEngine("ffmpeg", "ffprobe", "h264", "mp3", language.English)
	sub := NewSubtitler(engine, store)

	m := queuedMovie(output)
	m.Progress.Conversion = catalog.StatusProcessed
	m.Progress.Subtitles = catalog.StatusFailed
	m.Progress.SubtitlesError = "no subtitles available"

	require.NoError(t, sub.Handle(context.Background(), NewMovieMessage(m)))

	saved := store.lastMovie(t)
	assert.Equal(t, catalog.StatusProcessed, saved.Progress.Subtitles)
	assert.Equal(t, sidecar, saved.SubtitlesPath)
	assert.Empty(t, saved.Progress.SubtitlesError)
}

func TestSubtitler_MissingStreamsStaysFailed(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "heat.mp4")
	require.NoError(t, os.WriteFile(output, []byte("converted"), 0o644))

	probe := writeMock(t, dir, "ffprobe", `echo '{"streams": [
		{"index": 0, "codec_type": "video", "codec_name": "h264"},
		{"index": 1, "codec_type": "audio", "codec_name": "mp3"}
	]}'`)

	store := newFakeStore()
	engine := media.NewEngine("ffmpeg", probe, "h264", "mp3", language.English)
	sub := NewSubtitler(engine, store)

	m := queuedMovie(output)
	m.Progress.Conversion = catalog.StatusProcessed
	m.Progress.Subtitles = catalog.StatusFailed

	require.NoError(t, sub.Handle(context.Background(), NewMovieMessage(m)))

	saved := store.lastMovie(t)
	assert.Equal(t, catalog.StatusFailed, saved.Progress.Subtitles)
	assert.Contains(t, saved.Progress.SubtitlesError, "no subtitles available")
}
