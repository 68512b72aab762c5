package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_CoalescesRapidWrites(t *testing.T) {
	dir := t.TempDir()
	delay := 200 * time.Millisecond

	w, err := New(delay, dir)
	require.NoError(t, err)
	defer w.Close()

	target := filepath.Join(dir, "movie.mkv")
	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(target, []byte("chunk"), 0o644))
		time.Sleep(20 * time.Millisecond)
	}
	lastWrite := time.Now()

	select {
	case event := <-w.Events():
		assert.Equal(t, Update, event.Kind)
		assert.Equal(t, target, event.Path)
		assert.GreaterOrEqual(t, time.Since(start), lastWrite.Sub(start)+delay,
			"event must not fire before the quiet window after the last write")
	case <-time.After(5 * time.Second):
		t.Fatal("no event received")
	}

	// Exactly one coalesced event.
	select {
	case extra := <-w.Events():
		t.Fatalf("unexpected second event: %+v", extra)
	case <-time.After(2 * delay):
	}
}

func TestWatcher_RemoveEvent(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "movie.mkv")
	require.NoError(t, os.WriteFile(target, []byte("data"), 0o644))

	w, err := New(100*time.Millisecond, dir)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.Remove(target))

	select {
	case event := <-w.Events():
		assert.Equal(t, Remove, event.Kind)
		assert.Equal(t, target, event.Path)
	case <-time.After(5 * time.Second):
		t.Fatal("no event received")
	}
}

func TestWatcher_BadRootIsSkipped(t *testing.T) {
	good := t.TempDir()

	w, err := New(100*time.Millisecond, filepath.Join(good, "does-not-exist"), good)
	require.NoError(t, err)
	defer w.Close()

	target := filepath.Join(good, "a.mkv")
	require.NoError(t, os.WriteFile(target, []byte("data"), 0o644))

	select {
	case event := <-w.Events():
		assert.Equal(t, target, event.Path)
	case <-time.After(5 * time.Second):
		t.Fatal("good root should still be watched")
	}
}
