package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, config Config, roots ...string) *Watcher {
	t.Helper()
	w, err := New(config, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background(), roots...))
	t.Cleanup(func() { w.Close() })
	return w
}

// drainUntil collects events until one satisfies done or the deadline passes.
func drainUntil(t *testing.T, w *Watcher, done func(Event) bool) []Event {
	t.Helper()
	var all []Event
	require.Eventually(t, func() bool {
		events, _ := w.Drain()
		all = append(all, events...)
		for _, ev := range events {
			if done(ev) {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)
	return all
}

func TestWatcherQueuesCreateAndRemove(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, Config{}, dir)

	file := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	events := drainUntil(t, w, func(ev Event) bool { return ev.Path == file && ev.Type == EventCreate })
	assert.False(t, events[len(events)-1].IsDir)

	require.NoError(t, os.Remove(file))
	drainUntil(t, w, func(ev Event) bool { return ev.Path == file && ev.Type == EventRemove })
}

func TestWatcherFollowsNewDirectories(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, Config{}, dir)

	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	events := drainUntil(t, w, func(ev Event) bool { return ev.Path == sub })
	assert.True(t, events[len(events)-1].IsDir)

	nested := filepath.Join(sub, "nested.txt")
	require.Eventually(t, func() bool {
		// the watch on sub is added asynchronously, so retry the write
		_ = os.WriteFile(nested, []byte("x"), 0o644)
		events, _ := w.Drain()
		for _, ev := range events {
			if ev.Path == nested {
				return true
			}
		}
		_ = os.Remove(nested)
		return false
	}, 5*time.Second, 50*time.Millisecond)
}

func TestWatcherRename(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "old.txt")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0o644))
	w := startWatcher(t, Config{}, dir)

	renamed := filepath.Join(dir, "new.txt")
	require.NoError(t, os.Rename(old, renamed))

	var sawOld, sawNew bool
	drainUntil(t, w, func(ev Event) bool {
		if ev.Path == old && ev.Type == EventRename {
			sawOld = true
		}
		if ev.Path == renamed && ev.Type == EventCreate {
			sawNew = true
		}
		return sawOld && sawNew
	})
}

func TestWatcherSkip(t *testing.T) {
	dir := t.TempDir()
	hidden := func(path string, isDir bool) bool {
		return strings.HasPrefix(filepath.Base(path), ".")
	}
	w := startWatcher(t, Config{Skip: hidden}, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden"), []byte("x"), 0o644))
	visible := filepath.Join(dir, "visible")
	require.NoError(t, os.WriteFile(visible, []byte("x"), 0o644))

	events := drainUntil(t, w, func(ev Event) bool { return ev.Path == visible })
	for _, ev := range events {
		assert.NotEqual(t, ".hidden", filepath.Base(ev.Path))
	}
}

func TestWatcherOverflow(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, Config{MaxPending: 1}, dir)

	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}

	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.overflow
	}, 5*time.Second, 20*time.Millisecond)

	events, overflow := w.Drain()
	assert.True(t, overflow)
	assert.Empty(t, events)

	_, overflow = w.Drain()
	assert.False(t, overflow)
}

func TestWatcherCloseWithoutStart(t *testing.T) {
	w, err := New(Config{}, zerolog.Nop())
	require.NoError(t, err)
	assert.NoError(t, w.Close())
}
