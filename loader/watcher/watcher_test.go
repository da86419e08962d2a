package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, root string) *Watcher {
	t.Helper()
	w, err := New(Options{Debounce: 50 * time.Millisecond, QueueSize: 100}, discard)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Start(ctx, root)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, w.IsWatching, 2*time.Second, 10*time.Millisecond)
	return w
}

func collect(t *testing.T, w *Watcher, want func([]FileEvent) bool) []FileEvent {
	t.Helper()
	var all []FileEvent
	deadline := time.After(3 * time.Second)
	for {
		select {
		case batch, ok := <-w.Events():
			if !ok {
				return all
			}
			all = append(all, batch...)
			if want(all) {
				return all
			}
		case <-deadline:
			t.Fatalf("timed out, events so far: %v", all)
			return nil
		}
	}
}

func hasEvent(path string, ops ...Operation) func([]FileEvent) bool {
	return func(events []FileEvent) bool {
		for _, e := range events {
			if e.Path != path {
				continue
			}
			for _, op := range ops {
				if e.Operation == op {
					return true
				}
			}
		}
		return false
	}
}

func TestWatcher_ReportsMarkdownChanges(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root)

	path := filepath.Join(root, "notes.md")
	require.NoError(t, os.WriteFile(path, []byte("# Notes"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "ignored.txt"), []byte("x"), 0o644))

	events := collect(t, w, hasEvent(path, OpCreate, OpModify))
	for _, e := range events {
		assert.Equal(t, ".md", filepath.Ext(e.Path))
	}

	require.NoError(t, os.Remove(path))
	collect(t, w, hasEvent(path, OpDelete))
}

func TestWatcher_NewDirectoryIsWatched(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root)

	sub := filepath.Join(root, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	time.Sleep(100 * time.Millisecond)
	path := filepath.Join(sub, "deep.md")
	require.NoError(t, os.WriteFile(path, []byte("deep"), 0o644))

	collect(t, w, hasEvent(path, OpCreate, OpModify))
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	w, err := New(Options{}, discard)
	require.NoError(t, err)

	w.Stop()
	w.Stop()

	assert.False(t, w.IsWatching())
}
