package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *recorder) handle(_ context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
	return nil
}

func (r *recorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

// start runs w in the background and returns a stop func that waits for Run to return.
func start(t *testing.T, w *DropWatcher) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	// give fsnotify time to register the roots
	time.Sleep(100 * time.Millisecond)
	return func() {
		cancel()
		require.NoError(t, <-done)
	}
}

func TestDropWatcher_HandlesNewFile(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	w := New([]string{dir}, rec.handle, WithExtensions([]string{".txt"}), WithDebounce(50*time.Millisecond))
	stop := start(t, w)
	defer stop()

	path := filepath.Join(dir, "storm-1516_brief.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.xyz"), []byte("x"), 0600))

	require.Eventually(t, func() bool { return len(rec.seen()) == 1 }, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, []string{path}, rec.seen())
}

func TestDropWatcher_DebouncesRepeatedWrites(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	w := New([]string{dir}, rec.handle, WithDebounce(200*time.Millisecond))
	stop := start(t, w)
	defer stop()

	path := filepath.Join(dir, "report.txt")
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("draft"), 0600))
		time.Sleep(20 * time.Millisecond)
	}
	require.Eventually(t, func() bool { return len(rec.seen()) >= 1 }, 2*time.Second, 20*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	assert.Len(t, rec.seen(), 1)
}

func TestDropWatcher_RecursiveNewDirectory(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	w := New([]string{dir}, rec.handle, WithRecursive(true), WithDebounce(50*time.Millisecond))
	stop := start(t, w)
	defer stop()

	sub := filepath.Join(dir, "batch")
	require.NoError(t, os.Mkdir(sub, 0755))
	time.Sleep(100 * time.Millisecond)
	path := filepath.Join(sub, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0600))

	require.Eventually(t, func() bool {
		for _, p := range rec.seen() {
			if p == path {
				return true
			}
		}
		return false
	}, 2*time.Second, 20*time.Millisecond)
}

func TestSchedule_OnlyLatestTimerFires(t *testing.T) {
	var (
		mu      sync.Mutex
		handled []time.Time
	)
	w := New(nil, func(_ context.Context, _ string) error {
		mu.Lock()
		defer mu.Unlock()
		handled = append(handled, time.Now())
		return nil
	}, WithDebounce(30*time.Millisecond))

	ctx := context.Background()
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				w.schedule(ctx, "/drop/report.txt")
				if i%20 == 0 {
					time.Sleep(time.Millisecond)
				}
			}
		}()
	}
	wg.Wait()
	last := time.Now()

	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return len(w.pending) == 0
	}, 2*time.Second, 10*time.Millisecond)
	w.wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, handled)
	assert.False(t, handled[len(handled)-1].Before(last), "the final schedule must produce a handle call after it")
}

func TestDropWatcher_RunErrors(t *testing.T) {
	w := New([]string{filepath.Join(t.TempDir(), "missing")}, (&recorder{}).handle)
	assert.Error(t, w.Run(context.Background()))

	file := filepath.Join(t.TempDir(), "f.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0600))
	w = New([]string{file}, (&recorder{}).handle)
	assert.Error(t, w.Run(context.Background()))
}

func TestMatchExtension(t *testing.T) {
	tests := []struct {
		path       string
		extensions []string
		want       bool
	}{
		{"/a/b.txt", []string{".txt"}, true},
		{"/a/b.TXT", []string{".txt"}, true},
		{"/a/b.pdf", []string{"pdf"}, true},
		{"/a/b.md", []string{".txt"}, false},
		{"/a/b", nil, true},
		{"/a/b", []string{}, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, matchExtension(tt.path, tt.extensions), "%s %v", tt.path, tt.extensions)
	}
}
