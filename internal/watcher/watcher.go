// Package watcher ingests report files as they land in a drop directory.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 400 * time.Millisecond

// Handler is called once per settled file. Errors are logged and do not stop the watcher.
type Handler func(ctx context.Context, path string) error

// DropWatcher watches directories for new or rewritten files and hands each
// one to a Handler after writes to it have been quiet for the debounce period.
type DropWatcher struct {
	dirs       []string
	extensions []string
	recursive  bool
	debounce   time.Duration
	handle     Handler
	logger     *zap.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
	wg      sync.WaitGroup
}

// Option configures a DropWatcher.
type Option func(*DropWatcher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *DropWatcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithExtensions restricts the watcher to files with these extensions. Empty means all files.
func WithExtensions(exts []string) Option {
	return func(w *DropWatcher) { w.extensions = exts }
}

// WithRecursive also watches subdirectories, including ones created later.
func WithRecursive(recursive bool) Option {
	return func(w *DropWatcher) { w.recursive = recursive }
}

// WithDebounce sets how long a file must be quiet before it is handled.
func WithDebounce(d time.Duration) Option {
	return func(w *DropWatcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// New creates a watcher over dirs. Nothing is watched until Run.
func New(dirs []string, handle Handler, opts ...Option) *DropWatcher {
	w := &DropWatcher{
		dirs:     dirs,
		debounce: defaultDebounce,
		handle:   handle,
		logger:   zap.NewNop(),
		pending:  make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run watches until ctx is cancelled. Handlers still running when ctx ends
// are waited for; files still in their debounce window are dropped.
func (w *DropWatcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	for _, dir := range w.dirs {
		if err := w.addTree(fw, dir); err != nil {
			return err
		}
	}
	w.logger.Info("watching for reports",
		zap.Strings("dirs", w.dirs),
		zap.Strings("extensions", w.extensions),
		zap.Bool("recursive", w.recursive))

	defer func() {
		w.mu.Lock()
		for path, t := range w.pending {
			t.Stop()
			delete(w.pending, path)
		}
		w.mu.Unlock()
		w.wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, fw, ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *DropWatcher) handleEvent(ctx context.Context, fw *fsnotify.Watcher, ev fsnotify.Event) {
	w.logger.Debug("watch event", zap.String("op", ev.Op.String()), zap.String("path", ev.Name))
	switch {
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		info, err := os.Stat(ev.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			if w.recursive {
				w.addNewDir(ctx, fw, ev.Name)
			}
			return
		}
		if matchExtension(ev.Name, w.extensions) {
			w.schedule(ctx, ev.Name)
		}
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.cancel(ev.Name)
	}
}

// addTree watches dir, and every directory below it when recursive.
func (w *DropWatcher) addTree(fw *fsnotify.Watcher, dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return errors.New(dir + " is not a directory")
	}
	if !w.recursive {
		return fw.Add(dir)
	}
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fw.Add(path)
		}
		return nil
	})
}

// addNewDir starts watching a directory created under a root and schedules
// the files already inside it, since their create events were missed.
func (w *DropWatcher) addNewDir(ctx context.Context, fw *fsnotify.Watcher, dir string) {
	if err := w.addTree(fw, dir); err != nil {
		w.logger.Warn("watch new directory failed", zap.String("path", dir), zap.Error(err))
		return
	}
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() && matchExtension(path, w.extensions) {
			w.schedule(ctx, path)
		}
		return nil
	})
}

func (w *DropWatcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	// A stopped timer whose func already started must not fire for its successor.
	var self *time.Timer
	self = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		if w.pending[path] != self {
			w.mu.Unlock()
			return
		}
		delete(w.pending, path)
		w.wg.Add(1)
		w.mu.Unlock()
		defer w.wg.Done()

		if ctx.Err() != nil {
			return
		}
		if err := w.handle(ctx, path); err != nil {
			w.logger.Warn("handle file failed", zap.String("path", path), zap.Error(err))
		}
	})
	w.pending[path] = self
}

func (w *DropWatcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
}

func matchExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}
