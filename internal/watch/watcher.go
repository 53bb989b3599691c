// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package watch feeds prompt files dropped into an inbox directory to a
// handler, one at a time.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// DefaultDebounce is how long a file must be quiet before it is handled.
const DefaultDebounce = 500 * time.Millisecond

// DefaultExtensions are the prompt file types picked up when none are configured.
var DefaultExtensions = []string{".md", ".txt", ".prompt"}

// Handler processes one prompt file. Errors are logged and do not stop the watcher.
type Handler func(ctx context.Context, path string) error

// Config configures a Watcher.
type Config struct {
	Dir        string
	Extensions []string
	Debounce   time.Duration

	// ProcessExisting queues files already present when Run starts.
	ProcessExisting bool
}

// Watcher watches a single directory (not recursive).
type Watcher struct {
	cfg     Config
	handle  Handler
	log     logrus.FieldLogger
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]time.Time // path -> last change time
	seen    map[string]time.Time // path -> mod time when last handled

	closeOnce sync.Once
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(w *Watcher) { w.log = log }
}

// New creates a watcher for cfg.Dir. The directory must exist.
func New(cfg Config, handle Handler, opts ...Option) (*Watcher, error) {
	if handle == nil {
		return nil, errors.New("watch: nil handler")
	}
	info, err := os.Stat(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch: %s is not a directory", cfg.Dir)
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = DefaultExtensions
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	if err := fsw.Add(cfg.Dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", cfg.Dir, err)
	}

	w := &Watcher{
		cfg:     cfg,
		handle:  handle,
		watcher: fsw,
		pending: make(map[string]time.Time),
		seen:    make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.log == nil {
		w.log = logrus.StandardLogger()
	}
	return w, nil
}

// Run processes events until ctx is done. Handlers run on the calling
// goroutine, so files are handled strictly one after another.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.Close()

	if w.cfg.ProcessExisting {
		if err := w.queueExisting(); err != nil {
			return err
		}
	}

	tick := w.cfg.Debounce / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	w.log.WithField("dir", w.cfg.Dir).Info("Watching inbox")

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.touch(event.Name, time.Now())
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				w.forget(event.Name)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.WithError(err).Warn("Watcher error")

		case now := <-ticker.C:
			for _, path := range w.due(now) {
				if ctx.Err() != nil {
					return nil
				}
				w.process(ctx, path)
			}
		}
	}
}

// Close releases the underlying watcher. Safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() { err = w.watcher.Close() })
	return err
}

func (w *Watcher) matches(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range w.cfg.Extensions {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}

func (w *Watcher) touch(path string, at time.Time) {
	if !w.matches(path) {
		return
	}
	w.mu.Lock()
	w.pending[path] = at
	w.mu.Unlock()
}

func (w *Watcher) forget(path string) {
	w.mu.Lock()
	delete(w.pending, path)
	delete(w.seen, path)
	w.mu.Unlock()
}

func (w *Watcher) queueExisting() error {
	entries, err := os.ReadDir(w.cfg.Dir)
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			w.touch(filepath.Join(w.cfg.Dir, e.Name()), time.Time{})
		}
	}
	return nil
}

// due removes and returns pending paths that have been quiet for the
// debounce period, sorted by name.
func (w *Watcher) due(now time.Time) []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	var ready []string
	for path, changed := range w.pending {
		if now.Sub(changed) >= w.cfg.Debounce {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	sort.Strings(ready)
	return ready
}

func (w *Watcher) process(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}

	// Skip a file whose content has not changed since it was last handled.
	w.mu.Lock()
	last, handled := w.seen[path]
	w.mu.Unlock()
	if handled && last.Equal(info.ModTime()) {
		return
	}

	log := w.log.WithField("file", filepath.Base(path))
	log.Debug("Handling prompt file")
	if err := w.handle(ctx, path); err != nil {
		log.WithError(err).Error("Prompt file failed")
	}

	w.mu.Lock()
	w.seen[path] = info.ModTime()
	w.mu.Unlock()
}
