// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/codegraph/services/codegraph/builder"
)

// WatcherOptions configures a Watcher.
type WatcherOptions struct {
	// Glob selects event files relative to the watched directory.
	// Default: DefaultGlob
	Glob string

	// Debounce is how long to wait for writes to settle before reading a
	// file. Default: 200ms
	Debounce time.Duration

	// Scan applies every existing matching file when the watcher starts.
	Scan bool

	// OnBatch, when set, is called after each debounced batch is applied.
	// Called from the watcher goroutine.
	OnBatch func(res *BatchResult)
}

// DefaultWatcherOptions returns sensible defaults.
func DefaultWatcherOptions() WatcherOptions {
	return WatcherOptions{
		Glob:     DefaultGlob,
		Debounce: 200 * time.Millisecond,
		Scan:     true,
	}
}

// BatchResult describes one debounced batch.
type BatchResult struct {
	Paths      []string
	Build      *builder.BuildResult
	FileErrors []FileError
	Err        error
}

// Watcher follows a drop directory and applies event files as they
// appear or change.
//
// # Description
//
// Create and write events for matching files are collected until no new
// event arrives for the debounce window, then every touched file is read
// and applied in one ApplyAll call. Decode failures and rejected batches
// are logged per file and never stop the watcher. Removing an event file
// does not remove anything from the graph; adapters send deleted events
// for that.
//
// # Thread Safety
//
// Start and Stop are safe for concurrent use. Batches are applied from a
// single goroutine.
type Watcher struct {
	dir     string
	applier Applier
	opts    WatcherOptions
	fsw     *fsnotify.Watcher

	done     chan struct{}
	exited   chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	started bool
}

// NewWatcher creates a watcher for dir. Call Start to begin.
func NewWatcher(dir string, applier Applier, opts WatcherOptions) (*Watcher, error) {
	if applier == nil {
		return nil, errors.New("ingest: applier is required")
	}
	if opts.Glob == "" {
		opts.Glob = DefaultGlob
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultWatcherOptions().Debounce
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", dir, err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	return &Watcher{
		dir:     abs,
		applier: applier,
		opts:    opts,
		fsw:     fsw,
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
	}, nil
}

// Start registers the directory tree and begins processing events. When
// Scan is set, existing files are applied before Start returns.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = true
	w.mu.Unlock()

	if err := w.addRecursive(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	if w.opts.Scan {
		events, failed, err := LoadDir(ctx, w.dir, w.opts.Glob)
		if err != nil {
			return err
		}
		w.apply(ctx, nil, events, failed)
	}

	go w.loop(ctx)
	slog.Info("ingest watcher started",
		slog.String("dir", w.dir),
		slog.String("glob", w.opts.Glob),
	)
	return nil
}

// Stop halts the watcher and waits for the processing goroutine.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.fsw.Close()
	})
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()
	if started {
		<-w.exited
	}
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return w.fsw.Add(path)
	})
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.exited)

	pending := make(map[string]bool)
	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	flush := func() {
		if len(pending) == 0 {
			return
		}
		paths := make([]string, 0, len(pending))
		for p := range pending {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		clear(pending)
		w.applyPaths(ctx, paths)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-timerC:
			timer, timerC = nil, nil
			flush()
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.track(ev) {
				continue
			}
			pending[ev.Name] = true
			if timer == nil {
				timer = time.NewTimer(w.opts.Debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.opts.Debounce)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("ingest watcher error", slog.String("error", err.Error()))
		}
	}
}

// track reports whether ev concerns a matching event file. New
// directories are added to the watch list as a side effect.
func (w *Watcher) track(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return false
	}
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(ev.Name); err != nil {
				slog.Warn("ingest watcher cannot follow directory",
					slog.String("dir", ev.Name),
					slog.String("error", err.Error()),
				)
			}
			return false
		}
	}
	rel, err := filepath.Rel(w.dir, ev.Name)
	if err != nil {
		return false
	}
	return Match(w.opts.Glob, rel)
}

func (w *Watcher) applyPaths(ctx context.Context, paths []string) {
	var (
		events []*builder.FileEvents
		failed []FileError
	)
	for _, p := range paths {
		evs, err := ReadFile(p)
		if err != nil {
			failed = append(failed, FileError{Path: p, Err: err})
			continue
		}
		events = append(events, evs...)
	}
	w.apply(ctx, paths, events, failed)
}

func (w *Watcher) apply(ctx context.Context, paths []string, events []*builder.FileEvents, failed []FileError) {
	res := &BatchResult{Paths: paths, FileErrors: failed}
	for _, fe := range failed {
		slog.Warn("event file skipped", slog.String("path", fe.Path), slog.String("error", fe.Err.Error()))
	}
	if len(events) > 0 {
		res.Build, res.Err = w.applier.ApplyAll(ctx, events)
		if res.Err != nil {
			slog.Error("ingest batch failed", slog.String("error", res.Err.Error()))
		}
		if res.Build != nil {
			for _, fe := range res.Build.FileErrors {
				slog.Warn("event batch rejected", slog.String("file", fe.File), slog.String("error", fe.Err.Error()))
			}
		}
	}
	recordBatch(ctx, len(events), len(failed))
	if w.opts.OnBatch != nil {
		w.opts.OnBatch(res)
	}
}
