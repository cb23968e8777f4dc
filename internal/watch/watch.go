// Package watch revalidates ODL documents as they are edited. It watches
// the containing directory, debounces rapid saves, and reports each settled
// change through a callback.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/chinmayajena/sundaygraph/internal/logging"
	"github.com/chinmayajena/sundaygraph/internal/odl"
)

// Report is the outcome of one revalidation.
type Report struct {
	Path string
	IR   *odl.IR // nil when Err is set
	Err  error
}

// Stats tracks watcher activity.
type Stats struct {
	Modified  int
	Validated int
	Invalid   int
	Errors    int
	LastEvent time.Time
}

// Watcher monitors ODL files under one directory.
type Watcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	dir         string
	onReport    func(Report)
	debounceMap map[string]time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
	stats       Stats
}

// New creates a watcher over dir. onReport receives one Report per settled
// change to a .json ODL file.
func New(dir string, onReport func(Report)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:     fw,
		dir:         dir,
		onReport:    onReport,
		debounceMap: make(map[string]time.Time),
		debounceDur: 300 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching. Non-blocking.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.watcher.Add(w.dir); err != nil {
		return err
	}
	logging.Pipeline("watch: watching %s", w.dir)

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	w.watcher.Close()
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Pipeline("watch: error: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()
		case <-ticker.C:
			w.processSettled()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !strings.HasSuffix(event.Name, ".json") {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return
	}

	w.mu.Lock()
	w.stats.Modified++
	w.stats.LastEvent = time.Now()
	w.debounceMap[event.Name] = time.Now()
	w.mu.Unlock()
}

// processSettled validates files whose last event is past the debounce
// window.
func (w *Watcher) processSettled() {
	w.mu.Lock()
	now := time.Now()
	var settled []string
	for path, at := range w.debounceMap {
		if now.Sub(at) >= w.debounceDur {
			settled = append(settled, path)
			delete(w.debounceMap, path)
		}
	}
	w.mu.Unlock()

	for _, path := range settled {
		w.validate(path)
	}
}

func (w *Watcher) validate(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		w.mu.Lock()
		w.stats.Errors++
		w.mu.Unlock()
		w.report(Report{Path: path, Err: err})
		return
	}

	ir, err := odl.Process(data)
	w.mu.Lock()
	w.stats.Validated++
	if err != nil {
		w.stats.Invalid++
	}
	w.mu.Unlock()

	if err != nil {
		logging.Pipeline("watch: %s invalid: %v", filepath.Base(path), err)
	} else {
		logging.PipelineDebug("watch: %s valid (hash %.12s)", filepath.Base(path), ir.Hash())
	}
	w.report(Report{Path: path, IR: ir, Err: err})
}

func (w *Watcher) report(r Report) {
	if w.onReport != nil {
		w.onReport(r)
	}
}

// GetStats returns current counters.
func (w *Watcher) GetStats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

// IsWatching reports whether the loop is running.
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}
