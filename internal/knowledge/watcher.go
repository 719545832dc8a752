package knowledge

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// RulesWatcher watches a directory of .mg ontology rule files and reloads
// the reasoner when they change, so the ontology can be edited live.
type RulesWatcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	reasoner    *Reasoner
	rulesDir    string
	debounceMap map[string]time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
	logger      *zap.Logger
}

// NewRulesWatcher creates a watcher over rulesDir. The directory does not
// need to exist yet.
func NewRulesWatcher(rulesDir string, reasoner *Reasoner, logger *zap.Logger) (*RulesWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &RulesWatcher{
		watcher:     watcher,
		reasoner:    reasoner,
		rulesDir:    rulesDir,
		debounceMap: make(map[string]time.Time),
		debounceDur: 500 * time.Millisecond, // settle rapid editor saves
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		logger:      logger.With(zap.String("component", "rules_watcher")),
	}, nil
}

// Start loads the current rule files and begins watching. Non-blocking.
func (w *RulesWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.reload(); err != nil {
		w.logger.Warn("initial rules load failed", zap.Error(err))
	}

	if err := w.watcher.Add(w.rulesDir); err != nil {
		// Directory may not exist yet; reload still works if it appears
		// before the next manual trigger.
		w.logger.Warn("watch failed, hot-reload disabled", zap.String("dir", w.rulesDir), zap.Error(err))
	} else {
		w.logger.Info("watching ontology rules", zap.String("dir", w.rulesDir))
	}

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the loop to exit.
func (w *RulesWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	if err := w.watcher.Close(); err != nil {
		w.logger.Error("closing watcher", zap.Error(err))
	}
}

func (w *RulesWatcher) run(ctx context.Context) {
	defer close(w.doneCh)

	debounceTicker := time.NewTicker(100 * time.Millisecond)
	defer debounceTicker.Stop()

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
			w.logger.Error("watcher error", zap.Error(err))
		case <-debounceTicker.C:
			w.processDebounced()
		}
	}
}

func (w *RulesWatcher) handleEvent(event fsnotify.Event) {
	if !strings.HasSuffix(event.Name, ".mg") {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	w.mu.Lock()
	w.debounceMap[event.Name] = time.Now()
	w.mu.Unlock()
}

func (w *RulesWatcher) processDebounced() {
	w.mu.Lock()
	now := time.Now()
	pending := false
	for path, eventTime := range w.debounceMap {
		if now.Sub(eventTime) >= w.debounceDur {
			delete(w.debounceMap, path)
			pending = true
		}
	}
	w.mu.Unlock()

	if pending {
		if err := w.reload(); err != nil {
			w.logger.Warn("rules reload failed, keeping previous closure", zap.Error(err))
		}
	}
}

// reload concatenates all .mg files in the directory, in name order, and
// hands them to the reasoner.
func (w *RulesWatcher) reload() error {
	entries, err := os.ReadDir(w.rulesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".mg") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(w.rulesDir, name))
		if err != nil {
			return err
		}
		sb.Write(data)
		sb.WriteString("\n")
	}
	return w.reasoner.SetRules(sb.String())
}
