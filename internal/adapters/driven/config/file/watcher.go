package file

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/custodia-labs/chatguard/internal/core/filter"
	"github.com/custodia-labs/chatguard/internal/logger"
)

// defaultDebounce batches the bursts of events editors produce on save.
const defaultDebounce = 250 * time.Millisecond

// TermWatcher rebuilds the sensitive-term matcher when the term file changes
// and publishes it through a filter.Holder. A failed reload keeps the
// previous matcher.
type TermWatcher struct {
	path     string
	extra    []string
	holder   *filter.Holder
	debounce time.Duration

	// reloaded is signalled after every successful reload. Used by tests.
	reloaded chan struct{}
}

// NewTermWatcher creates a watcher for path. extra terms are added on every reload.
func NewTermWatcher(path string, extra []string, holder *filter.Holder) *TermWatcher {
	return &TermWatcher{
		path:     filepath.Clean(path),
		extra:    extra,
		holder:   holder,
		debounce: defaultDebounce,
		reloaded: make(chan struct{}, 1),
	}
}

// Run watches until ctx is cancelled. The parent directory is watched so
// that editors replacing the file by rename are seen.
func (w *TermWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watching %s: %w", w.path, err)
	}
	logger.Info("watching sensitive terms in %s", w.path)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			logger.Debug("terms file event: %s", event.Op)
			timer.Reset(w.debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("terms watcher: %v", err)

		case <-timer.C:
			w.reload()
		}
	}
}

func (w *TermWatcher) reload() {
	terms, err := LoadTerms(w.path, w.extra)
	if err != nil {
		logger.Warn("reloading sensitive terms: %v (keeping previous list)", err)
		return
	}
	w.holder.Store(filter.Build(terms))
	logger.Info("reloaded %d sensitive terms", len(terms))

	select {
	case w.reloaded <- struct{}{}:
	default:
	}
}
