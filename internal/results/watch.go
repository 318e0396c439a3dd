package results

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/me/foamrun/pkg/model"
)

// watchDebounce batches the bursts of writes the solver makes per iteration.
const watchDebounce = 200 * time.Millisecond

// Watch calls fn with the latest sample whenever the coefficient table in
// caseDir gains a new final row, until ctx is done. The directory holding
// the table must exist; the table itself may appear later.
func (e *Extractor) Watch(ctx context.Context, caseDir string, fn func(*model.CoefficientSample)) error {
	path := e.Path(caseDir)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: the solver may create or replace the file.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}
	e.logger.Debug("watching coefficient table", "path", path)

	var last *model.CoefficientSample
	emit := func() {
		s, err := e.Latest(caseDir)
		if err != nil {
			e.logger.Debug("table not readable yet", "error", err)
			return
		}
		if last != nil && *last == *s {
			return
		}
		last = s
		fn(s)
	}
	emit()

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				debounce = time.After(watchDebounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			e.logger.Warn("watcher error", "error", err)
		case <-debounce:
			debounce = nil
			emit()
		}
	}
}
