package cli

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const watchDebounce = 200 * time.Millisecond

// scriptWatcher reports changes to a fixed set of replay script files.
//
// Directories are watched rather than files, since editors often save by
// writing a temp file and renaming it over the original.
type scriptWatcher struct {
	watcher  *fsnotify.Watcher
	debounce time.Duration
	paths    map[string]bool
	onChange func(path string)

	wg        sync.WaitGroup
	done      chan struct{}
	pendingMu sync.Mutex
	pending   map[string]*time.Timer
}

func newScriptWatcher(paths []string, onChange func(path string)) (*scriptWatcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &scriptWatcher{
		watcher:  fsWatcher,
		debounce: watchDebounce,
		paths:    make(map[string]bool),
		onChange: onChange,
		done:     make(chan struct{}),
		pending:  make(map[string]*time.Timer),
	}

	dirs := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			_ = fsWatcher.Close()
			return nil, err
		}
		w.paths[abs] = true
		dirs[filepath.Dir(abs)] = true
	}

	for dir := range dirs {
		if err := fsWatcher.Add(dir); err != nil {
			_ = fsWatcher.Close()
			return nil, err
		}
	}

	return w, nil
}

func (w *scriptWatcher) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.processLoop(ctx)
	}()
}

func (w *scriptWatcher) Stop() error {
	close(w.done)
	w.wg.Wait()

	w.pendingMu.Lock()
	for _, t := range w.pending {
		t.Stop()
	}
	w.pendingMu.Unlock()

	return w.watcher.Close()
}

func (w *scriptWatcher) processLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Watcher error")
		}
	}
}

// handleFSEvent debounces writes and creates of watched scripts.
func (w *scriptWatcher) handleFSEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}

	path, err := filepath.Abs(event.Name)
	if err != nil || !w.paths[path] {
		return
	}

	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	if timer, exists := w.pending[path]; exists {
		timer.Stop()
	}

	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.pendingMu.Lock()
		delete(w.pending, path)
		w.pendingMu.Unlock()

		log.Debug().Str("path", path).Str("op", event.Op.String()).Msg("Replay script changed")
		w.onChange(path)
	})
}
