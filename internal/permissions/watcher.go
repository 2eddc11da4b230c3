package permissions

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 500 * time.Millisecond

// fileWatcher invokes onChange after a debounce window whenever the
// watched file is written, created, renamed, or removed. The parent
// directory is watched rather than the file itself: editors and config
// management tools replace files via rename, which would drop a watch
// on the file.
type fileWatcher struct {
	watcher  *fsnotify.Watcher
	path     string
	onChange func()
	debounce time.Duration

	mu    sync.Mutex
	timer *time.Timer

	stopCh chan struct{}
}

func watchFile(path string, onChange func()) (*fileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, err
	}
	fw := &fileWatcher{
		watcher:  w,
		path:     path,
		onChange: onChange,
		debounce: reloadDebounce,
		stopCh:   make(chan struct{}),
	}
	go fw.loop()
	return fw, nil
}

func (fw *fileWatcher) loop() {
	for {
		select {
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(fw.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			fw.schedule()
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("roles watcher error", "error", err)
		case <-fw.stopCh:
			return
		}
	}
}

// schedule resets the debounce timer, coalescing event bursts from
// atomic saves into one change callback.
func (fw *fileWatcher) schedule() {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.timer != nil {
		fw.timer.Stop()
	}
	fw.timer = time.AfterFunc(fw.debounce, fw.onChange)
}

func (fw *fileWatcher) close() error {
	fw.mu.Lock()
	if fw.timer != nil {
		fw.timer.Stop()
	}
	fw.mu.Unlock()
	close(fw.stopCh)
	return fw.watcher.Close()
}
