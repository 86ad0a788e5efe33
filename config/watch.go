package config

import (
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads Settings from a fixed path whenever the file changes on
// disk, the way spec.md §6 describes the running server picking up edits
// made directly to the persisted document (as opposed to changes made
// through the administration RPC, which apply in-process and then call
// Save themselves).
type Watcher struct {
	path    string
	fw      *fsnotify.Watcher
	logger  *slog.Logger
	onChange func(Settings)
	done    chan struct{}
}

// NewWatcher starts watching path's parent directory (fsnotify watches
// directories more reliably than bare files across editors that replace
// rather than truncate-in-place) and invokes onChange with each
// successfully reloaded Settings document. Reload errors are logged and
// otherwise ignored: a transient partial write should not crash the
// server.
func NewWatcher(path string, logger *slog.Logger, onChange func(Settings)) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{path: path, fw: fw, logger: logger, onChange: onChange, done: make(chan struct{})}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if ev.Name != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			s, match, err := Load(w.path)
			if err != nil {
				w.logger.Warn("config reload failed", "path", w.path, "error", err)
				continue
			}
			if !match {
				w.logger.Warn("config checksum mismatch, file was edited outside the admin interface", "path", w.path)
			}
			w.onChange(s)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	err := w.fw.Close()
	<-w.done
	return err
}
