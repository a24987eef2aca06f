package templates

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/filigree-dev/filigree/internal/configfile"
	"github.com/filigree-dev/filigree/internal/debug"
)

// Watch reloads the registry when pack or override files change on disk.
// Events are debounced because editors fire several per save. Blocks until
// ctx is done; run it in a goroutine from long-lived processes.
func (r *Registry) Watch(ctx context.Context) error {
	if r.dir == "" {
		<-ctx.Done()
		return ctx.Err()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	for _, dir := range []string{configfile.PacksDir(r.dir), configfile.TemplatesDir(r.dir)} {
		if err := watcher.Add(dir); err != nil {
			debug.Logf("templates: not watching %s: %v", dir, err)
		}
	}

	const debounce = 250 * time.Millisecond
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
			} else {
				timer.Reset(debounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			debug.Logf("templates: watch error: %v", err)
		case <-timerC:
			timer = nil
			timerC = nil
			if err := r.Reload(); err != nil {
				// A half-written file is expected during editing; keep the
				// previous snapshot and try again on the next event.
				debug.Logf("templates: reload failed, keeping previous snapshot: %v", err)
			} else {
				debug.Logf("templates: reloaded")
			}
		}
	}
}
