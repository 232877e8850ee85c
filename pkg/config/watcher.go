package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce collapses bursts of editor writes into one reload.
const DefaultDebounce = 500 * time.Millisecond

// notifier 保護 reload channel：debounce timer 可能在 watcher 關閉後才觸發
type notifier struct {
	mu     sync.Mutex
	ch     chan struct{}
	closed bool
}

// signal queues one reload without blocking. It is a no-op once closed.
func (n *notifier) signal() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	select {
	case n.ch <- struct{}{}:
	default:
	}
}

func (n *notifier) close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.closed {
		n.closed = true
		close(n.ch)
	}
}

// WatchFiles initializes a filesystem watcher for the specified files.
// It returns a channel that emits an empty struct when a change is detected
// and debounced. The watcher runs in a goroutine until the context is canceled.
//
// Directories are watched instead of the files themselves so atomic saves
// (write temp file, rename over) keep being observed.
func WatchFiles(ctx context.Context, debounce time.Duration, files ...string) <-chan struct{} {
	n := &notifier{ch: make(chan struct{}, 1)} // Buffer 1 so we don't block sender

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Error("Failed to create fsnotify watcher", "error", err)
		n.close()
		return n.ch
	}

	targets := make(map[string]struct{}, len(files))
	for _, file := range files {
		absPath, err := filepath.Abs(file)
		if err != nil {
			slog.Warn("Could not resolve absolute path for watch file", "file", file)
			continue
		}
		targets[absPath] = struct{}{}
		if err := watcher.Add(filepath.Dir(absPath)); err != nil {
			slog.Warn("Could not watch file", "file", file, "error", err)
		} else {
			slog.Debug("Watching file", "file", absPath)
		}
	}

	go func() {
		defer watcher.Close()
		defer n.close()

		var timer *time.Timer
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if _, watched := targets[filepath.Clean(event.Name)]; !watched {
					continue
				}
				// 只在寫入或重建 (Vim/nano atomic save) 時觸發
				if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				name := event.Name
				timer = time.AfterFunc(debounce, func() {
					slog.Info("File change detected", "file", name)
					n.signal()
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("Watcher encountered an error", "error", err)
			}
		}
	}()

	return n.ch
}

// ReloadOnChange calls reload after every debounced change of files until ctx
// is done. Reload errors are logged and the previous state is kept.
func ReloadOnChange(ctx context.Context, reload func() error, files ...string) {
	changes := WatchFiles(ctx, DefaultDebounce, files...)
	go func() {
		for range changes {
			if err := reload(); err != nil {
				slog.Error("Reload failed, keeping previous version", "error", err)
				continue
			}
			slog.Info("Reload complete", "files", files)
		}
	}()
}
