// Package watcher follows the ComfyUI output directory and remembers the most recently
// written image.
package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/richinsley/comfy2ayon/logger"
	"github.com/richinsley/comfy2ayon/publish"
)

// LatestOutput watches one directory for new images.
type LatestOutput struct {
	fsWatcher *fsnotify.Watcher
	dir       string
	exts      map[string]bool
	debounce  time.Duration
	log       logger.Logger

	mu     sync.RWMutex
	latest string

	onChange chan string
	done     chan struct{}
	stopOnce sync.Once
}

// Config holds watcher configuration options.
type Config struct {
	Dir         string
	Extensions  []string
	DebounceDur time.Duration
}

// DefaultConfig watches dir for PNG files.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:         dir,
		Extensions:  []string{".png"},
		DebounceDur: 250 * time.Millisecond,
	}
}

var _ publish.ImageSource = (*LatestOutput)(nil)

func New(cfg Config, log logger.Logger) (*LatestOutput, error) {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	exts := make(map[string]bool, len(cfg.Extensions))
	for _, e := range cfg.Extensions {
		exts[strings.ToLower(e)] = true
	}
	return &LatestOutput{
		fsWatcher: fsw,
		dir:       cfg.Dir,
		exts:      exts,
		debounce:  cfg.DebounceDur,
		log:       log.With(map[string]interface{}{"component": "watcher", "dir": cfg.Dir}),
		onChange:  make(chan string, 1),
		done:      make(chan struct{}),
	}, nil
}

// Start begins watching. The returned channel receives the latest image once writes
// to it have settled; sends are dropped when nobody is listening.
func (w *LatestOutput) Start() (<-chan string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", w.dir, err)
	}
	if err := w.fsWatcher.Add(w.dir); err != nil {
		return nil, fmt.Errorf("watching directory %s: %w", w.dir, err)
	}
	go w.loop()
	return w.onChange, nil
}

// Stop terminates the watcher and releases resources.
func (w *LatestOutput) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.fsWatcher.Close()
	})
	return err
}

// Latest returns the newest observed image, or the newest PNG in the directory when
// nothing was observed or the observed file is gone.
func (w *LatestOutput) Latest() (string, error) {
	w.mu.RLock()
	latest := w.latest
	w.mu.RUnlock()
	if latest != "" {
		if _, err := os.Stat(latest); err == nil {
			return latest, nil
		}
	}
	return publish.LatestImage(w.dir)
}

func (w *LatestOutput) loop() {
	var timer *time.Timer
	timerC := func() <-chan time.Time {
		if timer != nil {
			return timer.C
		}
		return nil
	}

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if !w.isRelevantEvent(event) {
				continue
			}
			w.mu.Lock()
			w.latest = event.Name
			w.mu.Unlock()

			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}

		case <-timerC():
			timer = nil
			w.mu.RLock()
			latest := w.latest
			w.mu.RUnlock()
			w.log.Debug("New output", map[string]interface{}{"file": latest})
			select {
			case w.onChange <- latest:
			default:
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("Watch error", nil)

		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

func (w *LatestOutput) isRelevantEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return false
	}
	return w.exts[strings.ToLower(filepath.Ext(event.Name))]
}
