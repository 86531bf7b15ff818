package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the config when the file changes on disk. Editors
// write through renames and emit bursts of events, so changes are
// debounced before the reload fires.
type Watcher struct {
	manager  *Manager
	watcher  *fsnotify.Watcher
	onReload func(*Config)

	debounce time.Duration
	mu       sync.Mutex
	pending  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Watch starts watching the manager's config directory and invokes
// onReload with the freshly loaded config after each change settles.
func (m *Manager) Watch(onReload func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	// Watch the directory, not the file: renames replace the inode.
	if err := fw.Add(m.configDir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", m.configDir, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		manager:  m,
		watcher:  fw,
		onReload: onReload,
		debounce: 300 * time.Millisecond,
		ctx:      ctx,
		cancel:   cancel,
	}
	w.wg.Add(2)
	go w.eventLoop()
	go w.debounceLoop()
	return w, nil
}

// Stop tears the watcher down.
func (w *Watcher) Stop() error {
	w.cancel()
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) eventLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Name != w.manager.Path() {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.mu.Lock()
			w.pending = true
			w.mu.Unlock()
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher) debounceLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.mu.Lock()
			fire := w.pending
			w.pending = false
			w.mu.Unlock()
			if !fire {
				continue
			}
			cfg, err := w.manager.Load()
			if err != nil {
				continue
			}
			w.onReload(cfg)
		}
	}
}
