package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/pantrykit/authgate/internal/auth"
)

// MappingHolder holds the current role mapping and swaps it atomically
// on reload. In-flight requests keep the mapping they already read.
type MappingHolder struct {
	current atomic.Pointer[auth.RoleMapping]
}

// NewMappingHolder creates a holder seeded with the given mapping.
func NewMappingHolder(mapping *auth.RoleMapping) *MappingHolder {
	h := &MappingHolder{}
	h.current.Store(mapping)
	return h
}

// Current returns the mapping in effect. Implements auth.MappingSource.
func (h *MappingHolder) Current() *auth.RoleMapping {
	return h.current.Load()
}

// Replace swaps in a new mapping wholesale.
func (h *MappingHolder) Replace(mapping *auth.RoleMapping) {
	h.current.Store(mapping)
}

// MappingWatcher monitors the role-mapping file and reloads the held
// mapping on change. A reload that fails to parse keeps the previous
// mapping in effect.
type MappingWatcher struct {
	watcher         *fsnotify.Watcher
	path            string
	base            *Config
	holder          *MappingHolder
	logger          *zap.Logger
	debounceTimeout time.Duration
	debounceTimer   *time.Timer
	stopChan        chan struct{}
	mu              sync.Mutex
	watching        bool
}

// NewMappingWatcher creates a watcher for the configured role-mapping
// file. The base config supplies the non-file role sources folded into
// every rebuilt mapping.
func NewMappingWatcher(base *Config, holder *MappingHolder, logger *zap.Logger) (*MappingWatcher, error) {
	if base.RoleMappingFile == "" {
		return nil, fmt.Errorf("no role mapping file configured")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	return &MappingWatcher{
		watcher:         watcher,
		path:            base.RoleMappingFile,
		base:            base,
		holder:          holder,
		logger:          logger,
		debounceTimeout: 500 * time.Millisecond,
		stopChan:        make(chan struct{}),
	}, nil
}

// Watch starts watching the mapping file's directory. Watching the
// directory rather than the file survives editors that replace the
// file on save.
func (w *MappingWatcher) Watch(ctx context.Context) error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return fmt.Errorf("watcher is already running")
	}
	w.watching = true
	w.mu.Unlock()

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
		return fmt.Errorf("watch role mapping file: %w", err)
	}

	w.logger.Info("watching role mapping file",
		zap.String("path", w.path),
		zap.Duration("debounce", w.debounceTimeout),
	)

	go w.watchLoop(ctx)
	return nil
}

func (w *MappingWatcher) watchLoop(ctx context.Context) {
	defer func() {
		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) == filepath.Clean(w.path) {
				w.scheduleReload()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("role mapping watcher error", zap.Error(err))
		}
	}
}

// scheduleReload debounces bursts of file events into one reload.
func (w *MappingWatcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debounceTimeout, w.Reload)
}

// Reload rebuilds the mapping from all configured sources and swaps it
// in. On failure the previous mapping stays in effect.
func (w *MappingWatcher) Reload() {
	mapping, err := w.base.BuildRoleMapping()
	if err != nil {
		w.logger.Error("role mapping reload failed, keeping previous mapping",
			zap.String("path", w.path),
			zap.Error(err),
		)
		return
	}

	w.holder.Replace(mapping)
	w.logger.Info("role mapping reloaded",
		zap.String("path", w.path),
		zap.Int("identifiers", mapping.Len()),
	)
}

// SetDebounceTimeout adjusts the reload debounce window.
func (w *MappingWatcher) SetDebounceTimeout(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.debounceTimeout = d
}

// Stop stops the watcher.
func (w *MappingWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.watching {
		return nil
	}
	close(w.stopChan)
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	return w.watcher.Close()
}
