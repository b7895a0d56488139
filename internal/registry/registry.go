// Package registry keeps the current trained model per user in memory
// and hot-reloads artifacts when the models directory changes on disk.
//
// Publishing a retrained model writes the artifact atomically and then
// swaps the in-memory entry, so a model swap between the capture and
// scoring steps of an authentication attempt cannot mix state from two
// models: callers hold the *profile.Model they resolved for the whole
// attempt.
package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"typeprint/internal/logging"
	"typeprint/internal/profile"
)

// ErrNoModel is returned when no model is registered for a user.
var ErrNoModel = errors.New("no model registered for user")

// Registry maps user IDs to their current model.
type Registry struct {
	modelsDir string

	mu     sync.RWMutex
	models map[int64]*profile.Model

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	log     *logging.Logger
}

// Open creates a registry over the models directory and loads every
// valid artifact already present. Invalid artifacts are skipped with a
// warning rather than failing the whole registry.
func Open(modelsDir string, log *logging.Logger) (*Registry, error) {
	if log == nil {
		log = logging.Default()
	}
	if err := os.MkdirAll(modelsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create models directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		modelsDir: modelsDir,
		models:    make(map[int64]*profile.Model),
		ctx:       ctx,
		cancel:    cancel,
		log:       log.WithComponent("registry"),
	}

	entries, err := os.ReadDir(modelsDir)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("read models directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(modelsDir, e.Name())
		userID := profile.UserIDFromPath(path)
		if userID < 0 {
			continue
		}
		if err := r.loadPath(path, userID); err != nil {
			r.log.Warn("skipping invalid model artifact", "path", path, "error", err)
		}
	}

	return r, nil
}

// Get returns the current model for a user.
func (r *Registry) Get(userID int64) (*profile.Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[userID]
	if !ok {
		return nil, fmt.Errorf("%w: user %d", ErrNoModel, userID)
	}
	return m, nil
}

// Users returns the IDs of all users with a registered model.
func (r *Registry) Users() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int64, 0, len(r.models))
	for id := range r.models {
		ids = append(ids, id)
	}
	return ids
}

// Put persists the model artifact and swaps it in as the user's current
// model. The old artifact stays valid until the rename lands.
func (r *Registry) Put(m *profile.Model) error {
	path := profile.Path(r.modelsDir, m.UserID)
	if err := profile.Save(m, path); err != nil {
		return err
	}

	r.mu.Lock()
	r.models[m.UserID] = m
	r.mu.Unlock()

	if fp, err := profile.Fingerprint(m); err == nil {
		r.log.Info("model published", "user_id", m.UserID, "fingerprint", fp)
	}
	return nil
}

// Remove forgets a user's model and deletes its artifact.
func (r *Registry) Remove(userID int64) error {
	r.mu.Lock()
	delete(r.models, userID)
	r.mu.Unlock()

	path := profile.Path(r.modelsDir, userID)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove model artifact: %w", err)
	}
	r.log.Info("model removed", "user_id", userID)
	return nil
}

// Watch starts hot-reloading artifacts written to the models directory
// by other processes.
func (r *Registry) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(r.modelsDir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch models directory: %w", err)
	}
	r.watcher = watcher

	go r.watchLoop()
	return nil
}

// watchLoop handles file system events on the models directory.
func (r *Registry) watchLoop() {
	// Debounce per path so a write burst reloads once.
	timers := make(map[string]*time.Timer)
	var timersMu sync.Mutex
	debounceDelay := 100 * time.Millisecond

	for {
		select {
		case <-r.ctx.Done():
			return

		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if strings.HasPrefix(filepath.Base(event.Name), ".") {
				continue // temp files from atomic writes
			}
			userID := profile.UserIDFromPath(event.Name)
			if userID < 0 {
				continue
			}

			switch {
			case event.Op&(fsnotify.Write|fsnotify.Create) != 0:
				path := event.Name
				timersMu.Lock()
				if t, ok := timers[path]; ok {
					t.Stop()
				}
				timers[path] = time.AfterFunc(debounceDelay, func() {
					if err := r.loadPath(path, userID); err != nil {
						r.log.Warn("reload model failed", "path", path, "error", err)
					}
				})
				timersMu.Unlock()

			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				r.mu.Lock()
				delete(r.models, userID)
				r.mu.Unlock()
				r.log.Info("model unloaded", "user_id", userID)
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.log.Warn("model watcher error", "error", err)
		}
	}
}

// loadPath loads and registers one artifact.
func (r *Registry) loadPath(path string, userID int64) error {
	m, err := profile.Load(path)
	if err != nil {
		return err
	}
	if m.UserID != userID {
		return fmt.Errorf("artifact %s holds model for user %d", filepath.Base(path), m.UserID)
	}

	r.mu.Lock()
	r.models[userID] = m
	r.mu.Unlock()

	if fp, err := profile.Fingerprint(m); err == nil {
		r.log.Info("model loaded", "user_id", userID, "fingerprint", fp)
	}
	return nil
}

// Close stops the watcher.
func (r *Registry) Close() error {
	r.cancel()
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}
