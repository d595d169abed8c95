// Package watcher monitors the session tree for artifact changes and feeds
// them to the live event surfaces (SSE, websocket, TUI).
package watcher

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pokt-foundation/shannon-orch/internal/domain"
)

// ChangeCallback is called with the session whose artifacts changed
type ChangeCallback func(kind domain.SessionKind, sessionID string, changedFiles []string)

// SessionWatcher monitors session directories under the store root. New
// session directories are picked up as they appear; rapid artifact writes
// are debounced into one callback.
type SessionWatcher struct {
	root     string
	watcher  *fsnotify.Watcher
	callback ChangeCallback
	debounce time.Duration

	pending map[string]map[string]struct{} // "<kind>/<id>" -> files
	timer   *time.Timer
	mu      sync.Mutex

	cancel context.CancelFunc
}

// New creates a watcher over the session store root
func New(root string, callback ChangeCallback) (*SessionWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	sw := &SessionWatcher{
		root:     root,
		watcher:  w,
		callback: callback,
		debounce: 500 * time.Millisecond,
		pending:  make(map[string]map[string]struct{}),
	}
	if err := sw.addExisting(); err != nil {
		w.Close()
		return nil, err
	}
	return sw, nil
}

// addExisting registers the kind directories and every session tree already
// on disk.
func (sw *SessionWatcher) addExisting() error {
	if err := sw.watcher.Add(sw.root); err != nil {
		return err
	}
	for _, kind := range []domain.SessionKind{domain.KindMigration, domain.KindStaking} {
		dir := filepath.Join(sw.root, string(kind))
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			continue
		}
		if err := sw.watchTree(dir); err != nil {
			return err
		}
	}
	return nil
}

func (sw *SessionWatcher) watchTree(dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if info.IsDir() {
			return sw.watcher.Add(path)
		}
		return nil
	})
}

// Start begins delivering change callbacks until the context is cancelled
func (sw *SessionWatcher) Start(ctx context.Context) {
	ctx, sw.cancel = context.WithCancel(ctx)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-sw.watcher.Events:
				if !ok {
					return
				}
				sw.handleEvent(event)
			case err, ok := <-sw.watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[watcher] %v", err)
			}
		}
	}()
}

// Stop halts watching and releases the inotify handles
func (sw *SessionWatcher) Stop() {
	if sw.cancel != nil {
		sw.cancel()
	}
	sw.watcher.Close()
}

// SetDebounce adjusts the batching window. Test hook.
func (sw *SessionWatcher) SetDebounce(d time.Duration) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.debounce = d
}

func (sw *SessionWatcher) handleEvent(event fsnotify.Event) {
	if event.Op&fsnotify.Create != 0 {
		// New session or artifact directory: extend the watch
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := sw.watchTree(event.Name); err != nil {
				log.Printf("[watcher] watching %s: %v", event.Name, err)
			}
			return
		}
	}
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	// Mnemonics never leave the session tree through the event surface
	if filepath.Base(event.Name) == "wallet_mnemonics.json" {
		return
	}

	kind, id := sw.sessionFor(event.Name)
	if id == "" {
		return
	}

	sw.mu.Lock()
	defer sw.mu.Unlock()

	key := string(kind) + "/" + id
	if sw.pending[key] == nil {
		sw.pending[key] = make(map[string]struct{})
	}
	sw.pending[key][event.Name] = struct{}{}

	if sw.timer != nil {
		sw.timer.Stop()
	}
	sw.timer = time.AfterFunc(sw.debounce, sw.flush)
}

// sessionFor maps a file path to its (kind, session id); empty when the path
// is outside a session directory.
func (sw *SessionWatcher) sessionFor(path string) (domain.SessionKind, string) {
	rel, err := filepath.Rel(sw.root, path)
	if err != nil {
		return "", ""
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) < 3 {
		return "", ""
	}
	kind := domain.SessionKind(parts[0])
	if !kind.Valid() {
		return "", ""
	}
	return kind, parts[1]
}

func (sw *SessionWatcher) flush() {
	sw.mu.Lock()
	pending := sw.pending
	sw.pending = make(map[string]map[string]struct{})
	sw.mu.Unlock()

	if sw.callback == nil {
		return
	}
	for key, fileSet := range pending {
		kind, id, ok := strings.Cut(key, "/")
		if !ok {
			continue
		}
		files := make([]string, 0, len(fileSet))
		for f := range fileSet {
			files = append(files, f)
		}
		sw.callback(domain.SessionKind(kind), id, files)
	}
}
