// Package watch feeds corpus file changes into the running service:
// it invalidates the project cache and broadcasts file_change events
// to connected viewers.
package watch

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kaiwahq/kaiwa/internal/bus"
	"github.com/kaiwahq/kaiwa/internal/corpus"
	"github.com/kaiwahq/kaiwa/pkg/protocol"
)

// debounceWindow coalesces the write bursts produced while a
// conversation is being appended. All events for one project inside
// the window collapse into a single broadcast; the latest event wins.
const debounceWindow = 2 * time.Second

// Watcher owns the fsnotify loop over the corpus root and all project
// directories. Directories created while running are picked up from
// their create events.
type Watcher struct {
	catalog *corpus.Catalog
	cache   *corpus.ProjectCache
	pub     bus.EventPublisher

	debounce time.Duration

	mu      sync.Mutex
	pending map[string]*pendingChange
}

type pendingChange struct {
	event string
	path  string
}

func New(catalog *corpus.Catalog, cache *corpus.ProjectCache, pub bus.EventPublisher) *Watcher {
	return &Watcher{
		catalog:  catalog,
		cache:    cache,
		pub:      pub,
		debounce: debounceWindow,
		pending:  make(map[string]*pendingChange),
	}
}

// Run watches until ctx is cancelled. A missing corpus root disables
// watching without failing the service.
func (w *Watcher) Run(ctx context.Context) error {
	root := w.catalog.Root()
	if _, err := os.Stat(root); err != nil {
		slog.Warn("watch: corpus root not found, watcher disabled", "root", root, "error", err)
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := fsw.Add(root); err != nil {
		return err
	}
	projects, err := w.catalog.List()
	if err != nil {
		slog.Warn("watch: listing projects failed", "error", err)
	}
	for _, p := range projects {
		if err := fsw.Add(w.catalog.Dir(p.ID)); err != nil {
			slog.Warn("watch: cannot watch project dir", "project", p.ID, "error", err)
		}
	}
	slog.Info("watch: watching corpus", "root", root, "projects", len(projects))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(fsw, event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watch: watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(fsw *fsnotify.Watcher, event fsnotify.Event) {
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			// A new project directory: watch it from now on.
			if err := fsw.Add(event.Name); err != nil {
				slog.Warn("watch: cannot watch new dir", "path", event.Name, "error", err)
			} else {
				slog.Info("watch: new project dir", "path", event.Name)
			}
			return
		}
	}

	if !strings.HasSuffix(event.Name, ".jsonl") {
		return
	}

	switch {
	case event.Op&fsnotify.Create != 0:
		w.OnChange(event.Name, protocol.FileEventCreated)
	case event.Op&fsnotify.Write != 0:
		w.OnChange(event.Name, protocol.FileEventModified)
	}
}

// OnChange registers one file event. The first event for a project
// arms its debounce timer; later events inside the window only update
// the payload. After the window the change is flushed: cache entry
// invalidated, file_change broadcast.
func (w *Watcher) OnChange(path, event string) {
	projectID := w.projectFor(path)
	if projectID == "" {
		slog.Debug("watch: event outside known projects", "path", path)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if p, ok := w.pending[projectID]; ok {
		p.event = event
		p.path = path
		return
	}
	w.pending[projectID] = &pendingChange{event: event, path: path}
	time.AfterFunc(w.debounce, func() { w.flush(projectID) })
}

func (w *Watcher) flush(projectID string) {
	w.mu.Lock()
	p, ok := w.pending[projectID]
	delete(w.pending, projectID)
	w.mu.Unlock()
	if !ok {
		return
	}

	w.cache.Invalidate(projectID)
	slog.Info("watch: corpus changed", "project", projectID, "event", p.event, "path", p.path)

	w.pub.Broadcast(bus.Event{
		Name:    protocol.EventFileChange,
		Project: projectID,
		Payload: protocol.FileChange{
			Type:      protocol.EventFileChange,
			Event:     p.event,
			FilePath:  p.path,
			ProjectID: projectID,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// projectFor maps an absolute file path to the owning project by
// longest-prefix match over the known project directories.
func (w *Watcher) projectFor(path string) string {
	projects, err := w.catalog.List()
	if err != nil {
		slog.Warn("watch: listing projects failed", "error", err)
		return ""
	}
	best := ""
	bestLen := -1
	for _, p := range projects {
		dir := w.catalog.Dir(p.ID)
		if strings.HasPrefix(path, dir+string(os.PathSeparator)) && len(dir) > bestLen {
			best = p.ID
			bestLen = len(dir)
		}
	}
	return best
}
