package corpus

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// ProjectCache memoizes the concatenated, continuation-linked message
// list of a whole project directory. An entry is valid while the
// maximum *.jsonl mtime in the directory stays at or below the stored
// snapshot; the watcher additionally invalidates on file events.
type ProjectCache struct {
	catalog *Catalog
	files   *FileCache
	workers int

	mu      sync.RWMutex
	entries map[string]*projectEntry
	group   singleflight.Group
}

type projectEntry struct {
	maxMtime time.Time
	messages []Message
}

// NewProjectCache builds the cache over a catalog and file cache.
func NewProjectCache(catalog *Catalog, files *FileCache) *ProjectCache {
	return &ProjectCache{
		catalog: catalog,
		files:   files,
		workers: runtime.GOMAXPROCS(0),
		entries: make(map[string]*projectEntry),
	}
}

// Get returns every message of the project, ascending by timestamp.
// The fast paths stat the directory and then the files; only when the
// max file mtime moved past the snapshot is anything re-read, and then
// per-file parses still hit the file cache.
func (pc *ProjectCache) Get(ctx context.Context, project Project) ([]Message, error) {
	pc.mu.RLock()
	e := pc.entries[project.ID]
	pc.mu.RUnlock()

	if e != nil {
		if info, err := os.Stat(pc.catalog.Dir(project.ID)); err == nil &&
			!info.ModTime().After(e.maxMtime) {
			return e.messages, nil
		}
		files, err := pc.catalog.Files(project.ID)
		if err == nil && !maxFileMtime(files).After(e.maxMtime) {
			return e.messages, nil
		}
	}

	v, err, _ := pc.group.Do(project.ID, func() (interface{}, error) {
		return pc.rebuild(ctx, project)
	})
	if err != nil {
		return nil, err
	}
	return v.([]Message), nil
}

// Invalidate drops the entry for a project. Called by the watcher on
// any create/modify event for a contained *.jsonl.
func (pc *ProjectCache) Invalidate(projectID string) {
	pc.mu.Lock()
	delete(pc.entries, projectID)
	pc.mu.Unlock()
	slog.Debug("corpus.cache: project invalidated", "project", projectID)
}

func (pc *ProjectCache) rebuild(ctx context.Context, project Project) ([]Message, error) {
	files, err := pc.catalog.Files(project.ID)
	if err != nil {
		return nil, err
	}

	results := make([][]Message, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(pc.workers)
	for i, path := range files {
		g.Go(func() error {
			msgs, err := pc.files.Get(gctx, path, project)
			if err != nil {
				// An unreadable file contributes nothing; the project
				// is still served.
				slog.Error("corpus.cache: file skipped", "path", path, "error", err)
				return nil
			}
			results[i] = msgs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := gctx.Err(); err != nil {
		return nil, err
	}

	total := 0
	for _, r := range results {
		total += len(r)
	}
	msgs := make([]Message, 0, total)
	for _, r := range results {
		msgs = append(msgs, r...)
	}
	linkContinuations(msgs)
	SortMessages(msgs)

	pc.mu.Lock()
	pc.entries[project.ID] = &projectEntry{
		maxMtime: maxFileMtime(files),
		messages: msgs,
	}
	pc.mu.Unlock()
	return msgs, nil
}

// linkContinuations resolves each continued_from_uuid to the session
// owning the target uuid. Runs before the slice is published, so the
// messages stay effectively immutable afterwards.
func linkContinuations(msgs []Message) {
	byUUID := make(map[string]string, len(msgs))
	for i := range msgs {
		if msgs[i].UUID != "" {
			byUUID[msgs[i].UUID] = msgs[i].SessionID
		}
	}
	for i := range msgs {
		if ref := msgs[i].ContinuedFromUUID; ref != "" {
			if sid, ok := byUUID[ref]; ok {
				msgs[i].ParentSessionID = sid
			}
		}
	}
}

func maxFileMtime(files []string) time.Time {
	var max time.Time
	for _, f := range files {
		if info, err := os.Stat(f); err == nil && info.ModTime().After(max) {
			max = info.ModTime()
		}
	}
	return max
}
