package corpus

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// FileCache memoizes classified messages per file, keyed by absolute
// path. An entry is valid only while the file's (mtime, size) pair is
// byte-identical to the current stat; any drift forces a re-parse.
// Unbounded: eviction comes from project invalidation and restart.
type FileCache struct {
	mu      sync.RWMutex
	entries map[string]*fileEntry
	group   singleflight.Group
}

type fileEntry struct {
	modTime  time.Time
	size     int64
	messages []Message
}

// NewFileCache returns an empty cache.
func NewFileCache() *FileCache {
	return &FileCache{entries: make(map[string]*fileEntry)}
}

// Get returns the messages of path, re-parsing when the cached entry no
// longer matches the file's current stat. Concurrent misses for the
// same path collapse into one parse.
func (fc *FileCache) Get(ctx context.Context, path string, project Project) ([]Message, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	fc.mu.RLock()
	e := fc.entries[path]
	fc.mu.RUnlock()
	if e != nil && e.size == info.Size() && e.modTime.Equal(info.ModTime()) {
		return e.messages, nil
	}

	v, err, _ := fc.group.Do(path, func() (interface{}, error) {
		// The stat is taken before the parse: if the file grows while
		// we read it, the stored key is already stale and the next Get
		// re-parses.
		msgs, err := ReadFile(ctx, path, project)
		if err != nil {
			return nil, err
		}
		fc.mu.Lock()
		fc.entries[path] = &fileEntry{
			modTime:  info.ModTime(),
			size:     info.Size(),
			messages: msgs,
		}
		fc.mu.Unlock()
		return msgs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Message), nil
}

// Len reports how many files are cached.
func (fc *FileCache) Len() int {
	fc.mu.RLock()
	defer fc.mu.RUnlock()
	return len(fc.entries)
}
