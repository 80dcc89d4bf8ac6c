package corpus

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"
)

const userLine = `{"type":"user","timestamp":"2025-06-01T10:00:00.000Z","sessionId":"s1","message":{"content":"hi"}}` + "\n"

func TestFileCacheHitWhileUnchanged(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "s.jsonl", userLine)
	fc := NewFileCache()

	first, err := fc.Get(context.Background(), path, Project{ID: "-p"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	second, err := fc.Get(context.Background(), path, Project{ID: "-p"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("got %d/%d messages, want 1/1", len(first), len(second))
	}
	if &first[0] != &second[0] {
		t.Error("unchanged file should return the cached slice")
	}
	if fc.Len() != 1 {
		t.Errorf("Len = %d, want 1", fc.Len())
	}
}

func TestFileCacheReparsesOnStatChange(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "s.jsonl", userLine)
	fc := NewFileCache()

	msgs, err := fc.Get(context.Background(), path, Project{ID: "-p"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}

	appended := userLine +
		`{"type":"assistant","timestamp":"2025-06-01T10:00:05.000Z","sessionId":"s1","message":{"content":[{"type":"text","text":"hello"}]}}` + "\n"
	writeFile(t, dir, "s.jsonl", appended)
	// Force a visibly newer mtime; same-nanosecond writes would
	// otherwise be indistinguishable.
	later := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatal(err)
	}

	msgs, err = fc.Get(context.Background(), path, Project{ID: "-p"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(msgs) != 2 {
		t.Errorf("got %d messages after append, want 2", len(msgs))
	}
}

func TestFileCacheServesSnapshotWhenStatIdentical(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "s.jsonl", userLine)
	fc := NewFileCache()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fc.Get(context.Background(), path, Project{ID: "-p"}); err != nil {
		t.Fatalf("Get: %v", err)
	}

	// Same byte length, same mtime: the cache contract says the old
	// snapshot may be served.
	replaced := bytes.Replace([]byte(userLine), []byte(`"hi"`), []byte(`"ho"`), 1)
	if err := os.WriteFile(path, replaced, 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, info.ModTime(), info.ModTime()); err != nil {
		t.Fatal(err)
	}

	msgs, err := fc.Get(context.Background(), path, Project{ID: "-p"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "hi" {
		t.Errorf("expected cached snapshot, got %+v", msgs)
	}
}

func TestFileCacheMissingFile(t *testing.T) {
	fc := NewFileCache()
	if _, err := fc.Get(context.Background(), "/does/not/exist.jsonl", Project{}); err == nil {
		t.Error("missing file should return an error")
	}
}
