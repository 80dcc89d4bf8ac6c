package corpus

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// Scanner sizing: JSONL lines holding embedded file contents run long,
// so start at 256 KiB and allow up to 10 MiB before a line is dropped.
const (
	initialScanBuf = 256 * 1024
	maxScanBuf     = 10 * 1024 * 1024
)

// ReadFile parses one JSONL file into classified messages, sorted
// ascending by timestamp. Malformed lines are logged and skipped; an
// unreadable file returns an error and the caller treats it as empty.
func ReadFile(ctx context.Context, path string, project Project) ([]Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	cls := NewClassifier(filepath.Base(path), project)
	msgs := make([]Message, 0, 64)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, initialScanBuf), maxScanBuf)

	lineNo := 0
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		msg, ok, err := cls.Feed(line)
		if err != nil {
			slog.Warn("corpus.read: skipping malformed line",
				"path", path, "line", lineNo, "error", err)
			continue
		}
		if ok {
			msgs = append(msgs, msg)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}

	SortMessages(msgs)
	return msgs, nil
}

// SortMessages orders messages ascending by timestamp. The sort is
// stable so records sharing a timestamp keep their on-disk order.
func SortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp < msgs[j].Timestamp
	})
}
