// Package stream provides the lazy per-file readers and the k-way
// merge that back the streaming query path. Readers hold a file
// descriptor only while refilling their lookahead buffer, so a merge
// across thousands of files cannot exhaust descriptors.
package stream

import (
	"bufio"
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/kaiwahq/kaiwa/internal/corpus"
)

// lookahead is the number of classified messages buffered per fill.
const lookahead = 10

// Reader yields the classified messages of one JSONL file in
// chronological order, reading the file incrementally. The byte offset
// of the next unread line is remembered between fills, so the
// descriptor is reacquired per fill and released before returning.
type Reader struct {
	path    string
	project corpus.Project

	cls    *corpus.Classifier
	buf    []corpus.Message
	offset int64
	lineNo int
	eof    bool
}

// NewReader returns a reader positioned at the start of path. The file
// is not opened until the first Peek or Next.
func NewReader(path string, project corpus.Project) *Reader {
	return &Reader{
		path:    path,
		project: project,
		cls:     corpus.NewClassifier(filepath.Base(path), project),
	}
}

// Path reports the file this reader was opened for.
func (r *Reader) Path() string { return r.path }

// Peek returns the next message without consuming it. ok is false once
// the file is exhausted.
func (r *Reader) Peek() (corpus.Message, bool) {
	if len(r.buf) == 0 && !r.eof {
		r.fill()
	}
	if len(r.buf) == 0 {
		return corpus.Message{}, false
	}
	return r.buf[0], true
}

// Next consumes and returns the next message.
func (r *Reader) Next() (corpus.Message, bool) {
	msg, ok := r.Peek()
	if ok {
		r.buf = r.buf[1:]
	}
	return msg, ok
}

// Seek restarts the reader and advances past every message whose
// timestamp is older than target. It reports whether a message at or
// after target exists. The scan is linear from the start of the file.
func (r *Reader) Seek(target string) bool {
	r.reset()
	for {
		msg, ok := r.Peek()
		if !ok {
			return false
		}
		if msg.Timestamp >= target {
			return true
		}
		r.Next()
	}
}

// Close drops the buffer and marks the reader exhausted. No descriptor
// is held between fills, so there is nothing else to release. Close is
// idempotent.
func (r *Reader) Close() {
	r.buf = nil
	r.eof = true
}

func (r *Reader) reset() {
	r.cls = corpus.NewClassifier(filepath.Base(r.path), r.project)
	r.buf = nil
	r.offset = 0
	r.lineNo = 0
	r.eof = false
}

// fill opens the file, resumes at the saved offset, and buffers up to
// lookahead classified messages. The descriptor is released before
// fill returns on every path. Records inside one fill window are
// sorted, which repairs small timestamp inversions; larger inversions
// are left to the grouper's per-session sort.
func (r *Reader) fill() {
	f, err := os.Open(r.path)
	if err != nil {
		slog.Error("stream: open failed", "path", r.path, "error", err)
		r.eof = true
		return
	}
	defer f.Close()

	if r.offset > 0 {
		if _, err := f.Seek(r.offset, io.SeekStart); err != nil {
			slog.Error("stream: seek failed", "path", r.path, "error", err)
			r.eof = true
			return
		}
	}

	br := bufio.NewReaderSize(f, 64*1024)
	for len(r.buf) < lookahead {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			r.offset += int64(len(line))
			r.lineNo++
			r.feed(line)
		}
		if err != nil {
			if err != io.EOF {
				slog.Error("stream: read failed", "path", r.path, "error", err)
			}
			r.eof = true
			break
		}
	}

	sort.SliceStable(r.buf, func(i, j int) bool {
		return r.buf[i].Timestamp < r.buf[j].Timestamp
	})
}

func (r *Reader) feed(line []byte) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return
	}
	msg, ok, err := r.cls.Feed(trimmed)
	if err != nil {
		slog.Warn("stream: skipping malformed line", "path", r.path, "line", r.lineNo, "error", err)
		return
	}
	if ok {
		r.buf = append(r.buf, msg)
	}
}
