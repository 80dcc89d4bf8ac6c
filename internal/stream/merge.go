package stream

import (
	"container/heap"

	"github.com/kaiwahq/kaiwa/internal/corpus"
)

// entry is one heap element: a consumed message plus the reader it
// came from, kept so the heap can be refilled after a pop.
type entry struct {
	msg    corpus.Message
	path   string
	reader *Reader
}

// mergeHeap orders entries by (timestamp, project id, file path). The
// tie-break makes merge output deterministic and equal to what a
// concatenate-then-stable-sort over the same files produces.
type mergeHeap []entry

func (h mergeHeap) Len() int { return len(h) }

func (h mergeHeap) Less(i, j int) bool {
	if h[i].msg.Timestamp != h[j].msg.Timestamp {
		return h[i].msg.Timestamp < h[j].msg.Timestamp
	}
	if h[i].msg.Project.ID != h[j].msg.Project.ID {
		return h[i].msg.Project.ID < h[j].msg.Project.ID
	}
	return h[i].path < h[j].path
}

func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *mergeHeap) Push(x any) { *h = append(*h, x.(entry)) }

func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Merger merges many per-file readers into one globally ascending
// message stream. It is owned by a single query; methods are not safe
// for concurrent use.
type Merger struct {
	readers []*Reader
	heap    mergeHeap
	popped  int
}

// NewMerger builds a merger over readers and primes the heap with each
// reader's head. Empty files simply contribute no entry.
func NewMerger(readers []*Reader) *Merger {
	m := &Merger{readers: readers}
	for _, r := range readers {
		if msg, ok := r.Next(); ok {
			m.heap = append(m.heap, entry{msg: msg, path: r.Path(), reader: r})
		}
	}
	heap.Init(&m.heap)
	return m
}

// NextMessage pops the globally oldest message and refills the heap
// from the same reader. ok is false once every reader is exhausted.
func (m *Merger) NextMessage() (corpus.Message, bool) {
	if m.heap.Len() == 0 {
		return corpus.Message{}, false
	}
	e := heap.Pop(&m.heap).(entry)
	m.popped++
	if msg, ok := e.reader.Next(); ok {
		heap.Push(&m.heap, entry{msg: msg, path: e.reader.Path(), reader: e.reader})
	}
	return e.msg, true
}

// Batch returns up to n messages in ascending timestamp order.
func (m *Merger) Batch(n int) []corpus.Message {
	var out []corpus.Message
	for len(out) < n {
		msg, ok := m.NextMessage()
		if !ok {
			break
		}
		out = append(out, msg)
	}
	return out
}

// SeekAll repositions every reader at the first message with
// timestamp >= target and rebuilds the heap.
func (m *Merger) SeekAll(target string) {
	m.heap = m.heap[:0]
	for _, r := range m.readers {
		if r.Seek(target) {
			if msg, ok := r.Next(); ok {
				m.heap = append(m.heap, entry{msg: msg, path: r.Path(), reader: r})
			}
		}
	}
	heap.Init(&m.heap)
}

// MessagesRead reports how many messages have been popped.
func (m *Merger) MessagesRead() int { return m.popped }

// Close closes every reader.
func (m *Merger) Close() {
	for _, r := range m.readers {
		r.Close()
	}
	m.heap = nil
}
