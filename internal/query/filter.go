package query

import (
	"log/slog"
	"strings"
	"time"

	"github.com/kaiwahq/kaiwa/internal/corpus"
)

// dateRange is an inclusive civil-date window evaluated in the
// configured timezone. Empty bounds are open.
type dateRange struct {
	start string
	end   string
	loc   *time.Location
}

func (d dateRange) unbounded() bool { return d.start == "" && d.end == "" }

func (d dateRange) localDay(m corpus.Message) (string, bool) {
	t, err := m.Time()
	if err != nil {
		return "", false
	}
	return t.In(d.loc).Format(dateLayout), true
}

func (d dateRange) below(day string) bool { return d.start != "" && day < d.start }
func (d dateRange) above(day string) bool { return d.end != "" && day > d.end }

// filterStream applies the date and keyword predicates to a message
// stream. It also implements the session-continuity extension: when
// the first in-range message of a session is an assistant, the
// session's immediately preceding user turn (and the assistants that
// followed it) are admitted even though they fall before the start
// date, so the thread keeps its anchor.
//
// The stream direction matters only for the extension bookkeeping: in
// ascending input the out-of-range turn is held back until the anchor
// arrives, in descending input it trails the anchor and is admitted on
// sight. Both directions admit the same set.
type filterStream struct {
	src     func() (corpus.Message, bool)
	date    dateRange
	keyword string // lowercased; empty means no keyword predicate
	related bool
	desc    bool

	out  []corpus.Message
	done bool

	// Ascending extension state: the latest below-range user turn per
	// session, waiting for an in-range assistant anchor.
	pending map[string][]corpus.Message
	seen    map[string]bool

	// Descending extension state.
	anchorAssistant map[string]bool
	extended        map[string]bool
}

func newFilterStream(src func() (corpus.Message, bool), date dateRange, keyword string, related, desc bool) *filterStream {
	return &filterStream{
		src:             src,
		date:            date,
		keyword:         strings.ToLower(keyword),
		related:         related,
		desc:            desc,
		pending:         make(map[string][]corpus.Message),
		seen:            make(map[string]bool),
		anchorAssistant: make(map[string]bool),
		extended:        make(map[string]bool),
	}
}

// Next returns the next admitted message.
func (f *filterStream) Next() (corpus.Message, bool) {
	for len(f.out) == 0 && !f.done {
		m, ok := f.src()
		if !ok {
			f.done = true
			break
		}
		f.process(m)
	}
	if len(f.out) == 0 {
		return corpus.Message{}, false
	}
	m := f.out[0]
	f.out = f.out[1:]
	return m, true
}

func (f *filterStream) process(m corpus.Message) {
	if f.date.unbounded() {
		f.admit(m)
		return
	}
	day, ok := f.date.localDay(m)
	if !ok {
		slog.Debug("query: dropping message with unparseable timestamp",
			"timestamp", m.Timestamp, "session", m.SessionID)
		return
	}
	switch {
	case f.date.below(day):
		if f.desc {
			f.belowDesc(m)
		} else {
			f.belowAsc(m)
		}
	case f.date.above(day):
		// Past the end bound; never admitted and never extended.
	default:
		if f.desc {
			f.inRangeDesc(m)
		} else {
			f.inRangeAsc(m)
		}
	}
}

func (f *filterStream) belowAsc(m corpus.Message) {
	s := m.SessionID
	if m.Type == corpus.TypeUser {
		f.pending[s] = []corpus.Message{m}
		return
	}
	if len(f.pending[s]) > 0 {
		f.pending[s] = append(f.pending[s], m)
	}
}

func (f *filterStream) inRangeAsc(m corpus.Message) {
	s := m.SessionID
	if !f.seen[s] {
		f.seen[s] = true
		if m.Type == corpus.TypeAssistant {
			for _, held := range f.pending[s] {
				f.admit(held)
			}
		}
		delete(f.pending, s)
	}
	f.admit(m)
}

func (f *filterStream) inRangeDesc(m corpus.Message) {
	s := m.SessionID
	f.seen[s] = true
	f.anchorAssistant[s] = m.Type == corpus.TypeAssistant
	f.admit(m)
}

func (f *filterStream) belowDesc(m corpus.Message) {
	s := m.SessionID
	if !f.seen[s] || !f.anchorAssistant[s] || f.extended[s] {
		return
	}
	f.admit(m)
	if m.Type == corpus.TypeUser {
		f.extended[s] = true
	}
}

// admit applies the keyword predicate and queues the message. With
// show_related_threads the predicate admits everything; thread-level
// inclusion is decided after grouping.
func (f *filterStream) admit(m corpus.Message) {
	if f.keyword != "" && !f.related {
		if !strings.Contains(strings.ToLower(m.Content), f.keyword) {
			return
		}
	}
	f.out = append(f.out, m)
}
