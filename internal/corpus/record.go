package corpus

import (
	"encoding/json"
	"time"
)

// Project identifies the directory a message came from.
type Project struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Path        string `json:"path"`
}

// Message is one normalized conversation unit. Messages are immutable
// once produced; caches hand out the same backing slices, so callers
// that annotate messages must copy first (see query.annotate).
type Message struct {
	Timestamp string  `json:"timestamp"`
	Type      string  `json:"type"` // "user" or "assistant"
	Content   string  `json:"content"`
	SessionID string  `json:"session_id"`
	UUID      string  `json:"uuid,omitempty"`
	Filename  string  `json:"filename"`
	Project   Project `json:"project"`

	// Session-continuation linkage, set when the session picks up a
	// compacted predecessor.
	ContinuedFromUUID     string `json:"continued_from_uuid,omitempty"`
	ParentSessionID       string `json:"parent_session_id,omitempty"`
	IsContinuationSession bool   `json:"is_continuation_session,omitempty"`

	// Keyword-search annotations. Nil/empty outside keyword queries;
	// IsSearchMatch is a pointer so that false still serializes when a
	// keyword was given.
	IsSearchMatch *bool  `json:"is_search_match,omitempty"`
	SearchKeyword string `json:"search_keyword,omitempty"`
}

// Time parses the message timestamp. Accepts RFC 3339 with or without
// fractional seconds.
func (m *Message) Time() (time.Time, error) {
	return ParseTimestamp(m.Timestamp)
}

// ParseTimestamp parses an RFC 3339 timestamp, tolerating both
// fractional and whole-second forms.
func ParseTimestamp(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		t, err = time.Parse(time.RFC3339, raw)
	}
	return t, err
}

// Record kinds produced by classification.
type Kind int

const (
	// KindOther covers every record shape the viewer does not surface:
	// system lines, summaries, progress markers, malformed envelopes.
	KindOther Kind = iota
	KindUser
	KindAssistant
	KindCompactBoundary
)

// Classified is the typed view of one raw JSONL line. Unexpected
// shapes funnel into KindOther and carry no other fields.
type Classified struct {
	Kind              Kind
	Timestamp         string
	SessionID         string
	UUID              string
	Content           string // user/assistant text, already extracted
	LogicalParentUUID string // compact boundary only
}

// rawRecord is the partial decode of one JSONL line. Only the fields
// classification consults are named; everything else is ignored.
type rawRecord struct {
	Type                      string          `json:"type"`
	Subtype                   string          `json:"subtype"`
	Timestamp                 string          `json:"timestamp"`
	SessionID                 string          `json:"sessionId"`
	UUID                      string          `json:"uuid"`
	LogicalParentUUID         string          `json:"logicalParentUuid"`
	IsCompactSummary          bool            `json:"isCompactSummary"`
	IsVisibleInTranscriptOnly bool            `json:"isVisibleInTranscriptOnly"`
	Message                   json.RawMessage `json:"message"`
}

// rawMessage is the envelope under the "message" key.
type rawMessage struct {
	Content json.RawMessage `json:"content"`
}

// contentBlock is one element of a structured content list.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}
