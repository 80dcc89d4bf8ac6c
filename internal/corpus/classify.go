package corpus

import (
	"encoding/json"
	"strings"
)

// Message type strings.
const (
	TypeUser      = "user"
	TypeAssistant = "assistant"
)

// Raw record discriminators.
const (
	recordTypeUser      = "user"
	recordTypeAssistant = "assistant"
	recordTypeSystem    = "system"

	subtypeCompactBoundary = "compact_boundary"
)

// continuationPrefix opens the synthetic transcript written when a
// session resumes from a compacted predecessor.
const continuationPrefix = "This session is being continued from a previous conversation"

// bootstrapRequest is the scaffolding prompt that initializes a
// repository; it is machine-sent and never part of a conversation.
const bootstrapRequest = "Please analyze this codebase and create a CLAUDE.md file"

// syntheticMarkers only appear in machine-generated user content:
// command envelopes, reminders, serialized content-block lists.
var syntheticMarkers = []string{
	"system-reminder>",
	"antml:function_calls",
	"antml:invoke",
	"<command-message>",
	"</command-message>",
	"<command-name>",
	"</command-name>",
	"(no content)",
	"<local-command-stdout>",
	"<user-memory-input>",
	"Your todo list has changed",
	"This is a reminder that your todo list",
	"[{'type':",
	`{"type":`,
	"analyzing your codebase",
	"Caveat: ",
}

// isSyntheticContent reports whether user content is machine-generated
// and must not surface in conversation output.
func isSyntheticContent(content string) bool {
	c := strings.TrimSpace(content)
	if c == "" {
		return false
	}
	if (c[0] == '[' || c[0] == '{') && json.Valid([]byte(c)) {
		return true
	}
	for _, m := range syntheticMarkers {
		if strings.Contains(c, m) {
			return true
		}
	}
	if strings.HasPrefix(c, "[{") && strings.HasSuffix(c, "}]") {
		return true
	}
	if strings.HasPrefix(c, "{{") && strings.HasSuffix(c, "}}") {
		return true
	}
	return strings.Contains(c, bootstrapRequest)
}

// DecodeLine classifies one raw JSONL line. A JSON syntax error is
// returned for the caller to log; every valid but unwanted shape comes
// back as KindOther.
func DecodeLine(line []byte) (Classified, error) {
	var rec rawRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return Classified{}, err
	}

	switch rec.Type {
	case recordTypeSystem:
		if rec.Subtype == subtypeCompactBoundary {
			return Classified{
				Kind:              KindCompactBoundary,
				Timestamp:         rec.Timestamp,
				SessionID:         rec.SessionID,
				LogicalParentUUID: rec.LogicalParentUUID,
			}, nil
		}

	case recordTypeUser:
		if rec.IsCompactSummary {
			break
		}
		if rec.IsVisibleInTranscriptOnly && rec.LogicalParentUUID != "" {
			break
		}
		content, drop := extractUserContent(rec.Message)
		if drop || content == "" {
			break
		}
		if strings.HasPrefix(content, continuationPrefix) {
			break
		}
		if isSyntheticContent(content) {
			break
		}
		return Classified{
			Kind:      KindUser,
			Timestamp: rec.Timestamp,
			SessionID: rec.SessionID,
			UUID:      rec.UUID,
			Content:   content,
		}, nil

	case recordTypeAssistant:
		text, drop := extractAssistantText(rec.Message)
		if drop || text == "" {
			break
		}
		return Classified{
			Kind:      KindAssistant,
			Timestamp: rec.Timestamp,
			SessionID: rec.SessionID,
			UUID:      rec.UUID,
			Content:   text,
		}, nil
	}

	return Classified{}, nil
}

// extractUserContent pulls the content string out of a user record.
// String content comes back as-is. Block-list content is rejected when
// it opens with a tool_result; otherwise it is kept in serialized form,
// which the synthetic predicate then recognizes and rejects.
func extractUserContent(raw json.RawMessage) (content string, drop bool) {
	var env rawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &env) != nil {
		return "", true
	}
	if len(env.Content) == 0 {
		return "", true
	}

	var s string
	if err := json.Unmarshal(env.Content, &s); err == nil {
		return s, false
	}

	var blocks []json.RawMessage
	if err := json.Unmarshal(env.Content, &blocks); err != nil || len(blocks) == 0 {
		return "", true
	}
	var first contentBlock
	if err := json.Unmarshal(blocks[0], &first); err == nil && first.Type == "tool_result" {
		return "", true
	}
	return strings.TrimSpace(string(env.Content)), false
}

// extractAssistantText scans assistant content blocks in order: the
// first text block decides the message body, a tool_use block anywhere
// before it rejects the record, anything else (thinking, images) is
// skipped.
func extractAssistantText(raw json.RawMessage) (text string, drop bool) {
	var env rawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &env) != nil {
		return "", true
	}
	var blocks []json.RawMessage
	if err := json.Unmarshal(env.Content, &blocks); err != nil {
		return "", true
	}
	for _, b := range blocks {
		var blk contentBlock
		if err := json.Unmarshal(b, &blk); err != nil {
			continue
		}
		switch blk.Type {
		case "tool_use":
			return "", true
		case "text":
			return blk.Text, blk.Text == ""
		}
	}
	return "", true
}

// Classifier turns the raw lines of one JSONL file into Messages. It
// carries the pending-continuation UUID between lines: a compact
// boundary stashes it, the next emitted user message claims it.
type Classifier struct {
	filename string
	project  Project
	pending  string
}

// NewClassifier returns a classifier for one file's lines.
func NewClassifier(filename string, project Project) *Classifier {
	return &Classifier{filename: filename, project: project}
}

// Feed classifies one line. ok is false when the line yields no
// conversation message. A non-nil error means the line was not valid
// JSON; the caller decides how to report it.
func (c *Classifier) Feed(line []byte) (msg Message, ok bool, err error) {
	cl, err := DecodeLine(line)
	if err != nil {
		return Message{}, false, err
	}

	switch cl.Kind {
	case KindCompactBoundary:
		c.pending = cl.LogicalParentUUID
		return Message{}, false, nil

	case KindUser:
		msg := c.message(cl, TypeUser)
		if c.pending != "" {
			msg.ContinuedFromUUID = c.pending
			msg.IsContinuationSession = true
			c.pending = ""
		}
		return msg, true, nil

	case KindAssistant:
		return c.message(cl, TypeAssistant), true, nil
	}
	return Message{}, false, nil
}

func (c *Classifier) message(cl Classified, typ string) Message {
	return Message{
		Timestamp: cl.Timestamp,
		Type:      typ,
		Content:   cl.Content,
		SessionID: cl.SessionID,
		UUID:      cl.UUID,
		Filename:  c.filename,
		Project:   c.project,
	}
}
