package query

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/kaiwahq/kaiwa/internal/corpus"
)

func userLine(ts, session, content string) string {
	return fmt.Sprintf(`{"type":"user","timestamp":"%s","sessionId":"%s","message":{"content":"%s"}}`, ts, session, content)
}

func assistantLine(ts, session, text string) string {
	return fmt.Sprintf(`{"type":"assistant","timestamp":"%s","sessionId":"%s","message":{"content":[{"type":"text","text":"%s"}]}}`, ts, session, text)
}

func writeProjectFile(t *testing.T, root, projectID, name string, lines ...string) {
	t.Helper()
	dir := filepath.Join(root, projectID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	body := ""
	for _, l := range lines {
		body += l + "\n"
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
}

func newTestEngine(root string) *Engine {
	cat := corpus.NewCatalog(root, nil)
	return NewEngine(cat, corpus.NewProjectCache(cat, corpus.NewFileCache()), time.UTC)
}

func pageContents(p *Page) [][]string {
	out := make([][]string, len(p.Conversations))
	for i, g := range p.Conversations {
		out[i] = contents(g)
	}
	return out
}

func seedGroupingCorpus(t *testing.T, root string) {
	writeProjectFile(t, root, "-home-dev-app", "s1.jsonl",
		userLine("2025-06-01T10:00:00.000Z", "s1", "hi"),
		assistantLine("2025-06-01T10:01:00.000Z", "s1", "hello"),
		assistantLine("2025-06-01T10:02:00.000Z", "s1", "more"),
		userLine("2025-06-01T10:03:00.000Z", "s1", "bye"),
	)
}

func TestGetConversationsAscending(t *testing.T) {
	root := t.TempDir()
	seedGroupingCorpus(t, root)
	e := newTestEngine(root)

	p := DefaultParams()
	p.SortOrder = SortAsc
	page, err := e.GetConversations(context.Background(), p)
	if err != nil {
		t.Fatalf("GetConversations: %v", err)
	}

	want := "[[hi hello more] [bye]]"
	if got := fmt.Sprint(pageContents(page)); got != want {
		t.Errorf("conversations = %v, want %v", got, want)
	}
	if page.TotalThreads != 2 || page.TotalMessages != 4 {
		t.Errorf("totals = %d/%d, want 2/4", page.TotalThreads, page.TotalMessages)
	}
	if page.ActualThreads != 2 || page.ActualMessages != 4 {
		t.Errorf("actuals = %d/%d, want 2/4", page.ActualThreads, page.ActualMessages)
	}
	if page.Stats.Projects != 1 {
		t.Errorf("stats.projects = %d, want 1", page.Stats.Projects)
	}
	if page.Stats.DailyThreadCounts["2025-06-01"] != 2 {
		t.Errorf("daily counts = %v", page.Stats.DailyThreadCounts)
	}
}

func TestGetConversationsDescending(t *testing.T) {
	root := t.TempDir()
	seedGroupingCorpus(t, root)
	e := newTestEngine(root)

	page, err := e.GetConversations(context.Background(), DefaultParams())
	if err != nil {
		t.Fatalf("GetConversations: %v", err)
	}

	// Group order flips, order inside each group stays ascending.
	want := "[[bye] [hi hello more]]"
	if got := fmt.Sprint(pageContents(page)); got != want {
		t.Errorf("conversations = %v, want %v", got, want)
	}
}

func TestGetConversationsKeywordRelated(t *testing.T) {
	root := t.TempDir()
	writeProjectFile(t, root, "-home-dev-app", "s1.jsonl",
		userLine("2025-06-01T10:00:00.000Z", "s1", "selenium"),
		assistantLine("2025-06-01T10:01:00.000Z", "s1", "ok"),
		userLine("2025-06-01T10:02:00.000Z", "s1", "python"),
		assistantLine("2025-06-01T10:03:00.000Z", "s1", "great"),
		userLine("2025-06-01T10:04:00.000Z", "s1", "selenium again"),
		assistantLine("2025-06-01T10:05:00.000Z", "s1", "sure"),
	)
	e := newTestEngine(root)

	p := DefaultParams()
	p.SortOrder = SortAsc
	p.Keyword = "selenium"
	page, err := e.GetConversations(context.Background(), p)
	if err != nil {
		t.Fatalf("GetConversations: %v", err)
	}

	want := "[[selenium ok] [selenium again sure]]"
	if got := fmt.Sprint(pageContents(page)); got != want {
		t.Errorf("conversations = %v, want %v", got, want)
	}
	if page.SearchMatchCount != 2 {
		t.Errorf("search_match_count = %d, want 2", page.SearchMatchCount)
	}
	for gi, g := range page.Conversations {
		for mi, m := range g {
			if m.SearchKeyword != "selenium" {
				t.Errorf("group %d message %d missing search_keyword", gi, mi)
			}
			if m.IsSearchMatch == nil {
				t.Fatalf("group %d message %d IsSearchMatch is nil", gi, mi)
			}
			if want := m.Type == "user"; *m.IsSearchMatch != want {
				t.Errorf("group %d message %d IsSearchMatch = %v, want %v", gi, mi, *m.IsSearchMatch, want)
			}
		}
	}
}

func TestGetConversationsKeywordStrict(t *testing.T) {
	root := t.TempDir()
	writeProjectFile(t, root, "-home-dev-app", "s1.jsonl",
		userLine("2025-06-01T10:00:00.000Z", "s1", "selenium"),
		assistantLine("2025-06-01T10:01:00.000Z", "s1", "ok"),
		userLine("2025-06-01T10:02:00.000Z", "s1", "selenium again"),
	)
	e := newTestEngine(root)

	p := DefaultParams()
	p.SortOrder = SortAsc
	p.Keyword = "selenium"
	p.ShowRelatedThreads = false
	page, err := e.GetConversations(context.Background(), p)
	if err != nil {
		t.Fatalf("GetConversations: %v", err)
	}

	want := "[[selenium] [selenium again]]"
	if got := fmt.Sprint(pageContents(page)); got != want {
		t.Errorf("conversations = %v, want %v", got, want)
	}
	for _, g := range page.Conversations {
		for _, m := range g {
			if m.IsSearchMatch == nil || !*m.IsSearchMatch {
				t.Errorf("strict mode returned non-matching message %q", m.Content)
			}
		}
	}
}

func TestGetConversationsDateExtension(t *testing.T) {
	root := t.TempDir()
	writeProjectFile(t, root, "-home-dev-app", "s1.jsonl",
		userLine("2025-05-31T23:58:00.000Z", "s1", "anchor question"),
		assistantLine("2025-06-01T00:01:00.000Z", "s1", "in-range answer"),
	)
	writeProjectFile(t, root, "-home-dev-app", "s2.jsonl",
		userLine("2025-06-02T11:00:00.000Z", "s2", "next day"),
	)
	e := newTestEngine(root)

	p := DefaultParams()
	p.SortOrder = SortAsc
	p.StartDate = "2025-06-01"
	page, err := e.GetConversations(context.Background(), p)
	if err != nil {
		t.Fatalf("GetConversations: %v", err)
	}

	want := "[[anchor question in-range answer] [next day]]"
	if got := fmt.Sprint(pageContents(page)); got != want {
		t.Errorf("conversations = %v, want %v", got, want)
	}
}

func TestGetConversationsProjectSelection(t *testing.T) {
	root := t.TempDir()
	writeProjectFile(t, root, "-home-dev-alpha", "a.jsonl",
		userLine("2025-06-01T10:00:00.000Z", "sa", "from alpha"),
	)
	writeProjectFile(t, root, "-home-dev-beta", "b.jsonl",
		userLine("2025-06-01T11:00:00.000Z", "sb", "from beta"),
	)
	e := newTestEngine(root)

	p := DefaultParams()
	p.SortOrder = SortAsc
	p.Projects = []string{"-home-dev-beta", "-does-not-exist"}
	page, err := e.GetConversations(context.Background(), p)
	if err != nil {
		t.Fatalf("GetConversations: %v", err)
	}
	if got := fmt.Sprint(pageContents(page)); got != "[[from beta]]" {
		t.Errorf("conversations = %v", got)
	}

	p.Projects = []string{"-does-not-exist"}
	page, err = e.GetConversations(context.Background(), p)
	if err != nil {
		t.Fatalf("GetConversations: %v", err)
	}
	if page.TotalThreads != 0 || len(page.Conversations) != 0 {
		t.Errorf("unknown project should yield empty page, got %d threads", page.TotalThreads)
	}
}

func TestGetConversationsPagination(t *testing.T) {
	root := t.TempDir()
	var lines []string
	for i := 0; i < 5; i++ {
		lines = append(lines, userLine(
			fmt.Sprintf("2025-06-01T1%d:00:00.000Z", i),
			fmt.Sprintf("s%d", i),
			fmt.Sprintf("thread %d", i)))
	}
	writeProjectFile(t, root, "-home-dev-app", "s.jsonl", lines...)
	e := newTestEngine(root)

	p := DefaultParams()
	p.SortOrder = SortAsc
	p.Offset = 2
	p.Limit = 2
	page, err := e.GetConversations(context.Background(), p)
	if err != nil {
		t.Fatalf("GetConversations: %v", err)
	}
	if got := fmt.Sprint(pageContents(page)); got != "[[thread 2] [thread 3]]" {
		t.Errorf("conversations = %v", got)
	}
	if page.TotalThreads != 5 || page.ActualThreads != 2 {
		t.Errorf("threads = %d/%d, want 5/2", page.TotalThreads, page.ActualThreads)
	}

	p.Offset = 10
	page, err = e.GetConversations(context.Background(), p)
	if err != nil {
		t.Fatalf("GetConversations: %v", err)
	}
	if len(page.Conversations) != 0 || page.ActualThreads != 0 {
		t.Errorf("offset past end should return empty page, got %d groups", len(page.Conversations))
	}
}

// seedCrossCheckCorpus builds two projects with interleaved sessions,
// a session continuation and equal timestamps across projects.
func seedCrossCheckCorpus(t *testing.T, root string) {
	writeProjectFile(t, root, "-home-dev-alpha", "s1.jsonl",
		userLine("2025-06-01T10:00:00.000Z", "s1", "deploy the service"),
		assistantLine("2025-06-01T10:01:00.000Z", "s1", "deploying"),
		`{"type":"assistant","timestamp":"2025-06-01T10:02:00.000Z","sessionId":"s1","uuid":"u-s1-last","message":{"content":[{"type":"text","text":"done"}]}}`,
	)
	writeProjectFile(t, root, "-home-dev-alpha", "s2.jsonl",
		`{"type":"system","subtype":"compact_boundary","timestamp":"2025-06-01T11:00:00.000Z","sessionId":"s2","logicalParentUuid":"u-s1-last"}`,
		userLine("2025-06-01T11:00:01.000Z", "s2", "continue the deploy"),
		assistantLine("2025-06-01T11:01:00.000Z", "s2", "continuing"),
	)
	writeProjectFile(t, root, "-home-dev-beta", "t1.jsonl",
		userLine("2025-06-01T10:00:00.000Z", "t1", "same instant other project"),
		assistantLine("2025-06-01T10:30:00.000Z", "t1", "beta answer"),
		userLine("2025-06-02T09:00:00.000Z", "t1", "beta next day"),
	)
}

func TestStreamingAndScanPathsAgree(t *testing.T) {
	root := t.TempDir()
	seedCrossCheckCorpus(t, root)
	e := newTestEngine(root)

	variants := []Params{
		{SortOrder: SortAsc, Limit: 10, ShowRelatedThreads: true},
		{SortOrder: SortDesc, Limit: 10, ShowRelatedThreads: true},
		{SortOrder: SortAsc, Limit: 10, ShowRelatedThreads: true, Keyword: "deploy"},
		{SortOrder: SortDesc, Limit: 10, ShowRelatedThreads: true, Keyword: "deploy"},
		{SortOrder: SortAsc, Limit: 10, ShowRelatedThreads: false, Keyword: "deploy"},
		{SortOrder: SortAsc, Limit: 10, ShowRelatedThreads: true, StartDate: "2025-06-02"},
		{SortOrder: SortDesc, Limit: 2, Offset: 1, ShowRelatedThreads: true},
	}

	for i, p := range variants {
		streamed, err := e.GetConversations(context.Background(), p)
		if err != nil {
			t.Fatalf("variant %d GetConversations: %v", i, err)
		}
		scanned, err := e.ScanConversations(context.Background(), p)
		if err != nil {
			t.Fatalf("variant %d ScanConversations: %v", i, err)
		}
		if !reflect.DeepEqual(streamed, scanned) {
			t.Errorf("variant %d: paths disagree\n streaming: %v\n scan:      %v",
				i, fmt.Sprint(pageContents(streamed)), fmt.Sprint(pageContents(scanned)))
		}
	}
}

func TestStreamingPathLinksContinuations(t *testing.T) {
	root := t.TempDir()
	writeProjectFile(t, root, "-home-dev-app", "s1.jsonl",
		`{"type":"user","timestamp":"2025-06-01T10:00:00.000Z","sessionId":"s1","uuid":"u-last","message":{"content":"first session"}}`,
	)
	writeProjectFile(t, root, "-home-dev-app", "s2.jsonl",
		`{"type":"system","subtype":"compact_boundary","timestamp":"2025-06-01T11:00:00.000Z","sessionId":"s2","logicalParentUuid":"u-last"}`,
		userLine("2025-06-01T11:00:01.000Z", "s2", "second session"),
	)
	e := newTestEngine(root)

	p := DefaultParams()
	p.SortOrder = SortAsc
	page, err := e.GetConversations(context.Background(), p)
	if err != nil {
		t.Fatalf("GetConversations: %v", err)
	}
	if len(page.Conversations) != 2 {
		t.Fatalf("got %d groups, want 2", len(page.Conversations))
	}
	cont := page.Conversations[1][0]
	if cont.ContinuedFromUUID != "u-last" || cont.ParentSessionID != "s1" {
		t.Errorf("continuation link = %q/%q, want u-last/s1", cont.ContinuedFromUUID, cont.ParentSessionID)
	}
}

func TestEarlyTerminationStaysConsistent(t *testing.T) {
	root := t.TempDir()
	var lines []string
	for i := 0; i < 200; i++ {
		lines = append(lines, userLine(
			fmt.Sprintf("2025-06-01T%02d:%02d:00.000Z", i/60, i%60),
			fmt.Sprintf("s%03d", i),
			fmt.Sprintf("thread %03d", i)))
	}
	writeProjectFile(t, root, "-home-dev-app", "big.jsonl", lines...)
	e := newTestEngine(root)

	for _, order := range []string{SortAsc, SortDesc} {
		p := DefaultParams()
		p.SortOrder = order
		p.Limit = 10

		streamed, err := e.GetConversations(context.Background(), p)
		if err != nil {
			t.Fatalf("%s GetConversations: %v", order, err)
		}
		scanned, err := e.ScanConversations(context.Background(), p)
		if err != nil {
			t.Fatalf("%s ScanConversations: %v", order, err)
		}

		if !reflect.DeepEqual(streamed.Conversations, scanned.Conversations) {
			t.Errorf("%s: pages differ\n streaming: %v\n scan:      %v",
				order, fmt.Sprint(pageContents(streamed)), fmt.Sprint(pageContents(scanned)))
		}
		if streamed.TotalThreads >= scanned.TotalThreads {
			t.Errorf("%s: early termination did not fire: streamed %d, scanned %d",
				order, streamed.TotalThreads, scanned.TotalThreads)
		}
		if scanned.TotalThreads != 200 {
			t.Errorf("%s: scan totals = %d, want 200", order, scanned.TotalThreads)
		}
	}
}

func TestGetConversationsValidation(t *testing.T) {
	e := newTestEngine(t.TempDir())

	tests := []struct {
		name   string
		mutate func(*Params)
	}{
		{"zero limit", func(p *Params) { p.Limit = 0 }},
		{"limit too large", func(p *Params) { p.Limit = 1001 }},
		{"negative offset", func(p *Params) { p.Offset = -1 }},
		{"bad sort order", func(p *Params) { p.SortOrder = "sideways" }},
		{"bad start date", func(p *Params) { p.StartDate = "June 1st" }},
		{"bad end date", func(p *Params) { p.EndDate = "2025/06/01" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.mutate(&p)
			if _, err := e.GetConversations(context.Background(), p); !errors.Is(err, ErrInvalidParams) {
				t.Errorf("got %v, want ErrInvalidParams", err)
			}
		})
	}
}

func TestGetConversationsEmptyCorpus(t *testing.T) {
	e := newTestEngine(t.TempDir())

	page, err := e.GetConversations(context.Background(), DefaultParams())
	if err != nil {
		t.Fatalf("GetConversations: %v", err)
	}
	if page.Conversations == nil {
		t.Error("conversations must be an empty list, not nil")
	}
	if page.TotalThreads != 0 || page.TotalMessages != 0 || page.SearchMatchCount != 0 {
		t.Errorf("counters not zero: %+v", page)
	}
}
