package query

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/kaiwahq/kaiwa/internal/corpus"
	"github.com/kaiwahq/kaiwa/internal/stream"
)

const (
	// checkInterval is how many buffered candidates are collected
	// between early-termination checks.
	checkInterval = 50
	// safetyMargin oversizes the early-termination target so that
	// thread-level keyword filtering and boundary effects stay outside
	// the returned page.
	safetyMargin = 1.5
)

// Page is the result of one conversation query. Conversations is a
// list of thread groups, each a user turn followed by its assistant
// turns. The total_* counters describe everything collected before
// pagination; when early termination fires on the streaming path they
// are lower bounds. The actual_* counters describe the returned slice.
type Page struct {
	Conversations    [][]corpus.Message `json:"conversations"`
	TotalThreads     int                `json:"total_threads"`
	TotalMessages    int                `json:"total_messages"`
	ActualThreads    int                `json:"actual_threads"`
	ActualMessages   int                `json:"actual_messages"`
	Offset           int                `json:"offset"`
	Limit            int                `json:"limit"`
	SearchMatchCount int                `json:"search_match_count"`
	Stats            Stats              `json:"stats"`
}

// Stats summarizes the collected result set, independent of the page
// window.
type Stats struct {
	TotalThreads      int            `json:"total_threads"`
	TotalMessages     int            `json:"total_messages"`
	Projects          int            `json:"projects"`
	DailyThreadCounts map[string]int `json:"daily_thread_counts"`
}

// Engine coordinates project selection, filtering, grouping and
// pagination over the corpus.
type Engine struct {
	catalog *corpus.Catalog
	cache   *corpus.ProjectCache
	loc     *time.Location
}

func NewEngine(catalog *corpus.Catalog, cache *corpus.ProjectCache, loc *time.Location) *Engine {
	return &Engine{catalog: catalog, cache: cache, loc: loc}
}

// GetConversations is the streaming query path. Ascending queries
// k-way merge lazy per-file readers and stop reading once enough
// thread groups are buffered; descending queries walk the memoized
// corpus newest-first with the same early termination. Unknown project
// ids are ignored; unreadable files are logged and contribute nothing.
func (e *Engine) GetConversations(ctx context.Context, p Params) (*Page, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	projects, err := e.selectProjects(p.Projects)
	if err != nil {
		return nil, err
	}

	desc := p.SortOrder == SortDesc
	var src func() (corpus.Message, bool)
	if desc {
		all, err := e.loadSorted(ctx, projects)
		if err != nil {
			return nil, err
		}
		reverseMessages(all)
		src = sliceSource(all)
	} else {
		merger := stream.NewMerger(e.openReaders(projects))
		defer merger.Close()
		src = linkSource(merger.NextMessage)
	}

	target := int(math.Ceil(float64(p.Offset+p.Limit) * safetyMargin))
	buf, err := e.collect(ctx, src, p, desc, target)
	if err != nil {
		return nil, err
	}
	if desc {
		reverseMessages(buf)
	}
	return buildPage(buf, p, e.loc), nil
}

// ScanConversations is the simple query path: load every selected
// project through the cache, sort, filter, group and paginate without
// early termination. Totals are exact. It returns the same page as
// GetConversations for the same inputs.
func (e *Engine) ScanConversations(ctx context.Context, p Params) (*Page, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	projects, err := e.selectProjects(p.Projects)
	if err != nil {
		return nil, err
	}
	all, err := e.loadSorted(ctx, projects)
	if err != nil {
		return nil, err
	}

	buf, err := e.collect(ctx, sliceSource(all), p, false, 0)
	if err != nil {
		return nil, err
	}
	return buildPage(buf, p, e.loc), nil
}

// selectProjects resolves the effective project set: the known
// projects, optionally intersected with the caller's ids.
func (e *Engine) selectProjects(ids []string) ([]corpus.Project, error) {
	known, err := e.catalog.List()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return known, nil
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []corpus.Project
	for _, p := range known {
		if want[p.ID] {
			out = append(out, p)
		}
	}
	return out, nil
}

func (e *Engine) openReaders(projects []corpus.Project) []*stream.Reader {
	var readers []*stream.Reader
	for _, p := range projects {
		files, err := e.catalog.Files(p.ID)
		if err != nil {
			slog.Error("query: listing project files failed", "project", p.ID, "error", err)
			continue
		}
		for _, f := range files {
			readers = append(readers, stream.NewReader(f, p))
		}
	}
	return readers
}

// loadSorted concatenates the selected projects through the project
// cache and sorts the result ascending. A project that fails to load
// is logged and skipped, unless the context was cancelled.
func (e *Engine) loadSorted(ctx context.Context, projects []corpus.Project) ([]corpus.Message, error) {
	var all []corpus.Message
	for _, p := range projects {
		msgs, err := e.cache.Get(ctx, p)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.Error("query: loading project failed", "project", p.ID, "error", err)
			continue
		}
		all = append(all, msgs...)
	}
	corpus.SortMessages(all)
	return all, nil
}

// collect pulls filtered candidates into a buffer. With target > 0 it
// checks every checkInterval messages whether grouping the buffer
// already yields enough threads, and stops reading when it does.
func (e *Engine) collect(ctx context.Context, src func() (corpus.Message, bool), p Params, desc bool, target int) ([]corpus.Message, error) {
	date := dateRange{start: p.StartDate, end: p.EndDate, loc: e.loc}
	filtered := newFilterStream(src, date, p.Keyword, p.ShowRelatedThreads, desc)

	var buf []corpus.Message
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m, ok := filtered.Next()
		if !ok {
			break
		}
		buf = append(buf, m)
		if target > 0 && len(buf)%checkInterval == 0 && countThreads(buf, desc) >= target {
			slog.Debug("query: early termination",
				"buffered", len(buf), "target_threads", target)
			break
		}
	}
	return buf, nil
}

func countThreads(buf []corpus.Message, desc bool) int {
	probe := buf
	if desc {
		probe = make([]corpus.Message, len(buf))
		copy(probe, buf)
		reverseMessages(probe)
	}
	return len(groupThreads(probe))
}

// buildPage groups an ascending candidate buffer, applies the keyword
// pass, orders and slices the result, and derives the summary stats.
func buildPage(buf []corpus.Message, p Params, loc *time.Location) *Page {
	groups := groupThreads(buf)
	kept, matches := annotate(groups, p.Keyword)
	if p.SortOrder == SortDesc {
		reverseGroups(kept)
	}

	lo := min(p.Offset, len(kept))
	hi := min(p.Offset+p.Limit, len(kept))
	window := kept[lo:hi]

	conversations := make([][]corpus.Message, 0, len(window))
	actualMessages := 0
	for _, g := range window {
		conversations = append(conversations, g)
		actualMessages += len(g)
	}

	return &Page{
		Conversations:    conversations,
		TotalThreads:     len(kept),
		TotalMessages:    len(buf),
		ActualThreads:    len(window),
		ActualMessages:   actualMessages,
		Offset:           p.Offset,
		Limit:            p.Limit,
		SearchMatchCount: matches,
		Stats:            deriveStats(kept, len(buf), loc),
	}
}

// deriveStats computes the result-set summary: distinct projects and
// per-local-day thread counts keyed by each thread's first message.
func deriveStats(kept [][]corpus.Message, totalMessages int, loc *time.Location) Stats {
	projects := make(map[string]bool)
	daily := make(map[string]int)
	for _, g := range kept {
		for _, m := range g {
			if m.Project.ID != "" {
				projects[m.Project.ID] = true
			}
		}
		if t, err := g[0].Time(); err == nil {
			daily[t.In(loc).Format(dateLayout)]++
		}
	}
	return Stats{
		TotalThreads:      len(kept),
		TotalMessages:     totalMessages,
		Projects:          len(projects),
		DailyThreadCounts: daily,
	}
}

func sliceSource(msgs []corpus.Message) func() (corpus.Message, bool) {
	i := 0
	return func() (corpus.Message, bool) {
		if i >= len(msgs) {
			return corpus.Message{}, false
		}
		m := msgs[i]
		i++
		return m, true
	}
}

// linkSource resolves continuation parents on an ascending stream. The
// project cache does this linking over whole projects; on the merged
// stream a parent always precedes its continuation, so a running
// uuid index reproduces the same resolution.
func linkSource(src func() (corpus.Message, bool)) func() (corpus.Message, bool) {
	type key struct{ project, uuid string }
	sessions := make(map[key]string)
	return func() (corpus.Message, bool) {
		m, ok := src()
		if !ok {
			return m, ok
		}
		if m.UUID != "" {
			sessions[key{m.Project.ID, m.UUID}] = m.SessionID
		}
		if m.ContinuedFromUUID != "" {
			if sid, found := sessions[key{m.Project.ID, m.ContinuedFromUUID}]; found {
				m.ParentSessionID = sid
			}
		}
		return m, true
	}
}
