package usage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kaiwahq/kaiwa/internal/config"
)

func usageLine(ts, model string, in, out, cacheCreate, cacheRead int64) string {
	return fmt.Sprintf(`{"type":"assistant","timestamp":"%s","sessionId":"s1","message":{"model":"%s","usage":{"input_tokens":%d,"output_tokens":%d,"cache_creation_input_tokens":%d,"cache_read_input_tokens":%d}}}`,
		ts, model, in, out, cacheCreate, cacheRead)
}

func writeUsageFile(t *testing.T, root, projectID, name string, lines ...string) {
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

func testConfig() config.UsageConfig {
	return config.UsageConfig{
		Plan:        config.PlanPro,
		Models:      []string{"opus", "sonnet"},
		Corrections: config.CorrectionFactors{Session: 1, WeeklyAll: 1, WeeklyPerModel: 1},
	}
}

func newTestEngine(root string, now time.Time) *Engine {
	e := NewEngine(root, testConfig(), time.UTC)
	e.now = func() time.Time { return now }
	return e
}

func TestReportSessionBlock(t *testing.T) {
	root := t.TempDir()
	writeUsageFile(t, root, "-home-dev-app", "s.jsonl",
		usageLine("2025-06-01T14:05:00.000Z", "claude-opus-4", 100, 200, 7, 9),
		usageLine("2025-06-01T15:20:00.000Z", "claude-sonnet-4", 50, 50, 0, 0),
		usageLine("2025-06-01T19:05:00.000Z", "claude-opus-4", 1000, 1000, 0, 0),
	)
	e := newTestEngine(root, time.Date(2025, 6, 1, 15, 30, 0, 0, time.UTC))

	rep := e.Report(context.Background())
	if !rep.Available || rep.Error != "" {
		t.Fatalf("report unavailable: %+v", rep)
	}
	if rep.PlanType != config.PlanPro {
		t.Errorf("plan_type = %q", rep.PlanType)
	}

	s := rep.CurrentSession
	if s == nil {
		t.Fatal("no current session")
	}
	if want := time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC); !s.StartTime.Equal(want) {
		t.Errorf("start_time = %v, want %v", s.StartTime, want)
	}
	reset := time.Date(2025, 6, 1, 19, 0, 0, 0, time.UTC)
	if !s.EndTime.Equal(reset) || !s.ResetTime.Equal(reset) {
		t.Errorf("end/reset = %v/%v, want %v", s.EndTime, s.ResetTime, reset)
	}
	if s.TimeRemainingMinutes != 210 {
		t.Errorf("time_remaining_minutes = %d, want 210", s.TimeRemainingMinutes)
	}
	// The 19:05 sample falls in the next block.
	if s.Entries != 2 {
		t.Errorf("entries = %d, want 2", s.Entries)
	}
	if s.Raw.TotalTokens != 400 {
		t.Errorf("total_tokens = %d, want 400", s.Raw.TotalTokens)
	}
	if s.Raw.InputTokens != 150 || s.Raw.OutputTokens != 250 {
		t.Errorf("input/output = %d/%d, want 150/250", s.Raw.InputTokens, s.Raw.OutputTokens)
	}
	// Cache counters are reported but never added into the total.
	if s.Raw.CacheCreationTokens != 7 || s.Raw.CacheReadTokens != 9 {
		t.Errorf("cache counters = %d/%d, want 7/9", s.Raw.CacheCreationTokens, s.Raw.CacheReadTokens)
	}
	if s.LimitTokens != 19_000 {
		t.Errorf("limit_tokens = %d", s.LimitTokens)
	}
}

func TestReportWeeklyHorizons(t *testing.T) {
	root := t.TempDir()
	writeUsageFile(t, root, "-home-dev-app", "s.jsonl",
		usageLine("2025-06-01T14:05:00.000Z", "claude-opus-4", 100, 200, 0, 0),
		usageLine("2025-06-01T15:20:00.000Z", "claude-sonnet-4", 50, 50, 0, 0),
		// Beyond now, outside [now-7d, now).
		usageLine("2025-06-01T19:05:00.000Z", "claude-opus-4", 1000, 1000, 0, 0),
		// Eight days old, outside the window.
		usageLine("2025-05-24T10:00:00.000Z", "claude-opus-4", 500, 500, 0, 0),
	)
	e := newTestEngine(root, time.Date(2025, 6, 1, 15, 30, 0, 0, time.UTC))

	rep := e.Report(context.Background())
	w := rep.WeeklyAll
	if w == nil {
		t.Fatal("no weekly_all")
	}
	if w.Entries != 2 || w.Raw.TotalTokens != 400 {
		t.Errorf("weekly_all = %d entries / %d tokens, want 2/400", w.Entries, w.Raw.TotalTokens)
	}
	if !w.Estimated {
		t.Error("weekly percentage must be flagged estimated")
	}
	if w.LimitTokens != 304_000 {
		t.Errorf("weekly limit = %d", w.LimitTokens)
	}

	sonnet := rep.WeeklyPerModel["sonnet"]
	if sonnet == nil {
		t.Fatal("no sonnet horizon")
	}
	if sonnet.Entries != 1 || sonnet.Raw.TotalTokens != 100 {
		t.Errorf("sonnet = %d entries / %d tokens, want 1/100", sonnet.Entries, sonnet.Raw.TotalTokens)
	}
	if sonnet.ModelMatch != "sonnet" {
		t.Errorf("model_match = %q", sonnet.ModelMatch)
	}

	opus := rep.WeeklyPerModel["opus"]
	if opus == nil || opus.Entries != 1 || opus.Raw.TotalTokens != 300 {
		t.Errorf("opus horizon = %+v, want 1 entry / 300 tokens", opus)
	}
}

func TestReportCorrections(t *testing.T) {
	root := t.TempDir()
	writeUsageFile(t, root, "-home-dev-app", "s.jsonl",
		usageLine("2025-06-01T14:05:00.000Z", "claude-opus-4", 100, 300, 0, 0),
	)
	cfg := testConfig()
	cfg.Corrections = config.CorrectionFactors{Session: 2, WeeklyAll: 0.5, WeeklyPerModel: 3}
	e := NewEngine(root, cfg, time.UTC)
	e.now = func() time.Time { return time.Date(2025, 6, 1, 15, 30, 0, 0, time.UTC) }

	rep := e.Report(context.Background())
	s := rep.CurrentSession
	if s.Raw.TotalTokens != 400 || s.Corrected.TotalTokens != 800 {
		t.Errorf("session raw/corrected = %d/%d, want 400/800", s.Raw.TotalTokens, s.Corrected.TotalTokens)
	}
	if w := rep.WeeklyAll; w.Corrected.TotalTokens != 200 {
		t.Errorf("weekly_all corrected = %d, want 200", w.Corrected.TotalTokens)
	}
	if o := rep.WeeklyPerModel["opus"]; o.Corrected.TotalTokens != 1200 {
		t.Errorf("opus corrected = %d, want 1200", o.Corrected.TotalTokens)
	}
	// 800 corrected tokens against the 19k session budget.
	if s.PercentageUsed != 4.2 {
		t.Errorf("percentage_used = %v, want 4.2", s.PercentageUsed)
	}
}

func TestReportCachesWithinTTL(t *testing.T) {
	root := t.TempDir()
	writeUsageFile(t, root, "-home-dev-app", "s.jsonl",
		usageLine("2025-06-01T14:05:00.000Z", "claude-opus-4", 100, 100, 0, 0),
	)
	now := time.Date(2025, 6, 1, 14, 30, 0, 0, time.UTC)
	e := newTestEngine(root, now)

	first := e.Report(context.Background())
	if first.CurrentSession.Entries != 1 {
		t.Fatalf("entries = %d, want 1", first.CurrentSession.Entries)
	}

	// New data lands on disk, but the cache is still fresh.
	writeUsageFile(t, root, "-home-dev-app", "extra.jsonl",
		usageLine("2025-06-01T14:40:00.000Z", "claude-opus-4", 10, 10, 0, 0),
	)
	e.now = func() time.Time { return now.Add(2 * time.Minute) }
	if rep := e.Report(context.Background()); rep.CurrentSession.Entries != 1 {
		t.Errorf("cached report should not see new file, got %d entries", rep.CurrentSession.Entries)
	}

	// TTL expired: report is rebuilt.
	e.now = func() time.Time { return now.Add(6 * time.Minute) }
	if rep := e.Report(context.Background()); rep.CurrentSession.Entries != 2 {
		t.Errorf("rebuilt report = %d entries, want 2", rep.CurrentSession.Entries)
	}
}

func TestReportRebuildsOnBlockChange(t *testing.T) {
	root := t.TempDir()
	writeUsageFile(t, root, "-home-dev-app", "s.jsonl",
		usageLine("2025-06-01T18:50:00.000Z", "claude-opus-4", 100, 100, 0, 0),
	)
	now := time.Date(2025, 6, 1, 18, 59, 0, 0, time.UTC)
	e := newTestEngine(root, now)

	first := e.Report(context.Background())
	if first.CurrentSession.Entries != 1 {
		t.Fatalf("entries = %d, want 1", first.CurrentSession.Entries)
	}

	// Two minutes later the 19:00 block has started; the fresh cache
	// entry belongs to the old block and must not be served.
	e.now = func() time.Time { return now.Add(2 * time.Minute) }
	rep := e.Report(context.Background())
	if want := time.Date(2025, 6, 1, 19, 0, 0, 0, time.UTC); !rep.CurrentSession.StartTime.Equal(want) {
		t.Errorf("start_time = %v, want %v", rep.CurrentSession.StartTime, want)
	}
	if rep.CurrentSession.Entries != 0 {
		t.Errorf("new block entries = %d, want 0", rep.CurrentSession.Entries)
	}
}

func TestReportMissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "does-not-exist")
	e := newTestEngine(root, time.Date(2025, 6, 1, 15, 30, 0, 0, time.UTC))

	rep := e.Report(context.Background())
	if !rep.Available || rep.Error != "" {
		t.Fatalf("missing root must yield an available empty report, got %+v", rep)
	}
	if rep.CurrentSession == nil || rep.CurrentSession.Entries != 0 {
		t.Errorf("current_session = %+v, want zeroed", rep.CurrentSession)
	}
	if rep.WeeklyAll == nil || rep.WeeklyAll.Raw.TotalTokens != 0 {
		t.Errorf("weekly_all = %+v, want zeroed", rep.WeeklyAll)
	}
}

func TestReportSkipsNonSamples(t *testing.T) {
	root := t.TempDir()
	writeUsageFile(t, root, "-home-dev-app", "s.jsonl",
		`{"type":"user","timestamp":"2025-06-01T14:01:00.000Z","sessionId":"s1","message":{"content":"hi"}}`,
		`{"type":"assistant","timestamp":"2025-06-01T14:02:00.000Z","sessionId":"s1","message":{"content":[{"type":"text","text":"no usage"}]}}`,
		`not json at all`,
		usageLine("not-a-timestamp", "claude-opus-4", 5, 5, 0, 0),
		usageLine("2025-06-01T14:05:00.000Z", "claude-opus-4", 100, 100, 0, 0),
	)
	e := newTestEngine(root, time.Date(2025, 6, 1, 15, 30, 0, 0, time.UTC))

	rep := e.Report(context.Background())
	if rep.CurrentSession.Entries != 1 || rep.CurrentSession.Raw.TotalTokens != 200 {
		t.Errorf("session = %d entries / %d tokens, want 1/200",
			rep.CurrentSession.Entries, rep.CurrentSession.Raw.TotalTokens)
	}
}

func TestReportCancelled(t *testing.T) {
	root := t.TempDir()
	writeUsageFile(t, root, "-home-dev-app", "s.jsonl",
		usageLine("2025-06-01T14:05:00.000Z", "claude-opus-4", 100, 100, 0, 0),
	)
	e := newTestEngine(root, time.Date(2025, 6, 1, 15, 30, 0, 0, time.UTC))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rep := e.Report(ctx)
	if rep.Available {
		t.Error("cancelled scan must not report available")
	}
	if rep.Error == "" {
		t.Error("cancelled scan must carry an error string")
	}
}
