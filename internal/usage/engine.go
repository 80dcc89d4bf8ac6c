package usage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kaiwahq/kaiwa/internal/config"
	"github.com/kaiwahq/kaiwa/internal/corpus"
)

const (
	// cacheTTL bounds how stale a returned report may be. Within one
	// session block the corpus is re-parsed at most once per TTL.
	cacheTTL = 300 * time.Second

	weeklyWindow = 7 * 24 * time.Hour

	initialScanBuf = 256 * 1024
	maxScanBuf     = 10 * 1024 * 1024
)

// Tokens aggregates the counters of one horizon. TotalTokens counts
// input and output only; cache counters are reported alongside.
type Tokens struct {
	InputTokens         int64 `json:"input_tokens"`
	OutputTokens        int64 `json:"output_tokens"`
	CacheCreationTokens int64 `json:"cache_creation_tokens"`
	CacheReadTokens     int64 `json:"cache_read_tokens"`
	TotalTokens         int64 `json:"total_tokens"`
}

func (t *Tokens) add(s sample) {
	t.InputTokens += s.input
	t.OutputTokens += s.output
	t.CacheCreationTokens += s.cacheCreation
	t.CacheReadTokens += s.cacheRead
	t.TotalTokens += s.input + s.output
}

// scaled applies a correction factor, rounding to whole tokens.
func (t Tokens) scaled(f float64) Tokens {
	scale := func(v int64) int64 { return int64(math.Round(float64(v) * f)) }
	return Tokens{
		InputTokens:         scale(t.InputTokens),
		OutputTokens:        scale(t.OutputTokens),
		CacheCreationTokens: scale(t.CacheCreationTokens),
		CacheReadTokens:     scale(t.CacheReadTokens),
		TotalTokens:         scale(t.TotalTokens),
	}
}

// SessionReport covers the current five-hour block.
type SessionReport struct {
	StartTime            time.Time `json:"start_time"`
	EndTime              time.Time `json:"end_time"`
	ResetTime            time.Time `json:"reset_time"`
	TimeRemainingMinutes int       `json:"time_remaining_minutes"`
	Entries              int       `json:"entries"`
	Raw                  Tokens    `json:"raw"`
	Corrected            Tokens    `json:"corrected"`
	LimitTokens          int64     `json:"limit_tokens"`
	PercentageUsed       float64   `json:"percentage_used"`
}

// WeeklyReport covers a rolling seven-day window, optionally restricted
// to models matching ModelMatch. Weekly plan budgets are published in
// usage-hours, so PercentageUsed is against an estimated token figure
// and Estimated is always true.
type WeeklyReport struct {
	WindowStart    time.Time `json:"window_start"`
	WindowEnd      time.Time `json:"window_end"`
	Entries        int       `json:"entries"`
	Raw            Tokens    `json:"raw"`
	Corrected      Tokens    `json:"corrected"`
	LimitTokens    int64     `json:"limit_tokens"`
	PercentageUsed float64   `json:"percentage_used"`
	Estimated      bool      `json:"estimated"`
	ModelMatch     string    `json:"model_match,omitempty"`
}

// Report is the full usage envelope. The call producing it never
// fails; a catastrophic error sets Available=false and Error instead.
type Report struct {
	Available      bool                     `json:"available"`
	PlanType       string                   `json:"plan_type"`
	Limits         config.PlanLimits        `json:"limits"`
	CurrentSession *SessionReport           `json:"current_session,omitempty"`
	WeeklyAll      *WeeklyReport            `json:"weekly_all,omitempty"`
	WeeklyPerModel map[string]*WeeklyReport `json:"weekly_per_model,omitempty"`
	Error          string                   `json:"error,omitempty"`
}

// sample is one assistant record's usage, anchored at its timestamp.
type sample struct {
	ts            time.Time
	model         string
	input         int64
	output        int64
	cacheCreation int64
	cacheRead     int64
}

// Engine aggregates usage samples from the corpus. Successful reports
// are cached per session block for cacheTTL, so at most one full
// corpus re-parse per TTL window. No file handles are held between
// calls.
type Engine struct {
	root string
	cfg  config.UsageConfig
	loc  *time.Location

	now func() time.Time

	mu         sync.Mutex
	cached     *Report
	cachedAt   time.Time
	cacheBlock time.Time
}

// NewEngine builds a usage engine over the corpus root. loc labels
// block boundaries in the report; all arithmetic stays in UTC.
func NewEngine(root string, cfg config.UsageConfig, loc *time.Location) *Engine {
	return &Engine{root: root, cfg: cfg, loc: loc, now: time.Now}
}

// Report returns the current usage report, serving the cached one
// while it is fresh and still in the same session block. Errors are
// carried inside the envelope, never returned.
func (e *Engine) Report(ctx context.Context) *Report {
	now := e.now().UTC()
	start, end := currentBlock(now)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cached != nil && e.cacheBlock.Equal(start) && now.Sub(e.cachedAt) < cacheTTL {
		return e.cached
	}

	rep := e.build(ctx, now, start, end)
	if rep.Available {
		e.cached, e.cachedAt, e.cacheBlock = rep, now, start
	}
	return rep
}

func (e *Engine) build(ctx context.Context, now, start, end time.Time) *Report {
	limits, _ := config.LimitsFor(e.cfg.Plan)
	rep := &Report{Available: true, PlanType: e.cfg.Plan, Limits: limits}

	samples, err := e.scan(ctx)
	if err != nil {
		slog.Error("usage: corpus scan failed", "error", err)
		rep.Available = false
		rep.Error = err.Error()
		return rep
	}
	slog.Debug("usage: corpus scanned", "samples", len(samples))

	rep.CurrentSession = e.sessionReport(samples, now, start, end, limits)

	weekStart := now.Add(-weeklyWindow)
	rep.WeeklyAll = e.weeklyReport(samples, weekStart, now, "", e.cfg.Corrections.WeeklyAll, limits)
	rep.WeeklyPerModel = make(map[string]*WeeklyReport, len(e.cfg.Models))
	for _, m := range e.cfg.Models {
		rep.WeeklyPerModel[m] = e.weeklyReport(samples, weekStart, now, m, e.cfg.Corrections.WeeklyPerModel, limits)
	}
	return rep
}

func (e *Engine) sessionReport(samples []sample, now, start, end time.Time, limits config.PlanLimits) *SessionReport {
	var raw Tokens
	entries := 0
	for _, s := range samples {
		if s.ts.Before(start) || !s.ts.Before(end) {
			continue
		}
		raw.add(s)
		entries++
	}
	corrected := raw.scaled(factor(e.cfg.Corrections.Session))

	remaining := int(end.Sub(now).Minutes())
	if remaining < 0 {
		remaining = 0
	}
	return &SessionReport{
		StartTime:            start.In(e.loc),
		EndTime:              end.In(e.loc),
		ResetTime:            end.In(e.loc),
		TimeRemainingMinutes: remaining,
		Entries:              entries,
		Raw:                  raw,
		Corrected:            corrected,
		LimitTokens:          limits.SessionTokens,
		PercentageUsed:       percentage(corrected.TotalTokens, limits.SessionTokens),
	}
}

func (e *Engine) weeklyReport(samples []sample, from, to time.Time, model string, correction float64, limits config.PlanLimits) *WeeklyReport {
	match := strings.ToLower(model)
	var raw Tokens
	entries := 0
	for _, s := range samples {
		if s.ts.Before(from) || !s.ts.Before(to) {
			continue
		}
		if match != "" && !strings.Contains(strings.ToLower(s.model), match) {
			continue
		}
		raw.add(s)
		entries++
	}
	corrected := raw.scaled(factor(correction))
	return &WeeklyReport{
		WindowStart:    from.In(e.loc),
		WindowEnd:      to.In(e.loc),
		Entries:        entries,
		Raw:            raw,
		Corrected:      corrected,
		LimitTokens:    limits.WeeklyTokens,
		PercentageUsed: percentage(corrected.TotalTokens, limits.WeeklyTokens),
		Estimated:      true,
		ModelMatch:     model,
	}
}

// factor treats unset correction factors as no correction.
func factor(f float64) float64 {
	if f <= 0 {
		return 1
	}
	return f
}

// percentage is tokens against a budget, rounded to one decimal.
func percentage(tokens, limit int64) float64 {
	if limit <= 0 {
		return 0
	}
	return math.Round(float64(tokens)/float64(limit)*1000) / 10
}

// scan walks the corpus for *.jsonl files and extracts usage samples.
// A missing root is an empty corpus, not an error. Unreadable files
// contribute nothing; only a failed walk or cancellation is fatal.
func (e *Engine) scan(ctx context.Context) ([]sample, error) {
	if _, err := os.Stat(e.root); os.IsNotExist(err) {
		slog.Warn("usage: corpus root not found", "root", e.root)
		return nil, nil
	}

	var samples []sample
	err := filepath.WalkDir(e.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			slog.Warn("usage: skipping unreadable entry", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if d.IsDir() || !strings.HasSuffix(path, ".jsonl") {
			return nil
		}
		fromFile, err := scanFile(path)
		if err != nil {
			slog.Warn("usage: skipping unreadable file", "path", path, "error", err)
			return nil
		}
		samples = append(samples, fromFile...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return samples, nil
}

// usageRecord is the thin slice of a raw record the usage pass reads.
type usageRecord struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	Message   struct {
		Model string `json:"model"`
		Usage *struct {
			InputTokens              int64 `json:"input_tokens"`
			OutputTokens             int64 `json:"output_tokens"`
			CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
			CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
		} `json:"usage"`
	} `json:"message"`
}

func scanFile(path string) ([]sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var samples []sample
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, initialScanBuf), maxScanBuf)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec usageRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			slog.Warn("usage: skipping malformed line", "path", path, "line", lineNo, "error", err)
			continue
		}
		if rec.Type != "assistant" || rec.Message.Usage == nil {
			continue
		}
		ts, err := corpus.ParseTimestamp(rec.Timestamp)
		if err != nil {
			slog.Warn("usage: skipping sample with bad timestamp", "path", path, "line", lineNo, "timestamp", rec.Timestamp)
			continue
		}
		u := rec.Message.Usage
		samples = append(samples, sample{
			ts:            ts.UTC(),
			model:         rec.Message.Model,
			input:         u.InputTokens,
			output:        u.OutputTokens,
			cacheCreation: u.CacheCreationInputTokens,
			cacheRead:     u.CacheReadInputTokens,
		})
	}
	return samples, scanner.Err()
}
