// Package digest publishes a usage summary on a cron schedule so
// viewers get a periodic push without polling the usage endpoint.
package digest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"github.com/kaiwahq/kaiwa/internal/bus"
	"github.com/kaiwahq/kaiwa/internal/notify"
	"github.com/kaiwahq/kaiwa/internal/usage"
	"github.com/kaiwahq/kaiwa/pkg/protocol"
)

// systemProject marks rows the scheduler writes itself; digests are
// corpus-wide, not tied to any project directory.
const systemProject = "-kaiwa"

// Scheduler runs the digest loop.
type Scheduler struct {
	cron  string
	usage *usage.Engine
	store notify.Store
	pub   bus.EventPublisher
	now   func() time.Time
}

// New builds a scheduler. An empty cron expression disables it.
func New(cron string, engine *usage.Engine, store notify.Store, pub bus.EventPublisher) *Scheduler {
	return &Scheduler{
		cron:  cron,
		usage: engine,
		store: store,
		pub:   pub,
		now:   time.Now,
	}
}

// Run sleeps until each cron tick and publishes a digest. Returns nil
// when disabled or when ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.cron == "" {
		return nil
	}
	if !gronx.New().IsValid(s.cron) {
		return fmt.Errorf("invalid digest cron %q", s.cron)
	}
	slog.Info("digest: scheduled", "cron", s.cron)

	for {
		next, err := gronx.NextTickAfter(s.cron, s.now(), false)
		if err != nil {
			return fmt.Errorf("next digest tick: %w", err)
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		s.emit(ctx)
	}
}

// emit generates one digest: persist a notification row, then push
// fresh stats and the report itself.
func (s *Scheduler) emit(ctx context.Context) {
	rep := s.usage.Report(ctx)
	now := s.now().UTC()

	n := &notify.Notification{
		ID:           uuid.NewString(),
		Type:         notify.TypeNotification,
		ProjectID:    systemProject,
		Notification: renderSummary(rep),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Add(ctx, n); err != nil {
		slog.Warn("digest: store failed", "error", err)
	}

	if stats, err := s.store.Stats(ctx); err != nil {
		slog.Warn("digest: stats failed", "error", err)
	} else {
		s.pub.Broadcast(bus.Event{
			Name: protocol.EventStatsUpdate,
			Payload: protocol.StatsUpdate{
				Type:  protocol.EventStatsUpdate,
				Stats: stats,
			},
		})
	}

	s.pub.Broadcast(bus.Event{
		Name: protocol.EventUsageDigest,
		Payload: protocol.UsageDigest{
			Type:        protocol.EventUsageDigest,
			Report:      rep,
			GeneratedAt: now.Format(time.RFC3339),
		},
	})
	slog.Info("digest: published", "generated_at", now.Format(time.RFC3339))
}

// renderSummary is the one-line text stored with the digest row.
func renderSummary(rep *usage.Report) string {
	if !rep.Available {
		return "usage digest: report unavailable"
	}
	var b strings.Builder
	b.WriteString("usage digest")
	if s := rep.CurrentSession; s != nil {
		fmt.Fprintf(&b, ": session %d/%d tokens (%.1f%%)",
			s.Corrected.TotalTokens, s.LimitTokens, s.PercentageUsed)
	}
	if w := rep.WeeklyAll; w != nil {
		fmt.Fprintf(&b, ", week %d/%d (%.1f%%)",
			w.Corrected.TotalTokens, w.LimitTokens, w.PercentageUsed)
	}
	return b.String()
}
