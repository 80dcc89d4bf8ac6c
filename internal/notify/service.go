package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/kaiwahq/kaiwa/internal/bus"
	"github.com/kaiwahq/kaiwa/internal/corpus"
	"github.com/kaiwahq/kaiwa/pkg/protocol"
)

// Validation failures and rate-limit rejections carry these sentinels
// so the HTTP layer can map them to 400 and 429.
var (
	ErrInvalid     = errors.New("invalid notification")
	ErrRateLimited = errors.New("notification rate limit exceeded")
)

// hookBurst is the per-project ingest budget: refill 1/s, burst 60,
// so a project can post at most 60 notifications per minute.
const hookBurst = 60

// HookPayload is the body posted to the hook endpoint. A timestamp
// field, if present, is ignored; creation time is assigned here.
type HookPayload struct {
	Type         string         `json:"type"`
	ProjectID    string         `json:"project_id"`
	SessionID    string         `json:"session_id,omitempty"`
	Notification string         `json:"notification,omitempty"`
	ToolName     string         `json:"tool_name,omitempty"`
	ToolInput    string         `json:"tool_input,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
}

// Service validates, stores, broadcasts and forwards notifications.
type Service struct {
	store      Store
	pub        bus.EventPublisher
	forwarders []Forwarder
	burst      int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewService wires the notification pipeline. Forwarders are optional.
func NewService(store Store, pub bus.EventPublisher, forwarders ...Forwarder) *Service {
	return &Service{
		store:      store,
		pub:        pub,
		forwarders: forwarders,
		burst:      hookBurst,
		limiters:   make(map[string]*rate.Limiter),
	}
}

// Ingest accepts one hook payload: validate, rate-limit, persist,
// broadcast, then forward. Forwarder failures are logged and never
// fail the ingest.
func (s *Service) Ingest(ctx context.Context, p HookPayload) (*Notification, error) {
	if p.ProjectID == "" {
		return nil, fmt.Errorf("%w: project_id is required", ErrInvalid)
	}
	// Hooks may post the working directory instead of the corpus id.
	if strings.HasPrefix(p.ProjectID, "/") {
		p.ProjectID = corpus.PathToProjectID(p.ProjectID)
	}
	switch p.Type {
	case TypeNotification, TypePermissionRequest:
		if p.Notification == "" {
			return nil, fmt.Errorf("%w: notification content is required for type %q", ErrInvalid, p.Type)
		}
	case TypeToolUse:
		if p.ToolName == "" {
			return nil, fmt.Errorf("%w: tool_name is required for type %q", ErrInvalid, p.Type)
		}
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalid, p.Type)
	}

	if !s.limiter(p.ProjectID).Allow() {
		return nil, fmt.Errorf("%w: project %s", ErrRateLimited, p.ProjectID)
	}

	now := time.Now().UTC()
	n := &Notification{
		ID:           uuid.NewString(),
		Type:         p.Type,
		ProjectID:    p.ProjectID,
		SessionID:    p.SessionID,
		Notification: p.Notification,
		ToolName:     p.ToolName,
		ToolInput:    p.ToolInput,
		Details:      p.Details,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Add(ctx, n); err != nil {
		return nil, fmt.Errorf("store notification: %w", err)
	}

	unread := 0
	if stats, err := s.store.Stats(ctx); err != nil {
		slog.Warn("notify: stats after ingest failed", "error", err)
	} else {
		unread = stats.Unread
	}
	s.pub.Broadcast(bus.Event{
		Name:    protocol.EventNewNotification,
		Project: n.ProjectID,
		Payload: protocol.NewNotification{
			Type:         protocol.EventNewNotification,
			Notification: n,
			UnreadCount:  unread,
		},
	})

	// tool_use events are too chatty to push to chat channels.
	if n.Type != TypeToolUse {
		for _, f := range s.forwarders {
			if err := f.Forward(ctx, n); err != nil {
				slog.Warn("notify: forward failed", "forwarder", f.Name(), "error", err)
			}
		}
	}
	return n, nil
}

// List returns a filtered page of stored notifications.
func (s *Service) List(ctx context.Context, opts ListOptions) (*ListResult, error) {
	return s.store.List(ctx, opts)
}

// MarkRead marks one notification read and announces it. Returns nil
// when the id is unknown.
func (s *Service) MarkRead(ctx context.Context, id string) (*Notification, error) {
	n, err := s.store.MarkRead(ctx, id)
	if err != nil || n == nil {
		return n, err
	}
	s.pub.Broadcast(bus.Event{
		Name:    protocol.EventNotificationRead,
		Project: n.ProjectID,
		Payload: protocol.NotificationRead{
			Type:           protocol.EventNotificationRead,
			NotificationID: n.ID,
			ProjectID:      n.ProjectID,
		},
	})
	return n, nil
}

// MarkAllRead marks every unread notification read, optionally scoped
// to one project, and pushes fresh stats when anything changed.
func (s *Service) MarkAllRead(ctx context.Context, projectID string) (int, error) {
	marked, err := s.store.MarkAllRead(ctx, projectID)
	if err != nil || marked == 0 {
		return marked, err
	}
	if stats, err := s.store.Stats(ctx); err != nil {
		slog.Warn("notify: stats after mark-all-read failed", "error", err)
	} else {
		s.pub.Broadcast(bus.Event{
			Name:    protocol.EventStatsUpdate,
			Project: projectID,
			Payload: protocol.StatsUpdate{
				Type:  protocol.EventStatsUpdate,
				Stats: stats,
			},
		})
	}
	return marked, nil
}

// Delete removes one notification. No broadcast.
func (s *Service) Delete(ctx context.Context, id string) (bool, error) {
	return s.store.Delete(ctx, id)
}

// Stats summarizes the stored notifications.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	return s.store.Stats(ctx)
}

func (s *Service) limiter(projectID string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	lim, ok := s.limiters[projectID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(1), s.burst)
		s.limiters[projectID] = lim
	}
	return lim
}
