// Package notify stores and fans out hook notifications: permission
// requests, tool usage, and plain notifications posted by the
// assistant's hook scripts.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/kaiwahq/kaiwa/internal/config"
)

// Notification types accepted from hooks.
const (
	TypeNotification      = "notification"
	TypePermissionRequest = "permission_request"
	TypeToolUse           = "tool_use"
)

// maxStored caps the table size. Inserts past the cap evict the oldest
// rows by creation time.
const maxStored = 10000

// Notification is one stored hook event.
type Notification struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	ProjectID    string         `json:"project_id"`
	SessionID    string         `json:"session_id,omitempty"`
	Notification string         `json:"notification,omitempty"`
	ToolName     string         `json:"tool_name,omitempty"`
	ToolInput    string         `json:"tool_input,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	Read         bool           `json:"read"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// ListOptions filter and paginate List.
type ListOptions struct {
	ProjectID  string
	Type       string
	UnreadOnly bool
	Limit      int
	Offset     int
}

// ListResult is one page of notifications. Total and UnreadCount are
// computed within the same filters, ignoring pagination.
type ListResult struct {
	Notifications []Notification `json:"notifications"`
	Total         int            `json:"total"`
	UnreadCount   int            `json:"unread_count"`
}

// ProjectCount is the per-project slice of Stats.
type ProjectCount struct {
	Total  int `json:"total"`
	Unread int `json:"unread"`
}

// DailyCount is one day of recent activity, newest first.
type DailyCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// Stats summarizes the stored notifications.
type Stats struct {
	Total          int                     `json:"total"`
	Unread         int                     `json:"unread"`
	ByProject      map[string]ProjectCount `json:"by_project"`
	ByType         map[string]int          `json:"by_type"`
	RecentActivity []DailyCount            `json:"recent_activity"`
}

// Store persists notifications. Implementations enforce the row cap
// on insert.
type Store interface {
	Add(ctx context.Context, n *Notification) error
	List(ctx context.Context, opts ListOptions) (*ListResult, error)
	// MarkRead returns the updated row, or nil when id is unknown.
	MarkRead(ctx context.Context, id string) (*Notification, error)
	MarkAllRead(ctx context.Context, projectID string) (int, error)
	Delete(ctx context.Context, id string) (bool, error)
	Stats(ctx context.Context) (*Stats, error)
	Close() error
}

// NewStore opens the backend selected by the database configuration:
// SQLite in standalone mode (the default), Postgres in managed mode.
// The Postgres schema is owned by the migrations, not created here.
func NewStore(cfg config.DatabaseConfig) (Store, error) {
	if cfg.Mode == "managed" {
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("managed mode requires KAIWA_POSTGRES_DSN")
		}
		return OpenPostgres(cfg.PostgresDSN)
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("database.path is empty")
	}
	return OpenSQLite(cfg.Path)
}

// clampLimit applies the List defaults: 50 rows, at most 1000.
func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 50
	case limit > 1000:
		return 1000
	}
	return limit
}

// recentDays is the span of Stats.RecentActivity.
const recentDays = 7

// bucketDaily counts creation times per UTC day over the last
// recentDays, newest first, zero-filled.
func bucketDaily(times []time.Time, now time.Time) []DailyCount {
	counts := make(map[string]int, recentDays)
	for _, t := range times {
		counts[t.UTC().Format("2006-01-02")]++
	}
	out := make([]DailyCount, 0, recentDays)
	for i := 0; i < recentDays; i++ {
		day := now.UTC().AddDate(0, 0, -i).Format("2006-01-02")
		out = append(out, DailyCount{Date: day, Count: counts[day]})
	}
	return out
}
