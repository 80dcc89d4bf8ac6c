package protocol

// WebSocket event names pushed from server to client on /ws/updates.
// Every wire message carries the name in its top-level "type" field.
const (
	EventFileChange       = "file_change"
	EventNewNotification  = "new_notification"
	EventNotificationRead = "notification_read"
	EventStatsUpdate      = "stats_update"
	EventUsageDigest      = "usage_digest"
	EventShutdown         = "shutdown"
)

// File-change subtypes (in payload.event).
const (
	FileEventCreated  = "created"
	FileEventModified = "modified"
)

// FileChange is the wire form of a corpus file-change event.
type FileChange struct {
	Type      string `json:"type"`
	Event     string `json:"event"`
	FilePath  string `json:"file_path"`
	ProjectID string `json:"project_id"`
	Timestamp string `json:"timestamp"`
}

// NewNotification announces a freshly stored hook notification along
// with the unread count after the insert.
type NewNotification struct {
	Type         string      `json:"type"`
	Notification interface{} `json:"notification"`
	UnreadCount  int         `json:"unread_count"`
}

// NotificationRead reports a single notification marked as read.
type NotificationRead struct {
	Type           string `json:"type"`
	NotificationID string `json:"notification_id"`
	ProjectID      string `json:"project_id,omitempty"`
}

// StatsUpdate carries refreshed notification statistics after a bulk
// mutation.
type StatsUpdate struct {
	Type  string      `json:"type"`
	Stats interface{} `json:"stats"`
}

// UsageDigest carries a scheduled usage report.
type UsageDigest struct {
	Type        string      `json:"type"`
	Report      interface{} `json:"report"`
	GeneratedAt string      `json:"generated_at"`
}

// Shutdown announces server teardown so clients can reconnect later
// instead of treating the close as an error.
type Shutdown struct {
	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"`
}
