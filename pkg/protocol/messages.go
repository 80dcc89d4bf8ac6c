package protocol

// Client → server message types on /ws/updates.
const (
	MessageUpdateFilters = "update_filters"
)

// ClientMessage is the envelope read from a connected viewer.
type ClientMessage struct {
	Type    string         `json:"type"`
	Filters *ClientFilters `json:"filters,omitempty"`
}

// ClientFilters narrows which file_change events a viewer receives.
// A nil Projects slice (or an empty one) means all projects; otherwise
// only events whose project id is listed are delivered. Notification
// events are never filtered.
type ClientFilters struct {
	Projects []string `json:"projects"`
}

// Matches reports whether a file-change event for projectID should be
// delivered under these filters.
func (f *ClientFilters) Matches(projectID string) bool {
	if f == nil || len(f.Projects) == 0 {
		return true
	}
	for _, p := range f.Projects {
		if p == projectID {
			return true
		}
	}
	return false
}
