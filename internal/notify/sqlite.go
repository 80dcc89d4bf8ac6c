package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// sqliteStore persists notifications in a local SQLite file. This is
// the standalone-mode backend.
type sqliteStore struct {
	db   *sql.DB
	path string
	cap  int
}

// OpenSQLite opens or creates the notification database at path.
func OpenSQLite(path string) (Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open notification database: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &sqliteStore{db: db, path: path, cap: maxStored}, nil
}

func createSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS notifications (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			project_id TEXT NOT NULL,
			session_id TEXT,
			notification TEXT,
			tool_name TEXT,
			tool_input TEXT,
			details TEXT,
			read INTEGER DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_notifications_project ON notifications(project_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_notifications_read ON notifications(read);
	`
	_, err := db.Exec(schema)
	return err
}

func (s *sqliteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

const notificationColumns = `id, type, project_id, session_id, notification, tool_name, tool_input, details, read, created_at, updated_at`

func (s *sqliteStore) Add(ctx context.Context, n *Notification) error {
	details, err := encodeDetails(n.Details)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notifications (`+notificationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, n.ID, n.Type, n.ProjectID, n.SessionID, n.Notification, n.ToolName, n.ToolInput,
		details, boolToInt(n.Read), n.CreatedAt.UnixNano(), n.UpdatedAt.UnixNano())
	if err != nil {
		return err
	}

	// Evict the oldest rows past the cap.
	_, err = s.db.ExecContext(ctx, `
		DELETE FROM notifications WHERE id IN (
			SELECT id FROM notifications ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)
	`, s.cap)
	return err
}

func (s *sqliteStore) List(ctx context.Context, opts ListOptions) (*ListResult, error) {
	where, args := listFilter(opts)

	limit := clampLimit(opts.Limit)
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		`+where+`
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, append(args, limit, offset)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notifications := []Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := &ListResult{Notifications: notifications}
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN read = 0 THEN 1 ELSE 0 END), 0)
		FROM notifications `+where, args...,
	).Scan(&result.Total, &result.UnreadCount)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *sqliteStore) MarkRead(ctx context.Context, id string) (*Notification, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET read = 1, updated_at = ? WHERE id = ?
	`, time.Now().UTC().UnixNano(), id)
	if err != nil {
		return nil, err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return nil, nil
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+notificationColumns+` FROM notifications WHERE id = ?
	`, id)
	return scanNotification(row)
}

func (s *sqliteStore) MarkAllRead(ctx context.Context, projectID string) (int, error) {
	query := `UPDATE notifications SET read = 1, updated_at = ? WHERE read = 0`
	args := []any{time.Now().UTC().UnixNano()}
	if projectID != "" {
		query += ` AND project_id = ?`
		args = append(args, projectID)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	return int(affected), nil
}

func (s *sqliteStore) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

func (s *sqliteStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		ByProject: map[string]ProjectCount{},
		ByType:    map[string]int{},
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT project_id, COUNT(*), SUM(CASE WHEN read = 0 THEN 1 ELSE 0 END)
		FROM notifications GROUP BY project_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var project string
		var count ProjectCount
		if err := rows.Scan(&project, &count.Total, &count.Unread); err != nil {
			return nil, err
		}
		stats.ByProject[project] = count
		stats.Total += count.Total
		stats.Unread += count.Unread
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	typeRows, err := s.db.QueryContext(ctx, `
		SELECT type, COUNT(*) FROM notifications GROUP BY type
	`)
	if err != nil {
		return nil, err
	}
	defer typeRows.Close()
	for typeRows.Next() {
		var typ string
		var count int
		if err := typeRows.Scan(&typ, &count); err != nil {
			return nil, err
		}
		stats.ByType[typ] = count
	}
	if err := typeRows.Err(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	cutoff := now.AddDate(0, 0, -(recentDays - 1)).Truncate(24 * time.Hour)
	recentRows, err := s.db.QueryContext(ctx, `
		SELECT created_at FROM notifications WHERE created_at >= ?
	`, cutoff.UnixNano())
	if err != nil {
		return nil, err
	}
	defer recentRows.Close()
	var times []time.Time
	for recentRows.Next() {
		var ns int64
		if err := recentRows.Scan(&ns); err != nil {
			return nil, err
		}
		times = append(times, time.Unix(0, ns).UTC())
	}
	if err := recentRows.Err(); err != nil {
		return nil, err
	}
	stats.RecentActivity = bucketDaily(times, now)

	return stats, nil
}

// listFilter builds the WHERE clause shared by List and its counts.
func listFilter(opts ListOptions) (string, []any) {
	var conds []string
	var args []any
	if opts.ProjectID != "" {
		conds = append(conds, "project_id = ?")
		args = append(args, opts.ProjectID)
	}
	if opts.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, opts.Type)
	}
	if opts.UnreadOnly {
		conds = append(conds, "read = 0")
	}
	if len(conds) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanNotification(row rowScanner) (*Notification, error) {
	var n Notification
	var details sql.NullString
	var readInt int
	var createdNS, updatedNS int64
	err := row.Scan(&n.ID, &n.Type, &n.ProjectID, &n.SessionID, &n.Notification,
		&n.ToolName, &n.ToolInput, &details, &readInt, &createdNS, &updatedNS)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	n.Read = readInt != 0
	n.CreatedAt = time.Unix(0, createdNS).UTC()
	n.UpdatedAt = time.Unix(0, updatedNS).UTC()
	if details.Valid && details.String != "" {
		if err := json.Unmarshal([]byte(details.String), &n.Details); err != nil {
			return nil, fmt.Errorf("failed to decode details for %s: %w", n.ID, err)
		}
	}
	return &n, nil
}

func encodeDetails(details map[string]any) (string, error) {
	if len(details) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return "", fmt.Errorf("failed to encode details: %w", err)
	}
	return string(raw), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
