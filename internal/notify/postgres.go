package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// postgresStore persists notifications in Postgres. This is the
// managed-mode backend. The schema is created by the SQL migrations
// (kaiwa migrate up), never here.
type postgresStore struct {
	db  *sql.DB
	cap int
}

// OpenPostgres connects to the managed-mode database.
func OpenPostgres(dsn string) (Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &postgresStore{db: db, cap: maxStored}, nil
}

func (s *postgresStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *postgresStore) Add(ctx context.Context, n *Notification) error {
	details, err := encodeDetails(n.Details)
	if err != nil {
		return err
	}
	var det any
	if details != "" {
		det = details
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notifications (`+notificationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, n.ID, n.Type, n.ProjectID, n.SessionID, n.Notification, n.ToolName, n.ToolInput,
		det, n.Read, n.CreatedAt, n.UpdatedAt)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		DELETE FROM notifications WHERE id IN (
			SELECT id FROM notifications ORDER BY created_at DESC OFFSET $1
		)
	`, s.cap)
	return err
}

func (s *postgresStore) List(ctx context.Context, opts ListOptions) (*ListResult, error) {
	where, args := pgListFilter(opts)

	limit := clampLimit(opts.Limit)
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT `+notificationColumns+`
		FROM notifications
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)+1, len(args)+2), append(args, limit, offset)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notifications := []Notification{}
	for rows.Next() {
		n, err := pgScanNotification(rows)
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
		SELECT COUNT(*), COUNT(*) FILTER (WHERE NOT read)
		FROM notifications `+where, args...,
	).Scan(&result.Total, &result.UnreadCount)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *postgresStore) MarkRead(ctx context.Context, id string) (*Notification, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE notifications SET read = TRUE, updated_at = $1 WHERE id = $2
		RETURNING `+notificationColumns+`
	`, time.Now().UTC(), id)
	return pgScanNotification(row)
}

func (s *postgresStore) MarkAllRead(ctx context.Context, projectID string) (int, error) {
	query := `UPDATE notifications SET read = TRUE, updated_at = $1 WHERE NOT read`
	args := []any{time.Now().UTC()}
	if projectID != "" {
		query += ` AND project_id = $2`
		args = append(args, projectID)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	return int(affected), nil
}

func (s *postgresStore) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

func (s *postgresStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		ByProject: map[string]ProjectCount{},
		ByType:    map[string]int{},
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT project_id, COUNT(*), COUNT(*) FILTER (WHERE NOT read)
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
		SELECT created_at FROM notifications WHERE created_at >= $1
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer recentRows.Close()
	var times []time.Time
	for recentRows.Next() {
		var t time.Time
		if err := recentRows.Scan(&t); err != nil {
			return nil, err
		}
		times = append(times, t.UTC())
	}
	if err := recentRows.Err(); err != nil {
		return nil, err
	}
	stats.RecentActivity = bucketDaily(times, now)

	return stats, nil
}

func pgListFilter(opts ListOptions) (string, []any) {
	var conds []string
	var args []any
	if opts.ProjectID != "" {
		args = append(args, opts.ProjectID)
		conds = append(conds, fmt.Sprintf("project_id = $%d", len(args)))
	}
	if opts.Type != "" {
		args = append(args, opts.Type)
		conds = append(conds, fmt.Sprintf("type = $%d", len(args)))
	}
	if opts.UnreadOnly {
		conds = append(conds, "NOT read")
	}
	if len(conds) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

func pgScanNotification(row rowScanner) (*Notification, error) {
	var n Notification
	var details sql.NullString
	err := row.Scan(&n.ID, &n.Type, &n.ProjectID, &n.SessionID, &n.Notification,
		&n.ToolName, &n.ToolInput, &details, &n.Read, &n.CreatedAt, &n.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	n.CreatedAt = n.CreatedAt.UTC()
	n.UpdatedAt = n.UpdatedAt.UTC()
	if details.Valid && details.String != "" {
		if err := json.Unmarshal([]byte(details.String), &n.Details); err != nil {
			return nil, fmt.Errorf("failed to decode details for %s: %w", n.ID, err)
		}
	}
	return &n, nil
}
