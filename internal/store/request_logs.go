// ABOUTME: Request log storage operations.
// ABOUTME: Handles inserting and querying HTTP request logs of the plugin API.

package store

import (
	"context"
	"time"
)

// RequestLog represents an HTTP request log entry
type RequestLog struct {
	ID           int64
	Timestamp    time.Time
	PluginName   string
	Method       string
	Path         string
	StatusCode   int
	DurationMs   int
	UserID       string
	IPAddress    string
	UserAgent    string
	Error        string
	RequestBody  string
	ResponseBody string
}

// LogRequest inserts a request log entry. A zero Timestamp is set to now.
func (s *Store) LogRequest(ctx context.Context, log *RequestLog) error {
	if log.Timestamp.IsZero() {
		log.Timestamp = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO request_logs (timestamp, plugin_name, method, path, status_code, duration_ms, user_id, ip_address, user_agent, error, request_body, response_body)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, log.Timestamp.UTC(), log.PluginName, log.Method, log.Path, log.StatusCode, log.DurationMs, log.UserID, log.IPAddress, log.UserAgent, log.Error, log.RequestBody, log.ResponseBody)
	return err
}

// RequestLogQuery represents filters for request logs
type RequestLogQuery struct {
	Limit      int
	Offset     int
	PluginName string
	Method     string
	PathPrefix string
	StatusCode int
	UserID     string
}

const requestLogColumns = `id, timestamp, COALESCE(plugin_name, ''), method, path, status_code, duration_ms,
	COALESCE(user_id, ''), COALESCE(ip_address, ''), COALESCE(user_agent, ''), COALESCE(error, ''),
	COALESCE(request_body, ''), COALESCE(response_body, '')`

// GetRequestLogs retrieves request logs with filtering
func (s *Store) GetRequestLogs(ctx context.Context, q *RequestLogQuery) ([]*RequestLog, error) {
	query := `SELECT ` + requestLogColumns + ` FROM request_logs WHERE 1=1`
	args := []any{}

	if q.PluginName != "" {
		query += " AND plugin_name = ?"
		args = append(args, q.PluginName)
	}
	if q.Method != "" {
		query += " AND method = ?"
		args = append(args, q.Method)
	}
	if q.PathPrefix != "" {
		// MySQL escapes LIKE patterns with a backslash by default.
		query += " AND path LIKE ?"
		if s.driver == DriverSQLite {
			query += ` ESCAPE '\'`
		}
		args = append(args, escapeSQLLike(q.PathPrefix)+"%")
	}
	if q.StatusCode > 0 {
		query += " AND status_code = ?"
		args = append(args, q.StatusCode)
	}
	if q.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, q.UserID)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, q.Offset)

	return s.queryRequestLogs(ctx, query, args...)
}

// GetPluginRequestCount returns the number of requests for a plugin since a given time
func (s *Store) GetPluginRequestCount(ctx context.Context, pluginName string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM request_logs
		WHERE plugin_name = ? AND timestamp >= ?
	`, pluginName, since.UTC()).Scan(&count)
	return count, err
}

// GetPluginErrorRate returns the error rate percentage for a plugin since a given time
func (s *Store) GetPluginErrorRate(ctx context.Context, pluginName string, since time.Time) (float64, error) {
	var totalCount, errorCount int

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM request_logs
		WHERE plugin_name = ? AND timestamp >= ?
	`, pluginName, since.UTC()).Scan(&totalCount)
	if err != nil {
		return 0, err
	}

	// No requests means 0% error rate
	if totalCount == 0 {
		return 0, nil
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM request_logs
		WHERE plugin_name = ? AND timestamp >= ? AND status_code >= 400
	`, pluginName, since.UTC()).Scan(&errorCount)
	if err != nil {
		return 0, err
	}

	return (float64(errorCount) / float64(totalCount)) * 100.0, nil
}

// GetRecentRequests returns the most recent requests for a plugin
func (s *Store) GetRecentRequests(ctx context.Context, pluginName string, limit int) ([]*RequestLog, error) {
	return s.GetRequestLogs(ctx, &RequestLogQuery{PluginName: pluginName, Limit: limit})
}

func (s *Store) queryRequestLogs(ctx context.Context, query string, args ...any) ([]*RequestLog, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*RequestLog
	for rows.Next() {
		log := &RequestLog{}
		if err := rows.Scan(&log.ID, &log.Timestamp, &log.PluginName, &log.Method, &log.Path, &log.StatusCode,
			&log.DurationMs, &log.UserID, &log.IPAddress, &log.UserAgent, &log.Error,
			&log.RequestBody, &log.ResponseBody); err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}
