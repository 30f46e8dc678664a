// ABOUTME: Tests for request log storage operations.
// ABOUTME: Tests plugin metrics calculations and request log queries.

package store

import (
	"context"
	"testing"
	"time"
)

func insertLogs(t *testing.T, s *Store, logs []*RequestLog) {
	t.Helper()
	for _, log := range logs {
		if err := s.LogRequest(context.Background(), log); err != nil {
			t.Fatalf("Failed to insert test log: %v", err)
		}
	}
}

func TestGetPluginRequestCount(t *testing.T) {
	ctx := context.Background()
	s := setupTestDB(t)

	now := time.Now()
	yesterday := now.Add(-24 * time.Hour)
	twoDaysAgo := now.Add(-48 * time.Hour)

	insertLogs(t, s, []*RequestLog{
		{PluginName: "scrobbler", Method: "GET", Path: "/api/v1/plugins/scrobbler", StatusCode: 200, DurationMs: 10, Timestamp: now},
		{PluginName: "scrobbler", Method: "POST", Path: "/api/v1/plugins/scrobbler", StatusCode: 200, DurationMs: 15, Timestamp: yesterday.Add(1 * time.Hour)},
		{PluginName: "scrobbler", Method: "POST", Path: "/api/v1/plugins/scrobbler/enable", StatusCode: 200, DurationMs: 20, Timestamp: yesterday.Add(2 * time.Hour)},
		{PluginName: "scrobbler", Method: "GET", Path: "/api/v1/plugins/scrobbler", StatusCode: 200, DurationMs: 5, Timestamp: twoDaysAgo},
		{PluginName: "listenbrainz", Method: "GET", Path: "/api/v1/plugins/listenbrainz", StatusCode: 200, DurationMs: 8, Timestamp: yesterday.Add(3 * time.Hour)},
		{PluginName: "listenbrainz", Method: "POST", Path: "/api/v1/plugins/listenbrainz", StatusCode: 400, DurationMs: 12, Timestamp: now.Add(-1 * time.Hour)},
	})

	count, err := s.GetPluginRequestCount(ctx, "scrobbler", yesterday)
	if err != nil {
		t.Fatalf("GetPluginRequestCount failed: %v", err)
	}
	if count != 3 {
		t.Errorf("Expected 3 requests for scrobbler in last 24h, got %d", count)
	}

	count, err = s.GetPluginRequestCount(ctx, "listenbrainz", yesterday)
	if err != nil {
		t.Fatalf("GetPluginRequestCount failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 requests for listenbrainz in last 24h, got %d", count)
	}

	count, err = s.GetPluginRequestCount(ctx, "nonexistent", yesterday)
	if err != nil {
		t.Fatalf("GetPluginRequestCount failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected 0 requests for nonexistent plugin, got %d", count)
	}
}

func TestGetPluginErrorRate(t *testing.T) {
	ctx := context.Background()
	s := setupTestDB(t)

	yesterday := time.Now().Add(-24 * time.Hour)

	insertLogs(t, s, []*RequestLog{
		{PluginName: "scrobbler", Method: "GET", Path: "/api/v1/plugins/scrobbler", StatusCode: 200, Timestamp: yesterday.Add(1 * time.Hour)},
		{PluginName: "scrobbler", Method: "GET", Path: "/api/v1/plugins/scrobbler", StatusCode: 200, Timestamp: yesterday.Add(2 * time.Hour)},
		{PluginName: "scrobbler", Method: "POST", Path: "/api/v1/plugins/scrobbler", StatusCode: 400, Timestamp: yesterday.Add(3 * time.Hour)},
		{PluginName: "scrobbler", Method: "POST", Path: "/api/v1/plugins/scrobbler/scan", StatusCode: 405, Timestamp: yesterday.Add(4 * time.Hour)},
		{PluginName: "scrobbler", Method: "DELETE", Path: "/api/v1/plugins/scrobbler", StatusCode: 500, Timestamp: yesterday.Add(5 * time.Hour)},
		{PluginName: "listenbrainz", Method: "GET", Path: "/api/v1/plugins/listenbrainz", StatusCode: 200, Timestamp: yesterday.Add(6 * time.Hour)},
		{PluginName: "listenbrainz", Method: "POST", Path: "/api/v1/plugins/listenbrainz", StatusCode: 200, Timestamp: yesterday.Add(7 * time.Hour)},
		{PluginName: "listenbrainz", Method: "POST", Path: "/api/v1/plugins/listenbrainz/enable", StatusCode: 500, Timestamp: yesterday.Add(8 * time.Hour)},
	})

	// 3 errors out of 5 requests
	rate, err := s.GetPluginErrorRate(ctx, "scrobbler", yesterday)
	if err != nil {
		t.Fatalf("GetPluginErrorRate failed: %v", err)
	}
	if rate != 60.0 {
		t.Errorf("Expected 60.0%% error rate for scrobbler, got %.2f%%", rate)
	}

	// 1 error out of 3 requests
	rate, err = s.GetPluginErrorRate(ctx, "listenbrainz", yesterday)
	if err != nil {
		t.Fatalf("GetPluginErrorRate failed: %v", err)
	}
	if rate < 33.0 || rate > 34.0 {
		t.Errorf("Expected ~33.33%% error rate for listenbrainz, got %.2f%%", rate)
	}

	rate, err = s.GetPluginErrorRate(ctx, "nonexistent", yesterday)
	if err != nil {
		t.Fatalf("GetPluginErrorRate failed: %v", err)
	}
	if rate != 0.0 {
		t.Errorf("Expected 0.0%% error rate for nonexistent plugin, got %.2f%%", rate)
	}
}

func TestGetRecentRequests(t *testing.T) {
	ctx := context.Background()
	s := setupTestDB(t)

	now := time.Now()
	insertLogs(t, s, []*RequestLog{
		{PluginName: "scrobbler", Method: "GET", Path: "/api/v1/plugins/scrobbler/5", StatusCode: 200, Timestamp: now.Add(-1 * time.Minute)},
		{PluginName: "scrobbler", Method: "POST", Path: "/api/v1/plugins/scrobbler/4", StatusCode: 201, Timestamp: now.Add(-2 * time.Minute)},
		{PluginName: "listenbrainz", Method: "GET", Path: "/api/v1/plugins/listenbrainz", StatusCode: 200, Timestamp: now.Add(-3 * time.Minute)},
		{PluginName: "scrobbler", Method: "GET", Path: "/api/v1/plugins/scrobbler/3", StatusCode: 404, Timestamp: now.Add(-4 * time.Minute)},
		{PluginName: "scrobbler", Method: "GET", Path: "/api/v1/plugins/scrobbler/2", StatusCode: 200, Timestamp: now.Add(-5 * time.Minute)},
	})

	logs, err := s.GetRecentRequests(ctx, "scrobbler", 3)
	if err != nil {
		t.Fatalf("GetRecentRequests failed: %v", err)
	}
	if len(logs) != 3 {
		t.Fatalf("Expected 3 recent requests, got %d", len(logs))
	}
	if logs[0].Path != "/api/v1/plugins/scrobbler/5" {
		t.Errorf("Expected most recent request to be /api/v1/plugins/scrobbler/5, got %s", logs[0].Path)
	}

	logs, err = s.GetRecentRequests(ctx, "nonexistent", 5)
	if err != nil {
		t.Fatalf("GetRecentRequests failed: %v", err)
	}
	if len(logs) != 0 {
		t.Errorf("Expected 0 requests for nonexistent plugin, got %d", len(logs))
	}
}

func TestGetRequestLogs_PathPrefixIsLiteral(t *testing.T) {
	ctx := context.Background()
	s := setupTestDB(t)

	insertLogs(t, s, []*RequestLog{
		{PluginName: "fw_scrobbler", Method: "GET", Path: "/api/v1/plugins/fw_scrobbler", StatusCode: 200},
		{PluginName: "fwxscrobbler", Method: "GET", Path: "/api/v1/plugins/fwxscrobbler", StatusCode: 200},
	})

	logs, err := s.GetRequestLogs(ctx, &RequestLogQuery{PathPrefix: "/api/v1/plugins/fw_"})
	if err != nil {
		t.Fatalf("GetRequestLogs failed: %v", err)
	}
	if len(logs) != 1 || logs[0].PluginName != "fw_scrobbler" {
		t.Errorf("Expected only fw_scrobbler to match, got %d logs", len(logs))
	}

	logs, err = s.GetRequestLogs(ctx, &RequestLogQuery{Method: "GET", StatusCode: 200})
	if err != nil {
		t.Fatalf("GetRequestLogs failed: %v", err)
	}
	if len(logs) != 2 {
		t.Errorf("Expected 2 logs, got %d", len(logs))
	}
}
