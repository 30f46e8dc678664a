// ABOUTME: Tests for CLI commands and server wiring.
// ABOUTME: Verifies health check, path validation, plugin commands and a full scrobble round trip.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/egidijus/funkwhale/internal/config"
)

// testConfig points every persistent store into a temp directory.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("FUNKWHALE_DATABASE_DSN", filepath.Join(t.TempDir(), "funkwhale.db"))
	t.Setenv("FUNKWHALE_LOG_LEVEL", "error")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *app {
	t.Helper()
	a, err := newApp(context.Background(), cfg)
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestServer_Healthz(t *testing.T) {
	a := newTestApp(t, testConfig(t))

	req := httptest.NewRequest("GET", "/healthz", nil)
	rr := httptest.NewRecorder()

	a.handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json.Unmarshal() error = %v, response body: %s", err, rr.Body.String())
	}
	if resp["ok"] != true {
		t.Errorf("ok = %v, want true", resp["ok"])
	}
}

func TestNewApp_InstallsPlugins(t *testing.T) {
	a := newTestApp(t, testConfig(t))

	names := a.host.Registry.Names()
	if len(names) != 2 || names[0] != "scrobbler" || names[1] != "listenbrainz" {
		t.Errorf("Names() = %v, want [scrobbler listenbrainz]", names)
	}
}

func TestNewApp_MemoryDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Driver = config.DriverMemory

	a := newTestApp(t, cfg)
	if a.sql != nil {
		t.Error("expected no SQL store with the memory driver")
	}
	if err := a.requireSQL(); err == nil {
		t.Error("requireSQL() error = nil, want error")
	}

	req := httptest.NewRequest("GET", "/api/v1/plugins", nil)
	req.Header.Set("Authorization", "Bearer user:alice")
	rr := httptest.NewRecorder()
	a.handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestPluginsCommands(t *testing.T) {
	testConfig(t)

	out, err := runCLI(t, "plugins", "configure", "scrobbler", "--user", "alice", "username=alice", "password=hunter2")
	if err != nil {
		t.Fatalf("configure error = %v, output: %s", err, out)
	}
	if !strings.Contains(out, "username: alice") || strings.Contains(out, "hunter2") {
		t.Errorf("unexpected configure output:\n%s", out)
	}

	if out, err := runCLI(t, "plugins", "enable", "scrobbler", "--user", "alice"); err != nil {
		t.Fatalf("enable error = %v, output: %s", err, out)
	}

	out, err = runCLI(t, "plugins", "list", "--user", "alice")
	if err != nil {
		t.Fatalf("list error = %v", err)
	}
	var scrobblerLine string
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "scrobbler") {
			scrobblerLine = line
		}
	}
	// user scoped, enabled and configured
	if strings.Count(scrobblerLine, "true") != 3 {
		t.Errorf("expected scrobbler enabled and configured for alice, got:\n%s", out)
	}

	// The pod scope is untouched.
	out, _ = runCLI(t, "plugins", "list")
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "scrobbler") && strings.Count(line, "true") > 1 {
			t.Errorf("expected pod scrobbler disabled and unconfigured, got %q", line)
		}
	}

	if _, err := runCLI(t, "plugins", "configure", "scrobbler", "--user", "alice", "password"); err == nil {
		t.Error("expected error for malformed setting")
	}
	if _, err := runCLI(t, "plugins", "enable", "nope"); err == nil {
		t.Error("expected error for unknown plugin")
	}
	if _, err := runCLI(t, "plugins", "failures"); err != nil {
		t.Errorf("failures error = %v", err)
	}
	if _, err := runCLI(t, "plugins", "stats", "scrobbler", "--since", "1h"); err != nil {
		t.Errorf("stats error = %v", err)
	}
}

func TestLibrariesCommands(t *testing.T) {
	testConfig(t)

	out, err := runCLI(t, "libraries", "create", "Music", "--user", "alice")
	if err != nil {
		t.Fatalf("create error = %v, output: %s", err, out)
	}
	id := strings.TrimSpace(out)
	if len(id) != 36 {
		t.Fatalf("expected a UUID, got %q", id)
	}

	out, err = runCLI(t, "libraries", "list", "--user", "alice")
	if err != nil {
		t.Fatalf("list error = %v", err)
	}
	if !strings.Contains(out, id) || !strings.Contains(out, "Music") {
		t.Errorf("expected library in list output:\n%s", out)
	}

	if _, err := runCLI(t, "libraries", "list"); err == nil {
		t.Error("expected error without --user")
	}
}

func TestParseSettings(t *testing.T) {
	got, err := parseSettings([]string{"username=alice", "url=", "token=a=b"})
	if err != nil {
		t.Fatalf("parseSettings() error = %v", err)
	}
	want := map[string]any{"username": "alice", "url": "", "token": "a=b"}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %v, want %v", k, got[k], v)
		}
	}

	for _, bad := range []string{"novalue", "=x"} {
		if _, err := parseSettings([]string{bad}); err == nil {
			t.Errorf("parseSettings(%q) error = nil, want error", bad)
		}
	}
}

// audioscrobbler records the submissions a fake scrobbling service receives.
type audioscrobbler struct {
	mu        sync.Mutex
	submitted []url.Values
	done      chan struct{}
}

func newAudioscrobbler(t *testing.T) (*audioscrobbler, *httptest.Server) {
	t.Helper()
	as := &audioscrobbler{done: make(chan struct{}, 1)}
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.Write([]byte("OK\nsession\n" + srv.URL + "/np\n" + srv.URL + "/submit\n"))
		case "/np":
			w.Write([]byte("OK\n"))
		case "/submit":
			r.ParseForm()
			as.mu.Lock()
			as.submitted = append(as.submitted, r.PostForm)
			as.mu.Unlock()
			w.Write([]byte("OK\n"))
			as.done <- struct{}{}
		}
	}))
	t.Cleanup(srv.Close)
	return as, srv
}

func TestListeningIsScrobbled(t *testing.T) {
	as, srv := newAudioscrobbler(t)
	cfg := testConfig(t)
	cfg.Plugins.Scrobbler.DefaultURL = srv.URL

	a := newTestApp(t, cfg)
	server := httptest.NewServer(a.handler())
	defer server.Close()

	do := func(method, path, body string) *http.Response {
		t.Helper()
		req, _ := http.NewRequest(method, server.URL+path, strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer user:alice")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s error = %v", method, path, err)
		}
		resp.Body.Close()
		return resp
	}

	if resp := do("POST", "/api/v1/plugins/scrobbler", `{"username":"alice","password":"pw"}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("configure status = %d", resp.StatusCode)
	}
	if resp := do("POST", "/api/v1/plugins/scrobbler/enable", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("enable status = %d", resp.StatusCode)
	}
	if resp := do("POST", "/api/v1/history/listenings", `{"track":{"title":"Teardrop","artist":"Massive Attack"}}`); resp.StatusCode != http.StatusCreated {
		t.Fatalf("listening status = %d", resp.StatusCode)
	}

	select {
	case <-as.done:
	case <-time.After(5 * time.Second):
		t.Fatal("scrobble was not submitted")
	}

	as.mu.Lock()
	defer as.mu.Unlock()
	if got := as.submitted[0].Get("t[0]"); got != "Teardrop" {
		t.Errorf("submitted title = %q, want Teardrop", got)
	}

	listenings, err := a.sql.ListListenings(context.Background(), "alice", 10)
	if err != nil {
		t.Fatalf("ListListenings() error = %v", err)
	}
	if len(listenings) != 1 {
		t.Errorf("expected 1 stored listening, got %d", len(listenings))
	}
}

func TestValidateAndCleanDBPath_Valid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"simple relative path", "funkwhale.db"},
		{"path with directory", "./data/funkwhale.db"},
		{"absolute path on Unix", "/tmp/funkwhale.db"},
		{"path with whitespace trimmed", "  funkwhale.db  "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := validateAndCleanDBPath(tt.input)
			if err != nil {
				t.Errorf("validateAndCleanDBPath(%q) error = %v, want nil", tt.input, err)
			}
			if result == "" {
				t.Errorf("validateAndCleanDBPath(%q) returned empty string", tt.input)
			}
		})
	}
}

func TestValidateAndCleanDBPath_Invalid(t *testing.T) {
	tests := []struct {
		name          string
		input         string
		shouldContain string
	}{
		{"empty string", "", "cannot be empty"},
		{"current directory dot", ".", "cannot be empty, '.', or '/'"},
		{"root directory", "/", "cannot be empty, '.', or '/'"},
		{"path traversal with dotdot", "../../etc/passwd", "cannot contain '..'"},
		{"git directory blocked", ".git/funkwhale.db", ".git"},
		{"node_modules directory blocked", "node_modules/funkwhale.db", "node_modules"},
		{".env in path blocked", ".env/funkwhale.db", ".env"},
		{"case insensitive bad pattern", "CREDENTIALS/funkwhale.db", "credentials"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := validateAndCleanDBPath(tt.input)
			if err == nil {
				t.Fatalf("validateAndCleanDBPath(%q) error = nil, want error", tt.input)
			}
			if !strings.Contains(err.Error(), tt.shouldContain) {
				t.Errorf("validateAndCleanDBPath(%q) error = %v, should contain %q", tt.input, err, tt.shouldContain)
			}
		})
	}
}
