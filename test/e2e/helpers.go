// ABOUTME: Test helpers for E2E testing.
// ABOUTME: Starts the full server against fake scrobbling services and wraps HTTP requests.

package e2e_test

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"testing"

	"github.com/egidijus/funkwhale/internal/admin"
	"github.com/egidijus/funkwhale/internal/api"
	"github.com/egidijus/funkwhale/internal/logging"
	"github.com/egidijus/funkwhale/internal/store"
	"github.com/egidijus/funkwhale/plugins/core"
	"github.com/egidijus/funkwhale/plugins/listenbrainz"
	"github.com/egidijus/funkwhale/plugins/scrobbler"
)

// podAdmin may use the /admin pages of the test server.
const podAdmin = "root"

// TestServer wraps a test HTTP server with its store and fake upstreams
type TestServer struct {
	Server         *httptest.Server
	Store          *store.Store
	Host           *core.Host
	Audioscrobbler *FakeAudioscrobbler
	ListenBrainz   *FakeListenBrainz

	client *http.Client
}

// StartTestServer creates and starts a server with every plugin installed
func StartTestServer(t *testing.T) *TestServer {
	t.Helper()

	s, err := store.New(filepath.Join(t.TempDir(), "e2e.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	lastfm := NewFakeAudioscrobbler(t)
	lb := NewFakeListenBrainz(t)

	host, err := core.NewHost(core.HostConfig{
		Store:     s,
		Libraries: s,
		Sink:      logging.StoreSink{Store: s, Logger: logger},
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("failed to create plugin host: %v", err)
	}
	for _, p := range []core.Plugin{
		scrobbler.New(scrobbler.WithDefaultURL(lastfm.Server.URL), scrobbler.WithLogger(logger)),
		listenbrainz.New(listenbrainz.WithAPIURL(lb.Server.URL), listenbrainz.WithLogger(logger)),
	} {
		if err := host.Install(p); err != nil {
			t.Fatalf("failed to install plugin: %v", err)
		}
	}

	handler := api.NewRouter(
		api.NewHandlers(host, s, s, logger),
		s,
		logger,
		api.WithAdmin(admin.NewHandlers(host.Registry, logger), []string{podAdmin}),
	)
	srv := httptest.NewServer(handler)

	// Redirects are asserted, not followed.
	client := srv.Client()
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	ts := &TestServer{
		Server:         srv,
		Store:          s,
		Host:           host,
		Audioscrobbler: lastfm,
		ListenBrainz:   lb,
		client:         client,
	}
	t.Cleanup(ts.Close)
	return ts
}

// Close shuts down the test server and cleans up
func (ts *TestServer) Close() {
	ts.Server.Close()
	ts.Store.Close()
}

// Do makes a request as user with an optional JSON body. An empty user is
// anonymous.
func (ts *TestServer) Do(t *testing.T, method, path, user string, body any) *http.Response {
	t.Helper()
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequest(method, ts.Server.URL+path, bodyReader)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	if user != "" {
		req.Header.Set("Authorization", "Bearer user:"+user)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := ts.client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

// POSTForm makes a form POST as user
func (ts *TestServer) POSTForm(t *testing.T, path, user string, data url.Values) *http.Response {
	t.Helper()
	req, err := http.NewRequest("POST", ts.Server.URL+path, bytes.NewReader([]byte(data.Encode())))
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if user != "" {
		req.Header.Set("Authorization", "Bearer user:"+user)
	}

	resp, err := ts.client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

// ConfigurePlugin saves conf for user and enables the plugin.
func (ts *TestServer) ConfigurePlugin(t *testing.T, user, plugin string, conf map[string]any) {
	t.Helper()
	resp := ts.Do(t, "POST", "/api/v1/plugins/"+plugin, user, conf)
	AssertStatusCode(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = ts.Do(t, "POST", "/api/v1/plugins/"+plugin+"/enable", user, nil)
	AssertStatusCode(t, resp, http.StatusOK)
	resp.Body.Close()
}

// AssertStatusCode checks if response has expected status code
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected status %d, got %d. Body: %s", expected, resp.StatusCode, string(body))
	}
}

// DecodeJSON decodes response body as JSON
func DecodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode JSON: %v", err)
	}
}

// ReadBody reads and returns the response body
func ReadBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	return string(body)
}

// FakeAudioscrobbler speaks the submission protocol 1.2 and records
// scrobbles for accounts whose password matches Passwords.
type FakeAudioscrobbler struct {
	Server    *httptest.Server
	Passwords map[string]string

	mu        sync.Mutex
	scrobbles []url.Values
	playing   []url.Values
}

func NewFakeAudioscrobbler(t *testing.T) *FakeAudioscrobbler {
	t.Helper()
	f := &FakeAudioscrobbler{Passwords: map[string]string{}}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Server.Close)
	return f
}

func (f *FakeAudioscrobbler) serve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("hs") == "true" {
		q := r.URL.Query()
		inner := md5.Sum([]byte(f.Passwords[q.Get("u")]))
		outer := md5.Sum([]byte(hex.EncodeToString(inner[:]) + q.Get("t")))
		if q.Get("a") != hex.EncodeToString(outer[:]) {
			fmt.Fprintln(w, "BADAUTH")
			return
		}
		fmt.Fprintf(w, "OK\nsession-%s\n%s/np\n%s/scrobble\n", q.Get("u"), f.Server.URL, f.Server.URL)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	switch r.URL.Path {
	case "/np":
		f.playing = append(f.playing, r.PostForm)
	case "/scrobble":
		f.scrobbles = append(f.scrobbles, r.PostForm)
	default:
		http.NotFound(w, r)
		return
	}
	fmt.Fprintln(w, "OK")
}

func (f *FakeAudioscrobbler) Scrobbles() []url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]url.Values(nil), f.scrobbles...)
}

func (f *FakeAudioscrobbler) NowPlaying() []url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]url.Values(nil), f.playing...)
}

// ListenBrainzSubmission is one recorded submit-listens call.
type ListenBrainzSubmission struct {
	Token      string
	ListenType string `json:"listen_type"`
	Payload    []struct {
		ListenedAt    int64 `json:"listened_at"`
		TrackMetadata struct {
			ArtistName string `json:"artist_name"`
			TrackName  string `json:"track_name"`
		} `json:"track_metadata"`
	} `json:"payload"`
}

// FakeListenBrainz records submit-listens calls. While Failing is set it
// answers with 500.
type FakeListenBrainz struct {
	Server *httptest.Server

	mu          sync.Mutex
	failing     bool
	submissions []ListenBrainzSubmission
}

func NewFakeListenBrainz(t *testing.T) *FakeListenBrainz {
	t.Helper()
	f := &FakeListenBrainz{}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Server.Close)
	return f
}

func (f *FakeListenBrainz) serve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.URL.Path != "/1/submit-listens" {
		http.NotFound(w, r)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		http.Error(w, "listenbrainz is down", http.StatusInternalServerError)
		return
	}

	var sub ListenBrainzSubmission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sub.Token = r.Header.Get("Authorization")
	f.submissions = append(f.submissions, sub)
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"status":"ok"}`)
}

func (f *FakeListenBrainz) SetFailing(failing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = failing
}

func (f *FakeListenBrainz) Submissions() []ListenBrainzSubmission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ListenBrainzSubmission(nil), f.submissions...)
}

// recentFailures reads stored dispatch failures of plugin.
func (ts *TestServer) recentFailures(t *testing.T, plugin string) []*store.PluginFailure {
	t.Helper()
	failures, err := ts.Store.GetRecentFailures(context.Background(), plugin, 10)
	if err != nil {
		t.Fatalf("failed to read failures: %v", err)
	}
	return failures
}
