// ABOUTME: Tests for the scrobbler plugin against a fake audioscrobbler server.
// ABOUTME: Verifies the handshake token, submission payloads and error responses.

package scrobbler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egidijus/funkwhale/internal/history"
	"github.com/egidijus/funkwhale/plugins/core"
)

type fakeServer struct {
	*httptest.Server

	mu         sync.Mutex
	handshake  url.Values
	nowPlaying url.Values
	scrobble   url.Values

	handshakeReply string
	submitReply    string
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	f := &fakeServer{handshakeReply: "OK", submitReply: "OK"}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		switch r.URL.Path {
		case "/":
			f.handshake = r.URL.Query()
			if f.handshakeReply != "OK" {
				w.Write([]byte(f.handshakeReply + "\n"))
				return
			}
			w.Write([]byte("OK\nsession-key\n" + f.URL + "/np\n" + f.URL + "/scrobble\n"))
		case "/np":
			r.ParseForm()
			f.nowPlaying = r.PostForm
			w.Write([]byte(f.submitReply + "\n"))
		case "/scrobble":
			r.ParseForm()
			f.scrobble = r.PostForm
			w.Write([]byte(f.submitReply + "\n"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.Close)
	return f
}

func testListening() history.Listening {
	return history.Listening{
		User: "alice",
		Track: history.Track{
			Title:    "Teardrop",
			Artist:   "Massive Attack",
			Album:    "Mezzanine",
			Position: 3,
			Duration: 330,
			MBID:     "b2d7b4c4-6e7a-4d8b-9a40-8e5c35e2f5a1",
		},
		CreatedAt: time.Unix(1700000000, 0),
	}
}

func newTestPlugin(f *fakeServer) *Plugin {
	p := New(WithHTTPClient(f.Client()), WithDefaultURL(f.URL+"/"))
	p.now = func() time.Time { return time.Unix(1700000100, 0) }
	return p
}

func TestAuthToken(t *testing.T) {
	// md5(md5("secret") + "1700000100")
	assert.Equal(t, "10978f962392f753b794ee64b90e89a6", authToken("secret", "1700000100"))
	assert.NotEqual(t, authToken("secret", "1700000100"), authToken("secret", "1700000101"))
}

func TestForwardSubmitsNowPlayingAndScrobble(t *testing.T) {
	f := newFakeServer(t)
	p := newTestPlugin(f)

	conf := map[string]any{"username": "alice", "password": "secret", "url": nil}
	err := p.forward(context.Background(), conf, core.Args{"listening": testListening()})
	require.NoError(t, err)

	f.mu.Lock()
	defer f.mu.Unlock()

	assert.Equal(t, "true", f.handshake.Get("hs"))
	assert.Equal(t, "1.2", f.handshake.Get("p"))
	assert.Equal(t, Name, f.handshake.Get("c"))
	assert.Equal(t, Version, f.handshake.Get("v"))
	assert.Equal(t, "alice", f.handshake.Get("u"))
	assert.Equal(t, "1700000100", f.handshake.Get("t"))
	assert.Equal(t, authToken("secret", "1700000100"), f.handshake.Get("a"))

	assert.Equal(t, "session-key", f.nowPlaying.Get("s"))
	assert.Equal(t, "Massive Attack", f.nowPlaying.Get("a"))
	assert.Equal(t, "Teardrop", f.nowPlaying.Get("t"))
	assert.Empty(t, f.nowPlaying.Get("i"))

	assert.Equal(t, "session-key", f.scrobble.Get("s"))
	assert.Equal(t, "Massive Attack", f.scrobble.Get("a[0]"))
	assert.Equal(t, "Teardrop", f.scrobble.Get("t[0]"))
	assert.Equal(t, "Mezzanine", f.scrobble.Get("b[0]"))
	assert.Equal(t, "330", f.scrobble.Get("l[0]"))
	assert.Equal(t, "3", f.scrobble.Get("n[0]"))
	assert.Equal(t, "P", f.scrobble.Get("o[0]"))
	assert.Equal(t, "1700000000", f.scrobble.Get("i[0]"))
}

func TestForwardWithoutConfSkips(t *testing.T) {
	p := New()
	err := p.forward(context.Background(), nil, core.Args{"listening": testListening()})
	assert.ErrorIs(t, err, core.ErrSkip)
}

func TestForwardWithoutCredentialsDoesNothing(t *testing.T) {
	f := newFakeServer(t)
	p := newTestPlugin(f)

	err := p.forward(context.Background(), map[string]any{"username": "alice"}, core.Args{"listening": testListening()})
	require.NoError(t, err)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Nil(t, f.handshake)
}

func TestHandshakeErrors(t *testing.T) {
	tests := []struct {
		reply string
		want  error
	}{
		{reply: "BANNED", want: ErrBanned},
		{reply: "BADAUTH", want: ErrBadAuth},
		{reply: "BADTIME", want: ErrBadTime},
	}

	for _, tt := range tests {
		t.Run(tt.reply, func(t *testing.T) {
			f := newFakeServer(t)
			f.handshakeReply = tt.reply
			p := newTestPlugin(f)

			conf := map[string]any{"username": "alice", "password": "secret"}
			err := p.forward(context.Background(), conf, core.Args{"listening": testListening()})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestBadSession(t *testing.T) {
	f := newFakeServer(t)
	f.submitReply = "BADSESSION"
	p := newTestPlugin(f)

	conf := map[string]any{"username": "alice", "password": "secret"}
	err := p.forward(context.Background(), conf, core.Args{"listening": testListening()})
	assert.True(t, errors.Is(err, ErrBadSession))
}

func TestInstallOnHost(t *testing.T) {
	ctx := context.Background()
	f := newFakeServer(t)
	sink := &failures{}

	h, err := core.NewHost(core.HostConfig{Store: core.NewMemoryStore(), Sink: sink})
	require.NoError(t, err)
	require.NoError(t, h.Install(newTestPlugin(f)))

	_, err = h.Registry.SetConfig(ctx, Name, map[string]any{"username": "alice", "password": "secret", "url": ""}, "alice")
	require.NoError(t, err)
	require.NoError(t, h.Registry.Enable(ctx, Name, true, "alice"))

	require.NoError(t, h.Hook(ctx, core.ListeningCreated, core.Args{"listening": testListening()}, "alice"))
	assert.Empty(t, sink.all)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, "1700000000", f.scrobble.Get("i[0]"))
}

type failures struct {
	all []core.Failure
}

func (f *failures) RecordFailure(ctx context.Context, failure core.Failure) {
	f.all = append(f.all, failure)
}

func checkCredentials(p *Plugin, conf map[string]any) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := core.ContextWithConfig(req.Context(), core.EffectiveConfig{Conf: conf, Enabled: true})
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	p.RegisterRoutes(r)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/check", nil))
	return rr
}

func TestCheckRoute(t *testing.T) {
	f := newFakeServer(t)
	p := newTestPlugin(f)

	rr := checkCredentials(p, map[string]any{"username": "alice", "password": "secret"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.JSONEq(t, `{"ok":true,"url":"`+f.URL+`/"}`, rr.Body.String())

	f.mu.Lock()
	assert.Equal(t, "alice", f.handshake.Get("u"))
	assert.Nil(t, f.scrobble)
	f.handshakeReply = "BADAUTH"
	f.mu.Unlock()

	rr = checkCredentials(p, map[string]any{"username": "alice", "password": "wrong"})
	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Contains(t, rr.Body.String(), "credentials")

	rr = checkCredentials(p, map[string]any{"username": "alice"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = checkCredentials(p, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
