// ABOUTME: Scrobbler plugin forwarding listenings to Last.fm compatible services.
// ABOUTME: User-scoped; handles listening_created with the user's credentials.

package scrobbler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/egidijus/funkwhale/internal/errors"
	"github.com/egidijus/funkwhale/internal/history"
	"github.com/egidijus/funkwhale/plugins/core"
)

const (
	Name    = "scrobbler"
	Version = "0.1"

	// DefaultURL is used when the user leaves the url field empty.
	DefaultURL = "http://post.audioscrobbler.com"
)

// Plugin implements core.Plugin, core.HookProvider and core.RouteProvider.
type Plugin struct {
	client     client
	defaultURL string
	logger     *slog.Logger
	now        func() time.Time
}

type Option func(*Plugin)

// WithHTTPClient sets the client used for remote calls.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Plugin) { p.client.http = c }
}

// WithDefaultURL overrides DefaultURL.
func WithDefaultURL(u string) Option {
	return func(p *Plugin) {
		if u != "" {
			p.defaultURL = u
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Plugin) { p.logger = l }
}

func New(opts ...Option) *Plugin {
	p := &Plugin{
		client: client{
			http:    &http.Client{Timeout: 10 * time.Second},
			name:    Name,
			version: Version,
		},
		defaultURL: DefaultURL,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("plugin", Name)
	return p
}

func (p *Plugin) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:        Name,
		Label:       "Scrobbler",
		Description: "A plugin that enables scrobbling to ListenBrainz and Last.fm",
		Version:     Version,
		UserScoped:  true,
		Schema: []core.FieldSpec{
			{
				Name:       "url",
				Type:       core.FieldURL,
				Label:      "URL of the scrobbler service",
				Help:       "Suggested choices:\n\n- LastFM (default if left empty): http://post.audioscrobbler.com\n- ListenBrainz: http://proxy.listenbrainz.org/\n- Libre.fm: http://turtle.libre.fm/",
				Optional:   true,
				AllowNull:  true,
				AllowBlank: true,
			},
			{Name: "username", Type: core.FieldText, Label: "Your scrobbler username"},
			{Name: "password", Type: core.FieldPassword, Label: "Your scrobbler password"},
		},
	}
}

func (p *Plugin) Connect(d *core.Dispatcher) error {
	return d.Connect(core.ListeningCreated, Name, p.forward)
}

// RegisterRoutes adds POST /check, which runs a handshake with the caller's
// credentials.
func (p *Plugin) RegisterRoutes(r chi.Router) {
	r.Post("/check", p.check)
}

type credentials struct {
	endpoint string
	username string
	password string
}

func (p *Plugin) credentials(conf map[string]any) (credentials, bool) {
	c := credentials{}
	c.username, _ = conf["username"].(string)
	c.password, _ = conf["password"].(string)
	c.endpoint, _ = conf["url"].(string)
	if c.endpoint == "" {
		c.endpoint = p.defaultURL
	}
	return c, c.username != "" && c.password != ""
}

func (p *Plugin) check(w http.ResponseWriter, r *http.Request) {
	conf, _ := core.ConfigFromContext(r.Context())
	creds, ok := p.credentials(conf.Conf)
	if !ok {
		apierrors.WriteError(w, http.StatusBadRequest, apierrors.ErrMissingField, "Username and password are not configured")
		return
	}

	if _, err := p.client.handshake(r.Context(), creds.endpoint, creds.username, creds.password, p.now()); err != nil {
		p.logger.WarnContext(r.Context(), "scrobbler check failed", "url", creds.endpoint, "error", err)
		apierrors.WriteErrorWithDetails(w, http.StatusBadGateway, apierrors.ErrServiceUnavailable, "Scrobbler handshake failed", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{"ok": true, "url": creds.endpoint})
}

func (p *Plugin) forward(ctx context.Context, conf map[string]any, args core.Args) error {
	if conf == nil {
		return core.ErrSkip
	}
	listening, ok := history.FromArgs(args)
	if !ok {
		return fmt.Errorf("listening argument missing")
	}

	creds, ok := p.credentials(conf)
	if !ok {
		p.logger.DebugContext(ctx, "no scrobbler configuration for user, skipping", "user", listening.User)
		return nil
	}

	p.logger.InfoContext(ctx, "forwarding listening to scrobbler", "url", creds.endpoint, "user", listening.User)
	s, err := p.client.handshake(ctx, creds.endpoint, creds.username, creds.password, p.now())
	if err != nil {
		return err
	}
	p.logger.DebugContext(ctx, "handshake successful", "scrobble_url", s.scrobbleURL)

	if err := p.client.nowPlaying(ctx, s, listening.Track); err != nil {
		return fmt.Errorf("now playing: %w", err)
	}
	if err := p.client.scrobble(ctx, s, listening.Track, listening.CreatedAt); err != nil {
		return fmt.Errorf("scrobble: %w", err)
	}
	return nil
}
