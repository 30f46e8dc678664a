// ABOUTME: ListenBrainz plugin submitting listenings with the user's token.
// ABOUTME: User-scoped; handles listening_created and listening_now through submit-listens.

package listenbrainz

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/egidijus/funkwhale/internal/history"
	"github.com/egidijus/funkwhale/plugins/core"
)

const (
	Name    = "listenbrainz"
	Version = "0.1"

	DefaultAPIURL = "https://api.listenbrainz.org"
)

type Plugin struct {
	http   *http.Client
	apiURL string
	logger *slog.Logger
}

type Option func(*Plugin)

func WithHTTPClient(c *http.Client) Option {
	return func(p *Plugin) { p.http = c }
}

// WithAPIURL points the plugin at another ListenBrainz instance.
func WithAPIURL(u string) Option {
	return func(p *Plugin) {
		if u != "" {
			p.apiURL = strings.TrimRight(u, "/")
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Plugin) { p.logger = l }
}

func New(opts ...Option) *Plugin {
	p := &Plugin{
		http:   &http.Client{Timeout: 10 * time.Second},
		apiURL: DefaultAPIURL,
		logger: slog.Default(),
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
		Label:       "ListenBrainz",
		Description: "A plugin that allows you to submit your listens to ListenBrainz.",
		Version:     Version,
		UserScoped:  true,
		Schema: []core.FieldSpec{
			{
				Name:  "user_token",
				Type:  core.FieldText,
				Label: "Your ListenBrainz user token",
				Help:  "You can find your user token in your ListenBrainz profile at https://listenbrainz.org/profile/",
			},
		},
	}
}

func (p *Plugin) Connect(d *core.Dispatcher) error {
	if err := d.Connect(core.ListeningCreated, Name, p.submit); err != nil {
		return err
	}
	return d.Connect(core.ListeningNow, Name, p.playingNow)
}

type submission struct {
	ListenType string   `json:"listen_type"`
	Payload    []listen `json:"payload"`
}

type listen struct {
	ListenedAt    int64         `json:"listened_at,omitempty"`
	TrackMetadata trackMetadata `json:"track_metadata"`
}

type trackMetadata struct {
	ArtistName     string         `json:"artist_name"`
	TrackName      string         `json:"track_name"`
	ReleaseName    string         `json:"release_name,omitempty"`
	AdditionalInfo map[string]any `json:"additional_info"`
}

func metadata(t history.Track) trackMetadata {
	info := map[string]any{
		"listening_from": "Funkwhale",
		"tracknumber":    t.Position,
		"discnumber":     t.DiscNumber,
	}
	if t.MBID != "" {
		info["recording_mbid"] = t.MBID
	}
	if t.AlbumMBID != "" {
		info["release_mbid"] = t.AlbumMBID
	}
	if t.ArtistMBID != "" {
		info["artist_mbids"] = []string{t.ArtistMBID}
	}
	return trackMetadata{
		ArtistName:     t.Artist,
		TrackName:      t.Title,
		ReleaseName:    t.Album,
		AdditionalInfo: info,
	}
}

func token(conf map[string]any) (string, error) {
	if conf == nil {
		return "", core.ErrSkip
	}
	t, _ := conf["user_token"].(string)
	return t, nil
}

func (p *Plugin) submit(ctx context.Context, conf map[string]any, args core.Args) error {
	tok, err := token(conf)
	if err != nil || tok == "" {
		return err
	}
	l, ok := history.FromArgs(args)
	if !ok {
		return fmt.Errorf("listening argument missing")
	}

	p.logger.InfoContext(ctx, "submitting listen to ListenBrainz", "user", l.User)
	return p.post(ctx, tok, submission{
		ListenType: "single",
		Payload: []listen{{
			ListenedAt:    l.CreatedAt.Unix(),
			TrackMetadata: metadata(l.Track),
		}},
	})
}

// playingNow reports the track currently playing. ListenBrainz does not
// store these.
func (p *Plugin) playingNow(ctx context.Context, conf map[string]any, args core.Args) error {
	tok, err := token(conf)
	if err != nil || tok == "" {
		return err
	}
	var track history.Track
	switch v := args["track"].(type) {
	case history.Track:
		track = v
	case *history.Track:
		if v == nil {
			return fmt.Errorf("track argument missing")
		}
		track = *v
	default:
		return fmt.Errorf("track argument missing")
	}

	return p.post(ctx, tok, submission{
		ListenType: "playing_now",
		Payload:    []listen{{TrackMetadata: metadata(track)}},
	})
}

func (p *Plugin) post(ctx context.Context, tok string, sub submission) error {
	body, err := json.Marshal(sub)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL+"/1/submit-listens", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Token "+tok)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("submit %s: %w", sub.ListenType, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("submit %s: status %d: %s", sub.ListenType, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
