// ABOUTME: Audioscrobbler submission protocol 1.2 client.
// ABOUTME: Performs the handshake, then posts now-playing and scrobble submissions.

package scrobbler

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/egidijus/funkwhale/internal/history"
)

const protocolVersion = "1.2"

var (
	ErrBanned     = errors.New("scrobbler client is banned")
	ErrBadAuth    = errors.New("scrobbler rejected the credentials")
	ErrBadTime    = errors.New("scrobbler rejected the handshake timestamp")
	ErrBadSession = errors.New("remote server says the session is invalid")
)

// session is the result of a successful handshake.
type session struct {
	key           string
	nowPlayingURL string
	scrobbleURL   string
}

type client struct {
	http    *http.Client
	name    string
	version string
}

// authToken is md5(md5(password) + timestamp), hex encoded.
func authToken(password, timestamp string) string {
	inner := md5.Sum([]byte(password))
	outer := md5.Sum([]byte(hex.EncodeToString(inner[:]) + timestamp))
	return hex.EncodeToString(outer[:])
}

func (c *client) handshake(ctx context.Context, endpoint, username, password string, now time.Time) (session, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return session{}, fmt.Errorf("invalid scrobbler url %q: %w", endpoint, err)
	}

	timestamp := strconv.FormatInt(now.Unix(), 10)
	q := u.Query()
	q.Set("hs", "true")
	q.Set("p", protocolVersion)
	q.Set("c", c.name)
	q.Set("v", c.version)
	q.Set("u", username)
	q.Set("t", timestamp)
	q.Set("a", authToken(password, timestamp))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return session{}, err
	}
	body, err := c.do(req)
	if err != nil {
		return session{}, fmt.Errorf("handshake failed: %w", err)
	}

	lines := strings.Split(body, "\n")
	switch {
	case len(lines) >= 4 && lines[0] == "OK":
		return session{
			key:           lines[1],
			nowPlayingURL: lines[2],
			scrobbleURL:   lines[3],
		}, nil
	case lines[0] == "BANNED":
		return session{}, ErrBanned
	case lines[0] == "BADAUTH":
		return session{}, ErrBadAuth
	case lines[0] == "BADTIME":
		return session{}, ErrBadTime
	}
	return session{}, fmt.Errorf("unexpected handshake response: %s", body)
}

func (c *client) nowPlaying(ctx context.Context, s session, track history.Track) error {
	return c.submit(ctx, s.nowPlayingURL, s.key, payload(track, time.Time{}, ""))
}

func (c *client) scrobble(ctx context.Context, s session, track history.Track, at time.Time) error {
	return c.submit(ctx, s.scrobbleURL, s.key, payload(track, at, "[0]"))
}

func (c *client) submit(ctx context.Context, endpoint, key string, form url.Values) error {
	form.Set("s", key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := c.do(req)
	if err != nil {
		return err
	}
	switch {
	case strings.HasPrefix(body, "OK"):
		return nil
	case strings.HasPrefix(body, "BADSESSION"):
		return ErrBadSession
	}
	return fmt.Errorf("unexpected submission response: %s", body)
}

func (c *client) do(req *http.Request) (string, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("%s %s: status %d", req.Method, req.URL.Redacted(), resp.StatusCode)
	}
	return strings.TrimSpace(string(body)), nil
}

// payload builds submission fields. Scrobbles use the "[0]" suffix and carry
// the play time; now-playing notifications have no suffix and no time.
func payload(track history.Track, at time.Time, suffix string) url.Values {
	position := ""
	if track.Position > 0 {
		position = strconv.Itoa(track.Position)
	}

	v := url.Values{}
	v.Set("a"+suffix, track.Artist)
	v.Set("t"+suffix, track.Title)
	v.Set("l"+suffix, strconv.Itoa(track.Duration))
	v.Set("b"+suffix, track.Album)
	v.Set("n"+suffix, position)
	v.Set("m"+suffix, track.MBID)
	v.Set("o"+suffix, "P")
	if !at.IsZero() {
		v.Set("i"+suffix, strconv.FormatInt(at.Unix(), 10))
	}
	return v
}
