// ABOUTME: HTTP request logging middleware.
// ABOUTME: Captures method, path, status, duration, request/response bodies, and stores them.

package logging

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/egidijus/funkwhale/internal/auth"
	"github.com/egidijus/funkwhale/internal/store"
)

const maxBodySize = 10 * 1024 // 10KB limit for body capture

// RequestLogger persists request log entries.
type RequestLogger interface {
	LogRequest(ctx context.Context, log *store.RequestLog) error
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
	body       *bytes.Buffer
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.statusCode = http.StatusOK
		rw.written = true
	}
	if rw.body.Len() < maxBodySize {
		toCopy := len(b)
		if rw.body.Len()+toCopy > maxBodySize {
			toCopy = maxBodySize - rw.body.Len()
		}
		rw.body.Write(b[:toCopy])
	}
	return rw.ResponseWriter.Write(b)
}

// Hijack implements http.Hijacker to support WebSocket upgrades
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return h.Hijack()
}

// Middleware records every API request through rl. Writes happen in the
// background and failures are only logged.
func Middleware(rl RequestLogger, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/healthz" {
				next.ServeHTTP(w, r)
				return
			}

			var requestBody string
			if r.Body != nil {
				bodyBytes, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
				if err == nil {
					requestBody = string(bodyBytes)
					// Restore the body for the handler to read
					r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(bodyBytes), r.Body))
				}
			}

			start := time.Now()
			wrapped := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
				body:           &bytes.Buffer{},
			}

			next.ServeHTTP(wrapped, r)

			ip := r.RemoteAddr
			if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
				ip = strings.TrimSpace(strings.Split(forwarded, ",")[0])
			}

			entry := &store.RequestLog{
				Timestamp:    start,
				PluginName:   GetPluginFromPath(r.URL.Path),
				Method:       r.Method,
				Path:         r.URL.Path,
				StatusCode:   wrapped.statusCode,
				DurationMs:   int(time.Since(start).Milliseconds()),
				UserID:       auth.UserFromContext(r.Context()),
				IPAddress:    ip,
				UserAgent:    r.Header.Get("User-Agent"),
				RequestBody:  requestBody,
				ResponseBody: wrapped.body.String(),
			}
			if wrapped.statusCode >= http.StatusBadRequest {
				entry.Error = http.StatusText(wrapped.statusCode)
			}

			ctx := context.WithoutCancel(r.Context())
			go func() {
				if err := rl.LogRequest(ctx, entry); err != nil {
					logger.WarnContext(ctx, "failed to store request log", "path", entry.Path, "error", err)
				}
			}()
		})
	}
}
