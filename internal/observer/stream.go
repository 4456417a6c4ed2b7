package observer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/target/mmk-research-api/internal/domain/model"
)

// WebsocketStream subscribes to GET /api/jobs/{id}/watch.
type WebsocketStream struct {
	base   *url.URL
	dialer *websocket.Dialer
	header http.Header
	logger *slog.Logger
}

// StreamConfig configures a WebsocketStream.
type StreamConfig struct {
	// BaseURL is the http(s) API root; the scheme is switched to ws(s).
	BaseURL          string
	HandshakeTimeout time.Duration
	Header           http.Header
	Logger           *slog.Logger
}

// NewWebsocketStream builds a stream client.
func NewWebsocketStream(cfg StreamConfig) (*WebsocketStream, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"))
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("stream base url %q must be absolute", cfg.BaseURL)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported stream scheme %q", u.Scheme)
	}

	timeout := cfg.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &WebsocketStream{
		base:   u,
		dialer: &websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: timeout},
		header: cfg.Header,
		logger: logger.With("component", "job_stream"),
	}, nil
}

// Subscribe opens the stream. A 404 handshake wraps ErrNotFound.
func (s *WebsocketStream) Subscribe(ctx context.Context, jobID string) (<-chan model.ResearchJob, error) {
	target := s.base.JoinPath("/api/jobs", url.PathEscape(jobID), "watch").String()
	conn, resp, err := s.dialer.DialContext(ctx, target, s.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if errors.Is(err, websocket.ErrBadHandshake) && resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
		}
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}

	out := make(chan model.ResearchJob)
	go s.read(ctx, conn, out)
	return out, nil
}

func (s *WebsocketStream) read(ctx context.Context, conn *websocket.Conn, out chan<- model.ResearchJob) {
	defer close(out)

	// Unblock ReadJSON when the caller goes away.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer func() {
		if stop() {
			_ = conn.Close()
		}
	}()

	for {
		var job model.ResearchJob
		if err := conn.ReadJSON(&job); err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.logger.DebugContext(ctx, "job stream ended", "error", err)
			}
			return
		}
		select {
		case out <- job:
		case <-ctx.Done():
			return
		}
	}
}

var _ Stream = (*WebsocketStream)(nil)
