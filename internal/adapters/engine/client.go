// Package engine is the outbound client for the external research workflow engine.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/target/mmk-research-api/internal/core"
	apperrors "github.com/target/mmk-research-api/internal/errors"
)

// DefaultTriggerPath is appended to the base URL when Config.TriggerPath is empty.
const DefaultTriggerPath = "/webhook/research"

// maxErrorBody bounds how much of a rejection body is kept for logging.
const maxErrorBody = 512

// Config configures the engine client.
type Config struct {
	BaseURL     string
	TriggerPath string
	Timeout     time.Duration
	// RatePerSecond limits outbound triggers. Zero disables limiting.
	RatePerSecond float64
	Burst         int
	Client        *http.Client
	Logger        *slog.Logger
}

// Client sends trigger requests to the workflow engine.
type Client struct {
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// NewClient builds an engine client. BaseURL must be an absolute http(s) URL.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return nil, errors.New("engine base url is required")
	}
	u, err := url.Parse(base)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("engine base url %q must be an absolute http(s) url", base)
	}

	path := strings.TrimSpace(cfg.TriggerPath)
	if path == "" {
		path = DefaultTriggerPath
	}
	endpoint, err := url.JoinPath(u.String(), path)
	if err != nil {
		return nil, fmt.Errorf("build trigger url: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	hc := cfg.Client
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}

	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		endpoint: endpoint,
		client:   hc,
		limiter:  limiter,
		logger:   logger.With("component", "engine_client"),
	}, nil
}

// Endpoint returns the resolved trigger URL.
func (c *Client) Endpoint() string { return c.endpoint }

// Trigger posts the job to the engine and waits only for the transport
// acknowledgement. Any 2xx is TriggerSent; everything else, including a
// limiter wait cut short by ctx, is TriggerTransportFailed.
func (c *Client) Trigger(ctx context.Context, req core.TriggerRequest) core.TriggerOutcome {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return failed(fmt.Errorf("rate limit wait: %w", err))
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return failed(fmt.Errorf("encode trigger: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return failed(fmt.Errorf("create trigger request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return failed(fmt.Errorf("trigger request failed: %w", err))
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.DebugContext(ctx, "close trigger response", "error", cerr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return failed(fmt.Errorf("engine rejected trigger: %s: %s", resp.Status, strings.TrimSpace(string(snippet))))
	}

	// The response body carries nothing we use.
	if _, drainErr := io.Copy(io.Discard, resp.Body); drainErr != nil {
		c.logger.DebugContext(ctx, "drain trigger response", "error", drainErr)
	}
	return core.TriggerOutcome{Result: core.TriggerSent}
}

func failed(err error) core.TriggerOutcome {
	return core.TriggerOutcome{
		Result: core.TriggerTransportFailed,
		Err:    apperrors.Transient(err, "trigger workflow engine"),
	}
}

var _ core.WorkflowEngine = (*Client)(nil)
