package observer

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

	"github.com/target/mmk-research-api/internal/domain/model"
	apperrors "github.com/target/mmk-research-api/internal/errors"
)

const maxErrorBody = 4 << 10

// APIError is a non-2xx answer from the research API.
type APIError struct {
	StatusCode int
	Code       string `json:"error"`
	Message    string `json:"message"`
	Field      string `json:"field,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("research api: %d", e.StatusCode)
	}
	return fmt.Sprintf("research api: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// ClientConfig configures an APIClient.
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
	Client  *http.Client
	Logger  *slog.Logger
}

// APIClient talks to the research API over HTTP.
type APIClient struct {
	base   *url.URL
	client *http.Client
	logger *slog.Logger
}

// NewAPIClient builds a client for the API rooted at cfg.BaseURL.
func NewAPIClient(cfg ClientConfig) (*APIClient, error) {
	raw := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("api base url %q must be an absolute http(s) url", cfg.BaseURL)
	}
	hc := cfg.Client
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &APIClient{base: u, client: hc, logger: logger.With("component", "research_api_client")}, nil
}

// BaseURL returns the API root.
func (c *APIClient) BaseURL() *url.URL {
	u := *c.base
	return &u
}

// StartJob dispatches a research job.
func (c *APIClient) StartJob(ctx context.Context, req model.StartJobRequest) (*model.StartJobResult, error) {
	var out model.StartJobResult
	if err := c.do(ctx, http.MethodPost, "/api/jobs", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetStatus returns the status read model. A 404 wraps ErrNotFound and any
// other failure wraps ErrTransient.
func (c *APIClient) GetStatus(ctx context.Context, jobID string) (*model.StatusResponse, error) {
	var out model.StatusResponse
	err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(jobID)+"/status", nil, nil, &out)
	if err != nil {
		return nil, classify(err)
	}
	return &out, nil
}

// GetJob returns the full job record.
func (c *APIClient) GetJob(ctx context.Context, jobID string) (*model.ResearchJob, error) {
	var out model.ResearchJob
	if err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(jobID), nil, nil, &out); err != nil {
		return nil, classify(err)
	}
	return &out, nil
}

// PostCallback delivers an engine outcome using token as the callback credential.
func (c *APIClient) PostCallback(ctx context.Context, jobID, token string, result model.CallbackResult) error {
	headers := map[string]string{"X-Callback-Token": token}
	var ack model.CallbackAck
	return c.do(ctx, http.MethodPost, "/api/jobs/"+url.PathEscape(jobID)+"/callback", headers, result, &ack)
}

func (c *APIClient) do(ctx context.Context, method, path string, headers map[string]string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.JoinPath(path).String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.DebugContext(ctx, "close response", "error", cerr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if jerr := json.Unmarshal(raw, apiErr); jerr != nil {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func classify(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || apperrors.IsNotFound(err)
}

var (
	_ StatusSource = (*APIClient)(nil)
	_ JobStarter   = (*APIClient)(nil)
)
