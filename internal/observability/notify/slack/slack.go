package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/target/mmk-research-api/internal/observability/notify"
)

// Config captures the subset of Slack webhook behaviour we need.
type Config struct {
	WebhookURL string
	Channel    string
	Username   string
	Timeout    time.Duration
	RetryLimit int
	Client     *http.Client
	// JobURLPrefix, when set, turns job IDs into links: <prefix>/<id>/status.
	JobURLPrefix string
}

// Client delivers research job alerts to a Slack incoming webhook.
type Client struct {
	webhookURL   string
	channel      string
	username     string
	retryLimit   int
	jobURLPrefix string
	client       *http.Client
}

var _ notify.Sink = (*Client)(nil)

var slackEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// NewClient builds a Slack webhook client.
func NewClient(cfg Config) (*Client, error) {
	webhookURL := strings.TrimSpace(cfg.WebhookURL)
	if webhookURL == "" {
		return nil, errors.New("slack webhook url is required")
	}

	hc := cfg.Client
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}

	return &Client{
		webhookURL:   webhookURL,
		channel:      strings.TrimSpace(cfg.Channel),
		username:     notify.Fallback(strings.TrimSpace(cfg.Username), "research-api"),
		retryLimit:   max(cfg.RetryLimit, 0),
		jobURLPrefix: validPrefix(cfg.JobURLPrefix),
		client:       hc,
	}, nil
}

// Send posts a formatted message to Slack, retrying with a linear backoff.
func (c *Client) Send(ctx context.Context, event notify.Event) error {
	body, err := json.Marshal(c.formatMessage(event))
	if err != nil {
		return fmt.Errorf("encode slack payload: %w", err)
	}
	return notify.Retry(ctx, c.retryLimit, 200*time.Millisecond, func(ctx context.Context) error {
		return c.post(ctx, body)
	})
}

func (c *Client) formatMessage(event notify.Event) map[string]any {
	ts := event.OccurredAt
	if ts.IsZero() {
		ts = time.Now()
	}

	var text strings.Builder
	text.WriteString("*" + event.Title() + "*")
	if job := c.formatJob(event.JobID); job != "" {
		text.WriteString(" " + job)
	}
	text.WriteByte('\n')

	writeField(&text, "Severity", notify.Fallback(event.Severity, notify.SeverityCritical))
	writeField(&text, "Error class", event.ErrorClass)
	writeField(&text, "Error", slackEscaper.Replace(event.Error))
	if len(event.Metadata) > 0 {
		text.WriteString("• Metadata:\n")
		for _, k := range slices.Sorted(maps.Keys(event.Metadata)) {
			text.WriteString("    • " + k + ": " + slackEscaper.Replace(event.Metadata[k]) + "\n")
		}
	}
	text.WriteString("• Timestamp: " + ts.UTC().Format(time.RFC3339))

	msg := map[string]any{
		"text":     text.String(),
		"username": c.username,
	}
	if c.channel != "" {
		msg["channel"] = c.channel
	}
	return msg
}

func (c *Client) formatJob(jobID string) string {
	id := strings.TrimSpace(jobID)
	if id == "" {
		return ""
	}
	escaped := slackEscaper.Replace(id)
	if c.jobURLPrefix == "" {
		return "`" + escaped + "`"
	}
	link, err := url.JoinPath(c.jobURLPrefix, url.PathEscape(id), "status")
	if err != nil {
		return "`" + escaped + "`"
	}
	return fmt.Sprintf("<%s|%s>", link, escaped)
}

func (c *Client) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack request failed: %w", err)
	}
	return notify.ConsumeResponse("slack webhook", resp)
}

func writeField(text *strings.Builder, label, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	text.WriteString("• " + label + ": " + value + "\n")
}

func validPrefix(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.String()
}
