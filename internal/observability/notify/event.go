// Package notify defines the alert events raised for research jobs and the helpers
// shared by the outbound sinks (Slack, PagerDuty).
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Severity constants recognised by downstream sinks.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
)

// Kind distinguishes job failures from security events.
type Kind string

const (
	// KindJobFailure is raised when a research job transitions to error.
	KindJobFailure Kind = "job_failure"
	// KindSecurity is raised when a callback presents a bad credential.
	KindSecurity Kind = "security"
)

// Event is the canonical alert payload handed to every sink.
type Event struct {
	Kind       Kind
	JobID      string
	Error      string
	ErrorClass string
	Severity   string
	OccurredAt time.Time
	Metadata   map[string]string
}

// Title returns a short human-readable headline for the event.
func (e Event) Title() string {
	if e.Kind == KindSecurity {
		return "Rejected research job callback"
	}
	return "Research job failed"
}

// Sink describes a destination capable of consuming alert events.
type Sink interface {
	Send(ctx context.Context, event Event) error
}

// SinkFunc adapts a function to the Sink interface (useful for tests).
type SinkFunc func(ctx context.Context, event Event) error

// Send implements the Sink interface.
func (f SinkFunc) Send(ctx context.Context, event Event) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

// Retry calls fn up to retries+1 times with a linear backoff of step between attempts.
// It returns the last error, or ctx.Err() if the context ends while waiting.
func Retry(ctx context.Context, retries int, step time.Duration, fn func(context.Context) error) error {
	var lastErr error
	for attempt := range max(retries, 0) + 1 {
		if attempt > 0 {
			timer := time.NewTimer(time.Duration(attempt) * step)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		if lastErr = fn(ctx); lastErr == nil {
			return nil
		}
	}
	return lastErr
}

// ConsumeResponse drains and closes resp.Body. Non-2xx responses become an error
// carrying the status and the trimmed body, prefixed with sink.
func ConsumeResponse(sink string, resp *http.Response) error {
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	_, _ = io.Copy(io.Discard, resp.Body)
	closeErr := resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: %s", sink, resp.Status, strings.TrimSpace(string(body)))
	}
	if readErr != nil || closeErr != nil {
		return errors.Join(readErr, closeErr)
	}
	return nil
}

// Fallback returns value, or fallback when value is blank.
func Fallback(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
