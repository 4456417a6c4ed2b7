package config

import (
	"fmt"
	"strings"
	"time"
)

// CallbackConfig controls how the engine calls back into this service.
type CallbackConfig struct {
	// Secret is the shared credential the engine must echo on every callback.
	Secret string `env:"CALLBACK_SECRET"`
	// BaseURL prefixes the per-job callback address. Defaults to APP_BASE_URL.
	BaseURL string `env:"CALLBACK_BASE_URL"`
}

// Sanitize trims values and falls back to the application base URL.
func (c *CallbackConfig) Sanitize(appBaseURL string) {
	c.Secret = strings.TrimSpace(c.Secret)
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.BaseURL == "" {
		c.BaseURL = appBaseURL
	}
}

// EngineConfig describes the external workflow engine trigger endpoint.
type EngineConfig struct {
	BaseURL     string        `env:"ENGINE_BASE_URL"`
	TriggerPath string        `env:"ENGINE_TRIGGER_PATH"  envDefault:"/webhook/research"`
	Timeout     time.Duration `env:"ENGINE_TIMEOUT"       envDefault:"10s"`
	// RatePerSecond and Burst bound outbound triggers. A rate of 0 disables limiting.
	RatePerSecond float64 `env:"ENGINE_TRIGGER_RPS"   envDefault:"10"`
	Burst         int     `env:"ENGINE_TRIGGER_BURST" envDefault:"20"`
}

// Sanitize applies guardrails to engine configuration values.
func (c *EngineConfig) Sanitize() {
	c.BaseURL = strings.TrimSpace(c.BaseURL)
	if c.TriggerPath = strings.TrimSpace(c.TriggerPath); c.TriggerPath == "" {
		c.TriggerPath = "/webhook/research"
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.RatePerSecond < 0 {
		c.RatePerSecond = 0
	}
	if c.RatePerSecond > 0 && c.Burst < 1 {
		c.Burst = 1
	}
}

const minObserverPollInterval = 100 * time.Millisecond

// ObserverConfig controls client-side polling of job status.
type ObserverConfig struct {
	PollInterval time.Duration `env:"OBSERVER_POLL_INTERVAL" envDefault:"3s"`
	MaxWait      time.Duration `env:"OBSERVER_MAX_WAIT"      envDefault:"300s"`
	// PollJitter is the standard deviation of the normally distributed offset
	// applied to each poll tick.
	PollJitter time.Duration `env:"OBSERVER_POLL_JITTER" envDefault:"0s"`
}

// Sanitize clamps the interval to a sane floor and the ceiling to at least one interval.
func (c *ObserverConfig) Sanitize() {
	if c.PollInterval < minObserverPollInterval {
		c.PollInterval = minObserverPollInterval
	}
	if c.MaxWait < c.PollInterval {
		c.MaxWait = c.PollInterval
	}
	if c.PollJitter < 0 {
		c.PollJitter = 0
	}
}

// ChangeFeedTransport selects how job change notifications travel between processes.
type ChangeFeedTransport string

const (
	// ChangeFeedPostgres uses LISTEN/NOTIFY on the job database.
	ChangeFeedPostgres ChangeFeedTransport = "postgres"
	// ChangeFeedRedis uses Redis pub/sub.
	ChangeFeedRedis ChangeFeedTransport = "redis"
)

// UnmarshalText implements encoding.TextUnmarshaler for ChangeFeedTransport.
func (t *ChangeFeedTransport) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch v {
	case "postgres", "redis":
		*t = ChangeFeedTransport(v)
		return nil
	default:
		return fmt.Errorf("invalid ChangeFeedTransport: %q (valid options: postgres, redis)", v)
	}
}

// NotifyConfig controls the change feed and the in-process change hub.
type NotifyConfig struct {
	Transport ChangeFeedTransport `env:"CHANGE_FEED_TRANSPORT" envDefault:"postgres"`
	Channel   string              `env:"CHANGE_FEED_CHANNEL"   envDefault:"research_job_changed"`
	// WaitWindow bounds each record reload triggered by a notification.
	WaitWindow time.Duration `env:"CHANGE_FEED_WAIT_WINDOW" envDefault:"5s"`
	// Backoff is the delay before re-listening after the feed fails.
	Backoff time.Duration `env:"CHANGE_FEED_BACKOFF" envDefault:"250ms"`
}

// Sanitize applies guardrails to change feed configuration values.
func (c *NotifyConfig) Sanitize() {
	if c.Transport == "" {
		c.Transport = ChangeFeedPostgres
	}
	if c.Channel = strings.TrimSpace(c.Channel); c.Channel == "" {
		c.Channel = "research_job_changed"
	}
	if c.WaitWindow <= 0 {
		c.WaitWindow = 5 * time.Second
	}
	if c.Backoff <= 0 {
		c.Backoff = 250 * time.Millisecond
	}
}
