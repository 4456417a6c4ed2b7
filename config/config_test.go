package config

import (
	"log/slog"
	"reflect"
	"strings"
	"testing"
	"time"

	env "github.com/caarlos0/env/v11"
)

func TestParseServices(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    map[ServiceMode]bool
		expectError bool
	}{
		{
			name:     "single service - http",
			input:    "http",
			expected: map[ServiceMode]bool{ServiceModeHTTP: true},
		},
		{
			name:     "single service - job-stats",
			input:    "job-stats",
			expected: map[ServiceMode]bool{ServiceModeJobStats: true},
		},
		{
			name:     "services with spaces and duplicates",
			input:    " http , job-stats ,http",
			expected: map[ServiceMode]bool{ServiceModeHTTP: true, ServiceModeJobStats: true},
		},
		{
			name:        "empty string",
			input:       "",
			expectError: true,
		},
		{
			name:        "only commas",
			input:       " , ,",
			expectError: true,
		},
		{
			name:        "invalid service",
			input:       "http,scheduler",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseServices(tt.input)
			if tt.expectError {
				if err == nil {
					t.Errorf("expected error for input %q, got nil", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error for input %q: %v", tt.input, err)
			}
			if !reflect.DeepEqual(result, tt.expected) {
				t.Errorf("ParseServices(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestValidServiceModes(t *testing.T) {
	modes := ValidServiceModes()
	if len(modes) != 2 {
		t.Fatalf("expected 2 service modes, got %d", len(modes))
	}
	for _, m := range modes {
		if _, err := ParseServices(string(m)); err != nil {
			t.Errorf("mode %q should parse: %v", m, err)
		}
	}
}

func TestAppConfig_ParseDefaults(t *testing.T) {
	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.Sanitize()

	if cfg.Observer.PollInterval != 3*time.Second {
		t.Errorf("PollInterval = %v, want 3s", cfg.Observer.PollInterval)
	}
	if cfg.Observer.MaxWait != 300*time.Second {
		t.Errorf("MaxWait = %v, want 300s", cfg.Observer.MaxWait)
	}
	if cfg.Engine.TriggerPath != "/webhook/research" {
		t.Errorf("TriggerPath = %q", cfg.Engine.TriggerPath)
	}
	if cfg.Engine.RatePerSecond != 10 || cfg.Engine.Burst != 20 {
		t.Errorf("rate = %v/%d, want 10/20", cfg.Engine.RatePerSecond, cfg.Engine.Burst)
	}
	if cfg.Notify.Transport != ChangeFeedPostgres {
		t.Errorf("Transport = %q, want postgres", cfg.Notify.Transport)
	}
	if cfg.Callback.BaseURL != "http://localhost:8080" {
		t.Errorf("Callback.BaseURL = %q, want APP_BASE_URL fallback", cfg.Callback.BaseURL)
	}
	if cfg.Postgres.SchemaRecheck != time.Minute {
		t.Errorf("SchemaRecheck = %v, want 1m", cfg.Postgres.SchemaRecheck)
	}
}

func TestAppConfig_ParseJobEnv(t *testing.T) {
	t.Setenv("CALLBACK_SECRET", "  s3cret ")
	t.Setenv("CALLBACK_BASE_URL", "https://research.example.com/")
	t.Setenv("ENGINE_BASE_URL", "https://engine.example.com")
	t.Setenv("ENGINE_TIMEOUT", "2s")
	t.Setenv("OBSERVER_POLL_INTERVAL", "10ms")
	t.Setenv("OBSERVER_MAX_WAIT", "5ms")
	t.Setenv("CHANGE_FEED_TRANSPORT", "REDIS")
	t.Setenv("SERVICES", "http,job-stats")

	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.Sanitize()

	if cfg.Callback.Secret != "s3cret" {
		t.Errorf("Secret = %q", cfg.Callback.Secret)
	}
	if cfg.Callback.BaseURL != "https://research.example.com" {
		t.Errorf("Callback.BaseURL = %q", cfg.Callback.BaseURL)
	}
	if cfg.Engine.Timeout != 2*time.Second {
		t.Errorf("Engine.Timeout = %v", cfg.Engine.Timeout)
	}
	if cfg.Observer.PollInterval != 100*time.Millisecond {
		t.Errorf("PollInterval = %v, want clamped to 100ms", cfg.Observer.PollInterval)
	}
	if cfg.Observer.MaxWait != 100*time.Millisecond {
		t.Errorf("MaxWait = %v, want clamped to poll interval", cfg.Observer.MaxWait)
	}
	if cfg.Notify.Transport != ChangeFeedRedis {
		t.Errorf("Transport = %q, want redis", cfg.Notify.Transport)
	}
	if !cfg.IsHTTPServerEnabled() || !cfg.IsJobStatsEnabled() {
		t.Errorf("expected both services enabled")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestAppConfig_InvalidTransport(t *testing.T) {
	t.Setenv("CHANGE_FEED_TRANSPORT", "kafka")

	var cfg AppConfig
	if err := env.Parse(&cfg); err == nil {
		t.Fatal("expected parse error for unknown transport")
	}
}

func TestAppConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     AppConfig
		wantErr string
	}{
		{
			name:    "http requires secret and engine",
			cfg:     AppConfig{Services: "http"},
			wantErr: "CALLBACK_SECRET",
		},
		{
			name: "job-stats alone needs neither",
			cfg:  AppConfig{Services: "job-stats"},
		},
		{
			name:    "invalid services",
			cfg:     AppConfig{Services: "bogus"},
			wantErr: "invalid service name",
		},
		{
			name: "redis transport without redis",
			cfg: AppConfig{
				Services: "job-stats",
				Notify:   NotifyConfig{Transport: ChangeFeedRedis},
			},
			wantErr: "REDIS_URI",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ServiceEnabledMethodsWithInvalidConfig(t *testing.T) {
	cfg := &AppConfig{Services: "invalid"}
	if cfg.IsHTTPServerEnabled() {
		t.Error("IsHTTPServerEnabled should be false for invalid config")
	}
	if cfg.IsJobStatsEnabled() {
		t.Error("IsJobStatsEnabled should be false for invalid config")
	}
}

func TestStatsReporterConfig_Sanitize(t *testing.T) {
	cfg := StatsReporterConfig{Interval: 10 * time.Millisecond, Jitter: 5 * time.Second}
	cfg.Sanitize()
	if cfg.Interval != time.Second {
		t.Errorf("Interval = %v, want 1s", cfg.Interval)
	}
	if cfg.Jitter != 500*time.Millisecond {
		t.Errorf("Jitter = %v, want half the interval", cfg.Jitter)
	}
	if cfg.Timeout != 10*time.Second {
		t.Errorf("Timeout = %v, want 10s", cfg.Timeout)
	}
}

func TestObservabilityConfig_SlogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"DEBUG":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		cfg := ObservabilityConfig{LogLevel: in}
		cfg.Sanitize()
		if got := cfg.SlogLevel(); got != want {
			t.Errorf("SlogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestObservabilityMetricsConfig_Sanitize(t *testing.T) {
	cfg := ObservabilityMetricsConfig{Enabled: true, StatsdAddress: "   ", StatsdPrefix: ".research."}
	cfg.Sanitize()
	if cfg.IsEnabled() {
		t.Fatal("expected metrics to be disabled without an address")
	}
	if cfg.StatsdPrefix != "research" {
		t.Errorf("StatsdPrefix = %q", cfg.StatsdPrefix)
	}
}

func TestObservabilityNotificationsConfig_Sanitize(t *testing.T) {
	t.Run("disabled master switch", func(t *testing.T) {
		cfg := ObservabilityNotificationsConfig{
			Slack:     SlackNotificationConfig{Enabled: true, WebhookURL: "https://hooks.slack.com/x"},
			PagerDuty: PagerDutyNotificationConfig{Enabled: true, RoutingKey: "rk"},
		}
		cfg.Sanitize()
		if cfg.Slack.Enabled || cfg.PagerDuty.Enabled {
			t.Fatal("sinks must be disabled when notifications are off")
		}
	})

	t.Run("sinks without credentials", func(t *testing.T) {
		cfg := ObservabilityNotificationsConfig{
			Enabled:    true,
			RetryLimit: -1,
			Slack:      SlackNotificationConfig{Enabled: true},
			PagerDuty:  PagerDutyNotificationConfig{Enabled: true, RoutingKey: " "},
		}
		cfg.Sanitize()
		if cfg.Slack.Enabled || cfg.PagerDuty.Enabled {
			t.Fatal("sinks without credentials must be disabled")
		}
		if cfg.RetryLimit != 0 || cfg.Timeout != 5*time.Second {
			t.Fatalf("unexpected retry/timeout: %d %v", cfg.RetryLimit, cfg.Timeout)
		}
		if cfg.Slack.Username != "research-api" || cfg.PagerDuty.Source != "research-api" {
			t.Fatalf("expected defaults to be restored")
		}
	})

	t.Run("enabled sinks", func(t *testing.T) {
		cfg := ObservabilityNotificationsConfig{
			Enabled:   true,
			Slack:     SlackNotificationConfig{Enabled: true, WebhookURL: " https://hooks.slack.com/x "},
			PagerDuty: PagerDutyNotificationConfig{Enabled: true, RoutingKey: "rk"},
		}
		cfg.Sanitize()
		if !cfg.Slack.Enabled || !cfg.PagerDuty.Enabled {
			t.Fatal("expected both sinks enabled")
		}
		if cfg.Slack.WebhookURL != "https://hooks.slack.com/x" {
			t.Errorf("WebhookURL = %q", cfg.Slack.WebhookURL)
		}
	})
}
