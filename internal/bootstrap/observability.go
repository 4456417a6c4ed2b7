package bootstrap

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/target/mmk-research-api/config"
	"github.com/target/mmk-research-api/internal/observability/metrics"
	"github.com/target/mmk-research-api/internal/observability/notify/pagerduty"
	"github.com/target/mmk-research-api/internal/observability/notify/slack"
	"github.com/target/mmk-research-api/internal/observability/statsd"
	"github.com/target/mmk-research-api/internal/service/failurenotifier"
)

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink     *statsd.Client
	Collectors      *metrics.Collectors
	Recorder        *metrics.Recorder
	Registry        *prometheus.Registry
	MetricsHandler  http.Handler
	FailureNotifier *failurenotifier.Service
}

// Close releases the StatsD socket.
func (o ObservabilityContainer) Close() error {
	return o.MetricsSink.Close()
}

// buildObservability configures metrics and notification adapters. A StatsD
// agent that cannot be reached is logged and skipped.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) (ObservabilityContainer, error) {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	var metricsSink *statsd.Client
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.Metrics.StatsdAddress,
			Prefix:  cfg.Metrics.StatsdPrefix,
			Logger:  obsLogger,
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			metricsSink = client
		}
	}

	collectorSet := metrics.NewCollectors()
	out := ObservabilityContainer{
		MetricsSink:     metricsSink,
		Collectors:      collectorSet,
		Recorder:        metrics.NewRecorder(metricsSink, collectorSet),
		FailureNotifier: buildFailureNotifier(obsLogger, cfg.Notifications),
	}

	if cfg.Metrics.PrometheusEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		if err := collectorSet.Register(reg); err != nil {
			return ObservabilityContainer{}, fmt.Errorf("register prometheus collectors: %w", err)
		}
		out.Registry = reg
		out.MetricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	}

	return out, nil
}

// buildFailureNotifier registers the Slack and PagerDuty sinks that are enabled.
// A sink that fails to initialise is logged and left out.
func buildFailureNotifier(logger *slog.Logger, cfg config.ObservabilityNotificationsConfig) *failurenotifier.Service {
	baseLogger := logger
	if baseLogger == nil {
		baseLogger = slog.Default()
	}

	if !cfg.Enabled {
		return failurenotifier.NewService(failurenotifier.Options{Logger: baseLogger, Timeout: cfg.Timeout})
	}

	sinks := make([]failurenotifier.SinkRegistration, 0, 2)

	if cfg.Slack.Enabled {
		client, err := slack.NewClient(slack.Config{
			WebhookURL:   cfg.Slack.WebhookURL,
			Channel:      cfg.Slack.Channel,
			Username:     cfg.Slack.Username,
			Timeout:      cfg.Timeout,
			RetryLimit:   cfg.RetryLimit,
			JobURLPrefix: cfg.Slack.JobURLPrefix,
		})
		if err != nil {
			baseLogger.Error("failed to initialise slack notifier", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{Name: "slack", Sink: client})
		}
	}

	if cfg.PagerDuty.Enabled {
		client, err := pagerduty.NewClient(pagerduty.Config{
			RoutingKey: cfg.PagerDuty.RoutingKey,
			Source:     cfg.PagerDuty.Source,
			Component:  cfg.PagerDuty.Component,
			Timeout:    cfg.Timeout,
			RetryLimit: cfg.RetryLimit,
		})
		if err != nil {
			baseLogger.Error("failed to initialise pagerduty notifier", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{Name: "pagerduty", Sink: client})
		}
	}

	return failurenotifier.NewService(failurenotifier.Options{
		Logger:  baseLogger,
		Sinks:   sinks,
		Timeout: cfg.Timeout,
	})
}
