package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the HTTP API (dispatch, callback, status, watch).
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeJobStats runs the periodic job stats reporter.
	ServiceModeJobStats ServiceMode = "job-stats"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{ServiceModeHTTP, ServiceModeJobStats}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	if strings.TrimSpace(servicesStr) == "" {
		return nil, errors.New("at least one service must be specified")
	}

	services := make(map[ServiceMode]bool)
	for part := range strings.SplitSeq(servicesStr, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		mode := ServiceMode(name)
		switch mode {
		case ServiceModeHTTP, ServiceModeJobStats:
			services[mode] = true
		default:
			return nil, fmt.Errorf("invalid service name: %q (valid options: http, job-stats)", name)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}
	return services, nil
}

// StatsReporterConfig controls the job stats reporter.
type StatsReporterConfig struct {
	// Interval between stats sweeps.
	Interval time.Duration `env:"JOB_STATS_INTERVAL" envDefault:"30s"`
	// Jitter is the standard deviation of the random offset applied to each tick.
	Jitter time.Duration `env:"JOB_STATS_JITTER" envDefault:"5s"`
	// Timeout bounds a single stats query.
	Timeout time.Duration `env:"JOB_STATS_TIMEOUT" envDefault:"10s"`
}

// Sanitize applies guardrails to stats reporter configuration values.
func (c *StatsReporterConfig) Sanitize() {
	if c.Interval < time.Second {
		c.Interval = time.Second
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	if c.Jitter >= c.Interval {
		c.Jitter = c.Interval / 2
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
}
