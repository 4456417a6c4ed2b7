package config

import (
	"errors"
	"fmt"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - database.go: PostgreSQL and Redis connections
//   - http.go: HTTP server configuration
//   - jobs.go: callback, engine, observer and change feed settings
//   - services.go: service modes and the job stats reporter
//   - observability.go: logging, metrics and alert fan-out
type AppConfig struct {
	// Database configuration
	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`

	// HTTP server configuration
	HTTP HTTPConfig

	// Services is a comma-delimited list of service modes to run.
	Services string `env:"SERVICES" envDefault:"http"`

	// Research job configuration
	Callback CallbackConfig
	Engine   EngineConfig
	Observer ObserverConfig
	Notify   NotifyConfig

	// Job stats reporter configuration
	StatsReporter StatsReporterConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.HTTP.Sanitize()
	c.Callback.Sanitize(c.HTTP.BaseURL)
	c.Engine.Sanitize()
	c.Observer.Sanitize()
	c.Notify.Sanitize()
	c.StatsReporter.Sanitize()
	c.Observability.Sanitize()
}

// Validate reports configuration that cannot be repaired by Sanitize.
func (c *AppConfig) Validate() error {
	services, err := c.GetEnabledServices()
	if err != nil {
		return err
	}

	var errs []error
	if services[ServiceModeHTTP] {
		if c.Callback.Secret == "" {
			errs = append(errs, errors.New("CALLBACK_SECRET is required when the http service is enabled"))
		}
		if c.Engine.BaseURL == "" {
			errs = append(errs, errors.New("ENGINE_BASE_URL is required when the http service is enabled"))
		}
	}
	if c.Notify.Transport == ChangeFeedRedis && c.Redis.URI == "" && !c.Redis.UseSentinel && !c.Redis.UseCluster {
		errs = append(errs, fmt.Errorf("CHANGE_FEED_TRANSPORT=%s requires REDIS_URI", c.Notify.Transport))
	}
	return errors.Join(errs...)
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

// IsHTTPServerEnabled returns true if the HTTP server service is enabled.
func (c *AppConfig) IsHTTPServerEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeHTTP]
}

// IsJobStatsEnabled returns true if the job stats reporter is enabled.
func (c *AppConfig) IsJobStatsEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeJobStats]
}
