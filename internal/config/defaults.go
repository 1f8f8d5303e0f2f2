package config

import (
	"time"

	"github.com/wesleyorama2/synload/internal/driver"
)

// Default settings.
const (
	DefaultGracefulStop        = driver.DefaultGracefulStop
	DefaultTickInterval        = driver.DefaultTickInterval
	DefaultMaxIdleConnsPerHost = 100
)

// ApplyDefaults fills unset settings with their defaults.
func (c *TestConfig) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "synload"
	}
	if c.Settings.GracefulStop == 0 {
		c.Settings.GracefulStop = Duration(DefaultGracefulStop)
	}
	if c.Settings.TickInterval == 0 {
		c.Settings.TickInterval = Duration(DefaultTickInterval)
	}
	if c.Settings.MaxIdleConnsPerHost == 0 {
		c.Settings.MaxIdleConnsPerHost = DefaultMaxIdleConnsPerHost
	}
}

// TotalDuration returns the sum of all stage durations.
func (c *TestConfig) TotalDuration() time.Duration {
	var total time.Duration
	for _, stage := range c.Stages {
		total += time.Duration(stage.Duration)
	}
	return total
}

// DriverConfig converts the configuration into a driver configuration.
func (c *TestConfig) DriverConfig(runID, userAgent string) driver.Config {
	httpConfig := driver.DefaultHTTPClientConfig()
	httpConfig.Timeout = time.Duration(c.Settings.Timeout)
	httpConfig.InsecureSkipVerify = c.Settings.InsecureSkipVerify
	if c.Settings.MaxIdleConnsPerHost > 0 {
		httpConfig.MaxIdleConnsPerHost = c.Settings.MaxIdleConnsPerHost
	}

	headers := make(map[string]string, len(c.Settings.Headers))
	for k, v := range c.Settings.Headers {
		headers[k] = v
	}

	return driver.Config{
		URL:          c.URL,
		Stages:       c.ScheduleStages(),
		HTTP:         httpConfig,
		Headers:      headers,
		UserAgent:    userAgent,
		TickInterval: c.Settings.TickInterval.GetDuration(DefaultTickInterval),
		GracefulStop: c.Settings.GracefulStop.GetDuration(DefaultGracefulStop),
		Pacing:       time.Duration(c.Settings.Pacing),
		RunID:        runID,
	}
}
