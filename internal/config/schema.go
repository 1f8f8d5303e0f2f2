// Package config provides the configuration file format for synload.
//
// A configuration describes a single load test: the URL every virtual
// user requests, the concurrency stages and a few run settings.
//
// Example YAML configuration:
//
//	name: synapse-get
//	url: http://localhost:8080/synapse/key_new_1
//	stages:
//	  - duration: 1m
//	    target: 100
//	  - duration: 2m
//	    target: 200
//	  - duration: 30s
//	    target: 0
//	settings:
//	  gracefulStop: 30s
//	  headers:
//	    Accept: application/json
package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// TestConfig is the root configuration of a load test.
type TestConfig struct {
	// Name is an optional label shown in the summary and report.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// URL is the target of every GET request.
	URL string `json:"url" yaml:"url"`

	// Stages is the concurrency schedule.
	Stages []StageConfig `json:"stages" yaml:"stages"`

	// Settings tune the HTTP client and the driver.
	Settings Settings `json:"settings,omitempty" yaml:"settings,omitempty"`
}

// StageConfig is one stage as written in a config file.
type StageConfig struct {
	// Duration of this stage (e.g., "30s", "2m", or 30 for seconds)
	Duration Duration `json:"duration" yaml:"duration"`

	// Target VU count at the end of this stage
	Target int `json:"target" yaml:"target"`

	// Name is an optional stage label
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// Settings holds run-wide settings.
type Settings struct {
	// Timeout bounds a single request. Zero means no client timeout.
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// GracefulStop is how long in-flight requests may finish after the run ends.
	GracefulStop Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// TickInterval is how often the VU count is reconciled with the schedule.
	TickInterval Duration `json:"tickInterval,omitempty" yaml:"tickInterval,omitempty"`

	// Headers are sent with every request.
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`

	// MaxIdleConnsPerHost sizes the shared connection pool.
	MaxIdleConnsPerHost int `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`

	// Pacing is an optional pause between iterations of a VU.
	Pacing Duration `json:"pacing,omitempty" yaml:"pacing,omitempty"`
}

// Duration is a time.Duration that can be unmarshaled from a Go duration
// string ("30s", "1m30s") or an integer number of seconds.
type Duration time.Duration

// ParseDuration parses a Go duration string or an integer number of seconds.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	if seconds, err := strconv.Atoi(s); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}

	return 0, fmt.Errorf("invalid duration format: %q", s)
}

// GetDuration returns the duration or a default if zero.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*d = 0
		return nil
	}

	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	}

	dur, err := ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a string or an integer", value.Line)
	}

	dur, err := ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}
