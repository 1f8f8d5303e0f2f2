package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/wesleyorama2/synload/internal/driver"
	"github.com/wesleyorama2/synload/internal/schedule"
)

// ErrConfiguration matches every configuration problem via errors.Is.
var ErrConfiguration = errors.New("invalid configuration")

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
//
// Stage problems are also kept as schedule.Errors, reachable with
// errors.As.
type ValidationErrors struct {
	Errors []*ValidationError
	Stages schedule.Errors
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Unwrap exposes ErrConfiguration and any stage errors.
func (e *ValidationErrors) Unwrap() []error {
	errs := []error{ErrConfiguration}
	if len(e.Stages) > 0 {
		errs = append(errs, e.Stages)
	}
	return errs
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Validate validates the entire test configuration.
//
// Returns nil if valid, or a *ValidationErrors containing all problems.
func (c *TestConfig) Validate() error {
	errs := &ValidationErrors{}

	validateURL(c.URL, errs)
	validateStages(c.ScheduleStages(), errs)
	validateSettings(&c.Settings, errs)

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// validateURL checks that the target is an absolute http(s) URL.
func validateURL(raw string, errs *ValidationErrors) {
	if err := driver.ValidateURL(raw); err != nil {
		errs.Add("url", err.Error())
	}
}

// validateStages applies schedule.Validate and reports each stage error
// under its config field.
func validateStages(stages []schedule.Stage, errs *ValidationErrors) {
	err := schedule.Validate(stages)
	if err == nil {
		return
	}

	var stageErrs schedule.Errors
	if !errors.As(err, &stageErrs) {
		errs.Add("stages", err.Error())
		return
	}

	errs.Stages = stageErrs
	for _, se := range stageErrs {
		field := "stages"
		if se.Index >= 0 {
			field = fmt.Sprintf("stages[%d].%s", se.Index, se.Field)
		}
		errs.Add(field, se.Message)
	}
}

// validateSettings validates run settings.
func validateSettings(s *Settings, errs *ValidationErrors) {
	durations := []struct {
		field string
		value Duration
	}{
		{"settings.timeout", s.Timeout},
		{"settings.gracefulStop", s.GracefulStop},
		{"settings.tickInterval", s.TickInterval},
		{"settings.pacing", s.Pacing},
	}
	for _, d := range durations {
		if d.value < 0 {
			errs.Add(d.field, fmt.Sprintf("duration cannot be negative, got %s", d.value))
		}
	}

	if s.MaxIdleConnsPerHost < 0 {
		errs.Add("settings.maxIdleConnsPerHost", "maxIdleConnsPerHost cannot be negative")
	}

	for name := range s.Headers {
		if strings.TrimSpace(name) == "" {
			errs.Add("settings.headers", "header name cannot be empty")
		}
	}
}
