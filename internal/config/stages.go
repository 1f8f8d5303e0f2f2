package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/wesleyorama2/synload/internal/schedule"
)

// ParseStages parses the compact command-line form of a schedule:
// comma-separated duration:target pairs, e.g. "30s:10,2m:10,30s:0".
// Durations accept the same formats as config files.
func ParseStages(s string) ([]StageConfig, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: stages cannot be empty", ErrConfiguration)
	}

	parts := strings.Split(s, ",")
	stages := make([]StageConfig, 0, len(parts))

	for i, part := range parts {
		fields := strings.Split(strings.TrimSpace(part), ":")
		if len(fields) != 2 {
			return nil, fmt.Errorf("%w: stage %d %q: expected duration:target", ErrConfiguration, i+1, part)
		}

		durationStr := strings.TrimSpace(fields[0])
		if durationStr == "" {
			return nil, fmt.Errorf("%w: stage %d %q: missing duration", ErrConfiguration, i+1, part)
		}
		duration, err := ParseDuration(durationStr)
		if err != nil {
			return nil, fmt.Errorf("%w: stage %d: %w", ErrConfiguration, i+1, err)
		}

		target, err := strconv.Atoi(strings.TrimSpace(fields[1]))
		if err != nil {
			return nil, fmt.Errorf("%w: stage %d: invalid target %q", ErrConfiguration, i+1, fields[1])
		}

		stages = append(stages, StageConfig{Duration: Duration(duration), Target: target})
	}

	return stages, nil
}

// FormatStages renders stages in the form ParseStages accepts.
func FormatStages(stages []StageConfig) string {
	parts := make([]string, len(stages))
	for i, stage := range stages {
		parts[i] = fmt.Sprintf("%s:%d", time.Duration(stage.Duration), stage.Target)
	}
	return strings.Join(parts, ",")
}

// ScheduleStages converts the configured stages into schedule stages.
func (c *TestConfig) ScheduleStages() []schedule.Stage {
	stages := make([]schedule.Stage, len(c.Stages))
	for i, stage := range c.Stages {
		stages[i] = schedule.Stage{
			Duration: time.Duration(stage.Duration),
			Target:   stage.Target,
			Name:     stage.Name,
		}
	}
	return stages
}
