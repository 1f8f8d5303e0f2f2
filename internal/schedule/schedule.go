// Package schedule models a staged concurrency schedule and computes the
// target number of virtual users at any point of a run.
package schedule

import (
	"fmt"
	"strings"
	"time"
)

// Stage is one step of a schedule.
//
// Over Duration, concurrency moves linearly from the previous stage's
// target (0 for the first stage) to Target. A zero Duration makes the
// change immediate.
type Stage struct {
	Duration time.Duration `json:"duration" yaml:"duration"`
	Target   int           `json:"target" yaml:"target"`
	Name     string        `json:"name,omitempty" yaml:"name,omitempty"`
}

// Phase describes what a stage does to concurrency.
type Phase string

const (
	PhaseRampUp   Phase = "ramp-up"
	PhaseSteady   Phase = "steady"
	PhaseRampDown Phase = "ramp-down"
	PhaseDone     Phase = "done"
)

// Position is the result of evaluating a schedule at an elapsed time.
type Position struct {
	// Target is the interpolated number of virtual users.
	Target int
	// Stage is the index of the stage covering the elapsed time.
	// It equals Len()-1 once the schedule is done.
	Stage int
	// Done is true once the elapsed time reaches the total duration.
	Done bool
}

// Schedule is an ordered, validated sequence of stages.
type Schedule struct {
	stages []Stage
	ends   []time.Duration
	total  time.Duration
}

// StageError describes a single invalid stage field.
type StageError struct {
	Index   int
	Field   string
	Message string
}

func (e *StageError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("stages: %s", e.Message)
	}
	return fmt.Sprintf("stages[%d].%s: %s", e.Index, e.Field, e.Message)
}

// Errors collects every problem found in a list of stages.
type Errors []*StageError

func (e Errors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d invalid stages:", len(e)))
	for _, err := range e {
		sb.WriteString("\n  ")
		sb.WriteString(err.Error())
	}
	return sb.String()
}

// Validate checks that stages form a runnable schedule: at least one
// stage, no negative durations and no negative targets.
func Validate(stages []Stage) error {
	var errs Errors

	if len(stages) == 0 {
		errs = append(errs, &StageError{Index: -1, Message: "at least one stage is required"})
	}

	for i, stage := range stages {
		if stage.Duration < 0 {
			errs = append(errs, &StageError{
				Index:   i,
				Field:   "duration",
				Message: fmt.Sprintf("duration cannot be negative, got %s", stage.Duration),
			})
		}
		if stage.Target < 0 {
			errs = append(errs, &StageError{
				Index:   i,
				Field:   "target",
				Message: fmt.Sprintf("target cannot be negative, got %d", stage.Target),
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// New validates stages and builds a Schedule from them.
// Unnamed stages are named stage-1, stage-2, ...
func New(stages []Stage) (*Schedule, error) {
	if err := Validate(stages); err != nil {
		return nil, err
	}

	s := &Schedule{
		stages: make([]Stage, len(stages)),
		ends:   make([]time.Duration, len(stages)),
	}
	copy(s.stages, stages)

	for i := range s.stages {
		if s.stages[i].Name == "" {
			s.stages[i].Name = fmt.Sprintf("stage-%d", i+1)
		}
		s.total += s.stages[i].Duration
		s.ends[i] = s.total
	}

	return s, nil
}

// TargetAt returns the concurrency the schedule asks for after elapsed.
func (s *Schedule) TargetAt(elapsed time.Duration) Position {
	if elapsed < 0 {
		elapsed = 0
	}

	var stageStart time.Duration
	prevTarget := 0

	for i, stage := range s.stages {
		stageEnd := s.ends[i]

		if elapsed < stageEnd {
			progress := float64(elapsed-stageStart) / float64(stage.Duration)
			if progress < 0 {
				progress = 0
			}
			if progress > 1 {
				progress = 1
			}

			target := float64(prevTarget) + float64(stage.Target-prevTarget)*progress
			return Position{Target: int(target + 0.5), Stage: i}
		}

		prevTarget = stage.Target
		stageStart = stageEnd
	}

	return Position{Target: prevTarget, Stage: len(s.stages) - 1, Done: true}
}

// Total returns the sum of all stage durations.
func (s *Schedule) Total() time.Duration {
	return s.total
}

// Len returns the number of stages.
func (s *Schedule) Len() int {
	return len(s.stages)
}

// Stage returns the i-th stage.
func (s *Schedule) Stage(i int) Stage {
	return s.stages[i]
}

// Stages returns a copy of all stages.
func (s *Schedule) Stages() []Stage {
	out := make([]Stage, len(s.stages))
	copy(out, s.stages)
	return out
}

// MaxTarget returns the highest target of any stage.
func (s *Schedule) MaxTarget() int {
	max := 0
	for _, stage := range s.stages {
		if stage.Target > max {
			max = stage.Target
		}
	}
	return max
}

// Phase reports whether stage i ramps up, holds or ramps down.
func (s *Schedule) Phase(i int) Phase {
	if i < 0 || i >= len(s.stages) {
		return PhaseDone
	}

	prevTarget := 0
	if i > 0 {
		prevTarget = s.stages[i-1].Target
	}

	switch {
	case s.stages[i].Target > prevTarget:
		return PhaseRampUp
	case s.stages[i].Target < prevTarget:
		return PhaseRampDown
	default:
		return PhaseSteady
	}
}

// String renders the schedule in the compact "30s:10,2m:10,30s:0" form.
func (s *Schedule) String() string {
	parts := make([]string, len(s.stages))
	for i, stage := range s.stages {
		parts[i] = fmt.Sprintf("%s:%d", stage.Duration, stage.Target)
	}
	return strings.Join(parts, ",")
}
