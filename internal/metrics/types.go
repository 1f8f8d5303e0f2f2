package metrics

import (
	"time"

	"github.com/wesleyorama2/synload/internal/schedule"
)

// PhaseInit is reported before the first stage starts.
const PhaseInit schedule.Phase = "init"

// Outcome classifies a completed request.
type Outcome int

const (
	// OutcomeSuccess means the target answered with 200 OK.
	OutcomeSuccess Outcome = iota
	// OutcomeFailure means a response arrived with any other status.
	OutcomeFailure
	// OutcomeError means no response arrived (refused, reset, timeout).
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeError:
		return "error"
	default:
		return "unknown"
	}
}

// Classify maps a request's status code and transport error to an Outcome.
// Only status 200 counts as success. A request that got a status line is
// classified by it even if reading the body failed afterwards.
func Classify(statusCode int, err error) Outcome {
	if statusCode == 0 {
		return OutcomeError
	}
	if statusCode == 200 {
		return OutcomeSuccess
	}
	return OutcomeFailure
}

// Snapshot is a point-in-time view of the run summary.
type Snapshot struct {
	RunID string `json:"runId,omitempty"`

	TotalRequests int64 `json:"totalRequests"`
	Successes     int64 `json:"successes"`
	Failures      int64 `json:"failures"`
	Errors        int64 `json:"errors"`
	TotalBytes    int64 `json:"totalBytes"`

	// SuccessRate is Successes / TotalRequests (0 when nothing ran).
	SuccessRate float64 `json:"successRate"`

	Latency    LatencyStats    `json:"latency"`
	RPS        float64         `json:"rps"`
	Throughput ThroughputStats `json:"throughput"`

	StatusCodes  map[int]int64    `json:"statusCodes,omitempty"`
	ErrorSamples map[string]int64 `json:"errorSamples,omitempty"`

	ActiveVUs    int            `json:"activeVUs"`
	TargetVUs    int            `json:"targetVUs"`
	CurrentStage int            `json:"currentStage"`
	CurrentPhase schedule.Phase `json:"currentPhase"`
	Stages       []StageStats   `json:"stages,omitempty"`

	Elapsed   time.Duration `json:"elapsed"`
	StartTime time.Time     `json:"startTime"`
	Timestamp time.Time     `json:"timestamp"`
}

// LatencyStats contains latency statistics.
type LatencyStats struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stdDev"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Count  int64         `json:"count"`
}

// LatencyPercentiles holds the percentiles stored in each time bucket.
type LatencyPercentiles struct {
	P50 time.Duration
	P95 time.Duration
	P99 time.Duration
}

// ThroughputStats summarises per-interval request rates.
type ThroughputStats struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	P95    float64 `json:"p95"`
	Max    float64 `json:"max"`
	StdDev float64 `json:"stdDev"`
	// Samples is the number of intervals that had at least one active VU.
	Samples int `json:"samples"`
}

// StageStats holds the counters attributed to one stage.
type StageStats struct {
	Index     int            `json:"index"`
	Name      string         `json:"name"`
	Phase     schedule.Phase `json:"phase"`
	Target    int            `json:"target"`
	Requests  int64          `json:"requests"`
	Successes int64          `json:"successes"`
	Failures  int64          `json:"failures"`
	Errors    int64          `json:"errors"`
	Duration  time.Duration  `json:"duration"`
	RPS       float64        `json:"rps"`
}

// TimeBucket captures one interval of the run.
type TimeBucket struct {
	Timestamp time.Time     `json:"timestamp"`
	Elapsed   time.Duration `json:"elapsed"`

	TotalRequests  int64 `json:"totalRequests"`
	TotalSuccesses int64 `json:"totalSuccesses"`

	IntervalRequests  int64   `json:"intervalRequests"`
	IntervalSuccesses int64   `json:"intervalSuccesses"`
	IntervalRPS       float64 `json:"intervalRps"`

	LatencyP50 time.Duration `json:"latencyP50"`
	LatencyP95 time.Duration `json:"latencyP95"`
	LatencyP99 time.Duration `json:"latencyP99"`

	ActiveVUs int            `json:"activeVUs"`
	Stage     int            `json:"stage"`
	Phase     schedule.Phase `json:"phase"`
}

// StageChange records when the run entered a stage.
type StageChange struct {
	Stage     int
	Phase     schedule.Phase
	Timestamp time.Time
	Requests  int64
}

// EngineConfig contains configuration for the metrics engine.
type EngineConfig struct {
	// BucketInterval is the interval for time-series buckets (default: 1s)
	BucketInterval time.Duration

	// MaxBuckets is the maximum number of buckets to retain (default: 3600)
	MaxBuckets int

	// HistogramMin is the minimum recordable value in microseconds (default: 1)
	HistogramMin int64

	// HistogramMax is the maximum recordable value in microseconds (default: 1 hour)
	HistogramMax int64

	// HistogramSigFigs is the number of significant figures (default: 3)
	HistogramSigFigs int

	// MaxErrorSamples bounds the number of distinct transport error messages kept.
	MaxErrorSamples int

	// Stages are the stages of the run, used for the per-stage breakdown.
	Stages []schedule.Stage

	// RunID is copied into every snapshot.
	RunID string
}

// DefaultEngineConfig returns the default configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		BucketInterval:   time.Second,
		MaxBuckets:       3600,
		HistogramMin:     1,
		HistogramMax:     3600000000,
		HistogramSigFigs: 3,
		MaxErrorSamples:  10,
	}
}
