package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/wesleyorama2/synload/internal/driver"
	"github.com/wesleyorama2/synload/internal/metrics"
)

// Report is the machine-readable form of a run. Durations are reported
// in milliseconds.
type Report struct {
	RunID       string    `json:"runId"`
	Name        string    `json:"name"`
	URL         string    `json:"url"`
	Stages      string    `json:"stages"`
	StartTime   time.Time `json:"startTime"`
	EndTime     time.Time `json:"endTime"`
	DurationMs  float64   `json:"durationMs"`
	Interrupted bool      `json:"interrupted"`
	AbortedVUs  int       `json:"abortedVus,omitempty"`

	TotalRequests int64   `json:"totalRequests"`
	Successes     int64   `json:"successes"`
	Failures      int64   `json:"failures"`
	Errors        int64   `json:"errors"`
	SuccessRate   float64 `json:"successRate"`
	TotalBytes    int64   `json:"totalBytes"`
	RPS           float64 `json:"rps"`

	Throughput metrics.ThroughputStats `json:"throughput"`
	Latency    LatencyReport           `json:"latency"`

	StatusCodes  map[string]int64 `json:"statusCodes"`
	ErrorSamples map[string]int64 `json:"errorSamples,omitempty"`

	StageStats []StageReport  `json:"stageStats,omitempty"`
	TimeSeries []BucketReport `json:"timeSeries,omitempty"`
}

// LatencyReport holds latency statistics in milliseconds.
type LatencyReport struct {
	Min   float64 `json:"min"`
	Mean  float64 `json:"mean"`
	P50   float64 `json:"p50"`
	P90   float64 `json:"p90"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Max   float64 `json:"max"`
	Count int64   `json:"count"`
}

// StageReport is the per-stage breakdown.
type StageReport struct {
	Name       string  `json:"name"`
	Phase      string  `json:"phase"`
	Target     int     `json:"target"`
	Requests   int64   `json:"requests"`
	Successes  int64   `json:"successes"`
	Failures   int64   `json:"failures"`
	Errors     int64   `json:"errors"`
	DurationMs float64 `json:"durationMs"`
	RPS        float64 `json:"rps"`
}

// BucketReport is one interval of the time series.
type BucketReport struct {
	ElapsedMs    float64 `json:"elapsedMs"`
	Requests     int64   `json:"requests"`
	Successes    int64   `json:"successes"`
	RPS          float64 `json:"rps"`
	ActiveVUs    int     `json:"activeVus"`
	Stage        int     `json:"stage"`
	Phase        string  `json:"phase"`
	LatencyP95Ms float64 `json:"latencyP95Ms"`
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// NewReport builds a report from a run result.
func NewReport(name string, result *driver.Result) *Report {
	s := result.Summary

	report := &Report{
		RunID:         result.RunID,
		Name:          name,
		URL:           result.URL,
		StartTime:     result.StartTime,
		EndTime:       result.EndTime,
		DurationMs:    millis(result.Duration),
		Interrupted:   result.Interrupted,
		AbortedVUs:    result.Aborted,
		TotalRequests: s.TotalRequests,
		Successes:     s.Successes,
		Failures:      s.Failures,
		Errors:        s.Errors,
		SuccessRate:   s.SuccessRate,
		TotalBytes:    s.TotalBytes,
		RPS:           s.RPS,
		Throughput:    s.Throughput,
		Latency: LatencyReport{
			Min:   millis(s.Latency.Min),
			Mean:  millis(s.Latency.Mean),
			P50:   millis(s.Latency.P50),
			P90:   millis(s.Latency.P90),
			P95:   millis(s.Latency.P95),
			P99:   millis(s.Latency.P99),
			Max:   millis(s.Latency.Max),
			Count: s.Latency.Count,
		},
		StatusCodes:  make(map[string]int64, len(s.StatusCodes)),
		ErrorSamples: s.ErrorSamples,
	}

	if result.Schedule != nil {
		report.Stages = result.Schedule.String()
	}

	for code, n := range s.StatusCodes {
		report.StatusCodes[strconv.Itoa(code)] = n
	}

	for _, st := range s.Stages {
		report.StageStats = append(report.StageStats, StageReport{
			Name:       st.Name,
			Phase:      string(st.Phase),
			Target:     st.Target,
			Requests:   st.Requests,
			Successes:  st.Successes,
			Failures:   st.Failures,
			Errors:     st.Errors,
			DurationMs: millis(st.Duration),
			RPS:        st.RPS,
		})
	}

	for _, b := range result.TimeSeries {
		report.TimeSeries = append(report.TimeSeries, BucketReport{
			ElapsedMs:    millis(b.Elapsed),
			Requests:     b.IntervalRequests,
			Successes:    b.IntervalSuccesses,
			RPS:          b.IntervalRPS,
			ActiveVUs:    b.ActiveVUs,
			Stage:        b.Stage,
			Phase:        string(b.Phase),
			LatencyP95Ms: millis(b.LatencyP95),
		})
	}

	return report
}

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}

// WriteFile writes the report to path, creating parent directories.
func (r *Report) WriteFile(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}

	if err := r.WriteJSON(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write report file: %w", err)
	}
	return nil
}
