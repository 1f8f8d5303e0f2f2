package output

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/wesleyorama2/synload/internal/driver"
	"github.com/wesleyorama2/synload/internal/metrics"
	"github.com/wesleyorama2/synload/internal/schedule"
)

func testResult(t *testing.T) *driver.Result {
	t.Helper()

	sched, err := schedule.New([]schedule.Stage{
		{Duration: 30 * time.Second, Target: 10},
		{Duration: time.Minute, Target: 10, Name: "hold"},
		{Duration: 30 * time.Second, Target: 0},
	})
	require.NoError(t, err)

	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &driver.Result{
		RunID:    "0b5e4a1c-run",
		URL:      "http://localhost:8080/synapse/key_new_1",
		Schedule: sched,
		Summary: &metrics.Snapshot{
			RunID:         "0b5e4a1c-run",
			TotalRequests: 12345,
			Successes:     12000,
			Failures:      300,
			Errors:        45,
			TotalBytes:    2048,
			SuccessRate:   12000.0 / 12345.0,
			RPS:           102.9,
			Latency: metrics.LatencyStats{
				Min:   time.Millisecond,
				Mean:  12 * time.Millisecond,
				P50:   10 * time.Millisecond,
				P90:   20 * time.Millisecond,
				P95:   25 * time.Millisecond,
				P99:   40 * time.Millisecond,
				Max:   90 * time.Millisecond,
				Count: 12300,
			},
			Throughput:   metrics.ThroughputStats{Mean: 100, Median: 101, P95: 120, Max: 130, StdDev: 5, Samples: 120},
			StatusCodes:  map[int]int64{200: 12000, 503: 300},
			ErrorSamples: map[string]int64{"connection refused": 40, "timeout": 5},
			Stages: []metrics.StageStats{
				{Index: 0, Name: "stage-1", Phase: schedule.PhaseRampUp, Target: 10, Requests: 2000, Successes: 2000},
				{Index: 1, Name: "hold", Phase: schedule.PhaseSteady, Target: 10, Requests: 8000, Successes: 7700, Failures: 300},
				{Index: 2, Name: "stage-3", Phase: schedule.PhaseRampDown, Target: 0, Requests: 2345, Successes: 2300, Errors: 45},
			},
		},
		TimeSeries: []*metrics.TimeBucket{
			{Elapsed: time.Second, IntervalRequests: 90, IntervalSuccesses: 90, IntervalRPS: 90, ActiveVUs: 1, Phase: schedule.PhaseRampUp},
		},
		StartTime: start,
		EndTime:   start.Add(2 * time.Minute),
		Duration:  2 * time.Minute,
	}
}

func TestReport_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewReport("synapse-get", testResult(t)).WriteJSON(&buf))

	doc := buf.String()
	require.True(t, gjson.Valid(doc))

	assert.Equal(t, int64(12345), gjson.Get(doc, "totalRequests").Int())
	assert.Equal(t, int64(12000), gjson.Get(doc, "successes").Int())
	assert.Equal(t, int64(300), gjson.Get(doc, "failures").Int())
	assert.Equal(t, int64(45), gjson.Get(doc, "errors").Int())
	assert.Equal(t, "0b5e4a1c-run", gjson.Get(doc, "runId").String())
	assert.Equal(t, "synapse-get", gjson.Get(doc, "name").String())
	assert.Equal(t, "30s:10,1m0s:10,30s:0", gjson.Get(doc, "stages").String())
	assert.Equal(t, 120000.0, gjson.Get(doc, "durationMs").Float())
	assert.Equal(t, int64(300), gjson.Get(doc, "statusCodes.503").Int())
	assert.Equal(t, int64(40), gjson.Get(doc, "errorSamples.connection refused").Int())
	assert.Equal(t, 25.0, gjson.Get(doc, "latency.p95").Float())
	assert.Equal(t, 100.0, gjson.Get(doc, "throughput.mean").Float())
	assert.Equal(t, int64(3), gjson.Get(doc, "stageStats.#").Int())
	assert.Equal(t, "hold", gjson.Get(doc, "stageStats.1.name").String())
	assert.Equal(t, "steady", gjson.Get(doc, "stageStats.1.phase").String())
	assert.Equal(t, int64(1), gjson.Get(doc, "timeSeries.#").Int())
	assert.False(t, gjson.Get(doc, "interrupted").Bool())
	assert.False(t, gjson.Get(doc, "abortedVus").Exists())
}

func TestReport_WriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "run.json")
	require.NoError(t, NewReport("x", testResult(t)).WriteFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, int64(12000), gjson.GetBytes(data, "successes").Int())
}

func newTestConsole(buf *bytes.Buffer, quiet bool) *Console {
	return NewConsole(ConsoleConfig{Writer: buf, Quiet: quiet, NoColor: true})
}

func TestConsole_PrintSummary(t *testing.T) {
	var buf bytes.Buffer
	newTestConsole(&buf, false).PrintSummary("synapse-get", testResult(t))

	out := buf.String()
	assert.Contains(t, out, "synapse-get - Completed ✓")
	assert.Contains(t, out, "Run ID:        0b5e4a1c-run")
	assert.Contains(t, out, "Total Reqs:    12,345")
	assert.Contains(t, out, "Successes:     12,000")
	assert.Contains(t, out, "Non-200:       300")
	assert.Contains(t, out, "Errors:        45")
	assert.Contains(t, out, "Success Rate:  97.2%")
	assert.Contains(t, out, "Data:          2.0 KB")
	assert.Contains(t, out, "P95:       25ms")
	assert.Contains(t, out, "  503  300")
	assert.Contains(t, out, "hold")
	assert.NotContains(t, out, "\033[")

	// Most frequent error first.
	assert.Less(t, strings.Index(out, "connection refused"), strings.Index(out, "timeout"))
}

func TestConsole_PrintSummaryInterrupted(t *testing.T) {
	result := testResult(t)
	result.Interrupted = true
	result.Aborted = 2

	var buf bytes.Buffer
	newTestConsole(&buf, false).PrintSummary("run", result)

	assert.Contains(t, buf.String(), "Interrupted")
	assert.Contains(t, buf.String(), "Aborted VUs:   2")
}

func TestConsole_QuietSummary(t *testing.T) {
	var buf bytes.Buffer
	c := newTestConsole(&buf, true)

	sched, err := schedule.New([]schedule.Stage{{Duration: time.Second, Target: 1}})
	require.NoError(t, err)
	c.PrintHeader("run", "http://x", sched)
	c.PrintNonInteractiveUpdate(&LiveStats{})
	c.Printf("hello")
	c.PrintSummary("run", testResult(t))

	assert.Equal(t, "total requests: 12345\nsuccesses: 12000\n", buf.String())
}

func TestConsole_PrintHeader(t *testing.T) {
	sched, err := schedule.New([]schedule.Stage{
		{Duration: time.Minute, Target: 100},
		{Duration: 30 * time.Second, Target: 0},
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	newTestConsole(&buf, false).PrintHeader("synapse-get", "http://localhost:8080/", sched)

	out := buf.String()
	assert.Contains(t, out, "synapse-get - Running")
	assert.Contains(t, out, "Target:   http://localhost:8080/")
	assert.Contains(t, out, "1m0s:100,30s:0 (1m 30s, peak 100 VUs)")
}

func TestConsole_NonInteractiveUpdate(t *testing.T) {
	var buf bytes.Buffer
	c := newTestConsole(&buf, false)
	assert.False(t, c.IsTTY())

	stats := &LiveStats{
		Progress:      0.5,
		Elapsed:       30 * time.Second,
		ActiveVUs:     5,
		TargetVUs:     6,
		TotalRequests: 100,
		Successes:     90,
		Failures:      6,
		Errors:        4,
		CurrentRPS:    3.3,
		CurrentPhase:  "ramp-up",
		CurrentStage:  1,
		TotalStages:   3,
	}
	c.PrintNonInteractiveUpdate(stats)

	// Update is a no-op off a terminal.
	c.Update(stats)

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "\n"))
	assert.Contains(t, out, "[30.0s] Progress: 50%")
	assert.Contains(t, out, "Stage: 1/3 ramp-up")
	assert.Contains(t, out, "VUs: 5/6")
	assert.Contains(t, out, "OK: 90 | Non-200: 6 | Errors: 4")
}

func TestConsole_LiveUpdateRedraws(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(ConsoleConfig{Writer: &buf, ForceTTY: true, NoColor: true})
	require.True(t, c.IsTTY())

	c.Update(&LiveStats{ActiveVUs: 1, TargetVUs: 2, TotalStages: 1, CurrentStage: 1})
	first := buf.Len()
	assert.Contains(t, buf.String(), "VUs:     1 / 2")
	assert.NotContains(t, buf.String(), "\033[")

	c.Update(&LiveStats{ActiveVUs: 2, TargetVUs: 2, TotalStages: 1, CurrentStage: 1})
	assert.Contains(t, buf.String()[first:], "\033[")
}

func TestStatsFromProgress(t *testing.T) {
	p := driver.Progress{
		Elapsed:    15 * time.Second,
		Remaining:  45 * time.Second,
		Stage:      1,
		StageName:  "hold",
		Phase:      schedule.PhaseSteady,
		TargetVUs:  10,
		ActiveVUs:  9,
		CurrentRPS: 42.5,
		Snapshot:   testResult(t).Summary,
	}

	stats := StatsFromProgress(p, 3)
	assert.InDelta(t, 0.25, stats.Progress, 1e-9)
	assert.Equal(t, 2, stats.CurrentStage)
	assert.Equal(t, 3, stats.TotalStages)
	assert.Equal(t, "steady", stats.CurrentPhase)
	assert.Equal(t, int64(12345), stats.TotalRequests)
	assert.Equal(t, 25*time.Millisecond, stats.LatencyP95)
	assert.Equal(t, 42.5, stats.CurrentRPS)

	empty := StatsFromProgress(driver.Progress{}, 0)
	assert.Equal(t, 0.0, empty.Progress)
	assert.Equal(t, int64(0), empty.TotalRequests)
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "999", formatNumber(999))
	assert.Equal(t, "1,000", formatNumber(1000))
	assert.Equal(t, "1,234,567", formatNumber(1234567))
	assert.Equal(t, "-1,000", formatNumber(-1000))

	assert.Equal(t, "500ms", formatDuration(500*time.Millisecond))
	assert.Equal(t, "1.5s", formatDuration(1500*time.Millisecond))
	assert.Equal(t, "2m 05s", formatDuration(125*time.Second))
	assert.Equal(t, "1h 01m 01s", formatDuration(time.Hour+time.Minute+time.Second))

	assert.Equal(t, "0ms", formatDurationShort(0))
	assert.Equal(t, "250µs", formatDurationShort(250*time.Microsecond))
	assert.Equal(t, "1.50s", formatDurationShort(1500*time.Millisecond))

	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 KB", formatBytes(1536))
	assert.Equal(t, "1.0 MB", formatBytes(1<<20))

	assert.Equal(t, "hello", stripANSI("\033[32mhello\033[0m"))
	assert.Equal(t, "[██░░]", renderProgressBar(0.5, 4))
}
