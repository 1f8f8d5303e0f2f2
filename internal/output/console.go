// Package output renders live progress, the final summary and the JSON
// report of a load run.
package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wesleyorama2/synload/internal/driver"
	"github.com/wesleyorama2/synload/internal/metrics"
	"github.com/wesleyorama2/synload/internal/schedule"
)

// ANSI escape codes for cursor control
const (
	cursorUp  = "\033[%dA"
	clearLine = "\033[2K"
)

// Box drawing characters
const (
	boxHorizontal  = "━"
	boxVertical    = "│"
	boxTopLeft     = "┌"
	boxTopRight    = "┐"
	boxBottomLeft  = "└"
	boxBottomRight = "┘"

	progressFilled = "█"
	progressEmpty  = "░"
)

// LiveStats contains real-time statistics for display.
type LiveStats struct {
	Progress  float64
	Elapsed   time.Duration
	Remaining time.Duration

	ActiveVUs int
	TargetVUs int

	CurrentRPS    float64
	TotalRequests int64
	Successes     int64
	Failures      int64
	Errors        int64
	SuccessRate   float64

	LatencyP95 time.Duration
	LatencyAvg time.Duration

	CurrentPhase string
	StageName    string
	CurrentStage int // 1-indexed
	TotalStages  int
}

// StatsFromProgress builds LiveStats from a driver progress report.
func StatsFromProgress(p driver.Progress, totalStages int) *LiveStats {
	stats := &LiveStats{
		Elapsed:      p.Elapsed,
		Remaining:    p.Remaining,
		ActiveVUs:    p.ActiveVUs,
		TargetVUs:    p.TargetVUs,
		CurrentPhase: string(p.Phase),
		StageName:    p.StageName,
		CurrentStage: p.Stage + 1,
		TotalStages:  totalStages,
		CurrentRPS:   p.CurrentRPS,
	}

	if total := p.Elapsed + p.Remaining; total > 0 {
		stats.Progress = float64(p.Elapsed) / float64(total)
	}

	if s := p.Snapshot; s != nil {
		stats.TotalRequests = s.TotalRequests
		stats.Successes = s.Successes
		stats.Failures = s.Failures
		stats.Errors = s.Errors
		stats.SuccessRate = s.SuccessRate
		stats.LatencyP95 = s.Latency.P95
		stats.LatencyAvg = s.Latency.Mean
	}

	return stats
}

// ConsoleConfig contains configuration for Console.
type ConsoleConfig struct {
	Writer      io.Writer
	Quiet       bool
	NoColor     bool
	ForceColors bool
	ForceTTY    bool
}

// Console manages console output during a run.
type Console struct {
	writer io.Writer
	isTTY  bool
	quiet  bool
	colors *ColorScheme

	mu          sync.Mutex
	linesOutput int
}

// NewConsole creates a console writer.
func NewConsole(config ConsoleConfig) *Console {
	if config.Writer == nil {
		config.Writer = os.Stdout
	}

	isTTY := config.ForceTTY || isTerminal(config.Writer)

	var colors *ColorScheme
	switch {
	case config.NoColor:
		colors = NoColorScheme()
	case config.ForceColors || (isTTY && supportsColors()):
		colors = ForcedColorScheme()
	default:
		colors = NoColorScheme()
	}

	return &Console{
		writer: config.Writer,
		isTTY:  isTTY,
		quiet:  config.Quiet,
		colors: colors,
	}
}

// IsTTY returns whether the output is a terminal.
func (c *Console) IsTTY() bool {
	return c.isTTY
}

// PrintHeader prints the run header.
func (c *Console) PrintHeader(name, url string, sched *schedule.Schedule) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	line := c.colors.Value.Sprint(strings.Repeat(boxHorizontal, 56))
	c.writeln(line)
	c.writeln(c.colors.Title.Sprintf("%s - Running", name))
	c.writeln(line)
	c.writeln(fmt.Sprintf("Target:   %s", c.colors.Highlight.Sprint(url)))
	c.writeln(fmt.Sprintf("Stages:   %s (%s, peak %d VUs)",
		sched.String(), formatDuration(sched.Total()), sched.MaxTarget()))
	c.writeln("")
}

// Update redraws the live display. It does nothing unless the output is
// a terminal.
func (c *Console) Update(stats *LiveStats) {
	if c.quiet || !c.isTTY {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.clearLive()

	lines := c.renderLiveStats(stats)
	c.linesOutput = len(lines)
	for _, line := range lines {
		c.writeln(line)
	}
}

// clearLive erases the previous live display.
func (c *Console) clearLive() {
	if c.linesOutput == 0 {
		return
	}

	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	for i := 0; i < c.linesOutput; i++ {
		c.write(clearLine + "\n")
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	c.linesOutput = 0
}

// renderLiveStats renders the live statistics display.
func (c *Console) renderLiveStats(stats *LiveStats) []string {
	var lines []string

	timeInfo := fmt.Sprintf("%s / %s", formatDuration(stats.Elapsed), formatDuration(stats.Elapsed+stats.Remaining))
	lines = append(lines, fmt.Sprintf("Progress: %s %s | %s",
		c.colors.Success.Sprint(renderProgressBar(stats.Progress, 40)),
		c.colors.Title.Sprintf("%.0f%%", stats.Progress*100),
		c.colors.Dim.Sprint(timeInfo)))

	phaseInfo := stats.CurrentPhase
	if stats.TotalStages > 0 {
		phaseInfo = fmt.Sprintf("%s %s (%d/%d)", stats.StageName, stats.CurrentPhase, stats.CurrentStage, stats.TotalStages)
	}
	lines = append(lines, fmt.Sprintf("Stage:    %s", c.colors.Phase.Sprint(phaseInfo)))
	lines = append(lines, "")

	boxWidth := 55
	lines = append(lines, c.colors.Dim.Sprint(boxTopLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxTopRight))

	vusStr := fmt.Sprintf("VUs:     %s / %d", c.colors.Value.Sprintf("%d", stats.ActiveVUs), stats.TargetVUs)
	reqsStr := fmt.Sprintf("Requests:    %s", c.colors.Value.Sprint(formatNumber(stats.TotalRequests)))
	lines = append(lines, c.formatBoxRow(vusStr, reqsStr, boxWidth))

	rate := c.colors.rateColor(stats.SuccessRate)
	rpsStr := fmt.Sprintf("RPS:     %s", c.colors.Success.Sprintf("%.1f", stats.CurrentRPS))
	okStr := fmt.Sprintf("Successes:   %s (%s)",
		rate.Sprint(formatNumber(stats.Successes)),
		rate.Sprint(formatPercent(stats.SuccessRate)))
	lines = append(lines, c.formatBoxRow(rpsStr, okStr, boxWidth))

	failStr := fmt.Sprintf("Non-200: %s", c.colors.Warn.Sprint(formatNumber(stats.Failures)))
	errStr := fmt.Sprintf("Errors:      %s", c.colors.Error.Sprint(formatNumber(stats.Errors)))
	lines = append(lines, c.formatBoxRow(failStr, errStr, boxWidth))

	p95Str := fmt.Sprintf("P95:     %s", c.colors.Latency.Sprint(formatDurationShort(stats.LatencyP95)))
	avgStr := fmt.Sprintf("Avg:         %s", c.colors.Latency.Sprint(formatDurationShort(stats.LatencyAvg)))
	lines = append(lines, c.formatBoxRow(p95Str, avgStr, boxWidth))

	lines = append(lines, c.colors.Dim.Sprint(boxBottomLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxBottomRight))

	return lines
}

// formatBoxRow formats a row inside the stats box with two columns.
func (c *Console) formatBoxRow(left, right string, boxWidth int) string {
	colWidth := (boxWidth - 4) / 2

	leftPadding := colWidth - len([]rune(stripANSI(left)))
	if leftPadding < 0 {
		leftPadding = 0
	}
	rightPadding := colWidth - len([]rune(stripANSI(right)))
	if rightPadding < 0 {
		rightPadding = 0
	}

	border := c.colors.Dim.Sprint(boxVertical)
	return fmt.Sprintf("%s %s%s%s %s%s %s",
		border, left, strings.Repeat(" ", leftPadding),
		border, right, strings.Repeat(" ", rightPadding),
		border)
}

// renderProgressBar renders a progress bar.
func renderProgressBar(progress float64, width int) string {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}

	filled := int(progress * float64(width))
	return "[" + strings.Repeat(progressFilled, filled) + strings.Repeat(progressEmpty, width-filled) + "]"
}

// PrintNonInteractiveUpdate prints a one-line status update.
// Used when output is not a TTY (e.g., piped to a file or CI/CD).
func (c *Console) PrintNonInteractiveUpdate(stats *LiveStats) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.writeln(fmt.Sprintf("[%s] Progress: %.0f%% | Stage: %d/%d %s | VUs: %d/%d | Reqs: %d | OK: %d | Non-200: %d | Errors: %d | RPS: %.1f | P95: %s",
		formatDuration(stats.Elapsed),
		stats.Progress*100,
		stats.CurrentStage, stats.TotalStages, stats.CurrentPhase,
		stats.ActiveVUs, stats.TargetVUs,
		stats.TotalRequests,
		stats.Successes,
		stats.Failures,
		stats.Errors,
		stats.CurrentRPS,
		formatDurationShort(stats.LatencyP95)))
}

// PrintSummary prints the final run summary.
//
// In quiet mode only the two headline counts are printed.
func (c *Console) PrintSummary(name string, result *driver.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := result.Summary

	if c.quiet {
		c.writeln(fmt.Sprintf("total requests: %d", s.TotalRequests))
		c.writeln(fmt.Sprintf("successes: %d", s.Successes))
		return
	}

	if c.isTTY {
		c.clearLive()
	}

	line := c.colors.Value.Sprint(strings.Repeat(boxHorizontal, 56))
	status := statusLabel(c.colors.Success, "Completed", iconSuccess)
	switch {
	case result.Interrupted:
		status = statusLabel(c.colors.Warn, "Interrupted", iconWarning)
	case result.Aborted > 0:
		status = statusLabel(c.colors.Error, "Completed", iconError)
	}

	c.writeln("")
	c.writeln(line)
	c.writeln(fmt.Sprintf("%s - %s", c.colors.Title.Sprint(name), status))
	c.writeln(line)
	c.writeln("")

	c.writeln(fmt.Sprintf("Run ID:        %s", result.RunID))
	c.writeln(fmt.Sprintf("Target:        %s", result.URL))
	c.writeln(fmt.Sprintf("Duration:      %s", c.colors.Value.Sprint(formatDuration(result.Duration))))
	c.writeln(fmt.Sprintf("Total Reqs:    %s", c.colors.Value.Sprint(formatNumber(s.TotalRequests))))
	c.writeln(fmt.Sprintf("Successes:     %s", c.colors.Success.Sprint(formatNumber(s.Successes))))
	c.writeln(fmt.Sprintf("Non-200:       %s", c.colors.Warn.Sprint(formatNumber(s.Failures))))
	c.writeln(fmt.Sprintf("Errors:        %s", c.colors.Error.Sprint(formatNumber(s.Errors))))
	c.writeln(fmt.Sprintf("Success Rate:  %s", c.colors.rateColor(s.SuccessRate).Sprint(formatPercent(s.SuccessRate))))
	c.writeln(fmt.Sprintf("Data:          %s", formatBytes(s.TotalBytes)))
	if result.Aborted > 0 {
		c.writeln(fmt.Sprintf("Aborted VUs:   %s", c.colors.Warn.Sprint(result.Aborted)))
	}
	c.writeln("")

	c.writeln(c.colors.Label.Sprint("Throughput:"))
	c.writeln(fmt.Sprintf("  Overall:   %.1f req/s", s.RPS))
	if s.Throughput.Samples > 0 {
		c.writeln(fmt.Sprintf("  Mean:      %.1f req/s", s.Throughput.Mean))
		c.writeln(fmt.Sprintf("  Median:    %.1f req/s", s.Throughput.Median))
		c.writeln(fmt.Sprintf("  P95:       %.1f req/s", s.Throughput.P95))
		c.writeln(fmt.Sprintf("  Peak:      %.1f req/s", s.Throughput.Max))
		c.writeln(fmt.Sprintf("  StdDev:    %.1f", s.Throughput.StdDev))
	}
	c.writeln("")

	if s.Latency.Count > 0 {
		c.writeln(c.colors.Label.Sprint("Latency Distribution:"))
		c.writeln(fmt.Sprintf("  Min:       %s", formatDurationShort(s.Latency.Min)))
		c.writeln(fmt.Sprintf("  Mean:      %s", formatDurationShort(s.Latency.Mean)))
		c.writeln(fmt.Sprintf("  P50:       %s", formatDurationShort(s.Latency.P50)))
		c.writeln(fmt.Sprintf("  P90:       %s", formatDurationShort(s.Latency.P90)))
		c.writeln(fmt.Sprintf("  P95:       %s", formatDurationShort(s.Latency.P95)))
		c.writeln(fmt.Sprintf("  P99:       %s", formatDurationShort(s.Latency.P99)))
		c.writeln(fmt.Sprintf("  Max:       %s", formatDurationShort(s.Latency.Max)))
		c.writeln("")
	}

	if len(s.StatusCodes) > 0 {
		c.writeln(c.colors.Label.Sprint("Status Codes:"))
		codes := make([]int, 0, len(s.StatusCodes))
		for code := range s.StatusCodes {
			codes = append(codes, code)
		}
		sort.Ints(codes)
		for _, code := range codes {
			col := c.colors.Success
			if code != 200 {
				col = c.colors.Warn
			}
			c.writeln(fmt.Sprintf("  %s  %s", col.Sprintf("%d", code), formatNumber(s.StatusCodes[code])))
		}
		c.writeln("")
	}

	if len(s.ErrorSamples) > 0 {
		c.writeln(c.colors.Label.Sprint("Errors:"))
		for _, e := range sortedErrorSamples(s.ErrorSamples) {
			c.writeln(fmt.Sprintf("  %s  %s", c.colors.Error.Sprint(formatNumber(e.count)), e.message))
		}
		c.writeln("")
	}

	if len(s.Stages) > 0 {
		c.printStages(s.Stages)
	}
}

// printStages prints the per-stage breakdown table.
func (c *Console) printStages(stages []metrics.StageStats) {
	c.writeln(c.colors.Label.Sprint("Stages:"))
	c.writeln(fmt.Sprintf("  %-12s %-10s %6s %10s %10s %8s %8s %9s",
		"NAME", "PHASE", "TARGET", "REQUESTS", "OK", "NON-200", "ERRORS", "RPS"))
	for _, st := range stages {
		c.writeln(fmt.Sprintf("  %-12s %-10s %6d %10d %10d %8d %8d %9.1f",
			st.Name, st.Phase, st.Target, st.Requests, st.Successes, st.Failures, st.Errors, st.RPS))
	}
	c.writeln("")
}

type errorSample struct {
	message string
	count   int64
}

// sortedErrorSamples orders error messages by count, most frequent first.
func sortedErrorSamples(samples map[string]int64) []errorSample {
	out := make([]errorSample, 0, len(samples))
	for msg, n := range samples {
		out = append(out, errorSample{message: msg, count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].message < out[j].message
	})
	return out
}

// Printf writes a formatted informational line unless quiet.
func (c *Console) Printf(format string, args ...interface{}) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeln(fmt.Sprintf(format, args...))
}

func (c *Console) write(s string) {
	fmt.Fprint(c.writer, s)
}

func (c *Console) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}
