// Package metrics aggregates the results of a load run.
package metrics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/wesleyorama2/synload/internal/schedule"
)

// Engine is the run summary: it collects every request result and
// produces snapshots for live output and the final report.
//
// # Thread Safety
//
// Engine is safe for concurrent use. Counters use atomic operations,
// the histogram and the status/error maps are mutex protected, and the
// background emitter runs in its own goroutine.
//
// The total counter is always incremented before the outcome counter,
// and snapshots read outcomes before the total, so a snapshot never
// reports more successes than requests.
type Engine struct {
	config EngineConfig

	// Latency histogram, 1µs..1h with 3 significant figures by default.
	latencyHist   *hdrhistogram.Histogram
	latencyHistMu sync.Mutex

	totalRequests atomic.Int64
	successes     atomic.Int64
	failures      atomic.Int64
	errors        atomic.Int64
	totalBytes    atomic.Int64

	statusCodes   map[int]int64
	statusCodesMu sync.Mutex

	errorSamples   map[string]int64
	errorSamplesMu sync.Mutex

	activeVUs atomic.Int32
	targetVUs atomic.Int32

	stages       []*stageCounters
	currentStage atomic.Int32
	currentPhase schedule.Phase
	stageHistory []StageChange
	phaseMu      sync.RWMutex

	bucketStore *TimeBucketStore

	startTime time.Time
	endTime   time.Time
	timeMu    sync.RWMutex

	emitterCancel context.CancelFunc
	emitterWg     sync.WaitGroup
	started       atomic.Bool
	stopped       atomic.Bool
}

type stageCounters struct {
	requests  atomic.Int64
	successes atomic.Int64
	failures  atomic.Int64
	errors    atomic.Int64
}

// NewEngine creates a metrics engine with the default configuration.
func NewEngine() *Engine {
	return NewEngineWithConfig(DefaultEngineConfig())
}

// NewEngineWithConfig creates a metrics engine. Zero-valued fields of
// config fall back to DefaultEngineConfig.
func NewEngineWithConfig(config EngineConfig) *Engine {
	defaults := DefaultEngineConfig()
	if config.BucketInterval <= 0 {
		config.BucketInterval = defaults.BucketInterval
	}
	if config.MaxBuckets <= 0 {
		config.MaxBuckets = defaults.MaxBuckets
	}
	if config.HistogramMin <= 0 {
		config.HistogramMin = defaults.HistogramMin
	}
	if config.HistogramMax <= 0 {
		config.HistogramMax = defaults.HistogramMax
	}
	if config.HistogramSigFigs <= 0 {
		config.HistogramSigFigs = defaults.HistogramSigFigs
	}
	if config.MaxErrorSamples <= 0 {
		config.MaxErrorSamples = defaults.MaxErrorSamples
	}

	stages := make([]*stageCounters, len(config.Stages))
	for i := range stages {
		stages[i] = &stageCounters{}
	}

	return &Engine{
		config:       config,
		latencyHist:  hdrhistogram.New(config.HistogramMin, config.HistogramMax, config.HistogramSigFigs),
		statusCodes:  make(map[int]int64),
		errorSamples: make(map[string]int64),
		stages:       stages,
		currentPhase: PhaseInit,
		bucketStore:  NewTimeBucketStore(config.MaxBuckets),
		startTime:    time.Now(),
	}
}

// Start marks the beginning of the run and starts the bucket emitter.
// Calling Start more than once has no effect.
func (e *Engine) Start() {
	if !e.started.CompareAndSwap(false, true) {
		return
	}

	e.timeMu.Lock()
	e.startTime = time.Now()
	e.timeMu.Unlock()
	e.bucketStore.Reset()

	ctx, cancel := context.WithCancel(context.Background())
	e.emitterCancel = cancel

	e.emitterWg.Add(1)
	go e.runEmitter(ctx)
}

// Stop stops the emitter, emits a final bucket and freezes elapsed time.
func (e *Engine) Stop() {
	if !e.stopped.CompareAndSwap(false, true) {
		return
	}

	if e.emitterCancel != nil {
		e.emitterCancel()
		e.emitterWg.Wait()
	}
	e.emitBucket()

	e.timeMu.Lock()
	e.endTime = time.Now()
	e.timeMu.Unlock()

	e.phaseMu.Lock()
	e.currentPhase = schedule.PhaseDone
	e.phaseMu.Unlock()
}

// RecordRequest records one completed request and returns its outcome.
func (e *Engine) RecordRequest(duration time.Duration, statusCode int, err error, bytes int64) Outcome {
	outcome := Classify(statusCode, err)

	latencyMicros := duration.Microseconds()
	if latencyMicros < e.config.HistogramMin {
		latencyMicros = e.config.HistogramMin
	}
	if latencyMicros > e.config.HistogramMax {
		latencyMicros = e.config.HistogramMax
	}

	// HDR histogram RecordValue is not thread-safe.
	e.latencyHistMu.Lock()
	_ = e.latencyHist.RecordValue(latencyMicros)
	e.latencyHistMu.Unlock()

	e.totalRequests.Add(1)
	e.totalBytes.Add(bytes)

	var stage *stageCounters
	if idx := int(e.currentStage.Load()); idx >= 0 && idx < len(e.stages) {
		stage = e.stages[idx]
		stage.requests.Add(1)
	}

	switch outcome {
	case OutcomeSuccess:
		e.successes.Add(1)
		if stage != nil {
			stage.successes.Add(1)
		}
	case OutcomeFailure:
		e.failures.Add(1)
		if stage != nil {
			stage.failures.Add(1)
		}
	case OutcomeError:
		e.errors.Add(1)
		if stage != nil {
			stage.errors.Add(1)
		}
	}

	if err != nil {
		e.recordErrorSample(err)
	}
	if statusCode != 0 {
		e.statusCodesMu.Lock()
		e.statusCodes[statusCode]++
		e.statusCodesMu.Unlock()
	}

	e.bucketStore.RecordRequest(outcome == OutcomeSuccess)
	return outcome
}

// recordErrorSample counts a request error by message. Once the number
// of distinct messages reaches MaxErrorSamples, new messages are counted
// under "other".
func (e *Engine) recordErrorSample(err error) {
	msg := err.Error()

	e.errorSamplesMu.Lock()
	defer e.errorSamplesMu.Unlock()

	if _, ok := e.errorSamples[msg]; !ok && len(e.errorSamples) >= e.config.MaxErrorSamples {
		msg = "other"
	}
	e.errorSamples[msg]++
}

// SetStage marks the stage the run is currently in.
func (e *Engine) SetStage(stage int, phase schedule.Phase) {
	e.phaseMu.Lock()
	defer e.phaseMu.Unlock()

	if int(e.currentStage.Load()) == stage && e.currentPhase == phase {
		return
	}

	e.currentStage.Store(int32(stage))
	e.currentPhase = phase
	e.stageHistory = append(e.stageHistory, StageChange{
		Stage:     stage,
		Phase:     phase,
		Timestamp: time.Now(),
		Requests:  e.totalRequests.Load(),
	})
}

// CurrentStage returns the current stage index and phase.
func (e *Engine) CurrentStage() (int, schedule.Phase) {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()
	return int(e.currentStage.Load()), e.currentPhase
}

// SetActiveVUs updates the active VU count.
func (e *Engine) SetActiveVUs(count int) {
	e.activeVUs.Store(int32(count))
}

// GetActiveVUs returns the current active VU count.
func (e *Engine) GetActiveVUs() int {
	return int(e.activeVUs.Load())
}

// SetTargetVUs updates the VU count the schedule currently asks for.
func (e *Engine) SetTargetVUs(count int) {
	e.targetVUs.Store(int32(count))
}

// runEmitter appends a time bucket every BucketInterval.
func (e *Engine) runEmitter(ctx context.Context) {
	defer e.emitterWg.Done()

	ticker := time.NewTicker(e.config.BucketInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.emitBucket()
		}
	}
}

func (e *Engine) emitBucket() {
	// Read successes first; see the Engine doc comment.
	successes := e.successes.Load()
	total := e.totalRequests.Load()
	stage, phase := e.CurrentStage()

	e.bucketStore.CreateBucket(
		e.StartTime(),
		total, successes,
		e.GetLatencyPercentiles(),
		e.GetActiveVUs(), stage, phase,
	)
}

// GetLatencyPercentiles returns the current P50/P95/P99 latencies.
func (e *Engine) GetLatencyPercentiles() LatencyPercentiles {
	e.latencyHistMu.Lock()
	defer e.latencyHistMu.Unlock()

	return LatencyPercentiles{
		P50: time.Duration(e.latencyHist.ValueAtQuantile(50)) * time.Microsecond,
		P95: time.Duration(e.latencyHist.ValueAtQuantile(95)) * time.Microsecond,
		P99: time.Duration(e.latencyHist.ValueAtQuantile(99)) * time.Microsecond,
	}
}

// StartTime returns when the run started.
func (e *Engine) StartTime() time.Time {
	e.timeMu.RLock()
	defer e.timeMu.RUnlock()
	return e.startTime
}

// Elapsed returns the run time so far, or the full run time once stopped.
func (e *Engine) Elapsed() time.Duration {
	e.timeMu.RLock()
	defer e.timeMu.RUnlock()

	if !e.endTime.IsZero() {
		return e.endTime.Sub(e.startTime)
	}
	return time.Since(e.startTime)
}

// GetSnapshot returns a point-in-time snapshot of all metrics.
func (e *Engine) GetSnapshot() *Snapshot {
	// Outcome counters before the total; see the Engine doc comment.
	successes := e.successes.Load()
	failures := e.failures.Load()
	errs := e.errors.Load()
	total := e.totalRequests.Load()

	e.latencyHistMu.Lock()
	latency := LatencyStats{
		Min:    time.Duration(e.latencyHist.Min()) * time.Microsecond,
		Max:    time.Duration(e.latencyHist.Max()) * time.Microsecond,
		Mean:   time.Duration(e.latencyHist.Mean()) * time.Microsecond,
		StdDev: time.Duration(e.latencyHist.StdDev()) * time.Microsecond,
		P50:    time.Duration(e.latencyHist.ValueAtQuantile(50)) * time.Microsecond,
		P90:    time.Duration(e.latencyHist.ValueAtQuantile(90)) * time.Microsecond,
		P95:    time.Duration(e.latencyHist.ValueAtQuantile(95)) * time.Microsecond,
		P99:    time.Duration(e.latencyHist.ValueAtQuantile(99)) * time.Microsecond,
		Count:  e.latencyHist.TotalCount(),
	}
	e.latencyHistMu.Unlock()

	elapsed := e.Elapsed()

	rps := 0.0
	if elapsed.Seconds() > 0 {
		rps = float64(total) / elapsed.Seconds()
	}

	successRate := 0.0
	if total > 0 {
		successRate = float64(successes) / float64(total)
	}

	stage, phase := e.CurrentStage()

	return &Snapshot{
		RunID:         e.config.RunID,
		TotalRequests: total,
		Successes:     successes,
		Failures:      failures,
		Errors:        errs,
		TotalBytes:    e.totalBytes.Load(),
		SuccessRate:   successRate,
		Latency:       latency,
		RPS:           rps,
		Throughput:    CalculateThroughput(e.bucketStore.GetBuckets()),
		StatusCodes:   e.GetStatusCodes(),
		ErrorSamples:  e.GetErrorSamples(),
		ActiveVUs:     e.GetActiveVUs(),
		TargetVUs:     int(e.targetVUs.Load()),
		CurrentStage:  stage,
		CurrentPhase:  phase,
		Stages:        e.GetStageStats(),
		Elapsed:       elapsed,
		StartTime:     e.StartTime(),
		Timestamp:     time.Now(),
	}
}

// GetStatusCodes returns a copy of the status code counts.
func (e *Engine) GetStatusCodes() map[int]int64 {
	e.statusCodesMu.Lock()
	defer e.statusCodesMu.Unlock()

	result := make(map[int]int64, len(e.statusCodes))
	for code, n := range e.statusCodes {
		result[code] = n
	}
	return result
}

// GetErrorSamples returns a copy of the transport error counts.
func (e *Engine) GetErrorSamples() map[string]int64 {
	e.errorSamplesMu.Lock()
	defer e.errorSamplesMu.Unlock()

	result := make(map[string]int64, len(e.errorSamples))
	for msg, n := range e.errorSamples {
		result[msg] = n
	}
	return result
}

// GetStageStats returns the per-stage breakdown. A stage's duration is
// the wall-clock time between entering it and entering the next one.
func (e *Engine) GetStageStats() []StageStats {
	if len(e.config.Stages) == 0 {
		return nil
	}

	e.phaseMu.RLock()
	history := make([]StageChange, len(e.stageHistory))
	copy(history, e.stageHistory)
	e.phaseMu.RUnlock()

	var end time.Time
	e.timeMu.RLock()
	end = e.endTime
	e.timeMu.RUnlock()
	if end.IsZero() {
		end = time.Now()
	}

	durations := make([]time.Duration, len(e.stages))
	for i, change := range history {
		if change.Stage < 0 || change.Stage >= len(durations) {
			continue
		}
		until := end
		if i+1 < len(history) {
			until = history[i+1].Timestamp
		}
		durations[change.Stage] += until.Sub(change.Timestamp)
	}

	result := make([]StageStats, len(e.stages))
	for i, counters := range e.stages {
		stage := e.config.Stages[i]
		prevTarget := 0
		if i > 0 {
			prevTarget = e.config.Stages[i-1].Target
		}

		phase := schedule.PhaseSteady
		if stage.Target > prevTarget {
			phase = schedule.PhaseRampUp
		} else if stage.Target < prevTarget {
			phase = schedule.PhaseRampDown
		}

		errs := counters.errors.Load()
		failures := counters.failures.Load()
		successes := counters.successes.Load()
		requests := counters.requests.Load()

		rps := 0.0
		if durations[i] > 0 {
			rps = float64(requests) / durations[i].Seconds()
		}

		result[i] = StageStats{
			Index:     i,
			Name:      stage.Name,
			Phase:     phase,
			Target:    stage.Target,
			Requests:  requests,
			Successes: successes,
			Failures:  failures,
			Errors:    errs,
			Duration:  durations[i],
			RPS:       rps,
		}
	}

	return result
}

// GetTimeSeries returns all time-series buckets.
func (e *Engine) GetTimeSeries() []*TimeBucket {
	return e.bucketStore.GetBuckets()
}

// GetLatestBucket returns the most recent completed bucket, or nil
// before the first one is emitted.
func (e *Engine) GetLatestBucket() *TimeBucket {
	return e.bucketStore.GetLatestBucket()
}

// GetStageHistory returns the recorded stage transitions.
func (e *Engine) GetStageHistory() []StageChange {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()

	result := make([]StageChange, len(e.stageHistory))
	copy(result, e.stageHistory)
	return result
}
