// Package driver runs virtual users against a single URL and keeps their
// number in line with a staged concurrency schedule.
//
// # Architecture
//
// A Driver owns three things:
//
//   - a Schedule, evaluated on every control tick
//   - a Pool of VirtualUsers, resized by the control loop only
//   - a metrics.Engine, the run summary every VU records into
//
// # Shutdown
//
// When the schedule completes or the run context is cancelled the driver
// stops spawning, asks every VU to stop and waits for in-flight requests.
// Requests run on a context detached from run cancellation, so they
// finish normally unless the graceful stop window expires, at which
// point that context is cancelled and the aborted requests are dropped.
package driver

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/wesleyorama2/synload/internal/metrics"
	"github.com/wesleyorama2/synload/internal/schedule"
)

const (
	// DefaultTickInterval is how often the control loop reconciles the pool.
	DefaultTickInterval = 100 * time.Millisecond

	// DefaultGracefulStop is how long in-flight requests may run after the
	// run ends.
	DefaultGracefulStop = 30 * time.Second
)

// ErrInvalidConfig is returned by New for configurations that cannot run.
var ErrInvalidConfig = errors.New("invalid driver configuration")

// Config describes a run.
type Config struct {
	// URL is the target every VU requests with GET.
	URL string

	// Stages is the concurrency schedule.
	Stages []schedule.Stage

	// HTTP configures the client shared by all VUs.
	HTTP HTTPClientConfig

	// Headers are added to every request.
	Headers map[string]string

	// UserAgent is sent unless Headers sets one.
	UserAgent string

	// TickInterval is the control loop period (default 100ms).
	TickInterval time.Duration

	// GracefulStop bounds the wait for in-flight requests (default 30s).
	GracefulStop time.Duration

	// Pacing is an optional pause between a VU's iterations.
	Pacing time.Duration

	// BucketInterval sets the time-series resolution (default 1s).
	BucketInterval time.Duration

	// RunID identifies the run in logs and reports.
	RunID string
}

// Result is what a completed run returns.
type Result struct {
	RunID      string
	URL        string
	Schedule   *schedule.Schedule
	Summary    *metrics.Snapshot
	TimeSeries []*metrics.TimeBucket
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration

	// Interrupted is true when the run was cancelled before the schedule ended.
	Interrupted bool

	// Aborted counts VUs that were still running when the graceful stop
	// window expired.
	Aborted int
}

// Progress is a live view of a running driver.
type Progress struct {
	Elapsed   time.Duration
	Remaining time.Duration
	Stage     int
	StageName string
	Phase     schedule.Phase
	TargetVUs int
	ActiveVUs int
	// CurrentRPS is the rate over the last completed bucket, or the run
	// average before one exists.
	CurrentRPS float64
	Snapshot   *metrics.Snapshot
}

// Driver runs one load test.
type Driver struct {
	config   Config
	schedule *schedule.Schedule
	metrics  *metrics.Engine
	pool     *Pool
	logger   *log.Entry

	startTime time.Time
	startMu   sync.RWMutex

	running   atomic.Bool
	stopCh    chan struct{}
	stopOnce  sync.Once
	runCalled atomic.Bool
}

// New validates config and prepares a driver. No request is issued until Run.
func New(config Config) (*Driver, error) {
	if err := ValidateURL(config.URL); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	sched, err := schedule.New(config.Stages)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if config.TickInterval <= 0 {
		config.TickInterval = DefaultTickInterval
	}
	if config.GracefulStop <= 0 {
		config.GracefulStop = DefaultGracefulStop
	}
	if config.Pacing < 0 {
		return nil, fmt.Errorf("%w: pacing cannot be negative, got %s", ErrInvalidConfig, config.Pacing)
	}
	if config.HTTP == (HTTPClientConfig{}) {
		config.HTTP = DefaultHTTPClientConfig()
	}

	headers := make(map[string]string, len(config.Headers)+1)
	for k, v := range config.Headers {
		headers[k] = v
	}
	if _, ok := headers["User-Agent"]; !ok && config.UserAgent != "" {
		headers["User-Agent"] = config.UserAgent
	}
	config.Headers = headers

	engineConfig := metrics.DefaultEngineConfig()
	engineConfig.Stages = sched.Stages()
	engineConfig.RunID = config.RunID
	if config.BucketInterval > 0 {
		engineConfig.BucketInterval = config.BucketInterval
	}
	metricsEngine := metrics.NewEngineWithConfig(engineConfig)

	logger := log.WithFields(log.Fields{"run": config.RunID})

	target := &Target{URL: config.URL, Headers: headers}
	pool := NewPool(target, newHTTPClient(config.HTTP), metricsEngine, config.Pacing, logger)

	return &Driver{
		config:   config,
		schedule: sched,
		metrics:  metricsEngine,
		pool:     pool,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}, nil
}

// ValidateURL checks that raw is an absolute http or https URL with a host.
func ValidateURL(raw string) error {
	if raw == "" {
		return errors.New("url is required")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid url %q: scheme must be http or https, got %q", raw, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid url %q: missing host", raw)
	}
	return nil
}

// Run executes the schedule and blocks until it completes or ctx is
// cancelled. Request failures never make Run return an error.
func (d *Driver) Run(ctx context.Context) (*Result, error) {
	if !d.runCalled.CompareAndSwap(false, true) {
		return nil, errors.New("driver already ran")
	}

	// Requests outlive run cancellation; only the graceful stop timeout
	// cancels them.
	reqCtx, hardCancel := context.WithCancel(context.WithoutCancel(ctx))
	defer hardCancel()

	d.metrics.Start()
	start := d.metrics.StartTime()
	d.startMu.Lock()
	d.startTime = start
	d.startMu.Unlock()
	d.running.Store(true)

	d.logger.WithFields(log.Fields{
		"url":      d.config.URL,
		"stages":   d.schedule.String(),
		"duration": d.schedule.Total(),
	}).Info("Starting run")

	interrupted := d.controlLoop(ctx, reqCtx, start)

	aborted := d.shutdown(hardCancel)

	d.metrics.Stop()
	d.running.Store(false)
	d.pool.CloseIdleConnections()

	end := time.Now()
	result := &Result{
		RunID:       d.config.RunID,
		URL:         d.config.URL,
		Schedule:    d.schedule,
		Summary:     d.metrics.GetSnapshot(),
		TimeSeries:  d.metrics.GetTimeSeries(),
		StartTime:   start,
		EndTime:     end,
		Duration:    end.Sub(start),
		Interrupted: interrupted,
		Aborted:     aborted,
	}

	d.logger.WithFields(log.Fields{
		"requests":    result.Summary.TotalRequests,
		"successes":   result.Summary.Successes,
		"duration":    result.Duration,
		"interrupted": interrupted,
	}).Info("Run finished")

	return result, nil
}

// controlLoop reconciles the pool to the schedule until the schedule is
// done or the run is cancelled. It reports whether the run was cut short.
func (d *Driver) controlLoop(ctx context.Context, reqCtx context.Context, start time.Time) bool {
	ticker := time.NewTicker(d.config.TickInterval)
	defer ticker.Stop()

	lastStage := -1
	for {
		pos := d.schedule.TargetAt(time.Since(start))
		if pos.Done {
			return false
		}

		if pos.Stage != lastStage {
			stage := d.schedule.Stage(pos.Stage)
			d.logger.WithFields(log.Fields{
				"stage":  stage.Name,
				"index":  pos.Stage,
				"target": stage.Target,
				"phase":  d.schedule.Phase(pos.Stage),
			}).Info("Entering stage")
			lastStage = pos.Stage
		}

		d.metrics.SetStage(pos.Stage, d.schedule.Phase(pos.Stage))
		d.metrics.SetTargetVUs(pos.Target)
		d.pool.Scale(reqCtx, pos.Target)

		select {
		case <-ctx.Done():
			d.logger.Warn("Run cancelled, draining virtual users")
			return true
		case <-d.stopCh:
			d.logger.Warn("Run stopped, draining virtual users")
			return true
		case <-ticker.C:
		}
	}
}

// shutdown stops every VU and waits for their in-flight requests. If the
// graceful stop window expires, hardCancel aborts what is left. It
// returns the number of VUs that had to be aborted.
func (d *Driver) shutdown(hardCancel context.CancelFunc) int {
	d.pool.StopAll()
	d.metrics.SetTargetVUs(0)

	if d.pool.Wait(d.config.GracefulStop) {
		return 0
	}

	aborted := d.pool.Running()
	d.logger.WithFields(log.Fields{
		"gracefulStop": d.config.GracefulStop,
		"remaining":    aborted,
	}).Warn("Graceful stop expired, aborting in-flight requests")

	hardCancel()
	d.pool.Wait(0)
	return aborted
}

// Stop ends the run early. In-flight requests are drained as on
// cancellation. Safe to call more than once.
func (d *Driver) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
	})
}

// IsRunning reports whether Run is in progress.
func (d *Driver) IsRunning() bool {
	return d.running.Load()
}

// Metrics returns the run summary aggregator.
func (d *Driver) Metrics() *metrics.Engine {
	return d.metrics
}

// Schedule returns the validated schedule.
func (d *Driver) Schedule() *schedule.Schedule {
	return d.schedule
}

// Config returns the effective configuration with defaults applied.
func (d *Driver) Config() Config {
	return d.config
}

// Progress returns a live view of the run.
func (d *Driver) Progress() Progress {
	d.startMu.RLock()
	start := d.startTime
	d.startMu.RUnlock()

	var elapsed time.Duration
	if !start.IsZero() {
		elapsed = d.metrics.Elapsed()
	}

	remaining := d.schedule.Total() - elapsed
	if remaining < 0 {
		remaining = 0
	}

	snapshot := d.metrics.GetSnapshot()
	stage := snapshot.CurrentStage
	name := ""
	if stage >= 0 && stage < d.schedule.Len() {
		name = d.schedule.Stage(stage).Name
	}

	rps := snapshot.RPS
	if latest := d.metrics.GetLatestBucket(); latest != nil {
		rps = latest.IntervalRPS
	}

	return Progress{
		Elapsed:    elapsed,
		Remaining:  remaining,
		Stage:      stage,
		StageName:  name,
		Phase:      snapshot.CurrentPhase,
		TargetVUs:  snapshot.TargetVUs,
		ActiveVUs:  snapshot.ActiveVUs,
		CurrentRPS: rps,
		Snapshot:   snapshot,
	}
}
