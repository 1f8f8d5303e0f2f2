package driver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/synload/internal/metrics"
)

// VUState represents the lifecycle state of a Virtual User.
type VUState int32

const (
	// VUStateIdle indicates the VU is between requests.
	VUStateIdle VUState = iota
	// VUStateRunning indicates the VU has a request in flight.
	VUStateRunning
	// VUStateStopping indicates the VU will exit after its current request.
	VUStateStopping
	// VUStateStopped indicates the VU goroutine has exited.
	VUStateStopped
)

func (s VUState) String() string {
	switch s {
	case VUStateIdle:
		return "idle"
	case VUStateRunning:
		return "running"
	case VUStateStopping:
		return "stopping"
	case VUStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Target is the request every VU issues.
type Target struct {
	URL     string
	Headers map[string]string
}

// RequestResult contains the result of a single GET.
type RequestResult struct {
	VUID       int             `json:"vuId"`
	Iteration  int64           `json:"iteration"`
	StartTime  time.Time       `json:"startTime"`
	Duration   time.Duration   `json:"duration"`
	StatusCode int             `json:"statusCode"`
	Bytes      int64           `json:"bytes"`
	Outcome    metrics.Outcome `json:"outcome"`
	Err        error           `json:"-"`
}

// Success reports whether the target answered 200 OK.
func (r *RequestResult) Success() bool {
	return r.Outcome == metrics.OutcomeSuccess
}

// VirtualUser is a single simulated client looping on GET requests.
//
// A VU is stopped cooperatively: RequestStop only flips its state, and
// the VU exits after the request it is currently waiting on completes.
type VirtualUser struct {
	ID int

	client  *http.Client
	target  *Target
	metrics *metrics.Engine

	state     atomic.Int32
	stopCh    chan struct{}
	iteration atomic.Int64
}

// NewVirtualUser creates a VU. It does not start a goroutine.
func NewVirtualUser(id int, target *Target, client *http.Client, metricsEngine *metrics.Engine) *VirtualUser {
	return &VirtualUser{
		ID:      id,
		client:  client,
		target:  target,
		metrics: metricsEngine,
		stopCh:  make(chan struct{}),
	}
}

// GetState returns the current VU state.
func (vu *VirtualUser) GetState() VUState {
	return VUState(vu.state.Load())
}

// GetIteration returns the number of iterations started.
func (vu *VirtualUser) GetIteration() int64 {
	return vu.iteration.Load()
}

// IsStopping reports whether the VU was asked to stop or has stopped.
func (vu *VirtualUser) IsStopping() bool {
	s := vu.GetState()
	return s == VUStateStopping || s == VUStateStopped
}

// RunIteration issues one GET, records it and returns the result.
//
// ctx bounds the request itself. Callers pass a context that outlives
// run cancellation so in-flight requests can complete.
func (vu *VirtualUser) RunIteration(ctx context.Context) *RequestResult {
	vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateRunning))
	defer vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateIdle))

	result := vu.executeRequest(ctx)

	// A request aborted by the driver's hard stop says nothing about the target.
	if ctx.Err() != nil && result.Err != nil {
		return result
	}

	result.Outcome = vu.metrics.RecordRequest(result.Duration, result.StatusCode, result.Err, result.Bytes)
	return result
}

// executeRequest performs the HTTP round trip and drains the body so the
// connection can be reused.
func (vu *VirtualUser) executeRequest(ctx context.Context) *RequestResult {
	start := time.Now()
	result := &RequestResult{
		VUID:      vu.ID,
		Iteration: vu.iteration.Add(1),
		StartTime: start,
		Outcome:   metrics.OutcomeError,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, vu.target.URL, nil)
	if err != nil {
		result.Err = fmt.Errorf("failed to build request: %w", err)
		result.Duration = time.Since(start)
		return result
	}
	for key, value := range vu.target.Headers {
		// net/http ignores a Host entry in req.Header.
		if http.CanonicalHeaderKey(key) == "Host" {
			req.Host = value
			continue
		}
		req.Header.Set(key, value)
	}

	resp, err := vu.client.Do(req)
	if err != nil {
		result.Err = err
		result.Duration = time.Since(start)
		return result
	}
	defer resp.Body.Close()

	result.StatusCode = resp.StatusCode
	result.Bytes, err = io.Copy(io.Discard, resp.Body)
	result.Duration = time.Since(start)
	if err != nil {
		result.Err = fmt.Errorf("failed to read response body: %w", err)
	}

	return result
}

// RequestStop asks the VU to exit after its current request.
func (vu *VirtualUser) RequestStop() {
	if vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateStopping)) ||
		vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateStopping)) {
		close(vu.stopCh)
	}
}

// Stopped returns a channel closed once RequestStop has been called.
func (vu *VirtualUser) Stopped() <-chan struct{} {
	return vu.stopCh
}

// MarkStopped marks the VU as fully stopped.
func (vu *VirtualUser) MarkStopped() {
	vu.state.Store(int32(VUStateStopped))
}
