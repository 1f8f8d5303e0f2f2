package driver

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/wesleyorama2/synload/internal/metrics"
)

// Pool manages the set of live Virtual Users.
//
// Only the driver's control loop resizes the pool. VUs retired by Scale
// or StopAll leave the live set immediately but keep running until
// their in-flight request completes; Wait covers both.
type Pool struct {
	target  *Target
	client  *http.Client
	metrics *metrics.Engine
	pacing  time.Duration
	logger  *log.Entry

	vus   []*VirtualUser
	vusMu sync.Mutex

	nextVUID atomic.Int32
	running  atomic.Int32
	spawned  atomic.Int64
	wg       sync.WaitGroup
}

// NewPool creates an empty pool whose VUs share client.
func NewPool(target *Target, client *http.Client, metricsEngine *metrics.Engine, pacing time.Duration, logger *log.Entry) *Pool {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}

	return &Pool{
		target:  target,
		client:  client,
		metrics: metricsEngine,
		pacing:  pacing,
		logger:  logger,
		vus:     make([]*VirtualUser, 0),
	}
}

// Scale adjusts the number of live VUs to target.
//
// New VUs start immediately; their requests use reqCtx, which the
// driver only cancels when the graceful stop window expires. Excess VUs
// are retired newest first.
func (p *Pool) Scale(reqCtx context.Context, target int) int {
	p.vusMu.Lock()
	defer p.vusMu.Unlock()

	current := len(p.vus)

	if target > current {
		for i := current; i < target; i++ {
			vu := NewVirtualUser(int(p.nextVUID.Add(1)), p.target, p.client, p.metrics)
			p.vus = append(p.vus, vu)
			p.spawned.Add(1)
			p.wg.Add(1)
			go p.runVU(reqCtx, vu)
		}
		p.logger.WithFields(log.Fields{"from": current, "to": target}).Debug("Spawned VUs")
	} else if target < current {
		for i := current - 1; i >= target; i-- {
			p.vus[i].RequestStop()
		}
		for i := target; i < current; i++ {
			p.vus[i] = nil
		}
		p.vus = p.vus[:target]
		p.logger.WithFields(log.Fields{"from": current, "to": target}).Debug("Retired VUs")
	}

	p.metrics.SetActiveVUs(len(p.vus))
	return len(p.vus)
}

// runVU loops one VU until it is asked to stop or reqCtx is cancelled.
// The stop request is only observed between iterations.
func (p *Pool) runVU(reqCtx context.Context, vu *VirtualUser) {
	defer p.wg.Done()
	defer vu.MarkStopped()

	p.running.Add(1)
	defer p.running.Add(-1)

	for {
		if vu.IsStopping() || reqCtx.Err() != nil {
			return
		}

		result := vu.RunIteration(reqCtx)
		if result.Err != nil && reqCtx.Err() == nil {
			p.logger.WithFields(log.Fields{"vu": vu.ID, "error": result.Err}).Trace("Request failed")
		}

		if p.pacing > 0 {
			select {
			case <-vu.Stopped():
				return
			case <-reqCtx.Done():
				return
			case <-time.After(p.pacing):
			}
		}
	}
}

// StopAll retires every live VU.
func (p *Pool) StopAll() {
	p.vusMu.Lock()
	defer p.vusMu.Unlock()

	for _, vu := range p.vus {
		vu.RequestStop()
	}
	p.vus = p.vus[:0]
	p.metrics.SetActiveVUs(0)
}

// Wait blocks until every VU goroutine has exited or timeout elapses.
// It returns false on timeout.
func (p *Pool) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	if timeout <= 0 {
		<-done
		return true
	}

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Live returns the number of VUs that have not been retired.
func (p *Pool) Live() int {
	p.vusMu.Lock()
	defer p.vusMu.Unlock()
	return len(p.vus)
}

// Running returns the number of VU goroutines still executing,
// including retired VUs finishing their last request.
func (p *Pool) Running() int {
	return int(p.running.Load())
}

// Spawned returns how many VUs were created over the pool's lifetime.
func (p *Pool) Spawned() int64 {
	return p.spawned.Load()
}

// CloseIdleConnections releases pooled connections.
func (p *Pool) CloseIdleConnections() {
	p.client.CloseIdleConnections()
}
