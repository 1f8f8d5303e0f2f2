package driver_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/synload/internal/driver"
	"github.com/wesleyorama2/synload/internal/schedule"
)

func statusServer(status int) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(`{"status": "ok"}`))
	}))
}

func shortStages() []schedule.Stage {
	return []schedule.Stage{
		{Duration: 100 * time.Millisecond, Target: 2},
		{Duration: 200 * time.Millisecond, Target: 2},
		{Duration: 100 * time.Millisecond, Target: 0},
	}
}

func runDriver(t *testing.T, cfg driver.Config) *driver.Result {
	t.Helper()

	d, err := driver.New(cfg)
	require.NoError(t, err)

	result, err := d.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result)
	return result
}

func TestNew_RejectsNegativeTarget(t *testing.T) {
	_, err := driver.New(driver.Config{
		URL: "http://localhost:8080/",
		Stages: []schedule.Stage{
			{Duration: time.Second, Target: 10},
			{Duration: time.Second, Target: -1},
		},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, driver.ErrInvalidConfig))

	var stageErrs schedule.Errors
	require.True(t, errors.As(err, &stageErrs))
	require.Len(t, stageErrs, 1)
	assert.Equal(t, 1, stageErrs[0].Index)
	assert.Equal(t, "target", stageErrs[0].Field)
}

func TestNew_RejectsNegativeDuration(t *testing.T) {
	_, err := driver.New(driver.Config{
		URL:    "http://localhost:8080/",
		Stages: []schedule.Stage{{Duration: -time.Second, Target: 1}},
	})
	assert.ErrorIs(t, err, driver.ErrInvalidConfig)
}

func TestNew_RejectsEmptySchedule(t *testing.T) {
	_, err := driver.New(driver.Config{URL: "http://localhost:8080/"})
	assert.ErrorIs(t, err, driver.ErrInvalidConfig)
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"http://localhost:8080/synapse/key_new_1", false},
		{"https://example.com", false},
		{"", true},
		{"ftp://example.com/", true},
		{"http://", true},
		{"localhost:8080", true},
		{"http://[::1", true},
	}

	for _, tt := range tests {
		err := driver.ValidateURL(tt.url)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
		}
	}
}

func TestNew_RejectsBadURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"empty", ""},
		{"no scheme", "localhost:8080/path"},
		{"ftp", "ftp://example.com/file"},
		{"no host", "http:///path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := driver.New(driver.Config{
				URL:    tt.url,
				Stages: []schedule.Stage{{Duration: time.Second, Target: 1}},
			})
			assert.ErrorIs(t, err, driver.ErrInvalidConfig)
		})
	}
}

func TestNew_AppliesDefaults(t *testing.T) {
	d, err := driver.New(driver.Config{
		URL:    "http://localhost:8080/",
		Stages: []schedule.Stage{{Duration: time.Second, Target: 1}},
	})
	require.NoError(t, err)

	cfg := d.Config()
	assert.Equal(t, driver.DefaultTickInterval, cfg.TickInterval)
	assert.Equal(t, driver.DefaultGracefulStop, cfg.GracefulStop)
	assert.Equal(t, driver.DefaultHTTPClientConfig(), cfg.HTTP)
	assert.Equal(t, "stage-1", d.Schedule().Stage(0).Name)
	assert.False(t, d.IsRunning())
}

func TestRun_AllSuccess(t *testing.T) {
	server := statusServer(http.StatusOK)
	defer server.Close()

	result := runDriver(t, driver.Config{
		URL:          server.URL,
		Stages:       shortStages(),
		TickInterval: 10 * time.Millisecond,
	})

	summary := result.Summary
	assert.Greater(t, summary.TotalRequests, int64(0))
	assert.Equal(t, summary.TotalRequests, summary.Successes)
	assert.Equal(t, int64(0), summary.Failures)
	assert.Equal(t, int64(0), summary.Errors)
	assert.False(t, result.Interrupted)
	assert.Equal(t, 0, result.Aborted)
	assert.GreaterOrEqual(t, result.Duration, 400*time.Millisecond)
	assert.Equal(t, 0, summary.ActiveVUs)
	assert.Equal(t, schedule.PhaseDone, summary.CurrentPhase)
}

func TestRun_AllFailures(t *testing.T) {
	server := statusServer(http.StatusInternalServerError)
	defer server.Close()

	result := runDriver(t, driver.Config{
		URL:          server.URL,
		Stages:       shortStages(),
		TickInterval: 10 * time.Millisecond,
	})

	summary := result.Summary
	assert.Greater(t, summary.TotalRequests, int64(0))
	assert.Equal(t, int64(0), summary.Successes)
	assert.Equal(t, summary.TotalRequests, summary.Failures)
	assert.Equal(t, summary.TotalRequests, summary.StatusCodes[500])
}

func TestRun_UnreachableTarget(t *testing.T) {
	server := statusServer(http.StatusOK)
	addr := server.URL
	server.Close()

	result := runDriver(t, driver.Config{
		URL: addr,
		Stages: []schedule.Stage{
			{Duration: 0, Target: 1},
			{Duration: 100 * time.Millisecond, Target: 1},
		},
		TickInterval: 10 * time.Millisecond,
	})

	summary := result.Summary
	assert.Greater(t, summary.Errors, int64(0))
	assert.Equal(t, int64(0), summary.Successes)
	assert.Equal(t, summary.TotalRequests, summary.Errors)
	assert.NotEmpty(t, summary.ErrorSamples)
}

func TestRun_TruncatedBodyStillCountsStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("short"))
		w.(http.Flusher).Flush()

		conn, _, err := w.(http.Hijacker).Hijack()
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer server.Close()

	result := runDriver(t, driver.Config{
		URL:          server.URL,
		Stages:       []schedule.Stage{{Duration: 300 * time.Millisecond, Target: 1}},
		TickInterval: 10 * time.Millisecond,
	})

	summary := result.Summary
	require.Greater(t, summary.TotalRequests, int64(0))
	assert.Equal(t, summary.TotalRequests, summary.Successes)
	assert.Equal(t, int64(0), summary.Errors)
	assert.Equal(t, summary.TotalRequests, summary.StatusCodes[http.StatusOK])
	assert.NotEmpty(t, summary.ErrorSamples)
}

func TestRun_ZeroTargetIssuesNoRequests(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	result := runDriver(t, driver.Config{
		URL:          server.URL,
		Stages:       []schedule.Stage{{Duration: 150 * time.Millisecond, Target: 0}},
		TickInterval: 10 * time.Millisecond,
	})

	assert.Equal(t, int64(0), result.Summary.TotalRequests)
	assert.Equal(t, int64(0), hits.Load())
}

func TestRun_ConcurrencyNeverExceedsTarget(t *testing.T) {
	var inFlight, maxInFlight atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
	}))
	defer server.Close()

	result := runDriver(t, driver.Config{
		URL: server.URL,
		Stages: []schedule.Stage{
			{Duration: 0, Target: 5},
			{Duration: 300 * time.Millisecond, Target: 5},
		},
		TickInterval: 10 * time.Millisecond,
	})

	assert.LessOrEqual(t, maxInFlight.Load(), int64(5))
	assert.GreaterOrEqual(t, maxInFlight.Load(), int64(1))
	assert.Equal(t, result.Summary.TotalRequests, result.Summary.Successes)
}

func TestRun_DrainsInFlightRequests(t *testing.T) {
	var started, completed atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started.Add(1)
		time.Sleep(300 * time.Millisecond)
		completed.Add(1)
	}))
	defer server.Close()

	result := runDriver(t, driver.Config{
		URL: server.URL,
		Stages: []schedule.Stage{
			{Duration: 0, Target: 3},
			{Duration: 100 * time.Millisecond, Target: 3},
		},
		TickInterval: 10 * time.Millisecond,
		GracefulStop: 5 * time.Second,
	})

	// Every request that started before the schedule ended is recorded.
	assert.Equal(t, 0, result.Aborted)
	assert.Equal(t, started.Load(), result.Summary.TotalRequests)
	assert.Equal(t, result.Summary.TotalRequests, result.Summary.Successes)
	assert.Equal(t, int64(3), result.Summary.Successes)
	assert.Equal(t, int64(0), result.Summary.Errors)
}

func TestRun_GracefulStopExpiry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer server.Close()

	start := time.Now()
	result := runDriver(t, driver.Config{
		URL: server.URL,
		Stages: []schedule.Stage{
			{Duration: 0, Target: 2},
			{Duration: 50 * time.Millisecond, Target: 2},
		},
		TickInterval: 10 * time.Millisecond,
		GracefulStop: 100 * time.Millisecond,
	})

	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Equal(t, 2, result.Aborted)
	// Requests aborted by the driver are not blamed on the target.
	assert.Equal(t, int64(0), result.Summary.TotalRequests)
}

func TestRun_ContextCancellation(t *testing.T) {
	server := statusServer(http.StatusOK)
	defer server.Close()

	d, err := driver.New(driver.Config{
		URL:          server.URL,
		Stages:       []schedule.Stage{{Duration: 0, Target: 2}, {Duration: 10 * time.Second, Target: 2}},
		TickInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	start := time.Now()
	result, err := d.Run(ctx)
	require.NoError(t, err)

	assert.True(t, result.Interrupted)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Greater(t, result.Summary.TotalRequests, int64(0))
	assert.Equal(t, result.Summary.TotalRequests, result.Summary.Successes)
}

func TestRun_Stop(t *testing.T) {
	server := statusServer(http.StatusOK)
	defer server.Close()

	d, err := driver.New(driver.Config{
		URL:          server.URL,
		Stages:       []schedule.Stage{{Duration: 10 * time.Second, Target: 1}},
		TickInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var result *driver.Result
	wg.Add(1)
	go func() {
		defer wg.Done()
		result, _ = d.Run(context.Background())
	}()

	time.Sleep(100 * time.Millisecond)
	assert.True(t, d.IsRunning())

	d.Stop()
	d.Stop()
	wg.Wait()

	require.NotNil(t, result)
	assert.True(t, result.Interrupted)
	assert.False(t, d.IsRunning())
}

func TestRun_OnlyOnce(t *testing.T) {
	d, err := driver.New(driver.Config{
		URL:    "http://127.0.0.1:1/",
		Stages: []schedule.Stage{{Duration: 0, Target: 0}},
	})
	require.NoError(t, err)

	_, err = d.Run(context.Background())
	require.NoError(t, err)

	_, err = d.Run(context.Background())
	assert.Error(t, err)
}

func TestRun_SendsHeaders(t *testing.T) {
	var userAgent, accept atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		userAgent.Store(r.Header.Get("User-Agent"))
		accept.Store(r.Header.Get("Accept"))
	}))
	defer server.Close()

	result := runDriver(t, driver.Config{
		URL:          server.URL,
		Stages:       []schedule.Stage{{Duration: 0, Target: 1}, {Duration: 50 * time.Millisecond, Target: 1}},
		Headers:      map[string]string{"Accept": "application/json"},
		UserAgent:    "synload/test",
		TickInterval: 10 * time.Millisecond,
	})

	require.Greater(t, result.Summary.TotalRequests, int64(0))
	assert.Equal(t, result.Summary.TotalRequests, result.Summary.Successes)
	assert.Equal(t, "synload/test", userAgent.Load())
	assert.Equal(t, "application/json", accept.Load())
}

func TestRun_HostHeaderOverridesRequestHost(t *testing.T) {
	var host, hostHeader atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host.Store(r.Host)
		hostHeader.Store(r.Header.Get("Host"))
	}))
	defer server.Close()

	runDriver(t, driver.Config{
		URL:          server.URL,
		Stages:       []schedule.Stage{{Duration: 0, Target: 1}, {Duration: 50 * time.Millisecond, Target: 1}},
		Headers:      map[string]string{"host": "cache.internal"},
		TickInterval: 10 * time.Millisecond,
	})

	assert.Equal(t, "cache.internal", host.Load())
	assert.Equal(t, "", hostHeader.Load())
}

func TestRun_PerStageBreakdown(t *testing.T) {
	server := statusServer(http.StatusOK)
	defer server.Close()

	result := runDriver(t, driver.Config{
		URL:          server.URL,
		Stages:       shortStages(),
		TickInterval: 10 * time.Millisecond,
	})

	stages := result.Summary.Stages
	require.Len(t, stages, 3)
	assert.Equal(t, schedule.PhaseRampUp, stages[0].Phase)
	assert.Equal(t, schedule.PhaseSteady, stages[1].Phase)
	assert.Equal(t, schedule.PhaseRampDown, stages[2].Phase)

	var sum int64
	for _, s := range stages {
		sum += s.Requests
	}
	assert.Equal(t, result.Summary.TotalRequests, sum)
	assert.Greater(t, stages[1].Requests, int64(0))
}

func TestProgress(t *testing.T) {
	server := statusServer(http.StatusOK)
	defer server.Close()

	d, err := driver.New(driver.Config{
		URL:          server.URL,
		Stages:       []schedule.Stage{{Duration: 0, Target: 2, Name: "hold"}, {Duration: 10 * time.Second, Target: 2, Name: "plateau"}},
		TickInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return d.Progress().ActiveVUs == 2
	}, 2*time.Second, 10*time.Millisecond)

	p := d.Progress()
	assert.Equal(t, 1, p.Stage)
	assert.Equal(t, "plateau", p.StageName)
	assert.Equal(t, 2, p.TargetVUs)
	assert.Greater(t, p.Remaining, time.Duration(0))
	assert.NotNil(t, p.Snapshot)

	cancel()
	<-done
}
