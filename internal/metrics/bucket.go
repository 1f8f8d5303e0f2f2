package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/synload/internal/schedule"
)

// TimeBucketStore keeps the most recent time buckets in a ring buffer.
//
// Requests are accumulated lock-free between buckets; CreateBucket swaps
// the accumulators out and appends a bucket under the store lock.
type TimeBucketStore struct {
	buckets    []*TimeBucket
	head       int
	count      int
	maxBuckets int
	mu         sync.RWMutex

	lastBucketTime time.Time

	currentRequests  atomic.Int64
	currentSuccesses atomic.Int64
}

// NewTimeBucketStore creates a store holding at most maxBuckets buckets.
func NewTimeBucketStore(maxBuckets int) *TimeBucketStore {
	if maxBuckets <= 0 {
		maxBuckets = 3600
	}

	return &TimeBucketStore{
		buckets:        make([]*TimeBucket, maxBuckets),
		maxBuckets:     maxBuckets,
		lastBucketTime: time.Now(),
	}
}

// RecordRequest adds one completed request to the current interval.
func (tbs *TimeBucketStore) RecordRequest(success bool) {
	tbs.currentRequests.Add(1)
	if success {
		tbs.currentSuccesses.Add(1)
	}
}

// CreateBucket closes the current interval and stores it.
func (tbs *TimeBucketStore) CreateBucket(
	start time.Time,
	totalRequests, totalSuccesses int64,
	latencies LatencyPercentiles,
	activeVUs, stage int,
	phase schedule.Phase,
) *TimeBucket {
	tbs.mu.Lock()
	defer tbs.mu.Unlock()

	now := time.Now()

	intervalRequests := tbs.currentRequests.Swap(0)
	intervalSuccesses := tbs.currentSuccesses.Swap(0)

	intervalDuration := now.Sub(tbs.lastBucketTime).Seconds()
	if intervalDuration <= 0 {
		intervalDuration = 1.0
	}

	bucket := &TimeBucket{
		Timestamp:         now,
		Elapsed:           now.Sub(start),
		TotalRequests:     totalRequests,
		TotalSuccesses:    totalSuccesses,
		IntervalRequests:  intervalRequests,
		IntervalSuccesses: intervalSuccesses,
		IntervalRPS:       float64(intervalRequests) / intervalDuration,
		LatencyP50:        latencies.P50,
		LatencyP95:        latencies.P95,
		LatencyP99:        latencies.P99,
		ActiveVUs:         activeVUs,
		Stage:             stage,
		Phase:             phase,
	}

	tbs.buckets[tbs.head] = bucket
	tbs.head = (tbs.head + 1) % tbs.maxBuckets
	if tbs.count < tbs.maxBuckets {
		tbs.count++
	}
	tbs.lastBucketTime = now

	return bucket
}

// GetBuckets returns all buckets in chronological order.
func (tbs *TimeBucketStore) GetBuckets() []*TimeBucket {
	tbs.mu.RLock()
	defer tbs.mu.RUnlock()

	if tbs.count == 0 {
		return nil
	}

	result := make([]*TimeBucket, tbs.count)
	if tbs.count < tbs.maxBuckets {
		copy(result, tbs.buckets[:tbs.count])
	} else {
		for i := 0; i < tbs.count; i++ {
			result[i] = tbs.buckets[(tbs.head+i)%tbs.maxBuckets]
		}
	}

	return result
}

// GetLatestBucket returns the most recent bucket, or nil if none.
func (tbs *TimeBucketStore) GetLatestBucket() *TimeBucket {
	tbs.mu.RLock()
	defer tbs.mu.RUnlock()

	if tbs.count == 0 {
		return nil
	}
	return tbs.buckets[(tbs.head-1+tbs.maxBuckets)%tbs.maxBuckets]
}

// Reset clears all buckets and accumulators.
func (tbs *TimeBucketStore) Reset() {
	tbs.mu.Lock()
	defer tbs.mu.Unlock()

	tbs.buckets = make([]*TimeBucket, tbs.maxBuckets)
	tbs.head = 0
	tbs.count = 0
	tbs.lastBucketTime = time.Now()

	tbs.currentRequests.Store(0)
	tbs.currentSuccesses.Store(0)
}
