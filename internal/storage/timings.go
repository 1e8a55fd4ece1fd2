package storage

import (
	"sync"
	"time"
)

const maxTimingSamples = 100

// queryTimings tracks recent query durations per operation for GetStats.
type queryTimings struct {
	mu    sync.Mutex
	times map[string][]time.Duration
}

func newQueryTimings() *queryTimings {
	return &queryTimings{times: make(map[string][]time.Duration)}
}

// record keeps the last maxTimingSamples durations of operation.
func (q *queryTimings) record(operation string, duration time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	times := q.times[operation]
	if len(times) >= maxTimingSamples {
		times = times[1:]
	}
	q.times[operation] = append(times, duration)
}

// track is used as defer q.track("op")().
func (q *queryTimings) track(operation string) func() {
	start := time.Now()
	return func() {
		q.record(operation, time.Since(start))
	}
}

// averages returns the mean duration per operation.
func (q *queryTimings) averages() map[string]time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make(map[string]time.Duration, len(q.times))
	for operation, times := range q.times {
		if len(times) == 0 {
			continue
		}
		var total time.Duration
		for _, t := range times {
			total += t
		}
		out[operation] = total / time.Duration(len(times))
	}
	return out
}
