package collector

import (
	"sync/atomic"
	"time"
)

// Progress is a point-in-time view of a sync run.
type Progress struct {
	TradesStored  int64
	PagesFetched  int64
	BatchesStored int64
	PairsDone     int64
	PairsFailed   int64
	Elapsed       time.Duration
}

// TradesPerSecond returns the average store rate since the run started.
func (p Progress) TradesPerSecond() float64 {
	if p.Elapsed <= 0 {
		return 0
	}
	return float64(p.TradesStored) / p.Elapsed.Seconds()
}

// progressTracker counts run-wide totals across the per-pair goroutines.
type progressTracker struct {
	tradesStored  atomic.Int64
	pagesFetched  atomic.Int64
	batchesStored atomic.Int64
	pairsDone     atomic.Int64
	pairsFailed   atomic.Int64

	startTime atomic.Int64 // unix nanos
}

func newProgressTracker() *progressTracker {
	p := &progressTracker{}
	p.reset()
	return p
}

func (p *progressTracker) recordBatch(trades int) {
	p.tradesStored.Add(int64(trades))
	p.batchesStored.Add(1)
}

func (p *progressTracker) recordPages(pages int) {
	p.pagesFetched.Add(int64(pages))
}

func (p *progressTracker) recordPair(err error) {
	if err != nil {
		p.pairsFailed.Add(1)
		return
	}
	p.pairsDone.Add(1)
}

func (p *progressTracker) snapshot() Progress {
	return Progress{
		TradesStored:  p.tradesStored.Load(),
		PagesFetched:  p.pagesFetched.Load(),
		BatchesStored: p.batchesStored.Load(),
		PairsDone:     p.pairsDone.Load(),
		PairsFailed:   p.pairsFailed.Load(),
		Elapsed:       time.Since(time.Unix(0, p.startTime.Load())),
	}
}

func (p *progressTracker) reset() {
	p.tradesStored.Store(0)
	p.pagesFetched.Store(0)
	p.batchesStored.Store(0)
	p.pairsDone.Store(0)
	p.pairsFailed.Store(0)
	p.startTime.Store(time.Now().UnixNano())
}
