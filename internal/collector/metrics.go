package collector

import (
	"sync/atomic"
	"time"
)

// Metrics is a point-in-time view of the orchestrator counters.
type Metrics struct {
	JobsStarted       int64         `json:"jobs_started"`
	JobsFinished      int64         `json:"jobs_finished"`
	JobsCancelled     int64         `json:"jobs_cancelled"`
	JobsErrored       int64         `json:"jobs_errored"`
	WindowsFetched    int64         `json:"windows_fetched"`
	FetchErrors       int64         `json:"fetch_errors"`
	RowsWritten       int64         `json:"rows_written"`
	DuplicatesDropped int64         `json:"duplicates_dropped"`
	AvgFetchTime      time.Duration `json:"avg_fetch_time"`
	Uptime            time.Duration `json:"uptime"`
}

// metricsCollector tracks job statistics
type metricsCollector struct {
	jobsStarted       int64
	jobsFinished      int64
	jobsCancelled     int64
	jobsErrored       int64
	windowsFetched    int64
	fetchErrors       int64
	rowsWritten       int64
	duplicatesDropped int64

	// Response time tracking
	totalFetchTime int64 // nanoseconds
	fetchCount     int64

	startTime time.Time
}

func newMetricsCollector() *metricsCollector {
	return &metricsCollector{startTime: time.Now()}
}

func (m *metricsCollector) recordJobStarted()   { atomic.AddInt64(&m.jobsStarted, 1) }
func (m *metricsCollector) recordJobFinished()  { atomic.AddInt64(&m.jobsFinished, 1) }
func (m *metricsCollector) recordJobCancelled() { atomic.AddInt64(&m.jobsCancelled, 1) }
func (m *metricsCollector) recordJobErrored()   { atomic.AddInt64(&m.jobsErrored, 1) }

// recordFetch records one window request and its outcome
func (m *metricsCollector) recordFetch(duration time.Duration, err error) {
	atomic.AddInt64(&m.totalFetchTime, duration.Nanoseconds())
	atomic.AddInt64(&m.fetchCount, 1)
	if err != nil {
		atomic.AddInt64(&m.fetchErrors, 1)
		return
	}
	atomic.AddInt64(&m.windowsFetched, 1)
}

func (m *metricsCollector) recordRows(count int) {
	atomic.AddInt64(&m.rowsWritten, int64(count))
}

func (m *metricsCollector) recordDuplicates(count int) {
	if count > 0 {
		atomic.AddInt64(&m.duplicatesDropped, int64(count))
	}
}

func (m *metricsCollector) snapshot() Metrics {
	out := Metrics{
		JobsStarted:       atomic.LoadInt64(&m.jobsStarted),
		JobsFinished:      atomic.LoadInt64(&m.jobsFinished),
		JobsCancelled:     atomic.LoadInt64(&m.jobsCancelled),
		JobsErrored:       atomic.LoadInt64(&m.jobsErrored),
		WindowsFetched:    atomic.LoadInt64(&m.windowsFetched),
		FetchErrors:       atomic.LoadInt64(&m.fetchErrors),
		RowsWritten:       atomic.LoadInt64(&m.rowsWritten),
		DuplicatesDropped: atomic.LoadInt64(&m.duplicatesDropped),
		Uptime:            time.Since(m.startTime),
	}
	if count := atomic.LoadInt64(&m.fetchCount); count > 0 {
		out.AvgFetchTime = time.Duration(atomic.LoadInt64(&m.totalFetchTime) / count)
	}
	return out
}
