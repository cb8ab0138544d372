package models

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobState is the lifecycle state of a download job.
// Jobs move idle -> running -> finished|cancelled|errored and never leave a
// terminal state; a retry is a new job.
type JobState string

const (
	JobIdle      JobState = "idle"
	JobRunning   JobState = "running"
	JobFinished  JobState = "finished"
	JobCancelled JobState = "cancelled"
	JobErrored   JobState = "errored"
)

// IsTerminal reports whether no further transition is allowed.
func (s JobState) IsTerminal() bool {
	return s == JobFinished || s == JobCancelled || s == JobErrored
}

// JobKind distinguishes a first download from an update.
type JobKind string

const (
	JobDownload JobKind = "download" // JobDownload covers the asset's configured range
	JobUpdate   JobKind = "update"   // JobUpdate covers [resume point, now)
)

// DownloadJob is the run-time record of one download. It is safe for
// concurrent use; readers should take a Snapshot.
type DownloadJob struct {
	mu sync.RWMutex

	ID          string       `json:"id"`
	Kind        JobKind      `json:"kind"`
	Asset       *Asset       `json:"asset"`
	Windows     []TimeWindow `json:"windows"`
	State       JobState     `json:"state"`
	PartsDone   int          `json:"parts_done"`
	PartsTotal  int          `json:"parts_total"`
	RowsWritten int          `json:"rows_written"`
	Err         error        `json:"-"`
	CreatedAt   time.Time    `json:"created_at"`
	StartedAt   time.Time    `json:"started_at,omitempty"`
	EndedAt     time.Time    `json:"ended_at,omitempty"`

	cancelRequested bool
}

// NewDownloadJob creates an idle job for asset over windows.
func NewDownloadJob(kind JobKind, asset *Asset, windows []TimeWindow) *DownloadJob {
	return &DownloadJob{
		ID:         uuid.NewString(),
		Kind:       kind,
		Asset:      asset,
		Windows:    windows,
		State:      JobIdle,
		PartsTotal: len(windows),
		CreatedAt:  time.Now().UTC(),
	}
}

// Start moves the job to running.
func (j *DownloadJob) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.State != JobIdle {
		return fmt.Errorf("cannot start job: current state is %s, expected %s", j.State, JobIdle)
	}
	j.State = JobRunning
	j.StartedAt = time.Now().UTC()
	return nil
}

// Finish marks a running job as finished.
func (j *DownloadJob) Finish() error {
	return j.end(JobFinished, nil)
}

// Cancel marks a running job as cancelled.
func (j *DownloadJob) Cancel() error {
	return j.end(JobCancelled, nil)
}

// Fail marks a running job as errored with err.
func (j *DownloadJob) Fail(err error) error {
	return j.end(JobErrored, err)
}

func (j *DownloadJob) end(state JobState, err error) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.State != JobRunning {
		return fmt.Errorf("cannot move job to %s: current state is %s, expected %s", state, j.State, JobRunning)
	}
	j.State = state
	j.Err = err
	j.EndedAt = time.Now().UTC()
	return nil
}

// RequestCancel sets the cooperative cancellation flag.
func (j *DownloadJob) RequestCancel() {
	j.mu.Lock()
	j.cancelRequested = true
	j.mu.Unlock()
}

// CancelRequested reports whether RequestCancel was called.
func (j *DownloadJob) CancelRequested() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.cancelRequested
}

// RecordPart counts one finished window and the rows it persisted.
func (j *DownloadJob) RecordPart(rows int) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.State != JobRunning {
		return fmt.Errorf("cannot record progress: job is %s", j.State)
	}
	if j.PartsDone >= j.PartsTotal {
		return fmt.Errorf("all %d parts already recorded", j.PartsTotal)
	}
	j.PartsDone++
	j.RowsWritten += rows
	return nil
}

// AdvanceWatermark moves the job asset's watermark under the job lock.
func (j *DownloadJob) AdvanceWatermark(t time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.Asset.AdvanceWatermark(t)
}

// Watermark returns a copy of the job asset's watermark.
func (j *DownloadJob) Watermark() *time.Time {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.Asset == nil || j.Asset.Watermark == nil {
		return nil
	}
	w := *j.Asset.Watermark
	return &w
}

// Progress returns (partsDone, partsTotal).
func (j *DownloadJob) Progress() (int, int) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.PartsDone, j.PartsTotal
}

// CurrentState returns the job state.
func (j *DownloadJob) CurrentState() JobState {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.State
}

// Snapshot returns a copy that is safe to read without locking.
func (j *DownloadJob) Snapshot() *DownloadJob {
	j.mu.RLock()
	defer j.mu.RUnlock()
	clone := &DownloadJob{
		ID:              j.ID,
		Kind:            j.Kind,
		Windows:         append([]TimeWindow(nil), j.Windows...),
		State:           j.State,
		PartsDone:       j.PartsDone,
		PartsTotal:      j.PartsTotal,
		RowsWritten:     j.RowsWritten,
		Err:             j.Err,
		CreatedAt:       j.CreatedAt,
		StartedAt:       j.StartedAt,
		EndedAt:         j.EndedAt,
		cancelRequested: j.cancelRequested,
	}
	if j.Asset != nil {
		clone.Asset = j.Asset.Clone()
	}
	return clone
}

// Summary returns a one-line description of the job.
func (j *DownloadJob) Summary() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	name := ""
	if j.Asset != nil {
		name = j.Asset.String()
	}
	return fmt.Sprintf("Job %s [%s] %s: %s, part %d of %d, %d rows",
		j.ID, j.Kind, name, j.State, j.PartsDone, j.PartsTotal, j.RowsWritten)
}
