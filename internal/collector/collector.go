// Package collector runs download jobs. A job walks its planned windows in
// order, fetches each one from the asset's exchange, appends the new rows to
// the asset log and reports progress over a single event channel.
//
// At most one job runs per asset identity. Cancellation is cooperative and
// checked between windows, so an in-flight request always completes. Nothing
// is retried: a failed window ends the job and the rows persisted so far
// become the resume point of the next one.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/johnayoung/go-ohlcv-downloader/internal/config"
	"github.com/johnayoung/go-ohlcv-downloader/internal/errors"
	"github.com/johnayoung/go-ohlcv-downloader/internal/exchange"
	"github.com/johnayoung/go-ohlcv-downloader/internal/logger"
	"github.com/johnayoung/go-ohlcv-downloader/internal/models"
	"github.com/johnayoung/go-ohlcv-downloader/internal/planner"
	"github.com/johnayoung/go-ohlcv-downloader/internal/storage"
)

const (
	defaultEventBuffer = 64

	// jobHistory is how many terminal jobs stay visible to Job and Wait.
	jobHistory = 256
)

// EventKind identifies an orchestrator event.
type EventKind string

const (
	EventProgress  EventKind = "progress"
	EventFinished  EventKind = "finished"
	EventCancelled EventKind = "cancelled"
	EventErrored   EventKind = "errored"
)

// Event reports job progress or a terminal state.
type Event struct {
	Kind     EventKind
	JobID    string
	AssetKey string

	// Part is the 1-based index of the window just completed; Total is the
	// number of planned windows.
	Part  int
	Total int

	// Rows persisted by this window (progress) or by the whole job (terminal).
	Rows      int
	Watermark *time.Time
	Err       error
	Time      time.Time
}

// IsTerminal reports whether the event ends its job.
func (e Event) IsTerminal() bool {
	return e.Kind != EventProgress
}

type jobHandle struct {
	job  *models.DownloadJob
	done chan struct{}
}

// Orchestrator runs download jobs.
type Orchestrator struct {
	registry exchange.Registry
	log      storage.AssetLog
	pacing   time.Duration
	logger   *slog.Logger

	events chan Event

	mu      sync.Mutex
	running map[string]*jobHandle // keyed by asset identity
	jobs    map[string]*jobHandle // keyed by job ID
	ended   []string              // terminal job IDs, oldest first
	history int

	metrics *metricsCollector
	wg      sync.WaitGroup
}

// New creates an orchestrator. cfg.PacingDelay is the minimum time between
// two requests of the same job; the configuration layer enforces its lower
// bound.
func New(registry exchange.Registry, log storage.AssetLog, cfg config.AcquisitionConfig, lg *slog.Logger) *Orchestrator {
	if lg == nil {
		lg = logger.Discard()
	}
	pacing := cfg.PacingDelay
	if pacing <= 0 {
		pacing = config.MinPacingDelay
	}
	buffer := cfg.EventBuffer
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	return &Orchestrator{
		registry: registry,
		log:      log,
		pacing:   pacing,
		logger:   lg,
		events:   make(chan Event, buffer),
		running:  make(map[string]*jobHandle),
		jobs:     make(map[string]*jobHandle),
		history:  jobHistory,
		metrics:  newMetricsCollector(),
	}
}

// Events returns the event channel. It has a single consumer, which must
// keep draining it while jobs run.
func (o *Orchestrator) Events() <-chan Event {
	return o.events
}

// Download starts downloading the asset's configured range. The asset file is
// created when missing. When rows are already persisted the download resumes
// after the watermark, and an asset whose range is complete is rejected.
func (o *Orchestrator) Download(ctx context.Context, asset *models.Asset) (*models.DownloadJob, error) {
	adapter, err := o.adapterFor(asset)
	if err != nil {
		return nil, err
	}

	asset = asset.Clone()
	if !o.log.Exists(asset) {
		if _, err := o.log.Create(ctx, asset); err != nil {
			return nil, err
		}
	}
	watermark, err := o.log.ReadWatermark(ctx, asset)
	if err != nil {
		return nil, err
	}
	asset.Watermark = watermark

	if asset.HasData() && !asset.ResumePoint().Before(asset.RangeEnd) {
		return nil, errors.NewAlreadyExistsError(fmt.Sprintf("complete download of %s", asset))
	}

	windows, err := planner.Remaining(asset, asset.RangeEnd, adapter.Profile().MaxRequestUnits)
	if err != nil {
		return nil, err
	}
	return o.start(ctx, models.JobDownload, asset, windows)
}

// Update downloads everything after the watermark up to now, truncated to the
// asset's resolution. An asset with no persisted rows cannot be updated. When
// nothing new is due the job finishes immediately.
func (o *Orchestrator) Update(ctx context.Context, asset *models.Asset, now time.Time) (*models.DownloadJob, error) {
	adapter, err := o.adapterFor(asset)
	if err != nil {
		return nil, err
	}

	asset = asset.Clone()
	watermark, err := o.log.ReadWatermark(ctx, asset)
	if err != nil {
		return nil, err
	}
	if watermark == nil {
		return nil, errors.NewNotFoundError(fmt.Sprintf("downloaded data for %s", asset))
	}
	asset.Watermark = watermark

	end := asset.Resolution.Truncate(now)
	if end.After(asset.RangeEnd) {
		asset.RangeEnd = end
	}

	windows, err := planner.Remaining(asset, end, adapter.Profile().MaxRequestUnits)
	if err != nil {
		return nil, err
	}
	return o.start(ctx, models.JobUpdate, asset, windows)
}

// Start runs a download of windows for asset. The windows must be ordered and
// contiguous, and the asset file must exist. Rows at or before the persisted
// watermark are dropped.
func (o *Orchestrator) Start(ctx context.Context, asset *models.Asset, windows []models.TimeWindow) (*models.DownloadJob, error) {
	if _, err := o.adapterFor(asset); err != nil {
		return nil, err
	}
	for i, w := range windows {
		if w.IsEmpty() {
			return nil, errors.NewConfigurationError("window %d %s is empty", i, w)
		}
		if i > 0 && !w.From.Equal(windows[i-1].To) {
			return nil, errors.NewConfigurationError("window %d %s does not follow %s", i, w, windows[i-1])
		}
	}

	asset = asset.Clone()
	watermark, err := o.log.ReadWatermark(ctx, asset)
	if err != nil {
		return nil, err
	}
	asset.Watermark = watermark
	return o.start(ctx, models.JobDownload, asset, windows)
}

func (o *Orchestrator) adapterFor(asset *models.Asset) (exchange.Adapter, error) {
	adapter, err := o.registry.Get(asset.Exchange)
	if err != nil {
		return nil, err
	}
	if !adapter.Profile().Supports(asset.Resolution) {
		return nil, errors.NewConfigurationError("%s does not support %s candles", adapter.Profile().Name, asset.Resolution)
	}
	return adapter, nil
}

// start registers the job under the asset identity and spawns its worker. It
// returns a snapshot of the running job.
func (o *Orchestrator) start(ctx context.Context, kind models.JobKind, asset *models.Asset, windows []models.TimeWindow) (*models.DownloadJob, error) {
	adapter, err := o.registry.Get(asset.Exchange)
	if err != nil {
		return nil, err
	}

	job := models.NewDownloadJob(kind, asset, windows)
	handle := &jobHandle{job: job, done: make(chan struct{})}

	o.mu.Lock()
	if current, ok := o.running[asset.Key()]; ok {
		o.mu.Unlock()
		return nil, errors.NewAlreadyExistsError(fmt.Sprintf("running job %s for %s", current.job.ID, asset.Key()))
	}
	if err := job.Start(); err != nil {
		o.mu.Unlock()
		return nil, err
	}
	o.running[asset.Key()] = handle
	o.jobs[job.ID] = handle
	o.mu.Unlock()

	snapshot := job.Snapshot()
	o.metrics.recordJobStarted()
	o.wg.Add(1)
	go o.run(ctx, handle, adapter)
	return snapshot, nil
}

// run is the job worker.
func (o *Orchestrator) run(ctx context.Context, h *jobHandle, adapter exchange.Adapter) {
	defer o.wg.Done()
	defer close(h.done)

	job := h.job
	key := job.Asset.Key()
	ctx = logger.WithJobID(ctx, job.ID)
	ctx = logger.WithExchange(ctx, job.Asset.Exchange)
	ctx = logger.WithAsset(ctx, key)
	log := logger.FromContext(ctx, o.logger)

	log.Info("job started",
		"kind", job.Kind,
		"windows", len(job.Windows),
		"watermark", formatWatermark(job.Watermark()))

	state, err := o.process(ctx, job, adapter, log)

	o.mu.Lock()
	delete(o.running, key)
	o.retire(job.ID)
	o.mu.Unlock()

	event := Event{JobID: job.ID, AssetKey: key, Time: time.Now().UTC()}
	switch state {
	case models.JobFinished:
		_ = job.Finish()
		o.metrics.recordJobFinished()
		event.Kind = EventFinished
		log.Info("job finished", "summary", job.Summary())
	case models.JobCancelled:
		_ = job.Cancel()
		o.metrics.recordJobCancelled()
		event.Kind = EventCancelled
		log.Info("job cancelled", "summary", job.Summary())
	default:
		_ = job.Fail(err)
		o.metrics.recordJobErrored()
		event.Kind = EventErrored
		event.Err = err
		logger.LogError(log, err, "job failed", "summary", job.Summary())
	}
	done, total := job.Progress()
	event.Part, event.Total = done, total
	event.Rows = job.Snapshot().RowsWritten
	event.Watermark = job.Watermark()
	o.events <- event
}

// process walks the windows and returns the terminal state to apply.
func (o *Orchestrator) process(ctx context.Context, job *models.DownloadJob, adapter exchange.Adapter, log *slog.Logger) (models.JobState, error) {
	pacer := rate.NewLimiter(rate.Every(o.pacing), 1)
	total := len(job.Windows)

	for i, window := range job.Windows {
		if job.CancelRequested() || ctx.Err() != nil {
			return models.JobCancelled, nil
		}
		if err := pacer.Wait(ctx); err != nil {
			return models.JobCancelled, nil
		}
		if job.CancelRequested() {
			return models.JobCancelled, nil
		}

		start := time.Now()
		rows, err := adapter.FetchCandles(ctx, exchange.FetchRequest{
			Pair:       job.Asset.Pair(),
			Resolution: job.Asset.Resolution,
			Window:     window,
		})
		o.metrics.recordFetch(time.Since(start), err)
		if err != nil {
			if ctx.Err() != nil {
				return models.JobCancelled, nil
			}
			return models.JobErrored, fmt.Errorf("window %d of %d %s: %w", i+1, total, window, err)
		}

		fresh := newerThan(rows, job.Watermark())
		o.metrics.recordDuplicates(len(rows) - len(fresh))
		if len(fresh) > 0 {
			if err := o.log.Append(ctx, job.Asset, fresh); err != nil {
				return models.JobErrored, fmt.Errorf("window %d of %d %s: %w", i+1, total, window, err)
			}
			if err := job.AdvanceWatermark(fresh[len(fresh)-1].Time); err != nil {
				return models.JobErrored, err
			}
		}
		if err := job.RecordPart(len(fresh)); err != nil {
			return models.JobErrored, err
		}
		o.metrics.recordRows(len(fresh))

		log.Debug("window completed",
			"part", i+1,
			"total", total,
			"window", window.String(),
			"rows", len(fresh))

		o.events <- Event{
			Kind:      EventProgress,
			JobID:     job.ID,
			AssetKey:  job.Asset.Key(),
			Part:      i + 1,
			Total:     total,
			Rows:      len(fresh),
			Watermark: job.Watermark(),
			Time:      time.Now().UTC(),
		}
	}
	return models.JobFinished, nil
}

// retire records a terminal job and forgets the oldest ones beyond the
// history limit. o.mu must be held.
func (o *Orchestrator) retire(id string) {
	o.ended = append(o.ended, id)
	for len(o.ended) > o.history {
		delete(o.jobs, o.ended[0])
		o.ended = o.ended[1:]
	}
}

// newerThan keeps the rows strictly after watermark and strictly increasing.
func newerThan(rows []models.CandleRow, watermark *time.Time) []models.CandleRow {
	fresh := make([]models.CandleRow, 0, len(rows))
	var last time.Time
	if watermark != nil {
		last = *watermark
	}
	for _, row := range rows {
		if (watermark != nil || len(fresh) > 0) && !row.Time.After(last) {
			continue
		}
		fresh = append(fresh, row)
		last = row.Time
	}
	return fresh
}

// Cancel asks the running job of the asset identified by assetKey to stop
// before its next window. It reports whether such a job was running.
func (o *Orchestrator) Cancel(assetKey string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	h, ok := o.running[assetKey]
	if !ok {
		return false
	}
	h.job.RequestCancel()
	return true
}

// CancelAll asks every running job to stop.
func (o *Orchestrator) CancelAll() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, h := range o.running {
		h.job.RequestCancel()
	}
	return len(o.running)
}

// IsRunning reports whether a job is running for assetKey.
func (o *Orchestrator) IsRunning(assetKey string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.running[assetKey]
	return ok
}

// Job returns a snapshot of the job with the given ID. Only the most recent
// terminal jobs are kept.
func (o *Orchestrator) Job(id string) (*models.DownloadJob, error) {
	o.mu.Lock()
	h, ok := o.jobs[id]
	o.mu.Unlock()
	if !ok {
		return nil, errors.NewNotFoundError("job " + id)
	}
	return h.job.Snapshot(), nil
}

// Wait blocks until the job reaches a terminal state and returns its
// snapshot. The event consumer must keep draining Events meanwhile.
func (o *Orchestrator) Wait(ctx context.Context, id string) (*models.DownloadJob, error) {
	o.mu.Lock()
	h, ok := o.jobs[id]
	o.mu.Unlock()
	if !ok {
		return nil, errors.NewNotFoundError("job " + id)
	}
	select {
	case <-h.done:
		return h.job.Snapshot(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Shutdown cancels every running job and waits for the workers to exit.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.CancelAll()
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		o.logger.Warn("orchestrator shutdown timed out", "error", ctx.Err())
		return ctx.Err()
	}
}

// Metrics returns a snapshot of the orchestrator counters.
func (o *Orchestrator) Metrics() Metrics {
	return o.metrics.snapshot()
}

func formatWatermark(t *time.Time) string {
	if t == nil {
		return "none"
	}
	return t.Format(models.TimestampLayout)
}
