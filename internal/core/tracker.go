package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"landslide_service/internal/cache"
	"landslide_service/internal/domain/model"
)

// DetectionClient talks to the external landslide analysis service.
type DetectionClient interface {
	Submit(ctx context.Context, coord model.Coordinate) (string, error)
	GetStatus(ctx context.Context, jobID string) (model.DetectionUpdate, error)
}

// TrackerConfig bounds the lifetime of a tracked job. Zero fields fall
// back to the defaults.
type TrackerConfig struct {
	// PollInterval is the fixed delay between status checks for one job.
	PollInterval time.Duration
	// MaxPollAttempts caps status checks per job; exhausting it makes
	// the job TimedOut.
	MaxPollAttempts int
	// MaxConsecutiveFailures caps back-to-back failed status checks
	// (transport errors, malformed payloads) before the job is Failed.
	// This separates "the remote is down" from "the remote said no".
	MaxConsecutiveFailures int
	// StatusTTL is how long one status response is served from cache,
	// absorbing duplicate near-simultaneous polls from multiple
	// observers of the same job.
	StatusTTL time.Duration
}

func (c TrackerConfig) withDefaults() TrackerConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.MaxPollAttempts <= 0 {
		c.MaxPollAttempts = 30
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = 3
	}
	if c.StatusTTL < 0 {
		c.StatusTTL = 0
	}
	return c
}

type trackedJob struct {
	mu     sync.Mutex
	job    model.DetectionJob
	cancel context.CancelFunc
	done   chan struct{}
}

func (t *trackedJob) snapshot() model.DetectionJob {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.job
}

// Tracker owns the full lifecycle of detection jobs: submission, the
// per-job poll loop, and the last-known snapshot surface. Each tracked
// job runs exactly one context-scoped goroutine; a terminal state or
// Stop cancels it and no further status checks are issued.
type Tracker struct {
	cfg    TrackerConfig
	client DetectionClient
	cache  *cache.Cache[model.DetectionUpdate]
	feed   *DetectionFeed

	mu   sync.Mutex
	jobs map[string]*trackedJob

	ctx     context.Context
	cancel  context.CancelFunc
	loops   sync.WaitGroup
	stopped bool
}

// NewTracker builds a tracker. The cache collapses duplicate status
// checks per job id; feed may be nil when detections have no consumer.
func NewTracker(client DetectionClient, statusCache *cache.Cache[model.DetectionUpdate], feed *DetectionFeed, cfg TrackerConfig) *Tracker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Tracker{
		cfg:    cfg.withDefaults(),
		client: client,
		cache:  statusCache,
		feed:   feed,
		jobs:   make(map[string]*trackedJob),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Submit forwards the coordinate to the detection service and starts
// tracking the returned job id. On transport or non-2xx failure no job
// record is created; callers must not assume one exists.
func (t *Tracker) Submit(ctx context.Context, coord model.Coordinate) (string, error) {
	id, err := t.client.Submit(ctx, coord)
	if err != nil {
		return "", fmt.Errorf("submit detection job: %w", err)
	}
	t.Track(id, coord)
	log.Info().Str("jobId", id).Float64("lat", coord.Lat).Float64("lng", coord.Lng).
		Msg("detection job submitted")
	return id, nil
}

// Track registers a job id for polling. Tracking an id that is already
// tracked is a no-op: the job id is the deduplication key for
// in-flight work, and a second poll loop is never started.
func (t *Tracker) Track(id string, coord model.Coordinate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	if _, ok := t.jobs[id]; ok {
		return
	}

	ctx, cancel := context.WithCancel(t.ctx)
	j := &trackedJob{
		job: model.DetectionJob{
			ID:          id,
			Coordinate:  coord,
			SubmittedAt: time.Now().UTC(),
			State:       model.JobProcessing,
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	t.jobs[id] = j

	t.loops.Add(1)
	go t.run(ctx, j)
}

// Status returns the last-known snapshot of a job without forcing a
// new poll. Unknown ids yield ErrNotFound; terminal jobs stay
// observable, they never silently disappear.
func (t *Tracker) Status(id string) (model.DetectionJob, error) {
	t.mu.Lock()
	j, ok := t.jobs[id]
	t.mu.Unlock()
	if !ok {
		return model.DetectionJob{}, fmt.Errorf("job %s: %w", id, model.ErrNotFound)
	}
	return j.snapshot(), nil
}

// Done exposes a channel closed when the job reaches a terminal state.
func (t *Tracker) Done(id string) (<-chan struct{}, error) {
	t.mu.Lock()
	j, ok := t.jobs[id]
	t.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, model.ErrNotFound)
	}
	return j.done, nil
}

// Stop cancels every poll loop and waits for them to exit. Job
// snapshots remain readable afterwards.
func (t *Tracker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
	t.cancel()
	t.loops.Wait()
}

// run is the poll loop for one job. Checks are strictly sequential:
// the next tick is not consumed until the previous check returned.
func (t *Tracker) run(ctx context.Context, j *trackedJob) {
	defer t.loops.Done()
	defer close(j.done)
	defer j.cancel()

	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	consecutiveFailures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		update, err := t.checkStatus(ctx, j.job.ID)
		if terminal := t.apply(j, update, err, &consecutiveFailures); terminal {
			return
		}
	}
}

// checkStatus performs one status check through the response cache so
// that near-simultaneous observers share a single remote call.
func (t *Tracker) checkStatus(ctx context.Context, id string) (model.DetectionUpdate, error) {
	return t.cache.GetOrCompute("detection-status:"+id, t.cfg.StatusTTL, func() (model.DetectionUpdate, error) {
		return t.client.GetStatus(ctx, id)
	})
}

// apply folds one status-check outcome into the job state machine and
// reports whether a terminal state was reached.
func (t *Tracker) apply(j *trackedJob, update model.DetectionUpdate, err error, consecutiveFailures *int) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.job.PollAttempts++

	if err != nil {
		*consecutiveFailures++
		log.Warn().Err(err).Str("jobId", j.job.ID).
			Int("consecutiveFailures", *consecutiveFailures).
			Msg("detection status check failed")
		if *consecutiveFailures >= t.cfg.MaxConsecutiveFailures {
			t.finishLocked(j, model.JobFailed, fmt.Sprintf("status checks failed %d times in a row: %v", *consecutiveFailures, err))
			return true
		}
		return false
	}
	*consecutiveFailures = 0

	switch update.Kind {
	case model.UpdateSucceeded:
		j.job.Detected = update.Detected
		j.job.ResultCoordinates = update.Coordinates
		t.finishLocked(j, model.JobSucceeded, "")
		if update.Detected && t.feed != nil {
			t.feed.Add(j.job.Coordinate)
		}
		return true
	case model.UpdateFailed:
		t.finishLocked(j, model.JobFailed, update.Reason)
		return true
	default:
		if j.job.PollAttempts >= t.cfg.MaxPollAttempts {
			t.finishLocked(j, model.JobTimedOut, model.ErrPollBudgetExhausted.Error())
			return true
		}
		return false
	}
}

// finishLocked records the terminal transition exactly once. Caller
// holds j.mu.
func (t *Tracker) finishLocked(j *trackedJob, state model.JobState, reason string) {
	now := time.Now().UTC()
	j.job.State = state
	j.job.FailureReason = reason
	j.job.CompletedAt = &now

	evt := log.Info().Str("jobId", j.job.ID).Str("state", string(state)).
		Int("pollAttempts", j.job.PollAttempts)
	if reason != "" {
		evt = evt.Str("reason", reason)
	}
	evt.Msg("detection job finished")
}
