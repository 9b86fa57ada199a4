package refresh

import (
	"context"
	"errors"
	"time"
)

// Job adapts the runner to the scheduler. The nightly run never forces a
// re-download; extracts fresher than the cache TTL are reused.
type Job struct {
	runner   *Runner
	notifier Notifier
	timeout  time.Duration
}

// NewJob creates the scheduled refresh job. notifier may be nil.
func NewJob(runner *Runner, notifier Notifier, timeout time.Duration) *Job {
	if timeout <= 0 {
		timeout = 2 * time.Hour
	}
	return &Job{runner: runner, notifier: notifier, timeout: timeout}
}

// Name implements scheduler.Job.
func (j *Job) Name() string { return "data-refresh" }

// Run implements scheduler.Job.
func (j *Job) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	_, err := j.runner.Run(ctx, false, j.notifier)
	if errors.Is(err, ErrAlreadyRunning) {
		return nil
	}
	return err
}
