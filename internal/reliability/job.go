package reliability

import (
	"context"
	"time"
)

// SnapshotJob runs a snapshot followed by retention pruning on the backup
// schedule.
type SnapshotJob struct {
	service *SnapshotService
	timeout time.Duration
}

// NewSnapshotJob creates the scheduled snapshot job.
func NewSnapshotJob(service *SnapshotService, timeout time.Duration) *SnapshotJob {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &SnapshotJob{service: service, timeout: timeout}
}

// Name implements scheduler.Job.
func (j *SnapshotJob) Name() string { return "snapshot-backup" }

// Run implements scheduler.Job.
func (j *SnapshotJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	if err := j.service.CreateSnapshot(ctx); err != nil {
		return err
	}
	return j.service.Prune(ctx)
}
