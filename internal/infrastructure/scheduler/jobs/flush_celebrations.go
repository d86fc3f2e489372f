package jobs

import (
	"context"
	"log/slog"
)

// CelebrationFlusher releases celebrations whose cooldown has passed.
type CelebrationFlusher interface {
	Flush() (int, error)
}

// FlushCelebrationsJob implements scheduler.Job. It should run at least as
// often as the celebration cooldown.
type FlushCelebrationsJob struct {
	flusher CelebrationFlusher
	logger  *slog.Logger
}

// NewFlushCelebrationsJob creates the job.
func NewFlushCelebrationsJob(flusher CelebrationFlusher, logger *slog.Logger) *FlushCelebrationsJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &FlushCelebrationsJob{flusher: flusher, logger: logger.With("job", "flush_celebrations")}
}

// Name implements scheduler.Job.
func (j *FlushCelebrationsJob) Name() string { return "flush_celebrations" }

// Description implements scheduler.Job.
func (j *FlushCelebrationsJob) Description() string {
	return "publish celebrations held back by the per-child cooldown"
}

// Run implements scheduler.Job.
func (j *FlushCelebrationsJob) Run(ctx context.Context) error {
	n, err := j.flusher.Flush()
	if n > 0 {
		j.logger.Debug("celebrations released", "count", n)
	}
	return err
}
