// Package jobs contains the scheduled maintenance jobs.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/questpoints/internal/application/command"
	"github.com/alem-hub/questpoints/internal/domain/shared"
	"github.com/alem-hub/questpoints/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// BACKFILL BUCKETS JOB
// Periodically writes explicit module and week numbers onto legacy ledger
// rows, subject by subject. Fallback-only rows are never written here.
// ══════════════════════════════════════════════════════════════════════════════

// Backfiller runs one backfill pass. *command.BackfillBucketsHandler
// satisfies it.
type Backfiller interface {
	Handle(ctx context.Context, cmd command.BackfillBucketsCommand) (*command.BackfillBucketsResult, error)
}

// BackfillBucketsConfig contains configuration for the job.
type BackfillBucketsConfig struct {
	Subjects  []shared.SubjectID
	BatchSize int

	// Timeout bounds one run across all subjects.
	Timeout time.Duration
}

// BackfillBucketsJob is the scheduled form of cmd/backfill.
type BackfillBucketsJob struct {
	backfiller Backfiller
	config     BackfillBucketsConfig
	logger     *logger.Logger
}

// NewBackfillBucketsJob creates the job.
func NewBackfillBucketsJob(backfiller Backfiller, config BackfillBucketsConfig, log *logger.Logger) *BackfillBucketsJob {
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Minute
	}
	if log == nil {
		log = logger.Nop()
	}
	return &BackfillBucketsJob{backfiller: backfiller, config: config, logger: log}
}

// Name implements scheduler.Job.
func (j *BackfillBucketsJob) Name() string { return "backfill_buckets" }

// Run implements scheduler.Job. A subject without modules is logged and
// skipped; any other error stops the run.
func (j *BackfillBucketsJob) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	for _, subject := range j.config.Subjects {
		res, err := j.backfiller.Handle(ctx, command.BackfillBucketsCommand{
			SubjectID: subject,
			BatchSize: j.config.BatchSize,
		})
		if shared.IsNotFound(err) {
			j.logger.Warn("backfill skipped subject", logger.String("subject", subject.String()), logger.Err(err))
			continue
		}
		if err != nil {
			return fmt.Errorf("backfill %s: %w", subject, err)
		}
		if res.Applied > 0 {
			j.logger.Info("backfill applied",
				logger.String("subject", subject.String()),
				logger.Int("applied", res.Applied),
				logger.Int("skipped", res.Skipped),
			)
		}
	}
	return nil
}
