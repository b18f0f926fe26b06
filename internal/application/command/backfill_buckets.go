package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/alem-hub/questpoints/internal/domain/course"
	"github.com/alem-hub/questpoints/internal/domain/ledger"
	"github.com/alem-hub/questpoints/internal/domain/shared"
	"github.com/alem-hub/questpoints/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// BACKFILL BUCKETS COMMAND
// Writes an explicit module and week onto legacy transactions, using the
// same heuristics the summary applies on display. Rows that only resolve
// through the first-module fallback are reported and left alone unless
// IncludeFallback is set. Every student with a rewritten row gets one
// points.adjusted event so derived views drop their old bucketing.
// ══════════════════════════════════════════════════════════════════════════════

// BackfillBucketsCommand contains the backfill parameters.
type BackfillBucketsCommand struct {
	SubjectID shared.SubjectID
	BatchSize int
	DryRun    bool

	// IncludeFallback also writes rows that matched no question and no week.
	IncludeFallback bool
}

// BackfillChange describes one classified row.
type BackfillChange struct {
	TransactionID shared.TransactionID
	StudentID     shared.StudentID
	Category      ledger.Category
	ModuleID      shared.ModuleID
	WeekNumber    int
	Source        ledger.BucketSource
	Applied       bool

	// Points of the row, unchanged by the backfill.
	Points int
}

// BackfillBucketsResult summarizes a run.
type BackfillBucketsResult struct {
	Changes []BackfillChange
	Applied int
	Skipped int
}

// BackfillBucketsHandler handles BackfillBucketsCommand.
type BackfillBucketsHandler struct {
	ledger    ledger.Repository
	modules   course.Directory
	publisher shared.EventPublisher
	logger    *logger.Logger
}

// backfillActor is the adjusted_by of events raised by a backfill.
const backfillActor = "backfill"

// NewBackfillBucketsHandler creates a new BackfillBucketsHandler.
func NewBackfillBucketsHandler(repo ledger.Repository, modules course.Directory, publisher shared.EventPublisher, log *logger.Logger) *BackfillBucketsHandler {
	if publisher == nil {
		publisher = shared.NoopPublisher{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &BackfillBucketsHandler{
		ledger:    repo,
		modules:   modules,
		publisher: publisher,
		logger:    log.With(logger.Component("backfill")),
	}
}

// Handle executes the command. A dry run classifies a single batch.
func (h *BackfillBucketsHandler) Handle(ctx context.Context, cmd BackfillBucketsCommand) (*BackfillBucketsResult, error) {
	if cmd.BatchSize <= 0 {
		cmd.BatchSize = 500
	}
	modules, err := h.modules.ListModulesForSubject(ctx, cmd.SubjectID)
	if err != nil {
		return nil, fmt.Errorf("backfill: list modules: %w", err)
	}
	if len(modules) == 0 {
		return nil, shared.NewDomainError("course", "Backfill", shared.ErrNotFound, "subject has no modules")
	}
	bucketer := ledger.NewBucketer(modules, ledger.WithLegacyWeekParsing(true))

	result, err := h.run(ctx, cmd, bucketer)
	h.announce(result)
	return result, err
}

func (h *BackfillBucketsHandler) run(ctx context.Context, cmd BackfillBucketsCommand, bucketer *ledger.Bucketer) (*BackfillBucketsResult, error) {
	result := &BackfillBucketsResult{}
	seen := make(map[shared.TransactionID]bool)
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		batch, err := h.ledger.ListWithoutModule(ctx, cmd.BatchSize)
		if err != nil {
			return result, fmt.Errorf("backfill: list rows: %w", err)
		}

		applied := 0
		for _, t := range batch {
			if seen[t.ID] {
				continue
			}
			seen[t.ID] = true
			change, ok := h.classify(bucketer, t)
			if !ok {
				result.Skipped++
				continue
			}
			write := !cmd.DryRun && (change.Source != ledger.SourceFallback || cmd.IncludeFallback)
			if write {
				err := h.ledger.SetBucket(ctx, t.ID, change.ModuleID, change.WeekNumber, t.Version)
				switch {
				case err == nil:
					change.Applied = true
					change.Points = t.Points.Int()
					applied++
				case errors.Is(err, shared.ErrOptimisticLock):
					// Edited meanwhile; the next batch sees the new version.
				default:
					return result, fmt.Errorf("backfill: set bucket %s: %w", t.ID, err)
				}
			}
			if !change.Applied {
				result.Skipped++
			}
			result.Changes = append(result.Changes, change)
			h.logger.Info("backfill row",
				logger.TransactionID(t.ID.String()),
				logger.ModuleID(change.ModuleID.String()),
				logger.Int("week", change.WeekNumber),
				logger.String("source", string(change.Source)),
				logger.Bool("applied", change.Applied),
			)
		}
		result.Applied += applied

		if cmd.DryRun || applied == 0 || len(batch) < cmd.BatchSize {
			return result, nil
		}
	}
}

// announce publishes one points.adjusted per student with an applied row,
// including rows applied before a run failed.
func (h *BackfillBucketsHandler) announce(result *BackfillBucketsResult) {
	if result == nil {
		return
	}
	done := make(map[shared.StudentID]bool)
	for _, c := range result.Changes {
		if !c.Applied || done[c.StudentID] {
			continue
		}
		done[c.StudentID] = true
		event := shared.NewPointsAdjustedEvent(c.StudentID.String(), c.TransactionID.String(), c.Points, c.Points, backfillActor)
		if err := h.publisher.Publish(event); err != nil {
			h.logger.Warn("publish points.adjusted failed",
				logger.StudentID(c.StudentID.String()),
				logger.Err(err),
			)
		}
	}
}

// classify resolves the bucket of t. Rows landing in an empty slot have no
// real module and cannot be backfilled.
func (h *BackfillBucketsHandler) classify(b *ledger.Bucketer, t *ledger.Transaction) (BackfillChange, bool) {
	bucket, ok := b.Bucket(t)
	if !ok || b.SlotOf(bucket.ModuleID) < 0 || isEmptySlot(bucket.ModuleID, bucket.Slot) {
		return BackfillChange{}, false
	}
	week := t.WeekNumber
	if week == 0 {
		if w, ok := ledger.ParseWeek(t.Reason); ok {
			week = w
		}
	}
	return BackfillChange{
		TransactionID: t.ID,
		StudentID:     t.StudentID,
		Category:      t.Category,
		ModuleID:      bucket.ModuleID,
		WeekNumber:    week,
		Source:        bucket.Source,
	}, true
}

func isEmptySlot(id shared.ModuleID, slot int) bool {
	return id == ledger.EmptySlotID(slot)
}
