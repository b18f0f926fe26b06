// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/questpoints/internal/domain/course"
	"github.com/alem-hub/questpoints/internal/domain/ledger"
	"github.com/alem-hub/questpoints/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// POINTS POLICY
// ══════════════════════════════════════════════════════════════════════════════

// PointsPolicy holds the award amounts and per-module caps of the question lifecycle.
type PointsPolicy struct {
	// PointsPerAward is the value of one lifecycle transaction.
	PointsPerAward int

	CreationCap   int
	ValidationCap int
	ReparationCap int

	// AssignmentSize is how many peer questions a student validates per module.
	AssignmentSize int
}

// DefaultPointsPolicy returns one point per action, two per module and category.
func DefaultPointsPolicy() PointsPolicy {
	return PointsPolicy{
		PointsPerAward: 1,
		CreationCap:    2,
		ValidationCap:  2,
		ReparationCap:  2,
		AssignmentSize: 2,
	}
}

// CapFor returns the per-module cap of a lifecycle category, 0 for others.
func (p PointsPolicy) CapFor(c ledger.Category) int {
	switch c {
	case ledger.CategoryQuestionCreation:
		return p.CreationCap
	case ledger.CategoryQuestionValidation:
		return p.ValidationCap
	case ledger.CategoryQuestionReparation:
		return p.ReparationCap
	}
	return 0
}

func (p PointsPolicy) withDefaults() PointsPolicy {
	d := DefaultPointsPolicy()
	if p.PointsPerAward <= 0 {
		p.PointsPerAward = d.PointsPerAward
	}
	if p.CreationCap <= 0 {
		p.CreationCap = d.CreationCap
	}
	if p.ValidationCap <= 0 {
		p.ValidationCap = d.ValidationCap
	}
	if p.ReparationCap <= 0 {
		p.ReparationCap = d.ReparationCap
	}
	if p.AssignmentSize <= 0 {
		p.AssignmentSize = d.AssignmentSize
	}
	return p
}

// ══════════════════════════════════════════════════════════════════════════════
// SHARED DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Recorder receives ledger metrics. *metrics.Metrics satisfies it.
type Recorder interface {
	RecordAward(category string, awarded bool)
	RecordEdit(kind, category string)
	RecordRetry()
}

type nopRecorder struct{}

func (nopRecorder) RecordAward(string, bool)  {}
func (nopRecorder) RecordEdit(string, string) {}
func (nopRecorder) RecordRetry()              {}

// Clock returns the current time. Tests pin it.
type Clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }

// questionIndexer is implemented by module directories that keep the
// question list themselves instead of deriving it from the question store.
type questionIndexer interface {
	AddQuestion(moduleID shared.ModuleID, questionID shared.QuestionID) error
}

// moduleContext is a module together with its position in the subject.
type moduleContext struct {
	module  *course.Module
	modules []*course.Module
	index   int
}

// courseWeek returns the course-wide week of an in-module week.
func (m moduleContext) courseWeek(inModuleWeek int) int {
	return course.CourseWeek(m.index, inModuleWeek)
}

func loadModule(ctx context.Context, dir course.Directory, moduleID shared.ModuleID) (moduleContext, error) {
	if !moduleID.IsValid() {
		return moduleContext{}, shared.NewDomainError("course", "Find", shared.ErrInvalidID, "module id is required")
	}
	m, err := dir.GetModule(ctx, moduleID)
	if err != nil {
		return moduleContext{}, err
	}
	modules, err := dir.ListModulesForSubject(ctx, m.SubjectID)
	if err != nil {
		return moduleContext{}, fmt.Errorf("list modules: %w", err)
	}
	idx := course.IndexOf(modules, m.ID)
	if idx < 0 {
		idx = 0
	}
	return moduleContext{module: m, modules: modules, index: idx}, nil
}

// checkPhase enforces the weekly phase when enabled. Modules without a start
// date have no derivable phase and are never blocked.
func checkPhase(m *course.Module, phase course.Phase, now time.Time, enforce bool) error {
	if !enforce || m.StartsAt.IsZero() {
		return nil
	}
	return m.RequirePhase(phase, now)
}

func correlate(e shared.BaseEvent, s shared.Session) shared.BaseEvent {
	if s.RequestID != "" {
		return e.WithCorrelationID(s.RequestID)
	}
	return e
}

func boolPtr(b bool) *bool { return &b }
