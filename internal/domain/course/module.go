// Package course models modules of a subject and their weekly phases.
// Modules are owned by an external collaborator; this package only reads them.
package course

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/questpoints/internal/domain/shared"
	"github.com/alem-hub/questpoints/pkg/timeutil"
)

// WeeksPerModule is the length of a module cycle: create, validate, repair.
const WeeksPerModule = 3

// Phase is the lifecycle phase a module is in during a given week.
type Phase int

const (
	PhaseNotStarted Phase = iota
	PhaseCreation         // week 1
	PhaseValidation       // week 2
	PhaseReparation       // week 3
	PhaseClosed
)

// String returns a stable name for logs and responses.
func (p Phase) String() string {
	switch p {
	case PhaseNotStarted:
		return "not_started"
	case PhaseCreation:
		return "creation"
	case PhaseValidation:
		return "validation"
	case PhaseReparation:
		return "reparation"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Week returns the in-module week number of the phase (1..3), or 0.
func (p Phase) Week() int {
	if p >= PhaseCreation && p <= PhaseReparation {
		return int(p)
	}
	return 0
}

var (
	ErrModuleNotFound  = shared.NewDomainError("course", "Find", shared.ErrNotFound, "module not found")
	ErrSubjectNotFound = shared.NewDomainError("course", "Find", shared.ErrNotFound, "subject not found")
	ErrWrongPhase      = shared.NewDomainError("course", "CheckPhase", shared.ErrInvalidState, "module is not in the required phase")
)

// Module is a unit of a subject, three weeks long, owning a list of questions.
type Module struct {
	ID          shared.ModuleID
	SubjectID   shared.SubjectID
	Title       string
	Position    int
	QuestionIDs []shared.QuestionID
	StartsAt    time.Time
	EndsAt      time.Time
}

// HasQuestion reports whether the question belongs to this module.
func (m *Module) HasQuestion(id shared.QuestionID) bool {
	for _, q := range m.QuestionIDs {
		if q == id {
			return true
		}
	}
	return false
}

// Window returns the module's configured date window.
func (m *Module) Window() shared.TimeRange {
	return shared.TimeRange{From: m.StartsAt, To: m.EndsAt}
}

// WeekAt returns the 1-based week within the module at t, 0 before start.
func (m *Module) WeekAt(t time.Time) int {
	if m.StartsAt.IsZero() {
		return 0
	}
	return timeutil.WeekIndex(m.StartsAt, t)
}

// PhaseAt derives the phase from the module window.
// A module with an EndsAt that has passed is closed even inside its third week.
func (m *Module) PhaseAt(t time.Time) Phase {
	if !m.EndsAt.IsZero() && !t.Before(m.EndsAt) {
		return PhaseClosed
	}
	week := m.WeekAt(t)
	switch {
	case week <= 0:
		return PhaseNotStarted
	case week > WeeksPerModule:
		return PhaseClosed
	default:
		return Phase(week)
	}
}

// RequirePhase returns ErrWrongPhase unless the module is in phase p at t.
func (m *Module) RequirePhase(p Phase, t time.Time) error {
	if got := m.PhaseAt(t); got != p {
		return fmt.Errorf("%w: %s phase, need %s", ErrWrongPhase, got, p)
	}
	return nil
}

// CourseWeek returns the course-wide week number for an in-module week,
// given the module's index in the subject's ordered module list.
func CourseWeek(moduleIndex, inModuleWeek int) int {
	return moduleIndex*WeeksPerModule + inModuleWeek
}

// Directory is the module directory collaborator.
type Directory interface {
	// ListModulesForSubject returns modules ordered by position.
	ListModulesForSubject(ctx context.Context, subjectID shared.SubjectID) ([]*Module, error)

	// GetModule returns a module with its question list.
	GetModule(ctx context.Context, moduleID shared.ModuleID) (*Module, error)
}

// IndexOf returns the position of moduleID in modules, or -1.
func IndexOf(modules []*Module, moduleID shared.ModuleID) int {
	for i, m := range modules {
		if m.ID == moduleID {
			return i
		}
	}
	return -1
}
