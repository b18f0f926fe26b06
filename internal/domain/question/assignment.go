package question

import (
	"sort"
	"time"

	"github.com/alem-hub/questpoints/internal/domain/shared"
)

// DefaultAssignmentSize is how many peer questions a student validates per module.
const DefaultAssignmentSize = 2

// Assignment is the persisted set of questions a student was asked to
// validate in one module's validation week. It is created once and never
// reshuffled; AutomaticPoints records the scarcity compensation granted
// when it was issued.
type Assignment struct {
	StudentID       shared.StudentID
	ModuleID        shared.ModuleID
	Week            int
	QuestionIDs     []shared.QuestionID
	AutomaticPoints int
	CreatedAt       time.Time
}

// Contains reports whether id was assigned.
func (a *Assignment) Contains(id shared.QuestionID) bool {
	for _, q := range a.QuestionIDs {
		if q == id {
			return true
		}
	}
	return false
}

// Shuffler is the random source used for selection. *rand.Rand satisfies it.
type Shuffler interface {
	Shuffle(n int, swap func(i, j int))
}

// Candidates returns the questions student may be asked to validate:
// authored by someone else and not yet peer-validated. Being in another
// student's assignment does not make a question ineligible.
// The result is ordered by (CreatedAt, ID) so selection depends only on the
// random source.
func Candidates(questions []*Question, student shared.StudentID) []*Question {
	out := make([]*Question, 0, len(questions))
	for _, q := range questions {
		if q.CreatorID == student || q.IsPeerValidated() {
			continue
		}
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// AssignmentLoad counts how many existing assignments hold each question.
func AssignmentLoad(assignments []*Assignment) map[shared.QuestionID]int {
	load := make(map[shared.QuestionID]int)
	for _, a := range assignments {
		for _, id := range a.QuestionIDs {
			load[id]++
		}
	}
	return load
}

// NewAssignment samples up to size candidates at random, preferring the
// questions held by the fewest existing assignments (load may be nil). The
// shortfall against the eligible set becomes AutomaticPoints, one point per
// missing question.
func NewAssignment(student shared.StudentID, module shared.ModuleID, week int, candidates []*Question, load map[shared.QuestionID]int, size int, rng Shuffler, now time.Time) *Assignment {
	if size <= 0 {
		size = DefaultAssignmentSize
	}

	ids := make([]shared.QuestionID, len(candidates))
	for i, q := range candidates {
		ids[i] = q.ID
	}
	if rng != nil {
		rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	}
	sort.SliceStable(ids, func(i, j int) bool { return load[ids[i]] < load[ids[j]] })
	if len(ids) > size {
		ids = ids[:size]
	}

	return &Assignment{
		StudentID:       student,
		ModuleID:        module,
		Week:            week,
		QuestionIDs:     ids,
		AutomaticPoints: size - len(ids),
		CreatedAt:       now,
	}
}
