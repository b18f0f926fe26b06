package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alem-hub/questpoints/internal/domain/question"
	"github.com/alem-hub/questpoints/internal/domain/shared"
)

// QuestionStore is an in-memory question.Repository.
type QuestionStore struct {
	mu   sync.RWMutex
	rows map[shared.QuestionID]*question.Question
}

// NewQuestionStore creates an empty store.
func NewQuestionStore() *QuestionStore {
	return &QuestionStore{rows: make(map[shared.QuestionID]*question.Question)}
}

// Create implements question.Repository.
func (s *QuestionStore) Create(ctx context.Context, q *question.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rows[q.ID]; exists {
		return shared.NewDomainError("question", "Create", shared.ErrAlreadyExists, "question already exists")
	}
	q.Version = 1
	s.rows[q.ID] = q.Clone()
	return nil
}

// GetByID implements question.Repository.
func (s *QuestionStore) GetByID(ctx context.Context, id shared.QuestionID) (*question.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.rows[id]
	if !ok {
		return nil, question.ErrQuestionNotFound
	}
	return q.Clone(), nil
}

// ListByModule implements question.Repository.
func (s *QuestionStore) ListByModule(ctx context.Context, moduleID shared.ModuleID) ([]*question.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*question.Question, 0)
	for _, q := range s.rows {
		if q.ModuleID == moduleID {
			out = append(out, q.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// CountByCreator implements question.Repository.
func (s *QuestionStore) CountByCreator(ctx context.Context, moduleID shared.ModuleID, student shared.StudentID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, q := range s.rows {
		if q.ModuleID == moduleID && q.CreatorID == student {
			n++
		}
	}
	return n, nil
}

// ClaimValidation implements question.Repository.
func (s *QuestionStore) ClaimValidation(ctx context.Context, id shared.QuestionID, v question.PeerValidation) (*question.Question, error) {
	return s.mutate(id, func(q *question.Question) error {
		return q.Validate(v.ValidatedBy, v.Valid, v.Comment, v.ValidatedAt)
	})
}

// SaveResponse implements question.Repository.
func (s *QuestionStore) SaveResponse(ctx context.Context, id shared.QuestionID, a question.Agreement) (*question.Question, error) {
	return s.mutate(id, func(q *question.Question) error {
		return q.Respond(q.CreatorID, a.Agreed, a.Comment, a.RespondedAt)
	})
}

// SaveTeacherReview implements question.Repository.
func (s *QuestionStore) SaveTeacherReview(ctx context.Context, id shared.QuestionID, r question.TeacherReview) (*question.Question, error) {
	return s.mutate(id, func(q *question.Question) error {
		return q.TeacherValidate(r.ReviewedBy, r.Valid, r.Comment, r.ReviewedAt)
	})
}

// UpdateContent implements question.Repository.
func (s *QuestionStore) UpdateContent(ctx context.Context, id shared.QuestionID, c question.Content, expectedVersion int) (*question.Question, error) {
	return s.mutate(id, func(q *question.Question) error {
		if q.Version != expectedVersion {
			return question.ErrVersionConflict
		}
		return q.Edit(q.CreatorID, c, time.Now().UTC())
	})
}

// mutate applies fn to a copy and stores it only if fn succeeds.
func (s *QuestionStore) mutate(id shared.QuestionID, fn func(*question.Question) error) (*question.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.rows[id]
	if !ok {
		return nil, question.ErrQuestionNotFound
	}
	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	s.rows[id] = next
	return next.Clone(), nil
}

var _ question.Repository = (*QuestionStore)(nil)

// ══════════════════════════════════════════════════════════════════════════════
// ASSIGNMENTS
// ══════════════════════════════════════════════════════════════════════════════

type assignmentKey struct {
	student shared.StudentID
	module  shared.ModuleID
	week    int
}

// AssignmentStore is an in-memory question.AssignmentRepository.
type AssignmentStore struct {
	mu   sync.RWMutex
	rows map[assignmentKey]*question.Assignment
}

// NewAssignmentStore creates an empty store.
func NewAssignmentStore() *AssignmentStore {
	return &AssignmentStore{rows: make(map[assignmentKey]*question.Assignment)}
}

// Get implements question.AssignmentRepository.
func (s *AssignmentStore) Get(ctx context.Context, student shared.StudentID, module shared.ModuleID, week int) (*question.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.rows[assignmentKey{student, module, week}]
	if !ok {
		return nil, question.ErrAssignmentNotFound
	}
	return cloneAssignment(a), nil
}

// CreateIfAbsent implements question.AssignmentRepository.
func (s *AssignmentStore) CreateIfAbsent(ctx context.Context, a *question.Assignment) (*question.Assignment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := assignmentKey{a.StudentID, a.ModuleID, a.Week}
	if existing, ok := s.rows[key]; ok {
		return cloneAssignment(existing), false, nil
	}
	s.rows[key] = cloneAssignment(a)
	return cloneAssignment(a), true, nil
}

// ListByModuleWeek implements question.AssignmentRepository.
func (s *AssignmentStore) ListByModuleWeek(ctx context.Context, module shared.ModuleID, week int) ([]*question.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*question.Assignment, 0)
	for k, a := range s.rows {
		if k.module == module && k.week == week {
			out = append(out, cloneAssignment(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}

func cloneAssignment(a *question.Assignment) *question.Assignment {
	c := *a
	c.QuestionIDs = append([]shared.QuestionID(nil), a.QuestionIDs...)
	return &c
}

var _ question.AssignmentRepository = (*AssignmentStore)(nil)
