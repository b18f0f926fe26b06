package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/alem-hub/questpoints/internal/domain/course"
	"github.com/alem-hub/questpoints/internal/domain/shared"
	"github.com/alem-hub/questpoints/internal/domain/student"
)

// CourseDirectory is an in-memory course.Directory.
type CourseDirectory struct {
	mu      sync.RWMutex
	modules map[shared.ModuleID]*course.Module
}

// NewCourseDirectory creates a directory holding modules.
func NewCourseDirectory(modules ...*course.Module) *CourseDirectory {
	d := &CourseDirectory{modules: make(map[shared.ModuleID]*course.Module)}
	for _, m := range modules {
		d.Put(m)
	}
	return d
}

// Put adds or replaces a module.
func (d *CourseDirectory) Put(m *course.Module) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.modules[m.ID] = cloneModule(m)
}

// Upsert is Put with the signature seeding expects.
func (d *CourseDirectory) Upsert(_ context.Context, m *course.Module) error {
	d.Put(m)
	return nil
}

// AddQuestion appends a question to a module's list.
func (d *CourseDirectory) AddQuestion(moduleID shared.ModuleID, questionID shared.QuestionID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, ok := d.modules[moduleID]
	if !ok {
		return course.ErrModuleNotFound
	}
	if !m.HasQuestion(questionID) {
		m.QuestionIDs = append(m.QuestionIDs, questionID)
	}
	return nil
}

// ListModulesForSubject implements course.Directory.
func (d *CourseDirectory) ListModulesForSubject(ctx context.Context, subjectID shared.SubjectID) ([]*course.Module, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*course.Module, 0)
	for _, m := range d.modules {
		if m.SubjectID == subjectID {
			out = append(out, cloneModule(m))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// GetModule implements course.Directory.
func (d *CourseDirectory) GetModule(ctx context.Context, moduleID shared.ModuleID) (*course.Module, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	m, ok := d.modules[moduleID]
	if !ok {
		return nil, course.ErrModuleNotFound
	}
	return cloneModule(m), nil
}

func cloneModule(m *course.Module) *course.Module {
	c := *m
	c.QuestionIDs = append([]shared.QuestionID(nil), m.QuestionIDs...)
	return &c
}

var _ course.Directory = (*CourseDirectory)(nil)

// ══════════════════════════════════════════════════════════════════════════════
// STUDENTS
// ══════════════════════════════════════════════════════════════════════════════

// StudentDirectory is an in-memory student.Directory.
type StudentDirectory struct {
	mu       sync.RWMutex
	profiles map[shared.StudentID]*student.Profile
}

// NewStudentDirectory creates a directory holding profiles.
func NewStudentDirectory(profiles ...*student.Profile) *StudentDirectory {
	d := &StudentDirectory{profiles: make(map[shared.StudentID]*student.Profile)}
	for _, p := range profiles {
		d.Put(p)
	}
	return d
}

// Put adds or replaces a profile.
func (d *StudentDirectory) Put(p *student.Profile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := *p
	c.SubjectIDs = append([]shared.SubjectID(nil), p.SubjectIDs...)
	d.profiles[p.ID] = &c
}

// Upsert is Put with the signature seeding expects.
func (d *StudentDirectory) Upsert(_ context.Context, p *student.Profile) error {
	d.Put(p)
	return nil
}

// GetByID implements student.Directory.
func (d *StudentDirectory) GetByID(ctx context.Context, id shared.StudentID) (*student.Profile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	p, ok := d.profiles[id]
	if !ok {
		return nil, student.ErrStudentNotFound
	}
	c := *p
	return &c, nil
}

// GetByIDs implements student.Directory.
func (d *StudentDirectory) GetByIDs(ctx context.Context, ids []shared.StudentID) ([]*student.Profile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*student.Profile, 0, len(ids))
	for _, id := range ids {
		if p, ok := d.profiles[id]; ok {
			c := *p
			out = append(out, &c)
		}
	}
	return out, nil
}

// ListBySubject implements student.Directory.
func (d *StudentDirectory) ListBySubject(ctx context.Context, subject shared.SubjectID, opts student.ListOptions) ([]*student.Profile, error) {
	d.mu.RLock()
	all := make([]*student.Profile, 0)
	for _, p := range d.profiles {
		if !p.EnrolledIn(subject) || (p.IsTeacher() && !opts.IncludeTeachers) {
			continue
		}
		c := *p
		all = append(all, &c)
	}
	d.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	if opts.Offset >= len(all) {
		return []*student.Profile{}, nil
	}
	all = all[opts.Offset:]
	if opts.Limit > 0 && len(all) > opts.Limit {
		all = all[:opts.Limit]
	}
	return all, nil
}

var _ student.Directory = (*StudentDirectory)(nil)
