package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/questpoints/internal/domain/course"
	"github.com/alem-hub/questpoints/internal/domain/shared"
)

// A module's question list is every question stored against it, oldest first.
const moduleSelect = `
	SELECT m.id, m.subject_id, m.title, m.position, m.starts_at, m.ends_at,
	       COALESCE(ARRAY(
	           SELECT q.id FROM questions q WHERE q.module_id = m.id ORDER BY q.created_at, q.id
	       ), '{}') AS question_ids
	FROM modules m
`

// CourseRepository implements course.Directory for PostgreSQL.
type CourseRepository struct {
	conn *Connection
}

// NewCourseRepository creates a new CourseRepository.
func NewCourseRepository(conn *Connection) *CourseRepository {
	return &CourseRepository{conn: conn}
}

// Upsert stores a module. Used by seeding.
func (r *CourseRepository) Upsert(ctx context.Context, m *course.Module) error {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO modules (id, subject_id, title, position, starts_at, ends_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			subject_id = EXCLUDED.subject_id,
			title = EXCLUDED.title,
			position = EXCLUDED.position,
			starts_at = EXCLUDED.starts_at,
			ends_at = EXCLUDED.ends_at
	`, string(m.ID), string(m.SubjectID), m.Title, m.Position, nullTime(m.StartsAt), nullTime(m.EndsAt))
	if err != nil {
		return fmt.Errorf("failed to upsert module: %w", err)
	}
	return nil
}

// ListModulesForSubject returns the subject's modules ordered by position.
func (r *CourseRepository) ListModulesForSubject(ctx context.Context, subjectID shared.SubjectID) ([]*course.Module, error) {
	rows, err := r.conn.Query(ctx, moduleSelect+` WHERE m.subject_id = $1 ORDER BY m.position, m.id`, string(subjectID))
	if err != nil {
		return nil, fmt.Errorf("failed to list modules: %w", err)
	}
	defer rows.Close()

	out := make([]*course.Module, 0)
	for rows.Next() {
		m, err := scanModule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan module: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetModule returns one module with its question list.
func (r *CourseRepository) GetModule(ctx context.Context, moduleID shared.ModuleID) (*course.Module, error) {
	m, err := scanModule(r.conn.QueryRow(ctx, moduleSelect+` WHERE m.id = $1`, string(moduleID)))
	if err != nil {
		if IsNoRows(err) {
			return nil, course.ErrModuleNotFound
		}
		return nil, fmt.Errorf("failed to get module: %w", err)
	}
	return m, nil
}

func scanModule(row pgx.Row) (*course.Module, error) {
	var (
		m              course.Module
		id, subject    string
		startsAt, ends *time.Time
		questionIDs    []string
	)
	if err := row.Scan(&id, &subject, &m.Title, &m.Position, &startsAt, &ends, &questionIDs); err != nil {
		return nil, err
	}
	m.ID = shared.ModuleID(id)
	m.SubjectID = shared.SubjectID(subject)
	m.StartsAt = deref(startsAt)
	m.EndsAt = deref(ends)
	m.QuestionIDs = make([]shared.QuestionID, len(questionIDs))
	for i, q := range questionIDs {
		m.QuestionIDs[i] = shared.QuestionID(q)
	}
	return &m, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

var _ course.Directory = (*CourseRepository)(nil)
