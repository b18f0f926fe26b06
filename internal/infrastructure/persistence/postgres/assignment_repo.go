package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/questpoints/internal/domain/question"
	"github.com/alem-hub/questpoints/internal/domain/shared"
)

// AssignmentRepository implements question.AssignmentRepository for PostgreSQL.
type AssignmentRepository struct {
	conn *Connection
}

// NewAssignmentRepository creates a new AssignmentRepository.
func NewAssignmentRepository(conn *Connection) *AssignmentRepository {
	return &AssignmentRepository{conn: conn}
}

// Get returns the assignment for (student, module, week).
func (r *AssignmentRepository) Get(ctx context.Context, student shared.StudentID, module shared.ModuleID, week int) (*question.Assignment, error) {
	row := r.conn.QueryRow(ctx, `
		SELECT student_id, module_id, week, question_ids, automatic_points, created_at
		FROM question_assignments
		WHERE student_id = $1 AND module_id = $2 AND week = $3
	`, string(student), string(module), week)

	a, err := scanAssignment(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, question.ErrAssignmentNotFound
		}
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	return a, nil
}

// CreateIfAbsent inserts a; a concurrent winner's row is returned instead.
func (r *AssignmentRepository) CreateIfAbsent(ctx context.Context, a *question.Assignment) (*question.Assignment, bool, error) {
	ids := make([]string, len(a.QuestionIDs))
	for i, id := range a.QuestionIDs {
		ids[i] = string(id)
	}

	tag, err := r.conn.Exec(ctx, `
		INSERT INTO question_assignments (student_id, module_id, week, question_ids, automatic_points, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (student_id, module_id, week) DO NOTHING
	`, string(a.StudentID), string(a.ModuleID), a.Week, ids, a.AutomaticPoints, a.CreatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create assignment: %w", err)
	}

	stored, err := r.Get(ctx, a.StudentID, a.ModuleID, a.Week)
	if err != nil {
		return nil, false, err
	}
	return stored, tag.RowsAffected() == 1, nil
}

// ListByModuleWeek returns every assignment for the module and week.
func (r *AssignmentRepository) ListByModuleWeek(ctx context.Context, module shared.ModuleID, week int) ([]*question.Assignment, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT student_id, module_id, week, question_ids, automatic_points, created_at
		FROM question_assignments
		WHERE module_id = $1 AND week = $2
		ORDER BY student_id
	`, string(module), week)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	out := make([]*question.Assignment, 0)
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAssignment(row pgx.Row) (*question.Assignment, error) {
	var (
		a               question.Assignment
		student, module string
		ids             []string
	)
	if err := row.Scan(&student, &module, &a.Week, &ids, &a.AutomaticPoints, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.StudentID = shared.StudentID(student)
	a.ModuleID = shared.ModuleID(module)
	a.QuestionIDs = make([]shared.QuestionID, len(ids))
	for i, id := range ids {
		a.QuestionIDs[i] = shared.QuestionID(id)
	}
	return &a, nil
}

var _ question.AssignmentRepository = (*AssignmentRepository)(nil)
