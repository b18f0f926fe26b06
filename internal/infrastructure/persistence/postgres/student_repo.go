package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/questpoints/internal/domain/shared"
	"github.com/alem-hub/questpoints/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// STUDENT DIRECTORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

const studentColumns = `s.id, s.display_name, s.email, s.role, s.status, s.created_at`

// StudentRepository implements student.Directory for PostgreSQL.
type StudentRepository struct {
	conn *Connection
}

// NewStudentRepository creates a new StudentRepository.
func NewStudentRepository(conn *Connection) *StudentRepository {
	return &StudentRepository{conn: conn}
}

// Upsert stores a profile and its subject memberships. Used by seeding.
func (r *StudentRepository) Upsert(ctx context.Context, p *student.Profile) error {
	return r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO students (id, display_name, email, role, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET
				display_name = EXCLUDED.display_name,
				email = EXCLUDED.email,
				role = EXCLUDED.role,
				status = EXCLUDED.status
		`, string(p.ID), p.DisplayName, p.Email, string(p.Role), string(p.Status), p.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to upsert student: %w", err)
		}
		for _, subject := range p.SubjectIDs {
			if _, err := tx.Exec(ctx, `
				INSERT INTO subject_members (subject_id, student_id) VALUES ($1, $2)
				ON CONFLICT DO NOTHING
			`, string(subject), string(p.ID)); err != nil {
				return fmt.Errorf("failed to add subject member: %w", err)
			}
		}
		return nil
	})
}

// GetByID returns a profile by ID.
func (r *StudentRepository) GetByID(ctx context.Context, id shared.StudentID) (*student.Profile, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+studentColumns+` FROM students s WHERE s.id = $1`, string(id))
	p, err := scanProfile(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, student.ErrStudentNotFound
		}
		return nil, fmt.Errorf("failed to get student: %w", err)
	}
	return p, nil
}

// GetByIDs returns the known profiles among ids.
func (r *StudentRepository) GetByIDs(ctx context.Context, ids []shared.StudentID) ([]*student.Profile, error) {
	if len(ids) == 0 {
		return []*student.Profile{}, nil
	}
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = string(id)
	}
	rows, err := r.conn.Query(ctx, `SELECT `+studentColumns+` FROM students s WHERE s.id = ANY($1) ORDER BY s.id`, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to get students: %w", err)
	}
	return collectProfiles(rows)
}

// ListBySubject returns participants enrolled in the subject.
func (r *StudentRepository) ListBySubject(ctx context.Context, subject shared.SubjectID, opts student.ListOptions) ([]*student.Profile, error) {
	if opts.Limit <= 0 {
		opts.Limit = student.DefaultListOptions().Limit
	}
	rows, err := r.conn.Query(ctx, `
		SELECT `+studentColumns+`
		FROM students s
		JOIN subject_members m ON m.student_id = s.id
		WHERE m.subject_id = $1 AND ($2 OR s.role <> 'teacher')
		ORDER BY s.id
		LIMIT $3 OFFSET $4
	`, string(subject), opts.IncludeTeachers, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list students: %w", err)
	}
	return collectProfiles(rows)
}

func scanProfile(row pgx.Row) (*student.Profile, error) {
	var (
		p                student.Profile
		id, role, status string
	)
	if err := row.Scan(&id, &p.DisplayName, &p.Email, &role, &status, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.ID = shared.StudentID(id)
	p.Role = shared.Role(role)
	p.Status = student.Status(status)
	return &p, nil
}

func collectProfiles(rows pgx.Rows) ([]*student.Profile, error) {
	defer rows.Close()

	out := make([]*student.Profile, 0)
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan student: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

var _ student.Directory = (*StudentRepository)(nil)
