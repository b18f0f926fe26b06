package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/questpoints/internal/domain/question"
	"github.com/alem-hub/questpoints/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// QUESTION REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

const questionColumns = `
	id, module_id, creator_id, text, option_a, option_b, option_c, option_d, correct,
	validated, validation_comment, validated_by, validated_at,
	agreement_agreed, agreement_comment, responded_at,
	validated_by_teacher, validated_by_teacher_comment, validated_by_teacher_id, validated_by_teacher_at,
	version, created_at, updated_at
`

// QuestionRepository implements question.Repository for PostgreSQL.
type QuestionRepository struct {
	conn *Connection
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(conn *Connection) *QuestionRepository {
	return &QuestionRepository{conn: conn}
}

// Create stores a new question.
func (r *QuestionRepository) Create(ctx context.Context, q *question.Question) error {
	c := q.Content
	_, err := r.conn.Exec(ctx, `
		INSERT INTO questions (
			id, module_id, creator_id, text, option_a, option_b, option_c, option_d, correct,
			version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, $10, $11)
	`,
		string(q.ID), string(q.ModuleID), string(q.CreatorID), c.Text,
		c.Options[question.OptionA], c.Options[question.OptionB], c.Options[question.OptionC], c.Options[question.OptionD],
		string(c.Correct), q.CreatedAt, q.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.NewDomainError("question", "Create", shared.ErrAlreadyExists, "question already exists")
		}
		return fmt.Errorf("failed to create question: %w", err)
	}
	q.Version = 1
	return nil
}

// GetByID returns a question by ID.
func (r *QuestionRepository) GetByID(ctx context.Context, id shared.QuestionID) (*question.Question, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+questionColumns+` FROM questions WHERE id = $1`, string(id))
	q, err := scanQuestion(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, question.ErrQuestionNotFound
		}
		return nil, fmt.Errorf("failed to get question: %w", err)
	}
	return q, nil
}

// ListByModule returns the module's questions.
func (r *QuestionRepository) ListByModule(ctx context.Context, moduleID shared.ModuleID) ([]*question.Question, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT `+questionColumns+` FROM questions
		WHERE module_id = $1
		ORDER BY created_at, id
	`, string(moduleID))
	if err != nil {
		return nil, fmt.Errorf("failed to list questions: %w", err)
	}
	defer rows.Close()

	out := make([]*question.Question, 0)
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan question: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// CountByCreator counts the student's questions in a module.
func (r *QuestionRepository) CountByCreator(ctx context.Context, moduleID shared.ModuleID, student shared.StudentID) (int, error) {
	var n int
	err := r.conn.QueryRow(ctx, `
		SELECT COUNT(*) FROM questions WHERE module_id = $1 AND creator_id = $2
	`, string(moduleID), string(student)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count questions: %w", err)
	}
	return n, nil
}

// ClaimValidation sets validated_by only while it is null.
func (r *QuestionRepository) ClaimValidation(ctx context.Context, id shared.QuestionID, v question.PeerValidation) (*question.Question, error) {
	row := r.conn.QueryRow(ctx, `
		UPDATE questions SET
			validated = $1, validation_comment = $2, validated_by = $3, validated_at = $4,
			version = version + 1, updated_at = $4
		WHERE id = $5 AND validated_by IS NULL AND creator_id <> $3
		RETURNING `+questionColumns,
		v.Valid, v.Comment, string(v.ValidatedBy), v.ValidatedAt, string(id),
	)
	q, err := scanQuestion(row)
	if err == nil {
		return q, nil
	}
	if !IsNoRows(err) {
		return nil, fmt.Errorf("failed to claim validation: %w", err)
	}

	current, getErr := r.GetByID(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	if cerr := current.CanValidate(v.ValidatedBy); cerr != nil {
		return nil, cerr
	}
	return nil, question.ErrAlreadyValidated
}

// SaveResponse stores the creator's agreement once the question is validated.
func (r *QuestionRepository) SaveResponse(ctx context.Context, id shared.QuestionID, a question.Agreement) (*question.Question, error) {
	row := r.conn.QueryRow(ctx, `
		UPDATE questions SET
			agreement_agreed = $1, agreement_comment = $2, responded_at = $3,
			version = version + 1, updated_at = $3
		WHERE id = $4 AND validated_by IS NOT NULL AND responded_at IS NULL
		RETURNING `+questionColumns,
		a.Agreed, a.Comment, a.RespondedAt, string(id),
	)
	q, err := scanQuestion(row)
	if err == nil {
		return q, nil
	}
	if !IsNoRows(err) {
		return nil, fmt.Errorf("failed to save response: %w", err)
	}

	current, getErr := r.GetByID(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	if current.Validation == nil {
		return nil, question.ErrNotValidated
	}
	return nil, question.ErrAlreadyResponded
}

// SaveTeacherReview stores or replaces the teacher verdict.
func (r *QuestionRepository) SaveTeacherReview(ctx context.Context, id shared.QuestionID, rv question.TeacherReview) (*question.Question, error) {
	row := r.conn.QueryRow(ctx, `
		UPDATE questions SET
			validated_by_teacher = $1, validated_by_teacher_comment = $2,
			validated_by_teacher_id = $3, validated_by_teacher_at = $4,
			version = version + 1, updated_at = $4
		WHERE id = $5
		RETURNING `+questionColumns,
		rv.Valid, rv.Comment, string(rv.ReviewedBy), rv.ReviewedAt, string(id),
	)
	q, err := scanQuestion(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, question.ErrQuestionNotFound
		}
		return nil, fmt.Errorf("failed to save teacher review: %w", err)
	}
	return q, nil
}

// UpdateContent replaces text, options and correct key with a version check.
func (r *QuestionRepository) UpdateContent(ctx context.Context, id shared.QuestionID, c question.Content, expectedVersion int) (*question.Question, error) {
	row := r.conn.QueryRow(ctx, `
		UPDATE questions SET
			text = $1, option_a = $2, option_b = $3, option_c = $4, option_d = $5, correct = $6,
			version = version + 1, updated_at = $7
		WHERE id = $8 AND version = $9
		RETURNING `+questionColumns,
		c.Text, c.Options[question.OptionA], c.Options[question.OptionB], c.Options[question.OptionC], c.Options[question.OptionD],
		string(c.Correct), time.Now().UTC(), string(id), expectedVersion,
	)
	q, err := scanQuestion(row)
	if err == nil {
		return q, nil
	}
	if !IsNoRows(err) {
		return nil, fmt.Errorf("failed to update question: %w", err)
	}
	if _, getErr := r.GetByID(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, question.ErrVersionConflict
}

// ─────────────────────────────────────────────────────────────────────────────
// Scanning
// ─────────────────────────────────────────────────────────────────────────────

func scanQuestion(row pgx.Row) (*question.Question, error) {
	var (
		q                         question.Question
		id, module, creator       string
		text, a, b, c, d, correct string
		validated                 *bool
		valComment, validatedBy   *string
		validatedAt               *time.Time
		agreed                    *bool
		agreeComment              *string
		respondedAt               *time.Time
		teacherValid              *bool
		teacherComment, teacherID *string
		teacherAt                 *time.Time
	)
	err := row.Scan(
		&id, &module, &creator, &text, &a, &b, &c, &d, &correct,
		&validated, &valComment, &validatedBy, &validatedAt,
		&agreed, &agreeComment, &respondedAt,
		&teacherValid, &teacherComment, &teacherID, &teacherAt,
		&q.Version, &q.CreatedAt, &q.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	q.ID = shared.QuestionID(id)
	q.ModuleID = shared.ModuleID(module)
	q.CreatorID = shared.StudentID(creator)
	q.Content = question.Content{
		Text: text,
		Options: map[question.OptionKey]string{
			question.OptionA: a, question.OptionB: b, question.OptionC: c, question.OptionD: d,
		},
		Correct: question.OptionKey(correct),
	}

	if validatedBy != nil {
		q.Validation = &question.PeerValidation{
			Valid:       deref(validated),
			Comment:     deref(valComment),
			ValidatedBy: shared.StudentID(*validatedBy),
			ValidatedAt: deref(validatedAt),
		}
	}
	if respondedAt != nil {
		q.Agreement = &question.Agreement{
			Agreed:      deref(agreed),
			Comment:     deref(agreeComment),
			RespondedAt: *respondedAt,
		}
	}
	if teacherValid != nil {
		q.Teacher = &question.TeacherReview{
			Valid:      *teacherValid,
			Comment:    deref(teacherComment),
			ReviewedBy: shared.StudentID(deref(teacherID)),
			ReviewedAt: deref(teacherAt),
		}
	}
	return &q, nil
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

var _ question.Repository = (*QuestionRepository)(nil)
