package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/questpoints/internal/domain/ledger"
	"github.com/alem-hub/questpoints/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

const transactionColumns = `
	id, student_id, points, category, reason, related_entity_type, related_entity_id,
	question_id, module_id, week_number, cap_slot, version, created_at, updated_at
`

// LedgerRepository implements ledger.Repository for PostgreSQL.
type LedgerRepository struct {
	conn *Connection
}

// NewLedgerRepository creates a new LedgerRepository.
func NewLedgerRepository(conn *Connection) *LedgerRepository {
	return &LedgerRepository{conn: conn}
}

// Append stores a new uncapped transaction.
func (r *LedgerRepository) Append(ctx context.Context, t *ledger.Transaction) error {
	return r.insert(ctx, r.conn, t)
}

// AppendCapped claims the lowest free cap slot. The partial unique index on
// (student_id, module_id, category, cap_slot) makes the claim atomic; on a
// collision the free slots are recomputed.
func (r *LedgerRepository) AppendCapped(ctx context.Context, t *ledger.Transaction, limit int) (bool, error) {
	for attempt := 0; attempt <= limit; attempt++ {
		slot, err := r.freeSlot(ctx, t, limit)
		if err != nil {
			return false, err
		}
		if slot == 0 {
			return false, nil
		}

		t.CapSlot = slot
		err = r.insert(ctx, r.conn, t)
		if err == nil {
			return true, nil
		}
		t.CapSlot = 0
		if !IsUniqueViolation(err) {
			return false, err
		}
	}
	return false, shared.WrapError("ledger", "AppendCapped", shared.ErrConcurrentModification, "cap slot contention", nil)
}

func (r *LedgerRepository) freeSlot(ctx context.Context, t *ledger.Transaction, limit int) (int, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT cap_slot FROM point_transactions
		WHERE student_id = $1 AND module_id = $2 AND category = $3 AND cap_slot IS NOT NULL
	`, string(t.StudentID), string(t.ModuleID), string(t.Category))
	if err != nil {
		return 0, fmt.Errorf("failed to query cap slots: %w", err)
	}
	defer rows.Close()

	used := make(map[int]bool, limit)
	for rows.Next() {
		var slot int
		if err := rows.Scan(&slot); err != nil {
			return 0, fmt.Errorf("failed to scan cap slot: %w", err)
		}
		used[slot] = true
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for slot := 1; slot <= limit; slot++ {
		if !used[slot] {
			return slot, nil
		}
	}
	return 0, nil
}

func (r *LedgerRepository) insert(ctx context.Context, q Querier, t *ledger.Transaction) error {
	var relType, relID *string
	if t.Related != nil {
		relType, relID = &t.Related.EntityType, &t.Related.EntityID
	}
	if t.Version == 0 {
		t.Version = 1
	}

	_, err := q.Exec(ctx, `
		INSERT INTO point_transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		string(t.ID),
		string(t.StudentID),
		t.Points.Int(),
		string(t.Category),
		t.Reason,
		relType,
		relID,
		nullString(string(t.QuestionID)),
		nullString(string(t.ModuleID)),
		t.WeekNumber,
		nullInt(t.CapSlot),
		t.Version,
		t.CreatedAt,
		t.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return err
		}
		if IsCheckViolation(err) {
			return shared.WrapError("ledger", "Append", shared.ErrInvalidInput, "transaction violates a ledger constraint", err)
		}
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

// GetByID returns a transaction by ID.
func (r *LedgerRepository) GetByID(ctx context.Context, id shared.TransactionID) (*ledger.Transaction, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+transactionColumns+` FROM point_transactions WHERE id = $1`, string(id))
	t, err := scanTransaction(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, ledger.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return t, nil
}

// ListByStudent returns every transaction of the student.
func (r *LedgerRepository) ListByStudent(ctx context.Context, studentID shared.StudentID) ([]*ledger.Transaction, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT `+transactionColumns+` FROM point_transactions
		WHERE student_id = $1
		ORDER BY created_at, id
	`, string(studentID))
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return collectTransactions(rows)
}

// ListByStudents batches ListByStudent in one query.
func (r *LedgerRepository) ListByStudents(ctx context.Context, studentIDs []shared.StudentID) (map[shared.StudentID][]*ledger.Transaction, error) {
	ids := make([]string, len(studentIDs))
	out := make(map[shared.StudentID][]*ledger.Transaction, len(studentIDs))
	for i, id := range studentIDs {
		ids[i] = string(id)
		out[id] = []*ledger.Transaction{}
	}
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := r.conn.Query(ctx, `
		SELECT `+transactionColumns+` FROM point_transactions
		WHERE student_id = ANY($1)
		ORDER BY created_at, id
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	txs, err := collectTransactions(rows)
	if err != nil {
		return nil, err
	}
	for _, t := range txs {
		out[t.StudentID] = append(out[t.StudentID], t)
	}
	return out, nil
}

// UpdatePoints sets points with an optimistic version check.
func (r *LedgerRepository) UpdatePoints(ctx context.Context, id shared.TransactionID, points shared.Points, reason string, expectedVersion int) (*ledger.Transaction, error) {
	row := r.conn.QueryRow(ctx, `
		UPDATE point_transactions SET
			points = $1,
			reason = COALESCE(NULLIF(TRIM($2), ''), reason),
			version = version + 1,
			updated_at = $3
		WHERE id = $4 AND version = $5
		RETURNING `+transactionColumns,
		points.Int(), reason, time.Now().UTC(), string(id), expectedVersion,
	)
	t, err := scanTransaction(row)
	if err == nil {
		return t, nil
	}
	if IsCheckViolation(err) {
		return nil, ledger.ErrNegativePoints
	}
	if !IsNoRows(err) {
		return nil, fmt.Errorf("failed to update points: %w", err)
	}
	return nil, r.missOrConflict(ctx, id)
}

// missOrConflict classifies an UPDATE that matched no row.
func (r *LedgerRepository) missOrConflict(ctx context.Context, id shared.TransactionID) error {
	var exists bool
	if err := r.conn.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM point_transactions WHERE id = $1)`, string(id)).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check transaction: %w", err)
	}
	if !exists {
		return ledger.ErrTransactionNotFound
	}
	return ledger.ErrVersionConflict
}

// ListWithoutModule returns module-scoped rows that were stored without a module.
func (r *LedgerRepository) ListWithoutModule(ctx context.Context, limit int) ([]*ledger.Transaction, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.conn.Query(ctx, `
		SELECT `+transactionColumns+` FROM point_transactions
		WHERE module_id IS NULL
		  AND category IN ('question_creation', 'question_validation', 'question_reparation')
		ORDER BY created_at, id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unbucketed transactions: %w", err)
	}
	return collectTransactions(rows)
}

// SetBucket records an explicit module and week on a legacy row.
func (r *LedgerRepository) SetBucket(ctx context.Context, id shared.TransactionID, moduleID shared.ModuleID, week int, expectedVersion int) error {
	tag, err := r.conn.Exec(ctx, `
		UPDATE point_transactions SET
			module_id = $1, week_number = $2, version = version + 1, updated_at = NOW()
		WHERE id = $3 AND version = $4
	`, string(moduleID), week, string(id), expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to set bucket: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missOrConflict(ctx, id)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Scanning
// ─────────────────────────────────────────────────────────────────────────────

func scanTransaction(row pgx.Row) (*ledger.Transaction, error) {
	var (
		t                  ledger.Transaction
		id, studentID, cat string
		points             int
		relType, relID     *string
		questionID, module *string
		capSlot            *int
	)
	err := row.Scan(
		&id, &studentID, &points, &cat, &t.Reason, &relType, &relID,
		&questionID, &module, &t.WeekNumber, &capSlot, &t.Version, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.ID = shared.TransactionID(id)
	t.StudentID = shared.StudentID(studentID)
	t.Points = shared.Points(points)
	t.Category = ledger.Category(cat)
	if relType != nil && relID != nil {
		t.Related = &ledger.RelatedEntity{EntityType: *relType, EntityID: *relID}
	}
	if questionID != nil {
		t.QuestionID = shared.QuestionID(*questionID)
	}
	if module != nil {
		t.ModuleID = shared.ModuleID(*module)
	}
	if capSlot != nil {
		t.CapSlot = *capSlot
	}
	return &t, nil
}

func collectTransactions(rows pgx.Rows) ([]*ledger.Transaction, error) {
	defer rows.Close()

	out := make([]*ledger.Transaction, 0)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullInt(n int) *int {
	if n == 0 {
		return nil
	}
	return &n
}

var _ ledger.Repository = (*LedgerRepository)(nil)
