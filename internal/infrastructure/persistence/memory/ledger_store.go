// Package memory provides in-process implementations of the repository
// ports. They enforce the same version and cap guards as the PostgreSQL
// repositories and back the memory storage driver and application tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alem-hub/questpoints/internal/domain/ledger"
	"github.com/alem-hub/questpoints/internal/domain/shared"
)

// LedgerStore is an in-memory ledger.Repository.
type LedgerStore struct {
	mu    sync.RWMutex
	rows  map[shared.TransactionID]*ledger.Transaction
	order []shared.TransactionID
	now   func() time.Time
}

// NewLedgerStore creates an empty ledger.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		rows: make(map[shared.TransactionID]*ledger.Transaction),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Append implements ledger.Repository.
func (s *LedgerStore) Append(ctx context.Context, t *ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(t)
}

// AppendCapped implements ledger.Repository.
func (s *LedgerStore) AppendCapped(ctx context.Context, t *ledger.Transaction, limit int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	used := make(map[int]bool, limit)
	for _, row := range s.rows {
		if row.IsCapped() && row.StudentID == t.StudentID && row.ModuleID == t.ModuleID && row.Category == t.Category {
			used[row.CapSlot] = true
		}
	}
	for slot := 1; slot <= limit; slot++ {
		if used[slot] {
			continue
		}
		t.CapSlot = slot
		if err := s.insertLocked(t); err != nil {
			t.CapSlot = 0
			return false, err
		}
		return true, nil
	}
	return false, nil
}

func (s *LedgerStore) insertLocked(t *ledger.Transaction) error {
	if _, exists := s.rows[t.ID]; exists {
		return shared.NewDomainError("ledger", "Append", shared.ErrAlreadyExists, "transaction already exists")
	}
	if t.Version == 0 {
		t.Version = 1
	}
	s.rows[t.ID] = t.Clone()
	s.order = append(s.order, t.ID)
	return nil
}

// GetByID implements ledger.Repository.
func (s *LedgerStore) GetByID(ctx context.Context, id shared.TransactionID) (*ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.rows[id]
	if !ok {
		return nil, ledger.ErrTransactionNotFound
	}
	return row.Clone(), nil
}

// ListByStudent implements ledger.Repository.
func (s *LedgerStore) ListByStudent(ctx context.Context, studentID shared.StudentID) ([]*ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*ledger.Transaction, 0)
	for _, id := range s.order {
		if row := s.rows[id]; row.StudentID == studentID {
			out = append(out, row.Clone())
		}
	}
	ledger.SortTransactions(out)
	return out, nil
}

// ListByStudents implements ledger.Repository.
func (s *LedgerStore) ListByStudents(ctx context.Context, studentIDs []shared.StudentID) (map[shared.StudentID][]*ledger.Transaction, error) {
	out := make(map[shared.StudentID][]*ledger.Transaction, len(studentIDs))
	for _, id := range studentIDs {
		txs, err := s.ListByStudent(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = txs
	}
	return out, nil
}

// UpdatePoints implements ledger.Repository.
func (s *LedgerStore) UpdatePoints(ctx context.Context, id shared.TransactionID, points shared.Points, reason string, expectedVersion int) (*ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[id]
	if !ok {
		return nil, ledger.ErrTransactionNotFound
	}
	if row.Version != expectedVersion {
		return nil, ledger.ErrVersionConflict
	}

	next := row.Clone()
	if err := next.SetPoints(points.Int(), reason, s.now()); err != nil {
		return nil, err
	}
	s.rows[id] = next
	return next.Clone(), nil
}

// ListWithoutModule implements ledger.Repository.
func (s *LedgerStore) ListWithoutModule(ctx context.Context, limit int) ([]*ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*ledger.Transaction, 0)
	for _, id := range s.order {
		row := s.rows[id]
		if row.ModuleID != "" || !row.Category.IsModuleScoped() {
			continue
		}
		out = append(out, row.Clone())
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// SetBucket implements ledger.Repository.
func (s *LedgerStore) SetBucket(ctx context.Context, id shared.TransactionID, moduleID shared.ModuleID, week int, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[id]
	if !ok {
		return ledger.ErrTransactionNotFound
	}
	if row.Version != expectedVersion {
		return ledger.ErrVersionConflict
	}
	next := row.Clone()
	next.ModuleID = moduleID
	next.WeekNumber = week
	next.Version++
	next.UpdatedAt = s.now()
	s.rows[id] = next
	return nil
}

// Len returns the number of stored transactions.
func (s *LedgerStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

var _ ledger.Repository = (*LedgerStore)(nil)
