package shared

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainError_Classification(t *testing.T) {
	cause := errors.New("connection reset")
	wrapped := fmt.Errorf("handler: %w", WrapError("ledger", "Insert", ErrOptimisticLock, "cap slot taken", cause))

	assert.True(t, IsConcurrencyConflict(wrapped))
	assert.ErrorIs(t, wrapped, cause)
	assert.False(t, IsNotFound(wrapped))
	assert.Equal(t, "ledger.Insert: cap slot taken: connection reset", errors.Unwrap(wrapped).Error())

	assert.True(t, IsValidation(NewDomainError("question", "Create", ErrEmptyValue, "text is required")))
	assert.True(t, IsStateConflict(NewDomainError("question", "Validate", ErrAlreadyProcessed, "already validated")))
	assert.True(t, IsInvariantViolation(NewDomainError("ledger", "Update", ErrNegativeValue, "negative")))
	assert.False(t, IsValidation(nil))
}

func TestSession_Authorization(t *testing.T) {
	anon := Session{}
	student := Session{UserID: "s1", Role: RoleStudent}
	teacher := Session{UserID: "t1", Role: RoleTeacher}

	assert.ErrorIs(t, anon.RequireTeacher(), ErrUnauthorized)
	assert.ErrorIs(t, student.RequireTeacher(), ErrForbidden)
	assert.NoError(t, teacher.RequireTeacher())

	assert.NoError(t, student.RequireSelfOrTeacher("s1"))
	assert.ErrorIs(t, student.RequireSelfOrTeacher("s2"), ErrNotYourData)
	assert.NoError(t, teacher.RequireSelfOrTeacher("s2"))
	assert.ErrorIs(t, anon.RequireSelfOrTeacher("s1"), ErrNoSession)

	ctx := WithSession(context.Background(), student)
	got, ok := SessionFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, student, got)
	_, ok = SessionFromContext(context.Background())
	assert.False(t, ok)
}

func TestPoints(t *testing.T) {
	p, err := NewPoints(3)
	require.NoError(t, err)

	p, err = p.Apply(-3)
	require.NoError(t, err)
	assert.Equal(t, 0, p.Int())

	_, err = p.Apply(-1)
	assert.ErrorIs(t, err, ErrNegativeValue)
	_, err = NewPoints(-1)
	assert.ErrorIs(t, err, ErrNegativeValue)
}

func TestTimeRange(t *testing.T) {
	start := time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC)
	week, err := NewTimeRange(start, start.AddDate(0, 0, 7))
	require.NoError(t, err)

	assert.True(t, week.Contains(start))
	assert.False(t, week.Contains(start.AddDate(0, 0, 7)), "half-open")
	assert.Equal(t, 7*24*time.Hour, week.Duration())

	_, err = NewTimeRange(start, start)
	assert.ErrorIs(t, err, ErrInvalidInput)
}
