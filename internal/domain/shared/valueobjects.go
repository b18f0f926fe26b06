package shared

import (
	"strings"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// IDENTIFIERS
// ══════════════════════════════════════════════════════════════════════════════

// StudentID identifies a user of the course (student or teacher).
// The identity collaborator owns the format; the core only requires it to be non-empty.
type StudentID string

// IsValid returns true if the ID is non-empty.
func (s StudentID) IsValid() bool {
	return strings.TrimSpace(string(s)) != ""
}

// String returns the string representation.
func (s StudentID) String() string {
	return string(s)
}

// NewStudentID creates a validated StudentID.
func NewStudentID(id string) (StudentID, error) {
	sid := StudentID(strings.TrimSpace(id))
	if !sid.IsValid() {
		return "", ErrInvalidID
	}
	return sid, nil
}

// ModuleID identifies a course module.
type ModuleID string

// IsValid returns true if the ID is non-empty.
func (m ModuleID) IsValid() bool {
	return strings.TrimSpace(string(m)) != ""
}

// String returns the string representation.
func (m ModuleID) String() string {
	return string(m)
}

// SubjectID identifies a subject (a course that owns modules).
type SubjectID string

// IsValid returns true if the ID is non-empty.
func (s SubjectID) IsValid() bool {
	return strings.TrimSpace(string(s)) != ""
}

// String returns the string representation.
func (s SubjectID) String() string {
	return string(s)
}

// QuestionID identifies a quiz question.
type QuestionID string

// IsValid returns true if the ID is non-empty.
func (q QuestionID) IsValid() bool {
	return strings.TrimSpace(string(q)) != ""
}

// String returns the string representation.
func (q QuestionID) String() string {
	return string(q)
}

// TransactionID identifies a point transaction.
type TransactionID string

// IsValid returns true if the ID is non-empty.
func (t TransactionID) IsValid() bool {
	return strings.TrimSpace(string(t)) != ""
}

// String returns the string representation.
func (t TransactionID) String() string {
	return string(t)
}

// ══════════════════════════════════════════════════════════════════════════════
// POINTS
// ══════════════════════════════════════════════════════════════════════════════

// Points is a non-negative amount of points held by a single transaction.
type Points int

// IsValid returns true if the amount is not negative.
func (p Points) IsValid() bool {
	return p >= 0
}

// Int returns the integer value.
func (p Points) Int() int {
	return int(p)
}

// Apply returns p+delta, or ErrNegativeValue if the result would be negative.
func (p Points) Apply(delta int) (Points, error) {
	next := int(p) + delta
	if next < 0 {
		return p, ErrNegativeValue
	}
	return Points(next), nil
}

// NewPoints creates a validated Points value.
func NewPoints(amount int) (Points, error) {
	if amount < 0 {
		return 0, ErrNegativeValue
	}
	return Points(amount), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// TIME
// ══════════════════════════════════════════════════════════════════════════════

// TimeRange represents a half-open time interval [From, To).
type TimeRange struct {
	From time.Time
	To   time.Time
}

// IsValid returns true if From is before To.
func (t TimeRange) IsValid() bool {
	return t.From.Before(t.To)
}

// Duration returns the duration of the range.
func (t TimeRange) Duration() time.Duration {
	return t.To.Sub(t.From)
}

// Contains checks if a time is within the range.
func (t TimeRange) Contains(tm time.Time) bool {
	return !tm.Before(t.From) && tm.Before(t.To)
}

// NewTimeRange creates a validated TimeRange.
func NewTimeRange(from, to time.Time) (TimeRange, error) {
	tr := TimeRange{From: from, To: to}
	if !tr.IsValid() {
		return TimeRange{}, ErrInvalidInput
	}
	return tr, nil
}
