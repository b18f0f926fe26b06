// Package student holds the read-only profile of a course participant.
// Accounts are managed elsewhere; this package only describes what the
// points service needs to render a summary.
package student

import (
	"errors"
	"strings"
	"time"

	"github.com/alem-hub/questpoints/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENUMS
// ══════════════════════════════════════════════════════════════════════════════

// Status is the enrollment status of a participant.
type Status string

const (
	// StatusActive is currently enrolled.
	StatusActive Status = "active"
	// StatusLeft has left the course; history is kept.
	StatusLeft Status = "left"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusActive, StatusLeft:
		return true
	default:
		return false
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: PROFILE
// ══════════════════════════════════════════════════════════════════════════════

// Profile is the user object embedded in points summaries.
type Profile struct {
	ID          shared.StudentID
	DisplayName string
	Email       string
	Role        shared.Role
	Status      Status
	SubjectIDs  []shared.SubjectID
	CreatedAt   time.Time
}

var (
	ErrStudentNotFound    = shared.NewDomainError("student", "Find", shared.ErrNotFound, "student not found")
	ErrInvalidDisplayName = errors.New("invalid display name: must be 1-100 chars")
)

// NewProfile validates and normalizes a profile.
func NewProfile(id shared.StudentID, displayName, email string, role shared.Role) (*Profile, error) {
	if !id.IsValid() {
		return nil, shared.NewDomainError("student", "Validate", shared.ErrInvalidID, "student id is required")
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" || len(displayName) > 100 {
		return nil, ErrInvalidDisplayName
	}
	if role == "" {
		role = shared.RoleStudent
	}
	return &Profile{
		ID:          id,
		DisplayName: displayName,
		Email:       strings.ToLower(strings.TrimSpace(email)),
		Role:        role,
		Status:      StatusActive,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// IsTeacher reports whether the profile has teacher permissions.
func (p *Profile) IsTeacher() bool {
	return p.Role == shared.RoleTeacher
}

// EnrolledIn reports whether the participant belongs to the subject.
func (p *Profile) EnrolledIn(subject shared.SubjectID) bool {
	for _, s := range p.SubjectIDs {
		if s == subject {
			return true
		}
	}
	return false
}

// Placeholder builds the profile shown for IDs the directory does not know.
// The ledger may still hold points for them.
func Placeholder(id shared.StudentID) *Profile {
	return &Profile{ID: id, DisplayName: string(id), Role: shared.RoleStudent, Status: StatusLeft}
}
