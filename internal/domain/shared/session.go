package shared

import "context"

// Role is the coarse permission level of the caller.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
)

// Session describes who is calling and in which course context.
// It is built once per request by the interface layer and passed explicitly
// into every command and query; the core keeps no state between calls.
type Session struct {
	UserID    StudentID
	Role      Role
	SubjectID SubjectID
	RequestID string
}

// IsTeacher reports whether the caller has teacher permissions.
func (s Session) IsTeacher() bool {
	return s.Role == RoleTeacher
}

// IsAuthenticated reports whether the session carries a user.
func (s Session) IsAuthenticated() bool {
	return s.UserID.IsValid()
}

// RequireTeacher returns an error unless the caller is an authenticated teacher.
func (s Session) RequireTeacher() error {
	if !s.IsAuthenticated() {
		return ErrNoSession
	}
	if !s.IsTeacher() {
		return ErrTeacherOnly
	}
	return nil
}

// RequireSelfOrTeacher allows teachers everything and students only their own data.
func (s Session) RequireSelfOrTeacher(studentID StudentID) error {
	if !s.IsAuthenticated() {
		return ErrNoSession
	}
	if s.IsTeacher() || s.UserID == studentID {
		return nil
	}
	return ErrNotYourData
}

type sessionKey struct{}

// WithSession attaches the session to ctx.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFromContext returns the session attached by WithSession.
func SessionFromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(Session)
	return s, ok
}
