// Package question contains the quiz question aggregate and its peer
// validation lifecycle: create, validate, respond, and the independent
// teacher review.
package question

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/questpoints/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// OptionKey is one of the four answer slots.
type OptionKey string

const (
	OptionA OptionKey = "a"
	OptionB OptionKey = "b"
	OptionC OptionKey = "c"
	OptionD OptionKey = "d"
)

// OptionKeys lists the answer slots in display order.
var OptionKeys = []OptionKey{OptionA, OptionB, OptionC, OptionD}

// IsValid reports whether k is a-d.
func (k OptionKey) IsValid() bool {
	switch k {
	case OptionA, OptionB, OptionC, OptionD:
		return true
	}
	return false
}

// Content is the editable part of a question.
type Content struct {
	Text    string
	Options map[OptionKey]string
	Correct OptionKey
}

// Normalize trims whitespace in place.
func (c *Content) Normalize() {
	c.Text = strings.TrimSpace(c.Text)
	c.Correct = OptionKey(strings.ToLower(strings.TrimSpace(string(c.Correct))))
	for k, v := range c.Options {
		c.Options[k] = strings.TrimSpace(v)
	}
}

// Validate checks that the text is present, all four options are filled and
// the correct key points at one of them.
func (c Content) Validate() error {
	if strings.TrimSpace(c.Text) == "" {
		return ErrEmptyText
	}
	if len(c.Options) != len(OptionKeys) {
		return ErrInvalidOptions
	}
	for _, k := range OptionKeys {
		if strings.TrimSpace(c.Options[k]) == "" {
			return ErrInvalidOptions
		}
	}
	if !c.Correct.IsValid() {
		return ErrInvalidCorrect
	}
	return nil
}

func (c Content) clone() Content {
	opts := make(map[OptionKey]string, len(c.Options))
	for k, v := range c.Options {
		opts[k] = v
	}
	c.Options = opts
	return c
}

// PeerValidation is the verdict of a fellow student.
type PeerValidation struct {
	Valid       bool
	Comment     string
	ValidatedBy shared.StudentID
	ValidatedAt time.Time
}

// Agreement is the creator's answer to the peer verdict.
type Agreement struct {
	Agreed      bool
	Comment     string
	RespondedAt time.Time
}

// TeacherReview is the teacher's verdict. It never gates anything else.
type TeacherReview struct {
	Valid      bool
	Comment    string
	ReviewedBy shared.StudentID
	ReviewedAt time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// STATE
// ══════════════════════════════════════════════════════════════════════════════

// State is the position of a question in the create, validate, respond chain.
// It is derived from the stored fields and never persisted on its own.
type State string

const (
	// StateCreated is a question that has not been stored yet.
	StateCreated State = "created"
	// StatePendingPeerValidation is waiting for a fellow student's verdict.
	StatePendingPeerValidation State = "pending_peer_validation"
	// StatePeerValidated has a verdict and waits for the creator.
	StatePeerValidated State = "peer_validated"
	// StateCreatorResponded is the end of the chain.
	StateCreatorResponded State = "creator_responded"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: QUESTION
// ══════════════════════════════════════════════════════════════════════════════

// Question is a multiple-choice quiz question authored by a student.
type Question struct {
	ID        shared.QuestionID
	ModuleID  shared.ModuleID
	CreatorID shared.StudentID
	Content   Content

	// Validation is nil until a peer has validated the question.
	Validation *PeerValidation

	// Agreement is nil until the creator has responded; it requires Validation.
	Agreement *Agreement

	// Teacher is nil until a teacher has reviewed the question.
	Teacher *TeacherReview

	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewQuestion validates the content and builds an unsaved question.
func NewQuestion(moduleID shared.ModuleID, creatorID shared.StudentID, content Content, now time.Time) (*Question, error) {
	if !moduleID.IsValid() {
		return nil, ErrInvalidModule
	}
	if !creatorID.IsValid() {
		return nil, ErrInvalidCreator
	}
	content = content.clone()
	content.Normalize()
	if err := content.Validate(); err != nil {
		return nil, err
	}

	return &Question{
		ID:        shared.QuestionID(uuid.NewString()),
		ModuleID:  moduleID,
		CreatorID: creatorID,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// State derives the lifecycle state.
func (q *Question) State() State {
	switch {
	case q.Version == 0:
		return StateCreated
	case q.Agreement != nil:
		return StateCreatorResponded
	case q.Validation != nil:
		return StatePeerValidated
	default:
		return StatePendingPeerValidation
	}
}

// IsPeerValidated reports whether validated_by is set.
func (q *Question) IsPeerValidated() bool {
	return q.Validation != nil
}

// IsTeacherValidated reports whether a teacher has reviewed the question.
func (q *Question) IsTeacherValidated() bool {
	return q.Teacher != nil
}

// CanValidate checks that validator may give the first peer verdict.
func (q *Question) CanValidate(validator shared.StudentID) error {
	if !validator.IsValid() {
		return shared.ErrNoSession
	}
	if validator == q.CreatorID {
		return ErrSelfValidation
	}
	if q.Validation != nil {
		return ErrAlreadyValidated
	}
	return nil
}

// Validate records the first peer verdict.
func (q *Question) Validate(validator shared.StudentID, valid bool, comment string, now time.Time) error {
	if err := q.CanValidate(validator); err != nil {
		return err
	}
	q.Validation = &PeerValidation{
		Valid:       valid,
		Comment:     strings.TrimSpace(comment),
		ValidatedBy: validator,
		ValidatedAt: now,
	}
	q.touch(now)
	return nil
}

// CanRespond checks that actor may answer the peer verdict.
func (q *Question) CanRespond(actor shared.StudentID) error {
	if actor != q.CreatorID {
		return ErrNotCreator
	}
	if q.Validation == nil {
		return ErrNotValidated
	}
	if q.Agreement != nil {
		return ErrAlreadyResponded
	}
	return nil
}

// Respond records the creator's agreement or disagreement, exactly once.
func (q *Question) Respond(actor shared.StudentID, agreed bool, comment string, now time.Time) error {
	if err := q.CanRespond(actor); err != nil {
		return err
	}
	q.Agreement = &Agreement{
		Agreed:      agreed,
		Comment:     strings.TrimSpace(comment),
		RespondedAt: now,
	}
	q.touch(now)
	return nil
}

// TeacherValidate records or replaces the teacher's verdict. The comment is mandatory.
func (q *Question) TeacherValidate(teacher shared.StudentID, valid bool, comment string, now time.Time) error {
	comment = strings.TrimSpace(comment)
	if comment == "" {
		return ErrTeacherCommentRequired
	}
	q.Teacher = &TeacherReview{
		Valid:      valid,
		Comment:    comment,
		ReviewedBy: teacher,
		ReviewedAt: now,
	}
	q.touch(now)
	return nil
}

// Edit replaces the content. Only the creator may edit; the state is unchanged.
func (q *Question) Edit(actor shared.StudentID, content Content, now time.Time) error {
	if actor != q.CreatorID {
		return ErrNotCreator
	}
	content = content.clone()
	content.Normalize()
	if err := content.Validate(); err != nil {
		return err
	}
	q.Content = content
	q.touch(now)
	return nil
}

// Clone returns a deep copy.
func (q *Question) Clone() *Question {
	c := *q
	c.Content = q.Content.clone()
	if q.Validation != nil {
		v := *q.Validation
		c.Validation = &v
	}
	if q.Agreement != nil {
		a := *q.Agreement
		c.Agreement = &a
	}
	if q.Teacher != nil {
		t := *q.Teacher
		c.Teacher = &t
	}
	return &c
}

func (q *Question) touch(now time.Time) {
	q.Version++
	q.UpdatedAt = now
}
