package command

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alem-hub/questpoints/internal/domain/course"
	"github.com/alem-hub/questpoints/internal/domain/ledger"
	"github.com/alem-hub/questpoints/internal/domain/question"
	"github.com/alem-hub/questpoints/internal/domain/shared"
	"github.com/alem-hub/questpoints/internal/infrastructure/persistence/memory"
)

var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type fixture struct {
	ledger      *memory.LedgerStore
	questions   *memory.QuestionStore
	assignments *memory.AssignmentStore
	courses     *memory.CourseDirectory
	events      *eventLog
	recorder    *countingRecorder
	awarder     *Awarder
	lifecycle   LifecycleConfig
}

// newFixture builds a subject "sub" with modules m1 and m2. Modules have no
// start date, so phases are not enforced unless a test sets one.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ledger:      memory.NewLedgerStore(),
		questions:   memory.NewQuestionStore(),
		assignments: memory.NewAssignmentStore(),
		courses: memory.NewCourseDirectory(
			&course.Module{ID: "m1", SubjectID: "sub", Title: "Module 1", Position: 0},
			&course.Module{ID: "m2", SubjectID: "sub", Title: "Module 2", Position: 1},
		),
		events:   &eventLog{},
		recorder: &countingRecorder{},
	}
	clock := func() time.Time { return testNow }
	f.awarder = NewAwarder(f.ledger, f.events, AwarderConfig{Recorder: f.recorder, Clock: clock})
	f.lifecycle = LifecycleConfig{EnforcePhases: true, Clock: clock}
	return f
}

func studentSession(id shared.StudentID) shared.Session {
	return shared.Session{UserID: id, Role: shared.RoleStudent, SubjectID: "sub"}
}

func teacherSession() shared.Session {
	return shared.Session{UserID: "teacher", Role: shared.RoleTeacher, SubjectID: "sub", RequestID: "req-1"}
}

func sampleContent(text string) question.Content {
	return question.Content{
		Text: text,
		Options: map[question.OptionKey]string{
			question.OptionA: "one",
			question.OptionB: "two",
			question.OptionC: "three",
			question.OptionD: "four",
		},
		Correct: question.OptionB,
	}
}

func (f *fixture) create(t *testing.T, creator shared.StudentID, module shared.ModuleID, text string) *LifecycleResult {
	t.Helper()
	h := NewCreateQuestionHandler(f.questions, f.courses, f.awarder, f.events, f.lifecycle)
	res, err := h.Handle(context.Background(), CreateQuestionCommand{
		Session:  studentSession(creator),
		ModuleID: module,
		Content:  sampleContent(text),
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) validate(creator shared.StudentID, qID shared.QuestionID, valid bool) (*LifecycleResult, error) {
	h := NewValidateQuestionHandler(f.questions, f.courses, f.awarder, f.events, f.lifecycle)
	return h.Handle(context.Background(), ValidateQuestionCommand{
		Session:    studentSession(creator),
		QuestionID: qID,
		Valid:      valid,
		Comment:    "looks fine",
	})
}

func (f *fixture) respond(actor shared.StudentID, qID shared.QuestionID, agreed bool) (*LifecycleResult, error) {
	h := NewRespondToValidationHandler(f.questions, f.courses, f.awarder, f.events, f.lifecycle)
	return h.Handle(context.Background(), RespondToValidationCommand{
		Session:    studentSession(actor),
		QuestionID: qID,
		Agreed:     agreed,
		Comment:    "ok",
	})
}

func (f *fixture) transactions(t *testing.T, id shared.StudentID) []*ledger.Transaction {
	t.Helper()
	txs, err := f.ledger.ListByStudent(context.Background(), id)
	require.NoError(t, err)
	return txs
}

// seed appends a transaction directly, bypassing caps.
func (f *fixture) seed(t *testing.T, p ledger.NewTransactionParams) *ledger.Transaction {
	t.Helper()
	if p.Reason == "" {
		p.Reason = "seed"
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = testNow
	}
	tx, err := ledger.NewTransaction(p)
	require.NoError(t, err)
	require.NoError(t, f.ledger.Append(context.Background(), tx))
	return tx
}

// ══════════════════════════════════════════════════════════════════════════════
// TEST DOUBLES
// ══════════════════════════════════════════════════════════════════════════════

type eventLog struct {
	mu     sync.Mutex
	events []shared.Event
}

func (l *eventLog) Publish(e shared.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

func (l *eventLog) types() []shared.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]shared.EventType, len(l.events))
	for i, e := range l.events {
		out[i] = e.EventType()
	}
	return out
}

type countingRecorder struct {
	mu       sync.Mutex
	awards   int
	rejected int
	edits    []string
	retries  int
}

func (r *countingRecorder) RecordAward(_ string, awarded bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if awarded {
		r.awards++
	} else {
		r.rejected++
	}
}

func (r *countingRecorder) RecordEdit(kind, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.edits = append(r.edits, kind)
}

func (r *countingRecorder) RecordRetry() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries++
}

// keepOrder leaves candidates in their (CreatedAt, ID) order.
type keepOrder struct{}

func (keepOrder) Shuffle(int, func(i, j int)) {}

// conflictingLedger fails the first n UpdatePoints calls with a version conflict.
type conflictingLedger struct {
	ledger.Repository
	mu sync.Mutex
	n  int
}

func (c *conflictingLedger) UpdatePoints(ctx context.Context, id shared.TransactionID, points shared.Points, reason string, expectedVersion int) (*ledger.Transaction, error) {
	c.mu.Lock()
	if c.n > 0 {
		c.n--
		c.mu.Unlock()
		return nil, ledger.ErrVersionConflict
	}
	c.mu.Unlock()
	return c.Repository.UpdatePoints(ctx, id, points, reason, expectedVersion)
}
