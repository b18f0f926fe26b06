package command

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/alem-hub/questpoints/internal/domain/course"
	"github.com/alem-hub/questpoints/internal/domain/ledger"
	"github.com/alem-hub/questpoints/internal/domain/question"
	"github.com/alem-hub/questpoints/internal/domain/shared"
	"github.com/alem-hub/questpoints/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET QUESTION ASSIGNMENTS COMMAND
// Week 2. The first fetch samples peer questions and persists the selection;
// later fetches return the stored record unchanged. A selection smaller than
// the assignment size is compensated with automatic validation points, once,
// by whichever fetch stored the record.
//
// This is a command rather than a query because the first call writes.
// ══════════════════════════════════════════════════════════════════════════════

// GetQuestionAssignmentsCommand asks for a student's validation assignment.
type GetQuestionAssignmentsCommand struct {
	Session   shared.Session
	StudentID shared.StudentID
	ModuleID  shared.ModuleID
}

// GetQuestionAssignmentsResult is the persisted assignment with its questions.
type GetQuestionAssignmentsResult struct {
	Assignment *question.Assignment

	// Questions are the assigned questions in assignment order.
	Questions []*question.Question

	// AutomaticPoints is the scarcity compensation of this assignment.
	AutomaticPoints int

	// Issued is true when this call created the assignment.
	Issued bool

	// Notice is NoticeAwardFailed when the assignment was stored but its
	// automatic points could not be written.
	Notice string
}

// AssignmentConfig contains configuration for the handler.
type AssignmentConfig struct {
	EnforcePhases bool

	// AutomaticPoints awards scarcity compensation when an assignment is
	// issued short.
	AutomaticPoints bool

	// AutomaticPointsFor narrows AutomaticPoints to some students, e.g. a
	// percentage rollout. Nil compensates everyone.
	AutomaticPointsFor func(shared.StudentID) bool

	// Shuffler overrides the random source. Tests pin it.
	Shuffler question.Shuffler

	Logger *logger.Logger
	Clock  Clock
}

// DefaultAssignmentConfig returns default configuration.
func DefaultAssignmentConfig() AssignmentConfig {
	return AssignmentConfig{
		EnforcePhases:   true,
		AutomaticPoints: true,
	}
}

// GetQuestionAssignmentsHandler handles GetQuestionAssignmentsCommand.
type GetQuestionAssignmentsHandler struct {
	questions   question.Repository
	assignments question.AssignmentRepository
	modules     course.Directory
	awarder     *Awarder
	publisher   shared.EventPublisher
	config      AssignmentConfig
}

// NewGetQuestionAssignmentsHandler creates a new GetQuestionAssignmentsHandler.
func NewGetQuestionAssignmentsHandler(
	questions question.Repository,
	assignments question.AssignmentRepository,
	modules course.Directory,
	awarder *Awarder,
	publisher shared.EventPublisher,
	config AssignmentConfig,
) *GetQuestionAssignmentsHandler {
	if publisher == nil {
		publisher = shared.NoopPublisher{}
	}
	if config.Shuffler == nil {
		config.Shuffler = newLockedRand(time.Now().UnixNano())
	}
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}
	if config.Clock == nil {
		config.Clock = systemClock
	}
	return &GetQuestionAssignmentsHandler{
		questions:   questions,
		assignments: assignments,
		modules:     modules,
		awarder:     awarder,
		publisher:   publisher,
		config:      config,
	}
}

// Handle executes the command.
func (h *GetQuestionAssignmentsHandler) Handle(ctx context.Context, cmd GetQuestionAssignmentsCommand) (*GetQuestionAssignmentsResult, error) {
	if err := cmd.Session.RequireSelfOrTeacher(cmd.StudentID); err != nil {
		return nil, err
	}
	if !cmd.StudentID.IsValid() {
		return nil, ledger.ErrInvalidStudent
	}
	now := h.config.Clock()

	mc, err := loadModule(ctx, h.modules, cmd.ModuleID)
	if err != nil {
		return nil, err
	}
	if err := checkPhase(mc.module, course.PhaseValidation, now, h.config.EnforcePhases); err != nil {
		return nil, err
	}
	week := mc.courseWeek(course.PhaseValidation.Week())

	a, err := h.assignments.Get(ctx, cmd.StudentID, mc.module.ID, week)
	issued, notice := false, ""
	switch {
	case err == nil:
	case errors.Is(err, question.ErrAssignmentNotFound):
		a, issued, notice, err = h.issue(ctx, cmd, mc, week, now)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("load assignment: %w", err)
	}

	qs, err := h.load(ctx, a)
	if err != nil {
		return nil, err
	}
	return &GetQuestionAssignmentsResult{
		Assignment:      a,
		Questions:       qs,
		AutomaticPoints: a.AutomaticPoints,
		Issued:          issued,
		Notice:          notice,
	}, nil
}

func (h *GetQuestionAssignmentsHandler) compensates(student shared.StudentID) bool {
	if !h.config.AutomaticPoints {
		return false
	}
	return h.config.AutomaticPointsFor == nil || h.config.AutomaticPointsFor(student)
}

func (h *GetQuestionAssignmentsHandler) issue(ctx context.Context, cmd GetQuestionAssignmentsCommand, mc moduleContext, week int, now time.Time) (*question.Assignment, bool, string, error) {
	all, err := h.questions.ListByModule(ctx, mc.module.ID)
	if err != nil {
		return nil, false, "", fmt.Errorf("list module questions: %w", err)
	}
	existing, err := h.assignments.ListByModuleWeek(ctx, mc.module.ID, week)
	if err != nil {
		return nil, false, "", fmt.Errorf("list assignments: %w", err)
	}

	// Eligibility ignores other assignments; their load only orders the sample.
	size := h.awarder.Policy().AssignmentSize
	candidates := question.Candidates(all, cmd.StudentID)
	draft := question.NewAssignment(cmd.StudentID, mc.module.ID, week, candidates, question.AssignmentLoad(existing), size, h.config.Shuffler, now)
	if !h.compensates(cmd.StudentID) {
		draft.AutomaticPoints = 0
	}

	stored, created, err := h.assignments.CreateIfAbsent(ctx, draft)
	if err != nil {
		return nil, false, "", fmt.Errorf("store assignment: %w", err)
	}
	if !created {
		// A concurrent fetch stored first; its selection and compensation stand.
		return stored, false, "", nil
	}

	// The assignment is stored and will not be issued again; a failed award
	// is left for a teacher rather than failing the fetch.
	notice := ""
	if err := h.compensate(ctx, cmd.Session, stored, mc); err != nil {
		h.config.Logger.Error("assignment stored but automatic points failed",
			logger.StudentID(stored.StudentID.String()),
			logger.ModuleID(stored.ModuleID.String()),
			logger.Int("week", stored.Week),
			logger.Int("automatic_points", stored.AutomaticPoints),
			logger.Err(err),
		)
		notice = NoticeAwardFailed
	}

	ids := make([]string, len(stored.QuestionIDs))
	for i, id := range stored.QuestionIDs {
		ids[i] = id.String()
	}
	event := shared.NewAssignmentIssuedEvent(stored.StudentID.String(), stored.ModuleID.String(), ids, stored.AutomaticPoints)
	event.BaseEvent = correlate(event.BaseEvent, cmd.Session)
	if err := h.publisher.Publish(event); err != nil {
		h.config.Logger.Warn("publish assignment.issued failed", logger.StudentID(stored.StudentID.String()), logger.Err(err))
	}
	h.config.Logger.Info("assignment issued",
		logger.StudentID(stored.StudentID.String()),
		logger.ModuleID(stored.ModuleID.String()),
		logger.Int("questions", len(stored.QuestionIDs)),
		logger.Int("automatic_points", stored.AutomaticPoints),
	)
	return stored, true, notice, nil
}

// compensate awards one capped validation transaction per missing question.
func (h *GetQuestionAssignmentsHandler) compensate(ctx context.Context, s shared.Session, a *question.Assignment, mc moduleContext) error {
	key := fmt.Sprintf("%s:%s:%d", a.StudentID, a.ModuleID, a.Week)
	for i := 0; i < a.AutomaticPoints; i++ {
		_, awarded, err := h.awarder.AwardCapped(ctx, s, Award{
			StudentID:  a.StudentID,
			ModuleID:   mc.module.ID,
			Category:   ledger.CategoryQuestionValidation,
			Points:     h.awarder.Policy().PointsPerAward,
			Reason:     fmt.Sprintf("Automatic validation points in %s (week %d), not enough questions to validate", mc.module.Title, a.Week),
			Related:    &ledger.RelatedEntity{EntityType: "assignment", EntityID: key},
			WeekNumber: a.Week,
			Automatic:  true,
		})
		if err != nil {
			return fmt.Errorf("award automatic points: %w", err)
		}
		if !awarded {
			break
		}
	}
	return nil
}

func (h *GetQuestionAssignmentsHandler) load(ctx context.Context, a *question.Assignment) ([]*question.Question, error) {
	out := make([]*question.Question, 0, len(a.QuestionIDs))
	for _, id := range a.QuestionIDs {
		q, err := h.questions.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, question.ErrQuestionNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}

// lockedRand is a *rand.Rand safe for concurrent handlers.
type lockedRand struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func newLockedRand(seed int64) *lockedRand {
	return &lockedRand{rng: rand.New(rand.NewSource(seed))}
}

func (r *lockedRand) Shuffle(n int, swap func(i, j int)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rng.Shuffle(n, swap)
}
