// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/questpoints/internal/domain/course"
	"github.com/alem-hub/questpoints/internal/domain/ledger"
	"github.com/alem-hub/questpoints/internal/domain/shared"
	"github.com/alem-hub/questpoints/internal/domain/student"
	"github.com/alem-hub/questpoints/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET POINTS SUMMARY QUERY
// Per-student projection of the ledger: the user, every transaction and the
// bucketed breakdown. Recomputed from the ledger unless a cached copy exists.
// ══════════════════════════════════════════════════════════════════════════════

// GetPointsSummaryQuery contains the query parameters.
type GetPointsSummaryQuery struct {
	Session shared.Session

	// StudentIDs to summarize. Empty means everyone in the subject (teachers only)
	// or the caller (students).
	StudentIDs []shared.StudentID

	// SubjectID selects the module list. Defaults to the session subject.
	SubjectID shared.SubjectID
}

// UserDTO is the user part of a summary.
type UserDTO struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email,omitempty"`
	Role        string `json:"role"`
}

// TransactionDTO is one ledger row.
type TransactionDTO struct {
	ID         string    `json:"id"`
	Points     int       `json:"points"`
	Category   string    `json:"category"`
	Reason     string    `json:"reason"`
	QuestionID string    `json:"questionId,omitempty"`
	ModuleID   string    `json:"moduleId,omitempty"`
	WeekNumber int       `json:"weekNumber,omitempty"`
	EntityType string    `json:"relatedEntityType,omitempty"`
	EntityID   string    `json:"relatedEntityId,omitempty"`
	Version    int       `json:"version"`
	CreatedAt  time.Time `json:"createdAt"`
}

// PointsDTO is the raw ledger view.
type PointsDTO struct {
	TotalPoints int              `json:"totalPoints"`
	Details     []TransactionDTO `json:"details"`
}

// ModuleColumnDTO is one module column of the points table.
type ModuleColumnDTO struct {
	Slot       int    `json:"slot"`
	ModuleID   string `json:"moduleId"`
	Title      string `json:"title,omitempty"`
	Creation   int    `json:"questionCreation"`
	Validation int    `json:"questionValidation"`
	Reparation int    `json:"questionReparation"`
	Total      int    `json:"total"`
}

// BreakdownDTO is the bucketed view.
type BreakdownDTO struct {
	Modules []ModuleColumnDTO `json:"modules"`
	Special map[string]int    `json:"special"`
}

// PointsSummaryDTO is the summary of one student.
type PointsSummaryDTO struct {
	User      UserDTO      `json:"user"`
	Points    PointsDTO    `json:"points"`
	Breakdown BreakdownDTO `json:"breakdown"`
}

// GetPointsSummaryResult contains the summaries in request order.
type GetPointsSummaryResult struct {
	Data        []PointsSummaryDTO `json:"data"`
	GeneratedAt time.Time          `json:"generatedAt"`
}

// SummaryCache stores computed summaries. A miss returns false with no error.
// Get also returns the student's cache generation; Set stores nothing when
// the student was invalidated after that generation was read.
type SummaryCache interface {
	Get(ctx context.Context, studentID shared.StudentID, subjectID shared.SubjectID, dest any) (hit bool, gen int64, err error)
	Set(ctx context.Context, studentID shared.StudentID, subjectID shared.SubjectID, gen int64, summary any) error
}

// SummaryConfig contains configuration for the handler.
type SummaryConfig struct {
	// LegacyWeekParsing enables the reason-text week shim of the bucketer.
	LegacyWeekParsing bool

	// Cache is optional; nil disables caching.
	Cache SummaryCache

	Logger *logger.Logger
}

// GetPointsSummaryHandler handles GetPointsSummaryQuery.
type GetPointsSummaryHandler struct {
	ledger   ledger.Repository
	students student.Directory
	modules  course.Directory
	config   SummaryConfig
	logger   *logger.Logger
}

// NewGetPointsSummaryHandler creates a new GetPointsSummaryHandler.
func NewGetPointsSummaryHandler(repo ledger.Repository, students student.Directory, modules course.Directory, config SummaryConfig) *GetPointsSummaryHandler {
	log := config.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &GetPointsSummaryHandler{
		ledger:   repo,
		students: students,
		modules:  modules,
		config:   config,
		logger:   log.With(logger.Component("points_summary")),
	}
}

// Handle executes the query.
func (h *GetPointsSummaryHandler) Handle(ctx context.Context, q GetPointsSummaryQuery) (*GetPointsSummaryResult, error) {
	if !q.Session.IsAuthenticated() {
		return nil, shared.ErrNoSession
	}
	if q.SubjectID == "" {
		q.SubjectID = q.Session.SubjectID
	}

	ids, err := h.resolveStudents(ctx, q)
	if err != nil {
		return nil, err
	}

	result := &GetPointsSummaryResult{Data: make([]PointsSummaryDTO, len(ids)), GeneratedAt: time.Now().UTC()}
	missing := make([]int, 0, len(ids))
	gens := make([]int64, len(ids))
	cacheable := make([]bool, len(ids))
	for i, id := range ids {
		hit, gen, ok := h.fromCache(ctx, id, q.SubjectID, &result.Data[i])
		if hit {
			continue
		}
		gens[i], cacheable[i] = gen, ok
		missing = append(missing, i)
	}
	if len(missing) == 0 {
		return result, nil
	}

	missingIDs := make([]shared.StudentID, len(missing))
	for j, i := range missing {
		missingIDs[j] = ids[i]
	}
	computed, err := h.compute(ctx, missingIDs, q.SubjectID)
	if err != nil {
		return nil, err
	}
	for j, i := range missing {
		result.Data[i] = computed[j]
		if cacheable[i] {
			h.toCache(ctx, ids[i], q.SubjectID, gens[i], computed[j])
		}
	}
	return result, nil
}

func (h *GetPointsSummaryHandler) resolveStudents(ctx context.Context, q GetPointsSummaryQuery) ([]shared.StudentID, error) {
	if len(q.StudentIDs) == 0 {
		if !q.Session.IsTeacher() {
			return []shared.StudentID{q.Session.UserID}, nil
		}
		profiles, err := h.students.ListBySubject(ctx, q.SubjectID, student.DefaultListOptions())
		if err != nil {
			return nil, fmt.Errorf("list students: %w", err)
		}
		ids := make([]shared.StudentID, len(profiles))
		for i, p := range profiles {
			ids[i] = p.ID
		}
		return ids, nil
	}

	seen := make(map[shared.StudentID]bool, len(q.StudentIDs))
	ids := make([]shared.StudentID, 0, len(q.StudentIDs))
	for _, id := range q.StudentIDs {
		if !id.IsValid() {
			return nil, shared.NewDomainError("query", "GetPointsSummary", shared.ErrInvalidID, "student id must not be empty")
		}
		if err := q.Session.RequireSelfOrTeacher(id); err != nil {
			return nil, err
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// compute builds summaries for ids straight from the ledger.
func (h *GetPointsSummaryHandler) compute(ctx context.Context, ids []shared.StudentID, subject shared.SubjectID) ([]PointsSummaryDTO, error) {
	modules, err := h.modules.ListModulesForSubject(ctx, subject)
	if err != nil && !shared.IsNotFound(err) {
		return nil, fmt.Errorf("list modules: %w", err)
	}
	bucketer := ledger.NewBucketer(modules, ledger.WithLegacyWeekParsing(h.config.LegacyWeekParsing))

	byStudent, err := h.ledger.ListByStudents(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	profiles, err := h.students.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load profiles: %w", err)
	}
	known := make(map[shared.StudentID]*student.Profile, len(profiles))
	for _, p := range profiles {
		known[p.ID] = p
	}

	out := make([]PointsSummaryDTO, len(ids))
	for i, id := range ids {
		p, ok := known[id]
		if !ok {
			p = student.Placeholder(id)
		}
		out[i] = BuildSummary(p, byStudent[id], bucketer)
	}
	return out, nil
}

// fromCache reports a hit, the generation to store a fresh copy under, and
// whether storing is safe at all. A failed read never leads to a write.
func (h *GetPointsSummaryHandler) fromCache(ctx context.Context, id shared.StudentID, subject shared.SubjectID, dest *PointsSummaryDTO) (hit bool, gen int64, cacheable bool) {
	if h.config.Cache == nil {
		return false, 0, false
	}
	hit, gen, err := h.config.Cache.Get(ctx, id, subject, dest)
	if err != nil {
		h.logger.Warn("summary cache read failed", logger.StudentID(id.String()), logger.Err(err))
		*dest = PointsSummaryDTO{}
		return false, 0, false
	}
	if !hit {
		*dest = PointsSummaryDTO{}
	}
	return hit, gen, true
}

func (h *GetPointsSummaryHandler) toCache(ctx context.Context, id shared.StudentID, subject shared.SubjectID, gen int64, s PointsSummaryDTO) {
	if err := h.config.Cache.Set(ctx, id, subject, gen, s); err != nil {
		h.logger.Warn("summary cache write failed", logger.StudentID(id.String()), logger.Err(err))
	}
}

// BuildSummary projects one student's transactions. TotalPoints is the plain
// sum of details, whatever the bucketing.
func BuildSummary(p *student.Profile, txs []*ledger.Transaction, bucketer *ledger.Bucketer) PointsSummaryDTO {
	sorted := append([]*ledger.Transaction(nil), txs...)
	ledger.SortTransactions(sorted)

	details := make([]TransactionDTO, len(sorted))
	for i, t := range sorted {
		details[i] = NewTransactionDTO(t)
	}

	b := ledger.Aggregate(sorted, bucketer)
	modules := make([]ModuleColumnDTO, len(b.Modules))
	for i, m := range b.Modules {
		modules[i] = ModuleColumnDTO{
			Slot:       m.Slot,
			ModuleID:   m.ModuleID.String(),
			Title:      m.Title,
			Creation:   m.Creation,
			Validation: m.Validation,
			Reparation: m.Reparation,
			Total:      m.Total(),
		}
	}
	special := make(map[string]int, len(b.Special))
	for c, v := range b.Special {
		special[c.String()] = v
	}

	return PointsSummaryDTO{
		User: UserDTO{
			ID:          p.ID.String(),
			DisplayName: p.DisplayName,
			Email:       p.Email,
			Role:        string(p.Role),
		},
		Points:    PointsDTO{TotalPoints: b.TotalPoints, Details: details},
		Breakdown: BreakdownDTO{Modules: modules, Special: special},
	}
}

// NewTransactionDTO converts a ledger transaction.
func NewTransactionDTO(t *ledger.Transaction) TransactionDTO {
	dto := TransactionDTO{
		ID:         t.ID.String(),
		Points:     t.Points.Int(),
		Category:   t.Category.String(),
		Reason:     t.Reason,
		QuestionID: t.QuestionID.String(),
		ModuleID:   t.ModuleID.String(),
		WeekNumber: t.WeekNumber,
		Version:    t.Version,
		CreatedAt:  t.CreatedAt,
	}
	if t.Related != nil {
		dto.EntityType = t.Related.EntityType
		dto.EntityID = t.Related.EntityID
	}
	return dto
}

// SpecialCategoryNames returns the special categories in display order.
func SpecialCategoryNames() []string {
	names := make([]string, 0, len(ledger.SpecialCategories))
	for _, c := range ledger.SpecialCategories {
		names = append(names, c.String())
	}
	return names
}
