package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/alem-hub/questpoints/internal/application/command"
	"github.com/alem-hub/questpoints/internal/application/query"
	"github.com/alem-hub/questpoints/internal/domain/ledger"
	"github.com/alem-hub/questpoints/internal/domain/question"
	"github.com/alem-hub/questpoints/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST DTOs
// ══════════════════════════════════════════════════════════════════════════════

type questionContentRequest struct {
	Text          string            `json:"text" validate:"required,max=4000"`
	Options       map[string]string `json:"options" validate:"required,len=4,dive,keys,option_key,endkeys,required,max=1000"`
	CorrectAnswer string            `json:"correctAnswer" validate:"required,option_key"`
}

func (c questionContentRequest) toContent() question.Content {
	opts := make(map[question.OptionKey]string, len(c.Options))
	for k, v := range c.Options {
		opts[question.OptionKey(k)] = v
	}
	return question.Content{Text: c.Text, Options: opts, Correct: question.OptionKey(c.CorrectAnswer)}
}

type createQuestionRequest struct {
	ModuleID string                 `json:"moduleId" validate:"required"`
	Question questionContentRequest `json:"question"`
}

type editQuestionRequest struct {
	Question questionContentRequest `json:"question"`
	Version  int                    `json:"version" validate:"gte=0"`
}

type validateQuestionRequest struct {
	Valid   *bool  `json:"valid" validate:"required"`
	Comment string `json:"comment" validate:"max=2000"`
}

type respondRequest struct {
	Agreed  *bool  `json:"agreed" validate:"required"`
	Comment string `json:"comment" validate:"max=2000"`
}

type teacherValidateRequest struct {
	ValidatedByTeacher *bool  `json:"validated_by_teacher" validate:"required"`
	Comment            string `json:"comment" validate:"required,max=2000"`
}

// Negative points are accepted here so the ledger reports them as an
// invariant violation rather than a malformed request.
type awardPointsRequest struct {
	StudentID  string `json:"studentId" validate:"required"`
	Points     *int   `json:"points" validate:"required"`
	Reason     string `json:"reason" validate:"required,max=500"`
	Category   string `json:"category" validate:"required"`
	ModuleID   string `json:"moduleId"`
	WeekNumber int    `json:"weekNumber" validate:"gte=0"`
}

type updatePointRequest struct {
	Points *int   `json:"points" validate:"required"`
	Reason string `json:"reason" validate:"max=500"`
}

type reconcileRequest struct {
	StudentID string `json:"studentId" validate:"required"`
	SubjectID string `json:"subjectId"`
	Category  string `json:"category" validate:"required"`
	ModuleID  string `json:"moduleId"`
	Requested *int   `json:"requested" validate:"required"`
	Reason    string `json:"reason" validate:"max=500"`
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE DTOs
// ══════════════════════════════════════════════════════════════════════════════

type reviewDTO struct {
	Valid     bool       `json:"valid"`
	Comment   string     `json:"comment,omitempty"`
	By        string     `json:"by"`
	At        time.Time  `json:"at"`
	Agreed    *bool      `json:"agreed,omitempty"`
	Responded *time.Time `json:"respondedAt,omitempty"`
}

type questionDTO struct {
	ID            string            `json:"id"`
	ModuleID      string            `json:"moduleId"`
	CreatorID     string            `json:"creatorId"`
	State         string            `json:"state"`
	Text          string            `json:"text"`
	Options       map[string]string `json:"options"`
	CorrectAnswer string            `json:"correctAnswer"`
	Validation    *reviewDTO        `json:"validation,omitempty"`
	Teacher       *reviewDTO        `json:"teacherValidation,omitempty"`
	Version       int               `json:"version"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

func newQuestionDTO(q *question.Question) questionDTO {
	opts := make(map[string]string, len(q.Content.Options))
	for k, v := range q.Content.Options {
		opts[string(k)] = v
	}
	dto := questionDTO{
		ID:            q.ID.String(),
		ModuleID:      q.ModuleID.String(),
		CreatorID:     q.CreatorID.String(),
		State:         string(q.State()),
		Text:          q.Content.Text,
		Options:       opts,
		CorrectAnswer: string(q.Content.Correct),
		Version:       q.Version,
		CreatedAt:     q.CreatedAt,
		UpdatedAt:     q.UpdatedAt,
	}
	if v := q.Validation; v != nil {
		dto.Validation = &reviewDTO{Valid: v.Valid, Comment: v.Comment, By: v.ValidatedBy.String(), At: v.ValidatedAt}
		if a := q.Agreement; a != nil {
			agreed := a.Agreed
			dto.Validation.Agreed = &agreed
			respondedAt := a.RespondedAt
			dto.Validation.Responded = &respondedAt
		}
	}
	if t := q.Teacher; t != nil {
		dto.Teacher = &reviewDTO{Valid: t.Valid, Comment: t.Comment, By: t.ReviewedBy.String(), At: t.ReviewedAt}
	}
	return dto
}

type lifecycleDTO struct {
	Question    questionDTO           `json:"question"`
	Awarded     bool                  `json:"awarded"`
	Transaction *query.TransactionDTO `json:"transaction,omitempty"`
}

func newLifecycleDTO(res *command.LifecycleResult) lifecycleDTO {
	dto := lifecycleDTO{Question: newQuestionDTO(res.Question), Awarded: res.Awarded()}
	if res.Transaction != nil {
		tx := query.NewTransactionDTO(res.Transaction)
		dto.Transaction = &tx
	}
	return dto
}

type assignmentDTO struct {
	StudentID   string    `json:"studentId"`
	ModuleID    string    `json:"moduleId"`
	Week        int       `json:"week"`
	QuestionIDs []string  `json:"questionIds"`
	Issued      bool      `json:"issued"`
	CreatedAt   time.Time `json:"createdAt"`
}

// assignmentsResponse carries the assigned questions as data with the
// scarcity compensation beside them rather than inside.
type assignmentsResponse struct {
	Data            []questionDTO `json:"data"`
	AutomaticPoints int           `json:"automaticPoints"`
	Assignment      assignmentDTO `json:"assignment"`
	Notice          string        `json:"notice,omitempty"`
	Meta            *ResponseMeta `json:"meta,omitempty"`
}

type reconcileDTO struct {
	AppliedDelta int                   `json:"appliedDelta"`
	PreviousSum  int                   `json:"previousSum"`
	NewSum       int                   `json:"newSum"`
	Relaxed      bool                  `json:"relaxed"`
	Matched      int                   `json:"matched"`
	Transaction  *query.TransactionDTO `json:"transaction,omitempty"`
}

type updatePointDTO struct {
	OldPoints   int                  `json:"oldPoints"`
	Transaction query.TransactionDTO `json:"transaction"`
}

// ══════════════════════════════════════════════════════════════════════════════
// POINTS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func sessionOf(r *http.Request) shared.Session {
	s, _ := shared.SessionFromContext(r.Context())
	return s
}

func notImplemented(w http.ResponseWriter, what string) {
	writeErrors(w, http.StatusNotImplemented, APIError{Code: "not_implemented", Message: what + " is not configured"})
}

func summaryQuery(r *http.Request) query.GetPointsSummaryQuery {
	q := query.GetPointsSummaryQuery{
		Session:   sessionOf(r),
		SubjectID: shared.SubjectID(r.URL.Query().Get("subjectId")),
	}
	for _, id := range getQueryList(r, "studentIds") {
		q.StudentIDs = append(q.StudentIDs, shared.StudentID(id))
	}
	return q
}

// handleGetPointsSummary handles GET /api/v1/points/summary
func (s *Server) handleGetPointsSummary(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetPointsSummary == nil {
		notImplemented(w, "points summary")
		return
	}
	res, err := s.deps.GetPointsSummary.Handle(r.Context(), summaryQuery(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res.Data, "")
}

// handleExportSummary handles GET /api/v1/points/summary.xlsx
func (s *Server) handleExportSummary(w http.ResponseWriter, r *http.Request) {
	if s.deps.ExportSummary == nil {
		notImplemented(w, "summary export")
		return
	}
	res, err := s.deps.ExportSummary.Handle(r.Context(), summaryQuery(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+res.Filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Content)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Content)
}

// handleAwardCustomPoints handles POST /api/v1/points
func (s *Server) handleAwardCustomPoints(w http.ResponseWriter, r *http.Request) {
	if s.deps.AwardCustomPoints == nil {
		notImplemented(w, "manual awards")
		return
	}
	var req awardPointsRequest
	if !s.decode(w, r, &req) {
		return
	}
	tx, err := s.deps.AwardCustomPoints.Handle(r.Context(), command.AwardCustomPointsCommand{
		Session:    sessionOf(r),
		StudentID:  shared.StudentID(req.StudentID),
		Points:     *req.Points,
		Reason:     req.Reason,
		Category:   ledger.Category(req.Category),
		ModuleID:   shared.ModuleID(req.ModuleID),
		WeekNumber: req.WeekNumber,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, query.NewTransactionDTO(tx), "")
}

// handleUpdatePoint handles PATCH /api/v1/points/{id}
func (s *Server) handleUpdatePoint(w http.ResponseWriter, r *http.Request) {
	if s.deps.UpdatePoint == nil {
		notImplemented(w, "point edits")
		return
	}
	var req updatePointRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.deps.UpdatePoint.Handle(r.Context(), command.UpdatePointCommand{
		Session:   sessionOf(r),
		PointID:   shared.TransactionID(r.PathValue("id")),
		NewPoints: *req.Points,
		Reason:    req.Reason,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, updatePointDTO{OldPoints: res.OldPoints, Transaction: query.NewTransactionDTO(res.Transaction)}, "")
}

// handleReconcilePoints handles POST /api/v1/points/reconcile
func (s *Server) handleReconcilePoints(w http.ResponseWriter, r *http.Request) {
	if s.deps.ReconcilePoints == nil {
		notImplemented(w, "reconciliation")
		return
	}
	var req reconcileRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.deps.ReconcilePoints.Handle(r.Context(), command.ReconcilePointsCommand{
		Session:   sessionOf(r),
		StudentID: shared.StudentID(req.StudentID),
		SubjectID: shared.SubjectID(req.SubjectID),
		Category:  ledger.Category(req.Category),
		ModuleID:  shared.ModuleID(req.ModuleID),
		Requested: *req.Requested,
		Reason:    req.Reason,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	dto := reconcileDTO{
		AppliedDelta: res.AppliedDelta,
		PreviousSum:  res.PreviousSum,
		NewSum:       res.NewSum,
		Relaxed:      res.Relaxed,
		Matched:      res.Matched,
	}
	if res.Transaction != nil {
		tx := query.NewTransactionDTO(res.Transaction)
		dto.Transaction = &tx
	}
	writeJSON(w, r, http.StatusOK, dto, "")
}

// ══════════════════════════════════════════════════════════════════════════════
// QUESTION HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleCreateQuestion handles POST /api/v1/questions
func (s *Server) handleCreateQuestion(w http.ResponseWriter, r *http.Request) {
	if s.deps.CreateQuestion == nil {
		notImplemented(w, "question creation")
		return
	}
	var req createQuestionRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.deps.CreateQuestion.Handle(r.Context(), command.CreateQuestionCommand{
		Session:  sessionOf(r),
		ModuleID: shared.ModuleID(req.ModuleID),
		Content:  req.Question.toContent(),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, newLifecycleDTO(res), res.Notice)
}

// handleEditQuestion handles PUT /api/v1/questions/{id}
func (s *Server) handleEditQuestion(w http.ResponseWriter, r *http.Request) {
	if s.deps.EditQuestion == nil {
		notImplemented(w, "question edits")
		return
	}
	var req editQuestionRequest
	if !s.decode(w, r, &req) {
		return
	}
	q, err := s.deps.EditQuestion.Handle(r.Context(), command.EditQuestionCommand{
		Session:         sessionOf(r),
		QuestionID:      shared.QuestionID(r.PathValue("id")),
		Content:         req.Question.toContent(),
		ExpectedVersion: req.Version,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newQuestionDTO(q), "")
}

// handleValidateQuestion handles POST /api/v1/questions/{id}/validation
func (s *Server) handleValidateQuestion(w http.ResponseWriter, r *http.Request) {
	if s.deps.ValidateQuestion == nil {
		notImplemented(w, "peer validation")
		return
	}
	var req validateQuestionRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.deps.ValidateQuestion.Handle(r.Context(), command.ValidateQuestionCommand{
		Session:    sessionOf(r),
		QuestionID: shared.QuestionID(r.PathValue("id")),
		Valid:      *req.Valid,
		Comment:    req.Comment,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newLifecycleDTO(res), res.Notice)
}

// handleRespondToValidation handles POST /api/v1/questions/{id}/response
func (s *Server) handleRespondToValidation(w http.ResponseWriter, r *http.Request) {
	if s.deps.RespondToValidation == nil {
		notImplemented(w, "validation responses")
		return
	}
	var req respondRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.deps.RespondToValidation.Handle(r.Context(), command.RespondToValidationCommand{
		Session:    sessionOf(r),
		QuestionID: shared.QuestionID(r.PathValue("id")),
		Agreed:     *req.Agreed,
		Comment:    req.Comment,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newLifecycleDTO(res), res.Notice)
}

// handleTeacherValidate handles POST /api/v1/questions/{id}/teacher-validation
func (s *Server) handleTeacherValidate(w http.ResponseWriter, r *http.Request) {
	if s.deps.TeacherValidate == nil {
		notImplemented(w, "teacher validation")
		return
	}
	var req teacherValidateRequest
	if !s.decode(w, r, &req) {
		return
	}
	q, err := s.deps.TeacherValidate.Handle(r.Context(), command.TeacherValidateQuestionCommand{
		Session:    sessionOf(r),
		QuestionID: shared.QuestionID(r.PathValue("id")),
		Valid:      *req.ValidatedByTeacher,
		Comment:    req.Comment,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newQuestionDTO(q), "")
}

// handleGetAssignments handles GET /api/v1/modules/{id}/assignments
//
// studentId defaults to the caller.
func (s *Server) handleGetAssignments(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetAssignments == nil {
		notImplemented(w, "assignments")
		return
	}
	session := sessionOf(r)
	studentID := shared.StudentID(r.URL.Query().Get("studentId"))
	if studentID == "" {
		studentID = session.UserID
	}

	res, err := s.deps.GetAssignments.Handle(r.Context(), command.GetQuestionAssignmentsCommand{
		Session:   session,
		StudentID: studentID,
		ModuleID:  shared.ModuleID(r.PathValue("id")),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	a := res.Assignment
	body := assignmentsResponse{
		Data:            make([]questionDTO, len(res.Questions)),
		AutomaticPoints: res.AutomaticPoints,
		Assignment: assignmentDTO{
			StudentID:   a.StudentID.String(),
			ModuleID:    a.ModuleID.String(),
			Week:        a.Week,
			QuestionIDs: make([]string, len(a.QuestionIDs)),
			Issued:      res.Issued,
			CreatedAt:   a.CreatedAt,
		},
		Notice: res.Notice,
		Meta:   responseMeta(r),
	}
	for i, id := range a.QuestionIDs {
		body.Assignment.QuestionIDs[i] = id.String()
	}
	for i, q := range res.Questions {
		body.Data[i] = newQuestionDTO(q)
	}
	writeBody(w, http.StatusOK, body)
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleHealth handles the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		code := http.StatusOK
		if !status.Healthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, r, code, status, "")
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"uptime":  s.Uptime().String(),
		"version": "v1",
	}, "")
}

// handleReady handles the readiness probe endpoint (for Kubernetes).
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Ready {
			writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"reason": status.Message,
			}, "")
			return
		}
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"}, "")
}

// handleLive handles the liveness probe endpoint (for Kubernetes).
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"}, "")
}
