package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/questpoints/internal/application/command"
	"github.com/alem-hub/questpoints/internal/application/query"
	"github.com/alem-hub/questpoints/internal/domain/course"
	"github.com/alem-hub/questpoints/internal/domain/ledger"
	"github.com/alem-hub/questpoints/internal/domain/question"
	"github.com/alem-hub/questpoints/internal/domain/shared"
	"github.com/alem-hub/questpoints/internal/infrastructure/metrics"
	"github.com/alem-hub/questpoints/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/questpoints/pkg/logger"
)

const testSecret = "test-secret"

type testAPI struct {
	server  *Server
	handler http.Handler
	ledger  *memory.LedgerStore
	metrics *metrics.Metrics
}

func newTestAPI(t *testing.T, mutate func(*Config, *Dependencies)) *testAPI {
	t.Helper()

	ledgerStore := memory.NewLedgerStore()
	questions := memory.NewQuestionStore()
	assignments := memory.NewAssignmentStore()
	courses := memory.NewCourseDirectory(
		&course.Module{ID: "m1", SubjectID: "sub", Title: "Loops", Position: 0},
		&course.Module{ID: "m2", SubjectID: "sub", Title: "Functions", Position: 1},
	)
	students := memory.NewStudentDirectory()
	m := metrics.New()

	awarder := command.NewAwarder(ledgerStore, nil, command.AwarderConfig{Recorder: m})
	lifecycle := command.DefaultLifecycleConfig()
	summary := query.NewGetPointsSummaryHandler(ledgerStore, students, courses, query.SummaryConfig{LegacyWeekParsing: true})

	deps := Dependencies{
		CreateQuestion:      command.NewCreateQuestionHandler(questions, courses, awarder, nil, lifecycle),
		EditQuestion:        command.NewEditQuestionHandler(questions, courses, nil, lifecycle),
		ValidateQuestion:    command.NewValidateQuestionHandler(questions, courses, awarder, nil, lifecycle),
		RespondToValidation: command.NewRespondToValidationHandler(questions, courses, awarder, nil, lifecycle),
		TeacherValidate:     command.NewTeacherValidateQuestionHandler(questions, nil, lifecycle),
		GetAssignments:      command.NewGetQuestionAssignmentsHandler(questions, assignments, courses, awarder, nil, command.DefaultAssignmentConfig()),
		AwardCustomPoints:   command.NewAwardCustomPointsHandler(awarder),
		UpdatePoint:         command.NewUpdatePointHandler(ledgerStore, nil, m, nil),
		ReconcilePoints:     command.NewReconcilePointsHandler(ledgerStore, courses, nil, command.DefaultReconcileConfig()),
		GetPointsSummary:    summary,
		ExportSummary:       query.NewExportSummaryHandler(summary),
		Metrics:             m,
		Logger:              logger.Nop(),
	}
	cfg := DefaultConfig()
	cfg.JWTSecret = testSecret
	cfg.RateLimitPerMinute = 0
	if mutate != nil {
		mutate(&cfg, &deps)
	}

	s := NewServer(cfg, deps)
	return &testAPI{server: s, handler: s.Handler(), ledger: ledgerStore, metrics: m}
}

func token(t *testing.T, s shared.Session) string {
	t.Helper()
	tok, err := IssueToken(testSecret, "", s, time.Hour)
	require.NoError(t, err)
	return tok
}

func student(id string) shared.Session {
	return shared.Session{UserID: shared.StudentID(id), Role: shared.RoleStudent, SubjectID: "sub"}
}

var teacher = shared.Session{UserID: "t1", Role: shared.RoleTeacher, SubjectID: "sub"}

type apiResponse struct {
	Data   json.RawMessage `json:"data"`
	Notice string          `json:"notice"`
	Errors []APIError      `json:"errors"`
}

func (a *testAPI) do(t *testing.T, s *shared.Session, method, path string, body interface{}) (int, apiResponse) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	if s != nil {
		req.Header.Set("Authorization", "Bearer "+token(t, *s))
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)

	var out apiResponse
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec.Code, out
}

func questionBody(module, text string) map[string]interface{} {
	return map[string]interface{}{
		"moduleId": module,
		"question": map[string]interface{}{
			"text":          text,
			"options":       map[string]string{"a": "1", "b": "2", "c": "3", "d": "4"},
			"correctAnswer": "b",
		},
	}
}

func ptr[T any](v T) *T { return &v }

// ════════════════════════════════════════════════════════════════════════════

func TestHealthEndpoints(t *testing.T) {
	api := newTestAPI(t, nil)

	code, _ := api.do(t, nil, http.MethodGet, "/live", nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = api.do(t, nil, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = api.do(t, nil, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestHealth_FailingCheck(t *testing.T) {
	checker := NewCompositeHealthChecker("test")
	checker.AddCheck("postgres", func(context.Context) error { return errors.New("connection refused") })
	checker.AddCheck("redis", func(context.Context) error { return nil })
	api := newTestAPI(t, func(_ *Config, d *Dependencies) { d.HealthChecker = checker })

	code, res := api.do(t, nil, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	var status HealthStatus
	require.NoError(t, json.Unmarshal(res.Data, &status))
	assert.False(t, status.Healthy)
	assert.Equal(t, StateDown, status.State)
	assert.True(t, status.Checks["redis"].Healthy)
	assert.Equal(t, "Some checks failed: postgres", status.Message)

	code, _ = api.do(t, nil, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestHealth_OptionalCheckDegrades(t *testing.T) {
	checker := NewCompositeHealthChecker("test")
	checker.AddCheck("postgres", func(context.Context) error { return nil })
	checker.AddOptionalCheck("redis", func(context.Context) error { return errors.New("i/o timeout") })
	api := newTestAPI(t, func(_ *Config, d *Dependencies) { d.HealthChecker = checker })

	code, res := api.do(t, nil, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, code)
	var status HealthStatus
	require.NoError(t, json.Unmarshal(res.Data, &status))
	assert.Equal(t, StateDegraded, status.State)
	assert.True(t, status.Ready)
	assert.True(t, status.Checks["redis"].Optional)
	assert.Equal(t, "Running without: redis", status.Message)

	code, _ = api.do(t, nil, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestSession_MissingAndInvalidTokens(t *testing.T) {
	api := newTestAPI(t, nil)

	code, res := api.do(t, nil, http.MethodGet, "/api/v1/points/summary", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "unauthorized", res.Errors[0].Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/points/summary", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_token")

	forged, err := IssueToken("other-secret", "", teacher, time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/api/v1/points/summary", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	rec = httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	expired, err := IssueToken(testSecret, "", teacher, -time.Minute)
	require.NoError(t, err)
	_, err = newTokenParser(testSecret, "").Parse(expired)
	assert.ErrorIs(t, err, errInvalidToken)
}

func TestTokenParser_Issuer(t *testing.T) {
	tok, err := IssueToken(testSecret, "points", teacher, time.Hour)
	require.NoError(t, err)

	s, err := newTokenParser(testSecret, "points").Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, teacher.UserID, s.UserID)
	assert.Equal(t, shared.RoleTeacher, s.Role)
	assert.Equal(t, shared.SubjectID("sub"), s.SubjectID)

	_, err = newTokenParser(testSecret, "elsewhere").Parse(tok)
	assert.ErrorIs(t, err, errInvalidToken)
}

func TestQuestionLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t, nil)
	alice, bob := student("alice"), student("bob")

	var created lifecycleDTO
	for i := 0; i < 2; i++ {
		code, res := api.do(t, &alice, http.MethodPost, "/api/v1/questions", questionBody("m1", fmt.Sprintf("q%d", i)))
		require.Equal(t, http.StatusCreated, code, res.Errors)
		require.NoError(t, json.Unmarshal(res.Data, &created))
		assert.True(t, created.Awarded)
		assert.Empty(t, res.Notice)
	}

	code, res := api.do(t, &alice, http.MethodPost, "/api/v1/questions", questionBody("m1", "over the cap"))
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, command.NoticeCreationCapReached, res.Notice)

	path := "/api/v1/questions/" + created.Question.ID

	code, res = api.do(t, &bob, http.MethodPost, path+"/validation", map[string]interface{}{"comment": "no verdict"})
	assert.Equal(t, http.StatusBadRequest, code)
	require.NotEmpty(t, res.Errors)
	assert.Equal(t, "valid", res.Errors[0].Field)

	code, _ = api.do(t, &alice, http.MethodPost, path+"/validation", map[string]interface{}{"valid": true})
	assert.Equal(t, http.StatusForbidden, code, "self-validation")

	code, _ = api.do(t, &alice, http.MethodPost, path+"/response", map[string]interface{}{"agreed": true})
	assert.Equal(t, http.StatusConflict, code, "nothing to respond to yet")

	code, res = api.do(t, &bob, http.MethodPost, path+"/validation", map[string]interface{}{"valid": false, "comment": "option c is also right"})
	require.Equal(t, http.StatusOK, code, res.Errors)
	var validated lifecycleDTO
	require.NoError(t, json.Unmarshal(res.Data, &validated))
	assert.True(t, validated.Awarded)
	assert.Equal(t, string(question.StatePeerValidated), validated.Question.State)

	carol := student("carol")
	code, _ = api.do(t, &carol, http.MethodPost, path+"/validation", map[string]interface{}{"valid": true})
	assert.Equal(t, http.StatusConflict, code, "already validated")

	code, res = api.do(t, &alice, http.MethodPost, path+"/response", map[string]interface{}{"agreed": true, "comment": "fixed"})
	require.Equal(t, http.StatusOK, code, res.Errors)

	code, res = api.do(t, &teacher, http.MethodPost, path+"/teacher-validation", map[string]interface{}{"validated_by_teacher": true})
	assert.Equal(t, http.StatusBadRequest, code, "comment is required")
	require.NotEmpty(t, res.Errors)
	assert.Equal(t, "comment", res.Errors[0].Field)

	code, res = api.do(t, &teacher, http.MethodPost, path+"/teacher-validation", map[string]interface{}{"comment": "good"})
	assert.Equal(t, http.StatusBadRequest, code)
	require.NotEmpty(t, res.Errors)
	assert.Equal(t, "validated_by_teacher", res.Errors[0].Field)

	code, _ = api.do(t, &teacher, http.MethodPost, path+"/teacher-validation", map[string]interface{}{"valid": true, "comment": "good"})
	assert.Equal(t, http.StatusBadRequest, code, "the peer verdict key is not accepted")

	code, res = api.do(t, &teacher, http.MethodPost, path+"/teacher-validation", map[string]interface{}{"validated_by_teacher": false, "comment": "good"})
	require.Equal(t, http.StatusOK, code, res.Errors)
	var reviewed questionDTO
	require.NoError(t, json.Unmarshal(res.Data, &reviewed))
	require.NotNil(t, reviewed.Teacher)
	assert.Equal(t, "good", reviewed.Teacher.Comment)

	code, res = api.do(t, &teacher, http.MethodGet, "/api/v1/points/summary?studentIds=alice,bob", nil)
	require.Equal(t, http.StatusOK, code)
	var summaries []query.PointsSummaryDTO
	require.NoError(t, json.Unmarshal(res.Data, &summaries))
	require.Len(t, summaries, 2)
	assert.Equal(t, 3, summaries[0].Points.TotalPoints, "two creations and one reparation")
	assert.Equal(t, 1, summaries[1].Points.TotalPoints)
	assert.Equal(t, 1, summaries[1].Breakdown.Modules[0].Validation)
}

func TestEditQuestion_VersionConflict(t *testing.T) {
	api := newTestAPI(t, nil)
	alice := student("alice")

	_, res := api.do(t, &alice, http.MethodPost, "/api/v1/questions", questionBody("m1", "first"))
	var created lifecycleDTO
	require.NoError(t, json.Unmarshal(res.Data, &created))
	path := "/api/v1/questions/" + created.Question.ID

	body := questionBody("m1", "second")
	delete(body, "moduleId")
	body["version"] = created.Question.Version
	code, res := api.do(t, &alice, http.MethodPut, path, body)
	require.Equal(t, http.StatusOK, code, res.Errors)

	code, _ = api.do(t, &alice, http.MethodPut, path, body)
	assert.Equal(t, http.StatusConflict, code, "stale version")

	bad := questionBody("m1", "bad")
	delete(bad, "moduleId")
	bad["question"].(map[string]interface{})["correctAnswer"] = "e"
	code, res = api.do(t, &alice, http.MethodPut, path, bad)
	assert.Equal(t, http.StatusBadRequest, code)
	require.NotEmpty(t, res.Errors)
	assert.Equal(t, "question.correctAnswer", res.Errors[0].Field)
}

func TestPointsEndpoints(t *testing.T) {
	api := newTestAPI(t, nil)
	alice := student("alice")
	award := map[string]interface{}{"studentId": "alice", "points": 2, "reason": "project", "category": "project_work"}

	code, _ := api.do(t, &alice, http.MethodPost, "/api/v1/points", award)
	assert.Equal(t, http.StatusForbidden, code)

	code, res := api.do(t, &teacher, http.MethodPost, "/api/v1/points", award)
	require.Equal(t, http.StatusCreated, code, res.Errors)
	var tx query.TransactionDTO
	require.NoError(t, json.Unmarshal(res.Data, &tx))

	award["points"] = -1
	code, res = api.do(t, &teacher, http.MethodPost, "/api/v1/points", award)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "invariant_violation", res.Errors[0].Code)

	award["points"], award["category"] = 1, "homework"
	code, _ = api.do(t, &teacher, http.MethodPost, "/api/v1/points", award)
	assert.Equal(t, http.StatusBadRequest, code)

	code, res = api.do(t, &teacher, http.MethodPatch, "/api/v1/points/"+tx.ID, updatePointRequest{Points: ptr(5)})
	require.Equal(t, http.StatusOK, code, res.Errors)
	var updated updatePointDTO
	require.NoError(t, json.Unmarshal(res.Data, &updated))
	assert.Equal(t, 2, updated.OldPoints)
	assert.Equal(t, 5, updated.Transaction.Points)

	code, _ = api.do(t, &teacher, http.MethodPatch, "/api/v1/points/missing", updatePointRequest{Points: ptr(1)})
	assert.Equal(t, http.StatusNotFound, code)

	code, res = api.do(t, &teacher, http.MethodPost, "/api/v1/points/reconcile", map[string]interface{}{
		"studentId": "alice", "category": "project_work", "requested": 3,
	})
	require.Equal(t, http.StatusOK, code, res.Errors)
	var rec reconcileDTO
	require.NoError(t, json.Unmarshal(res.Data, &rec))
	assert.Equal(t, -2, rec.AppliedDelta)
	assert.Equal(t, 3, rec.NewSum)

	code, res = api.do(t, &teacher, http.MethodPost, "/api/v1/points/reconcile", map[string]interface{}{
		"studentId": "alice", "category": "forum_participation", "requested": 3,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "nothing_to_edit", res.Errors[0].Code)

	code, _ = api.do(t, &teacher, http.MethodPost, "/api/v1/points/reconcile", map[string]interface{}{
		"studentId": "alice", "category": "project_work", "requested": -4,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, 3, ledger.Sum(mustList(t, api.ledger, "alice")))
}

func mustList(t *testing.T, store *memory.LedgerStore, id shared.StudentID) []*ledger.Transaction {
	t.Helper()
	txs, err := store.ListByStudent(context.Background(), id)
	require.NoError(t, err)
	return txs
}

func TestAssignmentsEndpoint(t *testing.T) {
	api := newTestAPI(t, nil)
	alice, bob := student("alice"), student("bob")
	api.do(t, &bob, http.MethodPost, "/api/v1/questions", questionBody("m1", "only candidate"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/modules/m1/assignments", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, alice))
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Data            []questionDTO `json:"data"`
		AutomaticPoints *int          `json:"automaticPoints"`
		Assignment      assignmentDTO `json:"assignment"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 1, "data is the list of assigned questions")
	assert.Equal(t, "only candidate", body.Data[0].Text)
	require.NotNil(t, body.AutomaticPoints, "automaticPoints sits beside data")
	assert.Equal(t, 1, *body.AutomaticPoints)
	assert.Equal(t, "alice", body.Assignment.StudentID)
	assert.True(t, body.Assignment.Issued)
	assert.Equal(t, []string{body.Data[0].ID}, body.Assignment.QuestionIDs)

	code, _ := api.do(t, &alice, http.MethodGet, "/api/v1/modules/m1/assignments?studentId=bob", nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = api.do(t, &alice, http.MethodGet, "/api/v1/modules/nope/assignments", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestExportEndpoint(t *testing.T) {
	api := newTestAPI(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/points/summary.xlsx", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, teacher))
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "points-sub-")
	assert.Equal(t, "PK", rec.Body.String()[:2], "xlsx is a zip container")
}

func TestNotConfiguredRoute(t *testing.T) {
	api := newTestAPI(t, func(_ *Config, d *Dependencies) { d.ReconcilePoints = nil })
	code, res := api.do(t, &teacher, http.MethodPost, "/api/v1/points/reconcile", map[string]interface{}{})
	assert.Equal(t, http.StatusNotImplemented, code)
	assert.Equal(t, "not_implemented", res.Errors[0].Code)
}

func TestRateLimit(t *testing.T) {
	api := newTestAPI(t, func(c *Config, _ *Dependencies) { c.RateLimitPerMinute = 2 })

	for i := 0; i < 2; i++ {
		code, _ := api.do(t, nil, http.MethodGet, "/live", nil)
		assert.Equal(t, http.StatusOK, code)
	}
	code, res := api.do(t, nil, http.MethodGet, "/live", nil)
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, "rate_limit_exceeded", res.Errors[0].Code)
}

func TestIPRateLimiter_ReportsWait(t *testing.T) {
	rl := newIPRateLimiter(60, time.Minute)
	for i := 0; i < 60; i++ {
		_, ok := rl.Allow("10.0.0.1")
		require.True(t, ok)
	}
	wait, ok := rl.Allow("10.0.0.1")
	assert.False(t, ok)
	assert.InDelta(t, time.Second, wait, float64(100*time.Millisecond))

	_, ok = rl.Allow("10.0.0.2")
	assert.True(t, ok, "buckets are per key")
}

func TestMetricsEndpoint(t *testing.T) {
	api := newTestAPI(t, nil)
	api.do(t, nil, http.MethodGet, "/live", nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `questpoints_http_requests_total{method="GET",route="GET /live",status="200"} 1`)
}

func TestRequestID(t *testing.T) {
	api := newTestAPI(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/live", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	assert.Equal(t, "abc", rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	api.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{shared.ErrNoSession, http.StatusUnauthorized},
		{shared.ErrTeacherOnly, http.StatusForbidden},
		{question.ErrSelfValidation, http.StatusForbidden},
		{ledger.ErrTransactionNotFound, http.StatusNotFound},
		{question.ErrEmptyText, http.StatusBadRequest},
		{question.ErrAlreadyValidated, http.StatusConflict},
		{course.ErrWrongPhase, http.StatusConflict},
		{ledger.ErrVersionConflict, http.StatusConflict},
		{ledger.ErrEditWouldGoNegative, http.StatusUnprocessableEntity},
		{ledger.ErrNoPointsToEdit, http.StatusUnprocessableEntity},
		{fmt.Errorf("wrapped: %w", ledger.ErrNoPointsToEdit), http.StatusUnprocessableEntity},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		status, _ := classify(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
	}
}
