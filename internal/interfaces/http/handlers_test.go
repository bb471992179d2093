package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/bi-workflow/internal/application/service"
	"github.com/garyjia/bi-workflow/internal/application/workflow"
	"github.com/garyjia/bi-workflow/internal/domain/entity"
	"github.com/garyjia/bi-workflow/internal/infrastructure/directory"
	"github.com/garyjia/bi-workflow/internal/infrastructure/metrics"
	"github.com/garyjia/bi-workflow/internal/infrastructure/persistence/memory"
)

type nopLogger struct{}

func (nopLogger) Info(msg string, keysAndValues ...interface{})  {}
func (nopLogger) Warn(msg string, keysAndValues ...interface{})  {}
func (nopLogger) Error(msg string, keysAndValues ...interface{}) {}

type recordedErrors struct {
	mu   sync.Mutex
	errs []error
}

func (r *recordedErrors) RecordDecideError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Code    string          `json:"code"`
	Error   string          `json:"error"`
}

type apiFixture struct {
	server *Server
	errors *recordedErrors
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	dir, err := directory.NewCasbinDirectory("", zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, dir.AddRole("fin-1", "finance"))
	require.NoError(t, dir.AddRole("fin-2", "finance"))
	require.NoError(t, dir.SetManager("alice", "mgr"))

	store := memory.NewStore()
	logger := nopLogger{}
	engine := workflow.NewEngine(
		store.Templates(),
		store.Instances(),
		store.Approvals(),
		directory.NewRuleResolver(dir),
		store.TxManager(),
		logger,
	)
	recorded := &recordedErrors{}

	server := NewServer(DefaultServerConfig(), Dependencies{
		Engine:    engine,
		Templates: service.NewTemplateService(store.Templates(), store.TxManager(), logger, nil),
		Queries:   service.NewQueryService(store.Templates(), store.Instances(), store.Approvals(), logger, 0),
		Errors:    recorded,
		Metrics:   metrics.NewCollector().Handler(),
		Logger:    logger,
	})
	return &apiFixture{server: server, errors: recorded}
}

func (f *apiFixture) do(t *testing.T, method, path, user string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	w := httptest.NewRecorder()
	f.server.Router().ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") != xlsxContentType {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

func expenseTemplateRequest() service.TemplateRequest {
	return service.TemplateRequest{
		Name:       "Expense approval",
		EntityType: entity.EntityTypeExpense,
		Steps: []entity.StepDefinition{
			{Index: 0, Name: "manager", Approver: entity.ApproverRule{Type: entity.RuleTypeDynamic, Resolver: "requester_manager"}, Policy: entity.ApprovalPolicy{Mode: entity.PolicyAny}},
			{Index: 1, Name: "finance", Approver: entity.ApproverRule{Type: entity.RuleTypeRole, Role: "finance"}, Policy: entity.ApprovalPolicy{Mode: entity.PolicyAll}},
		},
	}
}

func decode(t *testing.T, raw json.RawMessage, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(raw, v))
}

func TestHealthAndMetrics(t *testing.T) {
	f := newAPIFixture(t)

	w, env := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.Success)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestHealthReportsComponents(t *testing.T) {
	healthy := true
	server := NewServer(DefaultServerConfig(), Dependencies{
		Health: func() (bool, interface{}) {
			return healthy, map[string]bool{"database": healthy}
		},
		Logger: nopLogger{},
	})

	get := func() (*httptest.ResponseRecorder, map[string]interface{}) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(RequestIDHeader, "req-42")
		server.Router().ServeHTTP(rec, req)
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		return rec, body
	}

	rec, body := get()
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "healthy", data["status"])
	assert.Equal(t, map[string]interface{}{"database": true}, data["components"])

	healthy = false
	rec, body = get()
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "unhealthy", body["data"].(map[string]interface{})["status"])
}

func TestRequestIDIsAssigned(t *testing.T) {
	f := newAPIFixture(t)
	w, _ := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Len(t, w.Header().Get(RequestIDHeader), 36)
}

func TestTemplateEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	w, env := f.do(t, http.MethodPost, "/api/v1/workflows/templates", "admin", expenseTemplateRequest())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created entity.WorkflowTemplate
	decode(t, env.Data, &created)
	assert.Equal(t, 1, created.Version)
	assert.Equal(t, "admin", created.CreatedBy)

	revision := expenseTemplateRequest()
	revision.Name = "Expense approval v2"
	w, env = f.do(t, http.MethodPut, "/api/v1/workflows/templates/"+created.ID, "admin", revision)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var revised entity.WorkflowTemplate
	decode(t, env.Data, &revised)
	assert.Equal(t, 2, revised.Version)

	w, env = f.do(t, http.MethodGet, "/api/v1/workflows/templates/"+created.ID+"/versions/1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var first entity.WorkflowTemplate
	decode(t, env.Data, &first)
	assert.Equal(t, "Expense approval", first.Name)

	w, env = f.do(t, http.MethodGet, "/api/v1/workflows/templates/"+created.ID+"/versions/zero", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, CodeValidation, env.Code)

	w, env = f.do(t, http.MethodGet, "/api/v1/workflows/templates?applicable=true&entity_type=expense", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var applicable []entity.WorkflowTemplate
	decode(t, env.Data, &applicable)
	assert.Len(t, applicable, 1)

	w, _ = f.do(t, http.MethodDelete, "/api/v1/workflows/templates/"+created.ID, "admin", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w, env = f.do(t, http.MethodGet, "/api/v1/workflows/templates?applicable=true&entity_type=expense", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, env.Data, &applicable)
	assert.Empty(t, applicable)

	w, env = f.do(t, http.MethodGet, "/api/v1/workflows/templates/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, CodeNotFound, env.Code)

	bad := expenseTemplateRequest()
	bad.Steps = nil
	w, env = f.do(t, http.MethodPost, "/api/v1/workflows/templates", "admin", bad)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, CodeValidation, env.Code)
}

func TestApprovalFlow(t *testing.T) {
	f := newAPIFixture(t)
	w, _ := f.do(t, http.MethodPost, "/api/v1/workflows/templates", "admin", expenseTemplateRequest())
	require.Equal(t, http.StatusCreated, w.Code)

	w, env := f.do(t, http.MethodPost, "/api/v1/workflows/instances", "alice", workflow.InitiateRequest{
		EntityType: entity.EntityTypeExpense,
		EntityID:   "EXP-7",
		Priority:   entity.PriorityUrgent,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var inst entity.WorkflowInstance
	decode(t, env.Data, &inst)
	assert.Equal(t, "alice", inst.RequesterID)
	assert.Equal(t, []string{"mgr"}, inst.CurrentApprovers())
	base := "/api/v1/workflows/instances/" + inst.ID

	w, env = f.do(t, http.MethodGet, "/api/v1/workflows/pending", "mgr", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var pending []entity.PendingApproval
	decode(t, env.Data, &pending)
	require.Len(t, pending, 1)
	assert.Equal(t, inst.ID, pending[0].Instance.ID)

	step0 := 0
	step1 := 1

	w, env = f.do(t, http.MethodPost, base+"/decisions", "mallory", DecisionRequest{StepIndex: &step0, Decision: entity.DecisionApproved})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, CodeUnauthorized, env.Code)

	w, env = f.do(t, http.MethodPost, base+"/decisions", "mgr", DecisionRequest{StepIndex: &step0, Decision: entity.DecisionApproved})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result workflow.DecideResult
	decode(t, env.Data, &result)
	assert.Equal(t, workflow.OutcomeAdvanced, result.Outcome)

	w, env = f.do(t, http.MethodPost, base+"/decisions", "mgr", DecisionRequest{StepIndex: &step0, Decision: entity.DecisionApproved})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, CodeInvalidState, env.Code)

	w, env = f.do(t, http.MethodPost, base+"/decisions", "fin-1", DecisionRequest{Decision: entity.DecisionApproved})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, CodeValidation, env.Code)

	w, env = f.do(t, http.MethodPost, base+"/decisions", "fin-1", DecisionRequest{StepIndex: &step1, Decision: entity.DecisionApproved})
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, env.Data, &result)
	assert.Equal(t, workflow.OutcomeRecorded, result.Outcome)
	assert.Equal(t, 1, result.Approvals)
	assert.Equal(t, 2, result.Required)

	// the approver may also come from the body
	w, env = f.do(t, http.MethodPost, base+"/decisions", "", DecisionRequest{StepIndex: &step1, Decision: entity.DecisionApproved, ApproverID: "fin-2"})
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, env.Data, &result)
	assert.Equal(t, workflow.OutcomeApproved, result.Outcome)

	w, env = f.do(t, http.MethodGet, base+"/history", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history []entity.StepApproval
	decode(t, env.Data, &history)
	assert.Len(t, history, 3)

	w, env = f.do(t, http.MethodGet, base+"/verify", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var verify entity.VerifyResult
	decode(t, env.Data, &verify)
	assert.True(t, verify.Consistent)
	assert.Equal(t, entity.StatusApproved, verify.ReplayedStatus)

	w, env = f.do(t, http.MethodGet, base, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var detail entity.InstanceDetail
	decode(t, env.Data, &detail)
	assert.Equal(t, entity.StatusApproved, detail.Instance.Status)
	assert.Len(t, detail.Approvals, 3)

	w, env = f.do(t, http.MethodGet, "/api/v1/workflows/stats", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats entity.Stats
	decode(t, env.Data, &stats)
	assert.Equal(t, entity.Stats{Total: 1, Approved: 1}, stats)

	w, env = f.do(t, http.MethodPost, base+"/resume", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, env.Data, &result)
	assert.Equal(t, workflow.Outcome(entity.StatusApproved), result.Outcome)

	f.errors.mu.Lock()
	defer f.errors.mu.Unlock()
	// the missing step_index is rejected before the engine is called
	require.Len(t, f.errors.errs, 2)
	assert.Equal(t, "unauthorized", metrics.KindLabel(f.errors.errs[0]))
	assert.Equal(t, "invalid_state", metrics.KindLabel(f.errors.errs[1]))
}

func TestCancelAndListing(t *testing.T) {
	f := newAPIFixture(t)
	w, _ := f.do(t, http.MethodPost, "/api/v1/workflows/templates", "admin", expenseTemplateRequest())
	require.Equal(t, http.StatusCreated, w.Code)

	ids := make([]string, 0, 2)
	for i := 0; i < 2; i++ {
		w, env := f.do(t, http.MethodPost, "/api/v1/workflows/instances", "alice", workflow.InitiateRequest{
			EntityType: entity.EntityTypeExpense,
			EntityID:   fmt.Sprintf("EXP-%d", i),
		})
		require.Equal(t, http.StatusCreated, w.Code)
		var inst entity.WorkflowInstance
		decode(t, env.Data, &inst)
		ids = append(ids, inst.ID)
	}

	w, env := f.do(t, http.MethodPost, "/api/v1/workflows/instances/"+ids[0]+"/cancel", "bob", CancelBody{Reason: "not mine"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, CodeUnauthorized, env.Code)

	w, env = f.do(t, http.MethodPost, "/api/v1/workflows/instances/"+ids[0]+"/cancel", "alice", CancelBody{Reason: "duplicate"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var cancelled entity.WorkflowInstance
	decode(t, env.Data, &cancelled)
	assert.Equal(t, entity.StatusCancelled, cancelled.Status)

	w, env = f.do(t, http.MethodPost, "/api/v1/workflows/instances/"+ids[0]+"/cancel", "alice", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, CodeInvalidState, env.Code)

	w, env = f.do(t, http.MethodGet, "/api/v1/workflows/instances?status=pending", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page entity.InstancePage
	decode(t, env.Data, &page)
	assert.Equal(t, 1, page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, ids[1], page.Items[0].ID)

	w, env = f.do(t, http.MethodGet, "/api/v1/workflows/instances?status=archived", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, CodeValidation, env.Code)

	w, env = f.do(t, http.MethodGet, "/api/v1/workflows/instances/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, CodeNotFound, env.Code)

	w, env = f.do(t, http.MethodGet, "/api/v1/workflows/pending", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, CodeValidation, env.Code)

	w, env = f.do(t, http.MethodPost, "/api/v1/workflows/instances", "", workflow.InitiateRequest{EntityType: entity.EntityTypeExpense})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, CodeValidation, env.Code)
}

func TestExports(t *testing.T) {
	f := newAPIFixture(t)
	w, _ := f.do(t, http.MethodPost, "/api/v1/workflows/templates", "admin", expenseTemplateRequest())
	require.Equal(t, http.StatusCreated, w.Code)
	w, _ = f.do(t, http.MethodPost, "/api/v1/workflows/instances", "alice", workflow.InitiateRequest{
		EntityType: entity.EntityTypeExpense,
		EntityID:   "EXP-1",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w, _ = f.do(t, http.MethodGet, "/api/v1/workflows/instances/export", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, xlsxContentType, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "instances-")
	// xlsx files are zip archives
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("PK")))

	w, env := f.do(t, http.MethodGet, "/api/v1/workflows/instances/stale", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stale []entity.StaleInstance
	decode(t, env.Data, &stale)
	assert.Empty(t, stale)

	w, _ = f.do(t, http.MethodGet, "/api/v1/workflows/instances/stale?format=xlsx", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, xlsxContentType, w.Header().Get("Content-Type"))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", entity.NewValidationError("bad"), http.StatusBadRequest, CodeValidation},
		{"not found", entity.NewNotFoundError("instance", "x"), http.StatusNotFound, CodeNotFound},
		{"unauthorized", entity.NewUnauthorizedError("u"), http.StatusForbidden, CodeUnauthorized},
		{"invalid state", entity.NewStepResolvedError("x", 0), http.StatusConflict, CodeInvalidState},
		{"conflict", entity.NewConflictError("x"), http.StatusConflict, CodeConflict},
		{"wrapped", fmt.Errorf("load: %w", entity.NewNotFoundError("template", "t")), http.StatusNotFound, CodeNotFound},
		{"foreign", errors.New("disk full"), http.StatusInternalServerError, CodeInternal},
		{"context", context.Canceled, http.StatusInternalServerError, CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := statusFor(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}
