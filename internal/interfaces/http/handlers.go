package http

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/bi-workflow/internal/application/service"
	"github.com/garyjia/bi-workflow/internal/application/workflow"
	"github.com/garyjia/bi-workflow/internal/domain/entity"
	"github.com/garyjia/bi-workflow/internal/infrastructure/report"
)

// UserHeader carries the caller's user id. Authentication happens upstream.
const UserHeader = "X-User-ID"

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Handlers contains all HTTP request handlers
type Handlers struct {
	engine    workflow.ApprovalEngine
	templates service.TemplateService
	queries   service.QueryService
	errors    ErrorRecorder
	health    HealthFunc
	logger    Logger
	now       func() time.Time
}

// NewHandlers creates a new Handlers instance
func NewHandlers(deps Dependencies) *Handlers {
	return &Handlers{
		engine:    deps.Engine,
		templates: deps.Templates,
		queries:   deps.Queries,
		errors:    deps.Errors,
		health:    deps.Health,
		logger:    deps.Logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Code    string      `json:"code,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string      `json:"status"`
	Timestamp  string      `json:"timestamp"`
	Version    string      `json:"version"`
	Components interface{} `json:"components,omitempty"`
}

// ListInstancesRequest represents query parameters for listing instances
type ListInstancesRequest struct {
	Status      string `form:"status"`
	EntityType  string `form:"entity_type"`
	RequesterID string `form:"requester_id"`
	Limit       int    `form:"limit"`
	Offset      int    `form:"offset"`
}

// ListTemplatesRequest represents query parameters for listing templates
type ListTemplatesRequest struct {
	EntityType string `form:"entity_type"`
	ActiveOnly bool   `form:"active_only"`
	// Applicable returns active templates for EntityType in evaluation order
	Applicable bool `form:"applicable"`
}

// DecisionRequest is the body of POST /instances/:id/decisions
type DecisionRequest struct {
	StepIndex  *int            `json:"step_index"`
	Decision   entity.Decision `json:"decision"`
	Comments   string          `json:"comments"`
	ApproverID string          `json:"approver_id"`
}

// CancelBody is the body of POST /instances/:id/cancel
type CancelBody struct {
	Reason   string `json:"reason"`
	ByUserID string `json:"by_user_id"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: h.now().Format(time.RFC3339),
		Version:   "1.0.0",
	}
	code := http.StatusOK
	if h.health != nil {
		healthy, components := h.health()
		resp.Components = components
		if !healthy {
			resp.Status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
	}
	c.JSON(code, Response{Success: code == http.StatusOK, Data: resp})
}

// caller returns the acting user from the header, falling back to the body value
func caller(c *gin.Context, fallback string) string {
	if id := strings.TrimSpace(c.GetHeader(UserHeader)); id != "" {
		return id
	}
	return strings.TrimSpace(fallback)
}

func ok(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{Success: true, Data: data})
}

// CreateTemplate handles POST /templates
func (h *Handlers) CreateTemplate(c *gin.Context) {
	var req service.TemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body")
		return
	}
	req.CreatedBy = caller(c, req.CreatedBy)

	tpl, err := h.templates.Create(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "create template", err)
		return
	}
	ok(c, http.StatusCreated, tpl)
}

// ListTemplates handles GET /templates
func (h *Handlers) ListTemplates(c *gin.Context) {
	var req ListTemplatesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.badRequest(c, "invalid query parameters")
		return
	}

	var (
		templates []*entity.WorkflowTemplate
		err       error
	)
	if req.Applicable {
		templates, err = h.templates.FindApplicable(c.Request.Context(), req.EntityType)
	} else {
		templates, err = h.templates.List(c.Request.Context(), entity.TemplateFilter{
			EntityType: req.EntityType,
			ActiveOnly: req.ActiveOnly,
		})
	}
	if err != nil {
		h.fail(c, "list templates", err)
		return
	}
	ok(c, http.StatusOK, templates)
}

// GetTemplate handles GET /templates/:id and returns the latest version
func (h *Handlers) GetTemplate(c *gin.Context) {
	tpl, err := h.templates.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "get template", err)
		return
	}
	ok(c, http.StatusOK, tpl)
}

// GetTemplateVersion handles GET /templates/:id/versions/:version
func (h *Handlers) GetTemplateVersion(c *gin.Context) {
	version, err := strconv.Atoi(c.Param("version"))
	if err != nil || version < 1 {
		h.badRequest(c, "invalid template version")
		return
	}

	tpl, err := h.templates.GetVersion(c.Request.Context(), c.Param("id"), version)
	if err != nil {
		h.fail(c, "get template version", err)
		return
	}
	ok(c, http.StatusOK, tpl)
}

// ReviseTemplate handles PUT /templates/:id by publishing a new version
func (h *Handlers) ReviseTemplate(c *gin.Context) {
	var req service.TemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body")
		return
	}
	req.CreatedBy = caller(c, req.CreatedBy)

	tpl, err := h.templates.Revise(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.fail(c, "revise template", err)
		return
	}
	ok(c, http.StatusOK, tpl)
}

// DeactivateTemplate handles DELETE /templates/:id
func (h *Handlers) DeactivateTemplate(c *gin.Context) {
	if err := h.templates.Deactivate(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, "deactivate template", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Initiate handles POST /instances
func (h *Handlers) Initiate(c *gin.Context) {
	var req workflow.InitiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body")
		return
	}
	req.RequesterID = caller(c, req.RequesterID)

	inst, err := h.engine.Initiate(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "initiate", err)
		return
	}
	ok(c, http.StatusCreated, inst)
}

func (h *Handlers) instanceFilter(c *gin.Context) (entity.InstanceFilter, bool) {
	var req ListInstancesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.badRequest(c, "invalid query parameters")
		return entity.InstanceFilter{}, false
	}
	return entity.InstanceFilter{
		Status:      entity.Status(req.Status),
		EntityType:  req.EntityType,
		RequesterID: req.RequesterID,
		Limit:       req.Limit,
		Offset:      req.Offset,
	}.Normalize(), true
}

// ListInstances handles GET /instances
func (h *Handlers) ListInstances(c *gin.Context) {
	filter, valid := h.instanceFilter(c)
	if !valid {
		return
	}

	page, err := h.queries.ListByStatus(c.Request.Context(), filter)
	if err != nil {
		h.fail(c, "list instances", err)
		return
	}
	ok(c, http.StatusOK, page)
}

// ExportInstances handles GET /instances/export and streams an XLSX workbook
func (h *Handlers) ExportInstances(c *gin.Context) {
	filter, valid := h.instanceFilter(c)
	if !valid {
		return
	}

	page, err := h.queries.ListByStatus(c.Request.Context(), filter)
	if err != nil {
		h.fail(c, "export instances", err)
		return
	}

	var buf bytes.Buffer
	if err := report.WriteInstances(&buf, page.Items); err != nil {
		h.fail(c, "export instances", err)
		return
	}
	h.attach(c, "instances", buf.Bytes())
}

// StaleInstances handles GET /instances/stale. format=xlsx returns a workbook.
func (h *Handlers) StaleInstances(c *gin.Context) {
	stale, err := h.queries.StaleInstances(c.Request.Context(), h.now())
	if err != nil {
		h.fail(c, "stale report", err)
		return
	}

	if c.Query("format") != "xlsx" {
		ok(c, http.StatusOK, stale)
		return
	}

	var buf bytes.Buffer
	if err := report.WriteStale(&buf, stale); err != nil {
		h.fail(c, "stale report", err)
		return
	}
	h.attach(c, "stale", buf.Bytes())
}

func (h *Handlers) attach(c *gin.Context, name string, body []byte) {
	filename := fmt.Sprintf("%s-%s.xlsx", name, h.now().Format("20060102-150405"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, xlsxContentType, body)
}

// GetInstance handles GET /instances/:id
func (h *Handlers) GetInstance(c *gin.Context) {
	detail, err := h.queries.Detail(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "get instance", err)
		return
	}
	ok(c, http.StatusOK, detail)
}

// History handles GET /instances/:id/history
func (h *Handlers) History(c *gin.Context) {
	approvals, err := h.queries.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "history", err)
		return
	}
	ok(c, http.StatusOK, approvals)
}

// Verify handles GET /instances/:id/verify
func (h *Handlers) Verify(c *gin.Context) {
	result, err := h.queries.Verify(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "verify", err)
		return
	}
	ok(c, http.StatusOK, result)
}

// Decide handles POST /instances/:id/decisions
func (h *Handlers) Decide(c *gin.Context) {
	var body DecisionRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badRequest(c, "invalid request body")
		return
	}
	if body.StepIndex == nil {
		h.badRequest(c, "step_index is required")
		return
	}

	result, err := h.engine.Decide(c.Request.Context(), workflow.DecideRequest{
		InstanceID: c.Param("id"),
		StepIndex:  *body.StepIndex,
		ApproverID: caller(c, body.ApproverID),
		Decision:   body.Decision,
		Comments:   body.Comments,
	})
	if err != nil {
		if h.errors != nil {
			h.errors.RecordDecideError(err)
		}
		h.fail(c, "decide", err)
		return
	}
	ok(c, http.StatusOK, result)
}

// Cancel handles POST /instances/:id/cancel
func (h *Handlers) Cancel(c *gin.Context) {
	var body CancelBody
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			h.badRequest(c, "invalid request body")
			return
		}
	}

	inst, err := h.engine.Cancel(c.Request.Context(), workflow.CancelRequest{
		InstanceID: c.Param("id"),
		ByUserID:   caller(c, body.ByUserID),
		Reason:     body.Reason,
	})
	if err != nil {
		h.fail(c, "cancel", err)
		return
	}
	ok(c, http.StatusOK, inst)
}

// Resume handles POST /instances/:id/resume
func (h *Handlers) Resume(c *gin.Context) {
	result, err := h.engine.Resume(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "resume", err)
		return
	}
	ok(c, http.StatusOK, result)
}

// Pending handles GET /pending for the caller or ?user_id=
func (h *Handlers) Pending(c *gin.Context) {
	userID := caller(c, c.Query("user_id"))
	if userID == "" {
		h.badRequest(c, "user id is required")
		return
	}

	items, err := h.queries.PendingFor(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, "pending", err)
		return
	}
	ok(c, http.StatusOK, items)
}

// Stats handles GET /stats
func (h *Handlers) Stats(c *gin.Context) {
	stats, err := h.queries.Stats(c.Request.Context())
	if err != nil {
		h.fail(c, "stats", err)
		return
	}
	ok(c, http.StatusOK, stats)
}
