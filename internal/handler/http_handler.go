package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/ledgerline/be-credit-limits/internal/platform/errors"
	"github.com/ledgerline/be-credit-limits/internal/platform/logger"
	"github.com/ledgerline/be-credit-limits/internal/repository"
	"github.com/ledgerline/be-credit-limits/internal/service"
	"github.com/ledgerline/be-credit-limits/internal/workflow"
)

// HTTPHandler exposes the request and workflow services over HTTP.
type HTTPHandler struct {
	requests  *service.RequestService
	workflows *service.WorkflowService
	rules     *repository.RulesRepository
	log       *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(
	requests *service.RequestService,
	workflows *service.WorkflowService,
	rules *repository.RulesRepository,
	log *logger.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		requests:  requests,
		workflows: workflows,
		rules:     rules,
		log:       log,
	}
}

// ── Requests ──────────────────────────────────────────────────────────────────

type createRequestBody struct {
	CompanyID       string  `json:"company_id"`
	CustomerID      string  `json:"customer_id"`
	RequestedAmount int64   `json:"requested_amount"`
	RequestedBy     string  `json:"requested_by"`
	Notes           *string `json:"notes,omitempty"`
}

// CreateRequest handles POST /api/v1/requests.
func (h *HTTPHandler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	var body createRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	req, wf, steps, err := h.requests.CreateRequest(r.Context(), &service.CreateRequestArgs{
		CompanyID:       body.CompanyID,
		CustomerID:      body.CustomerID,
		RequestedAmount: body.RequestedAmount,
		RequestedBy:     body.RequestedBy,
		Notes:           body.Notes,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"request":  req,
		"workflow": wf,
		"steps":    steps,
	})
}

// GetRequest handles GET /api/v1/requests/get.
func (h *HTTPHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	companyID := r.URL.Query().Get("company_id")
	if id == "" || companyID == "" {
		http.Error(w, "Request ID and Company ID are required", http.StatusBadRequest)
		return
	}

	req, err := h.requests.GetRequest(r.Context(), id, companyID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, req)
}

// ListRequests handles GET /api/v1/requests.
func (h *HTTPHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
	companyID := r.URL.Query().Get("company_id")
	if companyID == "" {
		http.Error(w, "Company ID is required", http.StatusBadRequest)
		return
	}

	var customerIDPtr, statusPtr *string
	if v := r.URL.Query().Get("customer_id"); v != "" {
		customerIDPtr = &v
	}
	if v := r.URL.Query().Get("status"); v != "" {
		statusPtr = &v
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 50
	}

	requests, total, err := h.requests.ListRequests(r.Context(), companyID, customerIDPtr, statusPtr, page, pageSize)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"requests": requests,
		"total":    total,
		"page":     page,
		"pageSize": pageSize,
	})
}

type updateAmountBody struct {
	ID              string `json:"id"`
	CompanyID       string `json:"company_id"`
	RequestedAmount int64  `json:"requested_amount"`
	ActorID         string `json:"actor_id"`
}

// UpdateAmount handles POST /api/v1/requests/amount.
func (h *HTTPHandler) UpdateAmount(w http.ResponseWriter, r *http.Request) {
	var body updateAmountBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	req, err := h.requests.UpdateAmount(r.Context(), body.ID, body.CompanyID, body.RequestedAmount, body.ActorID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, req)
}

// DeleteRequest handles DELETE /api/v1/requests/delete.
func (h *HTTPHandler) DeleteRequest(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	companyID := r.URL.Query().Get("company_id")
	actorID := r.URL.Query().Get("actor_id")
	if id == "" || companyID == "" {
		http.Error(w, "Request ID and Company ID are required", http.StatusBadRequest)
		return
	}

	if err := h.requests.DeleteRequest(r.Context(), id, companyID, actorID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Workflows ─────────────────────────────────────────────────────────────────

// ResolveChain handles GET /api/v1/workflows/resolve — a dry run of chain
// resolution, persisting nothing.
func (h *HTTPHandler) ResolveChain(w http.ResponseWriter, r *http.Request) {
	companyID := r.URL.Query().Get("company_id")
	amountStr := r.URL.Query().Get("amount")
	if companyID == "" || amountStr == "" {
		http.Error(w, "Company ID and amount are required", http.StatusBadRequest)
		return
	}
	amount, err := strconv.ParseInt(amountStr, 10, 64)
	if err != nil {
		http.Error(w, "Invalid amount", http.StatusBadRequest)
		return
	}

	specs, err := h.workflows.ResolveChain(r.Context(), companyID, amount)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"steps": specs})
}

// GetWorkflowSteps handles GET /api/v1/workflows/steps.
func (h *HTTPHandler) GetWorkflowSteps(w http.ResponseWriter, r *http.Request) {
	requestID := r.URL.Query().Get("request_id")
	if requestID == "" {
		http.Error(w, "Request ID is required", http.StatusBadRequest)
		return
	}

	steps, err := h.workflows.GetWorkflowSteps(r.Context(), requestID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"steps": steps})
}

type decisionBody struct {
	RequestID  string  `json:"request_id"`
	CompanyID  string  `json:"company_id"`
	StepNumber int     `json:"step_number"`
	ActorID    string  `json:"actor_id"`
	Comment    *string `json:"comment,omitempty"`
	Reason     string  `json:"reason,omitempty"`
}

// ApproveStep handles POST /api/v1/workflows/approve.
func (h *HTTPHandler) ApproveStep(w http.ResponseWriter, r *http.Request) {
	var body decisionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	wf, steps, err := h.workflows.SubmitApproval(r.Context(), body.RequestID, body.CompanyID, body.StepNumber, body.ActorID, body.Comment)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"workflow": wf, "steps": steps})
}

// RejectStep handles POST /api/v1/workflows/reject.
func (h *HTTPHandler) RejectStep(w http.ResponseWriter, r *http.Request) {
	var body decisionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	wf, steps, err := h.workflows.SubmitRejection(r.Context(), body.RequestID, body.CompanyID, body.StepNumber, body.ActorID, body.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"workflow": wf, "steps": steps})
}

// GetPendingApprovals handles GET /api/v1/workflows/pending.
func (h *HTTPHandler) GetPendingApprovals(w http.ResponseWriter, r *http.Request) {
	companyID := r.URL.Query().Get("company_id")
	actorID := r.URL.Query().Get("actor_id")
	if companyID == "" || actorID == "" {
		http.Error(w, "Company ID and Actor ID are required", http.StatusBadRequest)
		return
	}

	steps, err := h.workflows.GetPendingApprovals(r.Context(), companyID, actorID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"steps": steps})
}

// GetApprovalHistory handles GET /api/v1/workflows/history.
func (h *HTTPHandler) GetApprovalHistory(w http.ResponseWriter, r *http.Request) {
	requestID := r.URL.Query().Get("request_id")
	companyID := r.URL.Query().Get("company_id")
	if requestID == "" || companyID == "" {
		http.Error(w, "Request ID and Company ID are required", http.StatusBadRequest)
		return
	}

	entries, err := h.workflows.GetApprovalHistory(r.Context(), requestID, companyID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// ── Rules administration ──────────────────────────────────────────────────────

type ruleBody struct {
	ID             string `json:"id,omitempty"`
	CompanyID      string `json:"company_id"`
	JurisdictionID string `json:"jurisdiction_id"`
	MinAmount      int64  `json:"min_amount"`
	MaxAmount      *int64 `json:"max_amount,omitempty"`
	Subordination  bool   `json:"subordination"`
	IsActive       bool   `json:"is_active"`
}

// Rules handles GET/POST/PUT/DELETE on /api/v1/rules.
func (h *HTTPHandler) Rules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listRules(w, r)
	case http.MethodPost:
		h.createRule(w, r)
	case http.MethodPut:
		h.updateRule(w, r)
	case http.MethodDelete:
		h.deleteRule(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *HTTPHandler) listRules(w http.ResponseWriter, r *http.Request) {
	companyID := r.URL.Query().Get("company_id")
	if companyID == "" {
		http.Error(w, "Company ID is required", http.StatusBadRequest)
		return
	}
	activeOnly := r.URL.Query().Get("active") == "true"

	rules, err := h.rules.List(r.Context(), companyID, activeOnly)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"rules": rules})
}

func (h *HTTPHandler) createRule(w http.ResponseWriter, r *http.Request) {
	var body ruleBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	rule := &repository.WorkflowRule{
		CompanyID:      body.CompanyID,
		JurisdictionID: body.JurisdictionID,
		MinAmount:      body.MinAmount,
		MaxAmount:      body.MaxAmount,
		Subordination:  body.Subordination,
		IsActive:       body.IsActive,
	}
	if err := h.rules.Create(r.Context(), rule); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, rule)
}

func (h *HTTPHandler) updateRule(w http.ResponseWriter, r *http.Request) {
	var body ruleBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	rule := &repository.WorkflowRule{
		ID:             body.ID,
		CompanyID:      body.CompanyID,
		JurisdictionID: body.JurisdictionID,
		MinAmount:      body.MinAmount,
		MaxAmount:      body.MaxAmount,
		Subordination:  body.Subordination,
		IsActive:       body.IsActive,
	}
	if err := h.rules.Update(r.Context(), rule); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rule)
}

func (h *HTTPHandler) deleteRule(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	companyID := r.URL.Query().Get("company_id")
	if id == "" || companyID == "" {
		http.Error(w, "Rule ID and Company ID are required", http.StatusBadRequest)
		return
	}

	if err := h.rules.Delete(r.Context(), id, companyID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Response helpers ──────────────────────────────────────────────────────────

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode HTTP response")
	}
}

// writeError maps engine and platform error codes onto HTTP statuses with a
// JSON body.
func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	code := workflow.ErrorCode(err)

	status := http.StatusInternalServerError
	switch code {
	case errors.ErrCodeInvalidInput:
		status = http.StatusBadRequest
	case errors.ErrCodeNotFound:
		status = http.StatusNotFound
	case errors.ErrCodeUnauthorized:
		status = http.StatusForbidden
	case errors.ErrCodeConflict:
		status = http.StatusConflict
	case errors.ErrCodeFailedPrecondition:
		status = http.StatusUnprocessableEntity
	}

	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("Request failed")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"code":  code,
		"error": err.Error(),
	})
}
