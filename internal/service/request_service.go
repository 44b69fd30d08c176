package service

import (
	"context"

	"github.com/ledgerline/be-credit-limits/internal/platform/errors"
	"github.com/ledgerline/be-credit-limits/internal/platform/logger"
	"github.com/ledgerline/be-credit-limits/internal/repository"
)

// RequestStore persists credit limit requests.
type RequestStore interface {
	Create(ctx context.Context, req *repository.CreditLimitRequest) error
	GetByID(ctx context.Context, id, companyID string) (*repository.CreditLimitRequest, error)
	List(ctx context.Context, companyID string, customerID, status *string, page, pageSize int) ([]*repository.CreditLimitRequest, int, error)
	Delete(ctx context.Context, id, companyID string) error
}

// RequestService handles the credit limit request lifecycle around the
// approval workflow: creation, queries, the administrative amount edit and
// deletion while pending.
type RequestService struct {
	requests  RequestStore
	workflows WorkflowStore
	wfService *WorkflowService
	audit     AuditStore
	log       *logger.Logger
}

// NewRequestService creates a new RequestService.
func NewRequestService(
	requests RequestStore,
	workflows WorkflowStore,
	wfService *WorkflowService,
	audit AuditStore,
	log *logger.Logger,
) *RequestService {
	return &RequestService{
		requests:  requests,
		workflows: workflows,
		wfService: wfService,
		audit:     audit,
		log:       log,
	}
}

// CreateRequestArgs are the inputs for a new credit limit request.
type CreateRequestArgs struct {
	CompanyID       string
	CustomerID      string
	RequestedAmount int64
	RequestedBy     string
	Notes           *string
}

// CreateRequest validates the input, resolves the approval chain and
// persists the request together with its workflow instance. When no rule
// covers the amount, nothing is persisted and NoApplicableRuleError is
// returned.
func (s *RequestService) CreateRequest(ctx context.Context, args *CreateRequestArgs) (*repository.CreditLimitRequest, *repository.WorkflowInstance, []*repository.WorkflowStep, error) {
	if args.CompanyID == "" {
		return nil, nil, nil, errors.InvalidInput("company_id", "company id is required")
	}
	if args.CustomerID == "" {
		return nil, nil, nil, errors.InvalidInput("customer_id", "customer id is required")
	}
	if args.RequestedAmount <= 0 {
		return nil, nil, nil, errors.InvalidInput("requested_amount", "requested amount must be positive")
	}

	// Resolve before any write so a resolution failure leaves no trace.
	specs, err := s.wfService.ResolveChain(ctx, args.CompanyID, args.RequestedAmount)
	if err != nil {
		return nil, nil, nil, err
	}

	req := &repository.CreditLimitRequest{
		CompanyID:       args.CompanyID,
		CustomerID:      args.CustomerID,
		RequestedAmount: args.RequestedAmount,
		RequestedBy:     args.RequestedBy,
		Notes:           args.Notes,
	}
	if err := s.requests.Create(ctx, req); err != nil {
		return nil, nil, nil, err
	}

	wf, steps, err := s.wfService.CreateForRequest(ctx, req, specs)
	if err != nil {
		// A request without a workflow is unusable; remove the row rather
		// than leave it stranded.
		if delErr := s.requests.Delete(ctx, req.ID, req.CompanyID); delErr != nil {
			s.log.Warn().Err(delErr).
				Str("request_id", req.ID).
				Msg("Failed to remove request after workflow creation failure")
		}
		return nil, nil, nil, err
	}

	s.log.Info().
		Str("request_id", req.ID).
		Str("company_id", req.CompanyID).
		Int64("requested_amount", req.RequestedAmount).
		Msg("Credit limit request created")

	return req, wf, steps, nil
}

// GetRequest retrieves a request by id.
func (s *RequestService) GetRequest(ctx context.Context, id, companyID string) (*repository.CreditLimitRequest, error) {
	return s.requests.GetByID(ctx, id, companyID)
}

// ListRequests returns a page of requests with optional filters.
func (s *RequestService) ListRequests(ctx context.Context, companyID string, customerID, status *string, page, pageSize int) ([]*repository.CreditLimitRequest, int, error) {
	return s.requests.List(ctx, companyID, customerID, status, page, pageSize)
}

// UpdateAmount changes the requested amount of a pending request. Allowed
// only while the workflow is still at its first step with no decision
// recorded; the chain is re-resolved against the new amount and the amount
// write and chain replacement commit in one transaction, so a failure
// leaves both untouched.
func (s *RequestService) UpdateAmount(ctx context.Context, id, companyID string, amount int64, actorID string) (*repository.CreditLimitRequest, error) {
	if amount <= 0 {
		return nil, errors.InvalidInput("requested_amount", "requested amount must be positive")
	}

	req, err := s.requests.GetByID(ctx, id, companyID)
	if err != nil {
		return nil, err
	}
	if req.Status != repository.RequestPending {
		return nil, errors.New(errors.ErrCodeConflict, "request is no longer pending")
	}

	wf, err := s.workflows.GetByRequestID(ctx, id)
	if err != nil {
		return nil, err
	}
	steps, err := s.workflows.GetSteps(ctx, wf.ID)
	if err != nil {
		return nil, err
	}
	for _, step := range steps {
		if step.Resolved() {
			return nil, errors.New(errors.ErrCodeFailedPrecondition,
				"amount can no longer be changed: the workflow already has recorded decisions")
		}
	}
	if wf.CurrentStep != 1 {
		return nil, errors.New(errors.ErrCodeFailedPrecondition,
			"amount can no longer be changed: the workflow has advanced past the first step")
	}

	// The new amount may route through a different chain entirely.
	specs, err := s.wfService.ResolveChain(ctx, companyID, amount)
	if err != nil {
		return nil, err
	}

	previous := req.RequestedAmount
	if _, err := s.workflows.ReplaceChain(ctx, wf, amount, specs); err != nil {
		return nil, err
	}
	req.RequestedAmount = amount

	s.appendAudit(ctx, &repository.AuditEntry{
		RequestID:   id,
		WorkflowID:  &wf.ID,
		CompanyID:   companyID,
		Action:      "amount_changed",
		PerformedBy: actorID,
		Metadata: map[string]interface{}{
			"previous_amount": previous,
			"new_amount":      amount,
			"total_steps":     len(specs),
		},
	})

	s.log.Info().
		Str("request_id", id).
		Int64("previous_amount", previous).
		Int64("new_amount", amount).
		Msg("Request amount changed, approval chain re-resolved")

	return req, nil
}

// DeleteRequest removes a pending request; the workflow and its steps go
// with it.
func (s *RequestService) DeleteRequest(ctx context.Context, id, companyID, actorID string) error {
	if err := s.requests.Delete(ctx, id, companyID); err != nil {
		return err
	}

	s.appendAudit(ctx, &repository.AuditEntry{
		RequestID:   id,
		CompanyID:   companyID,
		Action:      "deleted",
		PerformedBy: actorID,
	})

	s.log.Info().Str("request_id", id).Msg("Credit limit request deleted")
	return nil
}

func (s *RequestService) appendAudit(ctx context.Context, entry *repository.AuditEntry) {
	if err := s.audit.Append(ctx, entry); err != nil {
		s.log.Warn().Err(err).
			Str("request_id", entry.RequestID).
			Str("action", entry.Action).
			Msg("Failed to write audit log entry")
	}
}
