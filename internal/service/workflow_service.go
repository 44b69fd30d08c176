package service

import (
	"context"
	"time"

	"github.com/ledgerline/be-credit-limits/internal/metrics"
	"github.com/ledgerline/be-credit-limits/internal/platform/errors"
	"github.com/ledgerline/be-credit-limits/internal/platform/logger"
	"github.com/ledgerline/be-credit-limits/internal/repository"
	"github.com/ledgerline/be-credit-limits/internal/workflow"
)

// Store interfaces are declared service-side so tests can substitute
// in-memory fakes for the Postgres repositories.

// RulesStore provides the configured approval rules.
type RulesStore interface {
	ActiveForCompany(ctx context.Context, companyID string) ([]*repository.WorkflowRule, error)
	GetForJurisdiction(ctx context.Context, companyID, jurisdictionID string) (*repository.WorkflowRule, error)
}

// WorkflowStore persists workflow instances and steps.
type WorkflowStore interface {
	Create(ctx context.Context, wf *repository.WorkflowInstance, specs []repository.StepSpec) ([]*repository.WorkflowStep, error)
	ReplaceChain(ctx context.Context, wf *repository.WorkflowInstance, newAmount int64, specs []repository.StepSpec) ([]*repository.WorkflowStep, error)
	GetByRequestID(ctx context.Context, requestID string) (*repository.WorkflowInstance, error)
	GetSteps(ctx context.Context, workflowID string) ([]*repository.WorkflowStep, error)
	GetPendingForJurisdiction(ctx context.Context, companyID, jurisdictionID string) ([]*repository.WorkflowStep, error)
	ApplyDecision(
		ctx context.Context,
		wf *repository.WorkflowInstance,
		target repository.StepPatch,
		cascades []repository.StepPatch,
		startStep, currentStep int,
		instanceStatus repository.WorkflowStatus,
		requestStatus repository.RequestStatus,
	) error
}

// AuditStore appends and reads the approval audit trail.
type AuditStore interface {
	Append(ctx context.Context, entry *repository.AuditEntry) error
	GetByRequestID(ctx context.Context, requestID, companyID string) ([]*repository.AuditEntry, error)
}

// IdentityClientInterface resolves actor information from the identity
// service.
type IdentityClientInterface interface {
	// GetActorJurisdiction returns the approval jurisdiction bound to an
	// actor for a company, or empty when the actor holds none.
	GetActorJurisdiction(ctx context.Context, companyID, actorID string) (string, error)
	// GetUsersWithJurisdiction returns user IDs holding a jurisdiction.
	GetUsersWithJurisdiction(ctx context.Context, companyID, jurisdictionID string) ([]string, error)
}

// Notifier publishes workflow events. Implementations must be non-fatal.
type Notifier interface {
	PublishRequestEvent(ctx context.Context, eventType, requestID, companyID, actorID string, recipients []string, payload map[string]interface{})
}

// WorkflowService orchestrates the credit-limit approval workflow: chain
// resolution, decision handling and the queries around them.
type WorkflowService struct {
	rules     RulesStore
	workflows WorkflowStore
	audit     AuditStore
	identity  IdentityClientInterface
	notifier  Notifier
	engine    *workflow.Engine
	collector *metrics.Collector
	log       *logger.Logger
}

// NewWorkflowService creates a new WorkflowService.
func NewWorkflowService(
	rules RulesStore,
	workflows WorkflowStore,
	audit AuditStore,
	identity IdentityClientInterface,
	notifier Notifier,
	engine *workflow.Engine,
	collector *metrics.Collector,
	log *logger.Logger,
) *WorkflowService {
	return &WorkflowService{
		rules:     rules,
		workflows: workflows,
		audit:     audit,
		identity:  identity,
		notifier:  notifier,
		engine:    engine,
		collector: collector,
		log:       log,
	}
}

// ── Chain resolution ──────────────────────────────────────────────────────────

// ResolveChain computes the step chain a given amount would traverse for a
// company without persisting anything. Fails with NoApplicableRuleError when
// the amount matches no configured rule.
func (s *WorkflowService) ResolveChain(ctx context.Context, companyID string, amount int64) ([]repository.StepSpec, error) {
	rules, err := s.rules.ActiveForCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}
	return workflow.Resolve(companyID, amount, rules, time.Now().UTC())
}

// CreateForRequest persists the resolved chain as a workflow instance for a
// freshly created request, writes the submission audit entry and notifies
// the first step's approvers.
func (s *WorkflowService) CreateForRequest(
	ctx context.Context,
	req *repository.CreditLimitRequest,
	specs []repository.StepSpec,
) (*repository.WorkflowInstance, []*repository.WorkflowStep, error) {
	wf := &repository.WorkflowInstance{
		RequestID:   req.ID,
		CompanyID:   req.CompanyID,
		SubmittedBy: req.RequestedBy,
	}

	steps, err := s.workflows.Create(ctx, wf, specs)
	if err != nil {
		return nil, nil, err
	}
	s.collector.RecordWorkflowCreated()

	s.log.Info().
		Str("request_id", req.ID).
		Str("workflow_id", wf.ID).
		Int("total_steps", wf.TotalSteps).
		Msg("Approval workflow created")

	statusAfter := string(repository.RequestPending)
	s.appendAudit(ctx, &repository.AuditEntry{
		RequestID:          req.ID,
		WorkflowID:         &wf.ID,
		CompanyID:          req.CompanyID,
		Action:             "submitted",
		PerformedBy:        req.RequestedBy,
		RequestStatusAfter: &statusAfter,
		Metadata: map[string]interface{}{
			"requested_amount": req.RequestedAmount,
			"total_steps":      wf.TotalSteps,
		},
	})

	s.notifyJurisdiction(ctx, "approval_required", req, wf, steps[0].JurisdictionID, req.RequestedBy)

	return wf, steps, nil
}

// ── Decisions ─────────────────────────────────────────────────────────────────

// SubmitApproval approves the target step on a request's workflow on behalf
// of actorID, applying cascade approvals and advancing or completing the
// chain.
func (s *WorkflowService) SubmitApproval(
	ctx context.Context,
	requestID, companyID string,
	stepNumber int,
	actorID string,
	comment *string,
) (*repository.WorkflowInstance, []*repository.WorkflowStep, error) {
	return s.decide(ctx, "approved", requestID, companyID, stepNumber, actorID, comment)
}

// SubmitRejection rejects the target step, cascade-rejecting every earlier
// pending step. The reason is mandatory.
func (s *WorkflowService) SubmitRejection(
	ctx context.Context,
	requestID, companyID string,
	stepNumber int,
	actorID, reason string,
) (*repository.WorkflowInstance, []*repository.WorkflowStep, error) {
	if reason == "" {
		return nil, nil, errors.InvalidInput("reason", "rejection reason is required")
	}
	return s.decide(ctx, "rejected", requestID, companyID, stepNumber, actorID, &reason)
}

func (s *WorkflowService) decide(
	ctx context.Context,
	action, requestID, companyID string,
	stepNumber int,
	actorID string,
	comment *string,
) (*repository.WorkflowInstance, []*repository.WorkflowStep, error) {
	start := time.Now()

	wf, steps, actor, err := s.loadDecisionState(ctx, requestID, companyID, actorID)
	if err != nil {
		s.collector.RecordDecision(action, workflow.ErrorCode(err), time.Since(start), 0)
		return nil, nil, err
	}

	var dec *workflow.Decision
	if action == "approved" {
		dec, err = s.engine.Approve(wf, steps, actor, stepNumber, comment)
	} else {
		dec, err = s.engine.Reject(wf, steps, actor, stepNumber, comment)
	}
	if err != nil {
		s.collector.RecordDecision(action, workflow.ErrorCode(err), time.Since(start), 0)
		return nil, nil, err
	}

	if err := s.workflows.ApplyDecision(ctx, wf, dec.Target, dec.Cascades, dec.StartStep, dec.CurrentStep, dec.InstanceStatus, dec.RequestStatus); err != nil {
		s.collector.RecordDecision(action, errors.CodeOf(err), time.Since(start), 0)
		return nil, nil, err
	}
	s.collector.RecordDecision(action, "ok", time.Since(start), len(dec.Cascades))

	s.log.Info().
		Str("request_id", requestID).
		Str("workflow_id", wf.ID).
		Str("action", action).
		Int("step_number", stepNumber).
		Int("cascades", len(dec.Cascades)).
		Bool("complete", dec.Complete).
		Msg("Approval decision applied")

	s.auditDecision(ctx, wf, dec, actorID)

	// Refresh state after the write so callers see the applied decision.
	wf, err = s.workflows.GetByRequestID(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	steps, err = s.workflows.GetSteps(ctx, wf.ID)
	if err != nil {
		return nil, nil, err
	}

	s.notifyDecision(ctx, wf, steps, dec, actorID)

	return wf, steps, nil
}

// loadDecisionState gathers the workflow, its steps and the acting approver.
func (s *WorkflowService) loadDecisionState(
	ctx context.Context,
	requestID, companyID, actorID string,
) (*repository.WorkflowInstance, []*repository.WorkflowStep, workflow.Actor, error) {
	var actor workflow.Actor

	wf, err := s.workflows.GetByRequestID(ctx, requestID)
	if err != nil {
		return nil, nil, actor, err
	}
	steps, err := s.workflows.GetSteps(ctx, wf.ID)
	if err != nil {
		return nil, nil, actor, err
	}

	jurisdiction, err := s.identity.GetActorJurisdiction(ctx, companyID, actorID)
	if err != nil {
		return nil, nil, actor, errors.Wrap(err, errors.ErrCodeInternal, "failed to resolve actor identity")
	}
	if jurisdiction == "" {
		return nil, nil, actor, &workflow.NoRuleForActorError{ActorID: actorID}
	}

	rule, err := s.rules.GetForJurisdiction(ctx, companyID, jurisdiction)
	if err != nil {
		return nil, nil, actor, err
	}

	actor = workflow.Actor{ID: actorID, JurisdictionID: jurisdiction, Rule: rule}
	return wf, steps, actor, nil
}

// ── Queries ───────────────────────────────────────────────────────────────────

// GetWorkflowSteps returns the step chain for a request.
func (s *WorkflowService) GetWorkflowSteps(ctx context.Context, requestID string) ([]*repository.WorkflowStep, error) {
	wf, err := s.workflows.GetByRequestID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return s.workflows.GetSteps(ctx, wf.ID)
}

// GetWorkflow returns the workflow instance for a request.
func (s *WorkflowService) GetWorkflow(ctx context.Context, requestID string) (*repository.WorkflowInstance, error) {
	return s.workflows.GetByRequestID(ctx, requestID)
}

// GetPendingApprovals returns the current steps awaiting the actor's
// jurisdiction across a company.
func (s *WorkflowService) GetPendingApprovals(ctx context.Context, companyID, actorID string) ([]*repository.WorkflowStep, error) {
	jurisdiction, err := s.identity.GetActorJurisdiction(ctx, companyID, actorID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to resolve actor identity")
	}
	if jurisdiction == "" {
		return nil, nil
	}
	return s.workflows.GetPendingForJurisdiction(ctx, companyID, jurisdiction)
}

// GetApprovalHistory returns the full audit trail for a request.
func (s *WorkflowService) GetApprovalHistory(ctx context.Context, requestID, companyID string) ([]*repository.AuditEntry, error) {
	return s.audit.GetByRequestID(ctx, requestID, companyID)
}

// ── Internal helpers ──────────────────────────────────────────────────────────

// auditDecision writes the direct decision entry plus one entry per cascade.
func (s *WorkflowService) auditDecision(ctx context.Context, wf *repository.WorkflowInstance, dec *workflow.Decision, actorID string) {
	statusBefore := string(repository.RequestPending)
	statusAfter := string(dec.RequestStatus)

	s.appendAudit(ctx, &repository.AuditEntry{
		RequestID:           wf.RequestID,
		WorkflowID:          &wf.ID,
		CompanyID:           wf.CompanyID,
		Action:              dec.Action,
		PerformedBy:         actorID,
		RequestStatusBefore: &statusBefore,
		RequestStatusAfter:  &statusAfter,
		Metadata: map[string]interface{}{
			"step_number": dec.Target.StepNumber,
		},
	})

	for _, p := range dec.Cascades {
		s.appendAudit(ctx, &repository.AuditEntry{
			RequestID:   wf.RequestID,
			WorkflowID:  &wf.ID,
			CompanyID:   wf.CompanyID,
			Action:      "cascade_" + dec.Action,
			PerformedBy: actorID,
			Metadata: map[string]interface{}{
				"step_number":   p.StepNumber,
				"cascaded_from": dec.Target.StepNumber,
			},
		})
	}
}

// notifyDecision publishes the post-decision events: next approvers when the
// chain advanced, the requester when it terminated.
func (s *WorkflowService) notifyDecision(
	ctx context.Context,
	wf *repository.WorkflowInstance,
	steps []*repository.WorkflowStep,
	dec *workflow.Decision,
	actorID string,
) {
	req := &repository.CreditLimitRequest{ID: wf.RequestID, CompanyID: wf.CompanyID, RequestedBy: wf.SubmittedBy}

	switch {
	case dec.InstanceStatus == repository.WorkflowApproved:
		s.notifier.PublishRequestEvent(ctx, "request_approved", wf.RequestID, wf.CompanyID, actorID,
			[]string{wf.SubmittedBy}, map[string]interface{}{"workflow_id": wf.ID})
	case dec.InstanceStatus == repository.WorkflowRejected:
		s.notifier.PublishRequestEvent(ctx, "request_rejected", wf.RequestID, wf.CompanyID, actorID,
			[]string{wf.SubmittedBy}, map[string]interface{}{"workflow_id": wf.ID})
	case dec.StartStep > 0:
		for _, step := range steps {
			if step.StepNumber == dec.StartStep {
				s.notifyJurisdiction(ctx, "approval_required", req, wf, step.JurisdictionID, actorID)
				break
			}
		}
	}
}

// notifyJurisdiction resolves a jurisdiction's users and publishes an event
// to them. Identity failures are logged and swallowed.
func (s *WorkflowService) notifyJurisdiction(
	ctx context.Context,
	eventType string,
	req *repository.CreditLimitRequest,
	wf *repository.WorkflowInstance,
	jurisdictionID, actorID string,
) {
	recipients, err := s.identity.GetUsersWithJurisdiction(ctx, req.CompanyID, jurisdictionID)
	if err != nil {
		s.log.Warn().Err(err).
			Str("jurisdiction_id", jurisdictionID).
			Msg("Could not fetch users for jurisdiction; notification skipped")
		return
	}

	s.notifier.PublishRequestEvent(ctx, eventType, req.ID, req.CompanyID, actorID, recipients,
		map[string]interface{}{
			"workflow_id":     wf.ID,
			"jurisdiction_id": jurisdictionID,
		})
}

// appendAudit writes an audit entry and logs a warning on failure (never
// returns an error).
func (s *WorkflowService) appendAudit(ctx context.Context, entry *repository.AuditEntry) {
	if err := s.audit.Append(ctx, entry); err != nil {
		s.log.Warn().Err(err).
			Str("request_id", entry.RequestID).
			Str("action", entry.Action).
			Msg("Failed to write audit log entry")
	}
}
