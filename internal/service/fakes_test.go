package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ledgerline/be-credit-limits/internal/platform/errors"
	"github.com/ledgerline/be-credit-limits/internal/repository"
)

// In-memory fakes standing in for the Postgres repositories and the
// identity/notification clients.

type fakeRulesStore struct {
	rules []*repository.WorkflowRule
}

func (f *fakeRulesStore) ActiveForCompany(_ context.Context, companyID string) ([]*repository.WorkflowRule, error) {
	var out []*repository.WorkflowRule
	for _, r := range f.rules {
		if r.CompanyID == companyID && r.IsActive {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRulesStore) GetForJurisdiction(_ context.Context, companyID, jurisdictionID string) (*repository.WorkflowRule, error) {
	for _, r := range f.rules {
		if r.CompanyID == companyID && r.JurisdictionID == jurisdictionID && r.IsActive {
			return r, nil
		}
	}
	return nil, nil
}

type fakeWorkflowStore struct {
	workflows map[string]*repository.WorkflowInstance // keyed by request id
	steps     map[string][]*repository.WorkflowStep   // keyed by workflow id
	requests  *fakeRequestStore                       // status mirror, may be nil
	seq       int
}

func newFakeWorkflowStore() *fakeWorkflowStore {
	return &fakeWorkflowStore{
		workflows: make(map[string]*repository.WorkflowInstance),
		steps:     make(map[string][]*repository.WorkflowStep),
	}
}

func (f *fakeWorkflowStore) Create(_ context.Context, wf *repository.WorkflowInstance, specs []repository.StepSpec) ([]*repository.WorkflowStep, error) {
	f.seq++
	wf.ID = fmt.Sprintf("wf-%d", f.seq)
	wf.Status = repository.WorkflowInProgress
	wf.TotalSteps = len(specs)
	wf.CurrentStep = 1
	wf.SubmittedAt = time.Now().UTC()
	f.workflows[wf.RequestID] = wf

	steps := f.buildSteps(wf, specs)
	f.steps[wf.ID] = steps
	return steps, nil
}

func (f *fakeWorkflowStore) ReplaceChain(_ context.Context, wf *repository.WorkflowInstance, newAmount int64, specs []repository.StepSpec) ([]*repository.WorkflowStep, error) {
	for _, s := range f.steps[wf.ID] {
		if s.Resolved() {
			return nil, errors.New(errors.ErrCodeFailedPrecondition, "workflow already has recorded decisions")
		}
	}
	req, ok := f.requests.byID[wf.RequestID]
	if !ok || req.Status != repository.RequestPending {
		return nil, errors.New(errors.ErrCodeConflict, "request not found or no longer pending")
	}
	req.RequestedAmount = newAmount
	wf.TotalSteps = len(specs)
	wf.CurrentStep = 1
	steps := f.buildSteps(wf, specs)
	f.steps[wf.ID] = steps
	return steps, nil
}

func (f *fakeWorkflowStore) buildSteps(wf *repository.WorkflowInstance, specs []repository.StepSpec) []*repository.WorkflowStep {
	steps := make([]*repository.WorkflowStep, 0, len(specs))
	for _, spec := range specs {
		f.seq++
		steps = append(steps, &repository.WorkflowStep{
			ID:             fmt.Sprintf("step-%d", f.seq),
			WorkflowID:     wf.ID,
			RequestID:      wf.RequestID,
			CompanyID:      wf.CompanyID,
			StepNumber:     spec.StepNumber,
			JurisdictionID: spec.JurisdictionID,
			Subordination:  spec.Subordination,
			RuleMinAmount:  spec.RuleMinAmount,
			Decision:       repository.DecisionPending,
			StartedAt:      spec.StartedAt,
		})
	}
	return steps
}

func (f *fakeWorkflowStore) GetByRequestID(_ context.Context, requestID string) (*repository.WorkflowInstance, error) {
	wf, ok := f.workflows[requestID]
	if !ok {
		return nil, errors.NotFound("approval_workflow", requestID)
	}
	return wf, nil
}

func (f *fakeWorkflowStore) GetSteps(_ context.Context, workflowID string) ([]*repository.WorkflowStep, error) {
	return f.steps[workflowID], nil
}

func (f *fakeWorkflowStore) GetPendingForJurisdiction(_ context.Context, companyID, jurisdictionID string) ([]*repository.WorkflowStep, error) {
	var out []*repository.WorkflowStep
	for _, steps := range f.steps {
		for _, s := range steps {
			if s.CompanyID == companyID && s.JurisdictionID == jurisdictionID && s.IsCurrent() {
				out = append(out, s)
			}
		}
	}
	return out, nil
}

func (f *fakeWorkflowStore) ApplyDecision(
	_ context.Context,
	wf *repository.WorkflowInstance,
	target repository.StepPatch,
	cascades []repository.StepPatch,
	startStep, currentStep int,
	instanceStatus repository.WorkflowStatus,
	requestStatus repository.RequestStatus,
) error {
	steps := f.steps[wf.ID]
	now := time.Now().UTC()

	apply := func(p repository.StepPatch, mustBePending bool) error {
		for _, s := range steps {
			if s.StepNumber != p.StepNumber {
				continue
			}
			if s.Resolved() {
				if mustBePending {
					return errors.New(errors.ErrCodeConflict, "step decision already recorded")
				}
				return nil
			}
			s.Decision = p.Decision
			decidedBy := p.DecidedBy
			s.DecidedBy = &decidedBy
			s.Comments = p.Comment
			s.Cascaded = p.Cascaded
			s.FinishedAt = &now
			return nil
		}
		return errors.NotFound("workflow_step", fmt.Sprintf("%d", p.StepNumber))
	}

	if err := apply(target, true); err != nil {
		return err
	}
	for _, p := range cascades {
		if err := apply(p, false); err != nil {
			return err
		}
	}

	if startStep > 0 {
		for _, s := range steps {
			if s.StepNumber == startStep && s.StartedAt == nil {
				s.StartedAt = &now
			}
		}
	}
	wf.CurrentStep = currentStep

	wf.Status = instanceStatus
	if instanceStatus != repository.WorkflowInProgress {
		wf.CompletedAt = &now
	}
	if f.requests != nil {
		if req, ok := f.requests.byID[wf.RequestID]; ok {
			req.Status = requestStatus
		}
	}
	return nil
}

type fakeAuditStore struct {
	entries []*repository.AuditEntry
}

func (f *fakeAuditStore) Append(_ context.Context, entry *repository.AuditEntry) error {
	entry.ID = fmt.Sprintf("audit-%d", len(f.entries)+1)
	entry.PerformedAt = time.Now().UTC()
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeAuditStore) GetByRequestID(_ context.Context, requestID, companyID string) ([]*repository.AuditEntry, error) {
	var out []*repository.AuditEntry
	for _, e := range f.entries {
		if e.RequestID == requestID && e.CompanyID == companyID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeAuditStore) actions() []string {
	out := make([]string, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e.Action)
	}
	return out
}

// fakeIdentity maps actor id to jurisdiction and jurisdiction to users.
type fakeIdentity struct {
	jurisdictions map[string]string
	users         map[string][]string
}

func (f *fakeIdentity) GetActorJurisdiction(_ context.Context, _, actorID string) (string, error) {
	return f.jurisdictions[actorID], nil
}

func (f *fakeIdentity) GetUsersWithJurisdiction(_ context.Context, _, jurisdictionID string) ([]string, error) {
	return f.users[jurisdictionID], nil
}

type publishedEvent struct {
	eventType  string
	requestID  string
	recipients []string
}

type fakeNotifier struct {
	events []publishedEvent
}

func (f *fakeNotifier) PublishRequestEvent(_ context.Context, eventType, requestID, _, _ string, recipients []string, _ map[string]interface{}) {
	f.events = append(f.events, publishedEvent{eventType: eventType, requestID: requestID, recipients: recipients})
}

type fakeRequestStore struct {
	byID map[string]*repository.CreditLimitRequest
	seq  int
}

func newFakeRequestStore() *fakeRequestStore {
	return &fakeRequestStore{byID: make(map[string]*repository.CreditLimitRequest)}
}

func (f *fakeRequestStore) Create(_ context.Context, req *repository.CreditLimitRequest) error {
	f.seq++
	req.ID = fmt.Sprintf("req-%d", f.seq)
	req.Status = repository.RequestPending
	req.CreatedAt = time.Now().UTC()
	req.UpdatedAt = req.CreatedAt
	f.byID[req.ID] = req
	return nil
}

func (f *fakeRequestStore) GetByID(_ context.Context, id, companyID string) (*repository.CreditLimitRequest, error) {
	req, ok := f.byID[id]
	if !ok || req.CompanyID != companyID {
		return nil, errors.NotFound("credit_limit_request", id)
	}
	return req, nil
}

func (f *fakeRequestStore) List(_ context.Context, companyID string, customerID, status *string, _, _ int) ([]*repository.CreditLimitRequest, int, error) {
	var out []*repository.CreditLimitRequest
	for _, req := range f.byID {
		if req.CompanyID != companyID {
			continue
		}
		if customerID != nil && req.CustomerID != *customerID {
			continue
		}
		if status != nil && string(req.Status) != *status {
			continue
		}
		out = append(out, req)
	}
	return out, len(out), nil
}

func (f *fakeRequestStore) Delete(_ context.Context, id, companyID string) error {
	req, ok := f.byID[id]
	if !ok || req.CompanyID != companyID || req.Status != repository.RequestPending {
		return errors.New(errors.ErrCodeConflict, "request not found or no longer pending")
	}
	delete(f.byID, id)
	return nil
}
