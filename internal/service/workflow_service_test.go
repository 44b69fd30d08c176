package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/be-credit-limits/internal/metrics"
	"github.com/ledgerline/be-credit-limits/internal/platform/errors"
	"github.com/ledgerline/be-credit-limits/internal/platform/logger"
	"github.com/ledgerline/be-credit-limits/internal/repository"
	"github.com/ledgerline/be-credit-limits/internal/workflow"
)

func int64Ptr(v int64) *int64 { return &v }

type testEnv struct {
	rules     *fakeRulesStore
	workflows *fakeWorkflowStore
	requests  *fakeRequestStore
	audit     *fakeAuditStore
	identity  *fakeIdentity
	notifier  *fakeNotifier

	wfService  *WorkflowService
	reqService *RequestService
}

// newTestEnv wires the services over in-memory fakes with the standard
// manager/director/cfo rule set for company "acme".
func newTestEnv() *testEnv {
	env := &testEnv{
		rules: &fakeRulesStore{rules: []*repository.WorkflowRule{
			{ID: "r1", CompanyID: "acme", JurisdictionID: "manager", MinAmount: 0, MaxAmount: int64Ptr(500_00), Subordination: true, IsActive: true},
			{ID: "r2", CompanyID: "acme", JurisdictionID: "director", MinAmount: 500_01, MaxAmount: int64Ptr(5_000_00), Subordination: true, IsActive: true},
			{ID: "r3", CompanyID: "acme", JurisdictionID: "cfo", MinAmount: 5_000_01, Subordination: false, IsActive: true},
		}},
		workflows: newFakeWorkflowStore(),
		requests:  newFakeRequestStore(),
		audit:     &fakeAuditStore{},
		identity: &fakeIdentity{
			jurisdictions: map[string]string{
				"u-mgr":  "manager",
				"u-dir":  "director",
				"u-cfo":  "cfo",
				"u-root": "ROOT",
			},
			users: map[string][]string{
				"manager":  {"u-mgr"},
				"director": {"u-dir"},
				"cfo":      {"u-cfo"},
			},
		},
		notifier: &fakeNotifier{},
	}
	env.workflows.requests = env.requests

	log := logger.New(logger.Config{Level: "error"})
	engine := workflow.NewEngine("ROOT")
	env.wfService = NewWorkflowService(env.rules, env.workflows, env.audit, env.identity, env.notifier, engine, metrics.NewCollector(), log)
	env.reqService = NewRequestService(env.requests, env.workflows, env.wfService, env.audit, log)
	return env
}

func (env *testEnv) submit(t *testing.T, amount int64) *repository.CreditLimitRequest {
	t.Helper()
	req, _, _, err := env.reqService.CreateRequest(context.Background(), &CreateRequestArgs{
		CompanyID:       "acme",
		CustomerID:      "cust-1",
		RequestedAmount: amount,
		RequestedBy:     "u-sub",
	})
	require.NoError(t, err)
	return req
}

func TestWorkflowService_ResolveChainDryRun(t *testing.T) {
	env := newTestEnv()

	specs, err := env.wfService.ResolveChain(context.Background(), "acme", 2_000_00)
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, "manager", specs[0].JurisdictionID)
	assert.Equal(t, "director", specs[1].JurisdictionID)

	// Dry run: nothing persisted.
	assert.Empty(t, env.workflows.workflows)
}

func TestWorkflowService_SubmitThenApproveToCompletion(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	req := env.submit(t, 2_000_00)

	// Manager approves step 1, chain advances to the director.
	wf, steps, err := env.wfService.SubmitApproval(ctx, req.ID, "acme", 1, "u-mgr", nil)
	require.NoError(t, err)
	assert.Equal(t, repository.WorkflowInProgress, wf.Status)
	assert.Equal(t, 2, wf.CurrentStep)
	assert.True(t, steps[1].IsCurrent())

	// Director approves step 2, instance and request both approve.
	wf, _, err = env.wfService.SubmitApproval(ctx, req.ID, "acme", 2, "u-dir", nil)
	require.NoError(t, err)
	assert.Equal(t, repository.WorkflowApproved, wf.Status)
	assert.NotNil(t, wf.CompletedAt)
	assert.Equal(t, repository.RequestApproved, req.Status)

	assert.Equal(t, []string{"submitted", "approved", "approved"}, env.audit.actions())
}

func TestWorkflowService_SeniorApprovalCascades(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	req := env.submit(t, 2_000_00)

	// Director approves their own step while the manager step is still
	// pending: the subordinate step cascade-approves and the chain
	// completes in one action.
	wf, steps, err := env.wfService.SubmitApproval(ctx, req.ID, "acme", 2, "u-dir", nil)
	require.NoError(t, err)

	assert.Equal(t, repository.WorkflowApproved, wf.Status)
	assert.Equal(t, repository.DecisionApproved, steps[0].Decision)
	assert.True(t, steps[0].Cascaded)
	require.NotNil(t, steps[0].Comments)
	assert.Equal(t, workflow.CascadeApprovedComment, *steps[0].Comments)

	assert.Contains(t, env.audit.actions(), "cascade_approved")
}

func TestWorkflowService_RejectionCascadesAndTerminates(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	req := env.submit(t, 10_000_00) // three-step chain

	wf, steps, err := env.wfService.SubmitRejection(ctx, req.ID, "acme", 3, "u-cfo", "exposure too high")
	require.NoError(t, err)

	assert.Equal(t, repository.WorkflowRejected, wf.Status)
	assert.Equal(t, repository.RequestRejected, req.Status)
	for _, s := range steps {
		assert.Equal(t, repository.DecisionRejected, s.Decision)
	}
	assert.True(t, steps[0].Cascaded)
	assert.True(t, steps[1].Cascaded)
	assert.False(t, steps[2].Cascaded)
}

func TestWorkflowService_RejectionRequiresReason(t *testing.T) {
	env := newTestEnv()
	req := env.submit(t, 100_00)

	_, _, err := env.wfService.SubmitRejection(context.Background(), req.ID, "acme", 1, "u-mgr", "")
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidInput))
}

func TestWorkflowService_TerminalWorkflowRejectsFurtherDecisions(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	req := env.submit(t, 100_00)

	_, _, err := env.wfService.SubmitApproval(ctx, req.ID, "acme", 1, "u-mgr", nil)
	require.NoError(t, err)

	_, _, err = env.wfService.SubmitApproval(ctx, req.ID, "acme", 1, "u-mgr", nil)
	var terminal *workflow.TerminalInstanceError
	assert.ErrorAs(t, err, &terminal)
}

func TestWorkflowService_ActorWithoutJurisdiction(t *testing.T) {
	env := newTestEnv()
	req := env.submit(t, 100_00)

	_, _, err := env.wfService.SubmitApproval(context.Background(), req.ID, "acme", 1, "u-nobody", nil)

	var noRule *workflow.NoRuleForActorError
	require.ErrorAs(t, err, &noRule)
	assert.Equal(t, "u-nobody", noRule.ActorID)
}

func TestWorkflowService_UnauthorizedActorLeavesStateUntouched(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	req := env.submit(t, 10_000_00)

	// Manager cannot act on the CFO's non-subordinate step.
	_, _, err := env.wfService.SubmitApproval(ctx, req.ID, "acme", 3, "u-mgr", nil)
	var unauthorized *workflow.UnauthorizedActionError
	require.ErrorAs(t, err, &unauthorized)

	steps, err := env.wfService.GetWorkflowSteps(ctx, req.ID)
	require.NoError(t, err)
	for _, s := range steps {
		assert.Equal(t, repository.DecisionPending, s.Decision)
	}
}

func TestWorkflowService_AdminOverride(t *testing.T) {
	env := newTestEnv()
	req := env.submit(t, 10_000_00)

	wf, _, err := env.wfService.SubmitApproval(context.Background(), req.ID, "acme", 3, "u-root", nil)
	require.NoError(t, err)
	assert.Equal(t, repository.WorkflowApproved, wf.Status)
}

func TestWorkflowService_Notifications(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	req := env.submit(t, 2_000_00)

	// Submission notifies the first step's approvers.
	require.Len(t, env.notifier.events, 1)
	assert.Equal(t, "approval_required", env.notifier.events[0].eventType)
	assert.Equal(t, []string{"u-mgr"}, env.notifier.events[0].recipients)

	// Advancing the chain notifies the next jurisdiction.
	_, _, err := env.wfService.SubmitApproval(ctx, req.ID, "acme", 1, "u-mgr", nil)
	require.NoError(t, err)
	require.Len(t, env.notifier.events, 2)
	assert.Equal(t, []string{"u-dir"}, env.notifier.events[1].recipients)

	// Completion notifies the submitter.
	_, _, err = env.wfService.SubmitApproval(ctx, req.ID, "acme", 2, "u-dir", nil)
	require.NoError(t, err)
	require.Len(t, env.notifier.events, 3)
	assert.Equal(t, "request_approved", env.notifier.events[2].eventType)
	assert.Equal(t, []string{"u-sub"}, env.notifier.events[2].recipients)
}

func TestWorkflowService_GetPendingApprovals(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.submit(t, 100_00)
	env.submit(t, 200_00)

	steps, err := env.wfService.GetPendingApprovals(ctx, "acme", "u-mgr")
	require.NoError(t, err)
	assert.Len(t, steps, 2)

	// Unstarted later steps are not pending work.
	steps, err = env.wfService.GetPendingApprovals(ctx, "acme", "u-dir")
	require.NoError(t, err)
	assert.Empty(t, steps)

	// An actor without a jurisdiction has no queue.
	steps, err = env.wfService.GetPendingApprovals(ctx, "acme", "u-nobody")
	require.NoError(t, err)
	assert.Nil(t, steps)
}

func TestWorkflowService_ApprovalHistory(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	req := env.submit(t, 2_000_00)

	_, _, err := env.wfService.SubmitApproval(ctx, req.ID, "acme", 2, "u-dir", nil)
	require.NoError(t, err)

	entries, err := env.wfService.GetApprovalHistory(ctx, req.ID, "acme")
	require.NoError(t, err)

	actions := make([]string, 0, len(entries))
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []string{"submitted", "approved", "cascade_approved"}, actions)
}
