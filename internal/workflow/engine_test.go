package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	platformerrors "github.com/ledgerline/be-credit-limits/internal/platform/errors"
	"github.com/ledgerline/be-credit-limits/internal/repository"
)

func newInstance() *repository.WorkflowInstance {
	return &repository.WorkflowInstance{
		ID:          "wf-1",
		RequestID:   "req-1",
		CompanyID:   "acme",
		Status:      repository.WorkflowInProgress,
		TotalSteps:  3,
		CurrentStep: 1,
	}
}

// threeTierSteps mirrors the manager/director/cfo chain with step 1 started.
func threeTierSteps() []*repository.WorkflowStep {
	started := time.Now().UTC()
	return []*repository.WorkflowStep{
		{ID: "s1", StepNumber: 1, JurisdictionID: "manager", Subordination: true, RuleMinAmount: 0, Decision: repository.DecisionPending, StartedAt: &started},
		{ID: "s2", StepNumber: 2, JurisdictionID: "director", Subordination: true, RuleMinAmount: 500_01, Decision: repository.DecisionPending},
		{ID: "s3", StepNumber: 3, JurisdictionID: "cfo", Subordination: false, RuleMinAmount: 5_000_01, Decision: repository.DecisionPending},
	}
}

func managerActor() Actor {
	return Actor{ID: "u-mgr", JurisdictionID: "manager",
		Rule: &repository.WorkflowRule{JurisdictionID: "manager", MinAmount: 0, Subordination: true}}
}

func directorActor() Actor {
	return Actor{ID: "u-dir", JurisdictionID: "director",
		Rule: &repository.WorkflowRule{JurisdictionID: "director", MinAmount: 500_01, Subordination: true}}
}

func cfoActor() Actor {
	return Actor{ID: "u-cfo", JurisdictionID: "cfo",
		Rule: &repository.WorkflowRule{JurisdictionID: "cfo", MinAmount: 5_000_01}}
}

func TestEngine_ApproveOwnStepAdvancesChain(t *testing.T) {
	e := NewEngine("ROOT")

	dec, err := e.Approve(newInstance(), threeTierSteps(), managerActor(), 1, nil)
	require.NoError(t, err)

	assert.Equal(t, "approved", dec.Action)
	assert.Equal(t, 1, dec.Target.StepNumber)
	assert.Equal(t, repository.DecisionApproved, dec.Target.Decision)
	assert.Equal(t, "u-mgr", dec.Target.DecidedBy)
	assert.Empty(t, dec.Cascades)
	assert.Equal(t, 2, dec.StartStep)
	assert.Equal(t, 2, dec.CurrentStep)
	assert.Equal(t, repository.WorkflowInProgress, dec.InstanceStatus)
	assert.False(t, dec.Complete)
}

func TestEngine_ApproveLastStepCompletesInstance(t *testing.T) {
	e := NewEngine("ROOT")
	steps := threeTierSteps()
	steps[0].Decision = repository.DecisionApproved
	steps[1].Decision = repository.DecisionApproved
	started := time.Now().UTC()
	steps[2].StartedAt = &started

	dec, err := e.Approve(newInstance(), steps, cfoActor(), 3, nil)
	require.NoError(t, err)

	assert.True(t, dec.Complete)
	assert.Equal(t, repository.WorkflowApproved, dec.InstanceStatus)
	assert.Equal(t, repository.RequestApproved, dec.RequestStatus)
	assert.Zero(t, dec.StartStep)
	assert.Equal(t, 3, dec.CurrentStep)
}

func TestEngine_ApproveCascadesSubordinateSteps(t *testing.T) {
	e := NewEngine("ROOT")

	// CFO approves step 3 while 1 and 2 are still pending. Both are
	// subordinate and outranked, so both cascade-approve and the instance
	// completes in one action.
	dec, err := e.Approve(newInstance(), threeTierSteps(), cfoActor(), 3, nil)
	require.NoError(t, err)

	require.Len(t, dec.Cascades, 2)
	for _, p := range dec.Cascades {
		assert.Equal(t, repository.DecisionApproved, p.Decision)
		assert.True(t, p.Cascaded)
		require.NotNil(t, p.Comment)
		assert.Equal(t, CascadeApprovedComment, *p.Comment)
	}
	assert.True(t, dec.Complete)
	assert.Equal(t, repository.WorkflowApproved, dec.InstanceStatus)
}

func TestEngine_ApproveDoesNotCascadeNonSubordinateStep(t *testing.T) {
	e := NewEngine("ROOT")
	steps := threeTierSteps()
	steps[0].Subordination = false

	dec, err := e.Approve(newInstance(), steps, cfoActor(), 3, nil)
	require.NoError(t, err)

	// Only step 2 cascades; step 1 stays pending and remains the current
	// step, so nothing new is started.
	require.Len(t, dec.Cascades, 1)
	assert.Equal(t, 2, dec.Cascades[0].StepNumber)
	assert.False(t, dec.Complete)
	assert.Equal(t, repository.WorkflowInProgress, dec.InstanceStatus)
	assert.Zero(t, dec.StartStep) // step 1 is already started
	assert.Equal(t, 1, dec.CurrentStep)
}

func TestEngine_SubordinationAllowsActingOnLowerStep(t *testing.T) {
	e := NewEngine("ROOT")

	// Director approves the manager's step: allowed because the step is
	// subordinate and the director's range minimum is higher.
	dec, err := e.Approve(newInstance(), threeTierSteps(), directorActor(), 1, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, dec.Target.StepNumber)
	assert.Equal(t, "u-dir", dec.Target.DecidedBy)
	assert.Equal(t, 2, dec.StartStep)
}

func TestEngine_SubordinationDeniedWhenStepNotSubordinate(t *testing.T) {
	e := NewEngine("ROOT")
	steps := threeTierSteps()
	steps[0].Subordination = false

	_, err := e.Approve(newInstance(), steps, directorActor(), 1, nil)

	var unauthorized *UnauthorizedActionError
	require.ErrorAs(t, err, &unauthorized)
	assert.Equal(t, 1, unauthorized.StepNumber)
}

func TestEngine_LowerJurisdictionCannotActOnHigherStep(t *testing.T) {
	e := NewEngine("ROOT")
	steps := threeTierSteps()
	steps[2].Subordination = true // even subordinate, manager min is lower

	_, err := e.Approve(newInstance(), steps, managerActor(), 3, nil)

	var unauthorized *UnauthorizedActionError
	assert.ErrorAs(t, err, &unauthorized)
}

func TestEngine_ActorWithoutRuleRejected(t *testing.T) {
	e := NewEngine("ROOT")
	actor := Actor{ID: "u-x", JurisdictionID: "intern", Rule: nil}

	_, err := e.Approve(newInstance(), threeTierSteps(), actor, 1, nil)

	var noRule *NoRuleForActorError
	require.ErrorAs(t, err, &noRule)
	assert.Equal(t, "u-x", noRule.ActorID)
}

func TestEngine_AdminOverrideActsWithoutRule(t *testing.T) {
	e := NewEngine("ROOT")
	admin := Actor{ID: "u-root", JurisdictionID: "ROOT", Rule: nil}

	dec, err := e.Approve(newInstance(), threeTierSteps(), admin, 3, nil)
	require.NoError(t, err)

	// Admin has no rule, so cascades rely on the target outranking the
	// earlier steps.
	assert.Equal(t, 3, dec.Target.StepNumber)
	assert.Len(t, dec.Cascades, 2)
	assert.True(t, dec.Complete)
}

func TestEngine_RejectCascadesAllEarlierPendingSteps(t *testing.T) {
	e := NewEngine("ROOT")
	reason := "limit too high for this customer"

	dec, err := e.Reject(newInstance(), threeTierSteps(), cfoActor(), 3, &reason)
	require.NoError(t, err)

	assert.Equal(t, "rejected", dec.Action)
	assert.True(t, dec.Complete)
	assert.Equal(t, repository.WorkflowRejected, dec.InstanceStatus)
	assert.Equal(t, repository.RequestRejected, dec.RequestStatus)
	assert.Zero(t, dec.StartStep)

	require.Len(t, dec.Cascades, 2)
	for _, p := range dec.Cascades {
		assert.Equal(t, repository.DecisionRejected, p.Decision)
		assert.True(t, p.Cascaded)
		require.NotNil(t, p.Comment)
		assert.Equal(t, CascadeRejectedComment, *p.Comment)
	}
}

func TestEngine_RejectCascadesEvenNonSubordinateSteps(t *testing.T) {
	e := NewEngine("ROOT")
	steps := threeTierSteps()
	steps[0].Subordination = false

	reason := "no"
	dec, err := e.Reject(newInstance(), steps, cfoActor(), 3, &reason)
	require.NoError(t, err)

	// Rejection cascades unconditionally: a rejected chain leaves nothing
	// pending.
	assert.Len(t, dec.Cascades, 2)
}

func TestEngine_RejectFirstStepTerminatesImmediately(t *testing.T) {
	e := NewEngine("ROOT")
	reason := "insufficient history"

	dec, err := e.Reject(newInstance(), threeTierSteps(), managerActor(), 1, &reason)
	require.NoError(t, err)

	assert.Empty(t, dec.Cascades)
	assert.True(t, dec.Complete)
	assert.Equal(t, repository.WorkflowRejected, dec.InstanceStatus)
}

func TestEngine_TerminalInstanceAcceptsNoDecision(t *testing.T) {
	e := NewEngine("ROOT")

	for _, status := range []repository.WorkflowStatus{repository.WorkflowApproved, repository.WorkflowRejected} {
		inst := newInstance()
		inst.Status = status

		_, err := e.Approve(inst, threeTierSteps(), managerActor(), 1, nil)

		var terminal *TerminalInstanceError
		require.ErrorAs(t, err, &terminal)
		assert.Equal(t, string(status), terminal.Status)
	}
}

func TestEngine_ResolvedStepIsStale(t *testing.T) {
	e := NewEngine("ROOT")
	steps := threeTierSteps()
	steps[0].Decision = repository.DecisionApproved

	_, err := e.Approve(newInstance(), steps, managerActor(), 1, nil)

	var stale *StalePreconditionError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, 1, stale.StepNumber)
	assert.Equal(t, "approved", stale.Decision)
}

func TestEngine_UnknownStepIsNotFound(t *testing.T) {
	e := NewEngine("ROOT")

	_, err := e.Approve(newInstance(), threeTierSteps(), managerActor(), 9, nil)
	assert.True(t, platformerrors.HasCode(err, platformerrors.ErrCodeNotFound))
}

func TestEngine_StartsEarliestPendingStep(t *testing.T) {
	e := NewEngine("ROOT")
	steps := threeTierSteps()
	steps[0].Subordination = false

	// Director approves step 2 directly; step 1 is non-subordinate and
	// still pending, so the chain must not advance past it.
	started := time.Now().UTC()
	steps[1].StartedAt = &started

	dec, err := e.Approve(newInstance(), steps, directorActor(), 2, nil)
	require.NoError(t, err)

	assert.Empty(t, dec.Cascades)
	assert.False(t, dec.Complete)
	assert.Zero(t, dec.StartStep) // step 1 already started, nothing new to start

	// The current step points back at the skipped earlier step, not at the
	// resolved target.
	assert.Equal(t, 1, dec.CurrentStep)
}

func TestEngine_ErrorCodeMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"no applicable rule", &NoApplicableRuleError{}, platformerrors.ErrCodeInvalidInput},
		{"no rule for actor", &NoRuleForActorError{}, platformerrors.ErrCodeFailedPrecondition},
		{"unauthorized", &UnauthorizedActionError{}, platformerrors.ErrCodeUnauthorized},
		{"stale", &StalePreconditionError{}, platformerrors.ErrCodeConflict},
		{"terminal", &TerminalInstanceError{}, platformerrors.ErrCodeConflict},
		{"platform not found", platformerrors.NotFound("x", "1"), platformerrors.ErrCodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, ErrorCode(tt.err))
		})
	}
}
