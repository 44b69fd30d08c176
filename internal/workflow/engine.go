package workflow

import (
	"fmt"
	"sort"

	platformerrors "github.com/ledgerline/be-credit-limits/internal/platform/errors"
	"github.com/ledgerline/be-credit-limits/internal/repository"
)

// System comments distinguish cascade decisions from direct ones.
const (
	CascadeApprovedComment = "Approved automatically: covered by a higher-authority decision on a later step"
	CascadeRejectedComment = "Rejected automatically: a later step in the chain was rejected"
)

// Actor is the acting approver, resolved by the caller from identity and the
// rule repository. Rule is nil when no rule binds the actor's jurisdiction;
// only the administrative jurisdiction may act without one.
type Actor struct {
	ID             string
	JurisdictionID string
	Rule           *repository.WorkflowRule
}

// Decision is the complete effect of one approve/reject action: the target
// patch, any cascade patches, the step to start next (0 = none), the step
// that is current once the patches land, and the resulting instance and
// request statuses. The storage layer applies it as a single atomic unit.
type Decision struct {
	Action         string // "approved" | "rejected"
	Target         repository.StepPatch
	Cascades       []repository.StepPatch
	StartStep      int
	CurrentStep    int // earliest pending step after the write, or the target on completion
	InstanceStatus repository.WorkflowStatus
	RequestStatus  repository.RequestStatus
	Complete       bool // instance reached a terminal state
}

// Patches returns the target patch followed by the cascade patches.
func (d *Decision) Patches() []repository.StepPatch {
	return append([]repository.StepPatch{d.Target}, d.Cascades...)
}

// Engine validates and computes approval decisions. It performs no I/O; the
// caller loads state, runs the engine, and persists the returned Decision
// transactionally.
type Engine struct {
	adminJurisdiction string
}

// NewEngine creates an Engine. adminJurisdiction is the root role allowed to
// act on any step regardless of ownership or subordination.
func NewEngine(adminJurisdiction string) *Engine {
	return &Engine{adminJurisdiction: adminJurisdiction}
}

// Approve validates the action and computes the effect of approving the
// target step: the step itself, cascade approvals of earlier subordinate
// steps, starting the next pending step, and instance completion when no
// pending steps remain.
func (e *Engine) Approve(
	inst *repository.WorkflowInstance,
	steps []*repository.WorkflowStep,
	actor Actor,
	stepNumber int,
	comment *string,
) (*Decision, error) {
	target, err := e.validate(inst, steps, actor, stepNumber)
	if err != nil {
		return nil, err
	}

	dec := &Decision{
		Action: "approved",
		Target: repository.StepPatch{
			StepNumber: stepNumber,
			Decision:   repository.DecisionApproved,
			DecidedBy:  actor.ID,
			Comment:    comment,
		},
		InstanceStatus: repository.WorkflowInProgress,
		RequestStatus:  repository.RequestPending,
	}

	// Cascade-approve earlier subordinate steps. The direct approval already
	// established authority, so no per-step authorization check here: a
	// subordinate step is covered either by the actor's own seniority or by
	// the target jurisdiction outranking it.
	actorMin := int64(0)
	hasActorMin := false
	if actor.Rule != nil {
		actorMin = actor.Rule.MinAmount
		hasActorMin = true
	}
	for _, s := range sortedByNumber(steps) {
		if s.StepNumber >= stepNumber || s.Resolved() {
			continue
		}
		outrankedByActor := hasActorMin && actorMin > s.RuleMinAmount
		outrankedByTarget := s.RuleMinAmount < target.RuleMinAmount
		if s.Subordination && (outrankedByActor || outrankedByTarget) {
			sysComment := CascadeApprovedComment
			dec.Cascades = append(dec.Cascades, repository.StepPatch{
				StepNumber: s.StepNumber,
				Decision:   repository.DecisionApproved,
				DecidedBy:  actor.ID,
				Comment:    &sysComment,
				Cascaded:   true,
			})
		}
	}

	// Start the earliest step still pending after this decision; if none
	// remain, the instance is approved. Starting the earliest pending step
	// (rather than blindly step n+1) keeps the single-current-step invariant
	// when a non-subordinate earlier step is still awaiting its own approver.
	next := firstPendingAfter(steps, dec)
	switch {
	case next == nil:
		dec.InstanceStatus = repository.WorkflowApproved
		dec.RequestStatus = repository.RequestApproved
		dec.Complete = true
		dec.CurrentStep = stepNumber
	default:
		dec.CurrentStep = next.StepNumber
		if next.StartedAt == nil {
			dec.StartStep = next.StepNumber
		}
	}

	return dec, nil
}

// Reject validates the action and computes the effect of rejecting the
// target step: the step itself, cascade rejections of every earlier pending
// step, and the terminal Rejected instance status. No later step is ever
// started.
func (e *Engine) Reject(
	inst *repository.WorkflowInstance,
	steps []*repository.WorkflowStep,
	actor Actor,
	stepNumber int,
	comment *string,
) (*Decision, error) {
	if _, err := e.validate(inst, steps, actor, stepNumber); err != nil {
		return nil, err
	}

	dec := &Decision{
		Action: "rejected",
		Target: repository.StepPatch{
			StepNumber: stepNumber,
			Decision:   repository.DecisionRejected,
			DecidedBy:  actor.ID,
			Comment:    comment,
		},
		CurrentStep:    stepNumber,
		InstanceStatus: repository.WorkflowRejected,
		RequestStatus:  repository.RequestRejected,
		Complete:       true,
	}

	for _, s := range sortedByNumber(steps) {
		if s.StepNumber >= stepNumber || s.Resolved() {
			continue
		}
		sysComment := CascadeRejectedComment
		dec.Cascades = append(dec.Cascades, repository.StepPatch{
			StepNumber: s.StepNumber,
			Decision:   repository.DecisionRejected,
			DecidedBy:  actor.ID,
			Comment:    &sysComment,
			Cascaded:   true,
		})
	}

	return dec, nil
}

// validate runs the shared precondition and authorization checks and returns
// the target step.
func (e *Engine) validate(
	inst *repository.WorkflowInstance,
	steps []*repository.WorkflowStep,
	actor Actor,
	stepNumber int,
) (*repository.WorkflowStep, error) {
	if inst.Status != repository.WorkflowInProgress {
		return nil, &TerminalInstanceError{WorkflowID: inst.ID, Status: string(inst.Status)}
	}

	var target *repository.WorkflowStep
	for _, s := range steps {
		if s.StepNumber == stepNumber {
			target = s
			break
		}
	}
	if target == nil {
		return nil, platformerrors.NotFound("workflow_step", fmt.Sprintf("%s/%d", inst.ID, stepNumber))
	}
	if target.Resolved() {
		return nil, &StalePreconditionError{StepNumber: stepNumber, Decision: string(target.Decision)}
	}

	if err := e.authorize(actor, target); err != nil {
		return nil, err
	}
	return target, nil
}

// authorize applies the ownership / subordination / administrative-override
// rules from the approval policy.
func (e *Engine) authorize(actor Actor, target *repository.WorkflowStep) error {
	// Administrative override: the root jurisdiction may act on any step.
	if actor.JurisdictionID == e.adminJurisdiction {
		return nil
	}

	// Direct ownership.
	if actor.JurisdictionID == target.JurisdictionID {
		return nil
	}

	// Subordination: a higher-ranged jurisdiction may act on behalf of a
	// subordinate one. Compares range minima only, per policy.
	if actor.Rule == nil {
		return &NoRuleForActorError{ActorID: actor.ID, JurisdictionID: actor.JurisdictionID}
	}
	if target.Subordination && actor.Rule.MinAmount > target.RuleMinAmount {
		return nil
	}

	return &UnauthorizedActionError{
		ActorID:        actor.ID,
		JurisdictionID: actor.JurisdictionID,
		StepNumber:     target.StepNumber,
	}
}

// firstPendingAfter returns the lowest-numbered step still pending once the
// decision's patches are applied, or nil when none remain.
func firstPendingAfter(steps []*repository.WorkflowStep, dec *Decision) *repository.WorkflowStep {
	patched := make(map[int]bool, len(dec.Cascades)+1)
	patched[dec.Target.StepNumber] = true
	for _, p := range dec.Cascades {
		patched[p.StepNumber] = true
	}

	for _, s := range sortedByNumber(steps) {
		if s.Resolved() || patched[s.StepNumber] {
			continue
		}
		return s
	}
	return nil
}

func sortedByNumber(steps []*repository.WorkflowStep) []*repository.WorkflowStep {
	out := make([]*repository.WorkflowStep, len(steps))
	copy(out, steps)
	sort.Slice(out, func(i, j int) bool { return out[i].StepNumber < out[j].StepNumber })
	return out
}
