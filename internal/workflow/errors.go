package workflow

import (
	"errors"
	"fmt"

	platformerrors "github.com/ledgerline/be-credit-limits/internal/platform/errors"
)

// The engine's failure kinds are typed so callers can branch on them
// (retry on stale, surface authorization failures, and so on) without
// string matching.

// NoApplicableRuleError means the requested amount matches no configured
// rule; no workflow can be resolved.
type NoApplicableRuleError struct {
	CompanyID string
	Amount    int64
}

func (e *NoApplicableRuleError) Error() string {
	return fmt.Sprintf("no approval rule for company %s covers amount %d", e.CompanyID, e.Amount)
}

// NoRuleForActorError means the acting jurisdiction has no bound rule.
type NoRuleForActorError struct {
	ActorID        string
	JurisdictionID string
}

func (e *NoRuleForActorError) Error() string {
	return fmt.Sprintf("no approval rule bound to jurisdiction %q of actor %s", e.JurisdictionID, e.ActorID)
}

// UnauthorizedActionError means the actor lacks authority over the target
// step under the ownership and subordination rules.
type UnauthorizedActionError struct {
	ActorID        string
	JurisdictionID string
	StepNumber     int
}

func (e *UnauthorizedActionError) Error() string {
	return fmt.Sprintf("jurisdiction %q of actor %s may not act on step %d",
		e.JurisdictionID, e.ActorID, e.StepNumber)
}

// StalePreconditionError means the target step was already decided by the
// time the action was attempted. The caller should re-fetch and retry.
type StalePreconditionError struct {
	StepNumber int
	Decision   string
}

func (e *StalePreconditionError) Error() string {
	return fmt.Sprintf("step %d is no longer pending (decision: %s)", e.StepNumber, e.Decision)
}

// TerminalInstanceError means the workflow instance already reached a
// terminal state and accepts no further decisions.
type TerminalInstanceError struct {
	WorkflowID string
	Status     string
}

func (e *TerminalInstanceError) Error() string {
	return fmt.Sprintf("workflow %s is already %s", e.WorkflowID, e.Status)
}

// ErrorCode maps an engine error onto a platform error code for transport
// handlers. Unknown errors map to INTERNAL.
func ErrorCode(err error) string {
	var (
		noRule       *NoApplicableRuleError
		noActorRule  *NoRuleForActorError
		unauthorized *UnauthorizedActionError
		stale        *StalePreconditionError
		terminal     *TerminalInstanceError
	)
	switch {
	case errors.As(err, &noRule):
		return platformerrors.ErrCodeInvalidInput
	case errors.As(err, &noActorRule):
		return platformerrors.ErrCodeFailedPrecondition
	case errors.As(err, &unauthorized):
		return platformerrors.ErrCodeUnauthorized
	case errors.As(err, &stale):
		return platformerrors.ErrCodeConflict
	case errors.As(err, &terminal):
		return platformerrors.ErrCodeConflict
	}
	return platformerrors.CodeOf(err)
}
