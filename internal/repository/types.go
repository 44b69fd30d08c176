package repository

import "time"

// ── Domain types for the credit-limit approval workflow ──────────────────────

// StepDecision is the resolved state of one approval step. A step with a
// pending decision and a non-nil StartedAt is the workflow's current step.
type StepDecision string

const (
	DecisionPending  StepDecision = "pending"
	DecisionApproved StepDecision = "approved"
	DecisionRejected StepDecision = "rejected"
)

// WorkflowStatus is the state of a workflow instance as a whole.
// Approved and Rejected are terminal.
type WorkflowStatus string

const (
	WorkflowInProgress WorkflowStatus = "in_progress"
	WorkflowApproved   WorkflowStatus = "approved"
	WorkflowRejected   WorkflowStatus = "rejected"
)

// RequestStatus mirrors the workflow instance status onto the request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

// WorkflowRule binds one jurisdiction (approver role) to an inclusive amount
// range per company. Amounts are cents.
type WorkflowRule struct {
	ID             string
	CompanyID      string
	JurisdictionID string
	MinAmount      int64
	MaxAmount      *int64 // nil = no upper bound
	Subordination  bool   // a higher-ranged jurisdiction may act on its behalf
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Contains reports whether amount falls inside the rule's inclusive range.
func (r *WorkflowRule) Contains(amount int64) bool {
	if amount < r.MinAmount {
		return false
	}
	if r.MaxAmount != nil && amount > *r.MaxAmount {
		return false
	}
	return true
}

// CreditLimitRequest is the business object being approved.
type CreditLimitRequest struct {
	ID              string
	CompanyID       string
	CustomerID      string
	RequestedAmount int64
	Status          RequestStatus
	RequestedBy     string
	Notes           *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// WorkflowInstance owns the ordered step chain for exactly one request.
type WorkflowInstance struct {
	ID          string
	RequestID   string
	CompanyID   string
	Status      WorkflowStatus
	TotalSteps  int
	CurrentStep int
	SubmittedBy string
	SubmittedAt time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// WorkflowStep is one jurisdiction's decision within a request's chain.
// Rule attributes are snapshotted at resolution time so later rule edits
// never change an in-flight chain.
type WorkflowStep struct {
	ID             string
	WorkflowID     string
	RequestID      string
	CompanyID      string
	StepNumber     int // 1-based, dense
	JurisdictionID string
	Subordination  bool
	RuleMinAmount  int64
	Decision       StepDecision
	StartedAt      *time.Time
	FinishedAt     *time.Time
	DecidedBy      *string
	Comments       *string
	Cascaded       bool // decision applied by cascade, not directly
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsCurrent reports whether the step is started and still undecided.
func (s *WorkflowStep) IsCurrent() bool {
	return s.Decision == DecisionPending && s.StartedAt != nil
}

// Resolved reports whether the step carries a final decision.
func (s *WorkflowStep) Resolved() bool {
	return s.Decision != DecisionPending
}

// StepSpec is a resolved step before persistence: the resolver's output and
// WorkflowRepository.Create's input.
type StepSpec struct {
	StepNumber     int
	JurisdictionID string
	Subordination  bool
	RuleMinAmount  int64
	StartedAt      *time.Time // set on the first step only
}

// StepPatch is one step mutation within a decision's atomic write set.
type StepPatch struct {
	StepNumber int
	Decision   StepDecision
	DecidedBy  string
	Comment    *string
	Cascaded   bool
}

// AuditEntry is one immutable record in the approval audit log.
type AuditEntry struct {
	ID                  string
	RequestID           string
	WorkflowID          *string
	StepID              *string
	CompanyID           string
	Action              string // submitted | approved | rejected | cascade_approved | cascade_rejected | amount_changed | deleted
	PerformedBy         string
	PerformedAt         time.Time
	RequestStatusBefore *string
	RequestStatusAfter  *string
	Metadata            map[string]interface{}
}
