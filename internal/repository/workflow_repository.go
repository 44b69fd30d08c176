package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ledgerline/be-credit-limits/internal/platform/database"
	"github.com/ledgerline/be-credit-limits/internal/platform/errors"
)

// WorkflowRepository manages workflow instances and their steps. Instance +
// step creation, and every decision write set, run in a single transaction.
type WorkflowRepository struct {
	db *database.DB
}

// NewWorkflowRepository creates a new WorkflowRepository.
func NewWorkflowRepository(db *database.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

// Create inserts a workflow and its resolved step chain in one transaction.
func (r *WorkflowRepository) Create(ctx context.Context, wf *WorkflowInstance, specs []StepSpec) ([]*WorkflowStep, error) {
	var steps []*WorkflowStep

	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		var err error
		steps, err = r.createInTx(ctx, tx, wf, specs)
		return err
	})
	if err != nil {
		return nil, err
	}
	return steps, nil
}

func (r *WorkflowRepository) createInTx(ctx context.Context, tx pgx.Tx, wf *WorkflowInstance, specs []StepSpec) ([]*WorkflowStep, error) {
	wfQuery := `
		INSERT INTO credit_approval_workflows
		    (request_id, company_id, status, total_steps, current_step, submitted_by)
		VALUES ($1, $2, 'in_progress', $3, 1, $4)
		RETURNING id, status, submitted_at, created_at, updated_at
	`

	err := tx.QueryRow(ctx, wfQuery,
		wf.RequestID,
		wf.CompanyID,
		len(specs),
		wf.SubmittedBy,
	).Scan(&wf.ID, &wf.Status, &wf.SubmittedAt, &wf.CreatedAt, &wf.UpdatedAt)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval workflow")
	}
	wf.TotalSteps = len(specs)
	wf.CurrentStep = 1

	stepQuery := `
		INSERT INTO credit_approval_steps
		    (workflow_id, request_id, company_id,
		     step_number, jurisdiction_id, subordination, rule_min_amount,
		     decision, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', $8)
		RETURNING id, decision, created_at, updated_at
	`

	steps := make([]*WorkflowStep, 0, len(specs))
	for _, spec := range specs {
		step := &WorkflowStep{
			WorkflowID:     wf.ID,
			RequestID:      wf.RequestID,
			CompanyID:      wf.CompanyID,
			StepNumber:     spec.StepNumber,
			JurisdictionID: spec.JurisdictionID,
			Subordination:  spec.Subordination,
			RuleMinAmount:  spec.RuleMinAmount,
			StartedAt:      spec.StartedAt,
		}

		err := tx.QueryRow(ctx, stepQuery,
			step.WorkflowID,
			step.RequestID,
			step.CompanyID,
			step.StepNumber,
			step.JurisdictionID,
			step.Subordination,
			step.RuleMinAmount,
			step.StartedAt,
		).Scan(&step.ID, &step.Decision, &step.CreatedAt, &step.UpdatedAt)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval step")
		}
		steps = append(steps, step)
	}

	return steps, nil
}

// ReplaceChain applies an administrative amount change as one transaction:
// the new requested amount, the deletion of the old steps, the workflow
// reset and the re-resolved chain all land together or not at all. Only
// permitted while the request is pending, the workflow is in progress and
// no decision has been recorded; the WHERE guards enforce all three.
func (r *WorkflowRepository) ReplaceChain(ctx context.Context, wf *WorkflowInstance, newAmount int64, specs []StepSpec) ([]*WorkflowStep, error) {
	var steps []*WorkflowStep

	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		var decided int
		err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM credit_approval_steps
			 WHERE workflow_id = $1 AND decision <> 'pending'`,
			wf.ID,
		).Scan(&decided)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to inspect approval steps")
		}
		if decided > 0 {
			return errors.New(errors.ErrCodeFailedPrecondition, "workflow already has recorded decisions")
		}

		amountTag, err := tx.Exec(ctx,
			`UPDATE credit_limit_requests
			 SET requested_amount = $3, updated_at = NOW()
			 WHERE id = $1 AND company_id = $2 AND status = 'pending'`,
			wf.RequestID, wf.CompanyID, newAmount,
		)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to update requested amount")
		}
		if amountTag.RowsAffected() == 0 {
			return errors.New(errors.ErrCodeConflict, "request not found or no longer pending")
		}

		if _, err := tx.Exec(ctx,
			`DELETE FROM credit_approval_steps WHERE workflow_id = $1`, wf.ID,
		); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to clear approval steps")
		}

		tag, err := tx.Exec(ctx,
			`UPDATE credit_approval_workflows
			 SET total_steps = $2, current_step = 1, updated_at = NOW()
			 WHERE id = $1 AND status = 'in_progress'`,
			wf.ID, len(specs),
		)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to update approval workflow")
		}
		if tag.RowsAffected() == 0 {
			return errors.New(errors.ErrCodeConflict, "workflow is no longer in progress")
		}
		wf.TotalSteps = len(specs)
		wf.CurrentStep = 1

		stepQuery := `
			INSERT INTO credit_approval_steps
			    (workflow_id, request_id, company_id,
			     step_number, jurisdiction_id, subordination, rule_min_amount,
			     decision, started_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', $8)
			RETURNING id, decision, created_at, updated_at
		`
		for _, spec := range specs {
			step := &WorkflowStep{
				WorkflowID:     wf.ID,
				RequestID:      wf.RequestID,
				CompanyID:      wf.CompanyID,
				StepNumber:     spec.StepNumber,
				JurisdictionID: spec.JurisdictionID,
				Subordination:  spec.Subordination,
				RuleMinAmount:  spec.RuleMinAmount,
				StartedAt:      spec.StartedAt,
			}
			err := tx.QueryRow(ctx, stepQuery,
				step.WorkflowID, step.RequestID, step.CompanyID,
				step.StepNumber, step.JurisdictionID, step.Subordination, step.RuleMinAmount,
				step.StartedAt,
			).Scan(&step.ID, &step.Decision, &step.CreatedAt, &step.UpdatedAt)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to recreate approval step")
			}
			steps = append(steps, step)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return steps, nil
}

const workflowColumns = `
	id, request_id, company_id, status, total_steps, current_step,
	submitted_by, submitted_at, completed_at, created_at, updated_at
`

// GetByRequestID returns the workflow instance for a request.
func (r *WorkflowRepository) GetByRequestID(ctx context.Context, requestID string) (*WorkflowInstance, error) {
	query := `SELECT ` + workflowColumns + `
		FROM credit_approval_workflows
		WHERE request_id = $1
		ORDER BY submitted_at DESC
		LIMIT 1`

	wf, err := r.scanWorkflow(r.db.QueryRow(ctx, query, requestID))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_workflow", requestID)
	}
	return wf, err
}

const stepColumns = `
	id, workflow_id, request_id, company_id,
	step_number, jurisdiction_id, subordination, rule_min_amount,
	decision, started_at, finished_at, decided_by, comments, cascaded,
	created_at, updated_at
`

// GetSteps returns all steps for a workflow ordered by step_number.
func (r *WorkflowRepository) GetSteps(ctx context.Context, workflowID string) ([]*WorkflowStep, error) {
	query := `SELECT ` + stepColumns + `
		FROM credit_approval_steps
		WHERE workflow_id = $1
		ORDER BY step_number ASC`

	rows, err := r.db.Query(ctx, query, workflowID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval steps")
	}
	defer rows.Close()

	return r.scanSteps(rows)
}

// GetPendingForJurisdiction returns the current (started, undecided) steps
// awaiting a jurisdiction across a company's in-progress workflows.
func (r *WorkflowRepository) GetPendingForJurisdiction(ctx context.Context, companyID, jurisdictionID string) ([]*WorkflowStep, error) {
	query := `
		SELECT ` + qualifyStepColumns("s") + `
		FROM credit_approval_steps s
		JOIN credit_approval_workflows w ON w.id = s.workflow_id
		WHERE s.company_id = $1
		  AND s.jurisdiction_id = $2
		  AND s.decision = 'pending'
		  AND s.started_at IS NOT NULL
		  AND w.status = 'in_progress'
		ORDER BY s.started_at ASC
	`

	rows, err := r.db.Query(ctx, query, companyID, jurisdictionID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get pending approvals")
	}
	defer rows.Close()

	return r.scanSteps(rows)
}

// ApplyDecision persists one engine decision as a single atomic unit:
// every step patch, the start of the next step, the current-step marker,
// the instance status and the request status mirror.
//
// Optimistic concurrency: each patch only lands on a step whose decision is
// still pending. The target patch hitting zero rows means a concurrent
// actor won the race — the transaction aborts with a stale-precondition
// conflict and nothing is visible. Cascade patches that hit zero rows are
// skipped (the step was already resolved; re-running converges). The
// start-next write is guarded on started_at IS NULL, so retries never
// restart a step.
func (r *WorkflowRepository) ApplyDecision(
	ctx context.Context,
	wf *WorkflowInstance,
	target StepPatch,
	cascades []StepPatch,
	startStep, currentStep int,
	instanceStatus WorkflowStatus,
	requestStatus RequestStatus,
) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		patchQuery := `
			UPDATE credit_approval_steps
			SET decision    = $3::approval_decision,
			    finished_at = NOW(),
			    decided_by  = $4,
			    comments    = $5,
			    cascaded    = $6,
			    updated_at  = NOW()
			WHERE workflow_id = $1
			  AND step_number = $2
			  AND decision = 'pending'
		`

		tag, err := tx.Exec(ctx, patchQuery,
			wf.ID, target.StepNumber, string(target.Decision),
			target.DecidedBy, target.Comment, target.Cascaded,
		)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to record step decision")
		}
		if tag.RowsAffected() == 0 {
			return errors.New(errors.ErrCodeConflict, "step decision already recorded")
		}

		for _, p := range cascades {
			if _, err := tx.Exec(ctx, patchQuery,
				wf.ID, p.StepNumber, string(p.Decision),
				p.DecidedBy, p.Comment, p.Cascaded,
			); err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to record cascade decision")
			}
		}

		if startStep > 0 {
			if _, err := tx.Exec(ctx,
				`UPDATE credit_approval_steps
				 SET started_at = NOW(), updated_at = NOW()
				 WHERE workflow_id = $1 AND step_number = $2 AND started_at IS NULL`,
				wf.ID, startStep,
			); err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to start next step")
			}
		}

		var completedAt *time.Time
		if instanceStatus != WorkflowInProgress {
			now := time.Now().UTC()
			completedAt = &now
		}
		if _, err := tx.Exec(ctx,
			`UPDATE credit_approval_workflows
			 SET status = $2::approval_workflow_status,
			     current_step = $3,
			     completed_at = $4,
			     updated_at = NOW()
			 WHERE id = $1`,
			wf.ID, string(instanceStatus), currentStep, completedAt,
		); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to update workflow status")
		}

		if _, err := tx.Exec(ctx,
			`UPDATE credit_limit_requests
			 SET status = $3::credit_request_status, updated_at = NOW()
			 WHERE id = $1 AND company_id = $2`,
			wf.RequestID, wf.CompanyID, string(requestStatus),
		); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to mirror request status")
		}

		return nil
	})
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type workflowScanner interface {
	Scan(dest ...any) error
}

func (r *WorkflowRepository) scanWorkflow(row workflowScanner) (*WorkflowInstance, error) {
	wf := &WorkflowInstance{}
	err := row.Scan(
		&wf.ID,
		&wf.RequestID,
		&wf.CompanyID,
		&wf.Status,
		&wf.TotalSteps,
		&wf.CurrentStep,
		&wf.SubmittedBy,
		&wf.SubmittedAt,
		&wf.CompletedAt,
		&wf.CreatedAt,
		&wf.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return wf, nil
}

func (r *WorkflowRepository) scanSteps(rows pgx.Rows) ([]*WorkflowStep, error) {
	var steps []*WorkflowStep
	for rows.Next() {
		s := &WorkflowStep{}
		err := rows.Scan(
			&s.ID,
			&s.WorkflowID,
			&s.RequestID,
			&s.CompanyID,
			&s.StepNumber,
			&s.JurisdictionID,
			&s.Subordination,
			&s.RuleMinAmount,
			&s.Decision,
			&s.StartedAt,
			&s.FinishedAt,
			&s.DecidedBy,
			&s.Comments,
			&s.Cascaded,
			&s.CreatedAt,
			&s.UpdatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval step")
		}
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

func qualifyStepColumns(alias string) string {
	return alias + `.id, ` + alias + `.workflow_id, ` + alias + `.request_id, ` + alias + `.company_id,
	       ` + alias + `.step_number, ` + alias + `.jurisdiction_id, ` + alias + `.subordination, ` + alias + `.rule_min_amount,
	       ` + alias + `.decision, ` + alias + `.started_at, ` + alias + `.finished_at, ` + alias + `.decided_by, ` + alias + `.comments, ` + alias + `.cascaded,
	       ` + alias + `.created_at, ` + alias + `.updated_at`
}
