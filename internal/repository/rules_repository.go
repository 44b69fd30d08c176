package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/ledgerline/be-credit-limits/internal/platform/database"
	"github.com/ledgerline/be-credit-limits/internal/platform/errors"
)

// RulesRepository handles CRUD for credit_approval_rules.
type RulesRepository struct {
	db *database.DB
}

// NewRulesRepository creates a new RulesRepository.
func NewRulesRepository(db *database.DB) *RulesRepository {
	return &RulesRepository{db: db}
}

const ruleColumns = `
	id, company_id, jurisdiction_id,
	min_amount, max_amount, subordination, is_active,
	created_at, updated_at
`

// Create inserts a new approval rule. One active rule per jurisdiction per
// company is enforced by a partial unique index; violations surface as a
// conflict.
func (r *RulesRepository) Create(ctx context.Context, rule *WorkflowRule) error {
	query := `
		INSERT INTO credit_approval_rules
		    (company_id, jurisdiction_id, min_amount, max_amount, subordination, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		rule.CompanyID,
		rule.JurisdictionID,
		rule.MinAmount,
		rule.MaxAmount,
		rule.Subordination,
		rule.IsActive,
	).Scan(&rule.ID, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval rule")
	}
	return nil
}

// GetByID retrieves a rule by primary key.
func (r *RulesRepository) GetByID(ctx context.Context, id, companyID string) (*WorkflowRule, error) {
	query := `SELECT ` + ruleColumns + `
		FROM credit_approval_rules
		WHERE id = $1 AND company_id = $2`

	rule, err := r.scanRule(r.db.QueryRow(ctx, query, id, companyID))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_rule", id)
	}
	return rule, err
}

// List returns all rules for a company, optionally filtered to active only,
// ordered by range minimum.
func (r *RulesRepository) List(ctx context.Context, companyID string, activeOnly bool) ([]*WorkflowRule, error) {
	query := `SELECT ` + ruleColumns + `
		FROM credit_approval_rules
		WHERE company_id = $1`
	if activeOnly {
		query += " AND is_active = TRUE"
	}
	query += " ORDER BY min_amount ASC, jurisdiction_id ASC"

	rows, err := r.db.Query(ctx, query, companyID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approval rules")
	}
	defer rows.Close()

	return r.scanRules(rows)
}

// ActiveForCompany returns the active rule set the resolver and decision
// engine operate on.
func (r *RulesRepository) ActiveForCompany(ctx context.Context, companyID string) ([]*WorkflowRule, error) {
	return r.List(ctx, companyID, true)
}

// GetForJurisdiction returns the active rule bound to a jurisdiction, or nil
// when none exists.
func (r *RulesRepository) GetForJurisdiction(ctx context.Context, companyID, jurisdictionID string) (*WorkflowRule, error) {
	query := `SELECT ` + ruleColumns + `
		FROM credit_approval_rules
		WHERE company_id = $1 AND jurisdiction_id = $2 AND is_active = TRUE`

	rule, err := r.scanRule(r.db.QueryRow(ctx, query, companyID, jurisdictionID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return rule, err
}

// Update persists changes to an existing rule. In-flight workflows are
// unaffected: steps snapshot the rule attributes at resolution time.
func (r *RulesRepository) Update(ctx context.Context, rule *WorkflowRule) error {
	query := `
		UPDATE credit_approval_rules
		SET jurisdiction_id = $3,
		    min_amount      = $4,
		    max_amount      = $5,
		    subordination   = $6,
		    is_active       = $7,
		    updated_at      = NOW()
		WHERE id = $1 AND company_id = $2
		RETURNING updated_at
	`

	err := r.db.QueryRow(ctx, query,
		rule.ID,
		rule.CompanyID,
		rule.JurisdictionID,
		rule.MinAmount,
		rule.MaxAmount,
		rule.Subordination,
		rule.IsActive,
	).Scan(&rule.UpdatedAt)

	if err == pgx.ErrNoRows {
		return errors.NotFound("approval_rule", rule.ID)
	}
	return err
}

// Delete removes an approval rule.
func (r *RulesRepository) Delete(ctx context.Context, id, companyID string) error {
	query := `
		DELETE FROM credit_approval_rules
		WHERE id = $1 AND company_id = $2
	`

	tag, err := r.db.Exec(ctx, query, id, companyID)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to delete approval rule")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("approval_rule", id)
	}
	return nil
}

// ── scan helpers ─────────────────────────────────────────────────────────────

type ruleScanner interface {
	Scan(dest ...any) error
}

func (r *RulesRepository) scanRule(row ruleScanner) (*WorkflowRule, error) {
	rule := &WorkflowRule{}
	err := row.Scan(
		&rule.ID,
		&rule.CompanyID,
		&rule.JurisdictionID,
		&rule.MinAmount,
		&rule.MaxAmount,
		&rule.Subordination,
		&rule.IsActive,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return rule, nil
}

func (r *RulesRepository) scanRules(rows pgx.Rows) ([]*WorkflowRule, error) {
	var rules []*WorkflowRule
	for rows.Next() {
		rule, err := r.scanRule(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval rule")
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}
