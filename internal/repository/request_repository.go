package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ledgerline/be-credit-limits/internal/platform/database"
	"github.com/ledgerline/be-credit-limits/internal/platform/errors"
)

// RequestRepository handles CRUD for credit_limit_requests.
type RequestRepository struct {
	db *database.DB
}

// NewRequestRepository creates a new RequestRepository.
func NewRequestRepository(db *database.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

const requestColumns = `
	id, company_id, customer_id, requested_amount, status,
	requested_by, notes, created_at, updated_at
`

// Create inserts a new credit limit request in pending status.
func (r *RequestRepository) Create(ctx context.Context, req *CreditLimitRequest) error {
	query := `
		INSERT INTO credit_limit_requests
		    (company_id, customer_id, requested_amount, status, requested_by, notes)
		VALUES ($1, $2, $3, 'pending', $4, $5)
		RETURNING id, status, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		req.CompanyID,
		req.CustomerID,
		req.RequestedAmount,
		req.RequestedBy,
		req.Notes,
	).Scan(&req.ID, &req.Status, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create credit limit request")
	}
	return nil
}

// GetByID retrieves a request by primary key.
func (r *RequestRepository) GetByID(ctx context.Context, id, companyID string) (*CreditLimitRequest, error) {
	query := `SELECT ` + requestColumns + `
		FROM credit_limit_requests
		WHERE id = $1 AND company_id = $2`

	req, err := r.scanRequest(r.db.QueryRow(ctx, query, id, companyID))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("credit_limit_request", id)
	}
	return req, err
}

// List returns requests for a company with optional customer/status filters
// and paging. Returns the page and the total matching count.
func (r *RequestRepository) List(
	ctx context.Context,
	companyID string,
	customerID *string,
	status *string,
	page, pageSize int,
) ([]*CreditLimitRequest, int, error) {
	where := "WHERE company_id = $1"
	args := []any{companyID}

	if customerID != nil {
		args = append(args, *customerID)
		where += fmt.Sprintf(" AND customer_id = $%d", len(args))
	}
	if status != nil {
		args = append(args, *status)
		where += fmt.Sprintf(" AND status = $%d::credit_request_status", len(args))
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM credit_limit_requests " + where
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to count credit limit requests")
	}

	args = append(args, pageSize, (page-1)*pageSize)
	query := `SELECT ` + requestColumns + `
		FROM credit_limit_requests ` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to list credit limit requests")
	}
	defer rows.Close()

	var requests []*CreditLimitRequest
	for rows.Next() {
		req, err := r.scanRequest(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan credit limit request")
		}
		requests = append(requests, req)
	}
	return requests, total, rows.Err()
}

// UpdateStatus sets the request status, mirroring the workflow instance.
func (r *RequestRepository) UpdateStatus(ctx context.Context, id, companyID string, status RequestStatus) error {
	query := `
		UPDATE credit_limit_requests
		SET status = $3::credit_request_status, updated_at = NOW()
		WHERE id = $1 AND company_id = $2
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, companyID, string(status)).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("credit_limit_request", id)
	}
	return err
}

// Delete removes a request while still pending. Workflow and steps go with
// it via ON DELETE CASCADE.
func (r *RequestRepository) Delete(ctx context.Context, id, companyID string) error {
	query := `
		DELETE FROM credit_limit_requests
		WHERE id = $1 AND company_id = $2 AND status = 'pending'
	`

	tag, err := r.db.Exec(ctx, query, id, companyID)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to delete credit limit request")
	}
	if tag.RowsAffected() == 0 {
		return errors.New(errors.ErrCodeConflict, "request not found or no longer pending")
	}
	return nil
}

// ── scan helper ──────────────────────────────────────────────────────────────

type requestScanner interface {
	Scan(dest ...any) error
}

func (r *RequestRepository) scanRequest(row requestScanner) (*CreditLimitRequest, error) {
	req := &CreditLimitRequest{}
	err := row.Scan(
		&req.ID,
		&req.CompanyID,
		&req.CustomerID,
		&req.RequestedAmount,
		&req.Status,
		&req.RequestedBy,
		&req.Notes,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return req, nil
}
