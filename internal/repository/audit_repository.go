package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/ledgerline/be-credit-limits/internal/platform/database"
	"github.com/ledgerline/be-credit-limits/internal/platform/errors"
)

// AuditRepository appends and reads immutable approval audit log entries.
type AuditRepository struct {
	db *database.DB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *database.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append inserts one audit entry. The table has a delete-prevention trigger
// so this is the only mutation operation exposed.
func (r *AuditRepository) Append(ctx context.Context, entry *AuditEntry) error {
	var metadataJSON []byte
	if entry.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal audit metadata")
		}
	}

	query := `
		INSERT INTO credit_approval_audit_log
		    (request_id, workflow_id, step_id, company_id,
		     action, performed_by,
		     request_status_before, request_status_after,
		     metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, performed_at
	`

	return r.db.QueryRow(ctx, query,
		entry.RequestID,
		entry.WorkflowID,
		entry.StepID,
		entry.CompanyID,
		entry.Action,
		entry.PerformedBy,
		entry.RequestStatusBefore,
		entry.RequestStatusAfter,
		metadataJSON,
	).Scan(&entry.ID, &entry.PerformedAt)
}

const auditColumns = `
	id, request_id, workflow_id, step_id, company_id,
	action, performed_by, performed_at,
	request_status_before, request_status_after, metadata
`

// GetByRequestID returns the full audit trail for a request oldest-first.
func (r *AuditRepository) GetByRequestID(ctx context.Context, requestID, companyID string) ([]*AuditEntry, error) {
	query := `SELECT ` + auditColumns + `
		FROM credit_approval_audit_log
		WHERE request_id = $1 AND company_id = $2
		ORDER BY performed_at ASC`

	rows, err := r.db.Query(ctx, query, requestID, companyID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get audit log")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// GetByWorkflowID returns all audit entries for a specific workflow.
func (r *AuditRepository) GetByWorkflowID(ctx context.Context, workflowID string) ([]*AuditEntry, error) {
	query := `SELECT ` + auditColumns + `
		FROM credit_approval_audit_log
		WHERE workflow_id = $1
		ORDER BY performed_at ASC`

	rows, err := r.db.Query(ctx, query, workflowID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get workflow audit log")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func (r *AuditRepository) scanRows(rows pgx.Rows) ([]*AuditEntry, error) {
	var entries []*AuditEntry
	for rows.Next() {
		entry, err := r.scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

type auditScanner interface {
	Scan(dest ...any) error
}

func (r *AuditRepository) scanEntry(sc auditScanner) (*AuditEntry, error) {
	entry := &AuditEntry{}
	var metadataJSON []byte

	err := sc.Scan(
		&entry.ID,
		&entry.RequestID,
		&entry.WorkflowID,
		&entry.StepID,
		&entry.CompanyID,
		&entry.Action,
		&entry.PerformedBy,
		&entry.PerformedAt,
		&entry.RequestStatusBefore,
		&entry.RequestStatusAfter,
		&metadataJSON,
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan audit entry")
	}

	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal audit metadata")
		}
	}

	return entry, nil
}

// GetByID fetches one audit entry by id.
func (r *AuditRepository) GetByID(ctx context.Context, id string) (*AuditEntry, error) {
	query := `SELECT ` + auditColumns + `
		FROM credit_approval_audit_log
		WHERE id = $1`

	entry, err := r.scanEntry(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("audit_entry", id)
	}
	return entry, err
}
