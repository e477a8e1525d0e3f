package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/maithanhduyan/bibank/internal/domain"
)

const approvalColumns = `id, kind, correlation_id, intent, operation_hash, reason, required_sigs, authorized_sigs,
	signatures, status, rejection_reason, executed_sequence, created_at, expires_at, updated_at`

// ApprovalRepository implements usecase.ApprovalRepository.
type ApprovalRepository struct {
	db      DBTX
	tx      *TxManager
	retrier *Retrier
}

// NewApprovalRepository creates a new ApprovalRepository. Writes are retried on
// deadlock and serialization failures.
func NewApprovalRepository(db DBTX, retrier *Retrier) *ApprovalRepository {
	return &ApprovalRepository{
		db:      db,
		tx:      NewTxManager(db),
		retrier: retrier,
	}
}

// Create inserts a new approval.
func (r *ApprovalRepository) Create(ctx context.Context, approval *domain.PendingApproval) error {
	args, err := approvalArgs(approval)
	if err != nil {
		return err
	}

	return r.retry(ctx, func() error {
		_, err := r.db.Exec(ctx, `INSERT INTO pending_approvals (`+approvalColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`, args...)
		return err
	})
}

// GetByID retrieves an approval by ID.
func (r *ApprovalRepository) GetByID(ctx context.Context, id string) (*domain.PendingApproval, error) {
	row := r.db.QueryRow(ctx, `SELECT `+approvalColumns+` FROM pending_approvals WHERE id = $1`, id)

	approval, err := scanApproval(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrApprovalNotFound
		}
		return nil, err
	}

	return approval, nil
}

// Update overwrites the mutable fields of an existing approval under a row lock.
func (r *ApprovalRepository) Update(ctx context.Context, approval *domain.PendingApproval) error {
	signatures, err := json.Marshal(approval.Signatures)
	if err != nil {
		return fmt.Errorf("encode signatures: %w", err)
	}

	return r.retry(ctx, func() error {
		return r.tx.WithTx(ctx, func(tx pgx.Tx) error {
			var id string
			err := tx.QueryRow(ctx, `SELECT id FROM pending_approvals WHERE id = $1 FOR UPDATE`, approval.ID).Scan(&id)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return domain.ErrApprovalNotFound
				}
				return err
			}

			_, err = tx.Exec(ctx, `UPDATE pending_approvals
				SET signatures = $2, status = $3, rejection_reason = $4, executed_sequence = $5, updated_at = $6
				WHERE id = $1`,
				approval.ID,
				signatures,
				string(approval.Status),
				approval.RejectionReason,
				sequenceToNullable(approval.ExecutedSequence),
				approval.UpdatedAt,
			)
			return err
		})
	})
}

// ListByStatus lists approvals in any of the given statuses, oldest first.
// A limit of zero or less returns every match.
func (r *ApprovalRepository) ListByStatus(ctx context.Context, statuses []domain.ApprovalStatus, limit, offset int) ([]*domain.PendingApproval, error) {
	query := `SELECT ` + approvalColumns + ` FROM pending_approvals`
	args := []any{}

	if len(statuses) > 0 {
		values := make([]string, len(statuses))
		for i, s := range statuses {
			values[i] = string(s)
		}
		args = append(args, values)
		query += ` WHERE status = ANY($1)`
	}

	query += ` ORDER BY created_at, id`

	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	return r.query(ctx, query, args...)
}

// ListExpired lists open approvals whose deadline is at or before now.
func (r *ApprovalRepository) ListExpired(ctx context.Context, now time.Time) ([]*domain.PendingApproval, error) {
	return r.query(ctx, `SELECT `+approvalColumns+` FROM pending_approvals
		WHERE status IN ('pending', 'collecting') AND expires_at <= $1
		ORDER BY expires_at, id`, now)
}

// CountByStatus counts approvals grouped by status.
func (r *ApprovalRepository) CountByStatus(ctx context.Context) (map[domain.ApprovalStatus]int, error) {
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM pending_approvals GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.ApprovalStatus]int)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[domain.ApprovalStatus(status)] = int(count)
	}

	return counts, rows.Err()
}

func (r *ApprovalRepository) query(ctx context.Context, sql string, args ...any) ([]*domain.PendingApproval, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var approvals []*domain.PendingApproval
	for rows.Next() {
		approval, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		approvals = append(approvals, approval)
	}

	return approvals, rows.Err()
}

func (r *ApprovalRepository) retry(ctx context.Context, op func() error) error {
	if r.retrier == nil {
		return op()
	}
	return r.retrier.Retry(ctx, op)
}

func approvalArgs(a *domain.PendingApproval) ([]any, error) {
	intent, err := json.Marshal(a.Intent)
	if err != nil {
		return nil, fmt.Errorf("encode intent: %w", err)
	}
	signatures, err := json.Marshal(a.Signatures)
	if err != nil {
		return nil, fmt.Errorf("encode signatures: %w", err)
	}

	correlationID := ""
	if a.Intent != nil {
		correlationID = a.Intent.CorrelationID
	}

	return []any{
		a.ID,
		string(a.Kind),
		correlationID,
		intent,
		a.OperationHash,
		a.Reason,
		a.RequiredSigs,
		a.AuthorizedSigs,
		signatures,
		string(a.Status),
		a.RejectionReason,
		sequenceToNullable(a.ExecutedSequence),
		a.CreatedAt,
		a.ExpiresAt,
		a.UpdatedAt,
	}, nil
}

func scanApproval(row pgx.Row) (*domain.PendingApproval, error) {
	var (
		a                domain.PendingApproval
		kind, status     string
		correlationID    string
		intent, sigs     []byte
		requiredSigs     int32
		authorizedSigs   int32
		executedSequence *int64
	)

	err := row.Scan(
		&a.ID,
		&kind,
		&correlationID,
		&intent,
		&a.OperationHash,
		&a.Reason,
		&requiredSigs,
		&authorizedSigs,
		&sigs,
		&status,
		&a.RejectionReason,
		&executedSequence,
		&a.CreatedAt,
		&a.ExpiresAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Kind = domain.ApprovalKind(kind)
	a.Status = domain.ApprovalStatus(status)
	a.RequiredSigs = int(requiredSigs)
	a.AuthorizedSigs = int(authorizedSigs)

	if len(intent) > 0 && !strings.EqualFold(string(intent), "null") {
		a.Intent = &domain.TransactionIntent{}
		if err := json.Unmarshal(intent, a.Intent); err != nil {
			return nil, fmt.Errorf("decode intent of %s: %w", a.ID, err)
		}
	}
	if len(sigs) > 0 {
		if err := json.Unmarshal(sigs, &a.Signatures); err != nil {
			return nil, fmt.Errorf("decode signatures of %s: %w", a.ID, err)
		}
	}
	if executedSequence != nil {
		seq := uint64(*executedSequence)
		a.ExecutedSequence = &seq
	}

	return &a, nil
}

func sequenceToNullable(seq *uint64) *int64 {
	if seq == nil {
		return nil
	}
	v := int64(*seq)
	return &v
}
