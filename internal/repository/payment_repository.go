package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lms-core-api/internal/models"
)

// PaymentRepository handles persistence of enrollment payments.
//
// The payments table carries two partial unique indexes:
//
//	CREATE UNIQUE INDEX payments_pending_uniq ON payments (student_id, course_id) WHERE status = 'PENDING';
//	CREATE UNIQUE INDEX payments_completed_uniq ON payments (student_id, course_id) WHERE status = 'COMPLETED';
//
// They serialize concurrent submissions for the same pair at the data layer;
// Create surfaces the violation for the service to map to a conflict.
type PaymentRepository struct {
	db *sqlx.DB
}

// NewPaymentRepository constructs the repository.
func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Create inserts a new payment record.
func (r *PaymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	payment.CreatedAt = now
	payment.UpdatedAt = now

	const query = `INSERT INTO payments (id, student_id, course_id, amount, currency, status, transaction_id, enrollment_completed, reject_reason, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	if _, err := r.db.ExecContext(ctx, query, payment.ID, payment.StudentID, payment.CourseID, payment.Amount, payment.Currency, payment.Status, payment.TransactionID, payment.EnrollmentCompleted, payment.RejectReason, payment.CreatedAt, payment.UpdatedAt); err != nil {
		return err
	}
	return nil
}

// FindByID returns a payment by its ID.
func (r *PaymentRepository) FindByID(ctx context.Context, id string) (*models.Payment, error) {
	const query = `SELECT id, student_id, course_id, amount, currency, status, transaction_id, enrollment_completed, reject_reason, verified_by, created_at, updated_at
        FROM payments WHERE id = $1`
	var payment models.Payment
	if err := r.db.GetContext(ctx, &payment, query, id); err != nil {
		return nil, err
	}
	return &payment, nil
}

// HasOpenOrCompleted reports whether a pending or completed payment exists
// for the pair. Advisory only; the unique indexes remain the real gate.
func (r *PaymentRepository) HasOpenOrCompleted(ctx context.Context, studentID, courseID string) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM payments WHERE student_id = $1 AND course_id = $2 AND status IN ('PENDING', 'COMPLETED'))`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, studentID, courseID); err != nil {
		return false, fmt.Errorf("check open payments: %w", err)
	}
	return exists, nil
}

// MarkCompleted transitions a pending payment to completed. The WHERE clause
// guards the transition; zero rows affected means the payment was not
// pending anymore.
func (r *PaymentRepository) MarkCompleted(ctx context.Context, id, verifiedBy, transactionID string, ts time.Time) (bool, error) {
	const query = `UPDATE payments SET status = $2, verified_by = $3, transaction_id = $4, updated_at = $5
        WHERE id = $1 AND status = $6`
	res, err := r.db.ExecContext(ctx, query, id, models.PaymentStatusCompleted, verifiedBy, transactionID, ts, models.PaymentStatusPending)
	if err != nil {
		return false, fmt.Errorf("mark payment completed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark payment completed: %w", err)
	}
	return affected > 0, nil
}

// MarkRejected transitions a pending payment to rejected with the reason.
func (r *PaymentRepository) MarkRejected(ctx context.Context, id, reason string, ts time.Time) (bool, error) {
	const query = `UPDATE payments SET status = $2, reject_reason = $3, updated_at = $4
        WHERE id = $1 AND status = $5`
	res, err := r.db.ExecContext(ctx, query, id, models.PaymentStatusRejected, reason, ts, models.PaymentStatusPending)
	if err != nil {
		return false, fmt.Errorf("mark payment rejected: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark payment rejected: %w", err)
	}
	return affected > 0, nil
}

// SetEnrollmentCompleted records that the entitlement side effect has run.
func (r *PaymentRepository) SetEnrollmentCompleted(ctx context.Context, id string, ts time.Time) error {
	const query = `UPDATE payments SET enrollment_completed = TRUE, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, ts); err != nil {
		return fmt.Errorf("set enrollment completed: %w", err)
	}
	return nil
}

// List returns payments filtered by the provided criteria.
func (r *PaymentRepository) List(ctx context.Context, filter models.PaymentFilter) ([]models.Payment, int, error) {
	base := `FROM payments WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " AND " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]bool{
		"created_at": true,
		"updated_at": true,
		"amount":     true,
	}
	sortBy := filter.SortBy
	if !allowedSorts[sortBy] {
		sortBy = "created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT id, student_id, course_id, amount, currency, status, transaction_id, enrollment_completed, reject_reason, verified_by, created_at, updated_at
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, sortBy, order, size, offset)

	var payments []models.Payment
	if err := r.db.SelectContext(ctx, &payments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list payments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count payments: %w", err)
	}
	return payments, total, nil
}
