package models

import "time"

// PaymentStatus represents the lifecycle of an enrollment payment.
type PaymentStatus string

// Possible payment statuses. Completed, rejected, refunded and failed are
// terminal; no transition is defined out of them.
const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusRejected  PaymentStatus = "REJECTED"
	PaymentStatusRefunded  PaymentStatus = "REFUNDED"
)

// Terminal reports whether no further transition is possible.
func (s PaymentStatus) Terminal() bool {
	switch s {
	case PaymentStatusCompleted, PaymentStatusRejected, PaymentStatusRefunded, PaymentStatusFailed:
		return true
	}
	return false
}

// Payment captures a student's purchase of a course.
type Payment struct {
	ID                  string        `db:"id" json:"id"`
	StudentID           string        `db:"student_id" json:"student_id"`
	CourseID            string        `db:"course_id" json:"course_id"`
	Amount              int64         `db:"amount" json:"amount"`
	Currency            string        `db:"currency" json:"currency"`
	Status              PaymentStatus `db:"status" json:"status"`
	TransactionID       string        `db:"transaction_id" json:"transaction_id,omitempty"`
	EnrollmentCompleted bool          `db:"enrollment_completed" json:"enrollment_completed"`
	RejectReason        string        `db:"reject_reason" json:"reject_reason,omitempty"`
	VerifiedBy          *string       `db:"verified_by" json:"verified_by,omitempty"`
	CreatedAt           time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time     `db:"updated_at" json:"updated_at"`
}

// PaymentFilter provides filters for listing payments.
type PaymentFilter struct {
	StudentID string
	CourseID  string
	Status    PaymentStatus
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
