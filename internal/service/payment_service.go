package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-core-api/internal/models"
	"github.com/noah-isme/lms-core-api/internal/repository"
	appErrors "github.com/noah-isme/lms-core-api/pkg/errors"
)

type paymentRepository interface {
	Create(ctx context.Context, payment *models.Payment) error
	FindByID(ctx context.Context, id string) (*models.Payment, error)
	HasOpenOrCompleted(ctx context.Context, studentID, courseID string) (bool, error)
	MarkCompleted(ctx context.Context, id, verifiedBy, transactionID string, ts time.Time) (bool, error)
	MarkRejected(ctx context.Context, id, reason string, ts time.Time) (bool, error)
	SetEnrollmentCompleted(ctx context.Context, id string, ts time.Time) error
	List(ctx context.Context, filter models.PaymentFilter) ([]models.Payment, int, error)
}

type entitlementStore interface {
	FindCourse(ctx context.Context, id string) (*models.Course, error)
	IsEnrolled(ctx context.Context, courseID, studentID string) (bool, error)
	GrantEnrollment(ctx context.Context, courseID, studentID string) error
}

type progressLedger interface {
	Ensure(ctx context.Context, studentID, courseID string) error
}

type enrollmentCacheInvalidator interface {
	InvalidateCourse(ctx context.Context, courseID string)
}

// SubmitPaymentRequest describes a payment submission.
type SubmitPaymentRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	CourseID  string `json:"course_id" validate:"required"`
	Amount    int64  `json:"amount" validate:"gte=0"`
}

// PaymentService drives the payment state machine that converts a payment
// into a durable enrollment.
//
// Transitions: PENDING → COMPLETED (Verify) or PENDING → REJECTED (Reject).
// No transition leaves a terminal state. Uniqueness of the pending and
// completed payment per (student, course) is enforced by the data layer;
// this service maps the resulting conflicts to typed errors and never
// retries internally.
type PaymentService struct {
	payments  paymentRepository
	courses   entitlementStore
	progress  progressLedger
	gateway   PaymentGateway
	cache     enrollmentCacheInvalidator
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	currency  string
}

// NewPaymentService constructs PaymentService.
func NewPaymentService(payments paymentRepository, courses entitlementStore, progress progressLedger, gateway PaymentGateway, cache enrollmentCacheInvalidator, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, currency string) *PaymentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if currency == "" {
		currency = "USD"
	}
	return &PaymentService{
		payments:  payments,
		courses:   courses,
		progress:  progress,
		gateway:   gateway,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		currency:  currency,
	}
}

// Submit opens a pending payment for the (student, course) pair. Fails with
// a conflict when a pending or completed payment already exists, or when the
// student already holds the entitlement regardless of payment history.
func (s *PaymentService) Submit(ctx context.Context, req SubmitPaymentRequest) (*models.Payment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payment payload")
	}

	course, err := s.courses.FindCourse(ctx, req.CourseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	if req.Amount != course.Price {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "amount does not match course price")
	}

	enrolled, err := s.courses.IsEnrolled(ctx, req.CourseID, req.StudentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	if enrolled {
		return nil, appErrors.Clone(appErrors.ErrConflict, "already enrolled in course")
	}

	exists, err := s.payments.HasOpenOrCompleted(ctx, req.StudentID, req.CourseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing payments")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "payment already open or completed for course")
	}

	payment := &models.Payment{
		StudentID: req.StudentID,
		CourseID:  req.CourseID,
		Amount:    req.Amount,
		Currency:  s.currency,
		Status:    models.PaymentStatusPending,
	}
	if err := s.payments.Create(ctx, payment); err != nil {
		// The partial unique index closes the race between the existence
		// check above and this insert.
		if repository.IsUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "payment already open or completed for course")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create payment")
	}

	if s.metrics != nil {
		s.metrics.RecordPaymentTransition("submitted")
	}
	s.logger.Info("payment submitted",
		zap.String("payment_id", payment.ID),
		zap.String("student_id", req.StudentID),
		zap.String("course_id", req.CourseID),
		zap.Int64("amount", req.Amount),
	)
	return payment, nil
}

// Verify completes a pending payment and grants the entitlement. The API
// call is not idempotent: a second verify on a completed payment fails with
// an invalid-state error. The entitlement grant itself is effect-idempotent,
// guarded by the enrollment_completed flag, so a retry after a crashed
// attempt converges without double-granting.
func (s *PaymentService) Verify(ctx context.Context, paymentID, adminID string) (*models.Payment, error) {
	payment, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment")
	}

	if payment.Status == models.PaymentStatusCompleted && payment.EnrollmentCompleted {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "payment already completed")
	}

	now := time.Now().UTC()
	if payment.Status == models.PaymentStatusPending {
		result := ChargeResult{TransactionID: payment.TransactionID, Success: true}
		if s.gateway != nil {
			result, err = s.gateway.Charge(ctx, payment.Amount, payment.Currency, map[string]string{
				"payment_id": payment.ID,
				"course_id":  payment.CourseID,
				"student_id": payment.StudentID,
			})
			if err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "payment gateway charge failed")
			}
			if !result.Success {
				return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "payment charge declined")
			}
		}

		transitioned, err := s.payments.MarkCompleted(ctx, payment.ID, adminID, result.TransactionID, now)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to complete payment")
		}
		if !transitioned {
			// Lost the race to a concurrent verify or reject.
			return nil, appErrors.Clone(appErrors.ErrInvalidState, "payment is no longer pending")
		}
	} else if payment.Status != models.PaymentStatusCompleted {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "payment is not pending")
	}

	// Grant step. Reached either right after completion or on a retry of a
	// crashed attempt (status completed, flag still false).
	if !payment.EnrollmentCompleted {
		if err := s.courses.GrantEnrollment(ctx, payment.CourseID, payment.StudentID); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to grant enrollment")
		}
		if err := s.progress.Ensure(ctx, payment.StudentID, payment.CourseID); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to initialize progress")
		}
		if err := s.payments.SetEnrollmentCompleted(ctx, payment.ID, now); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to flag enrollment completion")
		}
		if s.cache != nil {
			s.cache.InvalidateCourse(ctx, payment.CourseID)
		}
	}

	if s.metrics != nil {
		s.metrics.RecordPaymentTransition("completed")
	}
	s.logger.Info("payment verified",
		zap.String("payment_id", payment.ID),
		zap.String("admin_id", adminID),
		zap.String("course_id", payment.CourseID),
	)

	updated, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload payment")
	}
	return updated, nil
}

// Reject closes a pending payment with a reason. Rejecting a completed
// payment is forbidden; the pair may resubmit later, producing a new record.
func (s *PaymentService) Reject(ctx context.Context, paymentID, reason string) (*models.Payment, error) {
	payment, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment")
	}

	if payment.Status == models.PaymentStatusCompleted {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "cannot reject a completed payment")
	}
	if payment.Status != models.PaymentStatusPending {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "payment is not pending")
	}

	transitioned, err := s.payments.MarkRejected(ctx, payment.ID, reason, time.Now().UTC())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reject payment")
	}
	if !transitioned {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "payment is no longer pending")
	}

	if s.metrics != nil {
		s.metrics.RecordPaymentTransition("rejected")
	}
	s.logger.Info("payment rejected",
		zap.String("payment_id", payment.ID),
		zap.String("reason", reason),
	)

	updated, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload payment")
	}
	return updated, nil
}

// EnrollFree enrolls a student directly into a zero-price course, bypassing
// the payment flow. A second call conflicts: enrollment is the authoritative
// entitlement signal.
func (s *PaymentService) EnrollFree(ctx context.Context, studentID, courseID string) error {
	course, err := s.courses.FindCourse(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if course.Price != 0 {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "course is not free")
	}

	enrolled, err := s.courses.IsEnrolled(ctx, courseID, studentID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	if enrolled {
		return appErrors.Clone(appErrors.ErrConflict, "already enrolled in course")
	}

	if err := s.courses.GrantEnrollment(ctx, courseID, studentID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to grant enrollment")
	}
	if err := s.progress.Ensure(ctx, studentID, courseID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to initialize progress")
	}
	if s.cache != nil {
		s.cache.InvalidateCourse(ctx, courseID)
	}

	if s.metrics != nil {
		s.metrics.RecordPaymentTransition("free_enrolled")
	}
	s.logger.Info("free enrollment granted",
		zap.String("student_id", studentID),
		zap.String("course_id", courseID),
	)
	return nil
}

// List returns payments for the admin verification queue.
func (s *PaymentService) List(ctx context.Context, filter models.PaymentFilter) ([]models.Payment, *models.Pagination, error) {
	payments, total, err := s.payments.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list payments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return payments, pagination, nil
}
