package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-core-api/internal/models"
)

func newPaymentRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestPaymentRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newPaymentRepoMock(t)
	defer cleanup()
	repo := NewPaymentRepository(db)

	mock.ExpectExec("INSERT INTO payments").
		WithArgs(sqlmock.AnyArg(), "student-1", "course-1", int64(5000), "USD", models.PaymentStatusPending, "", false, "", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	payment := &models.Payment{
		StudentID: "student-1",
		CourseID:  "course-1",
		Amount:    5000,
		Currency:  "USD",
		Status:    models.PaymentStatusPending,
	}
	require.NoError(t, repo.Create(context.Background(), payment))
	assert.NotEmpty(t, payment.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepositoryHasOpenOrCompleted(t *testing.T) {
	db, mock, cleanup := newPaymentRepoMock(t)
	defer cleanup()
	repo := NewPaymentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS(SELECT 1 FROM payments WHERE student_id = $1 AND course_id = $2 AND status IN ('PENDING', 'COMPLETED'))")).
		WithArgs("student-1", "course-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := repo.HasOpenOrCompleted(context.Background(), "student-1", "course-1")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepositoryMarkCompleted(t *testing.T) {
	db, mock, cleanup := newPaymentRepoMock(t)
	defer cleanup()
	repo := NewPaymentRepository(db)
	ts := time.Now().UTC()

	mock.ExpectExec("UPDATE payments SET status").
		WithArgs("pay-1", models.PaymentStatusCompleted, "admin-1", "tx-1", ts, models.PaymentStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))

	transitioned, err := repo.MarkCompleted(context.Background(), "pay-1", "admin-1", "tx-1", ts)
	require.NoError(t, err)
	assert.True(t, transitioned)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepositoryMarkCompletedNotPending(t *testing.T) {
	db, mock, cleanup := newPaymentRepoMock(t)
	defer cleanup()
	repo := NewPaymentRepository(db)
	ts := time.Now().UTC()

	mock.ExpectExec("UPDATE payments SET status").
		WithArgs("pay-1", models.PaymentStatusCompleted, "admin-1", "tx-1", ts, models.PaymentStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 0))

	transitioned, err := repo.MarkCompleted(context.Background(), "pay-1", "admin-1", "tx-1", ts)
	require.NoError(t, err)
	assert.False(t, transitioned)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepositoryMarkRejected(t *testing.T) {
	db, mock, cleanup := newPaymentRepoMock(t)
	defer cleanup()
	repo := NewPaymentRepository(db)
	ts := time.Now().UTC()

	mock.ExpectExec("UPDATE payments SET status").
		WithArgs("pay-1", models.PaymentStatusRejected, "proof unreadable", ts, models.PaymentStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))

	transitioned, err := repo.MarkRejected(context.Background(), "pay-1", "proof unreadable", ts)
	require.NoError(t, err)
	assert.True(t, transitioned)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepositorySetEnrollmentCompleted(t *testing.T) {
	db, mock, cleanup := newPaymentRepoMock(t)
	defer cleanup()
	repo := NewPaymentRepository(db)
	ts := time.Now().UTC()

	mock.ExpectExec("UPDATE payments SET enrollment_completed = TRUE").
		WithArgs("pay-1", ts).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SetEnrollmentCompleted(context.Background(), "pay-1", ts))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepositoryList(t *testing.T) {
	db, mock, cleanup := newPaymentRepoMock(t)
	defer cleanup()
	repo := NewPaymentRepository(db)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"id", "student_id", "course_id", "amount", "currency", "status", "transaction_id", "enrollment_completed", "reject_reason", "verified_by", "created_at", "updated_at"}).
		AddRow("pay-1", "student-1", "course-1", int64(5000), "USD", "PENDING", "", false, "", nil, now, now)
	mock.ExpectQuery("SELECT id, student_id, course_id").
		WithArgs(models.PaymentStatusPending).
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM payments WHERE 1=1 AND status = $1")).
		WithArgs(models.PaymentStatusPending).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	payments, total, err := repo.List(context.Background(), models.PaymentFilter{Status: models.PaymentStatusPending})
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, "pay-1", payments[0].ID)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}
