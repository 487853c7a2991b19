package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/lms-core-api/internal/models"
)

// CourseRepository handles persistence of courses, their protected resources
// and the enrollment relationship.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs the repository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

// FindCourse returns a course by its ID.
func (r *CourseRepository) FindCourse(ctx context.Context, id string) (*models.Course, error) {
	const query = `SELECT id, title, owner_id, price, published, created_at, updated_at FROM courses WHERE id = $1`
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, id); err != nil {
		return nil, err
	}
	return &course, nil
}

// FindResource loads the descriptor an access decision reasons over: the
// resource row joined with its parent course plus the enrollment set.
func (r *CourseRepository) FindResource(ctx context.Context, id string) (*models.ResourceDescriptor, error) {
	const query = `SELECT res.id, res.kind, res.course_id, res.is_preview, c.owner_id
        FROM resources res
        JOIN courses c ON c.id = res.course_id
        WHERE res.id = $1`
	var row struct {
		ID        string              `db:"id"`
		Kind      models.ResourceKind `db:"kind"`
		CourseID  string              `db:"course_id"`
		IsPreview bool                `db:"is_preview"`
		OwnerID   string              `db:"owner_id"`
	}
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		return nil, err
	}

	const enrolledQuery = `SELECT student_id FROM course_enrollments WHERE course_id = $1`
	var enrolled []string
	if err := r.db.SelectContext(ctx, &enrolled, enrolledQuery, row.CourseID); err != nil {
		return nil, fmt.Errorf("load enrollment set: %w", err)
	}

	return &models.ResourceDescriptor{
		ID:          row.ID,
		Kind:        row.Kind,
		CourseID:    row.CourseID,
		OwnerID:     row.OwnerID,
		IsPreview:   row.IsPreview,
		EnrolledIDs: enrolled,
	}, nil
}

// IsEnrolled reports whether the student holds an entitlement to the course.
func (r *CourseRepository) IsEnrolled(ctx context.Context, courseID, studentID string) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM course_enrollments WHERE course_id = $1 AND student_id = $2)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, courseID, studentID); err != nil {
		return false, fmt.Errorf("check enrollment: %w", err)
	}
	return exists, nil
}

// GrantEnrollment records the entitlement on both sides of the relationship
// in a single transaction. ON CONFLICT DO NOTHING makes a retry after a
// partially applied grant converge instead of failing.
func (r *CourseRepository) GrantEnrollment(ctx context.Context, courseID, studentID string) error {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin grant tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const courseSide = `INSERT INTO course_enrollments (course_id, student_id, enrolled_at)
        VALUES ($1, $2, NOW()) ON CONFLICT (course_id, student_id) DO NOTHING`
	if _, err := tx.ExecContext(ctx, courseSide, courseID, studentID); err != nil {
		return fmt.Errorf("grant course enrollment: %w", err)
	}

	const studentSide = `INSERT INTO user_enrolled_courses (student_id, course_id, enrolled_at)
        VALUES ($1, $2, NOW()) ON CONFLICT (student_id, course_id) DO NOTHING`
	if _, err := tx.ExecContext(ctx, studentSide, studentID, courseID); err != nil {
		return fmt.Errorf("grant enrolled course: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit grant tx: %w", err)
	}
	return nil
}

// EnrolledCourseIDs returns the student-side view of the entitlement.
func (r *CourseRepository) EnrolledCourseIDs(ctx context.Context, studentID string) ([]string, error) {
	const query = `SELECT course_id FROM user_enrolled_courses WHERE student_id = $1 ORDER BY enrolled_at DESC`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, studentID); err != nil {
		return nil, fmt.Errorf("list enrolled courses: %w", err)
	}
	return ids, nil
}

// IsUniqueViolation reports whether the error is a PostgreSQL unique
// constraint violation. The payment workflow relies on unique indexes as its
// concurrency control, so services branch on this instead of re-querying.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
