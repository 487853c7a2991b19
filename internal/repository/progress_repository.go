package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ProgressRepository persists per-course progress records.
type ProgressRepository struct {
	db *sqlx.DB
}

// NewProgressRepository constructs the repository.
func NewProgressRepository(db *sqlx.DB) *ProgressRepository {
	return &ProgressRepository{db: db}
}

// Ensure creates the zero-state progress record for the pair if it does not
// exist yet. Upsert semantics; a retry never duplicates the record.
func (r *ProgressRepository) Ensure(ctx context.Context, studentID, courseID string) error {
	const query = `INSERT INTO progress (id, student_id, course_id, completed_videos, total_videos, created_at, updated_at)
        VALUES ($1, $2, $3, 0, 0, NOW(), NOW())
        ON CONFLICT (student_id, course_id) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, uuid.NewString(), studentID, courseID); err != nil {
		return fmt.Errorf("ensure progress record: %w", err)
	}
	return nil
}
