package models

import "time"

// Progress is the zero-state record tracking a student's advance through a
// course. Created exactly once per (student, course) by the enrollment flow.
type Progress struct {
	ID              string    `db:"id" json:"id"`
	StudentID       string    `db:"student_id" json:"student_id"`
	CourseID        string    `db:"course_id" json:"course_id"`
	CompletedVideos int       `db:"completed_videos" json:"completed_videos"`
	TotalVideos     int       `db:"total_videos" json:"total_videos"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}
