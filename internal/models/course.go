package models

import "time"

// ResourceKind enumerates the content types protected by the engine.
type ResourceKind string

const (
	ResourceVideo      ResourceKind = "VIDEO"
	ResourceMaterial   ResourceKind = "MATERIAL"
	ResourceQuiz       ResourceKind = "QUIZ"
	ResourceAssignment ResourceKind = "ASSIGNMENT"
	ResourceLiveClass  ResourceKind = "LIVE_CLASS"
)

// Course captures the catalog metadata the engine depends on.
type Course struct {
	ID        string    `db:"id" json:"id"`
	Title     string    `db:"title" json:"title"`
	OwnerID   string    `db:"owner_id" json:"owner_id"`
	Price     int64     `db:"price" json:"price"`
	Published bool      `db:"published" json:"published"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ResourceDescriptor is the logical view an access decision reasons over.
// OwnerID is the teacher who created the parent course and never changes;
// EnrolledIDs reflects the course enrollment set at load time.
type ResourceDescriptor struct {
	ID          string       `json:"id"`
	Kind        ResourceKind `json:"kind"`
	CourseID    string       `json:"course_id"`
	OwnerID     string       `json:"owner_id"`
	IsPreview   bool         `json:"is_preview"`
	EnrolledIDs []string     `json:"enrolled_ids"`
}

// Enrolled reports whether the given principal appears in the enrollment set.
func (r ResourceDescriptor) Enrolled(principalID string) bool {
	for _, id := range r.EnrolledIDs {
		if id == principalID {
			return true
		}
	}
	return false
}

// Verdict is the outcome of an entitlement evaluation.
type Verdict struct {
	Allowed        bool   `json:"allowed"`
	Reason         string `json:"reason,omitempty"`
	CanEditContent bool   `json:"can_edit_content"`
}
