package model

import "time"

// StudentAttributes is the JSON blob stored alongside a student row. The
// CSV upload carries no student name, so pronouns double as the identifier.
type StudentAttributes struct {
	Pronouns string `json:"pronouns"`
	Strength string `json:"strength"`
	Weakness string `json:"weakness,omitempty"`
}

// Student is append-only: created per successful generation, never updated.
type Student struct {
	ID         string            `json:"id" db:"id"`
	UserID     string            `json:"user_id" db:"user_id"`
	BatchID    *string           `json:"batch_id,omitempty" db:"batch_id"`
	Name       string            `json:"name" db:"name"`
	Grade      string            `json:"grade" db:"grade"`
	Attributes StudentAttributes `json:"attributes" db:"attributes"`
	CreatedAt  time.Time         `json:"created_at" db:"created_at"`
}

// Report is the generated comment for one student, append-only.
type Report struct {
	ID        string    `json:"id" db:"id"`
	StudentID string    `json:"student_id" db:"student_id"`
	Content   string    `json:"content" db:"content"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// StudentReport joins a student with its report content for export and
// dashboard listings.
type StudentReport struct {
	Student Student
	Content string
}
