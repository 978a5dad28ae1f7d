package model

import "time"

type BatchStatus string

const (
	BatchStatusQueued    BatchStatus = "QUEUED"
	BatchStatusRunning   BatchStatus = "RUNNING"
	BatchStatusCompleted BatchStatus = "COMPLETED"
)

type BatchItemStatus string

const (
	BatchItemStatusPending    BatchItemStatus = "PENDING"
	BatchItemStatusGenerating BatchItemStatus = "GENERATING"
	BatchItemStatusCompleted  BatchItemStatus = "COMPLETED"
	BatchItemStatusError      BatchItemStatus = "ERROR"
)

// Batch is an explicit batch identity. SessionTime is the minute-truncated
// creation time kept for export lookups; two batches started in the same
// minute stay distinct for processing but share one export bucket.
type Batch struct {
	ID          string      `json:"id" db:"id"`
	UserID      string      `json:"user_id" db:"user_id"`
	SessionTime time.Time   `json:"session_time" db:"session_time"`
	Status      BatchStatus `json:"status" db:"status"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at" db:"updated_at"`
}

// BatchItem is the durable per-record state machine:
// PENDING -> GENERATING -> {COMPLETED | ERROR}.
type BatchItem struct {
	ID           int64           `json:"id" db:"id"`
	BatchID      string          `json:"batch_id" db:"batch_id"`
	Position     int             `json:"position" db:"position"`
	GradeLevel   string          `json:"grade_level" db:"grade_level"`
	Pronouns     string          `json:"pronouns" db:"pronouns"`
	Strength     string          `json:"strength" db:"strength"`
	Weakness     string          `json:"weakness" db:"weakness"`
	Status       BatchItemStatus `json:"status" db:"status"`
	Result       *string         `json:"result,omitempty" db:"result"`
	ErrorMessage *string         `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// BatchFile is a cached export artifact. Immutable once created; lookups
// ignore rows past ExpiresAt.
type BatchFile struct {
	ID           string    `json:"id" db:"id"`
	UserID       string    `json:"user_id" db:"user_id"`
	SessionTime  time.Time `json:"session_time" db:"session_time"`
	Filename     string    `json:"filename" db:"filename"`
	StorageURL   string    `json:"storage_url" db:"storage_url"`
	StorageKey   string    `json:"storage_key" db:"storage_key"`
	StudentCount int       `json:"student_count" db:"student_count"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	ExpiresAt    time.Time `json:"expires_at" db:"expires_at"`
}

// TruncateToSession truncates t to the minute bucket that identifies a
// batch session.
func TruncateToSession(t time.Time) time.Time {
	return t.UTC().Truncate(time.Minute)
}
