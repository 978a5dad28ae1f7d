package model

import "time"

// CommentInput is one parsed upload row: the data needed to generate a
// single report card comment.
type CommentInput struct {
	GradeLevel string `json:"grade_level"`
	Pronouns   string `json:"pronouns"`
	Strength   string `json:"strength"`
	Weakness   string `json:"weakness,omitempty"`
}

// BatchJob is the queue message that hands a batch to the worker.
type BatchJob struct {
	BatchID string `json:"batch_id"`
	UserID  string `json:"user_id"`
}

type GenerateRequest struct {
	GradeLevel  string `json:"grade_level" binding:"required"`
	Pronouns    string `json:"pronouns" binding:"required"`
	Strength    string `json:"strength" binding:"required"`
	Weakness    string `json:"weakness"`
	StudentName string `json:"student_name"`
}

type BatchStatusResponse struct {
	BatchID        string    `json:"batch_id"`
	Status         string    `json:"status"`
	TotalRecords   int       `json:"total_records"`
	CompletedCount int       `json:"completed_count"`
	ErrorCount     int       `json:"error_count"`
	Errors         []string  `json:"errors,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type ExportRequest struct {
	SessionTime time.Time `json:"session_time" binding:"required"`
}

type ExportResponse struct {
	Success   bool   `json:"success"`
	URL       string `json:"url,omitempty"`
	CSV       string `json:"csv,omitempty"`
	Filename  string `json:"filename"`
	FromCache bool   `json:"from_cache"`
}

// BatchSession is a dashboard grouping of students created within the same
// minute. Derived by query, not stored.
type BatchSession struct {
	SessionTime  time.Time `json:"session_time"`
	StudentCount int       `json:"student_count"`
	GradeLevel   string    `json:"grade_level"`
}

type DashboardStats struct {
	TotalReports  int `json:"total_reports"`
	ThisMonth     int `json:"this_month"`
	BatchSessions int `json:"batch_sessions"`
}
