package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/wqooops/report-card-comments/internal/model"
	pkgerrors "github.com/wqooops/report-card-comments/pkg/errors"
)

type Repository interface {
	CreateBatch(ctx context.Context, batch *model.Batch, inputs []model.CommentInput) error
	GetBatch(ctx context.Context, batchID string) (*model.Batch, error)
	UpdateBatchStatus(ctx context.Context, batchID string, status model.BatchStatus) error
	GetBatchItems(ctx context.Context, batchID string) ([]model.BatchItem, error)
	UpdateBatchItem(ctx context.Context, itemID int64, status model.BatchItemStatus, result, errorMessage *string) error
	GetBatchStatus(ctx context.Context, batchID string) (*model.BatchStatusResponse, error)

	InsertStudentReport(ctx context.Context, student *model.Student, report *model.Report) error
	GetSessionReports(ctx context.Context, userID string, sessionTime time.Time) ([]model.StudentReport, error)

	GetBatchFile(ctx context.Context, userID string, sessionTime, now time.Time) (*model.BatchFile, error)
	InsertBatchFile(ctx context.Context, file *model.BatchFile) error
	GetExpiredBatchFiles(ctx context.Context, now time.Time, limit int) ([]model.BatchFile, error)
	DeleteBatchFile(ctx context.Context, id string) error

	ListCreditTransactions(ctx context.Context, userID string, offset, limit int) ([]model.CreditTransaction, int, error)
	GetDashboardStats(ctx context.Context, userID string) (*model.DashboardStats, error)
	GetBatchSessions(ctx context.Context, userID string, limit int) ([]model.BatchSession, error)
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

func (r *repository) CreateBatch(ctx context.Context, batch *model.Batch, inputs []model.CommentInput) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO batches (id, user_id, session_time, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, NOW(), NOW())`,
		batch.ID, batch.UserID, batch.SessionTime, batch.Status)
	if err != nil {
		return err
	}

	itemQuery := `INSERT INTO batch_items (batch_id, position, grade_level, pronouns, strength, weakness, status, created_at, updated_at)
				  VALUES (?, ?, ?, ?, ?, ?, ?, NOW(), NOW())`

	for i, in := range inputs {
		_, err := tx.ExecContext(ctx, itemQuery, batch.ID, i,
			in.GradeLevel, in.Pronouns, in.Strength, in.Weakness, model.BatchItemStatusPending)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *repository) GetBatch(ctx context.Context, batchID string) (*model.Batch, error) {
	query := `SELECT id, user_id, session_time, status, created_at, updated_at FROM batches WHERE id = ?`

	var batch model.Batch
	err := r.db.QueryRowContext(ctx, query, batchID).Scan(
		&batch.ID, &batch.UserID, &batch.SessionTime, &batch.Status,
		&batch.CreatedAt, &batch.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, pkgerrors.ErrBatchNotFound
	}
	if err != nil {
		return nil, err
	}

	return &batch, nil
}

func (r *repository) UpdateBatchStatus(ctx context.Context, batchID string, status model.BatchStatus) error {
	query := `UPDATE batches SET status = ?, updated_at = NOW() WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query, status, batchID)
	return err
}

func (r *repository) GetBatchItems(ctx context.Context, batchID string) ([]model.BatchItem, error) {
	query := `SELECT id, batch_id, position, grade_level, pronouns, strength, weakness, status, result, error_message, created_at, updated_at
			  FROM batch_items WHERE batch_id = ? ORDER BY position`

	rows, err := r.db.QueryContext(ctx, query, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []model.BatchItem
	for rows.Next() {
		var item model.BatchItem
		err := rows.Scan(&item.ID, &item.BatchID, &item.Position,
			&item.GradeLevel, &item.Pronouns, &item.Strength, &item.Weakness,
			&item.Status, &item.Result, &item.ErrorMessage,
			&item.CreatedAt, &item.UpdatedAt)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	return items, rows.Err()
}

func (r *repository) UpdateBatchItem(ctx context.Context, itemID int64, status model.BatchItemStatus, result, errorMessage *string) error {
	query := `UPDATE batch_items SET status = ?, result = ?, error_message = ?, updated_at = NOW() WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query, status, result, errorMessage, itemID)
	return err
}

func (r *repository) GetBatchStatus(ctx context.Context, batchID string) (*model.BatchStatusResponse, error) {
	batch, err := r.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	query := `SELECT
		COUNT(*) as total_records,
		COUNT(CASE WHEN status = 'COMPLETED' THEN 1 END) as completed_count,
		COUNT(CASE WHEN status = 'ERROR' THEN 1 END) as error_count,
		MAX(updated_at) as updated_at
	FROM batch_items WHERE batch_id = ?`

	var response model.BatchStatusResponse
	err = r.db.QueryRowContext(ctx, query, batchID).Scan(
		&response.TotalRecords, &response.CompletedCount,
		&response.ErrorCount, &response.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	response.BatchID = batchID
	response.Status = string(batch.Status)

	errorQuery := `SELECT DISTINCT error_message FROM batch_items
				   WHERE batch_id = ? AND status = 'ERROR' AND error_message IS NOT NULL`

	rows, err := r.db.QueryContext(ctx, errorQuery, batchID)
	if err == nil {
		defer rows.Close()
		for rows.Next() {
			var errorMsg string
			if rows.Scan(&errorMsg) == nil {
				response.Errors = append(response.Errors, errorMsg)
			}
		}
	}

	return &response, nil
}

func (r *repository) InsertStudentReport(ctx context.Context, student *model.Student, report *model.Report) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	attrs, err := json.Marshal(student.Attributes)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO students (id, user_id, batch_id, name, grade, attributes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, NOW())`,
		student.ID, student.UserID, student.BatchID, student.Name, student.Grade, attrs)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO reports (id, student_id, content, created_at) VALUES (?, ?, ?, NOW())`,
		report.ID, report.StudentID, report.Content)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (r *repository) GetSessionReports(ctx context.Context, userID string, sessionTime time.Time) ([]model.StudentReport, error) {
	session := model.TruncateToSession(sessionTime)

	query := `SELECT s.id, s.user_id, s.name, s.grade, s.attributes, s.created_at, COALESCE(r.content, '')
			  FROM students s
			  LEFT JOIN reports r ON r.student_id = s.id
			  WHERE s.user_id = ? AND s.created_at >= ? AND s.created_at < ?
			  ORDER BY s.created_at`

	rows, err := r.db.QueryContext(ctx, query, userID, session, session.Add(time.Minute))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []model.StudentReport
	for rows.Next() {
		var sr model.StudentReport
		var attrs []byte
		err := rows.Scan(&sr.Student.ID, &sr.Student.UserID, &sr.Student.Name,
			&sr.Student.Grade, &attrs, &sr.Student.CreatedAt, &sr.Content)
		if err != nil {
			return nil, err
		}
		if len(attrs) > 0 {
			if err := json.Unmarshal(attrs, &sr.Student.Attributes); err != nil {
				return nil, err
			}
		}
		results = append(results, sr)
	}

	return results, rows.Err()
}

func (r *repository) GetBatchFile(ctx context.Context, userID string, sessionTime, now time.Time) (*model.BatchFile, error) {
	query := `SELECT id, user_id, session_time, filename, storage_url, storage_key, student_count, created_at, expires_at
			  FROM batch_files
			  WHERE user_id = ? AND session_time = ? AND expires_at > ?
			  ORDER BY created_at DESC LIMIT 1`

	var file model.BatchFile
	err := r.db.QueryRowContext(ctx, query, userID, model.TruncateToSession(sessionTime), now).Scan(
		&file.ID, &file.UserID, &file.SessionTime, &file.Filename,
		&file.StorageURL, &file.StorageKey, &file.StudentCount,
		&file.CreatedAt, &file.ExpiresAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &file, nil
}

func (r *repository) InsertBatchFile(ctx context.Context, file *model.BatchFile) error {
	query := `INSERT INTO batch_files (id, user_id, session_time, filename, storage_url, storage_key, student_count, created_at, expires_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, NOW(), ?)`

	_, err := r.db.ExecContext(ctx, query, file.ID, file.UserID, file.SessionTime,
		file.Filename, file.StorageURL, file.StorageKey, file.StudentCount, file.ExpiresAt)
	return err
}

func (r *repository) GetExpiredBatchFiles(ctx context.Context, now time.Time, limit int) ([]model.BatchFile, error) {
	query := `SELECT id, user_id, session_time, filename, storage_url, storage_key, student_count, created_at, expires_at
			  FROM batch_files WHERE expires_at <= ? LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []model.BatchFile
	for rows.Next() {
		var file model.BatchFile
		err := rows.Scan(&file.ID, &file.UserID, &file.SessionTime, &file.Filename,
			&file.StorageURL, &file.StorageKey, &file.StudentCount,
			&file.CreatedAt, &file.ExpiresAt)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}

	return files, rows.Err()
}

func (r *repository) DeleteBatchFile(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM batch_files WHERE id = ?`, id)
	return err
}

func (r *repository) ListCreditTransactions(ctx context.Context, userID string, offset, limit int) ([]model.CreditTransaction, int, error) {
	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM credit_transactions WHERE user_id = ?`, userID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	query := `SELECT id, user_id, type, amount, remaining_amount, description, payment_id,
					 expiration_date, expiration_date_processed_at, created_at, updated_at
			  FROM credit_transactions WHERE user_id = ?
			  ORDER BY created_at DESC LIMIT ? OFFSET ?`

	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var txs []model.CreditTransaction
	for rows.Next() {
		var t model.CreditTransaction
		err := rows.Scan(&t.ID, &t.UserID, &t.Type, &t.Amount, &t.RemainingAmount,
			&t.Description, &t.PaymentID, &t.ExpirationDate, &t.ExpirationDateProcessedAt,
			&t.CreatedAt, &t.UpdatedAt)
		if err != nil {
			return nil, 0, err
		}
		txs = append(txs, t)
	}

	return txs, total, rows.Err()
}

func (r *repository) GetDashboardStats(ctx context.Context, userID string) (*model.DashboardStats, error) {
	var stats model.DashboardStats

	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reports r JOIN students s ON s.id = r.student_id WHERE s.user_id = ?`,
		userID).Scan(&stats.TotalReports)
	if err != nil {
		return nil, err
	}

	err = r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reports r JOIN students s ON s.id = r.student_id
		 WHERE s.user_id = ? AND r.created_at >= DATE_FORMAT(CURDATE(), '%Y-%m-01')`,
		userID).Scan(&stats.ThisMonth)
	if err != nil {
		return nil, err
	}

	err = r.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT DATE_FORMAT(created_at, '%Y-%m-%d %H:%i:00')) FROM students WHERE user_id = ?`,
		userID).Scan(&stats.BatchSessions)
	if err != nil {
		return nil, err
	}

	return &stats, nil
}

func (r *repository) GetBatchSessions(ctx context.Context, userID string, limit int) ([]model.BatchSession, error) {
	// Students created within the same minute form one session; singles are
	// excluded by the HAVING clause.
	query := `SELECT DATE_FORMAT(created_at, '%Y-%m-%d %H:%i:00') as session_time,
					 COUNT(*) as student_count,
					 MIN(grade) as grade_level
			  FROM students WHERE user_id = ?
			  GROUP BY DATE_FORMAT(created_at, '%Y-%m-%d %H:%i:00')
			  HAVING COUNT(*) > 1
			  ORDER BY session_time DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []model.BatchSession
	for rows.Next() {
		var s model.BatchSession
		var sessionStr string
		if err := rows.Scan(&sessionStr, &s.StudentCount, &s.GradeLevel); err != nil {
			return nil, err
		}
		s.SessionTime, err = time.Parse("2006-01-02 15:04:05", sessionStr)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}

	return sessions, rows.Err()
}
