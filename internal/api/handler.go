package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wqooops/report-card-comments/internal/batch"
	"github.com/wqooops/report-card-comments/internal/config"
	"github.com/wqooops/report-card-comments/internal/credit"
	"github.com/wqooops/report-card-comments/internal/csvfile"
	"github.com/wqooops/report-card-comments/internal/db"
	"github.com/wqooops/report-card-comments/internal/export"
	"github.com/wqooops/report-card-comments/internal/generate"
	"github.com/wqooops/report-card-comments/internal/guest"
	"github.com/wqooops/report-card-comments/internal/logger"
	"github.com/wqooops/report-card-comments/internal/model"
	"github.com/wqooops/report-card-comments/internal/queue"
	pkgerrors "github.com/wqooops/report-card-comments/pkg/errors"
)

// MaxUploadSize caps batch uploads at 4MB.
const MaxUploadSize = 4 << 20

type Handler struct {
	cfg       *config.Config
	repo      db.Repository
	producer  *queue.Producer
	ledger    credit.Ledger
	generator batch.Generator
	exports   *export.Cache
	quota     *guest.Quota
	log       zerolog.Logger
}

func NewHandler(
	cfg *config.Config,
	repo db.Repository,
	producer *queue.Producer,
	ledger credit.Ledger,
	generator batch.Generator,
	exports *export.Cache,
	quota *guest.Quota,
) *Handler {
	return &Handler{
		cfg:       cfg,
		repo:      repo,
		producer:  producer,
		ledger:    ledger,
		generator: generator,
		exports:   exports,
		quota:     quota,
		log:       logger.Get(),
	}
}

func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": h.cfg.App.Name,
		"version": h.cfg.App.Version,
	})
}

// Generate produces a single comment. Authenticated users pay one credit;
// guests draw from a small lifetime quota keyed by client IP.
func (h *Handler) Generate(c *gin.Context) {
	var req model.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	ctx := c.Request.Context()
	userID, authenticated := currentUser(c)

	if authenticated {
		name := req.StudentName
		if name == "" {
			name = "student"
		}
		err := h.ledger.Consume(ctx, userID, h.cfg.Credits.SingleCost,
			fmt.Sprintf("Generate comment for %s", name))
		if errors.Is(err, pkgerrors.ErrInsufficientCredits) {
			c.JSON(http.StatusPaymentRequired, gin.H{
				"error": "Insufficient credits. Please upgrade your plan.",
			})
			return
		}
		if err != nil {
			h.log.Error().Err(err).Str("user_id", userID).Msg("Credit consumption failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
	} else {
		err := h.quota.Take(ctx, c.ClientIP())
		if errors.Is(err, pkgerrors.ErrGuestLimitReached) {
			c.JSON(http.StatusForbidden, gin.H{
				"error":            "Free limit reached. Please sign up to continue.",
				"is_limit_reached": true,
			})
			return
		}
		if err != nil {
			h.log.Error().Err(err).Msg("Guest quota check failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
	}

	input := model.CommentInput{
		GradeLevel: req.GradeLevel,
		Pronouns:   req.Pronouns,
		Strength:   req.Strength,
		Weakness:   req.Weakness,
	}

	comment, err := h.generator.Generate(ctx, generate.SystemInstruction, generate.BuildPrompt(input))
	if err != nil {
		h.log.Error().Err(err).Msg("Generation failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "AI Generation Failed"})
		return
	}

	if authenticated {
		h.saveStudentReport(c, userID, req, comment)
		c.JSON(http.StatusOK, gin.H{"success": true, "comment": comment})
		return
	}

	remaining, err := h.quota.Remaining(ctx, c.ClientIP())
	if err != nil {
		h.log.Warn().Err(err).Msg("Guest quota lookup failed")
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"comment":        comment,
		"remaining_free": remaining,
	})
}

// saveStudentReport persists the generated comment; failure is logged but
// never withheld from the caller, who already paid for the comment.
func (h *Handler) saveStudentReport(c *gin.Context, userID string, req model.GenerateRequest, comment string) {
	name := req.StudentName
	if name == "" {
		name = fmt.Sprintf("Student (%s)", req.Pronouns)
	}

	student := &model.Student{
		ID:     uuid.NewString(),
		UserID: userID,
		Name:   name,
		Grade:  req.GradeLevel,
		Attributes: model.StudentAttributes{
			Pronouns: req.Pronouns,
			Strength: req.Strength,
			Weakness: req.Weakness,
		},
	}
	report := &model.Report{
		ID:        uuid.NewString(),
		StudentID: student.ID,
		Content:   comment,
	}

	if err := h.repo.InsertStudentReport(c.Request.Context(), student, report); err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to save report, comment still delivered")
	}
}

// UploadBatch parses an uploaded CSV or XLSX into a durable batch and
// queues it for the worker.
func (h *Handler) UploadBatch(c *gin.Context) {
	userID, _ := currentUser(c)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
		return
	}
	if fileHeader.Size > MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File size exceeds the server limit"})
		return
	}

	strategy, err := csvfile.StrategyFor(fileHeader.Filename)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "File type not supported"})
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read file"})
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read file"})
		return
	}

	inputs, dropped, err := strategy.Parse(c.Request.Context(), data)
	if err != nil {
		h.log.Warn().Err(err).Str("user_id", userID).Int("dropped", dropped).Msg("Batch upload rejected")
		c.JSON(http.StatusBadRequest, gin.H{
			"error":        "No valid rows found in file",
			"dropped_rows": dropped,
		})
		return
	}

	if h.cfg.Batch.MaxBatchSize > 0 && len(inputs) > h.cfg.Batch.MaxBatchSize {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("Batch exceeds the %d record limit", h.cfg.Batch.MaxBatchSize),
		})
		return
	}

	now := time.Now().UTC()
	b := &model.Batch{
		ID:          uuid.NewString(),
		UserID:      userID,
		SessionTime: model.TruncateToSession(now),
		Status:      model.BatchStatusQueued,
	}

	if err := h.repo.CreateBatch(c.Request.Context(), b, inputs); err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to create batch")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create batch"})
		return
	}

	job := model.BatchJob{BatchID: b.ID, UserID: userID}
	if err := h.producer.EnqueueBatchJob(c.Request.Context(), job); err != nil {
		h.log.Error().Err(err).Str("batch_id", b.ID).Msg("Failed to enqueue batch job")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to queue batch job"})
		return
	}

	h.log.Info().
		Str("batch_id", b.ID).
		Str("user_id", userID).
		Int("record_count", len(inputs)).
		Int("dropped_rows", dropped).
		Msg("Batch queued")

	c.JSON(http.StatusOK, gin.H{
		"batch_id":     b.ID,
		"record_count": len(inputs),
		"dropped_rows": dropped,
	})
}

func (h *Handler) GetBatchStatus(c *gin.Context) {
	userID, _ := currentUser(c)
	batchID := c.Param("batch_id")

	b, err := h.repo.GetBatch(c.Request.Context(), batchID)
	if errors.Is(err, pkgerrors.ErrBatchNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Batch not found"})
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("batch_id", batchID).Msg("Batch lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if b.UserID != userID {
		c.JSON(http.StatusNotFound, gin.H{"error": "Batch not found"})
		return
	}

	status, err := h.repo.GetBatchStatus(c.Request.Context(), batchID)
	if err != nil {
		h.log.Error().Err(err).Str("batch_id", batchID).Msg("Failed to get batch status")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, status)
}

// ExportBatch returns the cached CSV artifact for a batch session,
// generating and uploading it on first request.
func (h *Handler) ExportBatch(c *gin.Context) {
	userID, _ := currentUser(c)

	var req model.ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Session time is required"})
		return
	}

	result, err := h.exports.GetOrCreate(c.Request.Context(), userID, req.SessionTime)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Export failed")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to generate export"})
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) GetCreditBalance(c *gin.Context) {
	userID, _ := currentUser(c)

	balance, err := h.ledger.Balance(c.Request.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to get credit balance")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get credits"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"credits": balance})
}

func (h *Handler) ListCreditTransactions(c *gin.Context) {
	userID, _ := currentUser(c)

	page, _ := strconv.Atoi(c.DefaultQuery("page", "0"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))
	if page < 0 {
		page = 0
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 10
	}

	txs, total, err := h.repo.ListCreditTransactions(c.Request.Context(), userID, page*pageSize, pageSize)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to list credit transactions")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"items": txs,
		"total": total,
	})
}

func (h *Handler) GetDashboardStats(c *gin.Context) {
	userID, _ := currentUser(c)

	stats, err := h.repo.GetDashboardStats(c.Request.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to get dashboard stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

func (h *Handler) GetBatchSessions(c *gin.Context) {
	userID, _ := currentUser(c)

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if limit < 1 || limit > 100 {
		limit = 10
	}

	sessions, err := h.repo.GetBatchSessions(c.Request.Context(), userID, limit)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to get batch sessions")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}
