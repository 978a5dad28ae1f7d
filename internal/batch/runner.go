package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wqooops/report-card-comments/internal/config"
	"github.com/wqooops/report-card-comments/internal/credit"
	"github.com/wqooops/report-card-comments/internal/db"
	"github.com/wqooops/report-card-comments/internal/generate"
	"github.com/wqooops/report-card-comments/internal/logger"
	"github.com/wqooops/report-card-comments/internal/model"
	pkgerrors "github.com/wqooops/report-card-comments/pkg/errors"
)

// Generator is the text-generation dependency of the runner.
type Generator interface {
	Generate(ctx context.Context, systemInstruction, prompt string) (string, error)
}

// Result aggregates a finished batch run. Skipped counts records never
// attempted because the user's credit budget ran out mid-batch.
type Result struct {
	Succeeded int
	Failed    int
	Skipped   int
}

// Runner drives the per-record state machine
// PENDING -> GENERATING -> {COMPLETED | ERROR} over a batch, strictly one
// record in flight at a time. Credits are consumed before each generation
// attempt and are not refunded on failure; that is a deliberate product
// decision, not an oversight.
type Runner struct {
	cfg       config.BatchConfig
	itemCost  int
	ledger    credit.Ledger
	generator Generator
	repo      db.Repository
	sleep     func(ctx context.Context, d time.Duration) error
	log       zerolog.Logger
}

func NewRunner(cfg config.BatchConfig, itemCost int, ledger credit.Ledger, generator Generator, repo db.Repository) *Runner {
	return &Runner{
		cfg:       cfg,
		itemCost:  itemCost,
		ledger:    ledger,
		generator: generator,
		repo:      repo,
		sleep:     sleepCtx,
		log:       logger.Get(),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// backoff returns the capped exponential delay before the given retry,
// counting retries from one.
func (r *Runner) backoff(retryCount int) time.Duration {
	delay := r.cfg.BaseDelay * time.Duration(1<<retryCount)
	if delay > r.cfg.MaxDelay {
		delay = r.cfg.MaxDelay
	}
	return delay
}

// Run processes every non-completed item of the batch in position order.
// Transient failures retry up to MaxRetries attempts per record; credit
// exhaustion stops the whole remaining queue since no later record can
// afford to run either.
func (r *Runner) Run(ctx context.Context, batch *model.Batch) (Result, error) {
	log := r.log.With().Str("batch_id", batch.ID).Str("user_id", batch.UserID).Logger()

	items, err := r.repo.GetBatchItems(ctx, batch.ID)
	if err != nil {
		return Result{}, err
	}

	if err := r.repo.UpdateBatchStatus(ctx, batch.ID, model.BatchStatusRunning); err != nil {
		return Result{}, err
	}

	log.Info().Int("record_count", len(items)).Msg("Batch run started")

	var result Result
	outOfCredits := false

	for i := range items {
		item := &items[i]

		if outOfCredits {
			result.Skipped++
			continue
		}

		if item.Status == model.BatchItemStatusCompleted {
			result.Succeeded++
			continue
		}

		if err := ctx.Err(); err != nil {
			return result, err
		}

		fatal, err := r.processItem(ctx, batch, item)
		if err == nil {
			result.Succeeded++
			continue
		}
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		result.Failed++
		if fatal {
			log.Warn().Int("position", item.Position).Msg("Credit budget exhausted, stopping remaining records")
			outOfCredits = true
		}
	}

	if err := r.repo.UpdateBatchStatus(ctx, batch.ID, model.BatchStatusCompleted); err != nil {
		log.Error().Err(err).Msg("Failed to mark batch completed")
	}

	log.Info().
		Int("succeeded", result.Succeeded).
		Int("failed", result.Failed).
		Int("skipped", result.Skipped).
		Msg("Batch run finished")

	return result, nil
}

// processItem runs the bounded retry loop for one record. The returned bool
// reports whether the failure is fatal for the whole batch.
func (r *Runner) processItem(ctx context.Context, batch *model.Batch, item *model.BatchItem) (bool, error) {
	log := r.log.With().Str("batch_id", batch.ID).Int("position", item.Position).Logger()

	var lastErr error
	for retryCount := 0; retryCount < r.cfg.MaxRetries; retryCount++ {
		if err := r.markItem(ctx, item, model.BatchItemStatusGenerating, nil, nil); err != nil {
			return false, err
		}

		log.Debug().Int("attempt", retryCount+1).Int("max_attempts", r.cfg.MaxRetries).Msg("Processing record")

		comment, err := r.attempt(ctx, batch, item)
		if err == nil {
			if err := r.markItem(ctx, item, model.BatchItemStatusCompleted, &comment, nil); err != nil {
				return false, err
			}
			log.Debug().Msg("Record completed")
			return false, nil
		}

		lastErr = err

		if pkgerrors.IsPermanent(err) {
			// The budget is gone; retrying cannot help this record or any
			// record after it.
			msg := "Insufficient credits"
			if markErr := r.markItem(ctx, item, model.BatchItemStatusError, nil, &msg); markErr != nil {
				log.Error().Err(markErr).Msg("Failed to persist record error")
			}
			return true, err
		}

		log.Warn().Err(err).Int("attempt", retryCount+1).Msg("Record attempt failed")

		if retryCount+1 < r.cfg.MaxRetries {
			delay := r.backoff(retryCount + 1)
			log.Debug().Dur("delay", delay).Msg("Waiting before retry")
			if err := r.sleep(ctx, delay); err != nil {
				return false, err
			}
		}
	}

	msg := lastErr.Error()
	if err := r.markItem(ctx, item, model.BatchItemStatusError, nil, &msg); err != nil {
		log.Error().Err(err).Msg("Failed to persist record error")
	}
	return false, lastErr
}

// attempt is one consume-then-generate cycle. Consumption is a sunk cost:
// if generation fails afterwards, the credits stay spent.
func (r *Runner) attempt(ctx context.Context, batch *model.Batch, item *model.BatchItem) (string, error) {
	description := fmt.Sprintf("Batch generation for student with pronouns %s", item.Pronouns)
	if err := r.ledger.Consume(ctx, batch.UserID, r.itemCost, description); err != nil {
		return "", err
	}

	input := model.CommentInput{
		GradeLevel: item.GradeLevel,
		Pronouns:   item.Pronouns,
		Strength:   item.Strength,
		Weakness:   item.Weakness,
	}

	comment, err := r.generator.Generate(ctx, generate.SystemInstruction, generate.BuildPrompt(input))
	if err != nil {
		return "", err
	}

	r.saveStudentReport(ctx, batch, item, comment)

	return comment, nil
}

// saveStudentReport persists the append-only Student + Report pair. A
// persistence failure never fails the record: the user already paid for and
// received the comment.
func (r *Runner) saveStudentReport(ctx context.Context, batch *model.Batch, item *model.BatchItem, comment string) {
	student := &model.Student{
		ID:      uuid.NewString(),
		UserID:  batch.UserID,
		BatchID: &batch.ID,
		Name:    fmt.Sprintf("Student (%s)", item.Pronouns),
		Grade:   item.GradeLevel,
		Attributes: model.StudentAttributes{
			Pronouns: item.Pronouns,
			Strength: item.Strength,
			Weakness: item.Weakness,
		},
	}
	report := &model.Report{
		ID:        uuid.NewString(),
		StudentID: student.ID,
		Content:   comment,
	}

	if err := r.repo.InsertStudentReport(ctx, student, report); err != nil {
		r.log.Error().Err(err).
			Str("batch_id", batch.ID).
			Int("position", item.Position).
			Msg("Failed to save student report, comment still delivered")
	}
}

func (r *Runner) markItem(ctx context.Context, item *model.BatchItem, status model.BatchItemStatus, result, errorMessage *string) error {
	item.Status = status
	item.Result = result
	item.ErrorMessage = errorMessage
	return r.repo.UpdateBatchItem(ctx, item.ID, status, result, errorMessage)
}
