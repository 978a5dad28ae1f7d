package worker

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/wqooops/report-card-comments/internal/batch"
	"github.com/wqooops/report-card-comments/internal/config"
	"github.com/wqooops/report-card-comments/internal/credit"
	"github.com/wqooops/report-card-comments/internal/db"
	"github.com/wqooops/report-card-comments/internal/generate"
	"github.com/wqooops/report-card-comments/internal/logger"
	"github.com/wqooops/report-card-comments/internal/model"
	"github.com/wqooops/report-card-comments/internal/queue"
)

// BatchWorker consumes queued batch jobs and hands each one to the runner.
type BatchWorker struct {
	cfg      *config.Config
	repo     db.Repository
	runner   *batch.Runner
	consumer *queue.Consumer
	pool     *Pool
	log      zerolog.Logger
}

func NewBatchWorker(
	cfg *config.Config,
	repo db.Repository,
	ledger credit.Ledger,
	redisClient *queue.RedisClient,
) *BatchWorker {
	generator := generate.NewClient(cfg.Generator)
	return &BatchWorker{
		cfg:      cfg,
		repo:     repo,
		runner:   batch.NewRunner(cfg.Batch, cfg.Credits.BatchItemCost, ledger, generator, repo),
		consumer: queue.NewConsumer(redisClient, cfg),
		pool:     NewPool(cfg.Batch.WorkerCount),
		log:      logger.Get(),
	}
}

func (w *BatchWorker) Start(ctx context.Context) error {
	w.log.Info().Msg("Starting batch worker")

	w.pool.Start(ctx)

	return w.consumer.ConsumeBatchQueue(ctx, w.handleMessage)
}

func (w *BatchWorker) Stop() {
	w.log.Info().Msg("Stopping batch worker")
	w.pool.Stop()
}

func (w *BatchWorker) handleMessage(ctx context.Context, data []byte) error {
	var job model.BatchJob
	if err := json.Unmarshal(data, &job); err != nil {
		w.log.Error().Err(err).Msg("Failed to unmarshal batch job")
		return err
	}

	w.log.Info().Str("batch_id", job.BatchID).Str("user_id", job.UserID).Msg("Processing batch job")

	// A failed hand-off bubbles up so the consumer moves the message to
	// the dead-letter queue instead of losing the batch.
	if err := w.pool.Submit(ctx, func(ctx context.Context) error {
		return w.runBatch(ctx, job)
	}); err != nil {
		w.log.Error().Err(err).Str("batch_id", job.BatchID).Msg("Failed to hand batch job to the pool")
		return err
	}

	return nil
}

func (w *BatchWorker) runBatch(ctx context.Context, job model.BatchJob) error {
	b, err := w.repo.GetBatch(ctx, job.BatchID)
	if err != nil {
		w.log.Error().Err(err).Str("batch_id", job.BatchID).Msg("Batch lookup failed")
		return err
	}

	_, err = w.runner.Run(ctx, b)
	return err
}
