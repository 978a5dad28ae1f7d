package export

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wqooops/report-card-comments/internal/config"
	"github.com/wqooops/report-card-comments/internal/csvfile"
	"github.com/wqooops/report-card-comments/internal/db"
	"github.com/wqooops/report-card-comments/internal/logger"
	"github.com/wqooops/report-card-comments/internal/model"
	"github.com/wqooops/report-card-comments/internal/storage"
)

// Cache resolves a batch session to a downloadable CSV artifact. A valid
// cached row short-circuits regeneration and upload; otherwise the export
// is rebuilt from the persisted students and reports, uploaded, and
// recorded with an expiry.
type Cache struct {
	cfg     config.ExportConfig
	repo    db.Repository
	storage storage.Storage
	now     func() time.Time
	log     zerolog.Logger
}

func NewCache(cfg config.ExportConfig, repo db.Repository, store storage.Storage) *Cache {
	return &Cache{
		cfg:     cfg,
		repo:    repo,
		storage: store,
		now:     time.Now,
		log:     logger.Get(),
	}
}

// GetOrCreate returns the export for (userID, sessionTime). Storage and
// cache bookkeeping failures degrade to returning the raw CSV content; the
// caller always gets their data.
func (c *Cache) GetOrCreate(ctx context.Context, userID string, sessionTime time.Time) (*model.ExportResponse, error) {
	session := model.TruncateToSession(sessionTime)
	now := c.now().UTC()

	log := c.log.With().Str("user_id", userID).Time("session_time", session).Logger()

	cached, err := c.repo.GetBatchFile(ctx, userID, session, now)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		log.Debug().Str("storage_key", cached.StorageKey).Msg("Export served from cache")
		return &model.ExportResponse{
			Success:   true,
			URL:       cached.StorageURL,
			Filename:  cached.Filename,
			FromCache: true,
		}, nil
	}

	reports, err := c.repo.GetSessionReports(ctx, userID, session)
	if err != nil {
		return nil, err
	}
	if len(reports) == 0 {
		return &model.ExportResponse{
			Success:  true,
			Filename: "empty.csv",
		}, nil
	}

	rows := make([]csvfile.ExportRow, len(reports))
	for i, sr := range reports {
		rows[i] = csvfile.ExportRow{
			GradeLevel: sr.Student.Grade,
			Pronouns:   sr.Student.Attributes.Pronouns,
			Strength:   sr.Student.Attributes.Strength,
			Weakness:   sr.Student.Attributes.Weakness,
			Comment:    sr.Content,
		}
	}
	content := csvfile.Serialize(rows)
	filename := csvfile.Filename("batch", session)

	// The row id is part of the key so a regenerated export never reuses
	// the key of an expired artifact that the purge sweep has yet to
	// delete.
	id := uuid.NewString()
	key := fmt.Sprintf("%s/%s/%s/%s", c.cfg.Folder, userID, id, filename)

	url, err := c.storage.Upload(ctx, key, strings.NewReader(content), "text/csv; charset=utf-8")
	if err != nil {
		// The upload is an optimization; hand the content straight back.
		log.Error().Err(err).Msg("Export upload failed, returning raw CSV")
		return &model.ExportResponse{
			Success:  true,
			CSV:      content,
			Filename: filename,
		}, nil
	}

	file := &model.BatchFile{
		ID:           id,
		UserID:       userID,
		SessionTime:  session,
		Filename:     filename,
		StorageURL:   url,
		StorageKey:   key,
		StudentCount: len(reports),
		ExpiresAt:    now.Add(time.Duration(c.cfg.TTLDays) * 24 * time.Hour),
	}
	if err := c.repo.InsertBatchFile(ctx, file); err != nil {
		// The URL is already valid; losing the cache row only costs a
		// re-upload next time.
		log.Error().Err(err).Msg("Failed to persist export cache record")
	}

	log.Info().Int("student_count", len(reports)).Str("storage_key", key).Msg("Export generated and uploaded")

	return &model.ExportResponse{
		Success:   true,
		URL:       url,
		Filename:  filename,
		FromCache: false,
	}, nil
}
