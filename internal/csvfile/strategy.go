package csvfile

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/wqooops/report-card-comments/internal/model"
	pkgerrors "github.com/wqooops/report-card-comments/pkg/errors"
)

// ParsingStrategy turns uploaded file bytes into comment inputs. Parse
// returns the valid rows and the count of rows dropped by validation.
type ParsingStrategy interface {
	Parse(ctx context.Context, data []byte) ([]model.CommentInput, int, error)
}

// StrategyFor picks a parser by upload filename extension.
func StrategyFor(filename string) (ParsingStrategy, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return NewParser(), nil
	case ".xlsx":
		return NewExcelParser(), nil
	default:
		return nil, pkgerrors.ErrInvalidFileFormat
	}
}
