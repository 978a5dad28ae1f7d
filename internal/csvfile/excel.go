package csvfile

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/wqooops/report-card-comments/internal/model"
	pkgerrors "github.com/wqooops/report-card-comments/pkg/errors"
)

// ExcelParser reads .xlsx uploads with the same positional columns and
// validation gate as the CSV template.
type ExcelParser struct{}

func NewExcelParser() *ExcelParser {
	return &ExcelParser{}
}

func (p *ExcelParser) Parse(ctx context.Context, data []byte) ([]model.CommentInput, int, error) {
	file, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer file.Close()

	sheets := file.GetSheetList()
	if len(sheets) == 0 {
		return nil, 0, pkgerrors.ErrInvalidFileFormat
	}

	rows, err := file.GetRows(sheets[0])
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get rows: %w", err)
	}

	if len(rows) < 2 { // Header + at least one data row
		return nil, 0, pkgerrors.ErrNoValidRows
	}

	var inputs []model.CommentInput
	dropped := 0

	for _, row := range rows[1:] {
		get := func(i int) string {
			if i < len(row) {
				return strings.TrimSpace(row[i])
			}
			return ""
		}

		in := model.CommentInput{
			GradeLevel: get(0),
			Pronouns:   get(1),
			Strength:   get(2),
			Weakness:   get(3),
		}
		if in.GradeLevel == "" && in.Pronouns == "" && in.Strength == "" {
			continue // Fully blank row
		}
		if in.GradeLevel == "" {
			in.GradeLevel = DefaultGradeLevel
		}

		if in.Pronouns == "" || in.Strength == "" {
			dropped++
			continue
		}

		inputs = append(inputs, in)
	}

	if len(inputs) == 0 {
		return nil, dropped, pkgerrors.ErrNoValidRows
	}

	return inputs, dropped, nil
}
