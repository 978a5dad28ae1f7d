package csvfile

import (
	"context"
	"strings"

	"github.com/wqooops/report-card-comments/internal/model"
	pkgerrors "github.com/wqooops/report-card-comments/pkg/errors"
)

// DefaultGradeLevel fills in rows whose grade column is blank.
const DefaultGradeLevel = "9th Grade"

type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

// Parse reads uploaded CSV text into comment inputs. The format is the
// published upload template: header row, then positional columns
// gradeLevel, pronouns, strength, weakness. Fields are split on commas with
// surrounding quotes stripped; embedded commas inside input fields are not
// supported (the template tells users to avoid them). Rows missing pronouns
// or strength are dropped, blank lines skipped. Returns the parsed rows and
// the number of rows dropped by validation.
func (p *Parser) Parse(ctx context.Context, data []byte) ([]model.CommentInput, int, error) {
	lines := strings.Split(string(data), "\n")
	if len(lines) < 2 {
		return nil, 0, pkgerrors.ErrNoValidRows
	}

	var inputs []model.CommentInput
	dropped := 0

	for _, line := range lines[1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}

		fields := strings.Split(line, ",")
		get := func(i int) string {
			if i < len(fields) {
				return stripQuotes(strings.TrimSpace(fields[i]))
			}
			return ""
		}

		in := model.CommentInput{
			GradeLevel: get(0),
			Pronouns:   get(1),
			Strength:   get(2),
			Weakness:   get(3),
		}
		if in.GradeLevel == "" {
			in.GradeLevel = DefaultGradeLevel
		}

		// Validation gate: pronouns and strength are required.
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

func stripQuotes(s string) string {
	s = strings.TrimPrefix(s, `"`)
	s = strings.TrimSuffix(s, `"`)
	return s
}
