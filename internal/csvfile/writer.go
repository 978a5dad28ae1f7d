package csvfile

import (
	"fmt"
	"strings"
	"time"
)

// Header is the export column order. Parse's positional mapping reads the
// first four columns of the same layout.
var Header = []string{
	"Grade Level",
	"Student Pronouns",
	"Areas of Strength",
	"Areas for Growth",
	"Generated Comment",
}

// ExportRow is one serialized result line.
type ExportRow struct {
	GradeLevel string
	Pronouns   string
	Strength   string
	Weakness   string
	Comment    string
}

// Serialize renders rows as CSV text, header first. Fields containing a
// comma, double quote, or newline are wrapped in double quotes with
// internal quotes doubled; everything else is emitted as-is.
func Serialize(rows []ExportRow) string {
	lines := make([]string, 0, len(rows)+1)
	lines = append(lines, strings.Join(Header, ","))

	for _, row := range rows {
		fields := []string{
			EscapeField(row.GradeLevel),
			EscapeField(row.Pronouns),
			EscapeField(row.Strength),
			EscapeField(row.Weakness),
			EscapeField(row.Comment),
		}
		lines = append(lines, strings.Join(fields, ","))
	}

	return strings.Join(lines, "\n")
}

func EscapeField(value string) string {
	if value == "" {
		return ""
	}
	if strings.ContainsAny(value, ",\"\n") {
		return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
	}
	return value
}

// Filename builds the download name: kriterix_<context>_<timestamp>.csv
// with the timestamp's colons and dots flattened to dashes so it survives
// every filesystem.
func Filename(context string, t time.Time) string {
	return fmt.Sprintf("kriterix_%s_%s.csv", context, t.UTC().Format("2006-01-02T15-04-05"))
}
