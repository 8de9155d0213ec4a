package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/pavelanni/hiretest/internal/model"
)

// Sheet names in the XLSX workbook.
const (
	ResponsesSheet = "Responses"
	QuestionsSheet = "Questions"
)

var responseHeader = []any{"Student Name", "Email", "Submitted At", "Time Taken (min)", "Late", "Evaluated", "Score", "Total Marks", "Percentage", "Overall Feedback"}

var questionHeader = []any{"Question", "Section", "Type", "Avg Score", "Max Score", "Percentage", "Correct Count", "Correct %", "Difficulty"}

func responseRows(t model.TestDefinition, subs []model.Submission) [][]any {
	total := t.TotalMarks()
	rows := make([][]any, 0, len(subs))
	for _, s := range subs {
		var taken any = ""
		if d, ok := s.TimeTaken(); ok {
			taken = round(d.Minutes())
		}
		rows = append(rows, []any{
			s.StudentName,
			s.StudentEmail,
			s.SubmittedAt.UTC().Format(time.RFC3339),
			taken,
			s.Late,
			s.Evaluated,
			s.TotalScore,
			total,
			percent(s.TotalScore, total),
			s.OverallFeedback,
		})
	}
	return rows
}

func questionRows(a Analytics) [][]any {
	rows := make([][]any, 0, len(a.Questions))
	for _, q := range a.Questions {
		rows = append(rows, []any{
			fmt.Sprintf("Q%d", q.Number),
			q.Section,
			string(q.Kind),
			q.AvgScore,
			q.MaxScore,
			q.Percentage,
			q.CorrectCount,
			q.CorrectPercent,
			q.Difficulty,
		})
	}
	return rows
}

// WriteResponsesCSV writes one row per submission.
func WriteResponsesCSV(w io.Writer, t model.TestDefinition, subs []model.Submission) error {
	return writeCSV(w, responseHeader, responseRows(t, subs))
}

// WriteQuestionsCSV writes the per-question analysis.
func WriteQuestionsCSV(w io.Writer, a Analytics) error {
	return writeCSV(w, questionHeader, questionRows(a))
}

func writeCSV(w io.Writer, header []any, rows [][]any) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(cells(header)); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range rows {
		if err := cw.Write(cells(r)); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func cells(row []any) []string {
	out := make([]string, len(row))
	for i, v := range row {
		switch v := v.(type) {
		case string:
			out[i] = escapeFormula(v)
		case float64:
			out[i] = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			out[i] = strconv.FormatBool(v)
		default:
			out[i] = fmt.Sprint(v)
		}
	}
	return out
}

// escapeFormula prefixes text that a spreadsheet would read as a formula
// with a single quote.
func escapeFormula(s string) string {
	if s != "" && strings.ContainsRune("=+-@\t\r", rune(s[0])) {
		return "'" + s
	}
	return s
}

// WriteXLSX writes a workbook with a responses sheet and a question
// analysis sheet.
func WriteXLSX(w io.Writer, t model.TestDefinition, subs []model.Submission) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", ResponsesSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(QuestionsSheet); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create style: %w", err)
	}

	if err := writeSheet(f, ResponsesSheet, bold, responseHeader, responseRows(t, subs)); err != nil {
		return err
	}
	if err := writeSheet(f, QuestionsSheet, bold, questionHeader, questionRows(Compute(t, subs))); err != nil {
		return err
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}

func writeSheet(f *excelize.File, sheet string, headerStyle int, header []any, rows [][]any) error {
	all := append([][]any{header}, rows...)
	for i, r := range all {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		vals := make([]any, len(r))
		for j, v := range r {
			if str, ok := v.(string); ok {
				v = escapeFormula(str)
			}
			vals[j] = v
		}
		if err := f.SetSheetRow(sheet, cell, &vals); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	if err := f.SetRowStyle(sheet, 1, 1, headerStyle); err != nil {
		return fmt.Errorf("style %s header: %w", sheet, err)
	}
	last, err := excelize.ColumnNumberToName(len(header))
	if err != nil {
		return err
	}
	return f.SetColWidth(sheet, "A", last, 18)
}
