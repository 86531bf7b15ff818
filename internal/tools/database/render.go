package database

import (
	"fmt"
	"strings"

	"github.com/ChamsBouzaiene/rowboat/internal/dbconn"
)

const (
	// displayRowCap bounds the markdown table shown to the user.
	displayRowCap = 20
	// llmRowCap bounds the sample folded back into history.
	llmRowCap = 10
)

func cellString(v any) string {
	if v == nil {
		return "NULL"
	}
	return fmt.Sprintf("%v", v)
}

// markdownTable renders a result set as a markdown table, capped at
// maxRows with a truncation note.
func markdownTable(res *dbconn.QueryResult, maxRows int) string {
	if len(res.Columns) == 0 {
		return "(no columns)"
	}

	var b strings.Builder
	b.WriteString("| " + strings.Join(res.Columns, " | ") + " |\n")
	b.WriteString("|" + strings.Repeat(" --- |", len(res.Columns)) + "\n")

	shown := len(res.Rows)
	if maxRows > 0 && shown > maxRows {
		shown = maxRows
	}
	for _, row := range res.Rows[:shown] {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = strings.ReplaceAll(cellString(v), "|", "\\|")
		}
		b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
	if shown < len(res.Rows) {
		fmt.Fprintf(&b, "\n_%d of %d rows shown_\n", shown, len(res.Rows))
	}
	return b.String()
}

// llmSample renders a compact plain-text sample of the result for the
// model: column list plus up to maxRows rows.
func llmSample(res *dbconn.QueryResult, maxRows int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d row(s), columns: %s\n", len(res.Rows), strings.Join(res.Columns, ", "))

	shown := len(res.Rows)
	if maxRows > 0 && shown > maxRows {
		shown = maxRows
	}
	for _, row := range res.Rows[:shown] {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = cellString(v)
		}
		b.WriteString(strings.Join(cells, " | ") + "\n")
	}
	if shown < len(res.Rows) {
		fmt.Fprintf(&b, "... %d more rows omitted\n", len(res.Rows)-shown)
	}
	return b.String()
}
