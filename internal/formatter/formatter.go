// Package formatter renders query results, schema details, and provider
// listings for the terminal.
package formatter

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/askdb/askdb/internal/provider"
	"github.com/askdb/askdb/internal/rag"
	"github.com/askdb/askdb/internal/schema"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
)

// maxCellWidth truncates very wide cells so one long value does not
// destroy the table layout.
const maxCellWidth = 60

// Formatter handles result output formatting
type Formatter struct{}

// NewFormatter creates a new formatter instance
func NewFormatter() *Formatter {
	return &Formatter{}
}

// FormatQueryResult renders one query execution result.
func (f *Formatter) FormatQueryResult(result *rag.QueryExecutionResult, format OutputFormat) string {
	if format == FormatJSON {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Sprintf("failed to render result: %v", err)
		}

		return string(data)
	}

	var lines []string

	if result.Explanation != "" {
		lines = append(lines, result.Explanation, "")
	}

	lines = append(lines, "SQL: "+result.GeneratedSQL, "")
	lines = append(lines, f.renderTable(result.Columns, result.Rows))
	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("%s in %s via %s",
		pluralRows(result.RowCount), humanDuration(result.Elapsed), result.ProviderUsed))

	return strings.Join(lines, "\n")
}

// FormatTableDetail renders the introspected shape of one table.
func (f *Formatter) FormatTableDetail(table *schema.Table) string {
	lines := []string{
		"Table: " + table.Name,
		fmt.Sprintf("Rows: %d", table.RowCount),
		"",
		"Columns:",
	}

	pks := make(map[string]bool, len(table.PrimaryKeys))
	for _, pk := range table.PrimaryKeys {
		pks[pk] = true
	}

	for _, col := range table.Columns {
		marker := ""
		if pks[col.Name] {
			marker = "  PK"
		}

		nullable := "not null"
		if col.Nullable {
			nullable = "nullable"
		}

		lines = append(lines, fmt.Sprintf("  %-24s %-16s %s%s", col.Name, col.DataType, nullable, marker))
	}

	if len(table.ForeignKeys) > 0 {
		lines = append(lines, "", "Foreign Keys:")

		for _, fk := range table.ForeignKeys {
			lines = append(lines, fmt.Sprintf("  %s -> %s.%s", fk.Column, fk.ReferencedTable, fk.ReferencedColumn))
		}
	}

	return strings.Join(lines, "\n")
}

// FormatProviders renders the provider listing with availability and the
// active markers.
func (f *Formatter) FormatProviders(descriptors []provider.Descriptor) string {
	if len(descriptors) == 0 {
		return "No providers registered."
	}

	var lines []string

	for _, d := range descriptors {
		status := "unavailable"
		if d.Available {
			status = "available"
		}

		marker := " "
		if d.Active {
			marker = "*"
		}

		line := fmt.Sprintf("%s %-8s %-12s %s", marker, d.Name, d.Kind, status)
		if !d.Available && d.AvailableReason != "" {
			line += "  (" + d.AvailableReason + ")"
		}

		if model := d.Config["model"]; model != "" && d.Kind == provider.KindGeneration {
			line += "  model=" + model
		}

		if model := d.Config["embedding_model"]; model != "" && d.Kind == provider.KindEmbedding {
			line += "  model=" + model
		}

		lines = append(lines, line)
	}

	return strings.Join(lines, "\n")
}

// renderTable draws rows as an aligned text table in column order.
func (f *Formatter) renderTable(columns []string, rows []map[string]interface{}) string {
	if len(columns) == 0 {
		return "(no columns)"
	}

	widths := make([]int, len(columns))
	for i, col := range columns {
		widths[i] = len(col)
	}

	cells := make([][]string, len(rows))

	for r, row := range rows {
		cells[r] = make([]string, len(columns))

		for i, col := range columns {
			value := formatValue(row[col])
			cells[r][i] = value

			if len(value) > widths[i] {
				widths[i] = len(value)
			}
		}
	}

	var b strings.Builder

	writeRow := func(values []string) {
		for i, v := range values {
			if i > 0 {
				b.WriteString("  ")
			}

			b.WriteString(v)
			b.WriteString(strings.Repeat(" ", widths[i]-len(v)))
		}

		b.WriteString("\n")
	}

	writeRow(columns)

	separators := make([]string, len(columns))
	for i := range columns {
		separators[i] = strings.Repeat("-", widths[i])
	}

	writeRow(separators)

	for _, row := range cells {
		writeRow(row)
	}

	return strings.TrimRight(b.String(), "\n")
}

// formatValue renders one cell.
func formatValue(value interface{}) string {
	var s string

	switch v := value.(type) {
	case nil:
		s = "-"
	case []byte:
		s = string(v)
	case time.Time:
		s = v.Format(time.RFC3339)
	case float32, float64:
		s = fmt.Sprintf("%v", v)
	default:
		s = fmt.Sprintf("%v", v)
	}

	if len(s) > maxCellWidth {
		s = s[:maxCellWidth-3] + "..."
	}

	return s
}

func pluralRows(count int) string {
	if count == 1 {
		return "1 row"
	}

	return fmt.Sprintf("%d rows", count)
}

// humanDuration rounds the elapsed time to something readable.
func humanDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}

	return d.Round(10 * time.Millisecond).String()
}
