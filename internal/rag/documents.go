package rag

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/askdb/askdb/internal/logging"
	"github.com/askdb/askdb/internal/schema"
	"github.com/askdb/askdb/internal/vectorstore"
)

// Document metadata keys and values shared between index build and
// retrieval.
const (
	metaType      = "type"
	metaTableName = "table_name"

	docTypeSchema     = "schema"
	docTypeTable      = "table_schema"
	docTypeStatistics = "table_statistics"
	docTypeSample     = "data_sample"
)

// maxSampleRowsInDoc bounds how many rows a data-sample document quotes.
const maxSampleRowsInDoc = 5

// buildDocuments turns the introspected schema plus data samples into
// the documents that get embedded. Sample failures skip that table's
// data documents without failing the build; the structural documents
// always make it in.
func buildDocuments(ctx context.Context, scanner *schema.Scanner, tables []schema.Table, sampleLimit int) []vectorstore.Document {
	documents := []vectorstore.Document{
		{
			ID:       "schema",
			Content:  schemaText(tables),
			Metadata: map[string]string{metaType: docTypeSchema},
		},
	}

	for _, table := range tables {
		documents = append(documents, vectorstore.Document{
			ID:      "table:" + table.Name,
			Content: tableDescription(table),
			Metadata: map[string]string{
				metaType:      docTypeTable,
				metaTableName: table.Name,
			},
		})

		rows, err := scanner.SampleTable(ctx, table.Name, sampleLimit)
		if err != nil {
			logging.WithError(err).Warnf("could not sample table %s for indexing", table.Name)

			continue
		}

		if len(rows) == 0 {
			continue
		}

		columns := columnOrder(table, rows[0])

		documents = append(documents, vectorstore.Document{
			ID:      "stats:" + table.Name,
			Content: tableStatistics(table.Name, columns, rows),
			Metadata: map[string]string{
				metaType:      docTypeStatistics,
				metaTableName: table.Name,
			},
		})

		documents = append(documents, vectorstore.Document{
			ID:      "sample:" + table.Name,
			Content: dataSample(table.Name, columns, rows),
			Metadata: map[string]string{
				metaType:      docTypeSample,
				metaTableName: table.Name,
			},
		})
	}

	return documents
}

// schemaText renders every table as human-readable text for the
// whole-schema document.
func schemaText(tables []schema.Table) string {
	var parts []string

	for _, table := range tables {
		parts = append(parts, "Table: "+table.Name)
		parts = append(parts, "Columns:")

		pks := make(map[string]bool, len(table.PrimaryKeys))
		for _, pk := range table.PrimaryKeys {
			pks[pk] = true
		}

		for _, col := range table.Columns {
			marker := ""
			if pks[col.Name] {
				marker = " (PK)"
			}

			nullable := "not null"
			if col.Nullable {
				nullable = "nullable"
			}

			parts = append(parts, fmt.Sprintf("  - %s (%s, %s)%s", col.Name, col.DataType, nullable, marker))
		}

		if len(table.PrimaryKeys) > 0 {
			parts = append(parts, "Primary Keys: "+strings.Join(table.PrimaryKeys, ", "))
		}

		if len(table.ForeignKeys) > 0 {
			parts = append(parts, "Foreign Keys:")

			for _, fk := range table.ForeignKeys {
				parts = append(parts, fmt.Sprintf("  - %s -> %s.%s", fk.Column, fk.ReferencedTable, fk.ReferencedColumn))
			}
		}

		parts = append(parts, "")
	}

	return strings.Join(parts, "\n")
}

// tableDescription renders one table in more detail for its dedicated
// document.
func tableDescription(table schema.Table) string {
	lines := []string{
		"Table: " + table.Name,
		"Purpose: Database table with the following structure:",
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
			marker = " (Primary Key)"
		}

		nullable := "not null"
		if col.Nullable {
			nullable = "nullable"
		}

		lines = append(lines, fmt.Sprintf("  - %s: %s (%s)%s", col.Name, col.DataType, nullable, marker))
	}

	if len(table.ForeignKeys) > 0 {
		lines = append(lines, "", "Relationships:")

		for _, fk := range table.ForeignKeys {
			lines = append(lines, fmt.Sprintf("  - %s references %s.%s", fk.Column, fk.ReferencedTable, fk.ReferencedColumn))
		}
	}

	if table.RowCount > 0 {
		lines = append(lines, "", fmt.Sprintf("Total rows: %d", table.RowCount))
	}

	return strings.Join(lines, "\n")
}

// tableStatistics summarizes the sampled rows per column: null counts,
// numeric ranges, and distinct values for low-cardinality text columns.
func tableStatistics(tableName string, columns []string, rows []map[string]interface{}) string {
	lines := []string{
		"Table Statistics: " + tableName,
		fmt.Sprintf("Total rows sampled: %d", len(rows)),
		"",
		"Column Statistics:",
	}

	for _, col := range columns {
		nulls := 0
		numbers := []float64{}
		distinct := map[string]struct{}{}

		for _, row := range rows {
			value := row[col]
			if value == nil {
				nulls++

				continue
			}

			if n, ok := toFloat(value); ok {
				numbers = append(numbers, n)
			} else {
				distinct[fmt.Sprintf("%v", value)] = struct{}{}
			}
		}

		lines = append(lines, fmt.Sprintf("  - %s:", col))
		lines = append(lines, fmt.Sprintf("    * Null values: %d", nulls))

		if len(numbers) > 0 {
			minVal, maxVal, sum := numbers[0], numbers[0], 0.0
			for _, n := range numbers {
				if n < minVal {
					minVal = n
				}

				if n > maxVal {
					maxVal = n
				}

				sum += n
			}

			lines = append(lines, fmt.Sprintf("    * Min: %g", minVal))
			lines = append(lines, fmt.Sprintf("    * Max: %g", maxVal))
			lines = append(lines, fmt.Sprintf("    * Mean: %.2f", sum/float64(len(numbers))))
		} else if len(distinct) > 0 {
			lines = append(lines, fmt.Sprintf("    * Unique values: %d", len(distinct)))

			if len(distinct) <= 10 {
				values := make([]string, 0, len(distinct))
				for v := range distinct {
					values = append(values, v)
				}

				sort.Strings(values)
				lines = append(lines, "    * Sample values: "+strings.Join(values, ", "))
			}
		}
	}

	return strings.Join(lines, "\n")
}

// dataSample quotes the first few sampled rows verbatim.
func dataSample(tableName string, columns []string, rows []map[string]interface{}) string {
	lines := []string{"Data Sample from " + tableName + ":", ""}

	count := len(rows)
	if count > maxSampleRowsInDoc {
		count = maxSampleRowsInDoc
	}

	for i := 0; i < count; i++ {
		lines = append(lines, fmt.Sprintf("Row %d:", i+1))

		for _, col := range columns {
			lines = append(lines, fmt.Sprintf("  - %s: %v", col, rows[i][col]))
		}

		lines = append(lines, "")
	}

	return strings.Join(lines, "\n")
}

// columnOrder prefers the introspected column order and falls back to
// sorted map keys for columns the schema does not list.
func columnOrder(table schema.Table, row map[string]interface{}) []string {
	var columns []string

	seen := make(map[string]bool, len(table.Columns))

	for _, col := range table.Columns {
		if _, ok := row[col.Name]; ok {
			columns = append(columns, col.Name)
			seen[col.Name] = true
		}
	}

	var extra []string

	for col := range row {
		if !seen[col] {
			extra = append(extra, col)
		}
	}

	sort.Strings(extra)

	return append(columns, extra...)
}

func toFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}
