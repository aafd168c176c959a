package formatter

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/askdb/askdb/internal/provider"
	"github.com/askdb/askdb/internal/rag"
	"github.com/askdb/askdb/internal/schema"
)

func sampleResult() *rag.QueryExecutionResult {
	return &rag.QueryExecutionResult{
		ID:           "1b6453892473a467d07372d45eb05abc2031647a",
		Question:     "Who are our top customers?",
		GeneratedSQL: "SELECT name, total FROM customers ORDER BY total DESC LIMIT 2",
		Explanation:  "Ranks customers by revenue.",
		Columns:      []string{"name", "total"},
		Rows: []map[string]interface{}{
			{"name": "Acme", "total": 1200.5},
			{"name": "Globex", "total": 890.0},
		},
		RowCount:     2,
		Elapsed:      1250 * time.Millisecond,
		ProviderUsed: "openai",
	}
}

func TestFormatQueryResult_Table(t *testing.T) {
	f := NewFormatter()
	out := f.FormatQueryResult(sampleResult(), FormatTable)

	for _, want := range []string{
		"Ranks customers by revenue.",
		"SELECT name, total FROM customers",
		"name",
		"total",
		"Acme",
		"Globex",
		"2 rows in 1.25s via openai",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	// Header appears before the data rows.
	if strings.Index(out, "name") > strings.Index(out, "Acme") {
		t.Error("header should precede data rows")
	}
}

func TestFormatQueryResult_JSON(t *testing.T) {
	f := NewFormatter()
	out := f.FormatQueryResult(sampleResult(), FormatJSON)

	var decoded rag.QueryExecutionResult
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}

	if decoded.RowCount != 2 {
		t.Errorf("expected row count 2, got %d", decoded.RowCount)
	}
}

func TestFormatQueryResult_SingleRow(t *testing.T) {
	f := NewFormatter()
	result := sampleResult()
	result.Rows = result.Rows[:1]
	result.RowCount = 1

	out := f.FormatQueryResult(result, FormatTable)
	if !strings.Contains(out, "1 row in") {
		t.Errorf("expected singular row phrasing:\n%s", out)
	}
}

func TestFormatTableDetail(t *testing.T) {
	f := NewFormatter()
	table := &schema.Table{
		Name:     "orders",
		RowCount: 42,
		Columns: []schema.Column{
			{Name: "id", DataType: "INTEGER"},
			{Name: "customer_id", DataType: "INTEGER"},
		},
		PrimaryKeys: []string{"id"},
		ForeignKeys: []schema.ForeignKey{
			{Column: "customer_id", ReferencedTable: "customers", ReferencedColumn: "id"},
		},
	}

	out := f.FormatTableDetail(table)

	for _, want := range []string{"Table: orders", "Rows: 42", "PK", "customer_id -> customers.id"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestFormatProviders(t *testing.T) {
	f := NewFormatter()

	out := f.FormatProviders([]provider.Descriptor{
		{Name: "openai", Kind: provider.KindGeneration, Available: true, Active: true, Config: map[string]string{"model": "gpt-4o-mini"}},
		{Name: "ollama", Kind: provider.KindGeneration, Available: false, AvailableReason: "connection refused"},
	})

	for _, want := range []string{"* openai", "available", "connection refused", "model=gpt-4o-mini"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	if f.FormatProviders(nil) != "No providers registered." {
		t.Error("expected empty-list message")
	}
}

func TestFormatValueTruncation(t *testing.T) {
	long := strings.Repeat("x", 200)

	got := formatValue(long)
	if len(got) != maxCellWidth {
		t.Errorf("expected truncation to %d chars, got %d", maxCellWidth, len(got))
	}

	if !strings.HasSuffix(got, "...") {
		t.Errorf("expected ellipsis suffix, got %q", got)
	}

	if formatValue(nil) != "-" {
		t.Error("nil should render as -")
	}
}
