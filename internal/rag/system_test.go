package rag

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askdb/askdb/internal/config"
	"github.com/askdb/askdb/internal/errors"
	"github.com/askdb/askdb/internal/provider"
	"github.com/askdb/askdb/internal/schema"
	"github.com/askdb/askdb/internal/vectorstore"
)

// stubClient serves both provider kinds with canned answers.
type stubClient struct {
	name          string
	generateText  string
	generateErr   error
	embedCalls    int
	generateCalls int
}

func (c *stubClient) Name() string { return c.name }

func (c *stubClient) Probe(_ context.Context) error { return nil }

func (c *stubClient) Generate(_ context.Context, _ string) (string, error) {
	c.generateCalls++
	if c.generateErr != nil {
		return "", c.generateErr
	}

	return c.generateText, nil
}

func (c *stubClient) Embed(_ context.Context, texts []string) ([][]float32, error) {
	c.embedCalls++

	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = make([]float32, 8)
		vectors[i][i%8] = 1
	}

	return vectors, nil
}

func testConfig(storePath string) *config.Config {
	return &config.Config{
		RAG: config.RAGConfig{
			StorePath:        storePath,
			SimilarityTopK:   2,
			TableSampleLimit: 5,
		},
	}
}

func expectCustomersIntrospection(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("information_schema.tables").WillReturnRows(
		sqlmock.NewRows([]string{"table_name"}).AddRow("customers"))

	mock.ExpectQuery("information_schema.columns").WillReturnRows(
		sqlmock.NewRows([]string{"column_name", "data_type", "is_nullable"}).
			AddRow("id", "INTEGER", "NO").
			AddRow("name", "VARCHAR", "NO").
			AddRow("total_revenue", "DOUBLE", "YES"))

	mock.ExpectQuery("table_constraints").WillReturnRows(
		sqlmock.NewRows([]string{"column_name"}).AddRow("id"))

	mock.ExpectQuery("duckdb_constraints").WillReturnRows(
		sqlmock.NewRows([]string{"column_name", "referenced_table", "referenced_column"}))

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM "customers"`).WillReturnRows(
		sqlmock.NewRows([]string{"count"}).AddRow(42))

	mock.ExpectQuery(`SELECT \* FROM "customers" LIMIT`).WithArgs(5).WillReturnRows(
		sqlmock.NewRows([]string{"id", "name", "total_revenue"}).
			AddRow(1, "Acme", 1200.50).
			AddRow(2, "Globex", 890.00))
}

func newTestSystem(t *testing.T, gen *stubClient) (*System, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	registry := provider.NewRegistry()
	require.NoError(t, registry.RegisterGeneration(gen, nil))
	require.NoError(t, registry.RegisterEmbedding(gen, nil))
	registry.ProbeAll(context.Background())
	require.NoError(t, registry.SetActive(provider.KindGeneration, gen.name))
	require.NoError(t, registry.SetActive(provider.KindEmbedding, gen.name))

	manager := provider.NewManager(registry, []string{gen.name}, 5*time.Second)
	scanner := schema.NewScannerWithDB(db, 5*time.Second)
	storePath := filepath.Join(t.TempDir(), "index")
	store := vectorstore.NewStore(storePath)

	return NewSystem(manager, store, scanner, testConfig(storePath)), mock
}

const topCustomersResponse = `{
	"sql": "SELECT name, total_revenue FROM customers ORDER BY total_revenue DESC LIMIT 3",
	"explanation": "Ranks customers by revenue and keeps the top three.",
	"tables": ["customers"]
}`

func TestSystem_InitializeAndAsk(t *testing.T) {
	gen := &stubClient{name: "openai", generateText: topCustomersResponse}
	system, mock := newTestSystem(t, gen)
	ctx := context.Background()

	expectCustomersIntrospection(mock)

	result, err := system.Initialize(ctx, false)
	require.NoError(t, err)
	assert.True(t, result.Rebuilt)
	assert.Equal(t, 1, result.TablesIndexed)

	mock.ExpectQuery("SELECT name, total_revenue FROM customers").WillReturnRows(
		sqlmock.NewRows([]string{"name", "total_revenue"}).
			AddRow("Acme", 1200.50).
			AddRow("Globex", 890.00).
			AddRow("Initech", 640.25))

	answer, err := system.Ask(ctx, "Who are our top 3 customers by revenue?", "")
	require.NoError(t, err)

	assert.Equal(t, 3, answer.RowCount)
	assert.Len(t, answer.Rows, 3)
	assert.Contains(t, answer.GeneratedSQL, "ORDER BY")
	assert.Contains(t, answer.GeneratedSQL, "LIMIT 3")
	assert.Equal(t, "openai", answer.ProviderUsed)
	assert.NotEmpty(t, answer.ID)
	assert.NotEmpty(t, answer.Explanation)
	assert.Equal(t, []string{"name", "total_revenue"}, answer.Columns)
	assert.Equal(t, "Acme", answer.Rows[0]["name"])

	// Question embedding and index build are each a single call.
	assert.Equal(t, 2, gen.embedCalls)
	assert.Equal(t, 1, gen.generateCalls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSystem_InitializeLoadsPersistedIndex(t *testing.T) {
	gen := &stubClient{name: "openai", generateText: topCustomersResponse}
	system, mock := newTestSystem(t, gen)
	ctx := context.Background()

	expectCustomersIntrospection(mock)

	first, err := system.Initialize(ctx, false)
	require.NoError(t, err)
	require.True(t, first.Rebuilt)

	// A second system over the same store loads without re-embedding.
	gen2 := &stubClient{name: "openai", generateText: topCustomersResponse}
	db, _, err := sqlmock.New()
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	registry := provider.NewRegistry()
	require.NoError(t, registry.RegisterGeneration(gen2, nil))
	require.NoError(t, registry.RegisterEmbedding(gen2, nil))
	registry.ProbeAll(ctx)

	manager := provider.NewManager(registry, []string{"openai"}, 5*time.Second)
	scanner := schema.NewScannerWithDB(db, 5*time.Second)
	store := vectorstore.NewStore(system.store.Dir())
	reloaded := NewSystem(manager, store, scanner, testConfig(store.Dir()))

	second, err := reloaded.Initialize(ctx, false)
	require.NoError(t, err)
	assert.False(t, second.Rebuilt)
	assert.Equal(t, 1, second.TablesIndexed)
	assert.Equal(t, 0, gen2.embedCalls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSystem_AskRejectsUnknownTableFromModel(t *testing.T) {
	gen := &stubClient{
		name:         "openai",
		generateText: `{"sql": "SELECT * FROM payments", "explanation": "x", "tables": ["payments"]}`,
	}
	system, mock := newTestSystem(t, gen)
	ctx := context.Background()

	expectCustomersIntrospection(mock)

	_, err := system.Initialize(ctx, false)
	require.NoError(t, err)

	_, err = system.Ask(ctx, "show payments", "")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeInvalidTable))

	// The invalid query never reaches the database.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSystem_AskValidatesTablesNamedInSQL(t *testing.T) {
	// The declared table list is clean but the statement joins a table
	// the model left off the list.
	gen := &stubClient{
		name:         "openai",
		generateText: `{"sql": "SELECT * FROM customers JOIN payments ON customers.id = payments.customer_id", "explanation": "x", "tables": ["customers"]}`,
	}
	system, mock := newTestSystem(t, gen)
	ctx := context.Background()

	expectCustomersIntrospection(mock)

	_, err := system.Initialize(ctx, false)
	require.NoError(t, err)

	_, err = system.Ask(ctx, "join customers with payments", "")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeInvalidTable))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReferencedTables(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want []string
	}{
		{
			name: "single table",
			sql:  "SELECT * FROM customers",
			want: []string{"customers"},
		},
		{
			name: "join",
			sql:  "SELECT * FROM customers c JOIN orders o ON c.id = o.customer_id",
			want: []string{"customers", "orders"},
		},
		{
			name: "quoted identifier",
			sql:  `SELECT * FROM "orders" LIMIT 5`,
			want: []string{"orders"},
		},
		{
			name: "subquery is skipped but its FROM is scanned",
			sql:  "SELECT * FROM (SELECT id FROM orders) t",
			want: []string{"orders"},
		},
		{
			name: "table function is skipped",
			sql:  "SELECT * FROM range(10)",
			want: nil,
		},
		{
			name: "duplicates collapse",
			sql:  "SELECT * FROM orders UNION ALL SELECT * FROM orders",
			want: []string{"orders"},
		},
		{
			name: "trailing FROM",
			sql:  "SELECT * FROM",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, referencedTables(tt.sql))
		})
	}
}

func TestSystem_AskRejectsNonSelect(t *testing.T) {
	gen := &stubClient{
		name:         "openai",
		generateText: `{"sql": "DROP TABLE customers", "explanation": "x", "tables": ["customers"]}`,
	}
	system, mock := newTestSystem(t, gen)
	ctx := context.Background()

	expectCustomersIntrospection(mock)

	_, err := system.Initialize(ctx, false)
	require.NoError(t, err)

	_, err = system.Ask(ctx, "drop everything", "")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSystem_SwitchProviderByKind(t *testing.T) {
	gen := &stubClient{name: "openai"}
	other := &stubClient{name: "ollama"}

	db, _, err := sqlmock.New()
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	registry := provider.NewRegistry()
	require.NoError(t, registry.RegisterGeneration(gen, nil))
	require.NoError(t, registry.RegisterEmbedding(gen, nil))
	require.NoError(t, registry.RegisterGeneration(other, nil))
	require.NoError(t, registry.RegisterEmbedding(other, nil))
	registry.ProbeAll(context.Background())
	require.NoError(t, registry.SetActive(provider.KindGeneration, "openai"))
	require.NoError(t, registry.SetActive(provider.KindEmbedding, "openai"))

	manager := provider.NewManager(registry, []string{"openai", "ollama"}, 5*time.Second)
	scanner := schema.NewScannerWithDB(db, 5*time.Second)
	storePath := filepath.Join(t.TempDir(), "index")
	system := NewSystem(manager, vectorstore.NewStore(storePath), scanner, testConfig(storePath))

	// Switching one kind leaves the other kind's active backend alone.
	require.NoError(t, system.SwitchProvider("ollama", "generation"))

	active, ok := registry.Active(provider.KindGeneration)
	require.True(t, ok)
	assert.Equal(t, "ollama", active)

	active, ok = registry.Active(provider.KindEmbedding)
	require.True(t, ok)
	assert.Equal(t, "openai", active)

	err = system.SwitchProvider("openai", "translation")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))

	// An empty kind switches every kind the backend serves.
	require.NoError(t, system.SwitchProvider("openai", ""))

	for _, kind := range []provider.Kind{provider.KindGeneration, provider.KindEmbedding} {
		active, ok = registry.Active(kind)
		require.True(t, ok)
		assert.Equal(t, "openai", active)
	}
}

func TestSystem_AskRequiresInitialization(t *testing.T) {
	gen := &stubClient{name: "openai", generateText: topCustomersResponse}
	system, _ := newTestSystem(t, gen)

	_, err := system.Ask(context.Background(), "anything", "")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeInternal))
}

func TestSystem_AskRejectsEmptyQuestion(t *testing.T) {
	gen := &stubClient{name: "openai"}
	system, _ := newTestSystem(t, gen)

	_, err := system.Ask(context.Background(), "   ", "")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}

func TestParseGenerationResponse(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantSQL string
		wantErr bool
	}{
		{
			name:    "plain JSON",
			raw:     `{"sql": "SELECT 1", "explanation": "one", "tables": []}`,
			wantSQL: "SELECT 1",
		},
		{
			name:    "fenced JSON",
			raw:     "```json\n{\"sql\": \"SELECT 2\", \"explanation\": \"two\"}\n```",
			wantSQL: "SELECT 2",
		},
		{
			name:    "bare fence",
			raw:     "```\n{\"sql\": \"SELECT 3\"}\n```",
			wantSQL: "SELECT 3",
		},
		{
			name:    "not JSON",
			raw:     "here is your query: SELECT 1",
			wantErr: true,
		},
		{
			name:    "missing sql",
			raw:     `{"explanation": "no query"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			response, err := parseGenerationResponse(tt.raw)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, response.SQL)
		})
	}
}

func TestSchemaText(t *testing.T) {
	tables := []schema.Table{
		{
			Name: "orders",
			Columns: []schema.Column{
				{Name: "id", DataType: "INTEGER"},
				{Name: "customer_id", DataType: "INTEGER"},
				{Name: "note", DataType: "VARCHAR", Nullable: true},
			},
			PrimaryKeys: []string{"id"},
			ForeignKeys: []schema.ForeignKey{
				{Column: "customer_id", ReferencedTable: "customers", ReferencedColumn: "id"},
			},
		},
	}

	text := schemaText(tables)
	assert.Contains(t, text, "Table: orders")
	assert.Contains(t, text, "- id (INTEGER, not null) (PK)")
	assert.Contains(t, text, "- note (VARCHAR, nullable)")
	assert.Contains(t, text, "Primary Keys: id")
	assert.Contains(t, text, "customer_id -> customers.id")
}

func TestTableStatistics(t *testing.T) {
	rows := []map[string]interface{}{
		{"id": int64(1), "status": "open", "total": 10.5},
		{"id": int64(2), "status": "closed", "total": 4.5},
		{"id": int64(3), "status": nil, "total": 3.0},
	}

	text := tableStatistics("orders", []string{"id", "status", "total"}, rows)
	assert.Contains(t, text, "Table Statistics: orders")
	assert.Contains(t, text, "Total rows sampled: 3")
	assert.Contains(t, text, "Min: 1")
	assert.Contains(t, text, "Max: 3")
	assert.Contains(t, text, "Unique values: 2")
	assert.Contains(t, text, "Null values: 1")
}
