// Package schema introspects the target database and guards every
// table-level access behind an allowlist of known table names. Generated
// SQL never interpolates a table name that has not passed validation.
package schema

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/askdb/askdb/internal/config"
	"github.com/askdb/askdb/internal/errors"
	"github.com/askdb/askdb/internal/logging"
)

// Column describes one column of a table.
type Column struct {
	Name     string `json:"name"`
	DataType string `json:"data_type"`
	Nullable bool   `json:"nullable"`
}

// ForeignKey describes one outgoing reference.
type ForeignKey struct {
	Column           string `json:"column"`
	ReferencedTable  string `json:"referenced_table"`
	ReferencedColumn string `json:"referenced_column"`
}

// Table is the introspected shape of one table.
type Table struct {
	Name        string       `json:"name"`
	Columns     []Column     `json:"columns"`
	PrimaryKeys []string     `json:"primary_keys"`
	ForeignKeys []ForeignKey `json:"foreign_keys"`
	RowCount    int64        `json:"row_count"`
}

// Scanner introspects the database and caches the table-name allowlist.
// The cache is lazy: the first call that needs table names populates it,
// and concurrent first calls race harmlessly because the populate is an
// idempotent overwrite of identical data.
type Scanner struct {
	db           *sql.DB
	path         string
	queryTimeout time.Duration

	mu         sync.RWMutex
	tableNames []string
	tableSet   map[string]struct{}
}

const maxSampleLimit = 10000

// identifierPattern matches plain SQL identifiers. Anything else is
// rejected before the allowlist is even consulted.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// injectionTokens are rejected outright so a hostile name fails fast
// with a clear reason even when it would also fail the identifier check.
var injectionTokens = []string{";", "--", "/*", "*/", "'", `"`}

// NewScanner opens a DuckDB connection pool for the configured database.
func NewScanner(cfg config.DatabaseConfig, queryTimeout time.Duration) (*Scanner, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeDatabase, "failed to create database directory")
	}

	db, err := sql.Open("duckdb", cfg.Path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeDatabase, "failed to open database")
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConns)

	if lifetime, err := time.ParseDuration(cfg.ConnMaxLifetime); err == nil {
		db.SetConnMaxLifetime(lifetime)
	}

	if err := db.Ping(); err != nil {
		db.Close()

		return nil, errors.Wrap(err, errors.ErrTypeDatabase, "failed to ping database").
			WithSuggestion("Check that the database path is accessible and not locked")
	}

	return &Scanner{
		db:           db,
		path:         cfg.Path,
		queryTimeout: queryTimeout,
	}, nil
}

// NewScannerWithDB wraps an existing pool. Used by tests and callers
// that manage the connection themselves.
func NewScannerWithDB(db *sql.DB, queryTimeout time.Duration) *Scanner {
	return &Scanner{db: db, queryTimeout: queryTimeout}
}

// TableNames returns the cached table-name allowlist, introspecting on
// first use. An introspection failure leaves the cache empty so the next
// call retries.
func (s *Scanner) TableNames(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	cached := s.tableNames
	s.mu.RUnlock()

	if cached != nil {
		return cached, nil
	}

	names, err := s.introspectTableNames(ctx)
	if err != nil {
		return nil, err
	}

	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}

	s.mu.Lock()
	s.tableNames = names
	s.tableSet = set
	s.mu.Unlock()

	logging.WithField("tables", len(names)).Debug("populated table name cache")

	return names, nil
}

func (s *Scanner) introspectTableNames(ctx context.Context) ([]string, error) {
	queryCtx, cancel := s.queryContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(queryCtx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = 'main' AND table_type = 'BASE TABLE'
		ORDER BY table_name`)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeSchemaAccess, "failed to introspect table names")
	}
	defer rows.Close()

	names := []string{}

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, errors.ErrTypeSchemaAccess, "failed to scan table name")
		}

		names = append(names, name)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeSchemaAccess, "failed to read table names")
	}

	return names, nil
}

// ValidateTableName checks a name against injection patterns and the
// cached allowlist, returning the name unchanged when it passes.
func (s *Scanner) ValidateTableName(ctx context.Context, name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", errors.New(errors.ErrTypeValidation, "table name must be a non-empty string")
	}

	for _, token := range injectionTokens {
		if strings.Contains(trimmed, token) {
			return "", errors.Newf(
				errors.ErrTypeValidation,
				"table name contains forbidden sequence %q", token,
			)
		}
	}

	if !identifierPattern.MatchString(trimmed) {
		return "", errors.Newf(errors.ErrTypeValidation, "table name is not a valid identifier: %q", trimmed)
	}

	if _, err := s.TableNames(ctx); err != nil {
		return "", err
	}

	s.mu.RLock()
	_, known := s.tableSet[trimmed]
	s.mu.RUnlock()

	if !known {
		return "", errors.Newf(errors.ErrTypeInvalidTable, "unknown table: %s", trimmed).
			WithSuggestion("Run the tables command to list available tables")
	}

	return trimmed, nil
}

// SampleTable returns up to limit rows from a validated table. The table
// name is quoted as an identifier and the limit travels as a bound
// parameter.
func (s *Scanner) SampleTable(ctx context.Context, name string, limit int) ([]map[string]interface{}, error) {
	validated, err := s.ValidateTableName(ctx, name)
	if err != nil {
		return nil, err
	}

	if limit < 1 || limit > maxSampleLimit {
		return nil, errors.Newf(
			errors.ErrTypeValidation,
			"sample limit must be between 1 and %d: %d", maxSampleLimit, limit,
		)
	}

	query := fmt.Sprintf("SELECT * FROM %s LIMIT ?", quoteIdentifier(validated))

	rows, _, err := s.query(ctx, query, limit)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrTypeDatabase, "failed to sample table %s", validated)
	}

	return rows, nil
}

// DescribeTable returns the full introspected shape of a validated
// table.
func (s *Scanner) DescribeTable(ctx context.Context, name string) (*Table, error) {
	validated, err := s.ValidateTableName(ctx, name)
	if err != nil {
		return nil, err
	}

	table := &Table{Name: validated}

	if table.Columns, err = s.tableColumns(ctx, validated); err != nil {
		return nil, err
	}

	if table.PrimaryKeys, err = s.primaryKeys(ctx, validated); err != nil {
		return nil, err
	}

	if table.ForeignKeys, err = s.foreignKeys(ctx, validated); err != nil {
		return nil, err
	}

	if table.RowCount, err = s.rowCount(ctx, validated); err != nil {
		return nil, err
	}

	return table, nil
}

func (s *Scanner) tableColumns(ctx context.Context, name string) ([]Column, error) {
	queryCtx, cancel := s.queryContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(queryCtx, `
		SELECT column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_name = ?
		ORDER BY ordinal_position`, name)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrTypeSchemaAccess, "failed to introspect columns of %s", name)
	}
	defer rows.Close()

	var columns []Column

	for rows.Next() {
		var col Column

		var nullable string

		if err := rows.Scan(&col.Name, &col.DataType, &nullable); err != nil {
			return nil, errors.Wrap(err, errors.ErrTypeSchemaAccess, "failed to scan column")
		}

		col.Nullable = strings.EqualFold(nullable, "YES")
		columns = append(columns, col)
	}

	return columns, rows.Err()
}

func (s *Scanner) primaryKeys(ctx context.Context, name string) ([]string, error) {
	queryCtx, cancel := s.queryContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(queryCtx, `
		SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
		WHERE tc.table_name = ? AND tc.constraint_type = 'PRIMARY KEY'
		ORDER BY kcu.ordinal_position`, name)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrTypeSchemaAccess, "failed to introspect primary keys of %s", name)
	}
	defer rows.Close()

	var keys []string

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, errors.Wrap(err, errors.ErrTypeSchemaAccess, "failed to scan primary key")
		}

		keys = append(keys, key)
	}

	return keys, rows.Err()
}

func (s *Scanner) foreignKeys(ctx context.Context, name string) ([]ForeignKey, error) {
	queryCtx, cancel := s.queryContext(ctx)
	defer cancel()

	// duckdb_constraints exposes referenced tables directly, which the
	// information_schema views do not.
	rows, err := s.db.QueryContext(queryCtx, `
		SELECT
			unnest(constraint_column_names) AS column_name,
			COALESCE(referenced_table, '') AS referenced_table,
			COALESCE(unnest(referenced_column_names), '') AS referenced_column
		FROM duckdb_constraints()
		WHERE table_name = ? AND constraint_type = 'FOREIGN KEY'`, name)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrTypeSchemaAccess, "failed to introspect foreign keys of %s", name)
	}
	defer rows.Close()

	var keys []ForeignKey

	for rows.Next() {
		var fk ForeignKey
		if err := rows.Scan(&fk.Column, &fk.ReferencedTable, &fk.ReferencedColumn); err != nil {
			return nil, errors.Wrap(err, errors.ErrTypeSchemaAccess, "failed to scan foreign key")
		}

		keys = append(keys, fk)
	}

	return keys, rows.Err()
}

func (s *Scanner) rowCount(ctx context.Context, name string) (int64, error) {
	queryCtx, cancel := s.queryContext(ctx)
	defer cancel()

	var count int64

	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteIdentifier(name))
	if err := s.db.QueryRowContext(queryCtx, query).Scan(&count); err != nil {
		return 0, errors.Wrapf(err, errors.ErrTypeSchemaAccess, "failed to count rows of %s", name)
	}

	return count, nil
}

// ScanSchema introspects every table for document building.
func (s *Scanner) ScanSchema(ctx context.Context) ([]Table, error) {
	names, err := s.TableNames(ctx)
	if err != nil {
		return nil, err
	}

	tables := make([]Table, 0, len(names))

	for _, name := range names {
		table, err := s.DescribeTable(ctx, name)
		if err != nil {
			return nil, err
		}

		tables = append(tables, *table)
	}

	return tables, nil
}

// ExecuteQuery runs an already-validated read query and returns its rows
// generically, preserving column order.
func (s *Scanner) ExecuteQuery(ctx context.Context, sqlQuery string) ([]map[string]interface{}, []string, error) {
	if err := EnsureReadOnly(sqlQuery); err != nil {
		return nil, nil, err
	}

	return s.query(ctx, sqlQuery)
}

func (s *Scanner) query(ctx context.Context, sqlQuery string, args ...interface{}) ([]map[string]interface{}, []string, error) {
	queryCtx, cancel := s.queryContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(queryCtx, sqlQuery, args...)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrTypeDatabase, "failed to execute query")
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrTypeDatabase, "failed to get columns")
	}

	var results []map[string]interface{}

	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))

		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, nil, errors.Wrap(err, errors.ErrTypeDatabase, "failed to scan row")
		}

		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}

		results = append(results, row)
	}

	if err := rows.Err(); err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrTypeDatabase, "failed to read rows")
	}

	return results, columns, nil
}

// Refresh drops the cached allowlist so the next access re-introspects.
func (s *Scanner) Refresh() {
	s.mu.Lock()
	s.tableNames = nil
	s.tableSet = nil
	s.mu.Unlock()
}

// Close disposes the pool and clears the cache.
func (s *Scanner) Close() error {
	s.Refresh()

	if s.db == nil {
		return nil
	}

	return s.db.Close()
}

func (s *Scanner) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, s.queryTimeout)
}

// quoteIdentifier wraps a name in double quotes, doubling any embedded
// quote character.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// EnsureReadOnly rejects statements that are not plain SELECT or WITH
// queries.
func EnsureReadOnly(sqlQuery string) error {
	trimmed := strings.TrimSpace(sqlQuery)
	if trimmed == "" {
		return errors.New(errors.ErrTypeValidation, "query cannot be empty")
	}

	upper := strings.ToUpper(trimmed)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return errors.New(errors.ErrTypeValidation, "only SELECT queries are allowed").
			WithSuggestion("Rephrase the question so it reads data instead of modifying it")
	}

	return nil
}
