// Package rag wires the provider manager, vector store, and schema
// scanner into the question-to-result pipeline.
package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/askdb/askdb/internal/config"
	"github.com/askdb/askdb/internal/errors"
	"github.com/askdb/askdb/internal/logging"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/provider"
	"github.com/askdb/askdb/internal/schema"
	"github.com/askdb/askdb/internal/vectorstore"
)

// QueryExecutionResult is the complete outcome of one question. A call
// either produces all of it or a typed error, never a partial result.
type QueryExecutionResult struct {
	ID           string                   `json:"id"`
	Question     string                   `json:"question"`
	GeneratedSQL string                   `json:"generated_sql"`
	Explanation  string                   `json:"explanation"`
	Columns      []string                 `json:"columns"`
	Rows         []map[string]interface{} `json:"rows"`
	RowCount     int                      `json:"row_count"`
	Elapsed      time.Duration            `json:"elapsed"`
	ProviderUsed string                   `json:"provider_used"`
}

// InitResult reports what Initialize did.
type InitResult struct {
	TablesIndexed int
	Rebuilt       bool
}

// System is the orchestrator. Each Ask is strictly sequential internally;
// concurrent Asks are safe because the index is replaced atomically under
// the mutex and never mutated in place.
type System struct {
	manager *provider.Manager
	store   *vectorstore.Store
	scanner *schema.Scanner
	cfg     *config.Config

	mu    sync.RWMutex
	index *vectorstore.Index
}

// NewSystem wires the components together.
func NewSystem(manager *provider.Manager, store *vectorstore.Store, scanner *schema.Scanner, cfg *config.Config) *System {
	return &System{
		manager: manager,
		store:   store,
		scanner: scanner,
		cfg:     cfg,
	}
}

// generationResponse is the JSON shape the generation prompt asks for.
type generationResponse struct {
	SQL         string   `json:"sql"`
	Explanation string   `json:"explanation"`
	Tables      []string `json:"tables"`
}

// Initialize loads the persisted index or rebuilds it from the live
// schema. Any rejected load falls through to a rebuild; the validation
// gates themselves are never relaxed.
func (s *System) Initialize(ctx context.Context, forceRebuild bool) (*InitResult, error) {
	rebuild := forceRebuild || s.cfg.RAG.ForceRebuild

	if !rebuild && s.store.Exists() {
		index, err := s.store.Load()
		if err == nil {
			s.setIndex(index)

			return &InitResult{TablesIndexed: countIndexedTables(index)}, nil
		}

		if errors.IsSecurity(err) {
			logging.WithError(err).Warnf("persisted index rejected, rebuilding")
		} else {
			logging.WithError(err).Warnf("failed to load persisted index, rebuilding")
		}
	}

	return s.rebuild(ctx)
}

func (s *System) rebuild(ctx context.Context) (*InitResult, error) {
	observability.RecordIndexRebuild()

	tables, err := s.scanner.ScanSchema(ctx)
	if err != nil {
		return nil, err
	}

	if len(tables) == 0 {
		return nil, errors.New(errors.ErrTypeSchemaAccess, "database has no tables to index").
			WithSuggestion("Point the tool at a database with at least one table")
	}

	documents := buildDocuments(ctx, s.scanner, tables, s.cfg.RAG.TableSampleLimit)

	texts := make([]string, len(documents))
	for i, doc := range documents {
		texts[i] = doc.Content
	}

	vectors, providerUsed, err := s.manager.Embed(ctx, texts, "")
	if err != nil {
		return nil, err
	}

	index, err := vectorstore.NewIndex(vectors, documents)
	if err != nil {
		return nil, err
	}

	if err := s.store.Save(index); err != nil {
		return nil, err
	}

	s.setIndex(index)

	logging.WithField("tables", len(tables)).WithField("documents", len(documents)).
		WithField("provider", providerUsed).Info("rebuilt vector index")

	return &InitResult{TablesIndexed: len(tables), Rebuilt: true}, nil
}

// Ask answers a natural-language question: one embedding of the question,
// one similarity search whose documents feed both the explanation and the
// SQL, one generation call, table validation, then execution.
func (s *System) Ask(ctx context.Context, question, explicitProvider string) (*QueryExecutionResult, error) {
	started := time.Now()

	question = strings.TrimSpace(question)
	if question == "" {
		return nil, errors.New(errors.ErrTypeValidation, "question cannot be empty")
	}

	index := s.currentIndex()
	if index == nil {
		return nil, errors.New(errors.ErrTypeInternal, "system is not initialized").
			WithSuggestion("Run the init command first")
	}

	queryVector, _, err := s.manager.EmbedQuery(ctx, question, explicitProvider)
	if err != nil {
		return nil, err
	}

	topK := s.cfg.RAG.SimilarityTopK

	results, err := index.Search(queryVector, topK)
	if err != nil {
		return nil, err
	}

	tableNames, err := s.scanner.TableNames(ctx)
	if err != nil {
		return nil, err
	}

	prompt := buildPrompt(question, tableNames, results)

	raw, providerUsed, err := s.manager.Generate(ctx, prompt, explicitProvider)
	if err != nil {
		return nil, err
	}

	response, err := parseGenerationResponse(raw)
	if err != nil {
		return nil, err
	}

	// Both the model's self-declared table list and the identifiers
	// named in the statement itself must pass the allowlist.
	for _, table := range append(response.Tables, referencedTables(response.SQL)...) {
		if _, err := s.scanner.ValidateTableName(ctx, table); err != nil {
			return nil, err
		}
	}

	if err := schema.EnsureReadOnly(response.SQL); err != nil {
		return nil, err
	}

	rows, columns, err := s.scanner.ExecuteQuery(ctx, response.SQL)
	if err != nil {
		return nil, err
	}

	elapsed := time.Since(started)
	observability.ObserveAskDuration(elapsed.Seconds())

	return &QueryExecutionResult{
		ID:           uuid.New().String(),
		Question:     question,
		GeneratedSQL: response.SQL,
		Explanation:  response.Explanation,
		Columns:      columns,
		Rows:         rows,
		RowCount:     len(rows),
		Elapsed:      elapsed,
		ProviderUsed: providerUsed,
	}, nil
}

// ListTables returns the allowlisted table names.
func (s *System) ListTables(ctx context.Context) ([]string, error) {
	return s.scanner.TableNames(ctx)
}

// DescribeTable returns the introspected shape of one table.
func (s *System) DescribeTable(ctx context.Context, name string) (*schema.Table, error) {
	return s.scanner.DescribeTable(ctx, name)
}

// ListProviders returns descriptors for every registered backend.
func (s *System) ListProviders() []provider.Descriptor {
	return s.manager.Registry().Descriptors()
}

// SwitchProvider activates the named backend. A non-empty kindName
// switches only that kind; an empty kindName switches every kind the
// backend is registered for, failing only when no kind could be
// activated.
func (s *System) SwitchProvider(name, kindName string) error {
	registry := s.manager.Registry()

	if kindName != "" {
		kind, err := provider.ParseKind(kindName)
		if err != nil {
			return err
		}

		if err := registry.SetActive(kind, name); err != nil {
			return err
		}

		logging.WithField("provider", name).WithField("kinds", string(kind)).
			Info("switched active provider")

		return nil
	}

	var switched []string

	var lastErr error

	for _, kind := range []provider.Kind{provider.KindGeneration, provider.KindEmbedding} {
		if !registry.IsRegistered(kind, name) {
			continue
		}

		if err := registry.SetActive(kind, name); err != nil {
			lastErr = err

			continue
		}

		switched = append(switched, string(kind))
	}

	if len(switched) == 0 {
		if lastErr != nil {
			return lastErr
		}

		return errors.Newf(errors.ErrTypeNotFound, "provider %q is not registered", name)
	}

	logging.WithField("provider", name).WithField("kinds", strings.Join(switched, ",")).
		Info("switched active provider")

	return nil
}

// Close releases the scanner's database pool.
func (s *System) Close() error {
	return s.scanner.Close()
}

func (s *System) setIndex(index *vectorstore.Index) {
	s.mu.Lock()
	s.index = index
	s.mu.Unlock()
}

func (s *System) currentIndex() *vectorstore.Index {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.index
}

// buildPrompt assembles the generation prompt from the question, the
// table allowlist, and the retrieved context documents.
func buildPrompt(question string, tableNames []string, results []vectorstore.SearchResult) string {
	var contextParts []string

	for _, result := range results {
		source := result.Document.Metadata[metaType]
		if table := result.Document.Metadata[metaTableName]; table != "" {
			source += " (" + table + ")"
		}

		contextParts = append(contextParts, "Source: "+source)
		contextParts = append(contextParts, result.Document.Content)
		contextParts = append(contextParts, "")
	}

	return fmt.Sprintf(`You are an expert SQL analyst. Use the database context below to answer the question with a single SQL query.

Database context (schema and data):
%s
Available tables: %s

Question: %s

Respond with a JSON object containing exactly these fields:
- sql: a single SELECT statement for DuckDB that answers the question
- explanation: a short plain-language explanation of what the query does
- tables: the list of table names the query reads from

Rules:
- Only SELECT statements are allowed. Never modify data.
- Only use tables from the available tables list.
- Respond with valid JSON only, no other text.`,
		strings.Join(contextParts, "\n"), strings.Join(tableNames, ", "), question)
}

// parseGenerationResponse decodes the model's JSON, tolerating a fenced
// code block around it.
func parseGenerationResponse(raw string) (*generationResponse, error) {
	cleaned := strings.TrimSpace(raw)

	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimPrefix(cleaned, "```")
		cleaned = strings.TrimSuffix(strings.TrimSpace(cleaned), "```")
		cleaned = strings.TrimSpace(cleaned)
	}

	var response generationResponse
	if err := json.Unmarshal([]byte(cleaned), &response); err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeProviderExecution, "model response is not valid JSON").
			WithSuggestion("Retry the question or switch to a different provider")
	}

	response.SQL = strings.TrimSpace(response.SQL)
	if response.SQL == "" {
		return nil, errors.New(errors.ErrTypeProviderExecution, "model response contains no SQL")
	}

	return &response, nil
}

// referencedTables extracts the identifiers named directly after FROM
// and JOIN in the statement. Parenthesized subqueries and table
// functions are skipped; their own FROM clauses are still scanned.
func referencedTables(sqlText string) []string {
	fields := strings.Fields(sqlText)

	seen := map[string]struct{}{}

	var tables []string

	for i, field := range fields {
		keyword := strings.ToUpper(field)
		if keyword != "FROM" && keyword != "JOIN" {
			continue
		}

		if i+1 >= len(fields) {
			continue
		}

		next := fields[i+1]
		if strings.HasPrefix(next, "(") {
			continue
		}

		name := strings.Trim(next, `(),;"`)
		if name == "" || strings.Contains(name, "(") {
			continue
		}

		key := strings.ToLower(name)
		if _, ok := seen[key]; ok {
			continue
		}

		seen[key] = struct{}{}
		tables = append(tables, name)
	}

	return tables
}

// countIndexedTables counts distinct table names across the loaded
// documents.
func countIndexedTables(index *vectorstore.Index) int {
	tables := map[string]struct{}{}

	for _, doc := range index.Documents() {
		if name := doc.Metadata[metaTableName]; name != "" {
			tables[name] = struct{}{}
		}
	}

	return len(tables)
}
