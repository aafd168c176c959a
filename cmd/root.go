package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/askdb/askdb/internal/config"
	"github.com/askdb/askdb/internal/logging"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/provider"
	"github.com/askdb/askdb/internal/rag"
	"github.com/askdb/askdb/internal/schema"
	"github.com/askdb/askdb/internal/vectorstore"
)

var rootCmd = &cobra.Command{
	Use:   "askdb",
	Short: "Ask questions about your database in natural language",
	Long: `askdb answers natural-language questions about a DuckDB database. It indexes
the database schema and data samples into a local vector store, retrieves the
relevant context for each question, and uses a configurable language-model
provider to generate and execute a validated SQL query.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	ctx := context.Background()

	return rootCmd.ExecuteContext(ctx)
}

// loadConfig loads and prepares configuration plus logging for a command
// invocation.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	cfg.ExpandAllPaths()

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	if err := logging.InitializeLogger(cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	if cfg.Metrics.Enabled {
		observability.StartMetricsServer(cfg.Metrics.Port)
	}

	return cfg, nil
}

// newSystem builds the full pipeline from configuration. The caller owns
// the returned system and must Close it.
func newSystem(ctx context.Context, cfg *config.Config) (*rag.System, error) {
	manager, err := provider.NewManagerFromConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	scanner, err := schema.NewScanner(cfg.Database, cfg.DatabaseQueryTimeout())
	if err != nil {
		return nil, err
	}

	store := vectorstore.NewStore(cfg.RAG.StorePath)

	return rag.NewSystem(manager, store, scanner, cfg), nil
}
