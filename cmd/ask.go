package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"github.com/askdb/askdb/internal/errors"
	"github.com/askdb/askdb/internal/formatter"
)

var (
	askProvider string
	askFormat   string
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a natural-language question with a SQL query",
	Long: `Ask a question about the database in plain language. The question is matched
against the indexed schema and data sample documents, a SQL query is generated
by the active provider, validated against the known tables, and executed.

Examples:
  askdb ask "who are our top 5 customers by revenue?"
  askdb ask --provider ollama "how many orders were placed last month?"
  askdb ask --format json "which products have never been ordered?"`,
	Args: cobra.ExactArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askProvider, "provider", "", "Provider to use for this question (openai, ollama, custom)")
	askCmd.Flags().StringVar(&askFormat, "format", "table", "Output format: table or json")

	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	question := strings.TrimSpace(args[0])
	if question == "" {
		return errors.New(errors.ErrTypeValidation, "question cannot be empty")
	}

	format := formatter.OutputFormat(askFormat)
	if format != formatter.FormatTable && format != formatter.FormatJSON {
		return errors.Newf(errors.ErrTypeValidation, "invalid format: %s (must be table or json)", askFormat)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	system, err := newSystem(ctx, cfg)
	if err != nil {
		return err
	}
	defer system.Close()

	if _, err := system.Initialize(ctx, false); err != nil {
		return err
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " Thinking..."
	s.Start()

	result, err := system.Ask(ctx, question, askProvider)

	s.Stop()

	if err != nil {
		return err
	}

	fmt.Println(formatter.NewFormatter().FormatQueryResult(result, format))

	return nil
}
