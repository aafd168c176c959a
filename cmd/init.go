package cmd

import (
	"fmt"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Build or refresh the local vector index",
	Long: `Scan the database schema, build the searchable index of schema and data
sample documents, and persist it to the configured store path. An existing
valid index is loaded instead of rebuilt unless --force is given.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Rebuild the index even if a valid one exists")

	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	system, err := newSystem(ctx, cfg)
	if err != nil {
		return err
	}
	defer system.Close()

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " Indexing database schema..."
	s.Start()

	result, err := system.Initialize(ctx, initForce)

	s.Stop()

	if err != nil {
		return err
	}

	if result.Rebuilt {
		fmt.Printf("Indexed %d tables into %s\n", result.TablesIndexed, cfg.RAG.StorePath)
	} else {
		fmt.Printf("Loaded existing index covering %d tables from %s\n", result.TablesIndexed, cfg.RAG.StorePath)
	}

	return nil
}
