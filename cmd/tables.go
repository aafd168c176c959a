package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/askdb/askdb/internal/formatter"
)

var tablesCmd = &cobra.Command{
	Use:   "tables [name]",
	Short: "List database tables or describe one table",
	Long: `Without arguments, list the tables of the configured database. With a table
name, show its columns, primary keys, foreign keys, and row count.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTables,
}

func init() {
	rootCmd.AddCommand(tablesCmd)
}

func runTables(cmd *cobra.Command, args []string) error {
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

	if len(args) == 1 {
		table, err := system.DescribeTable(ctx, args[0])
		if err != nil {
			return err
		}

		fmt.Println(formatter.NewFormatter().FormatTableDetail(table))

		return nil
	}

	names, err := system.ListTables(ctx)
	if err != nil {
		return err
	}

	if len(names) == 0 {
		fmt.Println("No tables found.")

		return nil
	}

	for _, name := range names {
		fmt.Println(name)
	}

	return nil
}
