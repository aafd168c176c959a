package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/askdb/askdb/internal/formatter"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List configured language-model providers",
	Long: `List every configured provider per capability with its availability and
whether it is the active one. The active provider serves requests that do not
name a provider explicitly.`,
	Args: cobra.NoArgs,
	RunE: runProviders,
}

var providersSwitchCmd = &cobra.Command{
	Use:   "switch <name>",
	Short: "Switch the active provider",
	Long: `Switch the active provider for both capabilities, or for a single one
with --kind (generation or embedding).`,
	Args: cobra.ExactArgs(1),
	RunE: runProvidersSwitch,
}

var switchKind string

func init() {
	providersSwitchCmd.Flags().StringVar(&switchKind, "kind", "",
		"capability to switch (generation or embedding); default is both")
	providersCmd.AddCommand(providersSwitchCmd)
	rootCmd.AddCommand(providersCmd)
}

func runProviders(cmd *cobra.Command, _ []string) error {
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

	fmt.Println(formatter.NewFormatter().FormatProviders(system.ListProviders()))

	return nil
}

func runProvidersSwitch(cmd *cobra.Command, args []string) error {
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

	if err := system.SwitchProvider(args[0], switchKind); err != nil {
		return err
	}

	fmt.Printf("Switched active provider to %s\n", args[0])

	return nil
}
