package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/corvidae-ai/warden/internal/config"
)

var (
	configureBudgetCap float64
	configureWorkspace string
	configureForce     bool
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Write a starter configuration file",
	Long: `Write a configuration file with the default model catalogue so it
can be edited by hand. Provider credentials are read from the
environment (WARDEN_PROVIDERS_OPENAI_API_KEY and the Anthropic
equivalent) and are never written to the file.`,
	RunE: runConfigure,
}

func init() {
	configureCmd.Flags().Float64Var(&configureBudgetCap, "budget-cap", 0, "budget cap in USD")
	configureCmd.Flags().StringVar(&configureWorkspace, "workspace", "", "workspace root for file tools")
	configureCmd.Flags().BoolVar(&configureForce, "force", false, "overwrite an existing config file")
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)

	if _, err := os.Stat(loader.Path()); err == nil && !configureForce {
		return fmt.Errorf("config file %s already exists, use --force to overwrite", loader.Path())
	}

	cfg := config.DefaultConfig()
	if configureBudgetCap > 0 {
		cfg.Budget.CapUSD = configureBudgetCap
	}
	if configureWorkspace != "" {
		cfg.WorkspacePath = configureWorkspace
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := loader.Save(cfg); err != nil {
		return err
	}

	fmt.Printf("Wrote %s\n", loader.Path())
	return nil
}
