package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/corvidae-ai/warden/internal/config"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the model catalogue",
	Long:  `List the configured model catalogue with prices and tiers. Does not open the ledger.`,
	RunE:  runModels,
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}

func runModels(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	fmt.Printf("%-20s %-10s %-8s %12s %12s\n", "MODEL", "PROVIDER", "TIER", "IN $/MTok", "OUT $/MTok")
	for _, model := range cfg.Models {
		in, out := "-", "-"
		if model.InputPrice != nil {
			in = fmt.Sprintf("%.2f", *model.InputPrice)
		}
		if model.OutputPrice != nil {
			out = fmt.Sprintf("%.2f", *model.OutputPrice)
		}
		fmt.Printf("%-20s %-10s %-8s %12s %12s\n", model.ID, model.Provider, model.Tier(), in, out)
	}
	return nil
}
