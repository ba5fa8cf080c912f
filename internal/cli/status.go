package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show budget, tier, and circuit state",
	Long:  `Show the remaining budget, the current affordability tier, per-model spend, and circuit breaker states.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	gov := rt.governor
	fmt.Printf("Budget: $%.4f spent of $%.2f cap ($%.4f remaining)\n",
		gov.Spend(), gov.BudgetCap(), gov.BudgetRemaining())
	fmt.Printf("Tier: %s\n", gov.Tier())

	spend, err := rt.store.SpendByModel()
	if err != nil {
		return fmt.Errorf("failed to read ledger: %w", err)
	}

	fmt.Println("\nModels:")
	for _, model := range gov.Models() {
		circuit := "closed"
		if !gov.CircuitClosed(model.ID) {
			circuit = "open"
		}
		fmt.Printf("  %-20s tier=%-8s circuit=%-6s spend=$%.4f\n",
			model.ID, model.Tier(), circuit, spend[model.ID])
	}
	return nil
}
