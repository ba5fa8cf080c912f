package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var ledgerLimit int

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Show recent cost entries",
	Long:  `Show the most recent entries in the cost ledger, newest first.`,
	RunE:  runLedger,
}

func init() {
	ledgerCmd.Flags().IntVarP(&ledgerLimit, "limit", "n", 20, "number of entries to show")
	rootCmd.AddCommand(ledgerCmd)
}

func runLedger(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	entries, err := rt.store.RecentEntries(ledgerLimit)
	if err != nil {
		return fmt.Errorf("failed to read ledger: %w", err)
	}
	if len(entries) == 0 {
		fmt.Println("Ledger is empty")
		return nil
	}

	fmt.Printf("%-25s %-20s %-8s %10s %10s %12s\n", "RECORDED", "MODEL", "TIER", "IN", "OUT", "COST USD")
	for _, entry := range entries {
		fmt.Printf("%-25s %-20s %-8s %10d %10d %12.6f\n",
			entry.RecordedAt.Format("2006-01-02 15:04:05"),
			entry.Model, entry.Tier, entry.InputTokens, entry.OutputTokens, entry.CostUSD)
	}
	return nil
}
