package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tallgrassfarm/furrow/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Drain the deferred action queue once",
	Long: `Run one sync pass.

Pending actions are replayed against the backend API in priority order
(high before medium before low, oldest first within a tier). The command
refuses to run while offline or while another sync holds the store.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger("[furrow] ")
		eng, st, err := buildEngine(logger)
		if err != nil {
			return err
		}
		defer st.Close()

		ctx := context.Background()
		if err := eng.Start(ctx); err != nil {
			return fmt.Errorf("start engine: %w", err)
		}
		defer eng.Stop()

		result := eng.Sync(ctx)
		if result.Success {
			fmt.Println(ui.Success.Render(fmt.Sprintf("Sync complete: %d action(s) processed", result.ActionsProcessed)))
			return nil
		}

		fmt.Println(ui.Fail.Render(fmt.Sprintf("Sync finished with errors (%d action(s) processed)", result.ActionsProcessed)))
		for _, msg := range result.Errors {
			fmt.Println("  " + ui.Faint.Render(msg))
		}
		return fmt.Errorf("sync did not complete cleanly")
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
