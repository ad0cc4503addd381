package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tallgrassfarm/furrow/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connectivity, queue, and storage status",
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

		stats, err := eng.GetStats(ctx)
		if err != nil {
			return err
		}

		fmt.Println(ui.Header.Render("furrow"))
		fmt.Println(ui.KV("Status", ui.Status(string(stats.Status))))
		fmt.Println(ui.KV("Backend", stats.Backend))
		if stats.LastSync != nil {
			fmt.Println(ui.KV("Last sync", stats.LastSync.Format("2006-01-02 15:04:05")))
		} else {
			fmt.Println(ui.KV("Last sync", ui.Faint.Render("never")))
		}
		if stats.Queue != nil {
			fmt.Println(ui.KV("Pending actions", fmt.Sprintf("%d", stats.Queue.Total)))
		}
		if stats.Usage != nil && stats.Usage.Quota > 0 {
			fmt.Println(ui.KV("Storage", fmt.Sprintf("%d / %d bytes", stats.Usage.Used, stats.Usage.Quota)))
		} else if stats.Usage != nil {
			fmt.Println(ui.KV("Storage", fmt.Sprintf("%d bytes", stats.Usage.Used)))
		}
		fmt.Println(ui.KV("Auto-sync", fmt.Sprintf("%v (every %s)", stats.Settings.AutoSync, stats.Settings.SyncInterval)))
		if stats.SweptAtStart > 0 {
			fmt.Println(ui.Faint.Render(fmt.Sprintf("Swept %d expired item(s)", stats.SweptAtStart)))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
