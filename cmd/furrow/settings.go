package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tallgrassfarm/furrow/internal/engine"
	"github.com/tallgrassfarm/furrow/internal/ui"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change sync settings",
	Long: `Show or change the persisted sync settings.

Without flags the current settings are printed. Flags update and persist
the corresponding setting.

Example usage:
  furrow settings
  furrow settings --sync-interval 10m
  furrow settings --auto-sync=false`,
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

		var update engine.SettingsUpdate
		if cmd.Flags().Changed("auto-sync") {
			v, _ := cmd.Flags().GetBool("auto-sync")
			update.AutoSync = &v
		}
		if cmd.Flags().Changed("sync-interval") {
			v, _ := cmd.Flags().GetDuration("sync-interval")
			update.SyncInterval = &v
		}
		if cmd.Flags().Changed("max-cache-age") {
			v, _ := cmd.Flags().GetDuration("max-cache-age")
			update.MaxCacheAge = &v
		}
		if cmd.Flags().Changed("notifications") {
			v, _ := cmd.Flags().GetBool("notifications")
			update.EnableNotifications = &v
		}

		changed := update.AutoSync != nil || update.SyncInterval != nil ||
			update.MaxCacheAge != nil || update.EnableNotifications != nil
		if changed {
			if err := eng.UpdateSettings(ctx, update); err != nil {
				return err
			}
		}

		s := eng.Settings()
		fmt.Println(ui.KV("Auto-sync", fmt.Sprintf("%v", s.AutoSync)))
		fmt.Println(ui.KV("Sync interval", s.SyncInterval.String()))
		fmt.Println(ui.KV("Max cache age", s.MaxCacheAge.String()))
		fmt.Println(ui.KV("Notifications", fmt.Sprintf("%v", s.EnableNotifications)))
		return nil
	},
}

func init() {
	settingsCmd.Flags().Bool("auto-sync", true, "Enable the periodic sync timer")
	settingsCmd.Flags().Duration("sync-interval", 5*time.Minute, "Period of the auto-sync timer")
	settingsCmd.Flags().Duration("max-cache-age", 24*time.Hour, "Default TTL for cached data")
	settingsCmd.Flags().Bool("notifications", true, "Enable offline notifications")

	rootCmd.AddCommand(settingsCmd)
}
