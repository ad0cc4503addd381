package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tallgrassfarm/furrow/internal/daemon"
	"github.com/tallgrassfarm/furrow/internal/dashboard"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the sync daemon with the WebSocket dashboard",
	Long: `Run the background sync daemon.

The daemon starts the sync engine, watches the data directory for store
changes, and drains the deferred action queue whenever connectivity and
pending work line up. A WebSocket dashboard broadcasts status changes,
sync results, and queue statistics to connected clients.

Example usage:
  furrow daemon                       # Watch the default data directory
  furrow daemon --dashboard-port 9000 # Serve the dashboard on a custom port
  furrow daemon --log-file furrow.log # Rotate logs to a file

Connect with a WebSocket client:
  ws://localhost:8471/ws`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("dashboard-port")
		logFile, _ := cmd.Flags().GetString("log-file")
		noDashboard, _ := cmd.Flags().GetBool("no-dashboard")

		var out io.Writer = os.Stderr
		if logFile != "" {
			out = &lumberjack.Logger{
				Filename:   logFile,
				MaxSize:    10, // megabytes
				MaxBackups: 3,
				MaxAge:     28, // days
			}
		}
		logger := log.New(out, "[furrow] ", log.LstdFlags)

		eng, st, err := buildEngine(logger)
		if err != nil {
			return err
		}
		defer st.Close()

		d, err := daemon.New(eng, st.Dir(), daemon.DefaultConfig())
		if err != nil {
			return fmt.Errorf("create daemon: %w", err)
		}

		var handler *dashboard.Handler
		if !noDashboard {
			server := dashboard.NewServer(&dashboard.Config{
				Port:   port,
				Logger: logger,
			})
			if err := server.Start(); err != nil {
				return fmt.Errorf("start dashboard: %w", err)
			}
			handler = dashboard.NewHandler(server, eng, logger)
			handler.Attach()
			defer func() {
				handler.Detach()
				if err := server.Stop(); err != nil {
					logger.Printf("Warning: dashboard shutdown: %v", err)
				}
			}()
			fmt.Printf("Dashboard: ws://localhost:%d/ws\n", port)
		}

		fmt.Printf("Watching %s\n", st.Dir())
		fmt.Println("Press Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		// Start blocks until the context is cancelled and shuts the
		// daemon down on its way out.
		if err := d.Start(ctx); err != nil {
			return fmt.Errorf("daemon: %w", err)
		}

		fmt.Println("\nDaemon stopped")
		return nil
	},
}

func init() {
	daemonCmd.Flags().IntP("dashboard-port", "p", 8471, "Dashboard port to listen on")
	daemonCmd.Flags().String("log-file", "", "Rotate daemon logs to this file instead of stderr")
	daemonCmd.Flags().Bool("no-dashboard", false, "Disable the WebSocket dashboard")

	rootCmd.AddCommand(daemonCmd)
}
