package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tallgrassfarm/furrow/internal/queue"
	"github.com/tallgrassfarm/furrow/internal/ui"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and manage the deferred action queue",
}

var queueAddCmd = &cobra.Command{
	Use:   "add <endpoint>",
	Short: "Enqueue an action for the next sync",
	Long: `Enqueue a deferred action.

The endpoint may be absolute or relative to the configured API base. The
action is durable immediately: it survives a process restart and is
replayed on the next sync pass.

Example usage:
  furrow queue add /api/contact --method POST --payload '{"name":"A"}'
  furrow queue add /api/scores --kind user_action --priority high`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, _ := cmd.Flags().GetString("kind")
		method, _ := cmd.Flags().GetString("method")
		priority, _ := cmd.Flags().GetString("priority")
		payload, _ := cmd.Flags().GetString("payload")
		maxRetries, _ := cmd.Flags().GetInt("max-retries")
		headerPairs, _ := cmd.Flags().GetStringArray("header")

		var raw any
		if payload != "" {
			if !json.Valid([]byte(payload)) {
				return fmt.Errorf("payload is not valid JSON")
			}
			raw = json.RawMessage(payload)
		}

		headers := make(map[string]string, len(headerPairs))
		for _, pair := range headerPairs {
			k, v, ok := strings.Cut(pair, "=")
			if !ok {
				return fmt.Errorf("invalid header %q (want key=value)", pair)
			}
			headers[k] = v
		}

		logger := newLogger("[furrow] ")
		eng, st, err := buildEngine(logger)
		if err != nil {
			return err
		}
		defer st.Close()

		id, err := eng.QueueAction(context.Background(), queue.Kind(kind),
			resolveEndpoint(args[0]), method, raw, &queue.Options{
				Headers:    headers,
				MaxRetries: maxRetries,
				Priority:   queue.Priority(priority),
			})
		if err != nil {
			return err
		}

		fmt.Println(ui.Success.Render("Queued " + id))
		return nil
	},
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending actions in drain order",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger("[furrow] ")
		eng, st, err := buildEngine(logger)
		if err != nil {
			return err
		}
		defer st.Close()

		actions, err := eng.Queue().ListPending(context.Background())
		if err != nil {
			return err
		}
		if len(actions) == 0 {
			fmt.Println("Queue is empty")
			return nil
		}

		fmt.Println(ui.Header.Render(fmt.Sprintf("%d pending action(s)", len(actions))))
		for _, a := range actions {
			fmt.Printf("%s  %-6s %-15s %s %s  retries %d/%d\n",
				ui.Faint.Render(a.ID[:8]),
				a.Priority, a.Kind, a.Method, a.Endpoint,
				a.RetryCount, a.MaxRetries)
		}
		return nil
	},
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger("[furrow] ")
		eng, st, err := buildEngine(logger)
		if err != nil {
			return err
		}
		defer st.Close()

		stats, err := eng.Queue().GetStats(context.Background())
		if err != nil {
			return err
		}

		fmt.Println(ui.KV("Total", fmt.Sprintf("%d", stats.Total)))
		fmt.Println(ui.KV("By kind", countLine(stats.ByKind)))
		fmt.Println(ui.KV("By priority", countLine(stats.ByPriority)))
		if stats.OldestEnqueuedAt != nil {
			fmt.Println(ui.KV("Oldest", stats.OldestEnqueuedAt.Format("2006-01-02 15:04:05")))
		}
		return nil
	},
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Discard every pending action",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger("[furrow] ")
		eng, st, err := buildEngine(logger)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := eng.Queue().ClearAll(context.Background()); err != nil {
			return err
		}
		fmt.Println("Queue cleared")
		return nil
	},
}

// countLine renders a count map as "key 2, other 1" with stable ordering.
func countLine(counts map[string]int) string {
	if len(counts) == 0 {
		return "none"
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s %d", k, counts[k]))
	}
	return strings.Join(parts, ", ")
}

func init() {
	queueAddCmd.Flags().String("kind", string(queue.KindAPICall), "Action kind (api_call, form_submission, file_upload, user_action)")
	queueAddCmd.Flags().StringP("method", "X", "POST", "HTTP method")
	queueAddCmd.Flags().String("priority", string(queue.PriorityMedium), "Priority (low, medium, high)")
	queueAddCmd.Flags().StringP("payload", "d", "", "JSON request body")
	queueAddCmd.Flags().Int("max-retries", queue.DefaultMaxRetries, "Retry budget before the action is dropped")
	queueAddCmd.Flags().StringArrayP("header", "H", nil, "Request header as key=value (repeatable)")

	queueCmd.AddCommand(queueAddCmd)
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueStatsCmd)
	queueCmd.AddCommand(queueClearCmd)
	rootCmd.AddCommand(queueCmd)
}
