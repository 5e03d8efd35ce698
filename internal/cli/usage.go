package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"chatline/internal/storage"
)

// usageStore 汇总 api_calls / tool_calls 表
type usageStore interface {
	ModelUsageSince(ctx context.Context, since time.Time) ([]storage.ModelUsage, error)
	ToolUsageSince(ctx context.Context, since time.Time) ([]storage.ToolUsage, error)
}

// NewUsageCmd creates the usage command.
func NewUsageCmd() *cobra.Command {
	var window time.Duration

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show model and tool usage",
		Long:  `Summarize recorded model calls and tool calls from the local database.`,
		Example: `  chatline usage
  chatline usage --window 168h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx := GetCLIContext(cmd)
			if cliCtx == nil {
				return errors.New("CLI context not initialized")
			}
			db, err := cliCtx.GetStorage()
			if err != nil {
				return err
			}
			return printUsage(cmd.Context(), cmd.OutOrStdout(), db, window)
		},
	}

	cmd.Flags().DurationVarP(&window, "window", "w", 24*time.Hour, "how far back to look")
	return cmd
}

func printUsage(ctx context.Context, out io.Writer, store usageStore, window time.Duration) error {
	since := time.Now().Add(-window)

	models, err := store.ModelUsageSince(ctx, since)
	if err != nil {
		return fmt.Errorf("load model usage: %w", err)
	}
	toolUsage, err := store.ToolUsageSince(ctx, since)
	if err != nil {
		return fmt.Errorf("load tool usage: %w", err)
	}

	fmt.Fprintf(out, "Usage since %s\n\n", since.Format("2006-01-02 15:04:05"))
	if len(models) == 0 {
		fmt.Fprintln(out, "No model calls recorded.")
	} else {
		fmt.Fprintf(out, "%-28s %-8s %-8s %-10s %-12s\n", "Model", "Calls", "OK", "Fallback", "Tokens")
		for _, m := range models {
			fmt.Fprintf(out, "%-28s %-8d %-8d %-10d %-12d\n", truncate(m.Model, 27), m.Calls, m.Successes, m.Fallbacks, m.TotalTokens)
		}
	}

	fmt.Fprintln(out)
	if len(toolUsage) == 0 {
		fmt.Fprintln(out, "No tool calls recorded.")
		return nil
	}
	fmt.Fprintf(out, "%-28s %-8s %-8s\n", "Tool", "Calls", "OK")
	for _, t := range toolUsage {
		fmt.Fprintf(out, "%-28s %-8d %-8d\n", truncate(t.Name, 27), t.Calls, t.Successes)
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
