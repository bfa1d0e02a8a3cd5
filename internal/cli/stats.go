package cli

import (
	"fmt"
	"io"
	"slices"

	"github.com/alpar-labs/alpar/internal/metrics"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show server turn statistics",
	Long: `Show the in-memory statistics of the server: turn latency, agent API
calls, run polls, fallback replies and turn outcomes since the last restart.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := apiClient.Metrics(cmd.Context())
		if err != nil {
			return fmt.Errorf("get server stats: %w", err)
		}
		printStats(cmd.OutOrStdout(), snap)
		return nil
	},
}

func printStats(w io.Writer, snap *metrics.Snapshot) {
	fmt.Fprintf(w, "Server Statistics (in-memory, since restart)\n")
	fmt.Fprintf(w, "═══════════════════════════════════════════════\n")
	fmt.Fprintf(w, "Uptime: %.1f seconds\n", snap.UptimeSeconds)

	for _, op := range []struct {
		title string
		stats *metrics.OperationSnapshot
	}{
		{"Turns", snap.Turn},
		{"Agent API calls", snap.AgentCall},
		{"Run polls", snap.RunPoll},
		{"Fallback replies", snap.Fallback},
	} {
		if op.stats == nil {
			continue
		}
		fmt.Fprintf(w, "\n%s:\n", op.title)
		fmt.Fprintf(w, "  Calls: %d, Total: %dms\n", op.stats.Count, op.stats.TotalTimeMs)
		fmt.Fprintf(w, "  Time: avg %.1fms, min %dms, max %dms\n",
			op.stats.AvgTimeMs, op.stats.MinTimeMs, op.stats.MaxTimeMs)
	}

	if len(snap.Outcomes) == 0 {
		return
	}
	fmt.Fprintf(w, "\nOutcomes:\n")
	names := make([]string, 0, len(snap.Outcomes))
	for name := range snap.Outcomes {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-15s %d\n", name, snap.Outcomes[name])
	}
}
