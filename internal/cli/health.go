package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var healthJSON bool

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the server and agent status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := apiClient.Health(cmd.Context())
		if err != nil {
			return fmt.Errorf("health check %s: %w", apiClient.BaseURL(), err)
		}

		out := cmd.OutOrStdout()
		if healthJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(h)
		}

		theme := defaultTheme
		fmt.Fprintf(out, "Server:  %s\n", apiClient.BaseURL())
		fmt.Fprintf(out, "Status:  %s\n", theme.titleStyle().Render(h.Status))
		fmt.Fprintf(out, "Agent:   %s\n", h.Agent)
		fmt.Fprintf(out, "Mode:    %s\n", h.Mode)
		fmt.Fprintf(out, "Message: %s\n", h.Message)
		return nil
	},
}

func init() {
	healthCmd.Flags().BoolVar(&healthJSON, "json", false, "print the report as JSON")
}
