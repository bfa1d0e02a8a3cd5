package cli

import (
	"fmt"

	"github.com/alpar-labs/alpar/internal/charts"
	"github.com/alpar-labs/alpar/internal/render"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	chartPeriod string
	chartMetric string
)

var chartCmd = &cobra.Command{
	Use:   "chart [type]",
	Short: "Show sample chart data from the server",
	Long: `Fetch sample chart data and draw it as horizontal bars.

Examples:
  alpar chart
  alpar chart bar --period 7d --metric errors`,
	Args: cobra.MaximumNArgs(1),
	RunE: runChart,
}

func init() {
	chartCmd.Flags().StringVar(&chartPeriod, "period", charts.DefaultPeriod, "period such as 7d or 30d")
	chartCmd.Flags().StringVar(&chartMetric, "metric", charts.DefaultMetric, "usage, performance or errors")
}

func runChart(cmd *cobra.Command, args []string) error {
	chartType := "line"
	if len(args) > 0 {
		chartType = args[0]
	}

	data, err := apiClient.ChartData(cmd.Context(), chartType, chartPeriod, chartMetric)
	if err != nil {
		return fmt.Errorf("get chart data: %w", err)
	}

	theme := defaultTheme
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s\n\n",
		theme.titleStyle().Render(charts.MetricLabel(data.Metric)),
		theme.hintStyle().Render(fmt.Sprintf("[%s, %s]", data.Type, data.Period)))
	cfg := charts.Config{Type: data.Type, Data: data.Data}
	fmt.Fprintln(out, render.Bars(cfg, 80, lipgloss.NewStyle().Foreground(theme.Accent)))
	return nil
}
