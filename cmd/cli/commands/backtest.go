package commands

import (
	"github.com/spf13/cobra"

	"github.com/inferloop/tsforecast/cmd/cli/config"
	"github.com/inferloop/tsforecast/pkg/constants"
)

func NewBacktestCmd(cfg *config.CLIConfig) *cobra.Command {
	opts := &AnalyzeOptions{Action: constants.ActionBacktest}

	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Score the forecaster against held-out history",
		Long: `Split each metric into a training and a test slice, forecast the test
slice from the training slice and report MAE, RMSE, MAPE and accuracy.
Shorthand for analyze --action backtest.`,
		Example: `  # Hold out the last 20% of each metric
  tsforecast-cli backtest --input metrics.csv --split 0.8

  # Compare the ensemble against a single model
  tsforecast-cli backtest --input metrics.csv --no-ensemble --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.ServerURL == "" {
				opts.ServerURL = cfg.ServerURL
			}
			if opts.OutputFormat == "" {
				opts.OutputFormat = cfg.DefaultFormat
			}
			return runAnalyze(cmd, cfg, opts)
		},
	}

	addRequestFlags(cmd, opts)
	cmd.Flags().StringVar(&opts.ServerURL, "server", "", "Forecasting server URL (default runs in-process)")

	return cmd
}
