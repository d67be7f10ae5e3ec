package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/inferloop/tsforecast/cmd/cli/commands"
	"github.com/inferloop/tsforecast/cmd/cli/config"
	"github.com/inferloop/tsforecast/pkg/constants"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		cfgFile string
		verbose bool
	)
	cliConfig := config.NewDefaultConfig()

	rootCmd := &cobra.Command{
		Use:   "tsforecast-cli",
		Short: "Business Metrics Forecasting CLI",
		Long: `A command-line interface for forecasting, anomaly detection and
backtesting of daily business metrics.`,
		Version:       constants.AppVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.LoadConfig(cfgFile)
			if err != nil {
				return err
			}
			if verbose {
				loaded.Preferences.Verbose = true
			}
			*cliConfig = *loaded
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.tsforecast/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(commands.NewAnalyzeCmd(cliConfig))
	rootCmd.AddCommand(commands.NewBacktestCmd(cliConfig))
	rootCmd.AddCommand(commands.NewValidateCmd(cliConfig))
	rootCmd.AddCommand(commands.NewExportCmd(cliConfig))
	rootCmd.AddCommand(commands.NewGenerateCmd())
	rootCmd.AddCommand(commands.NewBenchmarkCmd(cliConfig))

	return rootCmd
}
