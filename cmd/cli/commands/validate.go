package commands

import (
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/inferloop/tsforecast/cmd/cli/config"
	"github.com/inferloop/tsforecast/internal/analytics"
	"github.com/inferloop/tsforecast/pkg/constants"
	"github.com/inferloop/tsforecast/pkg/errors"
	"github.com/inferloop/tsforecast/pkg/models"
)

type ValidateOptions struct {
	InputFile    string
	Metrics      []string
	ReportFormat string
	OutputFile   string
	Strict       bool
}

// ValidationReport summarises whether an export is usable for each action
type ValidationReport struct {
	InputFile    string                    `json:"input_file" yaml:"input_file"`
	Observations int                       `json:"observations" yaml:"observations"`
	Metrics      []MetricReadiness         `json:"metrics" yaml:"metrics"`
	Errors       []models.DataQualityError `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// MetricReadiness reports the history available for one metric
type MetricReadiness struct {
	Metric        string                     `json:"metric" yaml:"metric"`
	Points        int                        `json:"points" yaml:"points"`
	First         string                     `json:"first" yaml:"first"`
	Last          string                     `json:"last" yaml:"last"`
	MissingDays   int                        `json:"missing_days" yaml:"missing_days"`
	DuplicateDays int                        `json:"duplicate_days" yaml:"duplicate_days"`
	ForecastReady bool                       `json:"forecast_ready" yaml:"forecast_ready"`
	BacktestReady bool                       `json:"backtest_ready" yaml:"backtest_ready"`
	Basic         *analytics.BasicStatistics `json:"basic_stats,omitempty" yaml:"basic_stats,omitempty"`
}

func NewValidateCmd(cfg *config.CLIConfig) *cobra.Command {
	opts := &ValidateOptions{}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a metrics export before analysis",
		Long: `Validate a metrics export: every value must be finite, and each metric
is checked for gaps, duplicate days and whether it has enough history to
forecast and backtest.`,
		Example: `  # Check an export
  tsforecast-cli validate --input metrics.csv

  # Fail when any metric is too short to forecast
  tsforecast-cli validate --input metrics.json --strict --report-format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.ReportFormat == "" {
				opts.ReportFormat = cfg.DefaultFormat
			}
			return runValidate(cmd, cfg, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.InputFile, "input", "i", "", "Input file to validate (required)")
	cmd.Flags().StringSliceVarP(&opts.Metrics, "metrics", "m", nil, "Metrics to check (default: all in the input)")
	cmd.Flags().StringVar(&opts.ReportFormat, "report-format", "", "Report format (text, json, yaml)")
	cmd.Flags().StringVarP(&opts.OutputFile, "output", "o", "-", "Output file for report (- for stdout)")
	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "Exit with an error when any metric cannot be forecast")

	cmd.MarkFlagRequired("input")

	return cmd
}

func runValidate(cmd *cobra.Command, cfg *config.CLIConfig, opts *ValidateOptions) error {
	observations, err := loadObservations(opts.InputFile, cmd.InOrStdin())
	if err != nil {
		return err
	}

	report, err := buildValidationReport(cfg.Analytics, opts, observations)
	if err != nil {
		return err
	}

	out, closeOut, err := openOutput(opts.OutputFile, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer closeOut()

	switch opts.ReportFormat {
	case constants.OutputFormatText, "":
		writeValidationText(out, report)
	default:
		if err := writeResult(out, opts.ReportFormat, report); err != nil {
			return err
		}
	}

	if opts.Strict && len(report.Errors) > 0 {
		return fmt.Errorf("%d metric(s) failed validation", len(report.Errors))
	}
	return nil
}

func buildValidationReport(engineConfig *analytics.EngineConfig, opts *ValidateOptions, observations []models.Observation) (*ValidationReport, error) {
	if engineConfig == nil {
		engineConfig = analytics.NewDefaultEngineConfig()
	}
	engine := analytics.NewEngine(engineConfig, nil)

	metrics := opts.Metrics
	if len(metrics) == 0 {
		metrics = categories(observations)
	}

	series, err := analytics.BuildSeries(observations, metrics)
	if err != nil {
		return nil, err
	}

	report := &ValidationReport{
		InputFile:    opts.InputFile,
		Observations: len(observations),
	}

	for i := range series {
		s := &series[i]
		timestamps := s.Timestamps()
		readiness := MetricReadiness{
			Metric:        s.MetricName,
			Points:        s.Len(),
			First:         timestamps[0].Format("2006-01-02"),
			Last:          timestamps[len(timestamps)-1].Format("2006-01-02"),
			ForecastReady: s.Len() >= engineConfig.MinForecastPoints,
			BacktestReady: s.Len() >= engineConfig.MinBacktestPoints,
		}
		readiness.MissingDays, readiness.DuplicateDays = dayCoverage(timestamps)

		if diag, err := engine.Diagnose(s); err == nil {
			readiness.Basic = diag.Basic
		}

		if !readiness.ForecastReady {
			report.Errors = append(report.Errors, models.DataQualityError{
				Metric:   s.MetricName,
				Code:     errors.CodeInsufficientData,
				Message:  fmt.Sprintf("needs at least %d points to forecast", engineConfig.MinForecastPoints),
				Required: engineConfig.MinForecastPoints,
				Actual:   s.Len(),
			})
		}

		report.Metrics = append(report.Metrics, readiness)
	}

	sort.Slice(report.Metrics, func(i, j int) bool { return report.Metrics[i].Metric < report.Metrics[j].Metric })
	return report, nil
}

// categories lists the distinct observation categories in first-seen order
func categories(observations []models.Observation) []string {
	seen := make(map[string]bool)
	var names []string
	for _, obs := range observations {
		if obs.Category != "" && !seen[obs.Category] {
			seen[obs.Category] = true
			names = append(names, obs.Category)
		}
	}
	return names
}

// dayCoverage counts calendar days with no observation and days with more
// than one, between the first and last timestamp
func dayCoverage(timestamps []time.Time) (missing, duplicate int) {
	perDay := make(map[string]int)
	for _, ts := range timestamps {
		perDay[ts.UTC().Format("2006-01-02")]++
	}
	for _, n := range perDay {
		if n > 1 {
			duplicate++
		}
	}

	first := timestamps[0].UTC().Truncate(24 * time.Hour)
	last := timestamps[len(timestamps)-1].UTC().Truncate(24 * time.Hour)
	span := int(math.Round(last.Sub(first).Hours()/24)) + 1
	if missing = span - len(perDay); missing < 0 {
		missing = 0
	}
	return missing, duplicate
}

func writeValidationText(w io.Writer, report *ValidationReport) {
	fmt.Fprintf(w, "Validating %s\n", report.InputFile)
	fmt.Fprintf(w, "Observations: %d\n", report.Observations)

	for _, m := range report.Metrics {
		fmt.Fprintf(w, "\n%s\n", m.Metric)
		fmt.Fprintf(w, "- Points: %d (%s to %s)\n", m.Points, m.First, m.Last)
		fmt.Fprintf(w, "- Missing Days: %d\n", m.MissingDays)
		fmt.Fprintf(w, "- Duplicate Days: %d\n", m.DuplicateDays)
		fmt.Fprintf(w, "- Forecast Ready: %t\n", m.ForecastReady)
		fmt.Fprintf(w, "- Backtest Ready: %t\n", m.BacktestReady)
	}

	if len(report.Errors) == 0 {
		fmt.Fprintln(w, "\nValidation passed")
		return
	}
	writeDataQualityText(w, report.Errors)
}
