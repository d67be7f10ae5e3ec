package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/inferloop/tsforecast/internal/analytics"
	"github.com/inferloop/tsforecast/internal/storage/codec"
	"github.com/inferloop/tsforecast/pkg/constants"
	"github.com/inferloop/tsforecast/pkg/models"
)

// loadObservations reads a JSON or CSV export, choosing the format from
// the file extension. "-" reads JSON from stdin.
func loadObservations(path string, stdin io.Reader) ([]models.Observation, error) {
	if path == "-" {
		return codec.DecodeObservations(stdin, constants.OutputFormatJSON)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}
	defer f.Close()

	observations, err := codec.DecodeObservations(f, codec.FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return observations, nil
}

// openOutput returns stdout for "-" and a new file otherwise. The returned
// close function is always safe to call.
func openOutput(path string, stdout io.Writer) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return stdout, func() error { return nil }, nil
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, f.Close, nil
}

// writeResult renders an analysis payload as json, yaml or text
func writeResult(w io.Writer, format string, result interface{}) error {
	switch format {
	case constants.OutputFormatJSON:
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(result)
	case constants.OutputFormatYAML:
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		defer encoder.Close()
		return encoder.Encode(result)
	case constants.OutputFormatText, "":
		return writeText(w, result)
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

func writeText(w io.Writer, result interface{}) error {
	switch r := result.(type) {
	case *models.ForecastReport:
		writeForecastText(w, r)
	case *models.InsightsReport:
		writeInsightsText(w, r)
	case *models.AnomalyReport:
		writeAnomaliesText(w, r)
	case *models.BacktestReport:
		writeBacktestText(w, r)
	case *analytics.StatisticsReport:
		writeStatisticsText(w, r)
	default:
		return fmt.Errorf("no text rendering for %T", result)
	}
	return nil
}

func writeForecastText(w io.Writer, r *models.ForecastReport) {
	for _, f := range r.Forecasts {
		fmt.Fprintf(w, "\nForecast: %s\n", f.Metric)
		fmt.Fprintln(w, strings.Repeat("=", 10+len(f.Metric)))
		fmt.Fprintf(w, "- Data Points: %d\n", f.DataPoints)
		fmt.Fprintf(w, "- Current Value: %.2f\n", f.CurrentValue)
		fmt.Fprintf(w, "- Models: %s\n", strings.Join(f.ModelsUsed, ", "))
		fmt.Fprintf(w, "- Trend: %s\n", f.Insights.Trend)
		fmt.Fprintf(w, "- Volatility: %s\n", f.Insights.VolatilityLevel)
		fmt.Fprintf(w, "- Seasonality: %t\n", f.Insights.SeasonalityDetected)
		fmt.Fprintf(w, "- Fit: R² %.3f, MAPE %.2f%%\n", f.ModelPerformance.RSquared, f.ModelPerformance.MAPE)

		fmt.Fprintln(w, "\nDate        Predicted    Lower        Upper        Confidence")
		for _, p := range f.Forecasts {
			fmt.Fprintf(w, "%s  %-11.2f  %-11.2f  %-11.2f  %.2f\n",
				p.Timestamp.Format("2006-01-02"), p.PredictedValue, p.ConfidenceLower, p.ConfidenceUpper, p.ConfidenceScore)
		}

		if len(f.Anomalies) > 0 {
			fmt.Fprintf(w, "\nAnomalies: %d\n", len(f.Anomalies))
			for _, a := range f.Anomalies {
				writeAnomalyLine(w, a)
			}
		}
	}
	writeDataQualityText(w, r.DataQualityErrors)
}

func writeInsightsText(w io.Writer, r *models.InsightsReport) {
	for _, in := range r.Insights {
		fmt.Fprintf(w, "\n%s [%s]\n", in.Metric, in.Category)
		fmt.Fprintf(w, "  %s\n", in.Insight)
		for _, rec := range in.Recommendations {
			fmt.Fprintf(w, "  - %s\n", rec)
		}
	}
	writeDataQualityText(w, r.DataQualityErrors)
}

func writeAnomaliesText(w io.Writer, r *models.AnomalyReport) {
	fmt.Fprintf(w, "\nAnomalies Found: %d\n", r.Total)
	for _, bucket := range models.SeverityBuckets {
		if n := len(r.BySeverity[bucket]); n > 0 {
			fmt.Fprintf(w, "- %s: %d\n", bucket, n)
		}
	}

	metrics := make([]string, 0, len(r.ByMetric))
	for metric := range r.ByMetric {
		metrics = append(metrics, metric)
	}
	sort.Strings(metrics)

	for _, metric := range metrics {
		fmt.Fprintf(w, "\n%s:\n", metric)
		for _, a := range r.ByMetric[metric] {
			writeAnomalyLine(w, a)
		}
	}
}

func writeAnomalyLine(w io.Writer, a models.AnomalyRecord) {
	fmt.Fprintf(w, "  %s  observed %.2f expected %.2f (z %.2f, severity %.1f, %s)\n",
		a.Timestamp.Format("2006-01-02"), a.ObservedValue, a.ExpectedValue, a.ZScore, a.Severity, a.Bucket)
}

func writeBacktestText(w io.Writer, r *models.BacktestReport) {
	fmt.Fprintln(w, "\nMetric               Train  Test   MAE          RMSE         MAPE     Accuracy")
	for _, res := range r.Results {
		fmt.Fprintf(w, "%-20s %-6d %-6d %-12.2f %-12.2f %-8.2f %.2f\n",
			res.Metric, res.TrainSize, res.TestSize, res.MAE, res.RMSE, res.MAPE, res.Accuracy)
	}
	writeDataQualityText(w, r.DataQualityErrors)
}

func writeStatisticsText(w io.Writer, r *analytics.StatisticsReport) {
	for _, d := range r.Diagnostics {
		fmt.Fprintf(w, "\nStatistics: %s\n", d.Metric)
		if d.Basic != nil {
			fmt.Fprintf(w, "- Count: %d\n", d.Basic.Count)
			fmt.Fprintf(w, "- Mean: %.2f\n", d.Basic.Mean)
			fmt.Fprintf(w, "- Median: %.2f\n", d.Basic.Median)
			fmt.Fprintf(w, "- Std Dev: %.2f\n", d.Basic.StandardDev)
			fmt.Fprintf(w, "- Min: %.2f\n", d.Basic.Min)
			fmt.Fprintf(w, "- Max: %.2f\n", d.Basic.Max)
		}
		if d.Trend != nil {
			fmt.Fprintf(w, "- Trend: %s (slope %.4f, R² %.3f)\n", d.Trend.Direction, d.Trend.Slope, d.Trend.RSquared)
		}
		fmt.Fprintf(w, "- Volatility: %.4f (%s)\n", d.Volatility, d.VolatilityLevel)
		if d.Seasonality != nil && d.Seasonality.HasSeasonality {
			fmt.Fprintf(w, "- Seasonality: period %d, strength %.2f\n", d.Seasonality.Period, d.Seasonality.Strength)
		}
		if len(d.ChangePoints) > 0 {
			fmt.Fprintf(w, "- Change Points: %d\n", len(d.ChangePoints))
		}
	}
	writeDataQualityText(w, r.DataQualityErrors)
}

func writeDataQualityText(w io.Writer, errs []models.DataQualityError) {
	if len(errs) == 0 {
		return
	}
	fmt.Fprintln(w, "\nData Quality:")
	for _, e := range errs {
		fmt.Fprintf(w, "- %s: %s (%s)\n", e.Metric, e.Message, e.Code)
	}
}
