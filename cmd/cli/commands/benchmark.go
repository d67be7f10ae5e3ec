package commands

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/stat"

	"github.com/inferloop/tsforecast/cmd/cli/config"
	"github.com/inferloop/tsforecast/internal/analytics"
	"github.com/inferloop/tsforecast/internal/api"
	"github.com/inferloop/tsforecast/pkg/constants"
	"github.com/inferloop/tsforecast/pkg/models"
)

type BenchmarkOptions struct {
	InputFile    string
	Action       string
	Metrics      []string
	HorizonDays  int
	Days         int
	Iterations   int
	Concurrency  int
	OutputFormat string
}

// BenchmarkResult summarises per-run latencies
type BenchmarkResult struct {
	Action       string        `json:"action" yaml:"action"`
	Observations int           `json:"observations" yaml:"observations"`
	Iterations   int           `json:"iterations" yaml:"iterations"`
	Concurrency  int           `json:"concurrency" yaml:"concurrency"`
	Failures     int           `json:"failures" yaml:"failures"`
	Total        time.Duration `json:"total_ns" yaml:"total"`
	Mean         time.Duration `json:"mean_ns" yaml:"mean"`
	P50          time.Duration `json:"p50_ns" yaml:"p50"`
	P90          time.Duration `json:"p90_ns" yaml:"p90"`
	P99          time.Duration `json:"p99_ns" yaml:"p99"`
	Max          time.Duration `json:"max_ns" yaml:"max"`
	Throughput   float64       `json:"throughput_per_second" yaml:"throughput_per_second"`
}

func NewBenchmarkCmd(cfg *config.CLIConfig) *cobra.Command {
	opts := &BenchmarkOptions{}

	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Measure analysis latency in-process",
		Long: `Run the same analysis repeatedly across concurrent workers and report
latency percentiles. Without an input file a generated series is used.`,
		Example: `  # 200 forecasts over a generated year of data, 8 workers
  tsforecast-cli benchmark --days 365 --iterations 200 --concurrency 8

  # Benchmark anomaly detection on an export
  tsforecast-cli benchmark --input metrics.csv --action anomalies`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.OutputFormat == "" {
				opts.OutputFormat = cfg.DefaultFormat
			}
			return runBenchmark(cmd, cfg, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.InputFile, "input", "i", "", "Input file (default: generated data)")
	cmd.Flags().StringVarP(&opts.Action, "action", "a", constants.ActionForecast, "Analysis action")
	cmd.Flags().StringSliceVarP(&opts.Metrics, "metrics", "m", []string{"revenue"}, "Metrics to analyze")
	cmd.Flags().IntVar(&opts.HorizonDays, "horizon", constants.DefaultHorizonDays, "Forecast horizon in days")
	cmd.Flags().IntVar(&opts.Days, "days", 180, "Days of generated data per metric")
	cmd.Flags().IntVarP(&opts.Iterations, "iterations", "n", 50, "Number of analyses to run")
	cmd.Flags().IntVarP(&opts.Concurrency, "concurrency", "c", 4, "Number of concurrent workers")
	cmd.Flags().StringVar(&opts.OutputFormat, "format", "", "Output format (text, json, yaml)")

	return cmd
}

func runBenchmark(cmd *cobra.Command, cfg *config.CLIConfig, opts *BenchmarkOptions) error {
	if opts.Iterations < 1 {
		return fmt.Errorf("iterations must be positive")
	}
	if opts.Concurrency < 1 {
		return fmt.Errorf("concurrency must be positive")
	}

	observations, err := benchmarkObservations(cmd, opts)
	if err != nil {
		return err
	}

	logger := newLogger(cfg)
	service, err := api.NewAnalysisService(&api.ServiceConfig{
		Engine: analytics.NewEngine(cfg.Analytics, logger),
		Logger: logger,
	})
	if err != nil {
		return err
	}

	newRequest := func() *models.AnalysisRequest {
		return &models.AnalysisRequest{
			Action:       opts.Action,
			Metrics:      opts.Metrics,
			HorizonDays:  opts.HorizonDays,
			Observations: observations,
		}
	}

	// fail fast on a request that can never succeed
	if _, err := service.Analyze(cmd.Context(), "", newRequest()); err != nil {
		return fmt.Errorf("benchmark request failed: %w", err)
	}

	result := executeBenchmark(cmd.Context(), opts, func(ctx context.Context) error {
		_, err := service.Analyze(ctx, "", newRequest())
		return err
	})
	result.Action = opts.Action
	result.Observations = len(observations)

	switch opts.OutputFormat {
	case constants.OutputFormatText, "":
		writeBenchmarkText(cmd.OutOrStdout(), result)
		return nil
	default:
		return writeResult(cmd.OutOrStdout(), opts.OutputFormat, result)
	}
}

func benchmarkObservations(cmd *cobra.Command, opts *BenchmarkOptions) ([]models.Observation, error) {
	if opts.InputFile != "" {
		return loadObservations(opts.InputFile, cmd.InOrStdin())
	}

	gen := &GenerateOptions{
		Days:       opts.Days,
		Base:       1000,
		Trend:      0.5,
		Weekly:     0.1,
		NoiseLevel: 0.03,
		Anomalies:  opts.Days / 60,
		Seed:       7,
	}
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rng := newRand(gen.Seed)

	var observations []models.Observation
	for _, metric := range opts.Metrics {
		observations = append(observations, generateSeries(metric, start, gen, rng)...)
	}
	return observations, nil
}

// executeBenchmark runs fn Iterations times on Concurrency workers and
// collects the latency distribution
func executeBenchmark(ctx context.Context, opts *BenchmarkOptions, fn func(context.Context) error) *BenchmarkResult {
	jobs := make(chan struct{}, opts.Iterations)
	for i := 0; i < opts.Iterations; i++ {
		jobs <- struct{}{}
	}
	close(jobs)

	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		latencies = make([]float64, 0, opts.Iterations)
		failures  int
	)

	started := time.Now()
	for w := 0; w < opts.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				if ctx.Err() != nil {
					return
				}
				t := time.Now()
				err := fn(ctx)
				elapsed := time.Since(t)

				mu.Lock()
				if err != nil {
					failures++
				} else {
					latencies = append(latencies, float64(elapsed))
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	total := time.Since(started)

	result := &BenchmarkResult{
		Iterations:  opts.Iterations,
		Concurrency: opts.Concurrency,
		Failures:    failures,
		Total:       total,
	}
	if len(latencies) == 0 {
		return result
	}

	sort.Float64s(latencies)
	result.Mean = time.Duration(stat.Mean(latencies, nil))
	result.P50 = time.Duration(stat.Quantile(0.50, stat.Empirical, latencies, nil))
	result.P90 = time.Duration(stat.Quantile(0.90, stat.Empirical, latencies, nil))
	result.P99 = time.Duration(stat.Quantile(0.99, stat.Empirical, latencies, nil))
	result.Max = time.Duration(latencies[len(latencies)-1])
	if total > 0 {
		result.Throughput = float64(len(latencies)) / total.Seconds()
	}
	return result
}

func writeBenchmarkText(w io.Writer, r *BenchmarkResult) {
	fmt.Fprintf(w, "Benchmark: %s\n", r.Action)
	fmt.Fprintf(w, "- Observations: %d\n", r.Observations)
	fmt.Fprintf(w, "- Iterations: %d (%d workers)\n", r.Iterations, r.Concurrency)
	fmt.Fprintf(w, "- Failures: %d\n", r.Failures)
	fmt.Fprintf(w, "- Total: %s\n", r.Total.Round(time.Millisecond))
	fmt.Fprintf(w, "- Mean: %s\n", r.Mean.Round(time.Microsecond))
	fmt.Fprintf(w, "- P50: %s\n", r.P50.Round(time.Microsecond))
	fmt.Fprintf(w, "- P90: %s\n", r.P90.Round(time.Microsecond))
	fmt.Fprintf(w, "- P99: %s\n", r.P99.Round(time.Microsecond))
	fmt.Fprintf(w, "- Max: %s\n", r.Max.Round(time.Microsecond))
	fmt.Fprintf(w, "- Throughput: %.1f analyses/sec\n", r.Throughput)
}
