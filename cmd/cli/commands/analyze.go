package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inferloop/tsforecast/cmd/cli/config"
	"github.com/inferloop/tsforecast/internal/analytics"
	"github.com/inferloop/tsforecast/internal/api"
	"github.com/inferloop/tsforecast/internal/storage"
	"github.com/inferloop/tsforecast/pkg/constants"
	"github.com/inferloop/tsforecast/pkg/interfaces"
	"github.com/inferloop/tsforecast/pkg/models"
)

type AnalyzeOptions struct {
	InputFile       string
	Action          string
	Metrics         []string
	HorizonDays     int
	ConfidenceLevel float64
	TrainTestSplit  float64
	Folds           int
	StartDate       string
	EndDate         string
	NoEnsemble      bool
	ServerURL       string
	OutputFormat    string
	OutputFile      string
}

func NewAnalyzeCmd(cfg *config.CLIConfig) *cobra.Command {
	opts := &AnalyzeOptions{}

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Forecast, explain and check business metrics",
		Long: `Run an analysis over daily business metrics. Observations come from an
input file (JSON or CSV), or from the configured source when no input is
given. With --server the request is sent to a running forecasting server.`,
		Example: `  # Forecast revenue for the next two weeks
  tsforecast-cli analyze --input metrics.csv --metrics revenue --horizon 14

  # Detect anomalies across every metric in the file
  tsforecast-cli analyze --input metrics.json --action anomalies --format json

  # Backtest against a remote server
  tsforecast-cli analyze --input metrics.csv --action backtest --split 0.8 --server http://localhost:8080`,
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
	cmd.Flags().StringVarP(&opts.Action, "action", "a", constants.ActionForecast, "Analysis action (forecast, insights, anomalies, backtest, statistics)")
	cmd.Flags().StringVar(&opts.ServerURL, "server", "", "Forecasting server URL (default runs in-process)")

	return cmd
}

// addRequestFlags registers the flags shared by analyze and backtest
func addRequestFlags(cmd *cobra.Command, opts *AnalyzeOptions) {
	cmd.Flags().StringVarP(&opts.InputFile, "input", "i", "", "Input file (JSON or CSV, - for stdin)")
	cmd.Flags().StringSliceVarP(&opts.Metrics, "metrics", "m", nil, "Metrics to analyze (default: all in the input)")
	cmd.Flags().IntVar(&opts.HorizonDays, "horizon", 0, "Forecast horizon in days (1-365)")
	cmd.Flags().Float64Var(&opts.ConfidenceLevel, "confidence", 0, "Confidence level (0.8-0.99)")
	cmd.Flags().Float64Var(&opts.TrainTestSplit, "split", 0, "Backtest train/test split (0.5-0.9)")
	cmd.Flags().IntVar(&opts.Folds, "folds", 0, "Cross-validation folds (reserved)")
	cmd.Flags().StringVar(&opts.StartDate, "start-date", "", "Start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.EndDate, "end-date", "", "End date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&opts.NoEnsemble, "no-ensemble", false, "Use a single model instead of the ensemble")
	cmd.Flags().StringVar(&opts.OutputFormat, "format", "", "Output format (text, json, yaml)")
	cmd.Flags().StringVarP(&opts.OutputFile, "output", "o", "-", "Output file (- for stdout)")
}

func runAnalyze(cmd *cobra.Command, cfg *config.CLIConfig, opts *AnalyzeOptions) error {
	req, err := buildRequest(cmd, opts)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout(cfg))
	defer cancel()

	var result interface{}
	if opts.ServerURL != "" {
		result, err = analyzeRemote(ctx, opts.ServerURL, req)
	} else {
		result, err = analyzeLocal(ctx, cfg, req, newLogger(cfg))
	}
	if err != nil {
		return err
	}

	out, closeOut, err := openOutput(opts.OutputFile, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer closeOut()

	return writeResult(out, opts.OutputFormat, result)
}

func buildRequest(cmd *cobra.Command, opts *AnalyzeOptions) (*models.AnalysisRequest, error) {
	req := &models.AnalysisRequest{
		Action:          opts.Action,
		Metrics:         opts.Metrics,
		HorizonDays:     opts.HorizonDays,
		ConfidenceLevel: opts.ConfidenceLevel,
		Validation: models.ValidationOptions{
			TrainTestSplit:       opts.TrainTestSplit,
			CrossValidationFolds: opts.Folds,
		},
		StartDate: opts.StartDate,
		EndDate:   opts.EndDate,
	}
	if opts.NoEnsemble {
		ensemble := false
		req.Models.Ensemble = &ensemble
	}

	if opts.InputFile != "" {
		observations, err := loadObservations(opts.InputFile, cmd.InOrStdin())
		if err != nil {
			return nil, err
		}
		req.Observations = observations
	}

	return req, nil
}

// analyzeLocal runs the request in-process, fetching from the configured
// source when the request carries no observations
func analyzeLocal(ctx context.Context, cfg *config.CLIConfig, req *models.AnalysisRequest, logger *logrus.Logger) (interface{}, error) {
	var source interfaces.ObservationSource
	if len(req.Observations) == 0 {
		s, err := storage.NewFactory(logger).CreateSource(cfg.Source)
		if err != nil {
			return nil, fmt.Errorf("failed to create observation source: %w", err)
		}
		if s != nil {
			if err := s.Connect(ctx); err != nil {
				return nil, fmt.Errorf("failed to connect observation source: %w", err)
			}
			defer s.Close()
			source = s
		}
	}

	service, err := api.NewAnalysisService(&api.ServiceConfig{
		Engine: analytics.NewEngine(cfg.Analytics, logger),
		Source: source,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	return service.Analyze(ctx, "", req)
}

// remoteResponse mirrors the server envelope with the payload left raw
type remoteResponse struct {
	Success bool            `json:"success"`
	Action  string          `json:"action"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Details json.RawMessage `json:"details"`
}

func analyzeRemote(ctx context.Context, serverURL string, req *models.AnalysisRequest) (interface{}, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	url := strings.TrimRight(serverURL, "/") + constants.APIPrefix + "/analytics/" + req.Action
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set(constants.HeaderContentType, constants.ContentTypeJSON)

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", serverURL, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var envelope remoteResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("unexpected response (%d): %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if !envelope.Success {
		return nil, fmt.Errorf("server error (%d): %s %s", resp.StatusCode, envelope.Error, string(envelope.Details))
	}

	return decodePayload(envelope.Action, envelope.Data)
}

// decodePayload restores the typed report for an action
func decodePayload(action string, data json.RawMessage) (interface{}, error) {
	var result interface{}
	switch action {
	case constants.ActionForecast:
		result = &models.ForecastReport{}
	case constants.ActionInsights:
		result = &models.InsightsReport{}
	case constants.ActionAnomalies:
		result = &models.AnomalyReport{}
	case constants.ActionBacktest:
		result = &models.BacktestReport{}
	case constants.ActionStatistics:
		result = &analytics.StatisticsReport{}
	default:
		return nil, fmt.Errorf("unknown action in response: %q", action)
	}

	if err := json.Unmarshal(data, result); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", action, err)
	}
	return result, nil
}

func commandTimeout(cfg *config.CLIConfig) time.Duration {
	if cfg.Timeout > 0 {
		return cfg.Timeout
	}
	return constants.DefaultRequestTimeout
}

func newLogger(cfg *config.CLIConfig) *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	if cfg.Preferences.Verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}
