package analytics

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/inferloop/tsforecast/pkg/models"
)

// Insight categories in priority order
const (
	InsightTrend       = "trend"
	InsightSeasonality = "seasonality"
	InsightVolatility  = "volatility"
	InsightAnomalies   = "anomalies"
	InsightStable      = "stable"
)

// Recommendation catalog
const (
	RecommendScaleForGrowth     = "Scale inventory, staffing and fulfilment capacity ahead of the projected growth"
	RecommendInvestigateDecline = "Investigate the drivers of the decline and prioritise retention and win-back campaigns"
	RecommendAlignSeasonal      = "Align marketing spend and staffing with the recurring seasonal peaks"
	RecommendSafetyMargins      = "Plan against this metric with wider safety margins until volatility settles"
	RecommendReviewAnomalies    = "Review the flagged periods for data-quality issues or one-off events"
	RecommendAlertCritical      = "Set up alerting for critical deviations on this metric"
	RecommendMaintain           = "Maintain the current strategy and keep monitoring for changes"
)

// SynthesizeInsight maps a forecast to its headline insight and the
// recommendations whose conditions apply. It always returns one insight.
func (e *Engine) SynthesizeInsight(forecast *models.BusinessMetricForecast) models.MetricInsight {
	growth := growthRate(forecast)
	metric := forecast.Metric
	horizon := len(forecast.Forecasts)
	strongTrend := math.Abs(growth) > e.config.StrongGrowthThreshold && forecast.Insights.Trend != models.TrendStable
	highVolatility := forecast.Insights.VolatilityLevel == models.VolatilityHigh
	anomalyCount := len(forecast.Anomalies)

	insight := models.MetricInsight{
		Metric:          metric,
		GrowthRate:      growth,
		Recommendations: make([]string, 0, 4),
	}

	switch {
	case strongTrend && growth > 0:
		insight.Category = InsightTrend
		insight.Insight = fmt.Sprintf("%s is projected to grow %s%% over the next %d periods",
			metric, formatPercent(growth), horizon)
	case strongTrend:
		insight.Category = InsightTrend
		insight.Insight = fmt.Sprintf("%s is projected to decline %s%% over the next %d periods",
			metric, formatPercent(-growth), horizon)
	case forecast.Insights.SeasonalityDetected:
		insight.Category = InsightSeasonality
		insight.Insight = fmt.Sprintf("%s follows a recurring seasonal pattern", metric)
	case highVolatility:
		insight.Category = InsightVolatility
		insight.Insight = fmt.Sprintf("%s is highly volatile, so forecasts carry wide uncertainty", metric)
	case anomalyCount > 0:
		insight.Category = InsightAnomalies
		insight.Insight = fmt.Sprintf("%d anomalies detected in %s", anomalyCount, metric)
	default:
		insight.Category = InsightStable
		insight.Insight = fmt.Sprintf("%s shows stable performance", metric)
	}

	if strongTrend && growth > 0 {
		insight.Recommendations = append(insight.Recommendations, RecommendScaleForGrowth)
	}
	if strongTrend && growth < 0 {
		insight.Recommendations = append(insight.Recommendations, RecommendInvestigateDecline)
	}
	if forecast.Insights.SeasonalityDetected {
		insight.Recommendations = append(insight.Recommendations, RecommendAlignSeasonal)
	}
	if highVolatility {
		insight.Recommendations = append(insight.Recommendations, RecommendSafetyMargins)
	}
	if anomalyCount > 0 {
		insight.Recommendations = append(insight.Recommendations, RecommendReviewAnomalies)
	}
	for _, a := range forecast.Anomalies {
		if a.Bucket == models.SeverityCritical {
			insight.Recommendations = append(insight.Recommendations, RecommendAlertCritical)
			break
		}
	}
	if len(insight.Recommendations) == 0 {
		insight.Recommendations = append(insight.Recommendations, RecommendMaintain)
	}

	return insight
}

// growthRate is the relative change from the current value to the last
// forecast point. A zero current value yields zero growth.
func growthRate(forecast *models.BusinessMetricForecast) float64 {
	if len(forecast.Forecasts) == 0 || forecast.CurrentValue == 0 {
		return 0
	}
	final := forecast.Forecasts[len(forecast.Forecasts)-1].PredictedValue
	return (final - forecast.CurrentValue) / math.Abs(forecast.CurrentValue)
}

// formatPercent renders a ratio as a percentage with one decimal place
func formatPercent(ratio float64) string {
	return decimal.NewFromFloat(ratio).Mul(decimal.NewFromInt(100)).Round(1).StringFixed(1)
}
