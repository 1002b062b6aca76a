package usecase

import "context"

// MetricsSummary represents aggregated identification insights.
type MetricsSummary struct {
	TotalRequests    int64   `json:"total_requests"`
	MatchedRequests  int64   `json:"matched_requests"`
	MatchRate        float64 `json:"match_rate"`
	AverageScore     float64 `json:"average_score"`
	AverageLatencyMs float64 `json:"average_latency_ms"`
	EnrolledCount    int     `json:"enrolled_count"`
}

// GetMetricsSummary aggregates identification metrics from persisted logs.
func (uc *IdentificationUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalRequests:    aggregation.TotalCount,
		MatchedRequests:  aggregation.MatchedCount,
		AverageScore:     aggregation.AverageScore,
		AverageLatencyMs: aggregation.AverageLatencyMs,
		EnrolledCount:    len(uc.registry.Load(ctx)),
	}

	if aggregation.TotalCount > 0 {
		summary.MatchRate = float64(aggregation.MatchedCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
