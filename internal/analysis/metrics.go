package analysis

import (
	"sync"
	"time"
)

// MetricsSummary represents aggregated analysis insights for this process.
type MetricsSummary struct {
	TotalRequests              int64   `json:"total_requests"`
	FailedRequests             int64   `json:"failed_requests"`
	ServiceResults             int64   `json:"service_results"`
	FallbackResults            int64   `json:"fallback_results"`
	StaleResults               int64   `json:"stale_results"`
	FallbackRate               float64 `json:"fallback_rate"`
	AverageConfidence          float64 `json:"average_confidence"`
	AveragePredictionLatencyMs float64 `json:"average_prediction_latency_ms"`
}

type metrics struct {
	mu            sync.Mutex
	total         int64
	failed        int64
	service       int64
	fallback      int64
	stale         int64
	confidenceSum float64
	latencySum    time.Duration
}

func (m *metrics) record(result *Analysis, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.total++
	if result.Fallback {
		m.fallback++
	} else {
		m.service++
	}
	if result.Stale {
		m.stale++
	}
	m.confidenceSum += result.Prediction.Confidence
	m.latencySum += latency
}

func (m *metrics) fail() {
	m.mu.Lock()
	m.total++
	m.failed++
	m.mu.Unlock()
}

func (m *metrics) summary() MetricsSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	summary := MetricsSummary{
		TotalRequests:   m.total,
		FailedRequests:  m.failed,
		ServiceResults:  m.service,
		FallbackResults: m.fallback,
		StaleResults:    m.stale,
	}

	if completed := m.service + m.fallback; completed > 0 {
		summary.FallbackRate = float64(m.fallback) / float64(completed)
		summary.AverageConfidence = m.confidenceSum / float64(completed)
		summary.AveragePredictionLatencyMs = float64(m.latencySum.Microseconds()) / 1000 / float64(completed)
	}

	return summary
}
