package models

import "time"

// SystemMetrics is the admin JSON view of process instrumentation.
type SystemMetrics struct {
	CacheHitRatio            float64           `json:"cache_hit_ratio"`
	CacheHits                uint64            `json:"cache_hits"`
	CacheMisses              uint64            `json:"cache_misses"`
	RequestsTotal            uint64            `json:"requests_total"`
	AverageRequestDurationMs float64           `json:"average_request_duration_ms"`
	Transitions              uint64            `json:"transitions"`
	GuardRejections          map[string]uint64 `json:"guard_rejections"`
	JobOutcomes              map[string]uint64 `json:"job_outcomes"`
	Goroutines               int               `json:"goroutines"`
	GeneratedAt              time.Time         `json:"generated_at"`
}
