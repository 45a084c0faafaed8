package models

import "time"

// SystemMetrics represents system level figures captured from instrumentation.
type SystemMetrics struct {
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	TicketsCompleted         uint64    `json:"tickets_completed"`
	TicketsFailed            uint64    `json:"tickets_failed"`
	TicketsRejected          uint64    `json:"tickets_rejected"`
	RecordsProvisioned       uint64    `json:"records_provisioned"`
	ProvisioningFailures     uint64    `json:"provisioning_failures"`
	ActiveBatches            int       `json:"active_batches"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
