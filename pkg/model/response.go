package model

// SnapshotResponse is returned by backend on successful snapshot ingestion.
type SnapshotResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	ClusterID   string `json:"cluster_id"`
	ReceivedAt  int64  `json:"received_at"`
	ProcessedAt int64  `json:"processed_at"`

	Directives Directives  `json:"directives"`
	Stats      IngestStats `json:"stats,omitempty"`
}

// SnapshotErrorResponse is returned on rejection (4xx errors).
type SnapshotErrorResponse struct {
	Success           bool   `json:"success"`
	Error             string `json:"error"`
	Message           string `json:"message"`
	RetryAfterSeconds *int   `json:"retry_after_seconds,omitempty"`
}

// Directives tell the agent what to do next.
type Directives struct {
	NextSnapshotInSeconds int  `json:"next_snapshot_in_seconds"`
	RetryAfterSeconds     *int `json:"retry_after_seconds,omitempty"`
	IncludeCostAnalysis   bool `json:"include_cost_analysis"`
}

// IngestStats returned after successful processing.
type IngestStats struct {
	NodesProcessed       int   `json:"nodes_processed"`
	DevicesProcessed     int   `json:"devices_processed"`
	AllocationsProcessed int   `json:"allocations_processed"`
	ProcessingTimeMs     int64 `json:"processing_time_ms"`
}
