package model

// ConfidenceBucket aggregates accept/reject outcomes for suggestions whose
// recorded confidence fell in [Lo, Hi). The final bucket is closed at 1.0.
type ConfidenceBucket struct {
	Lo       float64 `json:"lo"`
	Hi       float64 `json:"hi"`
	Accepted int     `json:"accepted"`
	Rejected int     `json:"rejected"`
}

// AccuracyStats is the on-demand aggregate used to calibrate auto-apply
// thresholds. Descriptive only: nothing in the engine feeds it back into
// the policy automatically.
type AccuracyStats struct {
	BucketWidth float64            `json:"bucket_width"`
	Buckets     []ConfidenceBucket `json:"buckets"`
}

// AuditSummary is the service-level rollup returned by Summary.
type AuditSummary struct {
	OpenDiscrepancies int           `json:"open_discrepancies"`
	ResolvedAccepted  int           `json:"resolved_accepted"`
	ResolvedRejected  int           `json:"resolved_rejected"`
	TotalEvents       int           `json:"total_events"`
	Accuracy          AccuracyStats `json:"accuracy"`
}
