package messages

import "time"

// SyncItemResolved is published when a queue item reaches a terminal state,
// so fleet dashboards can show per-device sync health without polling devices.
type SyncItemResolved struct {
	ItemID     uint64    `json:"item_id"`
	Endpoint   string    `json:"endpoint"`
	Method     string    `json:"method"`
	TargetKind string    `json:"target_kind"`
	TargetID   uint64    `json:"target_id"`
	Status     string    `json:"status"`
	RetryCount int32     `json:"retry_count"`
	ResolvedAt time.Time `json:"resolved_at"`
	Error      *string   `json:"error,omitempty"`
}
