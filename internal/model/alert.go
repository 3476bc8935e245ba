package model

import (
	"time"
)

// Alert represents one pending safety alert from the remote feed.
//
// ID doubles as the sort and pagination key: higher means more recent.
// Alerts are never mutated in place; they are created when first seen in a
// page response and removed when resolved.
type Alert struct {
	ID          int64     `json:"id"`
	FileID      string    `json:"file_id"`
	ResourceRef string    `json:"resource_ref"`
	Description string    `json:"description"`
	ObservedAt  time.Time `json:"observed_at"`
}

// Counter is the latest observed value of the live occupancy counter.
// No ordering or dedup semantics; stale values are simply overwritten.
type Counter struct {
	Value     int64     `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}
