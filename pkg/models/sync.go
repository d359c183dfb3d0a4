package models

import (
	"time"

	"github.com/google/uuid"
)

// Sync run kinds.
const (
	SyncKindFull        = "full"
	SyncKindIncremental = "incremental"
)

// Sync run statuses.
const (
	SyncStatusCompleted = "completed"
	SyncStatusCancelled = "cancelled"
	SyncStatusFailed    = "failed"
)

// SyncRun is the report of one batch synchronization pass. Runs are
// ephemeral: the engine keeps the most recent run per kind in memory and
// writes an audit row at completion, nothing else survives a restart.
type SyncRun struct {
	ID         uuid.UUID  `json:"id"`
	Kind       string     `json:"kind"`
	Status     string     `json:"status"`
	Since      *time.Time `json:"since,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
	Total      int        `json:"total"`
	Created    int        `json:"created"`
	Updated    int        `json:"updated"`
	Deleted    int        `json:"deleted"`
	Skipped    int        `json:"skipped"`
	Errors     []string   `json:"errors"`
}

// FailureRate is the fraction of records in the run that were skipped.
func (r *SyncRun) FailureRate() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Skipped) / float64(r.Total)
}

// SyncStats aggregates the engine's run history since process start.
type SyncStats struct {
	LastFull        *SyncRun `json:"last_full,omitempty"`
	LastIncremental *SyncRun `json:"last_incremental,omitempty"`
	TotalRuns       int      `json:"total_runs"`
	TotalCreated    int      `json:"total_created"`
	TotalUpdated    int      `json:"total_updated"`
	TotalDeleted    int      `json:"total_deleted"`
	TotalSkipped    int      `json:"total_skipped"`
	FailureRate     float64  `json:"failure_rate"`
	RecentErrors    []string `json:"recent_errors"`
}
