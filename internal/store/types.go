package store

import (
	"encoding/json"
	"time"
)

// Edge is one append-only graph edge. Edges are never updated or deleted.
type Edge struct {
	ID        int64
	RunID     string
	Type      string
	Target    string
	Data      json.RawMessage
	CreatedAt time.Time
}

// EdgeFilter narrows ListEdges.
type EdgeFilter struct {
	RunID  string
	Type   string
	Target string
	Limit  int
}

// Instance is a created child-workflow instance, unique per (type, name).
type Instance struct {
	ID        string
	Type      string
	Name      string
	Data      json.RawMessage
	CreatedAt time.Time
}

// InstanceFilter narrows ListInstances.
type InstanceFilter struct {
	Type  string
	Limit int
}

// Run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// RunRecord is the persisted trace of one program run.
type RunRecord struct {
	ID         string
	Program    string
	Status     string
	Result     json.RawMessage
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// RunUpdate carries the fields of a run record that change on completion.
// Nil fields are left untouched.
type RunUpdate struct {
	Status     *string
	Result     json.RawMessage
	Error      *string
	FinishedAt *time.Time
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	Program string
	Status  string
	Since   *time.Time
	Limit   int
}
