package sync

import (
	"errors"
	"time"
)

// Run kinds.
const (
	KindCarrier = "carrier"
	KindReturns = "returns"
)

// Run statuses. A run starts in running and ends in exactly one terminal
// state; terminal rows are never updated again.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// maxRunErrors caps the per-record errors persisted with a run.
const maxRunErrors = 10

// Stats summarises one sync run. Per-record failures land in Errors and do
// not fail the run; only a fetch-level failure does.
type Stats struct {
	Fetched       int      `json:"fetched"`
	Created       int      `json:"created"`
	Updated       int      `json:"updated"`
	StockConsumed int      `json:"stockConsumed"`
	StockSkipped  int      `json:"stockSkipped"`
	Errors        []string `json:"errors,omitempty"`
}

// AddError appends a record error, dropping it silently once the cap is
// reached. The count of what failed is visible from fetched vs created +
// updated either way.
func (s *Stats) AddError(msg string) {
	if len(s.Errors) < maxRunErrors {
		s.Errors = append(s.Errors, msg)
	}
}

// Run is one persisted sync run.
type Run struct {
	ID         int64
	TenantID   string
	Kind       string
	Status     string
	Stats      Stats
	Error      string
	Cursor     *time.Time
	StartedAt  time.Time
	FinishedAt *time.Time
}

// ErrRunNotFound indicates an unknown run id.
var ErrRunNotFound = errors.New("sync: run not found")
