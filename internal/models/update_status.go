package models

import (
	"time"

	"gorm.io/gorm"
)

// Data update run states.
const (
	UpdateIdle    = "idle"
	UpdateRunning = "running"
	UpdateSuccess = "success"
	UpdateFailed  = "failed"
)

// UpdateStatus is the singleton record tracking the bar update runner.
// The "running" value doubles as the single-flight guard: the transition
// into it is done with a conditional write so two near-simultaneous
// triggers cannot both start a run.
type UpdateStatus struct {
	gorm.Model
	Status    string     `gorm:"default:idle" json:"status"`
	LastRun   *time.Time `json:"last_run"`
	LastError string     `json:"last_error"`
}
