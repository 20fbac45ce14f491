package models

import "gorm.io/gorm"

// Scheduled job names.
const (
	JobDataUpdate   = "data_update"
	JobSODExecution = "sod_execution"
	JobEODExecution = "eod_execution"
)

// SchedulerCheckpoint records, per job, when it last fired and which
// trigger time was in effect. It survives restarts and drives two
// decisions: suppressing a same-day re-fire, and granting a one-time
// grace window after the trigger time is changed mid-day.
type SchedulerCheckpoint struct {
	gorm.Model
	Job               string `gorm:"uniqueIndex" json:"job"`
	LastExecutionDate string `json:"last_execution_date"` // YYYY-MM-DD, empty = never fired
	LastTriggerTime   string `json:"last_trigger_time"`   // HH:MM in effect at last fire
}
