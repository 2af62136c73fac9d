package models

import (
	"time"

	"gorm.io/datatypes"
)

// Sync directions recorded in SyncRun
const (
	SyncDirectionExport = "export"
	SyncDirectionImport = "import"
	SyncDirectionExpire = "expire"
)

// Sync run statuses
const (
	SyncStatusSuccess = "success"
	SyncStatusFailed  = "failed"
	SyncStatusPlanned = "planned"
)

// SyncRun is the audit trail of every import, export and expiry pass
type SyncRun struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	Collection string         `gorm:"type:varchar(50);not null;index:idx_sync_runs_lookup" json:"collection"`
	Direction  string         `gorm:"type:varchar(20);not null;index:idx_sync_runs_lookup" json:"direction"`
	Status     string         `gorm:"type:varchar(20);not null" json:"status"`
	Inserted   int            `gorm:"default:0" json:"inserted"`
	Updated    int            `gorm:"default:0" json:"updated"`
	Deleted    int            `gorm:"default:0" json:"deleted"`
	Error      string         `gorm:"type:text" json:"error,omitempty"`
	Details    datatypes.JSON `json:"details,omitempty"`
	StartedAt  time.Time      `gorm:"not null" json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// TableName specifies the table name for SyncRun model
func (SyncRun) TableName() string { return "sync_runs" }

// SyncedModels returns every model that must be migrated
func SyncedModels() []interface{} {
	return []interface{}{
		&Course{},
		&Event{},
		&Training{},
		&Video{},
		&Image{},
		&Message{},
		&SyncRun{},
	}
}
