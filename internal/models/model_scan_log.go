package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/quiethall/doorman/pkg/types"
)

// ScanLog records the outcome of one completed scan pass.
type ScanLog struct {
	ID         string            `gorm:"column:id;type:uuid;primary_key" json:"id"`
	Trigger    types.ScanTrigger `gorm:"column:trigger;type:varchar(16);not null" json:"trigger"`
	Promoted   int               `gorm:"column:promoted;not null;default:0" json:"promoted"`
	Demoted    int               `gorm:"column:demoted;not null;default:0" json:"demoted"`
	Kicked     int               `gorm:"column:kicked;not null;default:0" json:"kicked"`
	Skipped    int               `gorm:"column:skipped;not null;default:0" json:"skipped"`
	Errored    int               `gorm:"column:errored;not null;default:0" json:"errored"`
	StartedAt  time.Time         `gorm:"column:started_at;not null" json:"started_at"`
	FinishedAt time.Time         `gorm:"column:finished_at;not null" json:"finished_at"`
	// Extra stores additional JSON data (for example per-member error notes).
	Extra datatypes.JSON `gorm:"column:extra;type:jsonb;default:'{}'" json:"extra"`
	// CreatedAt is managed by GORM and records the creation time.
	CreatedAt time.Time `json:"created_at"`
}

func (ScanLog) TableName() string {
	return "scan_logs"
}
