package models

import (
	"time"

	"github.com/quiethall/doorman/pkg/types"
)

// MemberRecord is the persisted subscription/deadline row for one guild
// member. Exactly one row exists per member_id; writes go through
// upsert-on-conflict so re-joins never create duplicates.
type MemberRecord struct {
	ID       string                   `gorm:"column:id;type:uuid;primary_key" json:"id"`
	MemberID string                   `gorm:"column:member_id;type:varchar(32);not null;uniqueIndex" json:"member_id"`
	Status   types.SubscriptionStatus `gorm:"column:subscription_status;type:varchar(16);not null" json:"subscription_status"`
	// SubscriptionEnd is meaningful only when Status is cancelled: the
	// member stays effectively active until this time (grace period).
	SubscriptionEnd *time.Time `gorm:"column:subscription_end;default:null" json:"subscription_end"`
	// LinkDeadline is the locally-owned enforcement clock: the moment after
	// which an unlinked member becomes kick-eligible.
	LinkDeadline *time.Time `gorm:"column:link_deadline;default:null" json:"link_deadline"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (MemberRecord) TableName() string {
	return "member_records"
}
