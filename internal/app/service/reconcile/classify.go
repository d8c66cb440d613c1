package reconcile

import (
	"time"

	"github.com/quiethall/doorman/internal/models"
	"github.com/quiethall/doorman/pkg/types"
)

// Class is the derived membership class of one record at one instant.
// It is computed, never stored.
type Class string

const (
	// ClassActive: the subscription is active.
	ClassActive Class = "active"
	// ClassGrace: cancelled, but the paid period has not lapsed yet.
	ClassGrace Class = "grace"
	// ClassUnlinked: no valid subscription, link deadline not reached.
	ClassUnlinked Class = "unlinked"
	// ClassExpired: no valid subscription and the link deadline has passed.
	ClassExpired Class = "expired"
)

// Entitled reports whether the class grants the active role.
func (c Class) Entitled() bool {
	return c == ClassActive || c == ClassGrace
}

// Classify maps a record and the current time to its membership class.
func Classify(rec *models.MemberRecord, now time.Time) Class {
	if rec == nil {
		return ClassUnlinked
	}
	switch rec.Status {
	case types.SubscriptionStatusActive:
		return ClassActive
	case types.SubscriptionStatusCancelled:
		if rec.SubscriptionEnd != nil && rec.SubscriptionEnd.After(now) {
			return ClassGrace
		}
	}
	// unlinked, or cancelled with a lapsed or missing end time
	if rec.LinkDeadline != nil && rec.LinkDeadline.Before(now) {
		return ClassExpired
	}
	return ClassUnlinked
}
