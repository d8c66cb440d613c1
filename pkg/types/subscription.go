package types

// SubscriptionStatus is the platform-of-record subscription state for a member.
// It is only ever written by the verification backend (webhook) or by explicit
// admin action. The scan loop reads it to decide role actions but never writes
// it; the enforcement clock it owns is the link deadline.
type SubscriptionStatus string

const (
	SubscriptionStatusUnlinked  SubscriptionStatus = "unlinked"
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

// Valid reports whether s is one of the three known statuses.
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionStatusUnlinked, SubscriptionStatusActive, SubscriptionStatusCancelled:
		return true
	}
	return false
}

// ScanTrigger records what started a scan pass.
type ScanTrigger string

const (
	ScanTriggerTimer  ScanTrigger = "timer"
	ScanTriggerManual ScanTrigger = "manual"
)
