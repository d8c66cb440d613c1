// Package reconcile holds the pure decision logic of the membership gate:
// given one member's persisted record and live role state, compute the single
// correcting action. No I/O happens here; callers gather inputs and apply the
// returned action.
package reconcile

import (
	"time"

	"github.com/quiethall/doorman/internal/models"
)

// ActionKind enumerates the correcting actions the engine can emit.
type ActionKind string

const (
	ActionNoOp    ActionKind = "noop"
	ActionPromote ActionKind = "promote"
	ActionDemote  ActionKind = "demote"
	ActionKick    ActionKind = "kick"
)

// Action is the engine's verdict for one member.
type Action struct {
	Kind     ActionKind
	MemberID string
	Reason   string
	// NewDeadline is set on Demote: the fresh link deadline that replaces
	// the lapsed one, so a demoted member is never instantly kick-eligible.
	NewDeadline *time.Time
}

// Policy carries the tunable durations the decision depends on.
type Policy struct {
	// JoinGrace shields members who joined within this window of now.
	JoinGrace time.Duration
	// DemotionDeadline is how long a demoted member gets before becoming
	// kick-eligible again.
	DemotionDeadline time.Duration
}

// Input is everything known about one member at decision time. Role state
// must be read live immediately before calling Decide, never from a snapshot
// taken earlier in the pass.
type Input struct {
	Record          *models.MemberRecord
	HasUnlinkedRole bool
	HasActiveRole   bool
	JoinedAt        time.Time
	// Protected marks administrators and bot accounts, which are exempt
	// from demotion and kicking outright.
	Protected bool
	Now       time.Time
}

// Decide computes the single action for one member. The branch order is
// load-bearing: a member who just paid and is simultaneously past their old
// deadline must be promoted, never kicked, so promotion is evaluated first
// and is exclusive of the later branches.
func Decide(p Policy, in Input) Action {
	id := ""
	if in.Record != nil {
		id = in.Record.MemberID
	}

	if in.Protected {
		return Action{Kind: ActionNoOp, MemberID: id, Reason: "protected member"}
	}
	if !in.JoinedAt.IsZero() && in.Now.Sub(in.JoinedAt) < p.JoinGrace {
		return Action{Kind: ActionNoOp, MemberID: id, Reason: "joined within grace window"}
	}

	switch class := Classify(in.Record, in.Now); {
	case class.Entitled():
		if in.HasUnlinkedRole || !in.HasActiveRole {
			return Action{Kind: ActionPromote, MemberID: id, Reason: "subscription " + string(class)}
		}
	case in.HasActiveRole:
		// class is unlinked or expired here; revoke access but grant a
		// fresh window instead of an instant kick.
		deadline := in.Now.Add(p.DemotionDeadline)
		return Action{Kind: ActionDemote, MemberID: id, Reason: "subscription lapsed", NewDeadline: &deadline}
	case class == ClassExpired:
		return Action{Kind: ActionKick, MemberID: id, Reason: "link deadline expired"}
	}
	return Action{Kind: ActionNoOp, MemberID: id, Reason: "in desired state"}
}
