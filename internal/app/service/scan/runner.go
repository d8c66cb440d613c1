// Package scan drives the reconciliation engine over the whole membership
// set: a fixed-cadence pass plus a manual trigger, serialized per process,
// paced between members, with per-member failures recovered locally.
package scan

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"go.uber.org/zap"

	"github.com/quiethall/doorman/internal/app/service/directory"
	"github.com/quiethall/doorman/internal/app/service/reconcile"
	"github.com/quiethall/doorman/internal/app/service/record"
	"github.com/quiethall/doorman/internal/models"
	"github.com/quiethall/doorman/pkg/config"
	"github.com/quiethall/doorman/pkg/types"
)

// ErrScanInProgress signals that a trigger arrived while a pass was already
// running. The trigger is coalesced into a no-op, never queued.
var ErrScanInProgress = errors.New("scan already in progress")

const streamBatchSize = 200

// Records is the slice of the record store the runner depends on.
type Records interface {
	Get(ctx context.Context, memberID string) (*models.MemberRecord, error)
	EntitledIDs(ctx context.Context, now time.Time) ([]string, error)
	StreamIDs(ctx context.Context, batchSize int, fn func(memberID string) error) error
	SetDeadline(ctx context.Context, memberID string, deadline time.Time) error
	SaveScanLog(ctx context.Context, entry *models.ScanLog)
}

// Summary aggregates the outcome of one pass.
type Summary struct {
	Trigger    types.ScanTrigger
	Promoted   int
	Demoted    int
	Kicked     int
	Skipped    int
	Errored    int
	StartedAt  time.Time
	FinishedAt time.Time
}

func (s *Summary) String() string {
	return fmt.Sprintf("Check complete: promoted %d | demoted %d | kicked %d | skipped %d | errors %d",
		s.Promoted, s.Demoted, s.Kicked, s.Skipped, s.Errored)
}

type Runner struct {
	cfg   *config.Config
	rec   Records
	dir   directory.Directory
	log   *zap.SugaredLogger
	pacer Pacer
	now   func() time.Time

	running atomic.Bool
}

func NewRunner(cfg *config.Config, rec Records, dir directory.Directory, log *zap.SugaredLogger) *Runner {
	return &Runner{
		cfg:   cfg,
		rec:   rec,
		dir:   dir,
		log:   log,
		pacer: FixedDelay{Delay: cfg.Scan.MemberDelay},
		now:   time.Now,
	}
}

func (r *Runner) unlinkedRole() snowflake.ID { return snowflake.ID(r.cfg.Discord.UnlinkedRoleID) }
func (r *Runner) activeRole() snowflake.ID   { return snowflake.ID(r.cfg.Discord.ActiveRoleID) }

// Run executes one full pass. At most one pass runs at a time; a concurrent
// trigger gets ErrScanInProgress. Per-member failures are counted and the
// pass continues; only structural failures (store unreachable, member
// enumeration broken, cancellation) abort it.
func (r *Runner) Run(ctx context.Context, trigger types.ScanTrigger) (*Summary, error) {
	if !r.running.CompareAndSwap(false, true) {
		r.log.Infow("scan trigger coalesced", "trigger", trigger)
		return nil, ErrScanInProgress
	}
	defer r.running.Store(false)

	started := r.now()
	summary := &Summary{Trigger: trigger, StartedAt: started}
	r.log.Infow("scan pass starting", "trigger", trigger)

	// The safe set is computed once per pass: every member whose record is
	// entitled right now. No demote or kick in this pass may touch them,
	// even if a later per-member classification disagrees.
	entitled, err := r.rec.EntitledIDs(ctx, started)
	if err != nil {
		return nil, fmt.Errorf("scan aborted: %w", err)
	}
	safe := reconcile.NewSafeSet(entitled)

	policy := reconcile.Policy{
		JoinGrace:        r.cfg.Scan.JoinGrace,
		DemotionDeadline: r.cfg.Scan.DemotionDeadline,
	}

	err = r.rec.StreamIDs(ctx, streamBatchSize, func(memberID string) error {
		// Cooperative stop between members for clean shutdown.
		if err := r.pacer.Wait(ctx); err != nil {
			return err
		}
		r.reconcileMember(ctx, policy, safe, memberID, summary)
		return nil
	})

	summary.FinishedAt = r.now()
	if err != nil {
		r.log.Warnw("scan pass interrupted", "trigger", trigger, "err", err, "summary", summary.String())
		return summary, err
	}

	r.rec.SaveScanLog(ctx, &models.ScanLog{
		Trigger:    summary.Trigger,
		Promoted:   summary.Promoted,
		Demoted:    summary.Demoted,
		Kicked:     summary.Kicked,
		Skipped:    summary.Skipped,
		Errored:    summary.Errored,
		StartedAt:  summary.StartedAt,
		FinishedAt: summary.FinishedAt,
	})
	if err := r.dir.Announce(ctx, summary.String()); err != nil {
		r.log.Warnw("failed to announce scan summary", "err", err)
	}
	r.log.Infow("scan pass finished", "trigger", trigger,
		"promoted", summary.Promoted, "demoted", summary.Demoted, "kicked", summary.Kicked,
		"skipped", summary.Skipped, "errored", summary.Errored)
	return summary, nil
}

// reconcileMember handles exactly one member. Record and role state are
// re-read live here, immediately before any mutation, so a webhook promotion
// that landed mid-pass always wins over a stale demotion decision.
func (r *Runner) reconcileMember(ctx context.Context, policy reconcile.Policy, safe reconcile.SafeSet, memberID string, summary *Summary) {
	rec, err := r.rec.Get(ctx, memberID)
	if err != nil {
		if errors.Is(err, record.ErrRecordNotFound) {
			summary.Skipped++
			return
		}
		r.log.Warnw("record read failed", "member_id", memberID, "err", err)
		summary.Errored++
		return
	}

	m, err := r.dir.Member(ctx, memberID)
	if err != nil {
		if errors.Is(err, directory.ErrMemberNotFound) {
			// Left the guild; their record stays for a possible return.
			summary.Skipped++
			return
		}
		r.log.Warnw("member fetch failed", "member_id", memberID, "err", err)
		summary.Errored++
		return
	}

	action := reconcile.Decide(policy, reconcile.Input{
		Record:          rec,
		HasUnlinkedRole: m.HasRole(r.unlinkedRole()),
		HasActiveRole:   m.HasRole(r.activeRole()),
		JoinedAt:        m.JoinedAt,
		Protected:       m.Admin || m.Bot,
		Now:             r.now(),
	})

	switch action.Kind {
	case reconcile.ActionPromote:
		r.applyPromote(ctx, m, summary)
	case reconcile.ActionDemote:
		if safe.Contains(memberID) {
			summary.Skipped++
			return
		}
		r.applyDemote(ctx, m, action, summary)
	case reconcile.ActionKick:
		if safe.Contains(memberID) {
			summary.Skipped++
			return
		}
		r.applyKick(ctx, m, action, summary)
	default:
		summary.Skipped++
	}
}

func (r *Runner) applyPromote(ctx context.Context, m *directory.Member, summary *Summary) {
	memberID := m.ID.String()
	if !m.HasRole(r.activeRole()) {
		if err := r.dir.GrantRole(ctx, memberID, r.activeRole()); err != nil {
			r.log.Warnw("promote failed", "member_id", memberID, "err", err)
			summary.Errored++
			return
		}
	}
	if m.HasRole(r.unlinkedRole()) {
		if err := r.dir.RevokeRole(ctx, memberID, r.unlinkedRole()); err != nil {
			r.log.Warnw("unlinked role revoke failed after promote", "member_id", memberID, "err", err)
		}
	}
	r.log.Infow("promoted", "member_id", memberID, "username", m.Username)
	summary.Promoted++
}

func (r *Runner) applyDemote(ctx context.Context, m *directory.Member, action reconcile.Action, summary *Summary) {
	memberID := m.ID.String()
	if err := r.dir.RevokeRole(ctx, memberID, r.activeRole()); err != nil {
		r.log.Warnw("demote failed", "member_id", memberID, "err", err)
		summary.Errored++
		return
	}
	if err := r.dir.GrantRole(ctx, memberID, r.unlinkedRole()); err != nil {
		r.log.Warnw("unlinked role grant failed after demote", "member_id", memberID, "err", err)
	}
	// Fresh window so demotion never leads to an instant kick.
	if action.NewDeadline != nil {
		if err := r.rec.SetDeadline(ctx, memberID, *action.NewDeadline); err != nil {
			r.log.Warnw("deadline reset failed after demote", "member_id", memberID, "err", err)
			summary.Errored++
			return
		}
	}
	notice := fmt.Sprintf("**Subscription expired:** your access has ended. You have %d hours to resubscribe before removal.",
		int(r.cfg.Scan.DemotionDeadline.Hours()))
	if err := r.dir.DirectMessage(ctx, memberID, notice); err != nil {
		r.log.Debugw("demotion notice not delivered", "member_id", memberID, "err", err)
	}
	r.log.Infow("demoted", "member_id", memberID, "username", m.Username, "reason", action.Reason)
	summary.Demoted++
}

func (r *Runner) applyKick(ctx context.Context, m *directory.Member, action reconcile.Action, summary *Summary) {
	memberID := m.ID.String()
	if err := r.dir.Kick(ctx, memberID, action.Reason); err != nil {
		if errors.Is(err, directory.ErrMemberNotFound) {
			summary.Skipped++
			return
		}
		r.log.Warnw("kick failed", "member_id", memberID, "err", err)
		summary.Errored++
		return
	}
	r.log.Infow("kicked", "member_id", memberID, "username", m.Username, "reason", action.Reason)
	summary.Kicked++
}
