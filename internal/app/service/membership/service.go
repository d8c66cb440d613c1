// Package membership implements the single-member enforcement paths: the
// join handler and the webhook activation path. Both are thin adapters that
// gather inputs and defer the decision rules to the reconcile package.
package membership

import (
	"context"
	"errors"
	"fmt"
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

// Records is the slice of the record store this service depends on.
type Records interface {
	Get(ctx context.Context, memberID string) (*models.MemberRecord, error)
	Upsert(ctx context.Context, memberID string, status types.SubscriptionStatus, linkDeadline *time.Time) error
	Activate(ctx context.Context, memberID string, subscriptionEnd *time.Time) error
	UpsertIfAbsent(ctx context.Context, memberID string, deadline time.Time) (bool, error)
}

type Service struct {
	cfg *config.Config
	rec Records
	dir directory.Directory
	log *zap.SugaredLogger
	now func() time.Time
}

func NewService(cfg *config.Config, rec Records, dir directory.Directory, log *zap.SugaredLogger) *Service {
	return &Service{cfg: cfg, rec: rec, dir: dir, log: log, now: time.Now}
}

func (s *Service) unlinkedRole() snowflake.ID { return snowflake.ID(s.cfg.Discord.UnlinkedRoleID) }
func (s *Service) activeRole() snowflake.ID   { return snowflake.ID(s.cfg.Discord.ActiveRoleID) }

// HandleJoin runs when a member joins the guild. A returning subscriber is
// restored immediately and never re-gated; everyone else is tagged unlinked
// with a deadline: 24h for first-time members, 1h for returning ones.
func (s *Service) HandleJoin(ctx context.Context, m *directory.Member) error {
	if m.Bot {
		return nil
	}
	memberID := m.ID.String()
	now := s.now()

	rec, err := s.rec.Get(ctx, memberID)
	if err != nil && !errors.Is(err, record.ErrRecordNotFound) {
		return fmt.Errorf("join lookup failed for %s: %w", memberID, err)
	}

	if rec != nil && reconcile.Classify(rec, now).Entitled() {
		s.log.Infow("restoring returning subscriber", "member_id", memberID, "username", m.Username)
		if err := s.dir.GrantRole(ctx, memberID, s.activeRole()); err != nil {
			return fmt.Errorf("failed to restore active role for %s: %w", memberID, err)
		}
		if m.HasRole(s.unlinkedRole()) {
			if err := s.dir.RevokeRole(ctx, memberID, s.unlinkedRole()); err != nil {
				s.log.Warnw("failed to strip unlinked role from returning subscriber", "member_id", memberID, "err", err)
			}
		}
		return nil
	}

	// New or lapsed member: gate them with a fresh window. Returning
	// members have been through onboarding once, so they get less time.
	window := s.cfg.Scan.NewMemberDeadline
	if rec != nil {
		window = s.cfg.Scan.ReturningMemberDeadline
	}
	deadline := now.Add(window)

	if err := s.dir.GrantRole(ctx, memberID, s.unlinkedRole()); err != nil {
		return fmt.Errorf("failed to grant unlinked role to %s: %w", memberID, err)
	}
	if err := s.rec.Upsert(ctx, memberID, types.SubscriptionStatusUnlinked, &deadline); err != nil {
		return fmt.Errorf("failed to upsert record for %s: %w", memberID, err)
	}

	notice := fmt.Sprintf(
		"Welcome! You have **%s** to link your subscription before access is removed.\n\nType `/link` to get your verification link.",
		formatWindow(window))
	if err := s.dir.DirectMessage(ctx, memberID, notice); err != nil {
		// DMs may be closed; the roles carry the enforcement either way.
		s.log.Debugw("join notice not delivered", "member_id", memberID, "err", err)
	}

	s.log.Infow("gated new member", "member_id", memberID, "username", m.Username,
		"deadline", deadline, "returning", rec != nil)
	return nil
}

// Activate is the low-latency promotion path driven by the verification
// backend's webhook. The record write always happens; the live role swap is
// best-effort, and the next scan pass completes it if the member is absent.
func (s *Service) Activate(ctx context.Context, memberID string, subscriptionEnd *time.Time) error {
	if err := s.rec.Activate(ctx, memberID, subscriptionEnd); err != nil {
		return err
	}

	m, err := s.dir.Member(ctx, memberID)
	if err != nil {
		if errors.Is(err, directory.ErrMemberNotFound) {
			s.log.Infow("activated member not in guild; next scan will promote", "member_id", memberID)
			return nil
		}
		return fmt.Errorf("failed to resolve activated member %s: %w", memberID, err)
	}

	if !m.HasRole(s.activeRole()) {
		if err := s.dir.GrantRole(ctx, memberID, s.activeRole()); err != nil {
			return fmt.Errorf("failed to grant active role to %s: %w", memberID, err)
		}
	}
	if m.HasRole(s.unlinkedRole()) {
		if err := s.dir.RevokeRole(ctx, memberID, s.unlinkedRole()); err != nil {
			s.log.Warnw("failed to revoke unlinked role after activation", "member_id", memberID, "err", err)
		}
	}
	s.log.Infow("webhook promotion applied", "member_id", memberID, "username", m.Username)
	return nil
}

// BulkRegister gives every non-bot member currently holding the unlinked role
// a record with a fresh 24h deadline, without touching existing rows. Returns
// the number of rows created.
func (s *Service) BulkRegister(ctx context.Context) (int, error) {
	deadline := s.now().Add(s.cfg.Scan.NewMemberDeadline)
	created := 0
	err := s.dir.EachMember(ctx, func(m *directory.Member) error {
		if m.Bot || !m.HasRole(s.unlinkedRole()) {
			return nil
		}
		ok, err := s.rec.UpsertIfAbsent(ctx, m.ID.String(), deadline)
		if err != nil {
			s.log.Warnw("bulk register failed for member", "member_id", m.ID, "err", err)
			return nil
		}
		if ok {
			created++
		}
		return nil
	})
	if err != nil {
		return created, fmt.Errorf("bulk register aborted: %w", err)
	}
	return created, nil
}

// formatWindow renders a deadline window the way members expect to read it.
func formatWindow(d time.Duration) string {
	if d < time.Hour {
		return fmt.Sprintf("%d minutes", int(d.Minutes()))
	}
	if h := int(d.Hours()); h != 1 {
		return fmt.Sprintf("%d hours", h)
	}
	return "1 hour"
}
