// Package directory is the typed adapter over the Discord guild: member
// lookup, role mutation, kicks and direct messages. All reads are live; role
// state is never cached, so callers always act on what Discord currently
// reports.
package directory

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"
	"go.uber.org/zap"

	"github.com/quiethall/doorman/pkg/config"
)

var ErrMemberNotFound = errors.New("member not found in guild")

const pageSize = 1000

// Member is the slice of guild-member state the reconciliation engine needs.
type Member struct {
	ID       snowflake.ID
	Username string
	Bot      bool
	JoinedAt time.Time
	RoleIDs  []snowflake.ID
	// Admin is true for the guild owner and anyone holding a role with the
	// Administrator permission.
	Admin bool
}

func (m *Member) HasRole(roleID snowflake.ID) bool {
	for _, id := range m.RoleIDs {
		if id == roleID {
			return true
		}
	}
	return false
}

// Directory is the membership-directory boundary consumed by the scan loop
// and the single-member event paths.
type Directory interface {
	Member(ctx context.Context, memberID string) (*Member, error)
	EachMember(ctx context.Context, fn func(*Member) error) error
	GrantRole(ctx context.Context, memberID string, roleID snowflake.ID) error
	RevokeRole(ctx context.Context, memberID string, roleID snowflake.ID) error
	Kick(ctx context.Context, memberID string, reason string) error
	// DirectMessage is best-effort: closed DMs return an error the caller
	// is expected to swallow.
	DirectMessage(ctx context.Context, memberID string, content string) error
	// Announce posts to the configured admin channel, or logs when none is
	// configured.
	Announce(ctx context.Context, content string) error
}

type Service struct {
	client  bot.Client
	cfg     *config.Config
	log     *zap.SugaredLogger
	guildID snowflake.ID

	mu           sync.RWMutex
	ownerID      snowflake.ID
	adminRoleIDs map[snowflake.ID]struct{}
}

var _ Directory = (*Service)(nil)

func NewService(client bot.Client, cfg *config.Config, log *zap.SugaredLogger) *Service {
	return &Service{
		client:       client,
		cfg:          cfg,
		log:          log,
		guildID:      snowflake.ID(cfg.Discord.GuildID),
		adminRoleIDs: map[snowflake.ID]struct{}{},
	}
}

// ValidateRoles checks the configured role IDs against the live guild role
// set and primes the admin-role cache. A configured role missing from the
// guild is a structural failure: fail fast instead of mis-acting on every
// member later.
func (s *Service) ValidateRoles(ctx context.Context) error {
	guild, err := s.client.Rest().GetGuild(s.guildID, false, rest.WithCtx(ctx))
	if err != nil {
		return fmt.Errorf("failed to fetch guild %s: %w", s.guildID, err)
	}

	roles, err := s.client.Rest().GetRoles(s.guildID, rest.WithCtx(ctx))
	if err != nil {
		return fmt.Errorf("failed to fetch guild roles: %w", err)
	}

	admins := make(map[snowflake.ID]struct{})
	foundUnlinked, foundActive := false, false
	for _, role := range roles {
		switch uint64(role.ID) {
		case s.cfg.Discord.UnlinkedRoleID:
			foundUnlinked = true
		case s.cfg.Discord.ActiveRoleID:
			foundActive = true
		}
		if role.Permissions.Has(discord.PermissionAdministrator) {
			admins[role.ID] = struct{}{}
		}
	}
	if !foundUnlinked || !foundActive {
		return fmt.Errorf("configured role ids not present in guild (unlinked=%v active=%v)", foundUnlinked, foundActive)
	}

	s.mu.Lock()
	s.ownerID = guild.OwnerID
	s.adminRoleIDs = admins
	s.mu.Unlock()

	s.log.Infow("guild roles validated", "guild", guild.Name, "admin_roles", len(admins))
	return nil
}

func (s *Service) Member(ctx context.Context, memberID string) (*Member, error) {
	id, err := snowflake.Parse(memberID)
	if err != nil {
		return nil, fmt.Errorf("invalid member id %q: %w", memberID, err)
	}
	m, err := s.client.Rest().GetMember(s.guildID, id, rest.WithCtx(ctx))
	if err != nil {
		if isNotFound(err) {
			return nil, ErrMemberNotFound
		}
		return nil, fmt.Errorf("failed to fetch member %s: %w", memberID, err)
	}
	return s.FromDiscord(m), nil
}

// EachMember walks every guild member in pages of 1000. fn errors abort the
// walk.
func (s *Service) EachMember(ctx context.Context, fn func(*Member) error) error {
	var after snowflake.ID
	for {
		chunk, err := s.client.Rest().GetMembers(s.guildID, pageSize, after, rest.WithCtx(ctx))
		if err != nil {
			return fmt.Errorf("failed to list guild members: %w", err)
		}
		for i := range chunk {
			if err := fn(s.FromDiscord(&chunk[i])); err != nil {
				return err
			}
		}
		if len(chunk) < pageSize {
			return nil
		}
		after = chunk[len(chunk)-1].User.ID
	}
}

func (s *Service) GrantRole(ctx context.Context, memberID string, roleID snowflake.ID) error {
	id, err := snowflake.Parse(memberID)
	if err != nil {
		return fmt.Errorf("invalid member id %q: %w", memberID, err)
	}
	if err := s.client.Rest().AddMemberRole(s.guildID, id, roleID, rest.WithCtx(ctx)); err != nil {
		if isNotFound(err) {
			return ErrMemberNotFound
		}
		return fmt.Errorf("failed to grant role %s to %s: %w", roleID, memberID, err)
	}
	return nil
}

func (s *Service) RevokeRole(ctx context.Context, memberID string, roleID snowflake.ID) error {
	id, err := snowflake.Parse(memberID)
	if err != nil {
		return fmt.Errorf("invalid member id %q: %w", memberID, err)
	}
	if err := s.client.Rest().RemoveMemberRole(s.guildID, id, roleID, rest.WithCtx(ctx)); err != nil {
		if isNotFound(err) {
			return ErrMemberNotFound
		}
		return fmt.Errorf("failed to revoke role %s from %s: %w", roleID, memberID, err)
	}
	return nil
}

func (s *Service) Kick(ctx context.Context, memberID string, reason string) error {
	id, err := snowflake.Parse(memberID)
	if err != nil {
		return fmt.Errorf("invalid member id %q: %w", memberID, err)
	}
	if err := s.client.Rest().RemoveMember(s.guildID, id, rest.WithCtx(ctx), rest.WithReason(reason)); err != nil {
		if isNotFound(err) {
			return ErrMemberNotFound
		}
		return fmt.Errorf("failed to kick member %s: %w", memberID, err)
	}
	return nil
}

func (s *Service) DirectMessage(ctx context.Context, memberID string, content string) error {
	id, err := snowflake.Parse(memberID)
	if err != nil {
		return fmt.Errorf("invalid member id %q: %w", memberID, err)
	}
	channel, err := s.client.Rest().CreateDMChannel(id, rest.WithCtx(ctx))
	if err != nil {
		return fmt.Errorf("failed to open DM channel to %s: %w", memberID, err)
	}
	_, err = s.client.Rest().CreateMessage(channel.ID(),
		discord.NewMessageCreateBuilder().SetContent(content).Build(),
		rest.WithCtx(ctx))
	if err != nil {
		return fmt.Errorf("failed to send DM to %s: %w", memberID, err)
	}
	return nil
}

func (s *Service) Announce(ctx context.Context, content string) error {
	if s.cfg.Discord.AdminChannelID == 0 {
		s.log.Infow("announce", "content", content)
		return nil
	}
	_, err := s.client.Rest().CreateMessage(snowflake.ID(s.cfg.Discord.AdminChannelID),
		discord.NewMessageCreateBuilder().SetContent(content).Build(),
		rest.WithCtx(ctx))
	if err != nil {
		return fmt.Errorf("failed to announce to admin channel: %w", err)
	}
	return nil
}

// FromDiscord maps a raw guild member onto the local Member shape, filling
// the Admin flag from the owner and admin-role cache built by ValidateRoles.
func (s *Service) FromDiscord(m *discord.Member) *Member {
	s.mu.RLock()
	defer s.mu.RUnlock()

	admin := m.User.ID == s.ownerID
	if !admin {
		for _, roleID := range m.RoleIDs {
			if _, ok := s.adminRoleIDs[roleID]; ok {
				admin = true
				break
			}
		}
	}
	return &Member{
		ID:       m.User.ID,
		Username: m.User.Username,
		Bot:      m.User.Bot,
		JoinedAt: m.JoinedAt,
		RoleIDs:  m.RoleIDs,
		Admin:    admin,
	}
}

func isNotFound(err error) bool {
	var restErr rest.Error
	if errors.As(err, &restErr) && restErr.Response != nil {
		return restErr.Response.StatusCode == http.StatusNotFound
	}
	return false
}
