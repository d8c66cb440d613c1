// Package bot wires the Discord gateway to the membership services: the
// member-join hook and the slash commands ops use to drive the system by hand.
package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	disbot "github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/snowflake/v2"
	"go.uber.org/zap"

	"github.com/quiethall/doorman/internal/app/service/directory"
	"github.com/quiethall/doorman/internal/app/service/linkstart"
	"github.com/quiethall/doorman/internal/app/service/membership"
	"github.com/quiethall/doorman/internal/app/service/record"
	"github.com/quiethall/doorman/internal/app/service/scan"
	"github.com/quiethall/doorman/pkg/config"
	"github.com/quiethall/doorman/pkg/types"
)

const (
	linkCommandName       = "link"
	forceCheckCommandName = "force-check"
	syncCommandName       = "sync-existing"
	cleanDBCommandName    = "clean-db"
	wipeCommandName       = "wipe-records"

	// joinHandleTimeout bounds the role and record writes for one join event.
	joinHandleTimeout = 30 * time.Second
	// commandTimeout bounds slash-command work. Interaction tokens stay valid
	// for 15 minutes, which comfortably covers a full manual scan.
	commandTimeout = 10 * time.Minute
)

type Bot struct {
	cfg     *config.Config
	client  disbot.Client
	members *membership.Service
	runner  *scan.Runner
	links   *linkstart.Client
	records *record.Service
	dir     *directory.Service
	log     *zap.SugaredLogger
}

func New(
	cfg *config.Config,
	client disbot.Client,
	members *membership.Service,
	runner *scan.Runner,
	links *linkstart.Client,
	records *record.Service,
	dir *directory.Service,
	log *zap.SugaredLogger,
) *Bot {
	return &Bot{
		cfg:     cfg,
		client:  client,
		members: members,
		runner:  runner,
		links:   links,
		records: records,
		dir:     dir,
		log:     log,
	}
}

// Start attaches the event listeners, registers the slash commands on the
// configured guild and opens the gateway connection.
func (b *Bot) Start(ctx context.Context) error {
	b.client.AddEventListeners(&events.ListenerAdapter{
		OnGuildMemberJoin:               b.handleGuildMemberJoin,
		OnApplicationCommandInteraction: b.handleApplicationCommandInteraction,
	})

	b.log.Infow("registering guild commands", "guild_id", b.cfg.Discord.GuildID)
	_, err := b.client.Rest().SetGuildCommands(
		b.client.ApplicationID(),
		snowflake.ID(b.cfg.Discord.GuildID),
		[]discord.ApplicationCommandCreate{
			discord.SlashCommandCreate{
				Name:        linkCommandName,
				Description: "Get your personal subscription verification link",
			},
			discord.SlashCommandCreate{
				Name:        forceCheckCommandName,
				Description: "Run a membership check right now (admin only)",
			},
			discord.SlashCommandCreate{
				Name:        syncCommandName,
				Description: "Register existing unverified members for deadline tracking (admin only)",
			},
			discord.SlashCommandCreate{
				Name:        cleanDBCommandName,
				Description: "Remove duplicate member records (admin only)",
			},
			discord.SlashCommandCreate{
				Name:        wipeCommandName,
				Description: "Delete all member records (admin only)",
			},
		})
	if err != nil {
		return fmt.Errorf("failed to register guild commands: %w", err)
	}

	b.log.Info("opening discord gateway")
	return b.client.OpenGateway(ctx)
}

// Close shuts the gateway connection down.
func (b *Bot) Close(ctx context.Context) {
	b.log.Info("closing discord gateway")
	b.client.Close(ctx)
}

func (b *Bot) handleGuildMemberJoin(event *events.GuildMemberJoin) {
	if event.GuildID != snowflake.ID(b.cfg.Discord.GuildID) {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), joinHandleTimeout)
		defer cancel()

		member := b.dir.FromDiscord(&event.Member)
		if err := b.members.HandleJoin(ctx, member); err != nil {
			b.log.Errorw("failed to handle member join",
				"member_id", member.ID.String(), "error", err)
		}
	}()
}

// handleApplicationCommandInteraction defers the response first so slow work
// (a manual scan can take minutes on a large guild) never trips the 3 second
// interaction deadline, then dispatches in a goroutine.
func (b *Bot) handleApplicationCommandInteraction(event *events.ApplicationCommandInteractionCreate) {
	name := event.SlashCommandInteractionData().CommandName()

	go func() {
		if err := event.DeferCreateMessage(true); err != nil {
			b.log.Errorw("failed to defer interaction response",
				"command", name, "error", err)
			return
		}

		defer func() {
			if r := recover(); r != nil {
				b.log.Errorw("panic in command handler", "command", name, "panic", r)
				b.respond(event, "Internal error. Please try again later.")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		switch name {
		case linkCommandName:
			b.handleLink(ctx, event)
		case forceCheckCommandName:
			b.handleAdmin(ctx, event, b.handleForceCheck)
		case syncCommandName:
			b.handleAdmin(ctx, event, b.handleSyncExisting)
		case cleanDBCommandName:
			b.handleAdmin(ctx, event, b.handleCleanDB)
		case wipeCommandName:
			b.handleAdmin(ctx, event, b.handleWipeRecords)
		default:
			b.respond(event, "Unknown command.")
		}
	}()
}

func (b *Bot) handleLink(ctx context.Context, event *events.ApplicationCommandInteractionCreate) {
	memberID := event.User().ID.String()

	url, err := b.links.Start(ctx, memberID)
	if err != nil {
		b.log.Errorw("failed to start verification", "member_id", memberID, "error", err)
		b.respond(event, "Connection error. Please try again later.")
		return
	}
	b.respond(event, fmt.Sprintf("Your personal verification link: %s", url))
}

// handleAdmin rejects callers without the Administrator permission before
// running the wrapped handler.
func (b *Bot) handleAdmin(
	ctx context.Context,
	event *events.ApplicationCommandInteractionCreate,
	fn func(context.Context, *events.ApplicationCommandInteractionCreate),
) {
	if event.Member() == nil || !event.Member().Permissions.Has(discord.PermissionAdministrator) {
		b.respond(event, "You need administrator permissions to use this command.")
		return
	}
	fn(ctx, event)
}

func (b *Bot) handleForceCheck(ctx context.Context, event *events.ApplicationCommandInteractionCreate) {
	b.respond(event, "Membership check started...")

	summary, err := b.runner.Run(ctx, types.ScanTriggerManual)
	if err != nil {
		if errors.Is(err, scan.ErrScanInProgress) {
			b.respond(event, "A check is already running. Try again once it finishes.")
			return
		}
		b.log.Errorw("manual scan failed", "error", err)
		b.respond(event, "Check failed. See the logs for details.")
		return
	}
	b.respond(event, summary.String())
}

func (b *Bot) handleSyncExisting(ctx context.Context, event *events.ApplicationCommandInteractionCreate) {
	created, err := b.members.BulkRegister(ctx)
	if err != nil {
		b.log.Errorw("bulk registration failed", "error", err)
		b.respond(event, "Sync failed. See the logs for details.")
		return
	}
	b.respond(event, fmt.Sprintf("Sync complete: %d members registered for deadline tracking.", created))
}

func (b *Bot) handleCleanDB(ctx context.Context, event *events.ApplicationCommandInteractionCreate) {
	removed, err := b.records.Dedupe(ctx)
	if err != nil {
		b.log.Errorw("record dedupe failed", "error", err)
		b.respond(event, "Cleanup failed. See the logs for details.")
		return
	}
	b.respond(event, fmt.Sprintf("Cleanup complete: %d duplicate records removed.", removed))
}

func (b *Bot) handleWipeRecords(ctx context.Context, event *events.ApplicationCommandInteractionCreate) {
	removed, err := b.records.WipeAll(ctx)
	if err != nil {
		b.log.Errorw("record wipe failed", "error", err)
		b.respond(event, "Wipe failed. See the logs for details.")
		return
	}
	b.respond(event, fmt.Sprintf("Wipe complete: %d records deleted.", removed))
}

// respond replaces the deferred interaction response. Failures are logged,
// not returned; there is nothing useful a caller can do about them.
func (b *Bot) respond(event *events.ApplicationCommandInteractionCreate, content string) {
	_, err := b.client.Rest().UpdateInteractionResponse(
		event.ApplicationID(), event.Token(),
		discord.NewMessageUpdateBuilder().SetContent(content).Build())
	if err != nil {
		b.log.Errorw("failed to update interaction response", "error", err)
	}
}
