package discord

import (
	"github.com/disgoorg/disgo"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/gateway"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/quiethall/doorman/pkg/config"
)

// NewClient builds the disgo client. Listeners are attached and the gateway
// opened by the bot package once all services exist.
func NewClient(cfg *config.Config, log *zap.SugaredLogger) (bot.Client, error) {
	client, err := disgo.New(cfg.Discord.Token,
		bot.WithGatewayConfigOpts(
			gateway.WithIntents(
				gateway.IntentGuilds,
				gateway.IntentGuildMembers,
				gateway.IntentDirectMessages,
			),
		),
	)
	if err != nil {
		log.Errorf("failed to create discord client: %v", err)
		return nil, err
	}
	return client, nil
}

var Module = fx.Options(
	fx.Provide(NewClient),
)
