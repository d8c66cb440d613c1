package bot

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Options(
	fx.Provide(New),
	fx.Invoke(registerBot),
)

func registerBot(lifecycle fx.Lifecycle, b *Bot) {
	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return b.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			b.Close(ctx)
			return nil
		},
	})
}
