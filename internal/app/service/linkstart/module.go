package linkstart

import "go.uber.org/fx"

// Module exposes the verification backend client via Fx.
var Module = fx.Options(
	fx.Provide(NewClient),
)
