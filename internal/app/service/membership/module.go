package membership

import (
	"go.uber.org/fx"

	"github.com/quiethall/doorman/internal/app/service/record"
)

// Module exposes the membership service via Fx.
var Module = fx.Options(
	fx.Provide(
		NewService,
		func(r *record.Service) Records { return r },
	),
)
