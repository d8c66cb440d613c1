package directory

import (
	"context"

	"go.uber.org/fx"
)

// Module exposes the directory adapter via Fx. Role validation runs at
// startup so a misconfigured role ID aborts boot instead of corrupting
// member state later.
var Module = fx.Options(
	fx.Provide(
		NewService,
		func(s *Service) Directory { return s },
	),
	fx.Invoke(func(s *Service) error {
		return s.ValidateRoles(context.Background())
	}),
)
