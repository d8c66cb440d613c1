package record

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module exposes the record store via Fx and runs the startup dedupe sweep.
var Module = fx.Options(
	fx.Provide(NewService),
	fx.Invoke(startupDedupe),
)

// startupDedupe opportunistically self-heals duplicate rows. Best-effort:
// failure is logged, never fatal.
func startupDedupe(s *Service, log *zap.SugaredLogger) {
	removed, err := s.Dedupe(context.Background())
	if err != nil {
		log.Warnw("startup dedupe sweep failed", "err", err)
		return
	}
	if removed > 0 {
		log.Infow("removed duplicate member records", "rows", removed)
	}
}
