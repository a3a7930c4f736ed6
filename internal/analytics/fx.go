package analytics

import (
	"github.com/smallbiznis/revlens/internal/analytics/service"
	"go.uber.org/fx"
)

var Module = fx.Module("analytics",
	fx.Provide(service.NewService),
)
