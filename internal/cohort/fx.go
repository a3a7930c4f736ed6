package cohort

import (
	"github.com/smallbiznis/revlens/internal/cohort/service"
	"go.uber.org/fx"
)

var Module = fx.Module("cohort",
	fx.Provide(service.NewService),
)
