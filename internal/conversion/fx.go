package conversion

import (
	"github.com/smallbiznis/revlens/internal/conversion/service"
	"go.uber.org/fx"
)

var Module = fx.Module("conversion",
	fx.Provide(service.NewService),
)
