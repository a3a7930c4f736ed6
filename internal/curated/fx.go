package curated

import "go.uber.org/fx"

var Module = fx.Module("curated",
	fx.Provide(NewHolder),
)
