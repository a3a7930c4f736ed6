package snapshot

import (
	"github.com/smallbiznis/revlens/internal/curated"
	"github.com/smallbiznis/revlens/internal/snapshot/recorder"
	"github.com/smallbiznis/revlens/internal/snapshot/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("snapshot",
	fx.Provide(repository.Provide),
	fx.Provide(repository.ProvideRuns),
	fx.Provide(func(h *curated.Holder) recorder.CuratedSource { return h }),
	fx.Provide(recorder.New),
)
