package matching

import (
	"github.com/skillvouch/skillvouch/internal/matching/service"
	"go.uber.org/fx"
)

var Module = fx.Module("matching.service",
	fx.Provide(service.NewTemplateNarrative),
	fx.Provide(service.NewService),
)
