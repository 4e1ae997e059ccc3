package entitlement

import (
	"github.com/skillvouch/skillvouch/internal/entitlement/repository"
	"github.com/skillvouch/skillvouch/internal/entitlement/service"
	"go.uber.org/fx"
)

var Module = fx.Module("entitlement.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
