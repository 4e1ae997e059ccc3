package billing

import (
	"github.com/skillvouch/skillvouch/internal/billing/repository"
	"github.com/skillvouch/skillvouch/internal/billing/service"
	"github.com/skillvouch/skillvouch/internal/cache"
	"go.uber.org/fx"
)

var Module = fx.Module("billing.service",
	fx.Provide(cache.NewFeeResolverCache),
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
