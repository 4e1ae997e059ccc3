package verification

import (
	"github.com/skillvouch/skillvouch/internal/verification/repository"
	"github.com/skillvouch/skillvouch/internal/verification/service"
	"go.uber.org/fx"
)

var Module = fx.Module("verification.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewLocalAttestor),
	fx.Provide(service.NewPaymentFundingGate),
	fx.Provide(service.NewService),
)
