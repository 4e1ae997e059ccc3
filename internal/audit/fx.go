package audit

import (
	"github.com/skillvouch/skillvouch/internal/audit/repository"
	"github.com/skillvouch/skillvouch/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
