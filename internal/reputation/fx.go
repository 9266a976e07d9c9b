package reputation

import (
	"github.com/smallbiznis/deliveryscore/internal/reputation/repository"
	"github.com/smallbiznis/deliveryscore/internal/reputation/service"
	"go.uber.org/fx"
)

var Module = fx.Module("reputation.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
