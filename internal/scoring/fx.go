package scoring

import (
	"github.com/smallbiznis/deliveryscore/internal/scoring/service"
	"go.uber.org/fx"
)

var Module = fx.Module("scoring.service",
	fx.Provide(service.NewService),
)
