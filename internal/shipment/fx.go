package shipment

import (
	"github.com/smallbiznis/deliveryscore/internal/shipment/repository"
	"github.com/smallbiznis/deliveryscore/internal/shipment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("shipment.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
