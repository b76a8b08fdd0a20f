package aggregate

import (
	"go.uber.org/fx"
)

// Module is an Fx module that provides the progress aggregator.
var Module = fx.Options(
	fx.Provide(NewAggregator),
)
