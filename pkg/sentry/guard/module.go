package guard

import (
	"go.uber.org/fx"
)

// Module is an Fx module that provides the Tier 2 guard.
var Module = fx.Options(
	fx.Provide(NewGuard),
)
