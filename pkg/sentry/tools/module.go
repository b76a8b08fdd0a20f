package tools

import (
	"go.uber.org/fx"
)

// Module is an Fx module that provides the Tier 1 tool set.
var Module = fx.Options(
	fx.Provide(NewToolSet),
)
