package session

import (
	"go.uber.org/fx"
)

// Module is an Fx module that provides the session store.
var Module = fx.Options(
	fx.Provide(NewStore),
)
