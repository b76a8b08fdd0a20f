package database

import (
	"go.uber.org/fx"
)

// Module is an Fx module that provides the monitoring store connections.
var Module = fx.Options(
	fx.Provide(NewStoreProvider),
	fx.Provide(NewStores),
)
