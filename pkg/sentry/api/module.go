package api

import (
	"go.uber.org/fx"

	"github.com/tigerroll/sentry/pkg/sentry/adaptor/database"
	"github.com/tigerroll/sentry/pkg/sentry/catalog"
	"github.com/tigerroll/sentry/pkg/sentry/router"
	"github.com/tigerroll/sentry/pkg/sentry/tools"
)

// Module provides the HTTP server.
var Module = fx.Module("api",
	fx.Provide(
		func(r *router.Router) ChatHandler { return r },
		func(r *catalog.Resolver) Catalog { return r },
		func(t *tools.ToolSet) ProgressFetcher { return t },
		func(p *database.StoreProvider) HealthChecker { return p },
		NewServer,
	),
)
