package catalog

import (
	"time"

	"go.uber.org/fx"

	config "github.com/tigerroll/sentry/pkg/sentry/core/config"
)

// NewClientFromConfig builds the HTTP catalog client from configuration.
func NewClientFromConfig(cfg *config.Config) Client {
	return NewHTTPClient(
		cfg.Sentry.Catalog.BaseURL,
		time.Duration(cfg.Sentry.Catalog.TimeoutSeconds)*time.Second,
	)
}

// Module is an Fx module that provides the catalog client and resolver.
var Module = fx.Options(
	fx.Provide(NewClientFromConfig),
	fx.Provide(NewResolver),
)
