package main

import (
	"context"
	"os"
	"time"

	_ "embed"

	"go.uber.org/fx"

	"github.com/tigerroll/sentry/pkg/sentry/adaptor/database"
	"github.com/tigerroll/sentry/pkg/sentry/aggregate"
	"github.com/tigerroll/sentry/pkg/sentry/api"
	"github.com/tigerroll/sentry/pkg/sentry/catalog"
	"github.com/tigerroll/sentry/pkg/sentry/guard"
	"github.com/tigerroll/sentry/pkg/sentry/llm"
	"github.com/tigerroll/sentry/pkg/sentry/router"
	"github.com/tigerroll/sentry/pkg/sentry/session"
	"github.com/tigerroll/sentry/pkg/sentry/tools"

	config "github.com/tigerroll/sentry/pkg/sentry/core/config"
	inframetrics "github.com/tigerroll/sentry/pkg/sentry/infrastructure/metrics"
	logger "github.com/tigerroll/sentry/pkg/sentry/support/util/logger"
)

// embeddedConfig embeds the content of the application's YAML configuration file.
// This file is used to load configuration at application startup.
//
//go:embed resources/application.yaml
var embeddedConfig []byte

// main is the entry point of the service. It assembles the Fx container and
// runs it until a termination signal arrives.
func main() {
	// Get the path to the .env file from environment variables. Use ".env" as default if not set.
	envFilePath := os.Getenv("ENV_FILE_PATH")
	if envFilePath == "" {
		envFilePath = ".env"
	}

	app := fx.New(
		fx.Supply(
			config.EmbeddedConfig(embeddedConfig),
			fx.Annotate(envFilePath, fx.ResultTags(`name:"envFilePath"`)),
		),
		config.Module,
		inframetrics.Module,
		database.Module,
		catalog.Module,
		session.Module,
		aggregate.Module,
		tools.Module,
		guard.Module,
		llm.Module,
		router.Module,
		api.Module,

		fx.Invoke(run),
	)

	app.Run()

	if err := app.Err(); err != nil {
		logger.Fatalf("Application run failed: %v", err)
	}
}

// run wires the service lifecycle: catalog warm-up and the session janitor
// on start, connection draining on stop.
func run(
	lc fx.Lifecycle,
	cfg *config.Config,
	server *api.Server,
	resolver *catalog.Resolver,
	sessions *session.Store,
	provider *database.StoreProvider,
) {
	janitorStop := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// A cold cache only costs latency on the first question per
			// batch, so prefetch failures are not fatal.
			if err := resolver.PrefetchAll(ctx); err != nil {
				logger.Warnf("Catalog prefetch incomplete: %v", err)
			}

			interval := time.Duration(cfg.Sentry.Session.JanitorIntervalMinutes) * time.Minute
			go sessions.RunJanitor(interval, janitorStop)

			server.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			close(janitorStop)
			if err := server.Stop(ctx); err != nil {
				logger.Warnf("HTTP server shutdown: %v", err)
			}
			return provider.CloseAll()
		},
	})
}
