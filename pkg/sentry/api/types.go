// Package api exposes the chat orchestrator over HTTP: the chat endpoints,
// the dashboard aggregation, catalog management, health, and metrics.
package api

import (
	"context"

	"github.com/tigerroll/sentry/pkg/sentry/aggregate"
	"github.com/tigerroll/sentry/pkg/sentry/router"

	model "github.com/tigerroll/sentry/pkg/sentry/core/domain/model"
)

// ChatHandler drives one conversational turn. Satisfied by router.Router.
type ChatHandler interface {
	Handle(ctx context.Context, req router.Request, emit router.EmitFunc) *router.Response
	BatchStatus(ctx context.Context, name, businessDate, processingType string) (*aggregate.BatchProgress, error)
}

// Catalog is the definition source used by the dashboard and the refresh
// endpoint. Satisfied by catalog.Resolver.
type Catalog interface {
	CanonicalNames() []string
	GetDefinition(ctx context.Context, canonical string) (*model.BatchDefinition, error)
	InvalidateAll()
	PrefetchAll(ctx context.Context) error
}

// ProgressFetcher aggregates one batch's execution state. Satisfied by
// tools.ToolSet.
type ProgressFetcher interface {
	GetBatchProgress(ctx context.Context, def *model.BatchDefinition, businessDate, processingType string) (*aggregate.BatchProgress, error)
}

// HealthChecker verifies connectivity to a named operational store.
// Satisfied by database.StoreProvider.
type HealthChecker interface {
	Ping(ctx context.Context, name string) error
}

// EssentialSummary is one dashboard row.
type EssentialSummary struct {
	Name               string           `json:"name"`
	DisplayName        string           `json:"display_name"`
	Status             aggregate.Status `json:"status"`
	PartialFailure     bool             `json:"partial_failure"`
	SuccessfulDatasets int              `json:"successful_datasets"`
	TotalDatasets      int              `json:"total_datasets"`
	Error              string           `json:"error,omitempty"`
}

// EssentialsResponse is the dashboard aggregation across all known batches.
type EssentialsResponse struct {
	BusinessDate string             `json:"business_date"`
	Essentials   []EssentialSummary `json:"essentials"`
	Incomplete   bool               `json:"incomplete,omitempty"`
}
