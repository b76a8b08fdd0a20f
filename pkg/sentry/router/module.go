package router

import (
	"go.uber.org/fx"

	"github.com/tigerroll/sentry/pkg/sentry/llm"
)

// Module provides the turn orchestrator. The language-model collaborators
// are bound through the narrow interfaces so tests can substitute them.
var Module = fx.Module("router",
	fx.Provide(
		func(c *llm.Classifier) Classifier { return c },
		func(s *llm.Synthesizer) Synthesizer { return s },
		func(g *llm.SQLGenerator) SQLGenerator { return g },
		NewRouter,
	),
)
