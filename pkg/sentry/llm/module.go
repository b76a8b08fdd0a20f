package llm

import (
	"go.uber.org/fx"
)

// Module is an Fx module that provides the LLM collaborators.
var Module = fx.Options(
	fx.Provide(NewClient),
	fx.Provide(NewClassifier),
	fx.Provide(NewSynthesizer),
	fx.Provide(NewSQLGenerator),
)
