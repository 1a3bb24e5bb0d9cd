package condition

import "go.uber.org/fx"

var Module = fx.Module("condition.evaluator",
	fx.Provide(NewEvaluator),
)
