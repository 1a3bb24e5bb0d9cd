package event

import "go.uber.org/fx"

var Module = fx.Module("event.repository",
	fx.Provide(NewRepository),
)
