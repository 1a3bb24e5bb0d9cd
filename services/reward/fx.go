package reward

import "go.uber.org/fx"

var Module = fx.Module("reward.repository",
	fx.Provide(NewRepository),
)
