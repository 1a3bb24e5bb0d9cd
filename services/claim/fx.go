package claim

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("claim.service",
	fx.Provide(
		NewLedger,
		NewStatsRepository,
		NewService,
		NewHandler,
	),
	fx.Invoke(registerRoutes),
)

var Worker = fx.Module("claim.worker",
	fx.Provide(NewTaskHandler),
	fx.Invoke(registerTaskHandlers),
)

func registerRoutes(r *gin.Engine, h *Handler) {
	h.Register(r)
}
