package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"smallbiznis-rewardclaim/pkg/clock"
	"smallbiznis-rewardclaim/pkg/config"
	"smallbiznis-rewardclaim/pkg/db"
	"smallbiznis-rewardclaim/pkg/gen"
	"smallbiznis-rewardclaim/pkg/health"
	"smallbiznis-rewardclaim/pkg/logger"
	"smallbiznis-rewardclaim/pkg/otelcol"
	"smallbiznis-rewardclaim/pkg/redis"
	"smallbiznis-rewardclaim/pkg/sequence"
	"smallbiznis-rewardclaim/pkg/server"
	"smallbiznis-rewardclaim/pkg/task"
	"smallbiznis-rewardclaim/services/activity"
	"smallbiznis-rewardclaim/services/claim"
	"smallbiznis-rewardclaim/services/condition"
	"smallbiznis-rewardclaim/services/event"
	"smallbiznis-rewardclaim/services/reward"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		otelcol.Module,
		db.Module,
		redis.Module,
		clock.Module,
		sequence.Module,
		task.Client,
		task.Server,
		gen.Module,
		fx.Invoke(migrate),
		event.Module,
		reward.Module,
		activity.Module,
		condition.Module,
		claim.Module,
		claim.Worker,
		health.Module,
		server.ProvideHTTPServer,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	if cfg.AppEnv == "development" {
		return &fxevent.ZapLogger{Logger: logger}
	}
	return fxevent.NopLogger
})

func migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&event.Event{}, &reward.Reward{}); err != nil {
		return err
	}
	return claim.Migrate(db)
}
