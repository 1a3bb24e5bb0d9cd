package main

import (
	"context"
	"log"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"smallbiznis-rewardclaim/pkg/config"
	"smallbiznis-rewardclaim/pkg/db"
	"smallbiznis-rewardclaim/pkg/logger"
	"smallbiznis-rewardclaim/services/claim"
	"smallbiznis-rewardclaim/services/condition"
	"smallbiznis-rewardclaim/services/event"
	"smallbiznis-rewardclaim/services/reward"
)

// seed migrates the schema and inserts a demo event for local development.
func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		fx.Invoke(seed),
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)
	if err := app.Start(context.Background()); err != nil {
		log.Fatalf("seed failed: %v", err)
	}
	_ = app.Stop(context.Background())
}

func int32Ptr(v int32) *int32 { return &v }

func seed(db *gorm.DB) error {
	if err := db.AutoMigrate(&event.Event{}, &reward.Reward{}); err != nil {
		return err
	}
	if err := claim.Migrate(db); err != nil {
		return err
	}

	now := time.Now().UTC()
	ev := event.Event{
		EventID: "evt-login-streak",
		Name:    "Seven day login streak",
		Status:  event.StatusActive,
		StartAt: now.Add(-24 * time.Hour),
		EndAt:   now.Add(30 * 24 * time.Hour),
		Condition: event.Condition{
			Category:    event.CategoryUserActivity,
			Type:        condition.TypeLoginStreakDays,
			Operator:    event.OperatorGTE,
			TargetValue: "7",
		},
	}
	rewards := []reward.Reward{
		{RewardID: "rwd-streak-badge", EventID: ev.EventID, Name: "Streak badge", Type: "BADGE", Details: datatypes.JSON(`{"icon":"flame"}`)},
		{RewardID: "rwd-streak-coupon", EventID: ev.EventID, Name: "10% coupon", Type: "COUPON", Details: datatypes.JSON(`{"percent":10}`), Quantity: int32Ptr(100), RemainingQuantity: int32Ptr(100)},
	}

	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&ev).Error; err != nil {
			return err
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rewards).Error; err != nil {
			return err
		}
		zap.L().Info("seeded demo event", zap.String("event_id", ev.EventID), zap.Int("rewards", len(rewards)))
		return nil
	})
}
