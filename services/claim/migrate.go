package claim

import (
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const successIndexDDL = `CREATE UNIQUE INDEX IF NOT EXISTS idx_claims_success ON claims (user_id, event_id) WHERE status = 'SUCCESS'`

// Migrate creates the claim tables and the partial unique index that keeps a
// single SUCCESS claim per user and event. MySQL has no partial indexes, so
// there the in-transaction check is the only guard.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Claim{}, &EventClaimStat{}); err != nil {
		return err
	}

	switch db.Dialector.Name() {
	case "postgres", "sqlite":
		return db.Exec(successIndexDDL).Error
	default:
		zap.L().Warn("partial unique index not supported, relying on transactional check",
			zap.String("dialect", db.Dialector.Name()))
		return nil
	}
}
