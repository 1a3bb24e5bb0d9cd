package claim

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type StatsRepository interface {
	Refresh(ctx context.Context, eventID string, status Status) (*EventClaimStat, error)
	ListByEvent(ctx context.Context, eventID string) ([]*EventClaimStat, error)
}

type gormStats struct {
	db *gorm.DB
}

func NewStatsRepository(db *gorm.DB) StatsRepository {
	return &gormStats{db: db}
}

// Refresh recounts claims for (eventID, status) and upserts the result, so
// replaying a task never double counts.
func (s *gormStats) Refresh(ctx context.Context, eventID string, status Status) (*EventClaimStat, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Claim{}).
		Where("event_id = ? AND status = ?", eventID, status).
		Count(&count).Error; err != nil {
		return nil, err
	}

	stat := &EventClaimStat{EventID: eventID, Status: status, Count: count}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}, {Name: "status"}},
		DoUpdates: clause.AssignmentColumns([]string{"count", "updated_at"}),
	}).Create(stat).Error
	if err != nil {
		return nil, err
	}
	return stat, nil
}

func (s *gormStats) ListByEvent(ctx context.Context, eventID string) ([]*EventClaimStat, error) {
	var stats []*EventClaimStat
	err := s.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("status").
		Find(&stats).Error
	return stats, err
}
