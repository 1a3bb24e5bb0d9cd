package event

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// Repository is the read side of event storage used by the claim engine.
type Repository interface {
	FindByID(ctx context.Context, eventID string) (*Event, error)
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// FindByID returns nil, nil when the event does not exist.
func (r *gormRepository) FindByID(ctx context.Context, eventID string) (*Event, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var e Event
	err := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}
