package reward

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

var ErrInvalidAmount = errors.New("reward: decrement amount must be positive")

// Repository is the reward inventory. Implementations bound to a transaction
// via WithTrx run every statement on that transaction.
type Repository interface {
	WithTrx(tx *gorm.DB) Repository
	FindByEventID(ctx context.Context, eventID string) ([]*Reward, error)
	DecreaseQuantity(ctx context.Context, rewardID string, amount int32) (*Reward, error)
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) WithTrx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &gormRepository{db: tx}
}

func (r *gormRepository) FindByEventID(ctx context.Context, eventID string) ([]*Reward, error) {
	var rewards []*Reward
	err := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("created_at asc, reward_id asc").
		Find(&rewards).Error
	if err != nil {
		return nil, err
	}
	return rewards, nil
}

// DecreaseQuantity takes amount units from a limited reward in one conditional
// update. It returns nil, nil when the reward is missing, unlimited or does not
// have amount units left. Errors are storage failures only.
func (r *gormRepository) DecreaseQuantity(ctx context.Context, rewardID string, amount int32) (*Reward, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var updated *Reward
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Reward{}).
			Where("reward_id = ? AND remaining_quantity IS NOT NULL AND remaining_quantity >= ?", rewardID, amount).
			Update("remaining_quantity", gorm.Expr("remaining_quantity - ?", amount))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		var rw Reward
		if err := tx.Where("reward_id = ?", rewardID).First(&rw).Error; err != nil {
			return err
		}
		updated = &rw
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
