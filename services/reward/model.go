package reward

import (
	"time"

	"gorm.io/datatypes"
)

// Reward is a catalog item attached to an event. A nil RemainingQuantity
// marks an unlimited reward; otherwise the counter never goes below zero.
type Reward struct {
	RewardID          string         `gorm:"column:reward_id;primaryKey"`
	EventID           string         `gorm:"column:event_id;index;not null"`
	Name              string         `gorm:"column:name;type:varchar(255);not null"`
	Type              string         `gorm:"column:type;type:varchar(50);not null"`
	Details           datatypes.JSON `gorm:"column:details"`
	Quantity          *int32         `gorm:"column:quantity"`
	RemainingQuantity *int32         `gorm:"column:remaining_quantity;check:remaining_quantity IS NULL OR remaining_quantity >= 0"`
	CreatedAt         time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

func (Reward) TableName() string { return "rewards" }

func (r *Reward) IsUnlimited() bool {
	return r.RemainingQuantity == nil
}
