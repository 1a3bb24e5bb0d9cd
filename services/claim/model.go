package claim

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"

	"smallbiznis-rewardclaim/services/condition"
	"smallbiznis-rewardclaim/services/reward"
)

type Status string

const (
	StatusRequested                Status = "REQUESTED"
	StatusSuccess                  Status = "SUCCESS"
	StatusFailedConditionsNotMet   Status = "FAILED_CONDITIONS_NOT_MET"
	StatusFailedNoRewardsAvailable Status = "FAILED_NO_REWARDS_AVAILABLE"
	StatusFailedAlreadyClaimed     Status = "FAILED_ALREADY_CLAIMED"
	StatusFailedEventNotActive     Status = "FAILED_EVENT_NOT_ACTIVE"
	StatusFailedEventExpired       Status = "FAILED_EVENT_EXPIRED"
	StatusFailedUnknown            Status = "FAILED_UNKNOWN"
)

func (s Status) Valid() bool {
	switch s {
	case StatusRequested, StatusSuccess, StatusFailedConditionsNotMet, StatusFailedNoRewardsAvailable,
		StatusFailedAlreadyClaimed, StatusFailedEventNotActive, StatusFailedEventExpired, StatusFailedUnknown:
		return true
	default:
		return false
	}
}

// GrantedReward is a copy of the reward taken at grant time. Later changes
// to the reward do not affect it.
type GrantedReward struct {
	RewardID string         `json:"rewardId"`
	Name     string         `json:"name"`
	Type     string         `json:"type"`
	Details  datatypes.JSON `json:"details,omitempty"`
}

func snapshotOf(r *reward.Reward) GrantedReward {
	return GrantedReward{
		RewardID: r.RewardID,
		Name:     r.Name,
		Type:     r.Type,
		Details:  r.Details,
	}
}

type ConditionCheckDetail = condition.CheckDetail

// Claim is one recorded attempt. Rows are inserted once and never updated.
// At most one SUCCESS row may exist per (user_id, event_id); see Migrate.
type Claim struct {
	ClaimID        snowflake.ID                             `gorm:"column:claim_id;primaryKey;autoIncrement:false"`
	Code           string                                   `gorm:"column:code;type:varchar(32);index"`
	UserID         string                                   `gorm:"column:user_id;type:varchar(100);not null;index:idx_claims_user_event,priority:1"`
	EventID        string                                   `gorm:"column:event_id;type:varchar(100);not null;index:idx_claims_user_event,priority:2"`
	Status         Status                                   `gorm:"column:status;type:varchar(40);not null;index"`
	GrantedRewards datatypes.JSONSlice[GrantedReward]       `gorm:"column:granted_rewards"`
	ConditionCheck datatypes.JSONType[ConditionCheckDetail] `gorm:"column:condition_check"`
	FailureReason  string                                   `gorm:"column:failure_reason;type:text"`
	RequestedAt    time.Time                                `gorm:"column:requested_at;not null"`
	ProcessedAt    time.Time                                `gorm:"column:processed_at;not null"`
	CreatedAt      time.Time                                `gorm:"column:created_at;autoCreateTime;index"`
}

func (Claim) TableName() string { return "claims" }

// EventClaimStat is the per event outcome count maintained by the
// claim:processed worker.
type EventClaimStat struct {
	EventID   string    `gorm:"column:event_id;primaryKey"`
	Status    Status    `gorm:"column:status;primaryKey;type:varchar(40)"`
	Count     int64     `gorm:"column:count;not null;default:0"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (EventClaimStat) TableName() string { return "event_claim_stats" }

type StatResponse struct {
	EventID   string    `json:"eventId"`
	Status    Status    `json:"status"`
	Count     int64     `json:"count"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (s *EventClaimStat) ToResponse() StatResponse {
	return StatResponse{
		EventID:   s.EventID,
		Status:    s.Status,
		Count:     s.Count,
		UpdatedAt: s.UpdatedAt,
	}
}

type Response struct {
	ClaimID        string               `json:"claimId"`
	Code           string               `json:"code,omitempty"`
	UserID         string               `json:"userId"`
	EventID        string               `json:"eventId"`
	Status         Status               `json:"status"`
	GrantedRewards []GrantedReward      `json:"grantedRewards"`
	ConditionCheck ConditionCheckDetail `json:"conditionCheck"`
	FailureReason  string               `json:"failureReason,omitempty"`
	RequestedAt    time.Time            `json:"requestedAt"`
	ProcessedAt    time.Time            `json:"processedAt"`
}

func (c *Claim) ToResponse() Response {
	granted := make([]GrantedReward, 0, len(c.GrantedRewards))
	granted = append(granted, c.GrantedRewards...)
	return Response{
		ClaimID:        c.ClaimID.String(),
		Code:           c.Code,
		UserID:         c.UserID,
		EventID:        c.EventID,
		Status:         c.Status,
		GrantedRewards: granted,
		ConditionCheck: c.ConditionCheck.Data(),
		FailureReason:  c.FailureReason,
		RequestedAt:    c.RequestedAt,
		ProcessedAt:    c.ProcessedAt,
	}
}
