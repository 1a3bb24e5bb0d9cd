package event

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusScheduled Status = "SCHEDULED"
	StatusActive    Status = "ACTIVE"
	StatusInactive  Status = "INACTIVE"
	StatusEnded     Status = "ENDED"
)

type ConditionCategory string

const (
	CategoryUserActivity ConditionCategory = "USER_ACTIVITY"
	CategoryUserProfile  ConditionCategory = "USER_PROFILE"
)

type Operator string

const (
	OperatorEquals    Operator = "EQUALS"
	OperatorNotEquals Operator = "NOT_EQUALS"
	OperatorGT        Operator = "GT"
	OperatorGTE       Operator = "GTE"
	OperatorLT        Operator = "LT"
	OperatorLTE       Operator = "LTE"
)

// Condition is the eligibility rule attached to an event. TargetValue holds a
// number ("3") or, for date types, an RFC3339 instant.
type Condition struct {
	Category    ConditionCategory `gorm:"column:category;type:varchar(50)" json:"category"`
	Type        string            `gorm:"column:type;type:varchar(100)" json:"type"`
	Operator    Operator          `gorm:"column:operator;type:varchar(20)" json:"operator"`
	TargetValue string            `gorm:"column:target_value;type:varchar(100)" json:"targetValue"`
}

// Event is read-only to the claim engine.
type Event struct {
	EventID   string    `gorm:"column:event_id;primaryKey"`
	Name      string    `gorm:"column:name;type:varchar(255);not null"`
	Status    Status    `gorm:"column:status;type:varchar(20);not null;default:'SCHEDULED'"`
	StartAt   time.Time `gorm:"column:start_at;not null"`
	EndAt     time.Time `gorm:"column:end_at;not null"`
	Condition Condition `gorm:"embedded;embeddedPrefix:condition_"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Event) TableName() string { return "events" }

// GetCondition returns nil when the event has no eligibility condition.
func (e *Event) GetCondition() *Condition {
	if e.Condition.Category == "" && e.Condition.Type == "" {
		return nil
	}
	c := e.Condition
	return &c
}

// Ineligibility explains why an event cannot be claimed.
type Ineligibility string

const (
	Eligible   Ineligibility = ""
	NotActive  Ineligibility = "NOT_ACTIVE"
	NotStarted Ineligibility = "NOT_STARTED"
	Expired    Ineligibility = "EXPIRED"
	Ended      Ineligibility = "ENDED"
)

// Reason renders the ineligibility as the audit failure text.
func (i Ineligibility) Reason(e *Event) string {
	switch i {
	case NotActive:
		return fmt.Sprintf("event %s is not active (status %s)", e.EventID, e.Status)
	case NotStarted:
		return fmt.Sprintf("event %s has not started yet (starts %s)", e.EventID, e.StartAt.UTC().Format(time.RFC3339))
	case Expired:
		return fmt.Sprintf("event %s has expired (ended %s)", e.EventID, e.EndAt.UTC().Format(time.RFC3339))
	case Ended:
		return fmt.Sprintf("event %s has ended", e.EventID)
	default:
		return ""
	}
}

// CheckClaimable reports whether the event accepts claims at now. Claims are
// accepted only while Status is ACTIVE and now is within [StartAt, EndAt].
func (e *Event) CheckClaimable(now time.Time) Ineligibility {
	switch e.Status {
	case StatusActive:
	case StatusEnded:
		return Ended
	default:
		return NotActive
	}
	if now.Before(e.StartAt) {
		return NotStarted
	}
	if now.After(e.EndAt) {
		return Expired
	}
	return Eligible
}
