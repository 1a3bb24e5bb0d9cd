package claim

import (
	"errors"
	"fmt"

	"smallbiznis-rewardclaim/pkg/errutil"
	"smallbiznis-rewardclaim/services/activity"
)

type Reason string

const (
	ReasonEventNotFound        Reason = "EVENT_NOT_FOUND"
	ReasonEventNotClaimable    Reason = "EVENT_NOT_CLAIMABLE"
	ReasonAlreadyClaimed       Reason = "ALREADY_CLAIMED"
	ReasonExternalServiceComms Reason = "EXTERNAL_SERVICE_COMMS_FAILURE"
	ReasonConditionsNotMet     Reason = "CONDITIONS_NOT_MET"
	ReasonNoRewardsAvailable   Reason = "NO_REWARDS_AVAILABLE"
	ReasonDatabaseOperation    Reason = "DATABASE_OPERATION_FAILURE"
)

var defaultMessages = map[Reason]string{
	ReasonEventNotFound:        "event not found",
	ReasonEventNotClaimable:    "event is not claimable",
	ReasonAlreadyClaimed:       "rewards for this event were already claimed",
	ReasonExternalServiceComms: "activity service unavailable",
	ReasonConditionsNotMet:     "event conditions not met",
	ReasonNoRewardsAvailable:   "no rewards available",
	ReasonDatabaseOperation:    "database operation failed",
}

// Sentinels for errors.Is. They match any *Error with the same Reason.
var (
	ErrEventNotFound        = &Error{Reason: ReasonEventNotFound}
	ErrEventNotClaimable    = &Error{Reason: ReasonEventNotClaimable}
	ErrAlreadyClaimed       = &Error{Reason: ReasonAlreadyClaimed}
	ErrExternalServiceComms = &Error{Reason: ReasonExternalServiceComms}
	ErrConditionsNotMet     = &Error{Reason: ReasonConditionsNotMet}
	ErrNoRewardsAvailable   = &Error{Reason: ReasonNoRewardsAvailable}
	ErrDatabaseOperation    = &Error{Reason: ReasonDatabaseOperation}
)

// Error is a typed claim failure. Claim holds the audit record written for
// the attempt, or the existing successful claim for ReasonAlreadyClaimed. It
// is nil when nothing was recorded.
type Error struct {
	Reason  Reason
	Message string
	Claim   *Claim
	Err     error
}

func newError(reason Reason, message string, c *Claim, err error) *Error {
	return &Error{Reason: reason, Message: message, Claim: c, Err: err}
}

func (e *Error) Error() string {
	msg := e.PublicMessage()
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Reason, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Reason, msg)
}

func (e *Error) PublicMessage() string {
	if e.Message != "" {
		return e.Message
	}
	return defaultMessages[e.Reason]
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Reason == e.Reason
}

func (e *Error) Status() errutil.CoreStatus {
	switch e.Reason {
	case ReasonEventNotFound:
		return errutil.StatusNotFound
	case ReasonEventNotClaimable, ReasonConditionsNotMet:
		return errutil.StatusUnprocessableEntity
	case ReasonAlreadyClaimed, ReasonNoRewardsAvailable:
		return errutil.StatusConflict
	case ReasonExternalServiceComms:
		if errors.Is(e.Err, activity.ErrTimeout) {
			return errutil.StatusGatewayTimeout
		}
		return errutil.StatusBadGateway
	default:
		return errutil.StatusInternal
	}
}
