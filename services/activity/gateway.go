package activity

import (
	"context"
	"errors"
	"fmt"
	"time"
)

//go:generate mockgen -source=gateway.go -destination=mock/gateway.go -package=mock

// Snapshot is a read-only projection of a user's activity as reported by the
// activity service. Absent counters are nil.
type Snapshot struct {
	UserID          string     `json:"userId"`
	LoginStreakDays *int64     `json:"loginStreakDays,omitempty"`
	InvitedFriends  []string   `json:"invitedFriends,omitempty"`
	LastLoginAt     *time.Time `json:"lastLoginAt,omitempty"`
	JoinedAt        *time.Time `json:"joinedAt,omitempty"`
}

// Gateway fetches activity snapshots. FetchByUserID returns nil, nil when the
// user is unknown upstream and a *TransportError on any transport failure.
type Gateway interface {
	FetchByUserID(ctx context.Context, userID string) (*Snapshot, error)
}

type ErrorKind string

const (
	KindTimeout    ErrorKind = "timeout"
	KindStatus     ErrorKind = "status"
	KindUnexpected ErrorKind = "unexpected"
)

var ErrTimeout = errors.New("activity: request timed out")

type TransportError struct {
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	switch e.Kind {
	case KindTimeout:
		return "activity service timed out"
	case KindStatus:
		return fmt.Sprintf("activity service responded with status %d", e.StatusCode)
	default:
		if e.Err != nil {
			return fmt.Sprintf("activity service request failed: %v", e.Err)
		}
		return "activity service request failed"
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool {
	return target == ErrTimeout && e.Kind == KindTimeout
}
