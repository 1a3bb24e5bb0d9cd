package condition

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/fx"

	"smallbiznis-rewardclaim/pkg/clock"
	"smallbiznis-rewardclaim/services/activity"
	"smallbiznis-rewardclaim/services/event"
)

const (
	TypeLoginStreakDays     = "LOGIN_STREAK_DAYS"
	TypeInvitedFriendsCount = "INVITED_FRIENDS_COUNT"
	TypeLastLoginDate       = "LAST_LOGIN_DATE"
	TypeJoinDate            = "JOIN_DATE"
)

// CheckDetail is the audit record of one condition evaluation. It is filled
// on every path, met or not.
type CheckDetail struct {
	Category    string    `json:"category,omitempty"`
	Type        string    `json:"type,omitempty"`
	Operator    string    `json:"operator,omitempty"`
	TargetValue any       `json:"targetValue,omitempty"`
	ActualValue any       `json:"actualValue,omitempty"`
	IsMet       bool      `json:"isMet"`
	CheckedAt   time.Time `json:"checkedAt"`
	Message     string    `json:"message"`
}

type Result struct {
	AllConditionsMet bool
	Detail           CheckDetail
}

type valueKind int

const (
	kindNumber valueKind = iota
	kindInstant
)

type key struct {
	category event.ConditionCategory
	typ      string
}

// resolver extracts the actual value from a snapshot. ok is false when the
// snapshot carries no value for an instant type.
type resolver struct {
	kind    valueKind
	resolve func(s *activity.Snapshot) (v any, ok bool)
}

var resolvers = map[key]resolver{
	{event.CategoryUserActivity, TypeLoginStreakDays}: {
		kind: kindNumber,
		resolve: func(s *activity.Snapshot) (any, bool) {
			if s.LoginStreakDays == nil {
				return int64(0), true
			}
			return *s.LoginStreakDays, true
		},
	},
	{event.CategoryUserActivity, TypeInvitedFriendsCount}: {
		kind: kindNumber,
		resolve: func(s *activity.Snapshot) (any, bool) {
			return int64(len(s.InvitedFriends)), true
		},
	},
	{event.CategoryUserActivity, TypeLastLoginDate}: {
		kind:    kindInstant,
		resolve: func(s *activity.Snapshot) (any, bool) { return instant(s.LastLoginAt) },
	},
	{event.CategoryUserProfile, TypeJoinDate}: {
		kind:    kindInstant,
		resolve: func(s *activity.Snapshot) (any, bool) { return instant(s.JoinedAt) },
	},
}

func instant(t *time.Time) (any, bool) {
	if t == nil {
		return nil, false
	}
	return t.UTC(), true
}

// Evaluator matches an event condition against an activity snapshot. It never
// returns an error: anything it cannot evaluate is reported as not met.
type Evaluator struct {
	clock clock.Clock
}

type Params struct {
	fx.In
	Clock clock.Clock `optional:"true"`
}

func NewEvaluator(p Params) *Evaluator {
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	return &Evaluator{clock: c}
}

func (e *Evaluator) Match(cond *event.Condition, snap *activity.Snapshot) Result {
	now := e.clock.Now()

	if cond == nil {
		return Result{
			AllConditionsMet: true,
			Detail:           CheckDetail{IsMet: true, CheckedAt: now, Message: "no condition"},
		}
	}

	detail := CheckDetail{
		Category:  string(cond.Category),
		Type:      cond.Type,
		Operator:  string(cond.Operator),
		CheckedAt: now,
	}
	unmet := func(format string, args ...any) Result {
		detail.IsMet = false
		detail.Message = fmt.Sprintf(format, args...)
		return Result{Detail: detail}
	}

	if snap == nil {
		detail.TargetValue = cond.TargetValue
		return unmet("activity data unavailable")
	}

	r, ok := resolvers[key{cond.Category, cond.Type}]
	if !ok {
		detail.TargetValue = cond.TargetValue
		return unmet("unsupported condition %s/%s", cond.Category, cond.Type)
	}

	target, err := parseTarget(r.kind, cond.TargetValue)
	if err != nil {
		detail.TargetValue = cond.TargetValue
		return unmet("invalid target value %q for %s/%s", cond.TargetValue, cond.Category, cond.Type)
	}
	detail.TargetValue = target

	actual, ok := r.resolve(snap)
	if !ok {
		return unmet("%s/%s: no value in activity data", cond.Category, cond.Type)
	}
	detail.ActualValue = actual

	cmp, err := compare(actual, target)
	if err != nil {
		return unmet("%s/%s: %v", cond.Category, cond.Type, err)
	}

	met, ok := apply(cond.Operator, cmp)
	if !ok {
		return unmet("unsupported operator %q", cond.Operator)
	}

	detail.IsMet = met
	verdict := "met"
	if !met {
		verdict = "not met"
	}
	detail.Message = fmt.Sprintf("%s/%s %s: %v %s %v", cond.Category, cond.Type, verdict, format(actual), cond.Operator, format(target))
	return Result{AllConditionsMet: met, Detail: detail}
}

func parseTarget(kind valueKind, raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	switch kind {
	case kindInstant:
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, err
		}
		return t.UTC(), nil
	default:
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return n, nil
		}
		return strconv.ParseFloat(raw, 64)
	}
}

// compare returns -1, 0 or 1 as actual is less than, equal to or greater
// than target.
func compare(actual, target any) (int, error) {
	switch a := actual.(type) {
	case time.Time:
		t, ok := target.(time.Time)
		if !ok {
			return 0, fmt.Errorf("cannot compare instant with %T", target)
		}
		return a.Compare(t), nil
	case int64:
		return compareFloat(float64(a), target)
	case float64:
		return compareFloat(a, target)
	default:
		return 0, fmt.Errorf("unsupported value type %T", actual)
	}
}

func compareFloat(a float64, target any) (int, error) {
	var b float64
	switch t := target.(type) {
	case int64:
		b = float64(t)
	case float64:
		b = t
	default:
		return 0, fmt.Errorf("cannot compare number with %T", target)
	}
	switch {
	case a < b:
		return -1, nil
	case a > b:
		return 1, nil
	default:
		return 0, nil
	}
}

func apply(op event.Operator, cmp int) (bool, bool) {
	switch op {
	case event.OperatorEquals:
		return cmp == 0, true
	case event.OperatorNotEquals:
		return cmp != 0, true
	case event.OperatorGT:
		return cmp > 0, true
	case event.OperatorGTE:
		return cmp >= 0, true
	case event.OperatorLT:
		return cmp < 0, true
	case event.OperatorLTE:
		return cmp <= 0, true
	default:
		return false, false
	}
}

func format(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.Format(time.RFC3339)
	}
	return v
}
