package claim

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"smallbiznis-rewardclaim/pkg/clock"
	"smallbiznis-rewardclaim/pkg/errutil"
	"smallbiznis-rewardclaim/pkg/taskname"
	"smallbiznis-rewardclaim/services/activity"
	"smallbiznis-rewardclaim/services/activity/mock"
	"smallbiznis-rewardclaim/services/condition"
	"smallbiznis-rewardclaim/services/event"
	"smallbiznis-rewardclaim/services/reward"
	"smallbiznis-rewardclaim/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var testNow = time.Date(2026, 5, 3, 12, 0, 0, 0, time.UTC)

type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, t *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, t)
	return &asynq.TaskInfo{Type: t.Type()}, nil
}

func (f *fakeEnqueuer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tasks)
}

type fakeCodes struct {
	code string
	err  error
}

func (f fakeCodes) NextClaimCode(ctx context.Context, eventID string) (string, error) {
	return f.code, f.err
}

// faultyLedger fails selected writes and delegates everything else.
type faultyLedger struct {
	Ledger
	saveErr          error
	saveInSessionErr error
}

func (f *faultyLedger) WithTrx(tx *gorm.DB) Ledger {
	return &faultyLedger{Ledger: f.Ledger.WithTrx(tx), saveErr: f.saveErr, saveInSessionErr: f.saveInSessionErr}
}

func (f *faultyLedger) Save(ctx context.Context, c *Claim) (*Claim, error) {
	if f.saveErr != nil {
		return nil, f.saveErr
	}
	return f.Ledger.Save(ctx, c)
}

func (f *faultyLedger) SaveInSession(ctx context.Context, tx *gorm.DB, c *Claim) (*Claim, error) {
	if f.saveInSessionErr != nil {
		return nil, f.saveInSessionErr
	}
	return f.Ledger.SaveInSession(ctx, tx, c)
}

type fixture struct {
	db      *gorm.DB
	gateway *mock.MockGateway
	ledger  Ledger
	tasks   *fakeEnqueuer
	svc     *Service
}

type fixtureOption func(*ServiceParams)

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t, &event.Event{}, &reward.Reward{})
	require.NoError(t, Migrate(db))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	ctrl := gomock.NewController(t)
	f := &fixture{
		db:      db,
		gateway: mock.NewMockGateway(ctrl),
		ledger:  NewLedger(db),
		tasks:   &fakeEnqueuer{},
	}

	clk := clock.Fixed(testNow)
	p := ServiceParams{
		DB:        db,
		Node:      node,
		Events:    event.NewRepository(db),
		Rewards:   reward.NewRepository(db),
		Ledger:    f.ledger,
		Activity:  f.gateway,
		Evaluator: condition.NewEvaluator(condition.Params{Clock: clk}),
		Clock:     clk,
		Tasks:     f.tasks,
	}
	for _, opt := range opts {
		opt(&p)
	}
	f.ledger = p.Ledger
	f.svc = NewService(p)
	return f
}

func (f *fixture) seedEvent(t *testing.T, e event.Event) {
	t.Helper()
	if e.StartAt.IsZero() {
		e.StartAt = testNow.Add(-time.Hour)
	}
	if e.EndAt.IsZero() {
		e.EndAt = testNow.Add(time.Hour)
	}
	if e.Status == "" {
		e.Status = event.StatusActive
	}
	require.NoError(t, f.db.Create(&e).Error)
}

func (f *fixture) seedReward(t *testing.T, rw reward.Reward) {
	t.Helper()
	require.NoError(t, f.db.Create(&rw).Error)
}

func (f *fixture) remaining(t *testing.T, rewardID string) *int32 {
	t.Helper()
	var rw reward.Reward
	require.NoError(t, f.db.Where("reward_id = ?", rewardID).First(&rw).Error)
	return rw.RemainingQuantity
}

func (f *fixture) claims(t *testing.T, userID, eventID string) []Claim {
	t.Helper()
	var out []Claim
	require.NoError(t, f.db.Where("user_id = ? AND event_id = ?", userID, eventID).Order("claim_id").Find(&out).Error)
	return out
}

func int32Ptr(v int32) *int32 { return &v }

func streak(n int64) *activity.Snapshot {
	return &activity.Snapshot{UserID: "u", LoginStreakDays: &n}
}

var streakCondition = event.Condition{
	Category:    event.CategoryUserActivity,
	Type:        condition.TypeLoginStreakDays,
	Operator:    event.OperatorGTE,
	TargetValue: "3",
}

// seedStreakEvent seeds event E with an unlimited reward R1 and a limited
// reward R2 holding remaining units.
func (f *fixture) seedStreakEvent(t *testing.T, remaining int32) {
	t.Helper()
	f.seedEvent(t, event.Event{EventID: "E", Name: "Login streak", Condition: streakCondition})
	f.seedReward(t, reward.Reward{RewardID: "R1", EventID: "E", Name: "Badge", Type: "BADGE"})
	f.seedReward(t, reward.Reward{RewardID: "R2", EventID: "E", Name: "Coupon", Type: "COUPON", Quantity: int32Ptr(10), RemainingQuantity: int32Ptr(remaining)})
}

func TestClaimRewardSuccess(t *testing.T) {
	f := newFixture(t, func(p *ServiceParams) { p.Codes = fakeCodes{code: "CLM-260503-001AB"} })
	f.seedStreakEvent(t, 10)
	f.gateway.EXPECT().FetchByUserID(gomock.Any(), "user-1").Return(streak(5), nil)

	c, err := f.svc.ClaimReward(context.Background(), "user-1", "E")
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, c.Status)
	require.Equal(t, "CLM-260503-001AB", c.Code)
	require.Equal(t, testNow, c.RequestedAt)

	ids := make([]string, 0, len(c.GrantedRewards))
	for _, g := range c.GrantedRewards {
		ids = append(ids, g.RewardID)
	}
	require.ElementsMatch(t, []string{"R1", "R2"}, ids)

	require.Equal(t, int32(9), *f.remaining(t, "R2"))
	require.Nil(t, f.remaining(t, "R1"))

	stored := f.claims(t, "user-1", "E")
	require.Len(t, stored, 1)
	require.Equal(t, StatusSuccess, stored[0].Status)
	require.Len(t, stored[0].GrantedRewards, 2)
	require.True(t, stored[0].ConditionCheck.Data().IsMet)

	require.Equal(t, 1, f.tasks.count())
	require.Equal(t, taskname.ClaimProcessed, f.tasks.tasks[0].Type())
}

func TestClaimRewardGrantedSnapshotIsIndependent(t *testing.T) {
	f := newFixture(t)
	f.seedStreakEvent(t, 10)
	f.gateway.EXPECT().FetchByUserID(gomock.Any(), "user-1").Return(streak(5), nil)

	_, err := f.svc.ClaimReward(context.Background(), "user-1", "E")
	require.NoError(t, err)

	require.NoError(t, f.db.Model(&reward.Reward{}).Where("reward_id = ?", "R1").Update("name", "Renamed").Error)

	stored := f.claims(t, "user-1", "E")
	require.Len(t, stored, 1)
	for _, g := range stored[0].GrantedRewards {
		if g.RewardID == "R1" {
			require.Equal(t, "Badge", g.Name)
		}
	}
}

func TestClaimRewardConditionsNotMet(t *testing.T) {
	f := newFixture(t)
	f.seedStreakEvent(t, 10)
	f.gateway.EXPECT().FetchByUserID(gomock.Any(), "user-1").Return(streak(2), nil)

	c, err := f.svc.ClaimReward(context.Background(), "user-1", "E")
	require.Nil(t, c)
	require.ErrorIs(t, err, ErrConditionsNotMet)

	var ce *Error
	require.ErrorAs(t, err, &ce)
	require.NotNil(t, ce.Claim)
	require.Equal(t, StatusFailedConditionsNotMet, ce.Claim.Status)

	stored := f.claims(t, "user-1", "E")
	require.Len(t, stored, 1)
	detail := stored[0].ConditionCheck.Data()
	require.False(t, detail.IsMet)
	require.EqualValues(t, 2, detail.ActualValue)
	require.EqualValues(t, 3, detail.TargetValue)
	require.NotEmpty(t, stored[0].FailureReason)
	require.Empty(t, stored[0].GrantedRewards)

	require.Equal(t, int32(10), *f.remaining(t, "R2"))
	require.Equal(t, 1, f.tasks.count())
}

func TestClaimRewardMissingActivityFailsClosed(t *testing.T) {
	f := newFixture(t)
	f.seedStreakEvent(t, 10)
	f.gateway.EXPECT().FetchByUserID(gomock.Any(), "ghost").Return(nil, nil)

	_, err := f.svc.ClaimReward(context.Background(), "ghost", "E")
	require.ErrorIs(t, err, ErrConditionsNotMet)

	stored := f.claims(t, "ghost", "E")
	require.Len(t, stored, 1)
	require.Equal(t, "activity data unavailable", stored[0].ConditionCheck.Data().Message)
}

func TestClaimRewardWithoutCondition(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, event.Event{EventID: "open", Name: "Open house"})
	f.seedReward(t, reward.Reward{RewardID: "R", EventID: "open", Name: "Sticker", Type: "BADGE"})
	f.gateway.EXPECT().FetchByUserID(gomock.Any(), "user-1").Return(nil, nil)

	c, err := f.svc.ClaimReward(context.Background(), "user-1", "open")
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, c.Status)
	require.Equal(t, "no condition", c.ConditionCheck.Data().Message)
}

func TestClaimRewardEventNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ClaimReward(context.Background(), "user-1", "missing")
	require.ErrorIs(t, err, ErrEventNotFound)

	var ce *Error
	require.ErrorAs(t, err, &ce)
	require.Nil(t, ce.Claim)
	require.Empty(t, f.claims(t, "user-1", "missing"))
	require.Equal(t, 0, f.tasks.count())
}

func TestClaimRewardEventNotClaimable(t *testing.T) {
	cases := []struct {
		name   string
		event  event.Event
		status Status
	}{
		{
			name:   "inactive",
			event:  event.Event{Status: event.StatusInactive},
			status: StatusFailedEventNotActive,
		},
		{
			name:   "scheduled",
			event:  event.Event{Status: event.StatusScheduled},
			status: StatusFailedEventNotActive,
		},
		{
			name:   "not started",
			event:  event.Event{StartAt: testNow.Add(time.Hour), EndAt: testNow.Add(2 * time.Hour)},
			status: StatusFailedEventNotActive,
		},
		{
			name:   "past end",
			event:  event.Event{StartAt: testNow.Add(-2 * time.Hour), EndAt: testNow.Add(-time.Hour)},
			status: StatusFailedEventExpired,
		},
		{
			name:   "ended",
			event:  event.Event{Status: event.StatusEnded},
			status: StatusFailedEventExpired,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			ev := tc.event
			ev.EventID = "E"
			ev.Name = "Event"
			ev.Condition = streakCondition
			f.seedEvent(t, ev)

			_, err := f.svc.ClaimReward(context.Background(), "user-1", "E")
			require.ErrorIs(t, err, ErrEventNotClaimable)

			var ce *Error
			require.ErrorAs(t, err, &ce)
			require.Equal(t, errutil.StatusUnprocessableEntity, ce.Status())

			stored := f.claims(t, "user-1", "E")
			require.Len(t, stored, 1)
			require.Equal(t, tc.status, stored[0].Status)
			require.Contains(t, stored[0].FailureReason, "event E")
		})
	}
}

func TestClaimRewardAlreadyClaimed(t *testing.T) {
	f := newFixture(t)
	f.seedStreakEvent(t, 10)
	f.gateway.EXPECT().FetchByUserID(gomock.Any(), "user-1").Return(streak(5), nil).Times(1)

	first, err := f.svc.ClaimReward(context.Background(), "user-1", "E")
	require.NoError(t, err)

	_, err = f.svc.ClaimReward(context.Background(), "user-1", "E")
	require.ErrorIs(t, err, ErrAlreadyClaimed)

	var ce *Error
	require.ErrorAs(t, err, &ce)
	require.Equal(t, first.ClaimID, ce.Claim.ClaimID)

	require.Len(t, f.claims(t, "user-1", "E"), 1)
	require.Equal(t, int32(9), *f.remaining(t, "R2"))
}

func TestClaimRewardRetryAfterFailureCreatesNewRecord(t *testing.T) {
	f := newFixture(t)
	f.seedStreakEvent(t, 10)
	gomock.InOrder(
		f.gateway.EXPECT().FetchByUserID(gomock.Any(), "user-1").Return(streak(1), nil),
		f.gateway.EXPECT().FetchByUserID(gomock.Any(), "user-1").Return(streak(4), nil),
	)

	_, err := f.svc.ClaimReward(context.Background(), "user-1", "E")
	require.ErrorIs(t, err, ErrConditionsNotMet)

	c, err := f.svc.ClaimReward(context.Background(), "user-1", "E")
	require.NoError(t, err)

	stored := f.claims(t, "user-1", "E")
	require.Len(t, stored, 2)
	require.Equal(t, StatusFailedConditionsNotMet, stored[0].Status)
	require.Equal(t, c.ClaimID, stored[1].ClaimID)
}

func TestClaimRewardActivityTransportFailure(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status errutil.CoreStatus
	}{
		{
			name:   "timeout",
			err:    &activity.TransportError{Kind: activity.KindTimeout, Err: context.DeadlineExceeded},
			status: errutil.StatusGatewayTimeout,
		},
		{
			name:   "non success status",
			err:    &activity.TransportError{Kind: activity.KindStatus, StatusCode: 500},
			status: errutil.StatusBadGateway,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.seedStreakEvent(t, 10)
			f.gateway.EXPECT().FetchByUserID(gomock.Any(), "user-1").Return(nil, tc.err)

			_, err := f.svc.ClaimReward(context.Background(), "user-1", "E")
			require.ErrorIs(t, err, ErrExternalServiceComms)

			var ce *Error
			require.ErrorAs(t, err, &ce)
			require.Equal(t, tc.status, ce.Status())

			var te *activity.TransportError
			require.ErrorAs(t, err, &te)

			stored := f.claims(t, "user-1", "E")
			require.Len(t, stored, 1)
			require.Equal(t, StatusFailedUnknown, stored[0].Status)
			require.Contains(t, stored[0].FailureReason, "activity service")
			require.Equal(t, int32(10), *f.remaining(t, "R2"))
		})
	}
}

func TestClaimRewardNoRewardsAvailable(t *testing.T) {
	t.Run("event without rewards", func(t *testing.T) {
		f := newFixture(t)
		f.seedEvent(t, event.Event{EventID: "E", Name: "Empty", Condition: streakCondition})
		f.gateway.EXPECT().FetchByUserID(gomock.Any(), "user-1").Return(streak(5), nil)

		_, err := f.svc.ClaimReward(context.Background(), "user-1", "E")
		require.ErrorIs(t, err, ErrNoRewardsAvailable)

		var ce *Error
		require.ErrorAs(t, err, &ce)
		require.Equal(t, StatusFailedNoRewardsAvailable, ce.Claim.Status)

		stored := f.claims(t, "user-1", "E")
		require.Len(t, stored, 1)
		require.Equal(t, StatusFailedNoRewardsAvailable, stored[0].Status)
		require.True(t, stored[0].ConditionCheck.Data().IsMet)
		require.Equal(t, 1, f.tasks.count())
	})

	t.Run("all rewards exhausted", func(t *testing.T) {
		f := newFixture(t)
		f.seedEvent(t, event.Event{EventID: "E", Name: "Sold out", Condition: streakCondition})
		f.seedReward(t, reward.Reward{RewardID: "R2", EventID: "E", Name: "Coupon", Type: "COUPON", Quantity: int32Ptr(1), RemainingQuantity: int32Ptr(0)})
		f.gateway.EXPECT().FetchByUserID(gomock.Any(), "user-1").Return(streak(5), nil)

		_, err := f.svc.ClaimReward(context.Background(), "user-1", "E")
		require.ErrorIs(t, err, ErrNoRewardsAvailable)
		require.Equal(t, int32(0), *f.remaining(t, "R2"))

		stored := f.claims(t, "user-1", "E")
		require.Len(t, stored, 1)
		require.Equal(t, StatusFailedNoRewardsAvailable, stored[0].Status)
	})
}

func TestClaimRewardPartialGrant(t *testing.T) {
	f := newFixture(t)
	f.seedStreakEvent(t, 0)
	f.gateway.EXPECT().FetchByUserID(gomock.Any(), "user-1").Return(streak(5), nil)

	c, err := f.svc.ClaimReward(context.Background(), "user-1", "E")
	require.NoError(t, err)
	require.Len(t, c.GrantedRewards, 1)
	require.Equal(t, "R1", c.GrantedRewards[0].RewardID)
}

func TestClaimRewardRollsBackOnSaveFailure(t *testing.T) {
	errDisk := errors.New("disk full")
	f := newFixture(t, func(p *ServiceParams) {
		p.Ledger = &faultyLedger{Ledger: p.Ledger, saveInSessionErr: errDisk}
	})
	f.seedStreakEvent(t, 10)
	f.gateway.EXPECT().FetchByUserID(gomock.Any(), "user-1").Return(streak(5), nil)

	_, err := f.svc.ClaimReward(context.Background(), "user-1", "E")
	require.ErrorIs(t, err, ErrDatabaseOperation)
	require.ErrorIs(t, err, errDisk)

	var ce *Error
	require.ErrorAs(t, err, &ce)
	require.Equal(t, errutil.StatusInternal, ce.Status())

	require.Equal(t, int32(10), *f.remaining(t, "R2"))
	require.Empty(t, f.claims(t, "user-1", "E"))
	require.Equal(t, 0, f.tasks.count())
}

func TestClaimRewardAuditWriteFailureKeepsPrimaryError(t *testing.T) {
	f := newFixture(t, func(p *ServiceParams) {
		p.Ledger = &faultyLedger{Ledger: p.Ledger, saveErr: errors.New("connection reset")}
	})
	f.seedStreakEvent(t, 10)
	f.gateway.EXPECT().FetchByUserID(gomock.Any(), "user-1").Return(streak(2), nil)

	_, err := f.svc.ClaimReward(context.Background(), "user-1", "E")
	require.ErrorIs(t, err, ErrConditionsNotMet)

	var ce *Error
	require.ErrorAs(t, err, &ce)
	require.Nil(t, ce.Claim)
	require.Empty(t, f.claims(t, "user-1", "E"))
}

func TestClaimRewardSideEffectFailuresDoNotFailClaim(t *testing.T) {
	f := newFixture(t, func(p *ServiceParams) {
		p.Codes = fakeCodes{err: errors.New("redis down")}
		p.Tasks = &fakeEnqueuer{err: errors.New("redis down")}
	})
	f.seedStreakEvent(t, 10)
	f.gateway.EXPECT().FetchByUserID(gomock.Any(), "user-1").Return(streak(5), nil)

	c, err := f.svc.ClaimReward(context.Background(), "user-1", "E")
	require.NoError(t, err)
	require.Empty(t, c.Code)
	require.Equal(t, StatusSuccess, c.Status)
}

func TestClaimRewardConcurrentDoubleClaim(t *testing.T) {
	f := newFixture(t)
	f.seedStreakEvent(t, 10)
	f.gateway.EXPECT().FetchByUserID(gomock.Any(), "user-1").Return(streak(5), nil).MinTimes(1).MaxTimes(4)

	var successes, already atomic.Int32
	g, ctx := errgroup.WithContext(context.Background())
	for range 4 {
		g.Go(func() error {
			_, err := f.svc.ClaimReward(ctx, "user-1", "E")
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, ErrAlreadyClaimed):
				already.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	require.Equal(t, int32(1), successes.Load())
	require.Equal(t, int32(3), already.Load())
	require.Equal(t, int32(9), *f.remaining(t, "R2"))

	var count int64
	require.NoError(t, f.db.Model(&Claim{}).Where("status = ?", StatusSuccess).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestClaimRewardConcurrentUsersNeverOvergrant(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, event.Event{EventID: "E", Name: "Flash", Condition: streakCondition})
	f.seedReward(t, reward.Reward{RewardID: "R2", EventID: "E", Name: "Coupon", Type: "COUPON", Quantity: int32Ptr(2), RemainingQuantity: int32Ptr(2)})
	f.gateway.EXPECT().FetchByUserID(gomock.Any(), gomock.Any()).Return(streak(5), nil).AnyTimes()

	users := []string{"a", "b", "c", "d", "e"}
	var successes, soldOut atomic.Int32
	var g errgroup.Group
	for _, u := range users {
		g.Go(func() error {
			_, err := f.svc.ClaimReward(context.Background(), u, "E")
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, ErrNoRewardsAvailable):
				soldOut.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	require.Equal(t, int32(2), successes.Load())
	require.Equal(t, int32(3), soldOut.Load())
	require.Equal(t, int32(0), *f.remaining(t, "R2"))
}
