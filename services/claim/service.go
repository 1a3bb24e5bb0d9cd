package claim

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"smallbiznis-rewardclaim/pkg/clock"
	"smallbiznis-rewardclaim/pkg/config"
	"smallbiznis-rewardclaim/pkg/sequence"
	"smallbiznis-rewardclaim/pkg/task"
	"smallbiznis-rewardclaim/services/activity"
	"smallbiznis-rewardclaim/services/condition"
	"smallbiznis-rewardclaim/services/event"
	"smallbiznis-rewardclaim/services/reward"
)

const instrumentationName = "smallbiznis-rewardclaim/services/claim"

// errSuccessExists aborts the grant transaction when a SUCCESS claim
// committed after the pre-transaction check.
var errSuccessExists = errors.New("successful claim already exists")

// Service runs claim attempts end to end. It holds no locks; concurrent
// attempts are arbitrated by the database.
type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	events    event.Repository
	rewards   reward.Repository
	ledger    Ledger
	activity  activity.Gateway
	evaluator *condition.Evaluator

	clock    clock.Clock
	codes    sequence.Generator
	tasks    task.Enqueuer
	queue    string
	log      *zap.Logger
	tracer   trace.Tracer
	attempts metric.Int64Counter
}

type ServiceParams struct {
	fx.In

	DB        *gorm.DB
	Node      *snowflake.Node
	Events    event.Repository
	Rewards   reward.Repository
	Ledger    Ledger
	Activity  activity.Gateway
	Evaluator *condition.Evaluator

	Config *config.Config     `optional:"true"`
	Clock  clock.Clock        `optional:"true"`
	Codes  sequence.Generator `optional:"true"`
	Tasks  task.Enqueuer      `optional:"true"`
	Logger *zap.Logger        `optional:"true"`

	TracerProvider trace.TracerProvider `optional:"true"`
	MeterProvider  metric.MeterProvider `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	s := &Service{
		db:        p.DB,
		node:      p.Node,
		events:    p.Events,
		rewards:   p.Rewards,
		ledger:    p.Ledger,
		activity:  p.Activity,
		evaluator: p.Evaluator,
		clock:     p.Clock,
		codes:     p.Codes,
		tasks:     p.Tasks,
		log:       p.Logger,
	}
	if s.clock == nil {
		s.clock = clock.SystemClock{}
	}
	if s.evaluator == nil {
		s.evaluator = condition.NewEvaluator(condition.Params{Clock: s.clock})
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if p.Config != nil {
		s.queue = p.Config.Claim.Queue
	}

	tp := p.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	s.tracer = tp.Tracer(instrumentationName)

	mp := p.MeterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	attempts, err := mp.Meter(instrumentationName).Int64Counter("claim.attempts",
		metric.WithDescription("Claim attempts by outcome."),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		s.log.Warn("failed to create claim attempts counter", zap.Error(err))
		attempts, _ = otel.GetMeterProvider().Meter(instrumentationName).Int64Counter("claim.attempts")
	}
	s.attempts = attempts
	return s
}

// ClaimReward runs one claim attempt for userID on eventID. It returns the
// persisted SUCCESS claim, or an *Error whose Reason names the outcome.
func (s *Service) ClaimReward(ctx context.Context, userID, eventID string) (*Claim, error) {
	ctx, span := s.tracer.Start(ctx, "claim.ClaimReward", trace.WithAttributes(
		attribute.String("user_id", userID),
		attribute.String("event_id", eventID),
	))
	defer span.End()

	c, err := s.claimReward(ctx, userID, eventID)
	if err != nil {
		var ce *Error
		if errors.As(err, &ce) {
			span.SetAttributes(attribute.String("claim.reason", string(ce.Reason)))
			if ce.Claim != nil {
				span.SetAttributes(attribute.String("claim.status", string(ce.Claim.Status)))
			}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.attempts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcomeOf(err))))
		return nil, err
	}

	span.SetAttributes(
		attribute.String("claim.id", c.ClaimID.String()),
		attribute.String("claim.status", string(c.Status)),
		attribute.Int("claim.granted", len(c.GrantedRewards)),
	)
	s.attempts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(c.Status))))
	return c, nil
}

// outcomeOf labels a failed attempt by its persisted status, or by reason
// when no audit record was written.
func outcomeOf(err error) string {
	var ce *Error
	if !errors.As(err, &ce) {
		return "UNKNOWN"
	}
	if ce.Claim != nil && ce.Claim.Status != StatusSuccess {
		return string(ce.Claim.Status)
	}
	return string(ce.Reason)
}

func (s *Service) claimReward(ctx context.Context, userID, eventID string) (*Claim, error) {
	requestedAt := s.clock.Now()
	log := s.log.With(zap.String("user_id", userID), zap.String("event_id", eventID))

	ev, err := s.events.FindByID(ctx, eventID)
	if err != nil {
		log.Error("failed to load event", zap.Error(err))
		return nil, newError(ReasonDatabaseOperation, "", nil, fmt.Errorf("find event: %w", err))
	}
	if ev == nil {
		return nil, newError(ReasonEventNotFound, fmt.Sprintf("event %s not found", eventID), nil, nil)
	}

	if in := ev.CheckClaimable(s.clock.Now()); in != event.Eligible {
		status := StatusFailedEventNotActive
		if in == event.Expired || in == event.Ended {
			status = StatusFailedEventExpired
		}
		reason := in.Reason(ev)
		primary := newError(ReasonEventNotClaimable, reason, nil, nil)
		primary.Claim = s.recordFailure(ctx, s.newClaim(ctx, userID, eventID, requestedAt, status, reason), primary)
		return nil, primary
	}

	existing, err := s.ledger.FindSuccessfulClaim(ctx, userID, eventID)
	if err != nil {
		log.Error("failed to check existing claim", zap.Error(err))
		return nil, newError(ReasonDatabaseOperation, "", nil, fmt.Errorf("find successful claim: %w", err))
	}
	if existing != nil {
		return nil, newError(ReasonAlreadyClaimed, "", existing, nil)
	}

	snap, err := s.activity.FetchByUserID(ctx, userID)
	if err != nil {
		log.Warn("activity fetch failed", zap.Error(err))
		reason := fmt.Sprintf("activity service: %v", err)
		primary := newError(ReasonExternalServiceComms, "", nil, err)
		primary.Claim = s.recordFailure(ctx, s.newClaim(ctx, userID, eventID, requestedAt, StatusFailedUnknown, reason), primary)
		return nil, primary
	}

	result := s.evaluator.Match(ev.GetCondition(), snap)
	if !result.AllConditionsMet {
		c := s.newClaim(ctx, userID, eventID, requestedAt, StatusFailedConditionsNotMet, result.Detail.Message)
		c.ConditionCheck = datatypes.NewJSONType(result.Detail)
		primary := newError(ReasonConditionsNotMet, "", nil, nil)
		primary.Claim = s.recordFailure(ctx, c, primary)
		return nil, primary
	}

	c := s.newClaim(ctx, userID, eventID, requestedAt, StatusRequested, "")
	c.ConditionCheck = datatypes.NewJSONType(result.Detail)

	var dup *Claim
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ledger := s.ledger.WithTrx(tx)
		rewards := s.rewards.WithTrx(tx)

		found, err := ledger.FindSuccessfulClaim(ctx, userID, eventID)
		if err != nil {
			return err
		}
		if found != nil {
			dup = found
			return errSuccessExists
		}

		candidates, err := rewards.FindByEventID(ctx, eventID)
		if err != nil {
			return err
		}

		granted := make([]GrantedReward, 0, len(candidates))
		for _, rw := range candidates {
			if rw.IsUnlimited() {
				granted = append(granted, snapshotOf(rw))
				continue
			}
			updated, err := rewards.DecreaseQuantity(ctx, rw.RewardID, 1)
			if err != nil {
				return fmt.Errorf("decrease reward %s: %w", rw.RewardID, err)
			}
			if updated == nil {
				continue
			}
			granted = append(granted, snapshotOf(updated))
		}

		c.GrantedRewards = granted
		c.ProcessedAt = s.clock.Now()
		if len(granted) > 0 {
			c.Status = StatusSuccess
		} else {
			c.Status = StatusFailedNoRewardsAvailable
			c.FailureReason = "no rewards available"
		}

		_, err = ledger.SaveInSession(ctx, tx, c)
		return err
	})
	switch {
	case errors.Is(err, errSuccessExists), errors.Is(err, gorm.ErrDuplicatedKey):
		log.Info("concurrent claim already succeeded")
		return nil, newError(ReasonAlreadyClaimed, "", dup, nil)
	case err != nil:
		log.Error("claim transaction rolled back", zap.Error(err))
		return nil, newError(ReasonDatabaseOperation, "", nil, err)
	}

	s.publish(ctx, c)

	if c.Status == StatusFailedNoRewardsAvailable {
		log.Info("no rewards available", zap.String("claim_id", c.ClaimID.String()))
		return nil, newError(ReasonNoRewardsAvailable, "", c, nil)
	}

	log.Info("claim succeeded",
		zap.String("claim_id", c.ClaimID.String()),
		zap.Int("granted", len(c.GrantedRewards)),
	)
	return c, nil
}

func (s *Service) newClaim(ctx context.Context, userID, eventID string, requestedAt time.Time, status Status, failureReason string) *Claim {
	c := &Claim{
		ClaimID:        s.node.Generate(),
		UserID:         userID,
		EventID:        eventID,
		Status:         status,
		GrantedRewards: datatypes.JSONSlice[GrantedReward]{},
		FailureReason:  failureReason,
		RequestedAt:    requestedAt,
		ProcessedAt:    s.clock.Now(),
	}
	if s.codes != nil {
		code, err := s.codes.NextClaimCode(ctx, eventID)
		if err != nil {
			s.log.Warn("failed to generate claim code", zap.String("event_id", eventID), zap.Error(err))
		} else {
			c.Code = code
		}
	}
	return c
}

// recordFailure saves the audit record of a failed attempt. A failed write is
// logged with the primary error and dropped; the caller still returns primary.
func (s *Service) recordFailure(ctx context.Context, c *Claim, primary error) *Claim {
	saved, err := s.ledger.Save(ctx, c)
	if err != nil {
		s.log.Error("failed to record claim attempt",
			zap.String("user_id", c.UserID),
			zap.String("event_id", c.EventID),
			zap.String("status", string(c.Status)),
			zap.NamedError("primary_error", primary),
			zap.Error(err),
		)
		return nil
	}
	s.publish(ctx, saved)
	return saved
}

func (s *Service) publish(ctx context.Context, c *Claim) {
	if s.tasks == nil {
		return
	}
	t, err := newProcessedTask(ctx, c)
	if err != nil {
		s.log.Warn("failed to build claim task", zap.String("claim_id", c.ClaimID.String()), zap.Error(err))
		return
	}

	var opts []asynq.Option
	if s.queue != "" {
		opts = append(opts, asynq.Queue(s.queue))
	}
	if _, err := s.tasks.Enqueue(ctx, t, opts...); err != nil {
		s.log.Warn("failed to enqueue claim task", zap.String("claim_id", c.ClaimID.String()), zap.Error(err))
	}
}
