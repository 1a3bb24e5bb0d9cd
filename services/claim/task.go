package claim

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"smallbiznis-rewardclaim/pkg/middleware"
	"smallbiznis-rewardclaim/pkg/taskname"
)

type ProcessedPayload struct {
	ClaimID       string `json:"claim_id"`
	UserID        string `json:"user_id"`
	EventID       string `json:"event_id"`
	Status        Status `json:"status"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func newProcessedTask(ctx context.Context, c *Claim) (*asynq.Task, error) {
	correlationID := middleware.RequestIDFromContext(ctx)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	b, err := json.Marshal(ProcessedPayload{
		ClaimID:       c.ClaimID.String(),
		UserID:        c.UserID,
		EventID:       c.EventID,
		Status:        c.Status,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskname.ClaimProcessed, b), nil
}

type TaskHandler struct {
	stats StatsRepository
}

type TaskHandlerParams struct {
	fx.In

	Stats StatsRepository
}

func NewTaskHandler(p TaskHandlerParams) *TaskHandler {
	return &TaskHandler{stats: p.Stats}
}

// ProcessTask refreshes the outcome count of the claim's event.
func (h *TaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload ProcessedPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %w: %w", err, asynq.SkipRetry)
	}
	if payload.EventID == "" || !payload.Status.Valid() {
		return fmt.Errorf("invalid payload for claim %s: %w", payload.ClaimID, asynq.SkipRetry)
	}

	zapLog := zap.L().With(
		zap.String("task_type", t.Type()),
		zap.String("claim_id", payload.ClaimID),
		zap.String("event_id", payload.EventID),
		zap.String("status", string(payload.Status)),
		zap.String("correlation_id", payload.CorrelationID),
	)

	stat, err := h.stats.Refresh(ctx, payload.EventID, payload.Status)
	if err != nil {
		zapLog.Error("failed to refresh claim stats", zap.Error(err))
		return err
	}

	zapLog.Debug("claim stats refreshed", zap.Int64("count", stat.Count))
	return nil
}

func registerTaskHandlers(mux *asynq.ServeMux, h *TaskHandler) {
	mux.Handle(taskname.ClaimProcessed, h)
}
