package claim

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"smallbiznis-rewardclaim/pkg/db/pagination"
	"smallbiznis-rewardclaim/pkg/errutil"
	"smallbiznis-rewardclaim/pkg/middleware"
)

// UserIDHeader carries the authenticated user id set by the upstream gateway.
const UserIDHeader = "X-User-ID"

type Handler struct {
	service *Service
	ledger  Ledger
	stats   StatsRepository
}

type HandlerParams struct {
	fx.In

	Service *Service
	Ledger  Ledger
	Stats   StatsRepository
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{service: p.Service, ledger: p.Ledger, stats: p.Stats}
}

func (h *Handler) Register(r gin.IRouter) {
	v1 := r.Group("/v1")
	v1.POST("/events/:event_id/claims", h.Claim)
	v1.GET("/events/:event_id/claim-stats", h.Stats)
	v1.GET("/claims", h.List)
}

func authenticatedUser(c *gin.Context) (string, bool) {
	userID := c.GetHeader(UserIDHeader)
	if userID == "" {
		_ = c.Error(errutil.Unauthorized("missing authenticated user", nil))
		return "", false
	}
	return userID, true
}

func (h *Handler) Claim(c *gin.Context) {
	userID, ok := authenticatedUser(c)
	if !ok {
		return
	}

	claim, err := h.service.ClaimReward(c.Request.Context(), userID, c.Param("event_id"))
	if err != nil {
		var ce *Error
		if errors.As(err, &ce) && ce.Claim != nil {
			c.Set(middleware.ErrorExtrasKey, gin.H{"claim": ce.Claim.ToResponse()})
		}
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, claim.ToResponse())
}

// List returns the authenticated user's claims, newest first.
func (h *Handler) List(c *gin.Context) {
	userID, ok := authenticatedUser(c)
	if !ok {
		return
	}

	params := ListParams{
		UserID:  userID,
		EventID: c.Query("event_id"),
		Status:  Status(c.Query("status")),
		Cursor:  c.Query("cursor"),
	}
	if params.Status != "" && !params.Status.Valid() {
		_ = c.Error(errutil.BadRequest("invalid status", nil, errutil.WithDetails(errutil.Detail{Field: "status", Message: "unknown claim status"})))
		return
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			_ = c.Error(errutil.BadRequest("invalid limit", err, errutil.WithDetails(errutil.Detail{Field: "limit", Message: "must be a non-negative integer"})))
			return
		}
		params.Limit = limit
	}

	claims, page, err := h.ledger.List(c.Request.Context(), params)
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidCursor) {
			_ = c.Error(errutil.BadRequest("invalid cursor", err))
			return
		}
		_ = c.Error(err)
		return
	}

	data := make([]Response, 0, len(claims))
	for _, cl := range claims {
		data = append(data, cl.ToResponse())
	}
	c.JSON(http.StatusOK, gin.H{"data": data, "pageInfo": page})
}

func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.stats.ListByEvent(c.Request.Context(), c.Param("event_id"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	data := make([]StatResponse, 0, len(stats))
	for _, st := range stats {
		data = append(data, st.ToResponse())
	}
	c.JSON(http.StatusOK, gin.H{"data": data})
}
