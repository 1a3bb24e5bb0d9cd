package claim

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"smallbiznis-rewardclaim/pkg/db/pagination"
)

type ListParams struct {
	UserID  string
	EventID string
	Status  Status
	Cursor  string
	Limit   int
}

// Ledger stores claim attempts. Writes are inserts only.
type Ledger interface {
	WithTrx(tx *gorm.DB) Ledger
	FindSuccessfulClaim(ctx context.Context, userID, eventID string) (*Claim, error)
	Save(ctx context.Context, c *Claim) (*Claim, error)
	SaveInSession(ctx context.Context, tx *gorm.DB, c *Claim) (*Claim, error)
	List(ctx context.Context, p ListParams) ([]*Claim, *pagination.PageInfo, error)
}

type gormLedger struct {
	db *gorm.DB
}

func NewLedger(db *gorm.DB) Ledger {
	return &gormLedger{db: db}
}

func (l *gormLedger) WithTrx(tx *gorm.DB) Ledger {
	if tx == nil {
		return l
	}
	return &gormLedger{db: tx}
}

// FindSuccessfulClaim returns nil, nil when the user has no SUCCESS claim for
// the event.
func (l *gormLedger) FindSuccessfulClaim(ctx context.Context, userID, eventID string) (*Claim, error) {
	var c Claim
	err := l.db.WithContext(ctx).
		Where("user_id = ? AND event_id = ? AND status = ?", userID, eventID, StatusSuccess).
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (l *gormLedger) Save(ctx context.Context, c *Claim) (*Claim, error) {
	return l.SaveInSession(ctx, l.db, c)
}

// SaveInSession inserts c on tx so it commits or rolls back with the rest of
// the caller's transaction.
func (l *gormLedger) SaveInSession(ctx context.Context, tx *gorm.DB, c *Claim) (*Claim, error) {
	if tx == nil {
		tx = l.db
	}
	if err := tx.WithContext(ctx).Create(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

// List returns claims newest first.
func (l *gormLedger) List(ctx context.Context, p ListParams) ([]*Claim, *pagination.PageInfo, error) {
	limit := pagination.NormalizeLimit(p.Limit)

	q := l.db.WithContext(ctx).Model(&Claim{})
	if p.UserID != "" {
		q = q.Where("user_id = ?", p.UserID)
	}
	if p.EventID != "" {
		q = q.Where("event_id = ?", p.EventID)
	}
	if p.Status != "" {
		q = q.Where("status = ?", p.Status)
	}
	if p.Cursor != "" {
		cur, err := pagination.DecodeCursor(p.Cursor)
		if err != nil {
			return nil, nil, err
		}
		id, err := snowflake.ParseString(cur.ID)
		if err != nil {
			return nil, nil, pagination.ErrInvalidCursor
		}
		q = q.Where("(created_at < ?) OR (created_at = ? AND claim_id < ?)", cur.CreatedAt, cur.CreatedAt, int64(id))
	}

	var claims []*Claim
	if err := q.Order("created_at DESC").Order("claim_id DESC").Limit(limit + 1).Find(&claims).Error; err != nil {
		zap.L().Error("failed to list claims", zap.Error(err))
		return nil, nil, err
	}

	return pagination.BuildCursorPageInfo(claims, limit, func(c *Claim) pagination.Cursor {
		return pagination.Cursor{CreatedAt: c.CreatedAt, ID: c.ClaimID.String()}
	})
}
