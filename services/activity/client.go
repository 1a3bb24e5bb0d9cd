package activity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"smallbiznis-rewardclaim/pkg/config"
)

const defaultTimeout = 3 * time.Second

var fetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "activity_fetch_total",
	Help: "Activity service fetches by outcome.",
}, []string{"outcome"})

// Client is the HTTP Gateway. Concurrent fetches for one user share a single
// upstream request.
type Client struct {
	baseURL string
	token   string
	timeout time.Duration
	http    *http.Client
	log     *zap.Logger
	group   singleflight.Group
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = l }
}

func NewClient(baseURL, token string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		timeout: timeout,
		http:    &http.Client{},
		log:     zap.L(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type Params struct {
	fx.In
	Config *config.Config
	Logger *zap.Logger `optional:"true"`
}

func NewGateway(p Params) Gateway {
	opts := []Option{}
	if p.Logger != nil {
		opts = append(opts, WithLogger(p.Logger.Named("activity")))
	}
	return NewClient(p.Config.Activity.BaseURL, p.Config.Activity.Token, p.Config.Activity.Timeout, opts...)
}

func (c *Client) FetchByUserID(ctx context.Context, userID string) (*Snapshot, error) {
	ch := c.group.DoChan(userID, func() (any, error) {
		// The flight outlives any single caller; each caller stops waiting on
		// its own context below.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.fetch(fctx, userID)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		kind := KindUnexpected
		if isTimeout(ctx.Err()) {
			kind = KindTimeout
		}
		return nil, &TransportError{Kind: kind, Err: ctx.Err()}
	}

	if res.Shared {
		c.log.Debug("activity fetch shared", zap.String("user_id", userID))
	}
	if res.Err != nil {
		return nil, res.Err
	}
	snap, _ := res.Val.(*Snapshot)
	if snap == nil {
		return nil, nil
	}
	out := *snap
	return &out, nil
}

func (c *Client) fetch(ctx context.Context, userID string) (*Snapshot, error) {
	endpoint := fmt.Sprintf("%s/users/%s/activity", c.baseURL, url.PathEscape(userID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		fetchTotal.WithLabelValues(string(KindUnexpected)).Inc()
		return nil, &TransportError{Kind: KindUnexpected, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		kind := KindUnexpected
		if isTimeout(err) {
			kind = KindTimeout
		}
		fetchTotal.WithLabelValues(string(kind)).Inc()
		c.log.Warn("activity fetch failed",
			zap.String("user_id", userID),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		return nil, &TransportError{Kind: kind, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		kind := KindUnexpected
		if isTimeout(err) {
			kind = KindTimeout
		}
		fetchTotal.WithLabelValues(string(kind)).Inc()
		return nil, &TransportError{Kind: kind, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		fetchTotal.WithLabelValues("not_found").Inc()
		return nil, nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		fetchTotal.WithLabelValues(string(KindStatus)).Inc()
		c.log.Warn("activity service returned non-success status",
			zap.String("user_id", userID),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", truncate(body, 512)),
		)
		return nil, &TransportError{Kind: KindStatus, StatusCode: resp.StatusCode}
	}

	var snap Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		fetchTotal.WithLabelValues(string(KindUnexpected)).Inc()
		return nil, &TransportError{Kind: KindUnexpected, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode activity: %w", err)}
	}
	if snap.UserID == "" {
		snap.UserID = userID
	}

	fetchTotal.WithLabelValues("ok").Inc()
	return &snap, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
