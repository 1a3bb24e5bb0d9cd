package errutil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

type codedErr struct{}

func (codedErr) Error() string         { return "sold out" }
func (codedErr) Status() CoreStatus    { return StatusConflict }
func (codedErr) PublicMessage() string { return "no rewards left" }

func TestFromErrorKeepsBaseError(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("wrap: %w", NotFound("event not found", cause))

	be := FromError(err)
	require.Equal(t, StatusNotFound, be.Code)
	require.Equal(t, "event not found", be.Message)
	require.ErrorIs(t, be, cause)
	require.Equal(t, http.StatusNotFound, be.Code.HTTPStatus())
}

func TestFromErrorUsesStatusCoder(t *testing.T) {
	be := FromError(fmt.Errorf("claim: %w", codedErr{}))
	require.Equal(t, StatusConflict, be.Code)
	require.Equal(t, "no rewards left", be.Message)
}

func TestFromErrorContext(t *testing.T) {
	require.Equal(t, StatusTimeout, FromError(context.DeadlineExceeded).Code)
	require.Equal(t, StatusClientClosedRequest, FromError(context.Canceled).Code)
}

func TestFromErrorHidesUnknown(t *testing.T) {
	be := FromError(errors.New("pq: connection refused"))
	require.Equal(t, StatusInternal, be.Code)
	require.Equal(t, "internal server error", be.Message)
	require.Equal(t, http.StatusInternalServerError, be.Code.HTTPStatus())
}

type upstreamErr struct {
	code  CoreStatus
	cause error
}

func (e upstreamErr) Error() string      { return "upstream: " + e.cause.Error() }
func (e upstreamErr) Status() CoreStatus { return e.code }
func (e upstreamErr) Unwrap() error      { return e.cause }

func TestFromErrorCoderWrappingContext(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		code  CoreStatus
		httpc int
	}{
		{"gateway timeout over deadline", upstreamErr{StatusGatewayTimeout, context.DeadlineExceeded}, StatusGatewayTimeout, http.StatusGatewayTimeout},
		{"internal over canceled", upstreamErr{StatusInternal, context.Canceled}, StatusInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			be := FromError(fmt.Errorf("claim: %w", tt.err))
			require.Equal(t, tt.code, be.Code)
			require.Equal(t, tt.httpc, be.Code.HTTPStatus())
			require.ErrorIs(t, be, tt.err.(upstreamErr).cause)
		})
	}
}
