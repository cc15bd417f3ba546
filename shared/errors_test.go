package shared

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenFetchError(t *testing.T) {
	httpErr := &TokenFetchError{StatusCode: 500, Body: "server error"}
	assert.Equal(t, "token fetch failed: HTTP 500: server error", httpErr.Error())
	assert.ErrorIs(t, httpErr, ErrTokenFetch)
	assert.Nil(t, errors.Unwrap(httpErr))

	netErr := &TokenFetchError{Cause: context.DeadlineExceeded}
	assert.ErrorIs(t, netErr, ErrTokenFetch)
	assert.ErrorIs(t, netErr, context.DeadlineExceeded)
	assert.Contains(t, netErr.Error(), "deadline exceeded")
}

func TestConnectionError(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := &ConnectionError{URL: "wss://x", Cause: cause}
	assert.ErrorIs(t, err, ErrConnectionFailed)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "wss://x")
}

func TestMicrophonePublishError(t *testing.T) {
	cause := errors.New("permission denied")
	err := &MicrophonePublishError{Stage: "capture", Cause: cause}
	assert.ErrorIs(t, err, ErrMicrophone)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "microphone capture: permission denied", err.Error())
}
