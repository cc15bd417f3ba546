package shared

import (
	"errors"
	"fmt"
)

var (
	ErrNoLogger              = errors.New("no logger provided")
	ErrNoConfig              = errors.New("no config provided")
	ErrNoPresenter           = errors.New("no presenter provided")
	ErrNoFetcher             = errors.New("no credentials fetcher provided")
	ErrNoConnector           = errors.New("no room connector provided")
	ErrNoAudioSource         = errors.New("no audio source provided")
	ErrNoRenderer            = errors.New("no audio renderer provided")
	ErrSessionAlreadyRunning = errors.New("session already running")
	ErrInvalidTransition     = errors.New("invalid state transition")
	ErrAttemptCancelled      = errors.New("call attempt cancelled")

	ErrTokenFetch       = errors.New("token fetch failed")
	ErrConnectionFailed = errors.New("connection failed")
	ErrMicrophone       = errors.New("microphone unavailable")
	ErrInvalidConfig    = errors.New("invalid configuration")
)

// TokenFetchError is returned when credentials could not be obtained from the
// token endpoint. Either StatusCode/Body are set (non-2xx answer) or Cause is.
type TokenFetchError struct {
	Endpoint   string
	StatusCode int
	Body       string
	Cause      error
}

func (e *TokenFetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("token fetch failed: HTTP %d: %s", e.StatusCode, e.Body)
	}
	if e.Cause != nil {
		return fmt.Sprintf("token fetch failed: %v", e.Cause)
	}
	return "token fetch failed"
}

func (e *TokenFetchError) Unwrap() error { return e.Cause }

func (e *TokenFetchError) Is(target error) bool { return target == ErrTokenFetch }

// ConnectionError wraps a failure of the room transport to connect.
type ConnectionError struct {
	URL   string
	Cause error
}

func (e *ConnectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("connecting to %q: %v", e.URL, e.Cause)
	}
	return fmt.Sprintf("connecting to %q failed", e.URL)
}

func (e *ConnectionError) Unwrap() error { return e.Cause }

func (e *ConnectionError) Is(target error) bool { return target == ErrConnectionFailed }

// MicrophonePublishError is reported when the microphone could not be captured
// or its track could not be published. The call keeps running receive-only.
type MicrophonePublishError struct {
	Stage string // "capture" or "publish"
	Cause error
}

func (e *MicrophonePublishError) Error() string {
	return fmt.Sprintf("microphone %s: %v", e.Stage, e.Cause)
}

func (e *MicrophonePublishError) Unwrap() error { return e.Cause }

func (e *MicrophonePublishError) Is(target error) bool { return target == ErrMicrophone }

// ConfigError names the configuration field that failed validation.
type ConfigError struct {
	Field   string
	Value   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("invalid config field %q (value: %q): %s", e.Field, e.Value, e.Message)
	}
	return fmt.Sprintf("invalid config field %q: %s", e.Field, e.Message)
}

func (e *ConfigError) Is(target error) bool { return target == ErrInvalidConfig }
