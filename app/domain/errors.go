package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrRateLimited is returned by the chat transport when the platform answers 429.
	ErrRateLimited = errors.New("rate limited")

	ErrGeneration        = errors.New("reply generation failed")
	ErrGenerationTimeout = errors.New("generation timed out")
	ErrGenerationFailed  = errors.New("generation job failed")

	ErrDispatchExhausted       = errors.New("dispatch retries exhausted")
	ErrConsecutiveFailureLimit = errors.New("consecutive failure limit exceeded")
)

// PermanentTransportError is a non-retryable HTTP or network failure.
type PermanentTransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *PermanentTransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: unexpected status %d: %v", e.Op, e.StatusCode, e.Err)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PermanentTransportError) Unwrap() error {
	return e.Err
}

func IsPermanent(err error) bool {
	var permanent *PermanentTransportError
	return errors.As(err, &permanent)
}
