package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidRequest = errors.New("invalid request: source text is empty")
	ErrEmptyVerdict   = errors.New("assessment returned an empty verdict")
	ErrNothingToSend  = errors.New("nothing to send")
)

// AssessmentError reports that the assessment stage failed. It is fatal to the
// workflow invocation: no chunk is sent.
type AssessmentError struct {
	Err error
}

func (e *AssessmentError) Error() string {
	if e == nil || e.Err == nil {
		return "assessment failed"
	}
	return "assessment failed: " + e.Err.Error()
}

func (e *AssessmentError) Unwrap() error { return e.Err }

// NewAssessmentError wraps err unless it already is an AssessmentError.
func NewAssessmentError(err error) error {
	if err == nil {
		return nil
	}
	var ae *AssessmentError
	if errors.As(err, &ae) {
		return err
	}
	return &AssessmentError{Err: err}
}

// DeleteIndicatorError reports a failed processing indicator cleanup.
// It is logged and never aborts delivery.
type DeleteIndicatorError struct {
	MessageID int
	Err       error
}

func (e *DeleteIndicatorError) Error() string {
	return fmt.Sprintf("delete indicator %d: %v", e.MessageID, e.Err)
}

func (e *DeleteIndicatorError) Unwrap() error { return e.Err }

// ChunkTransmissionError reports the chunk at Index (0-based) that could not be
// sent. Chunks before it stay delivered.
type ChunkTransmissionError struct {
	Index int
	Total int
	Err   error
}

func (e *ChunkTransmissionError) Error() string {
	return fmt.Sprintf("send chunk %d/%d: %v", e.Index+1, e.Total, e.Err)
}

func (e *ChunkTransmissionError) Unwrap() error { return e.Err }

// RateLimitError is returned by a Messenger when the platform asked the caller
// to slow down. RetryAfter is the wait the platform requested, if any.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s: %v", e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("rate limited: %v", e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }
