package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestNewAssessmentError_Wraps(t *testing.T) {
	err := NewAssessmentError(context.DeadlineExceeded)

	var ae *AssessmentError
	if !errors.As(err, &ae) {
		t.Fatalf("expected AssessmentError, got %T", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("expected cause to unwrap to DeadlineExceeded")
	}
}

func TestNewAssessmentError_NoDoubleWrap(t *testing.T) {
	inner := &AssessmentError{Err: ErrEmptyVerdict}
	err := NewAssessmentError(fmt.Errorf("stage 1: %w", inner))

	var ae *AssessmentError
	if !errors.As(err, &ae) {
		t.Fatal("expected AssessmentError")
	}
	if ae != inner {
		t.Fatal("expected the original AssessmentError to be kept")
	}
}

func TestNewAssessmentError_Nil(t *testing.T) {
	if NewAssessmentError(nil) != nil {
		t.Fatal("nil error should stay nil")
	}
}

func TestChunkTransmissionError_Message(t *testing.T) {
	err := &ChunkTransmissionError{Index: 1, Total: 3, Err: errors.New("Too Many Requests")}
	if got := err.Error(); got != "send chunk 2/3: Too Many Requests" {
		t.Fatalf("unexpected message: %q", got)
	}
}

func TestInboundRequest_HasIndicator(t *testing.T) {
	if (InboundRequest{}).HasIndicator() {
		t.Fatal("zero indicator ID must mean no indicator")
	}
	if !(InboundRequest{IndicatorID: 42}).HasIndicator() {
		t.Fatal("positive indicator ID must be reported")
	}
}
