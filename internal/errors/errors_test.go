package errors_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/Lllllllleong/bookintake/internal/errors"
)

func TestClassSentinels(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		remote   bool
	}{
		{"validation", errors.NewValidationError("files", "no files selected"), errors.ErrValidation, false},
		{"transport", errors.NewTransportError("start processing", 502, "bad gateway"), errors.ErrTransport, true},
		{"transport without response", errors.WrapTransportError("upload url", context.DeadlineExceeded), errors.ErrTransport, true},
		{"protocol", errors.NewProtocolError("start processing", "bookId"), errors.ErrProtocol, true},
		{"pipeline", &errors.PipelineError{TrackingID: "b1", Message: "ocr timeout"}, errors.ErrPipeline, true},
		{"subscription", &errors.SubscriptionError{TrackingID: "b1", Err: errors.New("stream reset")}, errors.ErrSubscription, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("submit: %w", tt.err)
			if !errors.Is(wrapped, tt.sentinel) {
				t.Fatalf("expected %v to match its sentinel", tt.err)
			}
			if got := errors.IsRemote(wrapped); got != tt.remote {
				t.Fatalf("IsRemote = %v, want %v", got, tt.remote)
			}
		})
	}
}

func TestPipelineErrorMessageIsVerbatim(t *testing.T) {
	err := &errors.PipelineError{TrackingID: "b1", Message: "ocr timeout"}
	if err.Error() != "ocr timeout" {
		t.Fatalf("Error() = %q", err.Error())
	}
}

func TestTransportErrorUnwrapsCause(t *testing.T) {
	err := errors.WrapTransportError("transfer", context.Canceled)
	if !errors.Is(err, context.Canceled) {
		t.Fatal("expected the cause to be reachable")
	}
	var te *errors.TransportError
	if !errors.As(fmt.Errorf("wrap: %w", err), &te) || te.StatusCode != 0 {
		t.Fatalf("expected TransportError without status, got %#v", te)
	}
}
