package logging

import (
	"errors"
	"testing"
)

func TestNewOperationErrorNilPassthrough(t *testing.T) {
	if err := NewOperationError("op", "s", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestOperationErrorUnwrapsAndFormats(t *testing.T) {
	base := errors.New("boom")
	err := NewOperationError("prediction.predict", "sess-1", base)

	if !errors.Is(err, base) {
		t.Fatal("expected errors.Is to match wrapped error")
	}
	if got, want := err.Error(), "prediction.predict (session_id=sess-1): boom"; got != want {
		t.Fatalf("unexpected message: %q", got)
	}

	bare := NewOperationError("prediction.health", "", base)
	if got, want := bare.Error(), "prediction.health: boom"; got != want {
		t.Fatalf("unexpected message: %q", got)
	}
}

func TestNewLoggerHonoursLevel(t *testing.T) {
	logger, err := NewLogger("debug")
	if err != nil {
		t.Fatalf("expected logger, got %v", err)
	}
	if !logger.Core().Enabled(-1) {
		t.Fatal("expected debug level to be enabled")
	}

	logger, err = NewLogger("")
	if err != nil {
		t.Fatalf("expected logger, got %v", err)
	}
	if logger.Core().Enabled(-1) {
		t.Fatal("expected default level to disable debug")
	}
}
