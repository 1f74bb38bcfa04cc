package kernelgrpc

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"pkt.systems/eclkernel/core"
)

func TestWrapClientErrorUnavailable(t *testing.T) {
	wrapped := wrapClientError("execute_request", status.Error(codes.Unavailable, "down"))
	var transport *core.TransportError
	if !errors.As(wrapped, &transport) {
		t.Fatalf("expected TransportError, got %T", wrapped)
	}
	if transport.Op != "execute_request" {
		t.Fatalf("unexpected op %q", transport.Op)
	}
}

func TestWrapClientErrorCanceled(t *testing.T) {
	if err := wrapClientError("connect", status.Error(codes.Canceled, "bye")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := wrapClientError("connect", context.DeadlineExceeded); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if wrapClientError("connect", nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
}
