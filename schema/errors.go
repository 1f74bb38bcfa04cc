package schema

import "errors"

var (
	// ErrInvalidRequest indicates a malformed request payload.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrStdinNotSupported indicates the frontend did not allow stdin prompts.
	ErrStdinNotSupported = errors.New("frontend does not support stdin requests")
	// ErrPromptCanceled indicates a stdin prompt was dropped before it was answered.
	ErrPromptCanceled = errors.New("input request canceled")
	// ErrWorkunitUnavailable indicates no workunit client is configured.
	ErrWorkunitUnavailable = errors.New("workunit client not configured")
	// ErrKernelBusy indicates the execute queue is full.
	ErrKernelBusy = errors.New("kernel is busy")
	// ErrUnknownMessage indicates an unsupported message type.
	ErrUnknownMessage = errors.New("unknown message type")
)
