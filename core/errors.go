package core

import (
	"context"
	"errors"
	"fmt"

	"pkt.systems/eclkernel/internal/format"
	"pkt.systems/eclkernel/schema"
)

const (
	enameRemote        = "ECLException"
	enameTransport     = "TransportError"
	enameStdin         = "StdinNotSupported"
	enameInterrupted   = "KeyboardInterrupt"
	enameInvalid       = "InvalidRequest"
	enameInputCanceled = "InputCanceled"
)

// RemoteExecutionError reports a workunit that finished in a failed state.
type RemoteExecutionError struct {
	ID         schema.WorkunitID
	State      schema.WorkunitState
	Exceptions []schema.ECLException
}

func (e *RemoteExecutionError) Error() string {
	if e == nil {
		return "remote execution error"
	}
	if len(e.Exceptions) > 0 && e.Exceptions[0].Message != "" {
		return e.Exceptions[0].Message
	}
	if e.ID != "" {
		return fmt.Sprintf("workunit %s %s", e.ID, e.State)
	}
	return fmt.Sprintf("workunit %s", e.State)
}

// TransportError wraps failures talking to the workunit service.
type TransportError struct {
	Op  string
	Err error
}

// NewTransportError wraps err unless it is already classified.
func NewTransportError(op string, err error) error {
	if err == nil {
		return nil
	}
	var transport *TransportError
	if errors.As(err, &transport) {
		return err
	}
	var remote *RemoteExecutionError
	if errors.As(err, &remote) {
		return err
	}
	if errors.Is(err, schema.ErrStdinNotSupported) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}

func (e *TransportError) Error() string {
	if e == nil {
		return "transport error"
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("workunit %s failed", e.Op)
	}
	return "transport error"
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func isInterrupted(err error) bool {
	return errors.Is(err, context.Canceled)
}

// errorContent maps a lifecycle failure to the shared error shape.
func errorContent(count int, err error) schema.ErrorContent {
	content := schema.ErrorContent{ExecutionCount: count}
	var remote *RemoteExecutionError
	switch {
	case errors.As(err, &remote):
		content.Ename = enameRemote
		content.Evalue = remote.Error()
		content.Traceback = format.Traceback(remote.Exceptions)
		if len(content.Traceback) == 0 {
			content.Traceback = []string{content.Evalue}
		}
	case errors.Is(err, schema.ErrStdinNotSupported):
		content.Ename = enameStdin
		content.Evalue = err.Error()
		content.Traceback = []string{err.Error()}
	case errors.Is(err, schema.ErrInvalidRequest):
		content.Ename = enameInvalid
		content.Evalue = err.Error()
		content.Traceback = []string{err.Error()}
	case errors.Is(err, schema.ErrPromptCanceled):
		content.Ename = enameInputCanceled
		content.Evalue = err.Error()
		content.Traceback = []string{err.Error()}
	case isInterrupted(err):
		content.Ename = enameInterrupted
		content.Evalue = "execution interrupted"
		content.Traceback = []string{err.Error()}
	default:
		content.Ename = enameTransport
		content.Evalue = err.Error()
		content.Traceback = []string{err.Error()}
	}
	return content
}
