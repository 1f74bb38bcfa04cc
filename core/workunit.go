package core

import (
	"context"

	"pkt.systems/eclkernel/schema"
)

// SubmitRequest describes a workunit to create and submit.
type SubmitRequest struct {
	Target  string
	ECL     string
	JobName string
}

// WorkunitClient submits ECL to the remote workunit service.
type WorkunitClient interface {
	Submit(ctx context.Context, req SubmitRequest) (Workunit, error)
}

// Workunit is a submitted unit of remote work.
type Workunit interface {
	ID() schema.WorkunitID
	State() schema.WorkunitState
	// WatchUntilComplete blocks until the workunit reaches a terminal state.
	// onState is called for every observed state change and may be nil.
	WatchUntilComplete(ctx context.Context, onState func(schema.WorkunitState)) (schema.WorkunitState, error)
	FetchResults(ctx context.Context) ([]ResultSet, error)
	FetchExceptions(ctx context.Context) ([]schema.ECLException, error)
	Abort(ctx context.Context) error
	Delete(ctx context.Context) error
}

// ResultSet is one named output of a completed workunit.
type ResultSet interface {
	Name() string
	FetchRows(ctx context.Context) ([]any, error)
}

// InlineRenderer is implemented by workunits that produce a primary rendering
// of their output. A nil bundle means the job produced none.
type InlineRenderer interface {
	InlineRendering(ctx context.Context) (schema.MimeBundle, error)
}
