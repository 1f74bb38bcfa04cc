package workunit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pkt.systems/eclkernel/core"
	"pkt.systems/eclkernel/schema"
	"pkt.systems/pslog"
)

// Workunit is a submitted WsWorkunits job.
type Workunit struct {
	client *Client
	id     schema.WorkunitID

	mu    sync.Mutex
	state schema.WorkunitState
}

var _ core.Workunit = (*Workunit)(nil)

// ID returns the WUID.
func (w *Workunit) ID() schema.WorkunitID { return w.id }

// State returns the last observed state.
func (w *Workunit) State() schema.WorkunitState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Workunit) setState(state schema.WorkunitState) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == state {
		return false
	}
	w.state = state
	return true
}

// WatchUntilComplete polls WUInfo until the workunit reaches a terminal state.
func (w *Workunit) WatchUntilComplete(ctx context.Context, onState func(schema.WorkunitState)) (schema.WorkunitState, error) {
	log := pslog.Ctx(ctx).With("wuid", w.id)
	ticker := time.NewTicker(w.client.pollInterval)
	defer ticker.Stop()
	for {
		info, err := w.client.info(ctx, w.id, false, false)
		if err != nil {
			if ctx.Err() != nil {
				return w.State(), ctx.Err()
			}
			return w.State(), err
		}
		state := schema.NormalizeWorkunitState(info.State)
		if w.setState(state) {
			log.Debug("workunit state", "wu_state", state)
			if onState != nil {
				onState(state)
			}
		}
		if state.Terminal() {
			return state, nil
		}
		select {
		case <-ctx.Done():
			return w.State(), ctx.Err()
		case <-ticker.C:
		}
	}
}

// FetchResults lists the workunit's named outputs in sequence order.
func (w *Workunit) FetchResults(ctx context.Context) ([]core.ResultSet, error) {
	info, err := w.client.info(ctx, w.id, true, false)
	if err != nil {
		return nil, err
	}
	out := make([]core.ResultSet, 0, len(info.Results.ECLResult))
	for _, r := range info.Results.ECLResult {
		out = append(out, &resultSet{wu: w, name: r.Name, sequence: r.Sequence, total: r.Total})
	}
	return out, nil
}

// FetchExceptions returns the workunit's compiler and runtime diagnostics.
func (w *Workunit) FetchExceptions(ctx context.Context) ([]schema.ECLException, error) {
	info, err := w.client.info(ctx, w.id, false, true)
	if err != nil {
		return nil, err
	}
	return info.Exceptions.ECLException, nil
}

// Abort asks the service to stop the workunit.
func (w *Workunit) Abort(ctx context.Context) error {
	if err := w.client.call(ctx, "WUAbort", wuidsRequest{Wuids: wuidList{Item: []string{string(w.id)}}}, nil); err != nil {
		return err
	}
	w.setState(schema.WorkunitAborting)
	return nil
}

// Delete removes the workunit from the service.
func (w *Workunit) Delete(ctx context.Context) error {
	return w.client.call(ctx, "WUDelete", wuidsRequest{Wuids: wuidList{Item: []string{string(w.id)}}}, nil)
}

type resultSet struct {
	wu       *Workunit
	name     string
	sequence int
	total    int
}

func (r *resultSet) Name() string { return r.name }

// FetchRows pages through WUResult until every row has been read.
func (r *resultSet) FetchRows(ctx context.Context) ([]any, error) {
	rows := []any{}
	start := 0
	for {
		resp, err := r.wu.client.result(ctx, r.wu.id, r.sequence, start, pageSize)
		if err != nil {
			return nil, err
		}
		page, err := resp.rows(r.name)
		if err != nil {
			return nil, fmt.Errorf("decode result %s: %w", r.name, err)
		}
		rows = append(rows, page...)
		start += len(page)
		total := resp.Total
		if total == 0 {
			total = r.total
		}
		if len(page) == 0 || start >= total {
			return rows, nil
		}
	}
}
