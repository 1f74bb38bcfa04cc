package core

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"pkt.systems/eclkernel/schema"
)

type sentMessage struct {
	Channel schema.Channel
	Type    schema.MsgType
	Content any
	ID      string
}

type recorder struct {
	mu     sync.Mutex
	msgs   []sentMessage
	seq    int
	onSend func(sentMessage)
}

func (r *recorder) Respond(_ context.Context, channel schema.Channel, msgType schema.MsgType, content any) (schema.Header, error) {
	r.mu.Lock()
	r.seq++
	msg := sentMessage{Channel: channel, Type: msgType, Content: content, ID: fmt.Sprintf("msg-%d", r.seq)}
	r.msgs = append(r.msgs, msg)
	hook := r.onSend
	r.mu.Unlock()
	if hook != nil {
		hook(msg)
	}
	return schema.Header{MsgID: msg.ID, MsgType: msgType}, nil
}

func (r *recorder) messages() []sentMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentMessage(nil), r.msgs...)
}

func (r *recorder) types() []string {
	var out []string
	for _, msg := range r.messages() {
		label := string(msg.Type)
		if msg.Type == schema.MsgStatus {
			label += ":" + string(msg.Content.(schema.StatusContent).ExecutionState)
		}
		if msg.Type == schema.MsgStream {
			label += ":" + string(msg.Content.(schema.StreamContent).Name)
		}
		out = append(out, label)
	}
	return out
}

func (r *recorder) find(msgType schema.MsgType) []sentMessage {
	var out []sentMessage
	for _, msg := range r.messages() {
		if msg.Type == msgType {
			out = append(out, msg)
		}
	}
	return out
}

type fakeClient struct {
	mu        sync.Mutex
	submitted []SubmitRequest
	submitErr error
	next      func() *fakeWorkunit
	created   []*fakeWorkunit
}

func (c *fakeClient) Submit(_ context.Context, req SubmitRequest) (Workunit, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitted = append(c.submitted, req)
	if c.submitErr != nil {
		return nil, c.submitErr
	}
	var wu *fakeWorkunit
	if c.next != nil {
		wu = c.next()
	} else {
		wu = &fakeWorkunit{states: []schema.WorkunitState{schema.WorkunitCompleted}}
	}
	if wu.id == "" {
		wu.id = schema.WorkunitID(fmt.Sprintf("W-%d", len(c.submitted)))
	}
	c.created = append(c.created, wu)
	return wu, nil
}

func (c *fakeClient) requests() []SubmitRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]SubmitRequest(nil), c.submitted...)
}

func (c *fakeClient) workunits() []*fakeWorkunit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*fakeWorkunit(nil), c.created...)
}

type fakeWorkunit struct {
	id         schema.WorkunitID
	states     []schema.WorkunitState
	watchErr   error
	block      bool
	watching   chan struct{}
	results    []ResultSet
	resultsErr error
	exceptions []schema.ECLException
	rendering  schema.MimeBundle

	mu      sync.Mutex
	state   schema.WorkunitState
	deleted int
	aborted int
}

func (w *fakeWorkunit) ID() schema.WorkunitID { return w.id }

func (w *fakeWorkunit) State() schema.WorkunitState {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == "" {
		return schema.WorkunitSubmitted
	}
	return w.state
}

func (w *fakeWorkunit) WatchUntilComplete(ctx context.Context, onState func(schema.WorkunitState)) (schema.WorkunitState, error) {
	if w.watching != nil {
		close(w.watching)
	}
	if w.block {
		<-ctx.Done()
		return w.State(), ctx.Err()
	}
	if w.watchErr != nil {
		return "", w.watchErr
	}
	for _, state := range w.states {
		w.mu.Lock()
		w.state = state
		w.mu.Unlock()
		if onState != nil {
			onState(state)
		}
	}
	return w.State(), nil
}

func (w *fakeWorkunit) FetchResults(context.Context) ([]ResultSet, error) {
	return w.results, w.resultsErr
}

func (w *fakeWorkunit) FetchExceptions(context.Context) ([]schema.ECLException, error) {
	return w.exceptions, nil
}

func (w *fakeWorkunit) InlineRendering(context.Context) (schema.MimeBundle, error) {
	return w.rendering, nil
}

func (w *fakeWorkunit) Abort(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.aborted++
	w.state = schema.WorkunitAborted
	return nil
}

func (w *fakeWorkunit) Delete(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.deleted++
	return nil
}

func (w *fakeWorkunit) counts() (deleted int, aborted int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.deleted, w.aborted
}

type fakeResultSet struct {
	name string
	rows []any
	err  error
}

func (r fakeResultSet) Name() string { return r.name }

func (r fakeResultSet) FetchRows(context.Context) ([]any, error) {
	return r.rows, r.err
}

func newTestSession(t *testing.T, client WorkunitClient, mutate func(*schema.KernelConfig)) *Session {
	t.Helper()
	cfg := schema.KernelConfig{SessionID: "test-session", Cwd: t.TempDir()}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := NewSession(cfg, SessionDeps{Workunits: client})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	return s
}

func waitFor(t *testing.T, timeout time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}
