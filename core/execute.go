package core

import (
	"context"
	"errors"
	"time"

	"pkt.systems/eclkernel/internal/logx"
	"pkt.systems/eclkernel/schema"
	"pkt.systems/pslog"
)

// execution is the state of one execute lifecycle. It is created by beforeRun
// and discarded when the lifecycle ends.
type execution struct {
	s        *Session
	req      schema.ExecuteRequest
	resp     Responder
	count    int
	displays *displayTracker
	wu       Workunit
	log      pslog.Logger
	started  time.Time
}

// HandleExecute runs one execute request to completion. Every call emits
// busy, execute_input, any stream and display output, exactly one
// execute_reply, and idle, in that order, whatever the outcome.
func (s *Session) HandleExecute(ctx context.Context, req schema.ExecuteRequest, resp Responder) {
	ex := s.beforeRun(ctx, req, resp)
	defer ex.finish(ctx)
	if err := ex.run(ctx); err != nil {
		ex.fail(ctx, err)
	}
}

func (s *Session) beforeRun(ctx context.Context, req schema.ExecuteRequest, resp Responder) *execution {
	s.status(ctx, resp, schema.StateBusy)
	count := s.nextCount(req)
	ex := &execution{
		s:        s,
		req:      req,
		resp:     resp,
		count:    count,
		displays: newDisplayTracker(),
		log:      logx.WithSession(ctx, s.cfg.SessionID).With("execution_count", count),
		started:  time.Now(),
	}
	ex.emit(ctx, schema.ChannelIOPub, schema.MsgExecuteInput, schema.ExecuteInput{Code: req.Code, ExecutionCount: count})
	ex.log.Info("kernel execute start", "code_len", len(req.Code), "allow_stdin", req.AllowStdin)
	return ex
}

func (ex *execution) run(ctx context.Context) error {
	code, err := ex.resolveInputs(ctx)
	if err != nil {
		return err
	}
	s := ex.s
	wu, err := s.workunits.Submit(ctx, SubmitRequest{Target: s.cfg.Target, ECL: code, JobName: s.cfg.JobName})
	if err != nil {
		return NewTransportError("submit", err)
	}
	ex.wu = wu
	ex.log = logx.WithWorkunit(ex.log, wu.ID(), "")
	ex.log.Info("kernel execute submitted", "target", s.cfg.Target)

	state, err := wu.WatchUntilComplete(ctx, ex.progress(ctx))
	if err != nil {
		return NewTransportError("watch", err)
	}
	if state != schema.WorkunitCompleted {
		return ex.remoteFailure(ctx, state)
	}
	return ex.completed(ctx)
}

func (ex *execution) completed(ctx context.Context) error {
	results, err := ex.wu.FetchResults(ctx)
	if err != nil {
		return NewTransportError("fetch results", err)
	}
	for _, rs := range results {
		rows, err := rs.FetchRows(ctx)
		if err != nil {
			return NewTransportError("fetch rows", err)
		}
		text, err := ex.s.renderer.FormatResult(rs.Name(), rows)
		if err != nil {
			return err
		}
		ex.stream(ctx, schema.StreamStdout, text)
	}

	if inline, ok := ex.wu.(InlineRenderer); ok {
		primary, err := inline.InlineRendering(ctx)
		if err != nil {
			return NewTransportError("fetch rendering", err)
		}
		if len(primary) > 0 && ex.s.showResult(primary) {
			ex.emit(ctx, schema.ChannelIOPub, schema.MsgExecuteResult, schema.ExecuteResult{
				ExecutionCount: ex.count,
				Data:           primary,
				Metadata:       map[string]any{},
			})
		}
	}
	ex.emit(ctx, schema.ChannelShell, schema.MsgExecuteReply, schema.ExecuteReply{
		Status:          schema.ReplyOK,
		ExecutionCount:  ex.count,
		Payload:         []any{},
		UserExpressions: map[string]any{},
	})
	ex.log.Info("kernel execute completed", "results", len(results))
	return nil
}

func (ex *execution) remoteFailure(ctx context.Context, state schema.WorkunitState) error {
	exceptions, err := ex.wu.FetchExceptions(ctx)
	if err != nil {
		return NewTransportError("fetch exceptions", err)
	}
	text, err := ex.s.renderer.FormatExceptions(exceptions)
	if err != nil {
		ex.log.Warn("kernel exceptions format failed", "err", err)
	} else {
		ex.stream(ctx, schema.StreamStderr, text)
	}
	return &RemoteExecutionError{ID: ex.wu.ID(), State: state, Exceptions: exceptions}
}

// fail reports err as an iopub error followed by an error reply.
func (ex *execution) fail(ctx context.Context, err error) {
	var remote *RemoteExecutionError
	if !errors.As(err, &remote) {
		ex.stream(ctx, schema.StreamStderr, err.Error()+"\n")
	}
	content := errorContent(ex.count, err)
	ex.log.Warn("kernel execute failed", "ename", content.Ename, "err", err)
	ex.emit(ctx, schema.ChannelIOPub, schema.MsgError, content)
	ex.emit(ctx, schema.ChannelShell, schema.MsgExecuteReply, schema.ErrorReply{
		Status:       schema.ReplyError,
		ErrorContent: content,
	})
}

func (ex *execution) finish(ctx context.Context) {
	if ex.wu != nil {
		ex.s.deleteWorkunit(ctx, ex.wu, ex.log)
	}
	ex.s.status(ctx, ex.resp, schema.StateIdle)
	ex.log.Info("kernel execute done", "elapsed", time.Since(ex.started))
}

func (ex *execution) resolveInputs(ctx context.Context) (string, error) {
	bindings, err := parseInputBindings(ex.req.Code)
	if err != nil {
		return "", err
	}
	if len(bindings) == 0 {
		return ex.req.Code, nil
	}
	values := make([]string, 0, len(bindings))
	for _, binding := range bindings {
		value, err := ex.input(ctx, schema.InputRequest{Prompt: binding.Prompt, Password: binding.Password})
		if err != nil {
			return "", err
		}
		values = append(values, value)
	}
	return bindInputs(ex.req.Code, bindings, values), nil
}

type promptResult struct {
	value string
	err   error
}

// input sends a stdin prompt and blocks until it is answered, dropped, or ctx ends.
func (ex *execution) input(ctx context.Context, prompt schema.InputRequest) (string, error) {
	ch := make(chan promptResult, 1)
	id, err := ex.s.replies.SendPrompt(ctx, ex.resp, ex.req.AllowStdin, prompt, func(value string, err error) {
		ch <- promptResult{value: value, err: err}
	})
	if err != nil {
		return "", err
	}
	ex.log.Debug("kernel input request", "prompt_id", id, "password", prompt.Password)
	select {
	case res := <-ch:
		return res.value, res.err
	case <-ctx.Done():
		ex.s.replies.Cancel(id)
		return "", ctx.Err()
	}
}

func (ex *execution) progress(ctx context.Context) func(schema.WorkunitState) {
	wuid := ex.wu.ID()
	if !ex.s.cfg.ShowProgress || ex.s.cfg.HideExecutionResult {
		return func(state schema.WorkunitState) {
			ex.log.Debug("kernel workunit state", "wu_state", state)
		}
	}
	displayID := progressDisplayID(wuid)
	return func(state schema.WorkunitState) {
		ex.display(ctx, schema.DisplayUpdate{
			Data:      ex.s.renderer.FormatProgress(wuid, state),
			DisplayID: displayID,
		})
	}
}

// display emits display_data for a new display id and update_display_data
// for one already shown in this execution.
func (ex *execution) display(ctx context.Context, update schema.DisplayUpdate) {
	msgType := ex.displays.classify(update.DisplayID)
	ex.emit(ctx, schema.ChannelIOPub, msgType, displayContent(update))
}

func (ex *execution) stream(ctx context.Context, name schema.StreamName, text string) {
	ex.emit(ctx, schema.ChannelIOPub, schema.MsgStream, schema.StreamContent{Name: name, Text: text})
}

func (ex *execution) emit(ctx context.Context, channel schema.Channel, msgType schema.MsgType, content any) {
	ex.s.emit(ctx, ex.resp, channel, msgType, content)
}

func (s *Session) showResult(bundle schema.MimeBundle) bool {
	if s.cfg.HideExecutionResult || bundle == nil {
		return false
	}
	if s.cfg.HideUndefined {
		if text, ok := bundle.PlainText(); ok && text == "undefined" {
			return false
		}
	}
	return true
}
