package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"pkt.systems/eclkernel/internal/format"
	"pkt.systems/eclkernel/internal/logx"
	"pkt.systems/eclkernel/internal/persist"
	"pkt.systems/eclkernel/schema"
	"pkt.systems/pslog"
)

// Session owns the execution counter, stdin correlation, and history of one kernel.
// Execute requests are serialized through a FIFO queue drained by Serve.
type Session struct {
	cfg       schema.KernelConfig
	workunits WorkunitClient
	checker   SyntaxChecker
	renderer  Renderer
	store     *persist.Store
	logger    pslog.Logger
	replies   *ReplyTable
	queue     chan executeJob

	mu        sync.Mutex
	count     int
	history   *historyBuffer
	cancelRun context.CancelFunc
}

type executeJob struct {
	ctx  context.Context
	req  schema.ExecuteRequest
	resp Responder
}

// NewSession constructs a session, restoring persisted history when configured.
func NewSession(cfg schema.KernelConfig, deps SessionDeps) (*Session, error) {
	normalized, err := schema.NormalizeKernelConfig(cfg)
	if err != nil {
		return nil, err
	}
	cfg = normalized
	if deps.Workunits == nil {
		return nil, schema.ErrWorkunitUnavailable
	}
	if deps.Checker == nil {
		deps.Checker = ECLChecker{}
	}
	if deps.Renderer == nil {
		deps.Renderer = format.NewPlainRenderer()
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	s := &Session{
		cfg:       cfg,
		workunits: deps.Workunits,
		checker:   deps.Checker,
		renderer:  deps.Renderer,
		logger:    logger,
		replies:   NewReplyTable(cfg.ReplyTTL),
		queue:     make(chan executeJob, cfg.QueueDepth),
		history:   newHistory(cfg.HistoryMax),
	}
	if cfg.StateDir != "" {
		store, err := persist.NewStoreWithLogger(cfg.StateDir, logger)
		if err != nil {
			return nil, err
		}
		s.store = store
		snapshot, ok, err := store.Load(cfg.SessionID)
		if err != nil {
			logger.Warn("kernel history restore failed", "session", cfg.SessionID, "err", err)
		} else if ok {
			s.count = snapshot.ExecutionCount
			s.history = newHistoryFromPersisted(cfg.HistoryMax, snapshot.History)
		}
	}
	return s, nil
}

// Config returns the normalized session config.
func (s *Session) Config() schema.KernelConfig {
	return s.cfg
}

// ID returns the session id.
func (s *Session) ID() schema.SessionID {
	return s.cfg.SessionID
}

// ExecutionCount returns the current execution counter.
func (s *Session) ExecutionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Replies exposes the stdin correlation table.
func (s *Session) Replies() *ReplyTable {
	return s.replies
}

// Enqueue schedules an execute request. The lifecycle outlives the caller's
// context cancellation; use Interrupt to stop it.
func (s *Session) Enqueue(ctx context.Context, req schema.ExecuteRequest, resp Responder) error {
	if ctx == nil {
		ctx = context.Background()
	}
	job := executeJob{ctx: context.WithoutCancel(ctx), req: req, resp: resp}
	select {
	case s.queue <- job:
		logx.WithSession(ctx, s.cfg.SessionID).Debug("kernel execute queued", "pending", len(s.queue))
		return nil
	default:
		logx.WithSession(ctx, s.cfg.SessionID).Warn("kernel execute rejected", "reason", "queue full", "depth", cap(s.queue))
		return schema.ErrKernelBusy
	}
}

// Serve drains the execute queue one lifecycle at a time until ctx is done.
func (s *Session) Serve(ctx context.Context) error {
	log := logx.WithSession(ctx, s.cfg.SessionID)
	log.Info("kernel session serve start", "queue_depth", cap(s.queue), "target", s.cfg.Target)
	go s.purgeLoop(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info("kernel session serve stop")
			return nil
		case job := <-s.queue:
			s.runJob(ctx, job)
		}
	}
}

func (s *Session) runJob(ctx context.Context, job executeJob) {
	runCtx, cancel := context.WithCancel(job.ctx)
	stop := context.AfterFunc(ctx, cancel)
	s.mu.Lock()
	s.cancelRun = cancel
	s.mu.Unlock()

	s.HandleExecute(runCtx, job.req, job.resp)

	s.mu.Lock()
	s.cancelRun = nil
	s.mu.Unlock()
	stop()
	cancel()
}

func (s *Session) purgeLoop(ctx context.Context) {
	interval := s.cfg.ReplyTTL / 2
	if interval > time.Minute {
		interval = time.Minute
	}
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.replies.Purge(now); n > 0 {
				logx.WithSession(ctx, s.cfg.SessionID).Debug("kernel reply table purge", "expired", n)
			}
		}
	}
}

// Interrupt cancels the in-flight execution, if any.
func (s *Session) Interrupt() bool {
	s.mu.Lock()
	cancel := s.cancelRun
	s.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	return true
}

// ResolveInput routes an input_reply to its prompt. An empty parent id uses
// the last active prompt; otherwise only an exact match is accepted.
func (s *Session) ResolveInput(parentID string, value string) bool {
	if parentID == "" {
		return s.replies.ResolveLastActive(value)
	}
	return s.replies.Resolve(parentID, value)
}

// HandleIsComplete answers whether code is ready to execute.
func (s *Session) HandleIsComplete(ctx context.Context, req schema.IsCompleteRequest, resp Responder) {
	s.status(ctx, resp, schema.StateBusy)
	reply := schema.IsCompleteReply{Status: schema.CompletionComplete}
	if err := s.checker.Check(req.Code); err != nil {
		logx.WithSession(ctx, s.cfg.SessionID).Trace("kernel is_complete incomplete", "err", err)
		reply = schema.IsCompleteReply{Status: schema.CompletionIncomplete, Indent: ""}
	}
	s.emit(ctx, resp, schema.ChannelShell, schema.MsgIsCompleteReply, reply)
	s.status(ctx, resp, schema.StateIdle)
}

// HandleKernelInfo replies with implementation and language metadata.
func (s *Session) HandleKernelInfo(ctx context.Context, resp Responder) {
	s.status(ctx, resp, schema.StateBusy)
	s.emit(ctx, resp, schema.ChannelShell, schema.MsgKernelInfoReply, kernelInfo(s.cfg))
	s.status(ctx, resp, schema.StateIdle)
}

// HandleHistory replies with stored executions.
func (s *Session) HandleHistory(ctx context.Context, req schema.HistoryRequest, resp Responder) {
	s.status(ctx, resp, schema.StateBusy)
	s.mu.Lock()
	entries := s.history.Query(req)
	s.mu.Unlock()
	s.emit(ctx, resp, schema.ChannelShell, schema.MsgHistoryReply, schema.HistoryReply{
		Status:  schema.ReplyOK,
		History: historyTriples(entries),
	})
	s.status(ctx, resp, schema.StateIdle)
}

// History returns a copy of the stored executions.
func (s *Session) History() []schema.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Entries()
}

// RunStartup runs the configured startup script silently. A directory runs
// each regular file in lexical order. Script failures are logged, not returned.
func (s *Session) RunStartup(ctx context.Context) error {
	script := strings.TrimSpace(s.cfg.StartupScript)
	if script == "" {
		return nil
	}
	if !filepath.IsAbs(script) {
		script = filepath.Join(s.cfg.Cwd, script)
	}
	files, err := startupFiles(script)
	if err != nil {
		return fmt.Errorf("startup script: %w", err)
	}
	log := logx.WithSession(ctx, s.cfg.SessionID)
	for _, file := range files {
		code, err := os.ReadFile(file)
		if err != nil {
			log.Warn("kernel startup script read failed", "path", file, "err", err)
			continue
		}
		if err := s.runSilent(ctx, string(code)); err != nil {
			log.Warn("kernel startup script failed", "path", file, "err", err)
			continue
		}
		log.Info("kernel startup script ok", "path", file)
	}
	return nil
}

func startupFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		files = append(files, filepath.Join(path, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func (s *Session) runSilent(ctx context.Context, code string) error {
	wu, err := s.workunits.Submit(ctx, SubmitRequest{Target: s.cfg.Target, ECL: code, JobName: s.cfg.JobName})
	if err != nil {
		return NewTransportError("submit", err)
	}
	log := logx.WithWorkunit(logx.WithSession(ctx, s.cfg.SessionID), wu.ID(), "")
	defer s.deleteWorkunit(ctx, wu, log)
	state, err := wu.WatchUntilComplete(ctx, nil)
	if err != nil {
		return NewTransportError("watch", err)
	}
	if state == schema.WorkunitCompleted {
		return nil
	}
	exceptions, err := wu.FetchExceptions(ctx)
	if err != nil {
		return NewTransportError("fetch exceptions", err)
	}
	return &RemoteExecutionError{ID: wu.ID(), State: state, Exceptions: exceptions}
}

// deleteWorkunit aborts a still-running workunit and deletes it, ignoring the
// caller's cancellation.
func (s *Session) deleteWorkunit(ctx context.Context, wu Workunit, log pslog.Logger) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CleanupTimeout)
	defer cancel()
	if state := wu.State(); !state.Terminal() {
		if err := wu.Abort(cleanupCtx); err != nil {
			log.Warn("kernel workunit abort failed", "err", err)
		} else {
			log.Info("kernel workunit aborted", "wu_state", state)
		}
	}
	if err := wu.Delete(cleanupCtx); err != nil {
		log.Warn("kernel workunit delete failed", "err", err)
		return
	}
	log.Debug("kernel workunit deleted")
}

func (s *Session) nextCount(req schema.ExecuteRequest) int {
	s.mu.Lock()
	s.count++
	count := s.count
	if req.StoreHistory {
		s.history.Append(count, req.Code)
	}
	snapshot := persist.SessionSnapshot{ExecutionCount: count, History: s.history.Entries()}
	s.mu.Unlock()
	if s.store != nil {
		if err := s.store.Save(s.cfg.SessionID, snapshot); err != nil {
			s.logger.Warn("kernel history save failed", "session", s.cfg.SessionID, "err", err)
		}
	}
	return count
}

func (s *Session) status(ctx context.Context, resp Responder, state schema.ExecutionState) {
	s.emit(ctx, resp, schema.ChannelIOPub, schema.MsgStatus, schema.StatusContent{ExecutionState: state})
}

// emit sends one message. Send failures are logged; they never abort a lifecycle.
func (s *Session) emit(ctx context.Context, resp Responder, channel schema.Channel, msgType schema.MsgType, content any) {
	if resp == nil {
		return
	}
	if _, err := resp.Respond(context.WithoutCancel(ctx), channel, msgType, content); err != nil {
		if errors.Is(err, context.Canceled) {
			logx.WithSession(ctx, s.cfg.SessionID).Debug("kernel respond dropped", "msg_type", msgType, "channel", channel)
			return
		}
		logx.WithSession(ctx, s.cfg.SessionID).Warn("kernel respond failed", "msg_type", msgType, "channel", channel, "err", err)
	}
}
