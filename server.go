package eclkernel

import (
	"context"
	"errors"
	"sync"

	"pkt.systems/eclkernel/core"
	"pkt.systems/eclkernel/internal/eventbus"
	"pkt.systems/eclkernel/internal/kernelgrpc"
	"pkt.systems/eclkernel/internal/transcript"
	"pkt.systems/eclkernel/internal/workunit"
	"pkt.systems/eclkernel/schema"
	"pkt.systems/pslog"
)

// Server composes a kernel session with its transport.
type Server interface {
	Start(ctx context.Context) error
	Wait() error
	Stop(ctx context.Context) error
}

// ServerConfig configures the compositor.
type ServerConfig struct {
	Kernel    schema.KernelConfig
	Workunit  workunit.Options
	Transport kernelgrpc.Config
	// TranscriptPath enables an append-only JSON lines record of every message.
	TranscriptPath string
}

// ServerDeps captures dependencies required to build the server.
type ServerDeps struct {
	// Workunits overrides the WsWorkunits client built from ServerConfig.Workunit.
	Workunits core.WorkunitClient
	Sink      core.MessageSink
	Logger    pslog.Logger
}

// ServerOption toggles compositor components.
type ServerOption func(*serverOptions)

type serverOptions struct {
	skipStartup   bool
	disableListen bool
}

// WithoutStartup skips the configured startup script.
func WithoutStartup() ServerOption {
	return func(o *serverOptions) { o.skipStartup = true }
}

// WithoutListener runs the session without exposing the transport.
func WithoutListener() ServerOption {
	return func(o *serverOptions) { o.disableListen = true }
}

// New constructs a kernel server.
func New(cfg ServerConfig, deps ServerDeps, opts ...ServerOption) (Server, error) {
	options := serverOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if cfg.Kernel.SessionID == "" {
		cfg.Kernel.SessionID = core.NewSessionID()
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}

	workunits := deps.Workunits
	if workunits == nil {
		client, err := workunit.NewClient(cfg.Workunit)
		if err != nil {
			return nil, err
		}
		workunits = client
	}
	session, err := core.NewSession(cfg.Kernel, core.SessionDeps{Workunits: workunits, Logger: logger})
	if err != nil {
		return nil, err
	}

	var writer *transcript.Writer
	if cfg.TranscriptPath != "" {
		writer, err = transcript.Open(cfg.TranscriptPath, logger)
		if err != nil {
			return nil, err
		}
	}
	var transcriptSink core.MessageSink
	if writer != nil {
		transcriptSink = writer
	}
	bus := eventbus.New(logger)
	grpcSrv := kernelgrpc.NewServer(cfg.Transport, session, bus, fanoutSinks(deps.Sink, transcriptSink))

	return &compositeServer{
		cfg:        cfg,
		options:    options,
		session:    session,
		grpc:       grpcSrv,
		transcript: writer,
		logger:     logger,
	}, nil
}

type compositeServer struct {
	cfg        ServerConfig
	options    serverOptions
	session    *core.Session
	grpc       *kernelgrpc.Server
	transcript *transcript.Writer
	logger     pslog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	errCh   chan error
	started bool
	closed  bool
}

func (s *compositeServer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		pslog.Ctx(ctx).Warn("server start rejected", "reason", "already started")
		return errors.New("server already started")
	}
	s.ctx, s.cancel = context.WithCancel(pslog.ContextWithLogger(ctx, s.logger))
	s.errCh = make(chan error, 2)
	s.started = true
	s.mu.Unlock()

	log := s.logger
	log.Info(
		"server start",
		"session", s.session.ID(),
		"listen", s.cfg.Transport.Listen,
		"target", s.session.Config().Target,
		"transcript", s.cfg.TranscriptPath != "",
	)
	go func() {
		if err := s.session.Serve(s.ctx); err != nil {
			log.Error("kernel session failed", "err", err)
			s.errCh <- err
		}
	}()
	if !s.options.skipStartup {
		if err := s.session.RunStartup(s.ctx); err != nil {
			s.cancel()
			return err
		}
	}
	if !s.options.disableListen {
		go func() {
			if err := s.grpc.ListenAndServe(s.ctx); err != nil {
				log.Error("kernel grpc server failed", "err", err)
				s.errCh <- err
			}
		}()
		go func() {
			select {
			case <-s.grpc.ShutdownRequested():
				log.Info("server shutdown requested by client")
				s.cancel()
			case <-s.ctx.Done():
			}
		}()
	}
	return nil
}

// Session returns the kernel session.
func (s *compositeServer) Session() *core.Session {
	return s.session
}

func (s *compositeServer) Wait() error {
	s.mu.Lock()
	ctx := s.ctx
	errCh := s.errCh
	started := s.started
	s.mu.Unlock()
	if !started {
		return errors.New("server not started")
	}

	select {
	case <-ctx.Done():
		s.closeTranscript()
		return nil
	case err := <-errCh:
		if err != nil {
			pslog.Ctx(ctx).Error("server stopped", "err", err)
			_ = s.Stop(context.Background())
			return err
		}
		return nil
	}
}

func (s *compositeServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	started := s.started
	runCtx := s.ctx
	log := s.logger
	s.mu.Unlock()
	if !started {
		return nil
	}
	log.Info("server stop requested")
	if s.session.Interrupt() {
		log.Info("server interrupted running execution")
	}
	if cancel != nil {
		cancel()
	}
	s.closeTranscript()
	if ctx == nil {
		log.Info("server stop completed")
		return nil
	}
	select {
	case <-ctx.Done():
		log.Warn("server stop timed out", "err", ctx.Err())
		return ctx.Err()
	case <-runCtx.Done():
		log.Info("server stopped")
		return nil
	}
}

func (s *compositeServer) closeTranscript() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.transcript == nil {
		return
	}
	s.closed = true
	if err := s.transcript.Close(); err != nil {
		s.logger.Warn("transcript close failed", "err", err)
	}
}
