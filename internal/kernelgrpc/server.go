package kernelgrpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"pkt.systems/eclkernel/core"
	"pkt.systems/eclkernel/internal/eventbus"
	"pkt.systems/eclkernel/internal/logx"
	"pkt.systems/eclkernel/schema"
	"pkt.systems/pslog"
)

const (
	kernelUsername = "kernel"
	outboxDepth    = 256
)

var errConnectionClosed = errors.New("connection closed")

// Server exposes one kernel session over the Connect stream.
type Server struct {
	cfg     Config
	session *core.Session
	bus     *eventbus.Bus
	sink    core.MessageSink
	logger  pslog.Logger

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// NewServer constructs a kernel gRPC server. sink observes every message
// in both directions and may be nil.
func NewServer(cfg Config, session *core.Session, bus *eventbus.Bus, sink core.MessageSink) *Server {
	if bus == nil {
		bus = eventbus.New(nil)
	}
	return &Server{cfg: cfg, session: session, bus: bus, sink: sink, shutdownCh: make(chan struct{})}
}

// ShutdownRequested is closed when a client sends shutdown_request.
func (s *Server) ShutdownRequested() <-chan struct{} {
	return s.shutdownCh
}

// ListenAndServe serves until ctx is done or a client requests shutdown.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.session == nil {
		return errors.New("kernel session is required")
	}
	if s.logger == nil {
		s.logger = pslog.Ctx(ctx)
	}
	listener, err := listen(s.cfg.Listen)
	if err != nil {
		return err
	}
	grpcServer := grpc.NewServer()
	grpcServer.RegisterService(&serviceDesc, s)
	s.logger.Info("kernel grpc listening", "listen", listener.Addr().String(), "session", s.session.ID())

	errCh := make(chan error, 1)
	go func() {
		errCh <- grpcServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
	case <-s.shutdownCh:
		s.logger.Info("kernel grpc shutdown requested")
	case err := <-errCh:
		return err
	}
	s.requestShutdown()
	grpcServer.GracefulStop()
	return nil
}

func listen(addr string) (net.Listener, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("kernel listen address is required")
	}
	network, address := "tcp", addr
	if path, ok := strings.CutPrefix(addr, "unix://"); ok {
		network, address = "unix", path
	} else if strings.HasPrefix(addr, "/") || strings.HasPrefix(addr, "./") {
		network = "unix"
	}
	if network == "unix" {
		if err := os.MkdirAll(filepath.Dir(address), 0o755); err != nil {
			return nil, err
		}
		_ = os.Remove(address)
	}
	listener, err := net.Listen(network, address)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return listener, nil
}

func (s *Server) requestShutdown() {
	s.shutdownOnce.Do(func() { close(s.shutdownCh) })
}

// Connect serves one client connection.
func (s *Server) Connect(stream grpc.ServerStream) error {
	ctx := pslog.ContextWithLogger(stream.Context(), s.log(stream.Context()))
	conn := &connection{
		id:     uuid.NewString(),
		server: s,
		stream: stream,
		outbox: make(chan schema.Message, outboxDepth),
		done:   make(chan struct{}),
	}
	log := logx.WithSession(ctx, s.session.ID()).With("conn", conn.id)
	ctx = logx.ContextWithSessionMsgLogger(ctx, log, s.session.ID(), "")
	log.Info("kernel grpc connect")

	broadcasts, unsubscribe := s.bus.Subscribe(s.session.ID())
	defer unsubscribe()

	writeErr := make(chan error, 1)
	go func() {
		writeErr <- conn.writeLoop(ctx, broadcasts)
	}()

	readErr := make(chan error, 1)
	go func() {
		readErr <- conn.readLoop(ctx)
	}()

	var err error
	writerDone := false
	select {
	case err = <-readErr:
	case err = <-writeErr:
		writerDone = true
	case <-s.shutdownCh:
	}
	close(conn.done)
	if !writerDone {
		if werr := <-writeErr; err == nil {
			err = werr
		}
	}
	if err != nil && !closedStream(err) {
		logGRPCError(log, "kernel grpc connection failed", err)
		return err
	}
	log.Info("kernel grpc disconnect")
	return nil
}

func closedStream(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) || status.Code(err) == codes.Canceled
}

type connection struct {
	id     string
	server *Server
	stream grpc.ServerStream
	outbox chan schema.Message
	done   chan struct{}
}

func (c *connection) readLoop(ctx context.Context) error {
	for {
		frame := &structpb.Struct{}
		if err := c.stream.RecvMsg(frame); err != nil {
			return err
		}
		msg, err := fromFrame(frame)
		if err != nil {
			pslog.Ctx(ctx).Warn("kernel grpc frame rejected", "err", err)
			continue
		}
		c.server.dispatch(ctx, c, msg)
	}
}

func (c *connection) writeLoop(ctx context.Context, broadcasts <-chan schema.Message) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			c.drain()
			return nil
		case msg := <-c.outbox:
			if err := c.send(msg); err != nil {
				return err
			}
		case msg, ok := <-broadcasts:
			if !ok {
				return nil
			}
			if msg.Origin == c.id {
				continue
			}
			if err := c.send(msg); err != nil {
				return err
			}
		}
	}
}

// drain flushes queued replies before the stream closes.
func (c *connection) drain() {
	for {
		select {
		case msg := <-c.outbox:
			_ = c.send(msg)
		default:
			return
		}
	}
}

func (c *connection) send(msg schema.Message) error {
	frame, err := toFrame(msg)
	if err != nil {
		return err
	}
	return c.stream.SendMsg(frame)
}

// responder answers one request on its originating connection. Iopub
// messages are also broadcast to every other client of the session.
type responder struct {
	conn   *connection
	parent schema.Header
}

func (r responder) Respond(ctx context.Context, channel schema.Channel, msgType schema.MsgType, content any) (schema.Header, error) {
	s := r.conn.server
	parent := r.parent
	msg, err := newMessage(s.session.ID(), kernelUsername, s.session.Config().ProtocolVersion, channel, msgType, &parent, content)
	if err != nil {
		return schema.Header{}, err
	}
	msg.Origin = r.conn.id
	s.observe(msg)
	select {
	case r.conn.outbox <- msg:
		return msg.Header, nil
	case <-r.conn.done:
		return msg.Header, errConnectionClosed
	case <-ctx.Done():
		return msg.Header, ctx.Err()
	}
}

func (s *Server) observe(msg schema.Message) {
	if s.sink != nil {
		s.sink.OnMessage(msg)
	}
	s.bus.OnMessage(msg)
}

func (s *Server) dispatch(ctx context.Context, conn *connection, msg schema.Message) {
	log := logx.WithSessionMsg(ctx, s.session.ID(), msg.Header.MsgID).With("msg_type", msg.Header.MsgType)
	ctx = logx.ContextWithSessionMsgLogger(ctx, log, s.session.ID(), msg.Header.MsgID)
	if s.sink != nil {
		inbound := msg
		inbound.Origin = conn.id
		s.sink.OnMessage(inbound)
	}
	resp := responder{conn: conn, parent: msg.Header}
	log.Trace("kernel grpc request", "channel", msg.Channel)

	switch msg.Header.MsgType {
	case schema.MsgExecuteRequest:
		var req schema.ExecuteRequest
		if err := msg.Decode(&req); err != nil {
			log.Warn("kernel grpc request rejected", "err", err)
			return
		}
		if err := s.session.Enqueue(ctx, req, resp); err != nil {
			s.rejectExecute(ctx, resp, err)
		}
	case schema.MsgIsCompleteRequest:
		var req schema.IsCompleteRequest
		if err := msg.Decode(&req); err != nil {
			log.Warn("kernel grpc request rejected", "err", err)
			return
		}
		s.session.HandleIsComplete(ctx, req, resp)
	case schema.MsgKernelInfoRequest:
		s.session.HandleKernelInfo(ctx, resp)
	case schema.MsgHistoryRequest:
		var req schema.HistoryRequest
		if len(msg.Content) > 0 {
			if err := msg.Decode(&req); err != nil {
				log.Warn("kernel grpc request rejected", "err", err)
				return
			}
		}
		s.session.HandleHistory(ctx, req, resp)
	case schema.MsgInputReply:
		var reply schema.InputReply
		if err := msg.Decode(&reply); err != nil {
			log.Warn("kernel grpc request rejected", "err", err)
			return
		}
		if !s.session.ResolveInput(msg.ParentID(), reply.Value) {
			log.Debug("kernel grpc input reply dropped", "parent_id", msg.ParentID())
		}
	case schema.MsgInterruptRequest:
		interrupted := s.session.Interrupt()
		log.Info("kernel grpc interrupt", "interrupted", interrupted)
		s.reply(ctx, resp, schema.ChannelControl, schema.MsgInterruptReply, schema.InterruptReply{Status: schema.ReplyOK})
	case schema.MsgShutdownRequest:
		var req schema.ShutdownRequest
		if len(msg.Content) > 0 {
			_ = msg.Decode(&req)
		}
		s.reply(ctx, resp, schema.ChannelControl, schema.MsgShutdownReply, schema.ShutdownReply{Status: schema.ReplyOK, Restart: req.Restart})
		log.Info("kernel grpc shutdown", "restart", req.Restart)
		s.requestShutdown()
	default:
		log.Warn("kernel grpc unknown message", "err", schema.ErrUnknownMessage)
	}
}

// rejectExecute answers an execute request that could not be queued.
func (s *Server) rejectExecute(ctx context.Context, resp responder, err error) {
	content := schema.ErrorContent{
		ExecutionCount: s.session.ExecutionCount(),
		Ename:          "KernelBusy",
		Evalue:         err.Error(),
		Traceback:      []string{err.Error()},
	}
	s.reply(ctx, resp, schema.ChannelIOPub, schema.MsgStatus, schema.StatusContent{ExecutionState: schema.StateBusy})
	s.reply(ctx, resp, schema.ChannelShell, schema.MsgExecuteReply, schema.ErrorReply{Status: schema.ReplyError, ErrorContent: content})
	s.reply(ctx, resp, schema.ChannelIOPub, schema.MsgStatus, schema.StatusContent{ExecutionState: schema.StateIdle})
}

func (s *Server) reply(ctx context.Context, resp responder, channel schema.Channel, msgType schema.MsgType, content any) {
	if _, err := resp.Respond(ctx, channel, msgType, content); err != nil {
		pslog.Ctx(ctx).Warn("kernel grpc reply failed", "msg_type", msgType, "err", err)
	}
}

func (s *Server) log(ctx context.Context) pslog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return pslog.Ctx(ctx)
}

func logGRPCError(log pslog.Logger, msg string, err error) {
	if log == nil || err == nil {
		return
	}
	if st, ok := status.FromError(err); ok {
		log.Warn(msg, "err", err, "code", st.Code().String(), "message", st.Message())
		return
	}
	log.Warn(msg, "err", err)
}
