package kernelgrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"pkt.systems/eclkernel/core"
	"pkt.systems/eclkernel/schema"
	"pkt.systems/pslog"
)

// ErrClosed reports use of a client whose stream has ended.
var ErrClosed = errors.New("kernel connection closed")

// Client is one connection to a kernel server.
type Client struct {
	conn     *grpc.ClientConn
	stream   grpc.ClientStream
	cancel   context.CancelFunc
	session  schema.SessionID
	username string
	version  string
	onOther  func(schema.Message)
	log      pslog.Logger

	sendMu sync.Mutex

	mu      sync.Mutex
	waiters map[string]*waiter
	done    chan struct{}
	err     error
}

// ClientOption configures Dial.
type ClientOption func(*Client)

// WithUsername sets the username sent in request headers.
func WithUsername(name string) ClientOption {
	return func(c *Client) {
		if name != "" {
			c.username = name
		}
	}
}

// WithProtocolVersion sets the version sent in request headers.
func WithProtocolVersion(version string) ClientOption {
	return func(c *Client) {
		if version != "" {
			c.version = version
		}
	}
}

// WithBroadcastHandler receives iopub messages that belong to other clients' requests.
func WithBroadcastHandler(fn func(schema.Message)) ClientOption {
	return func(c *Client) {
		c.onOther = fn
	}
}

// Dial connects to the kernel at addr: unix:///path, an absolute socket path, or host:port.
func Dial(ctx context.Context, addr string, opts ...ClientOption) (*Client, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("kernel address is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dialOpts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	target := "passthrough:///" + addr
	socket, isUnix := strings.CutPrefix(addr, "unix://")
	if !isUnix && strings.HasPrefix(addr, "/") {
		socket, isUnix = addr, true
	}
	if isUnix {
		target = "passthrough:///" + socket
		dialOpts = append(dialOpts, grpc.WithContextDialer(func(ctx context.Context, addr string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", addr)
		}))
	}
	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, err
	}
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stream, err := conn.NewStream(streamCtx, &serviceDesc.Streams[0], connectMethod)
	if err != nil {
		cancel()
		_ = conn.Close()
		return nil, wrapClientError("connect", err)
	}
	c := &Client{
		conn:     conn,
		stream:   stream,
		cancel:   cancel,
		session:  schema.SessionID(uuid.NewString()),
		username: "console",
		version:  schema.DefaultProtocolVersion,
		log:      pslog.Ctx(ctx),
		waiters:  make(map[string]*waiter),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.recvLoop()
	return c, nil
}

// Close ends the stream and the underlying connection.
func (c *Client) Close() error {
	c.sendMu.Lock()
	_ = c.stream.CloseSend()
	c.sendMu.Unlock()
	c.cancel()
	return c.conn.Close()
}

// Done is closed when the stream ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) recvLoop() {
	var err error
	for {
		frame := &structpb.Struct{}
		if err = c.stream.RecvMsg(frame); err != nil {
			break
		}
		msg, decodeErr := fromFrame(frame)
		if decodeErr != nil {
			c.log.Warn("kernel client frame rejected", "err", decodeErr)
			continue
		}
		c.route(msg)
	}
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	close(c.done)
	if !errors.Is(err, io.EOF) && status.Code(err) != codes.Canceled {
		logGRPCError(c.log, "kernel client stream ended", err)
	}
}

func (c *Client) route(msg schema.Message) {
	c.mu.Lock()
	w := c.waiters[msg.ParentID()]
	c.mu.Unlock()
	if w != nil {
		w.push(msg)
		return
	}
	if c.onOther != nil && msg.Channel == schema.ChannelIOPub {
		c.onOther(msg)
	}
}

func (c *Client) closedErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil && !errors.Is(c.err, io.EOF) {
		return fmt.Errorf("%w: %v", ErrClosed, c.err)
	}
	return ErrClosed
}

func (c *Client) send(msg schema.Message) error {
	frame, err := toFrame(msg)
	if err != nil {
		return err
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.stream.SendMsg(frame)
}

// request sends one message and feeds every message parented to it to handle
// until handle reports done.
func (c *Client) request(ctx context.Context, channel schema.Channel, msgType schema.MsgType, content any, handle func(schema.Message) (bool, error)) error {
	msg, err := newMessage(c.session, c.username, c.version, channel, msgType, nil, content)
	if err != nil {
		return err
	}
	w := newWaiter()
	id := msg.Header.MsgID
	c.mu.Lock()
	c.waiters[id] = w
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.waiters, id)
		c.mu.Unlock()
	}()

	log := c.log.With("msg_id", id, "msg_type", msgType)
	log.Trace("kernel client request")
	if err := c.send(msg); err != nil {
		select {
		case <-c.done:
			return c.closedErr()
		default:
		}
		logGRPCError(log, "kernel client send failed", err)
		return wrapClientError(string(msgType), err)
	}
	for {
		reply, err := w.next(ctx, c.done)
		if err != nil {
			if errors.Is(err, ErrClosed) {
				return c.closedErr()
			}
			return err
		}
		finished, err := handle(reply)
		if err != nil {
			return err
		}
		if finished {
			return nil
		}
	}
}

// ExecuteOptions controls one Execute call.
type ExecuteOptions struct {
	Silent       bool
	StoreHistory bool
	// Input answers stdin prompts. Prompts are disallowed when nil.
	Input func(ctx context.Context, prompt schema.InputRequest) (string, error)
	// OnMessage observes every message of the execution as it arrives.
	OnMessage func(schema.Message)
}

// ExecuteResult is everything a kernel sent for one execute_request.
type ExecuteResult struct {
	Messages []schema.Message
	Reply    schema.ReplyView
}

// Execute runs code and collects messages until the kernel reports idle.
func (c *Client) Execute(ctx context.Context, code string, opts ExecuteOptions) (ExecuteResult, error) {
	var result ExecuteResult
	req := schema.ExecuteRequest{
		Code:         code,
		Silent:       opts.Silent,
		StoreHistory: opts.StoreHistory,
		AllowStdin:   opts.Input != nil,
	}
	err := c.request(ctx, schema.ChannelShell, schema.MsgExecuteRequest, req, func(msg schema.Message) (bool, error) {
		result.Messages = append(result.Messages, msg)
		if opts.OnMessage != nil {
			opts.OnMessage(msg)
		}
		switch msg.Header.MsgType {
		case schema.MsgInputRequest:
			if opts.Input == nil {
				return false, schema.ErrStdinNotSupported
			}
			var prompt schema.InputRequest
			if err := msg.Decode(&prompt); err != nil {
				return false, err
			}
			value, err := opts.Input(ctx, prompt)
			if err != nil {
				return false, err
			}
			return false, c.answer(msg.Header, value)
		case schema.MsgExecuteReply:
			if err := msg.Decode(&result.Reply); err != nil {
				return false, err
			}
		}
		return isIdle(msg), nil
	})
	return result, err
}

// answer sends an input_reply parented to the prompt.
func (c *Client) answer(prompt schema.Header, value string) error {
	parent := prompt
	msg, err := newMessage(c.session, c.username, c.version, schema.ChannelStdin, schema.MsgInputReply, &parent, schema.InputReply{Value: value})
	if err != nil {
		return err
	}
	if err := c.send(msg); err != nil {
		return wrapClientError(string(schema.MsgInputReply), err)
	}
	return nil
}

// IsComplete asks whether code is ready to execute.
func (c *Client) IsComplete(ctx context.Context, code string) (schema.IsCompleteReply, error) {
	var reply schema.IsCompleteReply
	err := c.request(ctx, schema.ChannelShell, schema.MsgIsCompleteRequest, schema.IsCompleteRequest{Code: code}, decodeUntilIdle(schema.MsgIsCompleteReply, &reply))
	return reply, err
}

// KernelInfo fetches the kernel_info_reply content.
func (c *Client) KernelInfo(ctx context.Context) (map[string]any, error) {
	var reply map[string]any
	err := c.request(ctx, schema.ChannelShell, schema.MsgKernelInfoRequest, map[string]any{}, decodeUntilIdle(schema.MsgKernelInfoReply, &reply))
	return reply, err
}

// History fetches stored executions.
func (c *Client) History(ctx context.Context, req schema.HistoryRequest) (schema.HistoryReply, error) {
	var reply schema.HistoryReply
	err := c.request(ctx, schema.ChannelShell, schema.MsgHistoryRequest, req, decodeUntilIdle(schema.MsgHistoryReply, &reply))
	return reply, err
}

// Interrupt asks the kernel to cancel the running execution.
func (c *Client) Interrupt(ctx context.Context) error {
	var reply schema.InterruptReply
	return c.request(ctx, schema.ChannelControl, schema.MsgInterruptRequest, map[string]any{}, decodeReply(schema.MsgInterruptReply, &reply))
}

// Shutdown asks the kernel to stop.
func (c *Client) Shutdown(ctx context.Context, restart bool) (schema.ShutdownReply, error) {
	var reply schema.ShutdownReply
	err := c.request(ctx, schema.ChannelControl, schema.MsgShutdownRequest, schema.ShutdownRequest{Restart: restart}, decodeReply(schema.MsgShutdownReply, &reply))
	return reply, err
}

func decodeUntilIdle(replyType schema.MsgType, out any) func(schema.Message) (bool, error) {
	return func(msg schema.Message) (bool, error) {
		if msg.Header.MsgType == replyType {
			if err := msg.Decode(out); err != nil {
				return false, err
			}
		}
		return isIdle(msg), nil
	}
}

func decodeReply(replyType schema.MsgType, out any) func(schema.Message) (bool, error) {
	return func(msg schema.Message) (bool, error) {
		if msg.Header.MsgType != replyType {
			return false, nil
		}
		return true, msg.Decode(out)
	}
}

func isIdle(msg schema.Message) bool {
	if msg.Header.MsgType != schema.MsgStatus {
		return false
	}
	var state schema.StatusContent
	if err := json.Unmarshal(msg.Content, &state); err != nil {
		return false
	}
	return state.ExecutionState == schema.StateIdle
}

// waiter queues messages for one request without blocking the receive loop.
type waiter struct {
	mu     sync.Mutex
	queue  []schema.Message
	notify chan struct{}
}

func newWaiter() *waiter {
	return &waiter{notify: make(chan struct{}, 1)}
}

func (w *waiter) push(msg schema.Message) {
	w.mu.Lock()
	w.queue = append(w.queue, msg)
	w.mu.Unlock()
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

func (w *waiter) next(ctx context.Context, done <-chan struct{}) (schema.Message, error) {
	for {
		w.mu.Lock()
		if len(w.queue) > 0 {
			msg := w.queue[0]
			w.queue = w.queue[1:]
			w.mu.Unlock()
			return msg, nil
		}
		w.mu.Unlock()
		select {
		case <-w.notify:
		case <-ctx.Done():
			return schema.Message{}, ctx.Err()
		case <-done:
			w.mu.Lock()
			pending := len(w.queue) > 0
			w.mu.Unlock()
			if !pending {
				return schema.Message{}, ErrClosed
			}
		}
	}
}

func wrapClientError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Canceled:
			return fmt.Errorf("%s: %w", op, context.Canceled)
		case codes.DeadlineExceeded:
			return fmt.Errorf("%s: %w", op, context.DeadlineExceeded)
		}
	}
	return core.NewTransportError(op, err)
}
