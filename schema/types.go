package schema

// SessionID identifies a kernel session.
type SessionID string

// Channel names the logical socket a message travels on.
type Channel string

const (
	// ChannelShell carries requests and their replies.
	ChannelShell Channel = "shell"
	// ChannelIOPub broadcasts status, output, and display messages.
	ChannelIOPub Channel = "iopub"
	// ChannelStdin carries interactive input prompts and answers.
	ChannelStdin Channel = "stdin"
	// ChannelControl carries interrupt and shutdown requests.
	ChannelControl Channel = "control"
)

// MsgType identifies the message content shape.
type MsgType string

const (
	MsgExecuteRequest    MsgType = "execute_request"
	MsgExecuteInput      MsgType = "execute_input"
	MsgExecuteReply      MsgType = "execute_reply"
	MsgExecuteResult     MsgType = "execute_result"
	MsgStream            MsgType = "stream"
	MsgDisplayData       MsgType = "display_data"
	MsgUpdateDisplayData MsgType = "update_display_data"
	MsgError             MsgType = "error"
	MsgStatus            MsgType = "status"
	MsgIsCompleteRequest MsgType = "is_complete_request"
	MsgIsCompleteReply   MsgType = "is_complete_reply"
	MsgInputRequest      MsgType = "input_request"
	MsgInputReply        MsgType = "input_reply"
	MsgKernelInfoRequest MsgType = "kernel_info_request"
	MsgKernelInfoReply   MsgType = "kernel_info_reply"
	MsgHistoryRequest    MsgType = "history_request"
	MsgHistoryReply      MsgType = "history_reply"
	MsgInterruptRequest  MsgType = "interrupt_request"
	MsgInterruptReply    MsgType = "interrupt_reply"
	MsgShutdownRequest   MsgType = "shutdown_request"
	MsgShutdownReply     MsgType = "shutdown_reply"
)

// ExecutionState is the kernel activity reported on iopub.
type ExecutionState string

const (
	StateStarting ExecutionState = "starting"
	StateBusy     ExecutionState = "busy"
	StateIdle     ExecutionState = "idle"
)

// StreamName selects stdout or stderr.
type StreamName string

const (
	StreamStdout StreamName = "stdout"
	StreamStderr StreamName = "stderr"
)

// ReplyStatus is the status field of shell replies.
type ReplyStatus string

const (
	ReplyOK    ReplyStatus = "ok"
	ReplyError ReplyStatus = "error"
)

// CompletionStatus answers an is_complete_request.
type CompletionStatus string

const (
	CompletionComplete   CompletionStatus = "complete"
	CompletionIncomplete CompletionStatus = "incomplete"
)
