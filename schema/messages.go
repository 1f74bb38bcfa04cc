package schema

import (
	"encoding/json"
	"fmt"
)

// Header identifies one protocol message.
type Header struct {
	MsgID    string    `json:"msg_id"`
	MsgType  MsgType   `json:"msg_type"`
	Session  SessionID `json:"session"`
	Username string    `json:"username,omitempty"`
	Date     string    `json:"date,omitempty"`
	Version  string    `json:"version,omitempty"`
}

// Message is the transport-neutral envelope exchanged with clients.
type Message struct {
	Channel      Channel         `json:"channel"`
	Header       Header          `json:"header"`
	ParentHeader *Header         `json:"parent_header,omitempty"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
	Content      json.RawMessage `json:"content,omitempty"`
	// Origin names the connection that produced the message. It is never serialized.
	Origin string `json:"-"`
}

// Decode unmarshals the message content into v.
func (m Message) Decode(v any) error {
	if len(m.Content) == 0 {
		return fmt.Errorf("%w: %s has no content", ErrInvalidRequest, m.Header.MsgType)
	}
	if err := json.Unmarshal(m.Content, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidRequest, m.Header.MsgType, err)
	}
	return nil
}

// ParentID returns the parent message id, if any.
func (m Message) ParentID() string {
	if m.ParentHeader == nil {
		return ""
	}
	return m.ParentHeader.MsgID
}

// MimeBundle maps a mime type to its rendering.
type MimeBundle map[string]any

// PlainText returns the text/plain rendering when it is a string.
func (b MimeBundle) PlainText() (string, bool) {
	if b == nil {
		return "", false
	}
	text, ok := b["text/plain"].(string)
	return text, ok
}

// ExecuteRequest is the content of an execute_request.
type ExecuteRequest struct {
	Code            string            `json:"code"`
	Silent          bool              `json:"silent"`
	StoreHistory    bool              `json:"store_history"`
	UserExpressions map[string]string `json:"user_expressions,omitempty"`
	AllowStdin      bool              `json:"allow_stdin"`
	StopOnError     bool              `json:"stop_on_error"`
}

// StatusContent reports the kernel execution state.
type StatusContent struct {
	ExecutionState ExecutionState `json:"execution_state"`
}

// ExecuteInput echoes the code being executed.
type ExecuteInput struct {
	Code           string `json:"code"`
	ExecutionCount int    `json:"execution_count"`
}

// StreamContent carries text written to stdout or stderr.
type StreamContent struct {
	Name StreamName `json:"name"`
	Text string     `json:"text"`
}

// Transient holds display fields that are not persisted by clients.
type Transient struct {
	DisplayID string `json:"display_id,omitempty"`
}

// DisplayContent is the content of display_data and update_display_data.
type DisplayContent struct {
	Data      MimeBundle     `json:"data"`
	Metadata  map[string]any `json:"metadata"`
	Transient *Transient     `json:"transient,omitempty"`
}

// DisplayUpdate is one rich output produced during an execution.
type DisplayUpdate struct {
	Data      MimeBundle
	Metadata  map[string]any
	DisplayID string
}

// ExecuteResult is the primary rendering of an execution.
type ExecuteResult struct {
	ExecutionCount int            `json:"execution_count"`
	Data           MimeBundle     `json:"data"`
	Metadata       map[string]any `json:"metadata"`
}

// ExecuteReply is a successful execute_reply.
type ExecuteReply struct {
	Status          ReplyStatus    `json:"status"`
	ExecutionCount  int            `json:"execution_count"`
	Payload         []any          `json:"payload"`
	UserExpressions map[string]any `json:"user_expressions"`
}

// ErrorContent is the iopub error message and the error fields of replies.
type ErrorContent struct {
	ExecutionCount int      `json:"execution_count"`
	Ename          string   `json:"ename"`
	Evalue         string   `json:"evalue"`
	Traceback      []string `json:"traceback"`
}

// ErrorReply is a failed shell reply.
type ErrorReply struct {
	Status ReplyStatus `json:"status"`
	ErrorContent
}

// ReplyView decodes either reply shape.
type ReplyView struct {
	Status         ReplyStatus `json:"status"`
	ExecutionCount int         `json:"execution_count"`
	Ename          string      `json:"ename,omitempty"`
	Evalue         string      `json:"evalue,omitempty"`
	Traceback      []string    `json:"traceback,omitempty"`
}

// IsCompleteRequest asks whether code is ready to execute.
type IsCompleteRequest struct {
	Code string `json:"code"`
}

// IsCompleteReply answers an is_complete_request.
type IsCompleteReply struct {
	Status CompletionStatus `json:"status"`
	Indent string           `json:"indent"`
}

// InputRequest prompts the client for a line of input.
type InputRequest struct {
	Prompt   string `json:"prompt"`
	Password bool   `json:"password"`
}

// InputReply carries the client's answer to an input_request.
type InputReply struct {
	Value string `json:"value"`
}

// HistoryRequest asks for stored executions.
type HistoryRequest struct {
	Output         bool   `json:"output"`
	Raw            bool   `json:"raw"`
	HistAccessType string `json:"hist_access_type"`
	Session        int    `json:"session,omitempty"`
	Start          int    `json:"start,omitempty"`
	Stop           int    `json:"stop,omitempty"`
	N              int    `json:"n,omitempty"`
	Pattern        string `json:"pattern,omitempty"`
}

// HistoryEntry is one stored execution.
type HistoryEntry struct {
	Session int    `json:"session"`
	Line    int    `json:"line"`
	Input   string `json:"input"`
}

// HistoryReply lists stored executions as [session, line, input] triples.
type HistoryReply struct {
	Status  ReplyStatus `json:"status"`
	History [][]any     `json:"history"`
}

// InterruptReply acknowledges an interrupt_request.
type InterruptReply struct {
	Status ReplyStatus `json:"status"`
}

// ShutdownRequest asks the kernel to stop.
type ShutdownRequest struct {
	Restart bool `json:"restart"`
}

// ShutdownReply acknowledges a shutdown_request.
type ShutdownReply struct {
	Status  ReplyStatus `json:"status"`
	Restart bool        `json:"restart"`
}
