package core

import (
	"context"

	"pkt.systems/eclkernel/schema"
)

// Responder sends messages in reply to one inbound request.
// The returned header identifies the message that was sent.
type Responder interface {
	Respond(ctx context.Context, channel schema.Channel, msgType schema.MsgType, content any) (schema.Header, error)
}

// ResponderFunc adapts a function to Responder.
type ResponderFunc func(ctx context.Context, channel schema.Channel, msgType schema.MsgType, content any) (schema.Header, error)

// Respond calls f.
func (f ResponderFunc) Respond(ctx context.Context, channel schema.Channel, msgType schema.MsgType, content any) (schema.Header, error) {
	return f(ctx, channel, msgType, content)
}
