package core

import "pkt.systems/eclkernel/schema"

// MessageSink observes every message a transport sends to clients.
type MessageSink interface {
	OnMessage(msg schema.Message)
}
