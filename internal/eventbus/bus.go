package eventbus

import (
	"context"
	"sync"

	"pkt.systems/eclkernel/schema"
	"pkt.systems/pslog"
)

// Bus fans iopub messages out to per-session subscribers.
type Bus struct {
	mu    sync.Mutex
	subs  map[schema.SessionID]map[chan schema.Message]struct{}
	log   pslog.Logger
	depth int
}

// New constructs a Bus.
func New(logger pslog.Logger) *Bus {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Bus{
		subs:  make(map[schema.SessionID]map[chan schema.Message]struct{}),
		log:   logger,
		depth: 256,
	}
}

// Subscribe registers a subscriber for the session and returns a channel + cancel.
func (b *Bus) Subscribe(sessionID schema.SessionID) (<-chan schema.Message, func()) {
	if b == nil {
		return nil, func() {}
	}
	ch := make(chan schema.Message, b.depth)
	b.mu.Lock()
	sessionSubs := b.subs[sessionID]
	if sessionSubs == nil {
		sessionSubs = make(map[chan schema.Message]struct{})
		b.subs[sessionID] = sessionSubs
	}
	sessionSubs[ch] = struct{}{}
	count := len(sessionSubs)
	b.mu.Unlock()
	if b.log != nil {
		b.log.With("session", sessionID).Debug("eventbus subscribe", "subs", count)
	}
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if subs := b.subs[sessionID]; subs != nil {
				delete(subs, ch)
				if len(subs) == 0 {
					delete(b.subs, sessionID)
				}
			}
			b.mu.Unlock()
			close(ch)
			if b.log != nil {
				b.log.With("session", sessionID).Debug("eventbus unsubscribe")
			}
		})
	}
}

// Subscribers returns the number of subscribers for the session.
func (b *Bus) Subscribers(sessionID schema.SessionID) int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[sessionID])
}

// OnMessage publishes iopub messages. Other channels are point to point and ignored.
func (b *Bus) OnMessage(msg schema.Message) {
	if msg.Channel != schema.ChannelIOPub {
		return
	}
	b.publish(msg.Header.Session, msg)
}

func (b *Bus) publish(sessionID schema.SessionID, msg schema.Message) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	sessionSubs := b.subs[sessionID]
	if len(sessionSubs) == 0 {
		return
	}
	dropped := 0
	for sub := range sessionSubs {
		select {
		case sub <- msg:
		default:
			dropped++
		}
	}
	if dropped > 0 && b.log != nil {
		b.log.With("session", sessionID).Trace("eventbus dropped", "count", dropped, "msg_type", msg.Header.MsgType)
	}
}
