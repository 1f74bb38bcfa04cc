package eclkernel

import (
	"pkt.systems/eclkernel/core"
	"pkt.systems/eclkernel/schema"
)

type messageFanout struct {
	sinks []core.MessageSink
}

func (f messageFanout) OnMessage(msg schema.Message) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnMessage(msg)
	}
}

// fanoutSinks collapses the non-nil sinks into one, or nil when there are none.
func fanoutSinks(sinks ...core.MessageSink) core.MessageSink {
	out := make([]core.MessageSink, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			out = append(out, sink)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	default:
		return messageFanout{sinks: out}
	}
}
