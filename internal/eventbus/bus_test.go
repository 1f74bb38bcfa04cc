package eventbus

import (
	"testing"
	"time"

	"pkt.systems/eclkernel/schema"
)

func iopub(session schema.SessionID, msgType schema.MsgType) schema.Message {
	return schema.Message{
		Channel: schema.ChannelIOPub,
		Header:  schema.Header{MsgID: "m1", MsgType: msgType, Session: session},
	}
}

func TestSubscribeAndPublish(t *testing.T) {
	bus := New(nil)
	ch, cancel := bus.Subscribe("s1")
	defer cancel()

	bus.OnMessage(iopub("s1", schema.MsgStatus))

	select {
	case got := <-ch:
		if got.Header.MsgType != schema.MsgStatus || got.Header.Session != "s1" {
			t.Fatalf("unexpected message: %+v", got.Header)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timed out waiting for message")
	}
}

func TestPublishIsScopedBySessionAndChannel(t *testing.T) {
	bus := New(nil)
	ch, cancel := bus.Subscribe("s1")
	defer cancel()

	bus.OnMessage(iopub("s2", schema.MsgStatus))
	shell := iopub("s1", schema.MsgExecuteReply)
	shell.Channel = schema.ChannelShell
	bus.OnMessage(shell)

	select {
	case got := <-ch:
		t.Fatalf("unexpected delivery: %+v", got.Header)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New(nil)
	ch, cancel := bus.Subscribe("s1")
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel to be closed")
	}
	if bus.Subscribers("s1") != 0 {
		t.Fatalf("expected no subscribers")
	}
	bus.OnMessage(iopub("s1", schema.MsgStatus))
}

func TestPublishDoesNotBlockWhenFull(t *testing.T) {
	bus := New(nil)
	bus.depth = 1
	_, cancel := bus.Subscribe("s1")
	defer cancel()

	bus.OnMessage(iopub("s1", schema.MsgStatus))
	done := make(chan struct{})
	go func() {
		bus.OnMessage(iopub("s1", schema.MsgStream))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("publish blocked on full channel")
	}
}
