package kernelgrpc

import (
	"encoding/json"
	"errors"
	"testing"

	"google.golang.org/protobuf/types/known/structpb"

	"pkt.systems/eclkernel/schema"
)

func TestFrameRoundTripKeepsEnvelope(t *testing.T) {
	parent := schema.Header{MsgID: "req-1", MsgType: schema.MsgExecuteRequest}
	msg, err := newMessage("s1", "kernel", "5.3", schema.ChannelIOPub, schema.MsgStream, &parent, schema.StreamContent{Name: schema.StreamStdout, Text: "R1:  []\n"})
	if err != nil {
		t.Fatalf("newMessage: %v", err)
	}
	msg.Origin = "conn-1"
	frame, err := toFrame(msg)
	if err != nil {
		t.Fatalf("toFrame: %v", err)
	}
	if _, ok := frame.Fields["Origin"]; ok {
		t.Fatalf("origin must not be serialized")
	}
	got, err := fromFrame(frame)
	if err != nil {
		t.Fatalf("fromFrame: %v", err)
	}
	if got.Header != msg.Header || got.ParentID() != "req-1" || got.Channel != schema.ChannelIOPub {
		t.Fatalf("envelope mismatch: %+v", got)
	}
	var content schema.StreamContent
	if err := json.Unmarshal(got.Content, &content); err != nil {
		t.Fatalf("decode content: %v", err)
	}
	if content.Text != "R1:  []\n" || content.Name != schema.StreamStdout {
		t.Fatalf("unexpected content: %+v", content)
	}
}

func TestFromFrameRejectsMissingType(t *testing.T) {
	frame, err := structpb.NewStruct(map[string]any{"channel": "shell", "header": map[string]any{"msg_id": "x"}})
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	if _, err := fromFrame(frame); !errors.Is(err, schema.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if _, err := fromFrame(nil); !errors.Is(err, schema.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for nil frame, got %v", err)
	}
}

func TestListenAddressForms(t *testing.T) {
	if _, err := listen(""); err == nil {
		t.Fatalf("expected error for empty address")
	}
	ln, err := listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("tcp listen: %v", err)
	}
	defer ln.Close()
	if ln.Addr().Network() != "tcp" {
		t.Fatalf("expected tcp listener, got %s", ln.Addr().Network())
	}
}
