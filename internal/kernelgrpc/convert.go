package kernelgrpc

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"pkt.systems/eclkernel/schema"
)

func toFrame(msg schema.Message) (*structpb.Struct, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	frame := &structpb.Struct{}
	if err := protojson.Unmarshal(data, frame); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return frame, nil
}

func fromFrame(frame *structpb.Struct) (schema.Message, error) {
	if frame == nil {
		return schema.Message{}, fmt.Errorf("%w: empty frame", schema.ErrInvalidRequest)
	}
	data, err := protojson.Marshal(frame)
	if err != nil {
		return schema.Message{}, fmt.Errorf("decode frame: %w", err)
	}
	var msg schema.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return schema.Message{}, fmt.Errorf("%w: %v", schema.ErrInvalidRequest, err)
	}
	if msg.Header.MsgType == "" {
		return schema.Message{}, fmt.Errorf("%w: missing msg_type", schema.ErrInvalidRequest)
	}
	return msg, nil
}

// newMessage builds an outbound message with a fresh header.
func newMessage(session schema.SessionID, username, version string, channel schema.Channel, msgType schema.MsgType, parent *schema.Header, content any) (schema.Message, error) {
	raw, err := json.Marshal(content)
	if err != nil {
		return schema.Message{}, fmt.Errorf("encode %s content: %w", msgType, err)
	}
	return schema.Message{
		Channel: channel,
		Header: schema.Header{
			MsgID:    uuid.NewString(),
			MsgType:  msgType,
			Session:  session,
			Username: username,
			Date:     time.Now().UTC().Format(time.RFC3339Nano),
			Version:  version,
		},
		ParentHeader: parent,
		Metadata:     map[string]any{},
		Content:      raw,
	}, nil
}
