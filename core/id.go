package core

import (
	"github.com/google/uuid"

	"pkt.systems/eclkernel/schema"
)

// NewSessionID returns a random session identifier.
func NewSessionID() schema.SessionID {
	return schema.SessionID(uuid.NewString())
}

func progressDisplayID(id schema.WorkunitID) string {
	return "wu-" + string(id)
}
